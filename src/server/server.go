package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"market-streamer/src/config"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/metrics"
	"market-streamer/src/models"
	"market-streamer/src/presentation"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// HTTPServer
// -----------------------------------------------------------------------------

// HTTPServer exposes chart data, status and subscription control over REST
// and pushes chart frames to WebSocket clients on every render tick.
type HTTPServer struct {
	Config  *config.Config
	Logger  *logger.Logger
	stream  interfaces.IStreamClient
	metrics *metrics.StreamMetrics
	engine  *gin.Engine
	server  *http.Server

	// WebSocket clients, owned by the hub loop
	clients    map[*Client]struct{}
	broadcast  chan *MFrame
	register   chan *Client
	unregister chan *Client
	replies    chan clientReply

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// -----------------------------------------------------------------------------

// MFrame is one message pushed to WebSocket clients
type MFrame struct {
	Type      string                    `json:"type"` // INITIAL or UPDATE
	Timestamp int64                     `json:"timestamp"`
	Status    models.MStreamStatus      `json:"status"`
	Chart     presentation.MChart       `json:"chart"`
	Prices    []presentation.MPriceCard `json:"prices"`
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

// NewHTTPServer creates the server; m may be nil when metrics are disabled
func NewHTTPServer(cfg *config.Config, logger *logger.Logger, stream interfaces.IStreamClient, m *metrics.StreamMetrics) *HTTPServer {
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &HTTPServer{
		Config:     cfg,
		Logger:     logger,
		stream:     stream,
		metrics:    m,
		engine:     gin.New(),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *MFrame, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		replies:    make(chan clientReply, 16),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.cors())
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *HTTPServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/status", s.getStatus)
	api.GET("/chart", s.getChart)
	api.GET("/prices", s.getPrices)
	api.GET("/series/:key", s.getSeries)

	api.GET("/subscriptions", s.getSubscriptions)
	api.PUT("/subscriptions", s.putSubscriptions)
	api.POST("/subscriptions/:key", s.addSubscription)
	api.DELETE("/subscriptions/:key", s.removeSubscription)

	api.POST("/connection/reconnect", s.reconnect)
	api.POST("/connection/disconnect", s.disconnect)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Handler returns the HTTP handler, for embedding and tests
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------

// Run starts the hub and render loops without listening; Start calls it
func (s *HTTPServer) Run() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.handleWebsockets()
	}()
	go func() {
		defer s.wg.Done()
		s.renderLoop(s.Config.RenderInterval())
	}()
}

// -----------------------------------------------------------------------------

// Start listens on the configured address and blocks until Stop
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.HTTP.Host, s.Config.HTTP.Port)
	s.server = &http.Server{Addr: addr, Handler: s.engine}
	s.Run()

	s.Logger.Info("%s : http server listening on %s", s.Config.Name, addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop shuts the listener down, closes every WebSocket client and waits for
// the hub and render loops
func (s *HTTPServer) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.cancel()
	s.wg.Wait()
	s.Logger.Info("%s : http server stopped", s.Config.Name)
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *HTTPServer) getHealth(c *gin.Context) {
	status := s.stream.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"connected": status.Connected,
	})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.stream.Status())
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getChart(c *gin.Context) {
	c.JSON(http.StatusOK, presentation.BuildChart(s.stream.Subscriptions(), s.stream.Snapshot(), s.Config.Chart.Palette))
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getPrices(c *gin.Context) {
	c.JSON(http.StatusOK, presentation.BuildPriceCards(s.stream.Subscriptions(), s.stream.Snapshot()))
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getSeries(c *gin.Context) {
	key := c.Param("key")
	record, ok := s.stream.Series(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no data for '%s'", key)})
		return
	}
	c.JSON(http.StatusOK, record)
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"securities": s.stream.Subscriptions()})
}

// -----------------------------------------------------------------------------

type subscriptionsRequest struct {
	Securities []string `json:"securities"`
}

func (s *HTTPServer) putSubscriptions(c *gin.Context) {
	var req subscriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid body: %v", err)})
		return
	}
	for i, key := range req.Securities {
		req.Securities[i] = strings.TrimSpace(key)
	}
	s.respondSubscriptions(c, s.stream.SetSubscriptions(req.Securities))
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) addSubscription(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "security cannot be empty"})
		return
	}
	s.respondSubscriptions(c, s.stream.Subscribe(key))
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) removeSubscription(c *gin.Context) {
	s.respondSubscriptions(c, s.stream.Unsubscribe(c.Param("key")))
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) reconnect(c *gin.Context) {
	if err := s.stream.Reconnect(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, s.stream.Status())
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) disconnect(c *gin.Context) {
	if err := s.stream.Disconnect(); err != nil {
		s.Logger.Warning("%s : disconnect returned: %v", s.Config.Name, err)
	}
	c.JSON(http.StatusOK, s.stream.Status())
}

// -----------------------------------------------------------------------------
// Helper Methods
// -----------------------------------------------------------------------------

// respondSubscriptions reports the desired set. A failed send still leaves
// the desired set updated, so it is reported alongside the new set.
func (s *HTTPServer) respondSubscriptions(c *gin.Context, err error) {
	body := gin.H{"securities": s.stream.Subscriptions()}
	if err != nil {
		s.Logger.Warning("%s : subscription change not sent: %v", s.Config.Name, err)
		body["error"] = err.Error()
		c.JSON(http.StatusBadGateway, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------

// buildFrame renders the current stream state
func (s *HTTPServer) buildFrame(kind string) *MFrame {
	keys := s.stream.Subscriptions()
	snapshot := s.stream.Snapshot()
	return &MFrame{
		Type:      kind,
		Timestamp: time.Now().UnixMilli(),
		Status:    s.stream.Status(),
		Chart:     presentation.BuildChart(keys, snapshot, s.Config.Chart.Palette),
		Prices:    presentation.BuildPriceCards(keys, snapshot),
	}
}
