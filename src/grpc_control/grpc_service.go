package grpc_control

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"market-streamer/src/config"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// StreamServiceName is the health service that tracks the upstream connection
const StreamServiceName = "marketstream.Stream"

// -----------------------------------------------------------------------------
// GRPCService handles gRPC server lifecycle
// -----------------------------------------------------------------------------

// GRPCService exposes the standard gRPC health protocol. The overall service
// is SERVING while the process runs; StreamServiceName follows the stream
// connection state.
type GRPCService struct {
	Name     string
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	config   *config.Config
	logger   *logger.Logger
	stream   interfaces.IStreamClient
	interval time.Duration

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// -----------------------------------------------------------------------------

// NewGRPCService creates a new GRPCService instance and binds its listener
func NewGRPCService(config *config.Config, logger *logger.Logger, stream interfaces.IStreamClient) (*GRPCService, error) {
	address := fmt.Sprintf("%s:%d", config.GRPC.Host, config.GRPC.Port)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	serverOptions := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(1024 * 1024),
		grpc.MaxSendMsgSize(1024 * 1024),
	}
	server := grpc.NewServer(serverOptions...)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	return &GRPCService{
		Name:     "GRPCService",
		server:   server,
		health:   healthServer,
		listener: listener,
		config:   config,
		logger:   logger,
		stream:   stream,
		interval: config.RenderInterval(),
		stop:     make(chan struct{}),
	}, nil
}

// -----------------------------------------------------------------------------

// Start serves in the background and begins tracking the stream state
func (g *GRPCService) Start() error {
	if !g.running.CompareAndSwap(false, true) {
		return fmt.Errorf("gRPC service already started")
	}
	g.logger.Info("%s : starting on %s", g.Name, g.Addr())

	g.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	g.updateStreamHealth()

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		if err := g.server.Serve(g.listener); err != nil && err != grpc.ErrServerStopped {
			g.logger.Error("%s : serve failed: %v", g.Name, err)
		}
		g.running.Store(false)
	}()
	go func() {
		defer g.wg.Done()
		g.watchStream()
	}()

	return nil
}

// -----------------------------------------------------------------------------

// Stop gracefully stops the gRPC server, forcing it when ctx expires
func (g *GRPCService) Stop(ctx context.Context) error {
	g.once.Do(func() {
		g.logger.Info("%s : stopping", g.Name)
		close(g.stop)
		// Watchers see NOT_SERVING before the transport goes away
		g.health.Shutdown()

		done := make(chan struct{})
		go func() {
			g.server.GracefulStop()
			close(done)
		}()

		select {
		case <-ctx.Done():
			g.logger.Warning("%s : graceful shutdown timeout, forcing stop", g.Name)
			g.server.Stop()
		case <-done:
		}

		g.listener.Close()
		g.wg.Wait()
		g.running.Store(false)
		g.logger.Info("%s : stopped", g.Name)
	})
	return nil
}

// -----------------------------------------------------------------------------

// IsRunning returns whether the gRPC server is serving
func (g *GRPCService) IsRunning() bool {
	return g.running.Load()
}

// -----------------------------------------------------------------------------

// Addr returns the bound listener address
func (g *GRPCService) Addr() string {
	return g.listener.Addr().String()
}

// -----------------------------------------------------------------------------
// Stream health tracking
// -----------------------------------------------------------------------------

func (g *GRPCService) watchStream() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.updateStreamHealth()
		}
	}
}

// -----------------------------------------------------------------------------

func (g *GRPCService) updateStreamHealth() {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if g.stream.Status().Connected {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(StreamServiceName, status)
}
