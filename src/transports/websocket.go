package transports

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------

// WebSocketTransport implements interfaces.ITransport using Gorilla WebSocket
type WebSocketTransport struct {
	name             string
	logger           *logger.Logger
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	readLimit        int64
}

// -----------------------------------------------------------------------------

// WebSocketConnection is one live Gorilla connection. Writes are serialized;
// gorilla allows a single concurrent writer only.
type WebSocketConnection struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// -----------------------------------------------------------------------------

// NewWebSocketTransport creates a new WebSocket transport from the stream config
func NewWebSocketTransport(config *models.MStreamConfig, logger *logger.Logger, name string) *WebSocketTransport {
	return &WebSocketTransport{
		name:             name,
		logger:           logger,
		handshakeTimeout: time.Duration(config.HandshakeTimeoutMs) * time.Millisecond,
		writeTimeout:     time.Duration(config.WriteTimeoutMs) * time.Millisecond,
		readLimit:        config.ReadLimitBytes,
	}
}

// -----------------------------------------------------------------------------

// Dial establishes a WebSocket connection
func (w *WebSocketTransport) Dial(ctx context.Context, endpoint string) (interfaces.IConnection, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: w.handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	if w.readLimit > 0 {
		conn.SetReadLimit(w.readLimit)
	}

	w.logger.Debug("%s : websocket handshake completed with %s", w.name, endpoint)
	return &WebSocketConnection{conn: conn, writeTimeout: w.writeTimeout}, nil
}

// -----------------------------------------------------------------------------

// GetType returns the transport type
func (w *WebSocketTransport) GetType() string {
	return "websocket"
}

// -----------------------------------------------------------------------------

// ReadMessage returns the next text or binary frame. Control frames are
// handled by gorilla and never surface here.
func (c *WebSocketConnection) ReadMessage() ([]byte, error) {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read message error: %w", err)
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return message, nil
		}
	}
}

// -----------------------------------------------------------------------------

// WriteMessage sends a text frame
func (c *WebSocketConnection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Close sends a close frame (best effort) and releases the socket. Safe to
// call more than once.
func (c *WebSocketConnection) Close() error {
	c.closeOnce.Do(func() {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if err := c.conn.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close connection: %w", err)
		}
	})
	return c.closeErr
}
