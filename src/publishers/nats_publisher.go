package publishers

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/metrics"
	"market-streamer/src/models"

	"github.com/nats-io/nats.go"
)

// subjectReplacer maps characters that are not valid inside a NATS token
var subjectReplacer = strings.NewReplacer(" ", "_", ".", "_", "*", "_", ">", "_", "\t", "_")

// -----------------------------------------------------------------------------

// natsConn is the subset of *nats.Conn the publisher uses
type natsConn interface {
	PublishMsg(msg *nats.Msg) error
	Flush() error
	Close()
	IsClosed() bool
	ConnectedUrl() string
}

// -----------------------------------------------------------------------------
// NATSPublisher republishes every ingested update on NATS core
// -----------------------------------------------------------------------------

// NATSPublisher implements interfaces.IPublisher
type NATSPublisher struct {
	name    string
	config  *models.MNATSConfig
	logger  *logger.Logger
	metrics *metrics.StreamMetrics

	mu         sync.RWMutex
	nc         natsConn
	serializer interfaces.ISerializer // serialize message before sending

	connected atomic.Bool
}

// -----------------------------------------------------------------------------

// NewNATSPublisher creates a new NATS publisher instance
func NewNATSPublisher(config *models.MNATSConfig, logger *logger.Logger, serializer interfaces.ISerializer, m *metrics.StreamMetrics) *NATSPublisher {
	return &NATSPublisher{
		name:       config.ClientID,
		config:     config,
		logger:     logger,
		metrics:    m,
		serializer: serializer,
	}
}

// -----------------------------------------------------------------------------

// OnUpdate publishes one update on <prefix>.<security>. Failures are logged
// and counted, never returned: the bus is a side channel of the stream.
func (np *NATSPublisher) OnUpdate(update *models.MRawUpdate) {
	if update == nil {
		return
	}
	subject := np.Subject(update.Security)

	payload, err := np.serializer.Marshal(update)
	if err != nil {
		np.logger.Error("%s : failed to serialize update for %s: %v", np.name, subject, err)
		np.metrics.Published("error")
		return
	}

	if err := np.Publish(subject, payload); err != nil {
		np.logger.Error("%s : failed to publish update for %s on %s: %v", np.name, update.Security, subject, err)
		np.metrics.Published("error")
		return
	}
	np.metrics.Published("ok")
}

// -----------------------------------------------------------------------------

// Publish sends raw data to a NATS core subject with a Content-Type header
func (np *NATSPublisher) Publish(subject string, data []byte) error {
	np.mu.RLock()
	nc := np.nc
	np.mu.RUnlock()

	if nc == nil || !np.IsConnected() {
		return fmt.Errorf("nats client not connected")
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Content-Type", np.serializer.ContentType())

	// fire-and-forget delivery
	return nc.PublishMsg(msg)
}

// -----------------------------------------------------------------------------

// Connect establishes the connection to the first reachable configured server
func (np *NATSPublisher) Connect() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.nc != nil && !np.nc.IsClosed() {
		return nil
	}
	if len(np.config.Servers) == 0 {
		return fmt.Errorf("no nats servers configured")
	}

	opts := []nats.Option{
		nats.Name(np.config.ClientID),

		// Connection Event Handlers
		nats.ClosedHandler(func(nc *nats.Conn) {
			np.logger.Warning("%s : NATS connection closed", np.name)
			np.connected.Store(false)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			np.logger.Warning("%s : NATS disconnected, attempting reconnect: %v", np.name, err)
			np.connected.Store(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			np.logger.Info("%s : NATS successfully reconnected to %s", np.name, nc.ConnectedUrl())
			np.connected.Store(true)
		}),
	}
	if np.config.ConnectTimeoutMs > 0 {
		opts = append(opts, nats.Timeout(time.Duration(np.config.ConnectTimeoutMs)*time.Millisecond))
	}
	if np.config.ReconnectWaitMs > 0 {
		opts = append(opts, nats.ReconnectWait(time.Duration(np.config.ReconnectWaitMs)*time.Millisecond))
	}
	if np.config.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(np.config.MaxReconnects))
	}

	nc, err := nats.Connect(strings.Join(np.config.Servers, ","), opts...)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}

	np.nc = nc
	np.connected.Store(true)
	np.logger.Info("%s : connected to NATS at %s, publishing %s on %s.*",
		np.name, nc.ConnectedUrl(), np.serializer.ContentType(), np.config.SubjectPrefix)
	return nil
}

// -----------------------------------------------------------------------------

// Disconnect flushes pending messages and closes the NATS connection
func (np *NATSPublisher) Disconnect() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.nc == nil || np.nc.IsClosed() {
		return nil
	}

	if err := np.nc.Flush(); err != nil {
		np.logger.Warning("%s : flush before close failed: %v", np.name, err)
	}
	np.nc.Close()
	np.connected.Store(false)
	np.logger.Info("%s : NATS connection closed successfully", np.name)
	return nil
}

// -----------------------------------------------------------------------------

// IsConnected returns connection status
func (np *NATSPublisher) IsConnected() bool {
	return np.connected.Load()
}

// -----------------------------------------------------------------------------

// GetName returns client identifier
func (np *NATSPublisher) GetName() string {
	return np.name
}

// -----------------------------------------------------------------------------

// Subject returns the subject an update for security is published on
func (np *NATSPublisher) Subject(security string) string {
	token := subjectReplacer.Replace(strings.TrimSpace(security))
	if np.config.SubjectPrefix != "" {
		return fmt.Sprintf("%s.%s", np.config.SubjectPrefix, token)
	}
	return token
}
