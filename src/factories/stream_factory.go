package factories

import (
	"fmt"

	"market-streamer/src/config"
	"market-streamer/src/connection"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/metrics"
	"market-streamer/src/protocols"
	"market-streamer/src/publishers"
	"market-streamer/src/serializers"
	"market-streamer/src/transports"
)

// -----------------------------------------------------------------------------

// StreamFactory creates the stream client collaborators from configuration
type StreamFactory struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

// NewStreamFactory creates a new StreamFactory instance
func NewStreamFactory(config *config.Config, logger *logger.Logger) *StreamFactory {
	return &StreamFactory{
		Name:   "StreamFactory",
		Config: config,
		Logger: logger,
	}
}

// -----------------------------------------------------------------------------

// CreateProtocol creates the wire codec by name using the protocol registry
func (sf *StreamFactory) CreateProtocol() (interfaces.IProtocol, error) {
	name := sf.Config.Stream.Protocol
	protocol, err := protocols.New(name, interfaces.ProtocolOptions{
		Location: sf.Config.TimestampLocation(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol %s: %w", name, err)
	}

	sf.Logger.Info("%s : created protocol %s", sf.Name, protocol.GetName())
	return protocol, nil
}

// -----------------------------------------------------------------------------

// CreateTransport creates the transport for the configured type
func (sf *StreamFactory) CreateTransport() (interfaces.ITransport, error) {
	switch sf.Config.Stream.Transport {
	case "websocket", "":
		return transports.NewWebSocketTransport(&sf.Config.Stream, sf.Logger, sf.Config.Name), nil
	default:
		return nil, fmt.Errorf("unsupported transport type '%s'", sf.Config.Stream.Transport)
	}
}

// -----------------------------------------------------------------------------

// CreateManager creates a Connection Manager with the configured transport
func (sf *StreamFactory) CreateManager(protocol interfaces.IProtocol) (*connection.Manager, error) {
	transport, err := sf.CreateTransport()
	if err != nil {
		return nil, err
	}
	return sf.CreateManagerWithTransport(protocol, transport), nil
}

// -----------------------------------------------------------------------------

// CreateManagerWithTransport creates a Connection Manager over transport
func (sf *StreamFactory) CreateManagerWithTransport(protocol interfaces.IProtocol, transport interfaces.ITransport) *connection.Manager {
	manager := connection.NewManager(
		connection.OptionsFromConfig(&sf.Config.Stream, sf.Config.Name),
		transport,
		protocol,
		sf.Logger,
	)

	sf.Logger.Info("%s : created %s connection manager for %s",
		sf.Name, transport.GetType(), sf.Config.Stream.Endpoint)
	return manager
}

// -----------------------------------------------------------------------------

// CreatePublisher returns the NATS republisher, or nil when disabled
func (sf *StreamFactory) CreatePublisher(m *metrics.StreamMetrics) (interfaces.IPublisher, error) {
	if !sf.Config.NATS.Enabled {
		return nil, nil
	}

	serializer, err := serializers.New(sf.Config.NATS.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS serializer: %w", err)
	}
	return publishers.NewNATSPublisher(&sf.Config.NATS, sf.Logger, serializer, m), nil
}
