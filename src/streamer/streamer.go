package streamer

import (
	"errors"
	"fmt"
	"sync"

	"market-streamer/src/config"
	"market-streamer/src/connection"
	"market-streamer/src/factories"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/metrics"
	"market-streamer/src/models"
	"market-streamer/src/protocols"
	"market-streamer/src/series"
	"market-streamer/src/subscription"
)

// -----------------------------------------------------------------------------
// Core Application Struct
// -----------------------------------------------------------------------------

var _ interfaces.IStreamClient = (*Streamer)(nil)

// Streamer wires the connection manager, the subscription controller and the
// series store, and routes every decoded message to the right place.
type Streamer struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger

	Manager    *connection.Manager
	Controller *subscription.Controller
	Store      *series.Store
	// Publisher is nil when NATS republishing is disabled
	Publisher interfaces.IPublisher
	Metrics   *metrics.StreamMetrics

	updated chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// -----------------------------------------------------------------------------

// NewStreamer creates a Streamer over the configured transport
func NewStreamer(config *config.Config, logger *logger.Logger, m *metrics.StreamMetrics) (*Streamer, error) {
	factory := factories.NewStreamFactory(config, logger)
	transport, err := factory.CreateTransport()
	if err != nil {
		return nil, err
	}
	return NewStreamerWithTransport(config, logger, m, transport)
}

// -----------------------------------------------------------------------------

// NewStreamerWithTransport creates a Streamer over an explicit transport
func NewStreamerWithTransport(config *config.Config, logger *logger.Logger, m *metrics.StreamMetrics, transport interfaces.ITransport) (*Streamer, error) {
	factory := factories.NewStreamFactory(config, logger)

	protocol, err := factory.CreateProtocol()
	if err != nil {
		return nil, err
	}

	publisher, err := factory.CreatePublisher(m)
	if err != nil {
		return nil, err
	}

	s := &Streamer{
		Name:      config.Name,
		Config:    config,
		Logger:    logger,
		Store:     series.NewStore(config.Stream.MaxDataPoints, config.TimestampLocation()),
		Publisher: publisher,
		Metrics:   m,
		updated:   make(chan struct{}, 1),
	}

	s.Manager = factory.CreateManagerWithTransport(protocol, transport)
	s.Controller = subscription.NewController(
		subscription.Options{Name: config.Name, SendUnsubscribe: config.Stream.SendUnsubscribe},
		&countingSender{manager: s.Manager, metrics: m},
		protocol,
		s.Store,
		logger,
	)

	// Controller first: subscriptions go out before anyone else sees the open
	s.Manager.OnOpen(s.Controller.OnOpen)
	s.Manager.OnMessage(s.route)
	s.Manager.OnError(s.onError)
	s.Manager.OnStateChange(func(from, to models.MConnectionState) {
		s.Metrics.ObserveState(to)
		s.notify()
	})

	return s, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start connects the publisher, seeds the desired set from configuration and
// starts the connection manager.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return connection.ErrClosed
	}
	if s.started {
		return nil
	}

	s.Logger.Info("%s : starting stream client for %s", s.Name, s.Config.Stream.Endpoint)

	// Connect to publisher first - fail fast if publisher unavailable
	if s.Publisher != nil {
		if err := s.Publisher.Connect(); err != nil {
			return fmt.Errorf("failed to connect to publisher: %w", err)
		}
		s.Logger.Info("%s : publisher connected successfully", s.Name)
	}

	if err := s.Controller.SetDesired(s.Config.Stream.Securities); err != nil {
		return fmt.Errorf("failed to set initial subscriptions: %w", err)
	}

	if err := s.Manager.Start(); err != nil {
		return fmt.Errorf("failed to start connection manager: %w", err)
	}

	s.started = true
	s.Logger.Info("%s : stream client started with %d subscriptions", s.Name, len(s.Controller.Desired()))
	return nil
}

// -----------------------------------------------------------------------------

// Stop closes the connection, cancels pending timers and disconnects the
// publisher. A stopped Streamer cannot be restarted.
func (s *Streamer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	s.Logger.Info("%s : stopping stream client", s.Name)
	err := s.Manager.Close()

	if s.Publisher != nil {
		s.Logger.Info("%s : disconnecting publisher", s.Name)
		if perr := s.Publisher.Disconnect(); perr != nil {
			s.Logger.Error("%s : failed to disconnect publisher: %v", s.Name, perr)
		}
	}

	s.Logger.Info("%s : stream client stopped", s.Name)
	return err
}

// -----------------------------------------------------------------------------
// Connection control
// -----------------------------------------------------------------------------

// Reconnect resets the attempt counter and reconnects immediately
func (s *Streamer) Reconnect() error {
	return s.Manager.Reconnect()
}

// -----------------------------------------------------------------------------

// Disconnect closes the connection and stays disconnected until Reconnect
func (s *Streamer) Disconnect() error {
	return s.Manager.Disconnect()
}

// -----------------------------------------------------------------------------
// Subscription management
// -----------------------------------------------------------------------------

// SetSubscriptions replaces the desired set
func (s *Streamer) SetSubscriptions(keys []string) error {
	err := s.Controller.SetDesired(keys)
	s.afterSubscriptionChange()
	return err
}

// -----------------------------------------------------------------------------

// Subscribe adds one key to the desired set
func (s *Streamer) Subscribe(key string) error {
	err := s.Controller.Add(key)
	s.afterSubscriptionChange()
	return err
}

// -----------------------------------------------------------------------------

// Unsubscribe removes one key and its buffered series
func (s *Streamer) Unsubscribe(key string) error {
	err := s.Controller.Remove(key)
	s.afterSubscriptionChange()
	return err
}

// -----------------------------------------------------------------------------

// Subscriptions returns the desired set in insertion order
func (s *Streamer) Subscriptions() []string {
	return s.Controller.Desired()
}

// -----------------------------------------------------------------------------
// Status Methods
// -----------------------------------------------------------------------------

// Status returns a snapshot of the client state
func (s *Streamer) Status() models.MStreamStatus {
	state := s.Manager.State()
	return models.MStreamStatus{
		Name:          s.Name,
		State:         state.String(),
		Connected:     state == models.StateConnected,
		Attempts:      s.Manager.Attempts(),
		SessionID:     s.Manager.SessionID(),
		TransportType: s.Manager.GetTransportType(),
		Endpoint:      s.Manager.GetEndpoint(),
		Securities:    s.Controller.Desired(),
		Confirmed:     s.Controller.Confirmed(),
		SeriesCount:   s.Store.Len(),
		MaxDataPoints: s.Store.Capacity(),
	}
}

// -----------------------------------------------------------------------------

// Series returns a copy of one buffered series
func (s *Streamer) Series(key string) (*models.MSeriesRecord, bool) {
	return s.Store.Get(key)
}

// -----------------------------------------------------------------------------

// Snapshot returns a consistent copy of every buffered series
func (s *Streamer) Snapshot() map[string]*models.MSeriesRecord {
	return s.Store.SnapshotAll()
}

// -----------------------------------------------------------------------------

// Version increases on every store mutation
func (s *Streamer) Version() uint64 {
	return s.Store.Version()
}

// -----------------------------------------------------------------------------

// Updated fires after store or connection changes. Notifications coalesce:
// a slow reader sees one pending signal, not one per change.
func (s *Streamer) Updated() <-chan struct{} {
	return s.updated
}

// -----------------------------------------------------------------------------
// Private/Helper Methods
// -----------------------------------------------------------------------------

// route dispatches one decoded message. Runs on the manager's dispatch
// goroutine, so messages are handled one at a time in arrival order.
func (s *Streamer) route(envelope *models.MEnvelope) {
	s.Metrics.MessageReceived(envelope.Kind)

	switch envelope.Kind {
	case models.EnvelopeData:
		s.ingest(envelope.Update)
	case models.EnvelopeControl:
		s.Controller.OnControl(envelope.Control)
	case models.EnvelopeError:
		s.Logger.Warning("%s : server reported error: %s", s.Name, envelope.Error)
		s.Metrics.Error("server")
	}
}

// -----------------------------------------------------------------------------

func (s *Streamer) ingest(update *models.MRawUpdate) {
	if update == nil {
		return
	}

	// check and write under one lock: in-flight data for a key that is
	// being removed must not recreate its series
	var err error
	if !s.Controller.WhileDesired(update.Security, func() { err = s.Store.Ingest(update) }) {
		s.Logger.Debug("%s : dropping update for unsubscribed %s", s.Name, update.Security)
		return
	}
	if err != nil {
		s.Logger.Warning("%s : discarding update: %v", s.Name, err)
		s.Metrics.Error("ingest")
		return
	}
	s.Metrics.SampleIngested(s.Store.Len())

	if s.Publisher != nil {
		s.Publisher.OnUpdate(update)
	}
	s.notify()
}

// -----------------------------------------------------------------------------

func (s *Streamer) onError(err error) {
	if errors.Is(err, protocols.ErrMalformedMessage) {
		s.Metrics.Error("malformed")
		return
	}
	s.Metrics.Error("transport")
}

// -----------------------------------------------------------------------------

func (s *Streamer) afterSubscriptionChange() {
	s.Metrics.SetActiveSeries(s.Store.Len())
	s.notify()
}

// -----------------------------------------------------------------------------

func (s *Streamer) notify() {
	select {
	case s.updated <- struct{}{}:
	default:
	}
}
