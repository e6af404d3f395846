package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/google/uuid"
)

var (
	// ErrNotConnected is returned by Send when no connection is open
	ErrNotConnected = errors.New("connection is not open")

	// ErrClosed is returned once the manager has been torn down
	ErrClosed = errors.New("connection manager is closed")
)

// -----------------------------------------------------------------------------

// Options configures a Manager
type Options struct {
	Name     string
	Endpoint string

	// RetryDelay is the fixed wait between a failure and the next attempt
	RetryDelay time.Duration

	// MaxAttempts caps consecutive failed attempts; negative means unlimited
	MaxAttempts int
}

// -----------------------------------------------------------------------------

// OptionsFromConfig builds Options from the stream section of the config
func OptionsFromConfig(config *models.MStreamConfig, name string) Options {
	return Options{
		Name:        name,
		Endpoint:    config.Endpoint,
		RetryDelay:  time.Duration(config.ReconnectIntervalMs) * time.Millisecond,
		MaxAttempts: config.MaxReconnectAttempts,
	}
}

// -----------------------------------------------------------------------------

// Manager owns a single logical connection to a streaming endpoint and
// reconnects it at a fixed interval.
//
// All observer callbacks run on one dispatch goroutine, one at a time, in
// the order the underlying events happened. Observers may call Send, Start,
// Disconnect and Reconnect; they must not call Close.
type Manager struct {
	name        string
	endpoint    string
	retryDelay  time.Duration
	maxAttempts int
	transport   interfaces.ITransport
	protocol    interfaces.IProtocol
	logger      *logger.Logger

	mu         sync.Mutex
	state      models.MConnectionState
	attempts   int
	conn       interfaces.IConnection
	sessionID  string
	generation uint64
	retryTimer *time.Timer
	cancelDial context.CancelFunc
	stopped    bool // explicit Disconnect, suppresses auto-retry
	closed     bool // torn down for good
	dispatcher bool

	observers observers
	events    *eventQueue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// -----------------------------------------------------------------------------

// NewManager creates a Manager in the Disconnected state. Nothing runs
// until Start or Reconnect is called.
func NewManager(opts Options, transport interfaces.ITransport, protocol interfaces.IProtocol, logger *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		name:        opts.Name,
		endpoint:    opts.Endpoint,
		retryDelay:  opts.RetryDelay,
		maxAttempts: opts.MaxAttempts,
		transport:   transport,
		protocol:    protocol,
		logger:      logger,
		state:       models.StateDisconnected,
		events:      newEventQueue(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// -----------------------------------------------------------------------------
// Observer registration
// -----------------------------------------------------------------------------

// OnOpen registers a callback fired after each successful handshake
func (m *Manager) OnOpen(fn func()) {
	m.observers.mu.Lock()
	m.observers.open = append(m.observers.open, fn)
	m.observers.mu.Unlock()
}

// OnClose registers a callback fired when an open connection goes away
func (m *Manager) OnClose(fn func()) {
	m.observers.mu.Lock()
	m.observers.close = append(m.observers.close, fn)
	m.observers.mu.Unlock()
}

// OnMessage registers a callback for each decoded inbound message
func (m *Manager) OnMessage(fn func(*models.MEnvelope)) {
	m.observers.mu.Lock()
	m.observers.message = append(m.observers.message, fn)
	m.observers.mu.Unlock()
}

// OnError registers a callback for handshake failures, send failures and
// malformed payloads
func (m *Manager) OnError(fn func(error)) {
	m.observers.mu.Lock()
	m.observers.err = append(m.observers.err, fn)
	m.observers.mu.Unlock()
}

// OnStateChange registers a callback for every state transition
func (m *Manager) OnStateChange(fn func(from, to models.MConnectionState)) {
	m.observers.mu.Lock()
	m.observers.state = append(m.observers.state, fn)
	m.observers.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start begins connecting unless already Connected or Connecting.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.startDispatcherLocked()
	m.stopped = false

	if m.state == models.StateConnected || m.state == models.StateConnecting {
		return nil
	}
	m.beginConnectLocked()
	return nil
}

// -----------------------------------------------------------------------------

// Reconnect resets the attempt counter and forces an immediate connect
// cycle, closing any current handle first.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.startDispatcherLocked()
	m.stopped = false
	m.attempts = 0

	m.logger.Info("%s : manual reconnect requested", m.name)
	m.beginConnectLocked()
	return nil
}

// -----------------------------------------------------------------------------

// Disconnect closes the current connection, cancels any pending reconnect
// and stays Disconnected until Start or Reconnect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	old := m.disconnectLocked()
	m.mu.Unlock()

	return closeConn(old)
}

// -----------------------------------------------------------------------------

// Close tears the manager down: it disconnects, stops the dispatcher and
// waits for every goroutine it started. The manager cannot be restarted.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	old := m.disconnectLocked()
	m.closed = true
	m.mu.Unlock()

	err := closeConn(old)
	m.cancel()
	m.wg.Wait()

	m.logger.Info("%s : connection manager closed", m.name)
	return err
}

// -----------------------------------------------------------------------------
// Send / status
// -----------------------------------------------------------------------------

// Send writes data on the open connection. It never queues: when not
// Connected the message is dropped and ErrNotConnected is returned.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == models.StateConnected && conn != nil
	m.mu.Unlock()

	if !connected {
		m.logger.Warning("%s : not connected, message dropped", m.name)
		return ErrNotConnected
	}

	if err := conn.WriteMessage(data); err != nil {
		err = fmt.Errorf("%s : send failed: %w", m.name, err)
		m.events.push(event{kind: eventError, err: err})
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// State returns the current connection state
func (m *Manager) State() models.MConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// -----------------------------------------------------------------------------

// IsConnected reports whether the state is Connected
func (m *Manager) IsConnected() bool {
	return m.State() == models.StateConnected
}

// -----------------------------------------------------------------------------

// Attempts returns the number of consecutive failed connection attempts
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// -----------------------------------------------------------------------------

// SessionID identifies the current connection; empty when not connected
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// -----------------------------------------------------------------------------

// GetName returns the manager name
func (m *Manager) GetName() string {
	return m.name
}

// -----------------------------------------------------------------------------

// GetEndpoint returns the stream endpoint
func (m *Manager) GetEndpoint() string {
	return m.endpoint
}

// -----------------------------------------------------------------------------

// GetTransportType returns the underlying transport type
func (m *Manager) GetTransportType() string {
	return m.transport.GetType()
}

// -----------------------------------------------------------------------------
// Private methods. Names ending in Locked require m.mu.
// -----------------------------------------------------------------------------

// beginConnectLocked closes whatever is open and launches a new attempt
func (m *Manager) beginConnectLocked() {
	m.stopTimerLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	wasConnected := m.state == models.StateConnected
	old := m.detachConnLocked()
	if wasConnected {
		m.events.push(event{kind: eventClose})
	}

	m.generation++
	gen := m.generation
	m.setStateLocked(models.StateConnecting)

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelDial = cancel

	m.wg.Add(1)
	go m.run(ctx, gen, old)
}

// -----------------------------------------------------------------------------

// run closes the replaced handle, performs one dial and, on success, reads
// until the connection ends
func (m *Manager) run(ctx context.Context, gen uint64, old interfaces.IConnection) {
	defer m.wg.Done()

	if err := closeConn(old); err != nil {
		m.logger.Debug("%s : closing previous connection: %v", m.name, err)
	}

	m.logger.Info("%s : connecting to %s", m.name, m.endpoint)
	conn, err := m.transport.Dial(ctx, m.endpoint)

	m.mu.Lock()
	if gen != m.generation || m.closed {
		// superseded by Disconnect/Reconnect while dialing
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.attempts++
		m.setStateLocked(models.StateDisconnected)
		m.logger.Warning("%s : connection attempt %d failed: %v", m.name, m.attempts, err)
		m.events.push(event{kind: eventError, err: err})
		m.scheduleReconnectLocked(gen)
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.attempts = 0
	m.sessionID = uuid.NewString()
	m.setStateLocked(models.StateConnected)
	m.events.push(event{kind: eventOpen})
	m.logger.Info("%s : connected to %s (session %s)", m.name, m.endpoint, m.sessionID)
	m.mu.Unlock()

	m.readLoop(gen, conn)
}

// -----------------------------------------------------------------------------

// readLoop decodes inbound payloads in arrival order
func (m *Manager) readLoop(gen uint64, conn interfaces.IConnection) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleConnectionLost(gen, err)
			return
		}

		envelope, decodeErr := m.protocol.Decode(data)

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		if decodeErr != nil {
			m.logger.Warning("%s : discarding malformed message: %v", m.name, decodeErr)
			m.events.push(event{kind: eventError, err: decodeErr})
		} else {
			m.events.push(event{kind: eventMessage, envelope: envelope})
		}
		m.mu.Unlock()
	}
}

// -----------------------------------------------------------------------------

// handleConnectionLost moves Connected -> Disconnected after a transport close
func (m *Manager) handleConnectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}

	m.logger.Warning("%s : connection lost: %v", m.name, cause)
	old := m.detachConnLocked()
	m.setStateLocked(models.StateDisconnected)
	m.events.push(event{kind: eventClose})
	m.scheduleReconnectLocked(gen)
	m.mu.Unlock()

	closeConn(old)
}

// -----------------------------------------------------------------------------

// scheduleReconnectLocked arms the retry timer unless retries are suppressed
// or exhausted. The timer is bound to gen: once Disconnect or Reconnect bumps
// the generation, a late firing is a no-op.
func (m *Manager) scheduleReconnectLocked(gen uint64) {
	if m.stopped || m.closed {
		return
	}
	if m.maxAttempts >= 0 && m.attempts >= m.maxAttempts {
		m.logger.Error("%s : giving up after %d failed attempts, call reconnect to resume", m.name, m.attempts)
		return
	}

	m.logger.Info("%s : reconnecting in %v (failed attempts %d/%s)", m.name, m.retryDelay, m.attempts, m.attemptLimit())
	m.stopTimerLocked()
	m.retryTimer = time.AfterFunc(m.retryDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.generation || m.stopped || m.closed {
			return
		}
		m.retryTimer = nil
		m.beginConnectLocked()
	})
}

// -----------------------------------------------------------------------------

// disconnectLocked moves to Disconnected and returns the detached handle,
// which the caller closes after releasing m.mu
func (m *Manager) disconnectLocked() interfaces.IConnection {
	m.stopped = true
	m.stopTimerLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.generation++

	if m.state == models.StateDisconnected && m.conn == nil {
		return nil
	}

	wasConnected := m.state == models.StateConnected
	m.setStateLocked(models.StateClosing)
	old := m.detachConnLocked()
	m.setStateLocked(models.StateDisconnected)
	if wasConnected {
		m.events.push(event{kind: eventClose})
	}

	m.logger.Info("%s : disconnected from %s", m.name, m.endpoint)
	return old
}

// -----------------------------------------------------------------------------

// detachConnLocked releases ownership of the current handle without closing
// it. Closing can block on the peer, so it happens outside m.mu.
func (m *Manager) detachConnLocked() interfaces.IConnection {
	conn := m.conn
	m.conn = nil
	m.sessionID = ""
	return conn
}

// -----------------------------------------------------------------------------

func closeConn(conn interfaces.IConnection) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// -----------------------------------------------------------------------------

func (m *Manager) stopTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// -----------------------------------------------------------------------------

func (m *Manager) setStateLocked(to models.MConnectionState) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.Debug("%s : state %s -> %s", m.name, from, to)
	m.events.push(event{kind: eventState, from: from, to: to})
}

// -----------------------------------------------------------------------------

func (m *Manager) attemptLimit() string {
	if m.maxAttempts < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", m.maxAttempts)
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

func (m *Manager) startDispatcherLocked() {
	if m.dispatcher {
		return
	}
	m.dispatcher = true
	m.wg.Add(1)
	go m.dispatch()
}

// -----------------------------------------------------------------------------

// dispatch delivers queued events to observers one at a time
func (m *Manager) dispatch() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.events.signal:
			for _, ev := range m.events.drain() {
				if m.ctx.Err() != nil {
					return
				}
				m.deliver(ev)
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (m *Manager) deliver(ev event) {
	m.observers.mu.RLock()
	var calls []func()
	switch ev.kind {
	case eventOpen:
		for _, fn := range m.observers.open {
			calls = append(calls, fn)
		}
	case eventClose:
		for _, fn := range m.observers.close {
			calls = append(calls, fn)
		}
	case eventMessage:
		for _, fn := range m.observers.message {
			fn := fn
			calls = append(calls, func() { fn(ev.envelope) })
		}
	case eventError:
		for _, fn := range m.observers.err {
			fn := fn
			calls = append(calls, func() { fn(ev.err) })
		}
	case eventState:
		for _, fn := range m.observers.state {
			fn := fn
			calls = append(calls, func() { fn(ev.from, ev.to) })
		}
	}
	m.observers.mu.RUnlock()

	for _, call := range calls {
		m.safeCall(call)
	}
}

// -----------------------------------------------------------------------------

// safeCall keeps a panicking observer from killing the dispatcher
func (m *Manager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("%s : observer panic: %v", m.name, r)
		}
	}()
	fn()
}
