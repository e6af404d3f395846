package connection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/protocols"
	"market-streamer/src/transports"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// -----------------------------------------------------------------------------
// fakes
// -----------------------------------------------------------------------------

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	// gate, when set, holds Close until it is closed (unresponsive peer)
	mu   sync.Mutex
	gate chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.out <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) holdClose(gate chan struct{}) {
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeTransport struct {
	mu     sync.Mutex
	fail   bool
	dials  int
	conns  []*fakeConn
	dialed chan *fakeConn
}

func newFakeTransport(fail bool) *fakeTransport {
	return &fakeTransport{fail: fail, dialed: make(chan *fakeConn, 16)}
}

func (f *fakeTransport) Dial(ctx context.Context, endpoint string) (interfaces.IConnection, error) {
	f.mu.Lock()
	f.dials++
	fail := f.fail
	f.mu.Unlock()

	if fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	f.dialed <- c
	return c, nil
}

func (f *fakeTransport) GetType() string { return "fake" }

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

// recorder collects observer callbacks
type recorder struct {
	mu       sync.Mutex
	opens    int
	closes   int
	messages []*models.MEnvelope
	errs     []error
	log      []string
}

func (r *recorder) attach(m *Manager) {
	m.OnOpen(func() { r.add("open", func() { r.opens++ }) })
	m.OnClose(func() { r.add("close", func() { r.closes++ }) })
	m.OnMessage(func(e *models.MEnvelope) { r.add("message", func() { r.messages = append(r.messages, e) }) })
	m.OnError(func(err error) { r.add("error", func() { r.errs = append(r.errs, err) }) })
}

func (r *recorder) add(name string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
	r.log = append(r.log, name)
}

func (r *recorder) counts() (opens, closes, messages, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens, r.closes, len(r.messages), len(r.errs)
}

func (r *recorder) lastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func newTestManager(t *testing.T, transport interfaces.ITransport, maxAttempts int, delay time.Duration) *Manager {
	t.Helper()
	codec, err := protocols.New("json", interfaces.ProtocolOptions{})
	require.NoError(t, err)

	m := NewManager(Options{
		Name:        "test",
		Endpoint:    "ws://stream.test/ws",
		RetryDelay:  delay,
		MaxAttempts: maxAttempts,
	}, transport, codec, logger.NewLoggerWithWriter(io.Discard, logger.LevelDebug, "test"))
	t.Cleanup(func() { m.Close() })
	return m
}

func nextConn(t *testing.T, f *fakeTransport) *fakeConn {
	t.Helper()
	select {
	case c := <-f.dialed:
		return c
	case <-time.After(waitFor):
		t.Fatal("no dial happened")
		return nil
	}
}

// -----------------------------------------------------------------------------
// tests
// -----------------------------------------------------------------------------

func TestManager_ConnectAndReceive(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)
	rec := &recorder{}
	rec.attach(m)

	assert.Equal(t, models.StateDisconnected, m.State())
	require.NoError(t, m.Start())
	conn := nextConn(t, tr)

	require.Eventually(t, func() bool { o, _, _, _ := rec.counts(); return o == 1 }, waitFor, tick)
	assert.True(t, m.IsConnected())
	assert.Equal(t, 0, m.Attempts())
	assert.NotEmpty(t, m.SessionID())
	assert.Equal(t, "fake", m.GetTransportType())

	conn.in <- []byte(`{"timestamp":"2024-01-01T10:00:00Z","security":"AAPL US Equity","last_price":190.5,"prev_close":187.7,"change_pct":1.49}`)
	require.Eventually(t, func() bool { _, _, n, _ := rec.counts(); return n == 1 }, waitFor, tick)

	rec.mu.Lock()
	env := rec.messages[0]
	rec.mu.Unlock()
	assert.Equal(t, models.EnvelopeData, env.Kind)
	assert.Equal(t, "AAPL US Equity", env.Update.Security)
}

func TestManager_StartIsIdempotent(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)

	require.NoError(t, m.Start())
	nextConn(t, tr)
	require.Eventually(t, m.IsConnected, waitFor, tick)

	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
}

func TestManager_SendWhileDisconnected(t *testing.T) {
	m := newTestManager(t, newFakeTransport(false), 10, time.Hour)

	err := m.Send([]byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_SendWhileConnected(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)
	require.NoError(t, m.Start())
	conn := nextConn(t, tr)
	require.Eventually(t, m.IsConnected, waitFor, tick)

	require.NoError(t, m.Send([]byte(`{"action":"subscribe","securities":["A"]}`)))
	assert.Equal(t, `{"action":"subscribe","securities":["A"]}`, string(<-conn.out))
}

// Three consecutive failures exhaust a cap of three; reconnect grants a fourth.
func TestManager_StopsAfterMaxAttempts(t *testing.T) {
	tr := newFakeTransport(true)
	m := newTestManager(t, tr, 3, 10*time.Millisecond)
	rec := &recorder{}
	rec.attach(m)

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return m.Attempts() == 3 }, waitFor, tick)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, tr.dialCount())
	assert.Equal(t, models.StateDisconnected, m.State())
	require.Eventually(t, func() bool { _, _, _, e := rec.counts(); return e == 3 }, waitFor, tick)

	// reconnect starts a fresh cycle with a full budget
	require.NoError(t, m.Reconnect())
	require.Eventually(t, func() bool { return tr.dialCount() >= 4 }, waitFor, tick)
	require.Eventually(t, func() bool { return m.Attempts() == 3 }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 6, tr.dialCount())
}

func TestManager_UnlimitedAttempts(t *testing.T) {
	tr := newFakeTransport(true)
	m := newTestManager(t, tr, -1, 5*time.Millisecond)

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return tr.dialCount() > 12 }, waitFor, tick)
}

func TestManager_DisconnectCancelsPendingRetry(t *testing.T) {
	tr := newFakeTransport(true)
	m := newTestManager(t, tr, 10, 50*time.Millisecond)

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return m.Attempts() == 1 }, waitFor, tick)

	require.NoError(t, m.Disconnect())
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
	assert.Equal(t, models.StateDisconnected, m.State())
}

func TestManager_TransportCloseTriggersReconnect(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, 10*time.Millisecond)
	rec := &recorder{}
	rec.attach(m)

	require.NoError(t, m.Start())
	first := nextConn(t, tr)
	require.Eventually(t, m.IsConnected, waitFor, tick)

	// server drops the socket
	first.Close()

	second := nextConn(t, tr)
	assert.NotSame(t, first, second)
	require.Eventually(t, func() bool { o, c, _, _ := rec.counts(); return o == 2 && c == 1 }, waitFor, tick)
	assert.Equal(t, []string{"open", "close", "open"}, rec.events())
	assert.True(t, m.IsConnected())
}

func TestManager_DisconnectIsTerminal(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, 10*time.Millisecond)
	rec := &recorder{}
	rec.attach(m)

	require.NoError(t, m.Start())
	conn := nextConn(t, tr)
	require.Eventually(t, m.IsConnected, waitFor, tick)

	require.NoError(t, m.Disconnect())
	assert.True(t, conn.isClosed())
	assert.Equal(t, models.StateDisconnected, m.State())
	assert.Empty(t, m.SessionID())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
	require.Eventually(t, func() bool { _, c, _, _ := rec.counts(); return c == 1 }, waitFor, tick)

	// disconnecting twice is harmless
	require.NoError(t, m.Disconnect())
}

func TestManager_SlowCloseDoesNotBlockStatus(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)

	require.NoError(t, m.Start())
	conn := nextConn(t, tr)
	require.Eventually(t, m.IsConnected, waitFor, tick)

	release := make(chan struct{})
	conn.holdClose(release)

	done := make(chan error, 1)
	go func() { done <- m.Disconnect() }()

	// Disconnect is parked in Close; status reads and sends must not wait on it
	require.Eventually(t, func() bool { return m.State() == models.StateDisconnected }, waitFor, tick)
	start := time.Now()
	assert.Equal(t, 0, m.Attempts())
	assert.Empty(t, m.SessionID())
	assert.ErrorIs(t, m.Send([]byte(`{}`)), ErrNotConnected)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case <-done:
		t.Fatal("Disconnect returned before the handle was closed")
	default:
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Disconnect did not return")
	}
	assert.True(t, conn.isClosed())
}

func TestManager_ReconnectReplacesHandle(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)
	rec := &recorder{}
	rec.attach(m)

	require.NoError(t, m.Start())
	first := nextConn(t, tr)
	require.Eventually(t, m.IsConnected, waitFor, tick)
	firstSession := m.SessionID()

	require.NoError(t, m.Reconnect())
	second := nextConn(t, tr)
	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	require.Eventually(t, func() bool { o, _, _, _ := rec.counts(); return o == 2 }, waitFor, tick)
	assert.Equal(t, []string{"open", "close", "open"}, rec.events())
	assert.NotEqual(t, firstSession, m.SessionID())
}

func TestManager_MalformedMessageIsNotFatal(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)
	rec := &recorder{}
	rec.attach(m)

	require.NoError(t, m.Start())
	conn := nextConn(t, tr)
	require.Eventually(t, m.IsConnected, waitFor, tick)

	conn.in <- []byte(`not json`)
	require.Eventually(t, func() bool { _, _, _, e := rec.counts(); return e == 1 }, waitFor, tick)
	assert.ErrorIs(t, rec.lastError(), protocols.ErrMalformedMessage)
	assert.True(t, m.IsConnected())

	conn.in <- []byte(`{"type":"subscription_confirmed","securities":["A"]}`)
	require.Eventually(t, func() bool { _, _, n, _ := rec.counts(); return n == 1 }, waitFor, tick)
	_, closes, _, _ := rec.counts()
	assert.Equal(t, 0, closes)
}

func TestManager_ObserversRunInRegistrationOrder(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		m.OnOpen(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(order) == 3 }, waitFor, tick)
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestManager_ObserverPanicIsContained(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)

	called := make(chan struct{}, 1)
	m.OnOpen(func() { panic("boom") })
	m.OnOpen(func() { called <- struct{}{} })

	require.NoError(t, m.Start())
	select {
	case <-called:
	case <-time.After(waitFor):
		t.Fatal("second observer never ran")
	}
}

func TestManager_StateTransitions(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)

	var mu sync.Mutex
	var seen []string
	m.OnStateChange(func(from, to models.MConnectionState) {
		mu.Lock()
		seen = append(seen, from.String()+">"+to.String())
		mu.Unlock()
	})

	require.NoError(t, m.Start())
	require.Eventually(t, m.IsConnected, waitFor, tick)
	require.NoError(t, m.Disconnect())

	expected := []string{
		"disconnected>connecting",
		"connecting>connected",
		"connected>closing",
		"closing>disconnected",
	}
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(seen) == len(expected) }, waitFor, tick)
	assert.Equal(t, expected, seen)
}

func TestManager_CloseIsFinal(t *testing.T) {
	tr := newFakeTransport(false)
	m := newTestManager(t, tr, 10, time.Hour)

	require.NoError(t, m.Start())
	conn := nextConn(t, tr)
	require.Eventually(t, m.IsConnected, waitFor, tick)

	require.NoError(t, m.Close())
	assert.True(t, conn.isClosed())
	assert.ErrorIs(t, m.Start(), ErrClosed)
	assert.ErrorIs(t, m.Reconnect(), ErrClosed)
	assert.NoError(t, m.Close())
}

func TestManager_RecoversWhenServerComesBack(t *testing.T) {
	tr := newFakeTransport(true)
	m := newTestManager(t, tr, 10, 10*time.Millisecond)

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return m.Attempts() >= 2 }, waitFor, tick)

	tr.setFail(false)
	require.Eventually(t, m.IsConnected, waitFor, tick)
	assert.Equal(t, 0, m.Attempts())
}

// -----------------------------------------------------------------------------

func TestManager_LiveWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"timestamp":"2024-01-01T10:00:00","security":"MSFT US Equity","last_price":400,"prev_close":398,"change_pct":0.5,"bid":null,"ask":null,"volume":null}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	cfg := &models.MStreamConfig{
		Endpoint:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		HandshakeTimeoutMs: 2000,
		WriteTimeoutMs:     1000,
	}
	log := logger.NewLoggerWithWriter(io.Discard, logger.LevelDebug, "test")
	codec, err := protocols.New("json", interfaces.ProtocolOptions{})
	require.NoError(t, err)

	m := NewManager(OptionsFromConfig(cfg, "live"), transports.NewWebSocketTransport(cfg, log, "live"), codec, log)
	defer m.Close()

	updates := make(chan *models.MRawUpdate, 1)
	m.OnOpen(func() {
		m.Send([]byte(`{"action":"subscribe","securities":["MSFT US Equity"]}`))
	})
	m.OnMessage(func(e *models.MEnvelope) {
		if e.Kind == models.EnvelopeData {
			updates <- e.Update
		}
	})

	require.NoError(t, m.Start())

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"action":"subscribe","securities":["MSFT US Equity"]}`, msg)
	case <-time.After(waitFor):
		t.Fatal("server never received subscribe")
	}

	select {
	case u := <-updates:
		assert.Equal(t, "MSFT US Equity", u.Security)
		assert.Nil(t, u.Bid)
		assert.True(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC).Equal(u.Time))
	case <-time.After(waitFor):
		t.Fatal("no update delivered")
	}
}
