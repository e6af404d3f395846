package publishers

import (
	"errors"
	"io"
	"sync"
	"testing"

	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/serializers"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNATS struct {
	mu      sync.Mutex
	msgs    []*nats.Msg
	fail    error
	closed  bool
	flushed bool
}

func (f *fakeNATS) PublishMsg(msg *nats.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeNATS) Flush() error         { f.flushed = true; return nil }
func (f *fakeNATS) Close()               { f.closed = true }
func (f *fakeNATS) IsClosed() bool       { return f.closed }
func (f *fakeNATS) ConnectedUrl() string { return "nats://fake:4222" }

func newTestPublisher(t *testing.T, encoding string) (*NATSPublisher, *fakeNATS) {
	t.Helper()
	s, err := serializers.New(encoding)
	require.NoError(t, err)

	cfg := &models.MNATSConfig{ClientID: "pub", SubjectPrefix: "marketdata", Encoding: encoding}
	p := NewNATSPublisher(cfg, logger.NewLoggerWithWriter(io.Discard, logger.LevelDebug, "test"), s, nil)

	fake := &fakeNATS{}
	p.nc = fake
	p.connected.Store(true)
	return p, fake
}

func TestNATSPublisher_Subject(t *testing.T) {
	p, _ := newTestPublisher(t, "json")
	assert.Equal(t, "marketdata.AAPL_US_Equity", p.Subject("AAPL US Equity"))
	assert.Equal(t, "marketdata.BRK_B", p.Subject("BRK.B"))

	p.config.SubjectPrefix = ""
	assert.Equal(t, "MSFT", p.Subject("MSFT"))
}

func TestNATSPublisher_OnUpdate(t *testing.T) {
	p, fake := newTestPublisher(t, "json")

	p.OnUpdate(&models.MRawUpdate{
		Timestamp: "2024-01-01T10:00:00Z",
		Security:  "AAPL US Equity",
		LastPrice: 190.5,
		ChangePct: 1.5,
	})
	p.OnUpdate(nil)

	require.Len(t, fake.msgs, 1)
	msg := fake.msgs[0]
	assert.Equal(t, "marketdata.AAPL_US_Equity", msg.Subject)
	assert.Equal(t, "application/json", msg.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"timestamp":"2024-01-01T10:00:00Z","security":"AAPL US Equity","last_price":190.5,
		"prev_close":0,"change_pct":1.5,"bid":null,"ask":null,"volume":null}`, string(msg.Data))
}

func TestNATSPublisher_ProtoEncoding(t *testing.T) {
	p, fake := newTestPublisher(t, "proto")
	p.OnUpdate(&models.MRawUpdate{Security: "X", Timestamp: "2024-01-01T10:00:00Z"})

	require.Len(t, fake.msgs, 1)
	assert.Equal(t, "application/x-protobuf", fake.msgs[0].Header.Get("Content-Type"))

	var out models.MRawUpdate
	require.NoError(t, p.serializer.Unmarshal(fake.msgs[0].Data, &out))
	assert.Equal(t, "X", out.Security)
}

func TestNATSPublisher_FailuresAreNotFatal(t *testing.T) {
	p, fake := newTestPublisher(t, "json")
	fake.fail = errors.New("slow consumer")

	assert.NotPanics(t, func() { p.OnUpdate(&models.MRawUpdate{Security: "X"}) })
	assert.Empty(t, fake.msgs)

	p.connected.Store(false)
	assert.Error(t, p.Publish("marketdata.X", []byte("{}")))
}

func TestNATSPublisher_Disconnect(t *testing.T) {
	p, fake := newTestPublisher(t, "json")

	require.NoError(t, p.Disconnect())
	assert.True(t, fake.flushed)
	assert.True(t, fake.closed)
	assert.False(t, p.IsConnected())

	// already closed
	require.NoError(t, p.Disconnect())
}

func TestNATSPublisher_ConnectErrors(t *testing.T) {
	s := serializers.NewJSONSerializer()
	log := logger.NewLoggerWithWriter(io.Discard, logger.LevelDebug, "test")

	p := NewNATSPublisher(&models.MNATSConfig{ClientID: "pub"}, log, s, nil)
	assert.Error(t, p.Connect())

	p = NewNATSPublisher(&models.MNATSConfig{
		ClientID:         "pub",
		Servers:          []string{"nats://127.0.0.1:1"},
		ConnectTimeoutMs: 200,
	}, log, s, nil)
	assert.Error(t, p.Connect())
	assert.False(t, p.IsConnected())
}
