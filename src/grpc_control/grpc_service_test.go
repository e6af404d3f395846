package grpc_control

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"market-streamer/src/config"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// -----------------------------------------------------------------------------

type fakeStream struct {
	connected atomic.Bool
}

func (f *fakeStream) Status() models.MStreamStatus {
	return models.MStreamStatus{Name: "test", Connected: f.connected.Load()}
}
func (f *fakeStream) Subscriptions() []string { return nil }
func (f *fakeStream) SetSubscriptions(keys []string) error { return nil }
func (f *fakeStream) Subscribe(key string) error { return nil }
func (f *fakeStream) Unsubscribe(key string) error { return nil }
func (f *fakeStream) Reconnect() error { return nil }
func (f *fakeStream) Disconnect() error { return nil }
func (f *fakeStream) Series(key string) (*models.MSeriesRecord, bool) { return nil, false }
func (f *fakeStream) Snapshot() map[string]*models.MSeriesRecord { return nil }
func (f *fakeStream) Version() uint64 { return 0 }

// -----------------------------------------------------------------------------

func startService(t *testing.T, stream *fakeStream) (*GRPCService, grpc_health_v1.HealthClient) {
	cfg := &config.Config{MConfig: &models.MConfig{
		GRPC: models.MGRPCConfig{Enabled: true, Host: "127.0.0.1", Port: 0},
		HTTP: models.MHTTPConfig{RenderIntervalMs: 10},
	}}

	svc, err := NewGRPCService(cfg, logger.NewLoggerWithWriter(io.Discard, logger.LevelDebug, "test"), stream)
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	conn, err := grpc.NewClient(svc.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc, grpc_health_v1.NewHealthClient(conn)
}

func check(client grpc_health_v1.HealthClient, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func servingStatus(client grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	status, _ := check(client, service)
	return status
}

// -----------------------------------------------------------------------------

func TestGRPCService_OverallServing(t *testing.T) {
	svc, client := startService(t, &fakeStream{})

	assert.True(t, svc.IsRunning())
	status, err := check(client, "")
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, status)
}

func TestGRPCService_StreamFollowsConnection(t *testing.T) {
	stream := &fakeStream{}
	_, client := startService(t, stream)

	status, err := check(client, StreamServiceName)
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, status)

	stream.connected.Store(true)
	assert.Eventually(t, func() bool {
		return servingStatus(client, StreamServiceName) == grpc_health_v1.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	stream.connected.Store(false)
	assert.Eventually(t, func() bool {
		return servingStatus(client, StreamServiceName) == grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGRPCService_StartTwice(t *testing.T) {
	svc, _ := startService(t, &fakeStream{})
	assert.Error(t, svc.Start())
}

func TestGRPCService_StopIsIdempotent(t *testing.T) {
	svc, _ := startService(t, &fakeStream{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Stop(ctx))
	assert.False(t, svc.IsRunning())
}
