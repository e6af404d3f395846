package interfaces

import "market-streamer/src/models"

// -----------------------------------------------------------------------------

// ISender is the send side of the Connection Manager as seen by subscribers
type ISender interface {
	// Send writes a payload if connected; it returns an error otherwise
	Send(data []byte) error

	// IsConnected reports whether the connection is open
	IsConnected() bool
}

// -----------------------------------------------------------------------------

// ISeriesRemover deletes the buffered series for a key
type ISeriesRemover interface {
	Remove(key string)
}

// -----------------------------------------------------------------------------

// IStreamClient is the stream client as seen by the HTTP, WebSocket and gRPC
// surfaces
type IStreamClient interface {
	// Status returns a snapshot of the connection and subscription state
	Status() models.MStreamStatus

	// Subscriptions returns the desired set in insertion order
	Subscriptions() []string
	SetSubscriptions(keys []string) error
	Subscribe(key string) error
	Unsubscribe(key string) error

	// Reconnect resets the attempt counter and reconnects immediately
	Reconnect() error
	// Disconnect closes the connection without automatic retry
	Disconnect() error

	// Series returns a copy of one buffered series
	Series(key string) (*models.MSeriesRecord, bool)
	// Snapshot returns a consistent copy of every buffered series
	Snapshot() map[string]*models.MSeriesRecord
	// Version increases on every store mutation
	Version() uint64
}
