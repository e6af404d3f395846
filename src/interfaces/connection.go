package interfaces

import (
	"context"
)

// -----------------------------------------------------------------------------

// IConnection is a single live transport handle
type IConnection interface {
	// ReadMessage blocks until the next inbound payload or a transport error
	ReadMessage() ([]byte, error)

	// WriteMessage sends one payload
	WriteMessage(data []byte) error

	// Close releases the handle; it unblocks a pending ReadMessage
	Close() error
}

// -----------------------------------------------------------------------------

// ITransport opens connections to a streaming endpoint
type ITransport interface {
	// Dial performs the handshake; ctx bounds the attempt
	Dial(ctx context.Context, endpoint string) (IConnection, error)

	// GetType returns the transport type
	GetType() string
}
