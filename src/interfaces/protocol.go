package interfaces

import (
	"time"

	"market-streamer/src/models"
)

// -----------------------------------------------------------------------------

// ProtocolOptions carries decoder settings shared by all dialects
type ProtocolOptions struct {
	// Location is applied to timestamps that carry no zone offset
	Location *time.Location
}

// -----------------------------------------------------------------------------

// IProtocolConstructor defines the function signature for creating a protocol codec
type IProtocolConstructor func(options ProtocolOptions) (IProtocol, error)

// -----------------------------------------------------------------------------

// IProtocol encodes client requests and decodes server messages for one wire dialect
type IProtocol interface {
	// GetName return the protocol name
	GetName() string

	// EncodeSubscribe creates the subscription message for the full key set
	EncodeSubscribe(keys []string) ([]byte, error)

	// EncodeUnsubscribe creates the unsubscription message for keys
	EncodeUnsubscribe(keys []string) ([]byte, error)

	// Decode parses an inbound payload into an envelope
	Decode(message []byte) (*models.MEnvelope, error)
}
