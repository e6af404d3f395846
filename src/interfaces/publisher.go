package interfaces

import "market-streamer/src/models"

// -----------------------------------------------------------------------------

// IPublisher defines the interface for republishing ingested updates
type IPublisher interface {
	// OnUpdate publishes one update
	OnUpdate(update *models.MRawUpdate)

	// Connect establishes connection to the message broker
	Connect() error

	// Disconnect closes the connection to the message broker
	Disconnect() error

	// IsConnected returns the current connection status
	IsConnected() bool
}
