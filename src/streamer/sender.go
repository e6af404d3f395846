package streamer

import (
	"errors"

	"market-streamer/src/connection"
	"market-streamer/src/metrics"
)

// -----------------------------------------------------------------------------

// countingSender is the send side handed to the subscription controller.
// It counts messages the manager dropped while disconnected.
type countingSender struct {
	manager *connection.Manager
	metrics *metrics.StreamMetrics
}

// -----------------------------------------------------------------------------

// Send forwards to the manager
func (s *countingSender) Send(data []byte) error {
	err := s.manager.Send(data)
	if errors.Is(err, connection.ErrNotConnected) {
		s.metrics.SendDropped()
	}
	return err
}

// -----------------------------------------------------------------------------

// IsConnected reports the manager state
func (s *countingSender) IsConnected() bool {
	return s.manager.IsConnected()
}
