package models

// -----------------------------------------------------------------------------

// MConnectionState is the Connection Manager state
type MConnectionState int

const (
	StateDisconnected MConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
)

// -----------------------------------------------------------------------------

// String returns the lower-case state name
func (s MConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------

// MStreamStatus aggregates runtime information about the stream client.
type MStreamStatus struct {
	Name          string   `json:"name"`
	State         string   `json:"state"`
	Connected     bool     `json:"connected"`
	Attempts      int      `json:"attempts"`       // consecutive failed connection attempts
	SessionID     string   `json:"session_id"`     // empty while disconnected
	TransportType string   `json:"transport_type"` // e.g. "websocket"
	Endpoint      string   `json:"endpoint"`
	Securities    []string `json:"securities"` // desired subscription set
	Confirmed     []string `json:"confirmed"`  // keys named by the last server confirmation
	SeriesCount   int      `json:"series_count"`
	MaxDataPoints int      `json:"max_data_points"`
}
