package models

// -----------------------------------------------------------------------------

// MConfig is the root of the YAML configuration file
type MConfig struct {
	Name     string        `yaml:"name"`
	LogLevel string        `yaml:"log_level"`
	HTTP     MHTTPConfig   `yaml:"http"`
	GRPC     MGRPCConfig   `yaml:"grpc"`
	Stream   MStreamConfig `yaml:"stream"`
	NATS     MNATSConfig   `yaml:"nats"`
	Chart    MChartConfig  `yaml:"chart"`
}

// -----------------------------------------------------------------------------

// MHTTPConfig configures the chart-facing HTTP/WebSocket server
type MHTTPConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	RenderIntervalMs int    `yaml:"render_interval_ms"`
}

// -----------------------------------------------------------------------------

// MGRPCConfig configures the gRPC health endpoint
type MGRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// -----------------------------------------------------------------------------

// MStreamConfig configures the upstream price stream
type MStreamConfig struct {
	Endpoint             string   `yaml:"endpoint"`
	Transport            string   `yaml:"transport"`
	Protocol             string   `yaml:"protocol"`
	MaxDataPoints        int      `yaml:"max_data_points"`
	ReconnectIntervalMs  int      `yaml:"reconnect_interval_ms"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"` // negative means unlimited
	HandshakeTimeoutMs   int      `yaml:"handshake_timeout_ms"`
	WriteTimeoutMs       int      `yaml:"write_timeout_ms"`
	ReadLimitBytes       int64    `yaml:"read_limit_bytes"`
	Securities           []string `yaml:"securities"`
	SendUnsubscribe      bool     `yaml:"send_unsubscribe"`
	TimestampLocation    string   `yaml:"timestamp_location"`
}

// -----------------------------------------------------------------------------

// MNATSConfig configures the optional NATS republisher
type MNATSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Servers       []string `yaml:"servers"`
	ClientID      string   `yaml:"client_id"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Encoding      string   `yaml:"encoding"`

	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	ReconnectWaitMs  int `yaml:"reconnect_wait_ms"`
	MaxReconnects    int `yaml:"max_reconnects"`
}

// -----------------------------------------------------------------------------

// MChartConfig holds presentation settings
type MChartConfig struct {
	Palette []string `yaml:"palette"`
}
