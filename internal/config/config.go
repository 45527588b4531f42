package config

import "time"

// StreamerConfig is the root configuration for the streamer.
type StreamerConfig struct {
	Feed       FeedConfig       `yaml:"feed"`
	Connection ConnectionConfig `yaml:"connection"`
	REST       RESTConfig       `yaml:"rest"`
	Poller     PollerConfig     `yaml:"poller"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Status     StatusConfig     `yaml:"status"`
	Log        LogConfig        `yaml:"log"`
}

// FeedConfig identifies the feed and what to stream from it.
type FeedConfig struct {
	URL           string   `yaml:"url"`
	APIKey        string   `yaml:"api_key"`
	Subscriptions []string `yaml:"subscriptions"` // "channel.symbol" keys, e.g. T.AAPL
}

// ConnectionConfig holds session and transport settings.
type ConnectionConfig struct {
	ReconnectDelay           time.Duration `yaml:"reconnect_delay"`
	DialTimeout              time.Duration `yaml:"dial_timeout"`
	ConnectTimeout           time.Duration `yaml:"connect_timeout"`
	AuthTimeout              time.Duration `yaml:"auth_timeout"`
	WaitForAuthAck           bool          `yaml:"wait_for_auth_ack"`
	PingInterval             time.Duration `yaml:"ping_interval"`
	PingTimeout              time.Duration `yaml:"ping_timeout"`
	WriteTimeout             time.Duration `yaml:"write_timeout"`
	BufferSize               int           `yaml:"buffer_size"`
	MaxSubscriptionsPerFrame int           `yaml:"max_subscriptions_per_frame"` // 0 = unlimited
}

// RESTConfig holds snapshot API settings.
type RESTConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// PollerConfig holds settings for periodic REST snapshots of subscribed symbols.
type PollerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"` // tickers per request
	Concurrency int           `yaml:"concurrency"`
}

// RecorderConfig holds settings for persisting records to Postgres.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// StatusConfig holds the HTTP status server settings.
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
