package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFeedURL        = "wss://socket.polygon.io/stocks"
	DefaultRESTURL        = "https://api.polygon.io"
	DefaultReconnectDelay = 2 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultAuthTimeout    = 10 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultPingTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultConnBuffer     = 1000
	DefaultRESTTimeout    = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = time.Second
	DefaultPollInterval   = time.Minute
	DefaultPollBatchSize  = 50
	DefaultPollWorkers    = 4
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 4
	DefaultMinConns       = 1
	DefaultBatchSize      = 500
	DefaultFlushInterval  = time.Second
	DefaultBufferSize     = 10000
	DefaultStatusPort     = 8080
	DefaultLogLevel       = "info"
)

// ApplyDefaults fills unset optional fields.
func (c *StreamerConfig) ApplyDefaults() {
	// Feed defaults
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}

	// Connection defaults
	if c.Connection.ReconnectDelay == 0 {
		c.Connection.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Connection.DialTimeout == 0 {
		c.Connection.DialTimeout = DefaultDialTimeout
	}
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.AuthTimeout == 0 {
		c.Connection.AuthTimeout = DefaultAuthTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultConnBuffer
	}

	// REST defaults
	if c.REST.URL == "" {
		c.REST.URL = DefaultRESTURL
	}
	if c.REST.Timeout == 0 {
		c.REST.Timeout = DefaultRESTTimeout
	}
	if c.REST.MaxRetries == 0 {
		c.REST.MaxRetries = DefaultMaxRetries
	}
	if c.REST.RetryBackoff == 0 {
		c.REST.RetryBackoff = DefaultRetryBackoff
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.BatchSize == 0 {
		c.Poller.BatchSize = DefaultPollBatchSize
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollWorkers
	}

	// Recorder defaults
	applyDBDefaults(&c.Recorder.Database)
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
