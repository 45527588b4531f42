package stream

import (
	"time"

	"github.com/rickgao/tickstream/internal/connection"
)

// DefaultURL is the stocks cluster of the feed.
const DefaultURL = "wss://socket.polygon.io/stocks"

// Config configures a Client.
type Config struct {
	URL    string // Feed URL
	APIKey string // Credential sent in the auth frame

	// Subscriptions pre-seeds the set with "channel.symbol" keys.
	Subscriptions []string

	ReconnectDelay time.Duration // Fixed wait between a drop and the next attempt
	DialTimeout    time.Duration // Upper bound on one transport open
	ConnectTimeout time.Duration // How long Connect waits for Ready (0 = until ctx is done)
	CloseTimeout   time.Duration // How long Close waits for the session goroutine

	// WaitForAuthAck holds the session in Authenticating until the server
	// answers auth_success. Off by default: Ready follows the auth frame.
	WaitForAuthAck bool
	AuthTimeout    time.Duration

	// MaxSubscriptionsPerFrame splits subscribe frames. 0 means unlimited.
	MaxSubscriptionsPerFrame int

	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int // Inbound frame buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            DefaultURL,
		ReconnectDelay: 2 * time.Second,
		DialTimeout:    10 * time.Second,
		ConnectTimeout: 5 * time.Second,
		CloseTimeout:   5 * time.Second,
		AuthTimeout:    10 * time.Second,
		PingInterval:   30 * time.Second,
		PingTimeout:    60 * time.Second,
		WriteTimeout:   5 * time.Second,
		BufferSize:     1000,
	}
}

// withDefaults fills zero durations from DefaultConfig. ConnectTimeout and
// MaxSubscriptionsPerFrame keep their zero meaning.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	return c
}

func (c Config) transport() connection.Config {
	return connection.Config{
		URL:              c.URL,
		HandshakeTimeout: c.DialTimeout,
		PingInterval:     c.PingInterval,
		PingTimeout:      c.PingTimeout,
		WriteTimeout:     c.WriteTimeout,
		BufferSize:       c.BufferSize,
	}
}
