package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tickstream/internal/connection"
	"github.com/rickgao/tickstream/internal/dispatch"
	"github.com/rickgao/tickstream/internal/subscription"
	"github.com/rickgao/tickstream/internal/wire"
)

// Client is the streaming facade. It is safe for concurrent use.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	newConn    func(connection.Config, *slog.Logger) connection.Conn

	// mu guards everything below. The set, the state and the live
	// transport change together, so a replay and an incremental subscribe
	// can never interleave on the wire.
	mu      sync.Mutex
	state   State
	subs    *subscription.Set
	conn    connection.Conn
	abort   chan error    // fails the live session from outside the run loop
	ready   chan struct{} // closed on entering Ready, replaced on leaving it
	started bool
	closed  bool
	cancel  context.CancelFunc

	shutdown chan struct{}
	done     chan struct{}

	connects        atomic.Int64
	reconnects      atomic.Int64
	frames          atomic.Int64
	records         atomic.Int64
	decodeErrors    atomic.Int64
	transportErrors atomic.Int64
}

// New creates a disconnected client. Initial subscriptions from cfg are
// recorded and sent on the first Ready transition.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg = cfg.withDefaults()

	set := subscription.NewSet()
	if len(cfg.Subscriptions) > 0 {
		initial, err := subscription.ParseKeys(cfg.Subscriptions...)
		if err != nil {
			return nil, fmt.Errorf("initial subscriptions: %w", err)
		}
		set.Add(initial...)
	}

	logger = logger.With("component", "stream")
	return &Client{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatch.New(logger),
		newConn:    connection.NewConn,
		state:      Disconnected,
		subs:       set,
		ready:      make(chan struct{}),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Connect starts the session and waits until it is Ready. Calling Connect
// while a session is already running starts nothing new and waits on the
// same readiness signal.
//
// ErrConnectTimeout means Ready was not reached within ConnectTimeout; the
// attempt keeps running in the background. Connect returns ErrClosed once
// the client has been closed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.started {
		c.started = true
		runCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.run(runCtx)
	}
	if c.state == Ready {
		c.mu.Unlock()
		return nil
	}
	ready := c.ready
	c.mu.Unlock()

	var timeout <-chan time.Time
	if c.cfg.ConnectTimeout > 0 {
		timer := time.NewTimer(c.cfg.ConnectTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ready:
		return nil
	case <-c.shutdown:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return ErrConnectTimeout
	}
}

// Subscribe adds channel.symbol for each symbol. Only entries not already
// present are sent, and only while Ready; otherwise they go out with the
// next replay.
func (c *Client) Subscribe(channel wire.Channel, symbols ...string) error {
	subs, err := subscription.Normalize(channel, symbols...)
	if err != nil {
		return err
	}
	return c.subscribe(subs)
}

// SubscribeKeys is Subscribe for fully-qualified "channel.symbol" keys.
func (c *Client) SubscribeKeys(keys ...string) error {
	subs, err := subscription.ParseKeys(keys...)
	if err != nil {
		return err
	}
	return c.subscribe(subs)
}

// Unsubscribe removes channel.symbol for each symbol. Entries that were not
// subscribed are ignored.
func (c *Client) Unsubscribe(channel wire.Channel, symbols ...string) error {
	subs, err := subscription.Normalize(channel, symbols...)
	if err != nil {
		return err
	}
	return c.unsubscribe(subs)
}

// UnsubscribeKeys is Unsubscribe for fully-qualified keys.
func (c *Client) UnsubscribeKeys(keys ...string) error {
	subs, err := subscription.ParseKeys(keys...)
	if err != nil {
		return err
	}
	return c.unsubscribe(subs)
}

func (c *Client) subscribe(subs []subscription.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	added := c.subs.Add(subs...)
	if len(added) == 0 || c.state != Ready {
		return nil
	}
	c.sendLocked(wire.ActionSubscribe, added)
	return nil
}

func (c *Client) unsubscribe(subs []subscription.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	removed := c.subs.Remove(subs...)
	if len(removed) == 0 || c.state != Ready {
		return nil
	}
	c.sendLocked(wire.ActionUnsubscribe, removed)
	return nil
}

// sendLocked writes control frames for subs on the live transport. A write
// failure leaves the set as is and fails the session, whose replay will
// carry the entries.
func (c *Client) sendLocked(action wire.Action, subs []subscription.Subscription) {
	if err := c.writeLocked(action, subs); err != nil {
		c.logger.Warn("control frame not sent", "action", action, "error", err)
		select {
		case c.abort <- err:
		default:
		}
	}
}

func (c *Client) writeLocked(action wire.Action, subs []subscription.Subscription) error {
	if c.conn == nil {
		return fmt.Errorf("%s: %w", action, connection.ErrNotConnected)
	}
	encode := wire.EncodeSubscribe
	if action == wire.ActionUnsubscribe {
		encode = wire.EncodeUnsubscribe
	}
	for _, batch := range subscription.Batches(subs, c.cfg.MaxSubscriptionsPerFrame) {
		frame, err := encode(subscription.Keys(batch))
		if err != nil {
			return err
		}
		if err := c.conn.Send(frame); err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
	}
	return nil
}

// On registers h for records tagged tag. Handlers run on the session
// goroutine in registration order. Use wire.EventStatus for server status
// messages and wire.EventError for faults.
func (c *Client) On(tag string, h dispatch.Handler) {
	c.dispatcher.On(tag, h)
}

// OnError registers fn for asynchronous faults.
func (c *Client) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	c.dispatcher.On(wire.EventError, func(r wire.Record) {
		fn(r.Err())
	})
}

// Close shuts the client down for good: it cancels any pending reconnect,
// closes the transport and clears the subscription set. Further calls to
// Connect, Subscribe and Unsubscribe return ErrClosed. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(Disconnected)
	c.closed = true
	close(c.shutdown)
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.subs.Clear()
	started := c.started
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if !started {
		return nil
	}

	timer := time.NewTimer(c.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
		c.logger.Info("stream client closed")
		return nil
	case <-timer.C:
		c.logger.Warn("session did not stop in time", "timeout", c.cfg.CloseTimeout)
		return ErrCloseTimeout
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscriptions returns the current set as "channel.symbol" keys in the
// order they were added.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return subscription.Keys(c.subs.Snapshot())
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		State:         c.state,
		Subscriptions: c.subs.Len(),
	}
	if c.conn != nil {
		s.SessionID = c.conn.ID().String()
	}
	c.mu.Unlock()

	s.Connects = c.connects.Load()
	s.Reconnects = c.reconnects.Load()
	s.Frames = c.frames.Load()
	s.Records = c.records.Load()
	s.DecodeErrors = c.decodeErrors.Load()
	s.TransportErrors = c.transportErrors.Load()
	s.Dispatch = c.dispatcher.Stats()
	return s
}

// setStateLocked moves to s and maintains the readiness signal. Once closed,
// only Disconnected is accepted.
func (c *Client) setStateLocked(s State) {
	if c.closed || c.state == s {
		return
	}
	prev := c.state
	c.state = s

	switch {
	case s == Ready:
		close(c.ready)
	case prev == Ready:
		c.ready = make(chan struct{})
	}

	c.logger.Info("state changed", "from", prev, "to", s)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}
