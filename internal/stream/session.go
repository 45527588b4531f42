package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/tickstream/internal/connection"
	"github.com/rickgao/tickstream/internal/wire"
)

// run drives sessions until ctx is cancelled. Every failed session is
// followed by the fixed reconnect delay; there is no retry limit.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	delay := backoff.NewConstantBackOff(c.cfg.ReconnectDelay)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.reconnects.Add(1)
		}

		err := c.session(ctx)
		if ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return
		}

		c.setState(Reconnecting)

		var terr *TransportError
		if errors.As(err, &terr) {
			c.transportErrors.Add(1)
		}
		c.logger.Warn("session ended, reconnecting",
			"error", err,
			"delay", c.cfg.ReconnectDelay,
		)
		c.dispatcher.DispatchError(err)

		timer := time.NewTimer(delay.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one transport from dial to failure. It always returns a
// non-nil error.
func (c *Client) session(ctx context.Context) error {
	c.setState(Connecting)

	conn := c.newConn(c.cfg.transport(), c.logger)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	err := conn.Connect(dialCtx)
	cancel()
	if err != nil {
		return &TransportError{ConnID: conn.ID(), Err: fmt.Errorf("dial: %w", err)}
	}
	c.connects.Add(1)

	abort, err := c.open(conn)
	defer c.release(conn)
	if err != nil {
		return err
	}

	var authTimeout <-chan time.Time
	if c.cfg.WaitForAuthAck {
		timer := time.NewTimer(c.cfg.AuthTimeout)
		defer timer.Stop()
		authTimeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-conn.Messages():
			if err := c.handleFrame(conn, msg); err != nil {
				return err
			}

		case err := <-conn.Errors():
			c.setState(Reconnecting)
			c.drain(conn)
			return &TransportError{ConnID: conn.ID(), Err: err}

		case err := <-abort:
			c.setState(Reconnecting)
			return &TransportError{ConnID: conn.ID(), Err: err}

		case <-authTimeout:
			authTimeout = nil
			if c.State() == Authenticating {
				return fmt.Errorf("%w after %s", ErrAuthTimeout, c.cfg.AuthTimeout)
			}
		}
	}
}

// open installs conn as the live transport and authenticates. Without
// WaitForAuthAck the session becomes Ready as soon as the auth frame is out.
func (c *Client) open(conn connection.Conn) (chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	c.conn = conn
	c.abort = make(chan error, 1)
	c.setStateLocked(Authenticating)

	frame, err := wire.EncodeAuth(c.cfg.APIKey)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(frame); err != nil {
		return nil, &TransportError{ConnID: conn.ID(), Err: fmt.Errorf("auth: %w", err)}
	}
	c.logger.Debug("auth sent", "conn_id", conn.ID())

	if !c.cfg.WaitForAuthAck {
		if err := c.readyLocked(); err != nil {
			return nil, &TransportError{ConnID: conn.ID(), Err: err}
		}
	}
	return c.abort, nil
}

// readyLocked replays the whole subscription set and enters Ready.
func (c *Client) readyLocked() error {
	subs := c.subs.Snapshot()
	if len(subs) > 0 {
		if err := c.writeLocked(wire.ActionSubscribe, subs); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}
	c.logger.Info("subscriptions replayed", "count", len(subs))
	c.setStateLocked(Ready)
	return nil
}

// release detaches conn if it is still the live transport and closes it.
// The state leaves Ready in the same critical section, so no caller can see
// Ready without a transport.
func (c *Client) release(conn connection.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.abort = nil
		c.setStateLocked(Reconnecting)
	}
	c.mu.Unlock()
	conn.Close()
}

// drain dispatches frames that arrived before the transport failed.
func (c *Client) drain(conn connection.Conn) {
	for {
		select {
		case msg := <-conn.Messages():
			if err := c.handleFrame(conn, msg); err != nil {
				c.logger.Warn("frame after transport failure", "conn_id", conn.ID(), "error", err)
			}
		default:
			return
		}
	}
}

// handleFrame decodes one frame and dispatches its records in order. Decode
// failures are reported and never end the session; an auth rejection does.
func (c *Client) handleFrame(conn connection.Conn, msg connection.TimestampedMessage) error {
	c.frames.Add(1)

	records, errs := wire.Decode(msg.Data, msg.ReceivedAt)

	var sessionErr error
	for _, rec := range records {
		if st, ok := rec.Status(); ok {
			if err := c.observeStatus(conn, st); err != nil && sessionErr == nil {
				sessionErr = err
			}
		}
		c.records.Add(1)
		c.dispatcher.Dispatch(rec)
	}

	for _, err := range errs {
		c.decodeErrors.Add(1)
		c.logger.Warn("decode error", "error", err)
		c.dispatcher.DispatchError(err)
	}

	return sessionErr
}

func (c *Client) observeStatus(conn connection.Conn, st *wire.Status) error {
	c.logger.Debug("status", "status", st.Status, "message", st.Message)

	switch st.Status {
	case wire.StatusAuthSuccess:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != conn || c.state != Authenticating {
			return nil
		}
		if err := c.readyLocked(); err != nil {
			return &TransportError{ConnID: conn.ID(), Err: err}
		}
	case wire.StatusAuthFailed:
		return fmt.Errorf("%w: %s", ErrAuthFailed, st.Message)
	}
	return nil
}
