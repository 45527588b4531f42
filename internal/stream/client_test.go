package stream

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/tickstream/internal/connection"
	"github.com/rickgao/tickstream/internal/subscription"
	"github.com/rickgao/tickstream/internal/wire"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// received is one control frame seen by the feed, tagged with the index of
// the connection it arrived on.
type received struct {
	conn  int
	frame wire.ControlFrame
}

// feedServer is a minimal feed: it records control frames, optionally
// answers auth, and lets tests push frames or drop connections.
type feedServer struct {
	t   *testing.T
	srv *httptest.Server

	authReply string // status sent after an auth frame, if set

	mu     sync.Mutex
	writes sync.Mutex
	conns  []*websocket.Conn
	frames []received
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()

	f := &feedServer{t: t}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer ws.Close()

		f.mu.Lock()
		idx := len(f.conns)
		f.conns = append(f.conns, ws)
		f.mu.Unlock()

		f.write(ws, `[{"ev":"status","status":"connected","message":"Connected Successfully"}]`)

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			frame, err := wire.ParseControl(data)
			if err != nil {
				t.Logf("bad control frame %q: %v", data, err)
				continue
			}

			f.mu.Lock()
			f.frames = append(f.frames, received{conn: idx, frame: frame})
			reply := f.authReply
			f.mu.Unlock()

			if frame.Action == wire.ActionAuth && reply != "" {
				f.write(ws, `[{"ev":"status","status":"`+reply+`","message":"`+reply+`"}]`)
			}
		}
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *feedServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *feedServer) write(ws *websocket.Conn, data string) {
	f.writes.Lock()
	defer f.writes.Unlock()
	// Write errors surface as missing frames in the assertions.
	ws.WriteMessage(websocket.TextMessage, []byte(data))
}

// send pushes a frame on connection i.
func (f *feedServer) send(i int, data string) {
	f.mu.Lock()
	ws := f.conns[i]
	f.mu.Unlock()
	f.write(ws, data)
}

// drop closes connection i without a close handshake.
func (f *feedServer) drop(i int) {
	f.mu.Lock()
	ws := f.conns[i]
	f.mu.Unlock()
	ws.UnderlyingConn().Close()
}

func (f *feedServer) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// sent returns the frames received for action, optionally filtered by conn
// (-1 for all).
func (f *feedServer) sent(action wire.Action, conn int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var params []string
	for _, r := range f.frames {
		if r.frame.Action != action {
			continue
		}
		if conn >= 0 && r.conn != conn {
			continue
		}
		params = append(params, r.frame.Params)
	}
	return params
}

func (f *feedServer) waitSent(action wire.Action, conn int, params string) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		for _, p := range f.sent(action, conn) {
			if p == params {
				return true
			}
		}
		return false
	}, waitFor, tick, "feed never received %s %q", action, params)
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.APIKey = "test-key"
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.ConnectTimeout = waitFor
	cfg.CloseTimeout = time.Second
	cfg.PingInterval = 0
	return cfg
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// collector gathers records delivered to a handler.
type collector struct {
	mu      sync.Mutex
	records []wire.Record
}

func (c *collector) handle(r wire.Record) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *collector) all() []wire.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Record(nil), c.records...)
}

// fakeConn is an in-memory transport. When hold is set, Close blocks until
// unblock is called.
type fakeConn struct {
	id      uuid.UUID
	msgs    chan connection.TimestampedMessage
	errs    chan error
	closing chan struct{}
	hold    chan struct{}

	closeOnce   sync.Once
	unblockOnce sync.Once

	mu   sync.Mutex
	sent []string
}

func newFakeConn(hold bool) *fakeConn {
	f := &fakeConn{
		id:      uuid.New(),
		msgs:    make(chan connection.TimestampedMessage, 16),
		errs:    make(chan error, 1),
		closing: make(chan struct{}),
	}
	if hold {
		f.hold = make(chan struct{})
	}
	return f
}

func (f *fakeConn) ID() uuid.UUID                                  { return f.id }
func (f *fakeConn) Connect(context.Context) error                  { return nil }
func (f *fakeConn) IsConnected() bool                              { return true }
func (f *fakeConn) Errors() <-chan error                           { return f.errs }
func (f *fakeConn) Messages() <-chan connection.TimestampedMessage { return f.msgs }

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, string(data))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closing) })
	if f.hold != nil {
		<-f.hold
	}
	return nil
}

func (f *fakeConn) unblock() {
	if f.hold != nil {
		f.unblockOnce.Do(func() { close(f.hold) })
	}
}

func (f *fakeConn) push(data string) {
	f.msgs <- connection.TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

func (f *fakeConn) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// useConn makes every dial of c return conn.
func useConn(c *Client, conn connection.Conn) {
	c.newConn = func(connection.Config, *slog.Logger) connection.Conn { return conn }
}

func TestNew(t *testing.T) {
	t.Run("requires api key", func(t *testing.T) {
		_, err := New(Config{}, nil)
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("rejects bad initial subscription", func(t *testing.T) {
		_, err := New(Config{APIKey: "k", Subscriptions: []string{"TAAPL"}}, nil)
		assert.ErrorIs(t, err, subscription.ErrInvalidSubscription)
	})

	t.Run("seeds initial subscriptions", func(t *testing.T) {
		c, err := New(Config{APIKey: "k", Subscriptions: []string{"T.AAPL", "Q.MSFT", "T.AAPL"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"T.AAPL", "Q.MSFT"}, c.Subscriptions())
		assert.Equal(t, Disconnected, c.State())
	})

	t.Run("fills defaults", func(t *testing.T) {
		c, err := New(Config{APIKey: "k"}, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultURL, c.cfg.URL)
		assert.Equal(t, 2*time.Second, c.cfg.ReconnectDelay)
	})
}

func TestClient_ConnectAuthenticates(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, Ready, c.State())

	feed.waitSent(wire.ActionAuth, 0, "test-key")
	assert.Empty(t, feed.sent(wire.ActionSubscribe, -1), "empty set must not be replayed")

	stats := c.Stats()
	assert.Equal(t, Ready, stats.State)
	assert.NotEmpty(t, stats.SessionID)
	assert.Equal(t, int64(1), stats.Connects)
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	feed.waitSent(wire.ActionAuth, 0, "test-key")

	assert.Equal(t, 1, feed.connCount())
	assert.Len(t, feed.sent(wire.ActionAuth, -1), 1)
}

func TestClient_SubscribeMultipleSymbolsOneFrame(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Subscribe(wire.ChannelTrades, "AAPL", "MSFT"))

	feed.waitSent(wire.ActionSubscribe, 0, "T.AAPL,T.MSFT")
	assert.Equal(t, []string{"T.AAPL,T.MSFT"}, feed.sent(wire.ActionSubscribe, -1))
}

func TestClient_DuplicateSubscribeSendsOnce(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Subscribe(wire.ChannelTrades, "AAPL"))
	require.NoError(t, c.SubscribeKeys("T.AAPL"))
	// Frames on one connection arrive in order; once the sentinel is seen
	// any duplicate would have been seen too.
	require.NoError(t, c.Subscribe(wire.ChannelQuotes, "MSFT"))

	feed.waitSent(wire.ActionSubscribe, 0, "Q.MSFT")
	assert.Equal(t, []string{"T.AAPL", "Q.MSFT"}, feed.sent(wire.ActionSubscribe, -1))
	assert.Equal(t, []string{"T.AAPL", "Q.MSFT"}, c.Subscriptions())
}

func TestClient_SubscribeOnlySendsNewEntries(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Subscribe(wire.ChannelTrades, "AAPL"))
	require.NoError(t, c.Subscribe(wire.ChannelTrades, "AAPL", "MSFT"))

	feed.waitSent(wire.ActionSubscribe, 0, "T.MSFT")
	assert.Equal(t, []string{"T.AAPL", "T.MSFT"}, feed.sent(wire.ActionSubscribe, -1))
}

func TestClient_Unsubscribe(t *testing.T) {
	feed := newFeedServer(t)
	cfg := testConfig(feed.url())
	cfg.Subscriptions = []string{"T.AAPL", "T.MSFT"}
	c := newTestClient(t, cfg)
	require.NoError(t, c.Connect(context.Background()))

	t.Run("absent entry is a no-op", func(t *testing.T) {
		require.NoError(t, c.Unsubscribe(wire.ChannelQuotes, "TSLA"))
	})

	t.Run("present entry is removed and sent", func(t *testing.T) {
		require.NoError(t, c.UnsubscribeKeys("T.MSFT", "Q.NVDA"))
		feed.waitSent(wire.ActionUnsubscribe, 0, "T.MSFT")
		assert.Equal(t, []string{"T.AAPL"}, c.Subscriptions())
	})

	assert.Equal(t, []string{"T.MSFT"}, feed.sent(wire.ActionUnsubscribe, -1))
}

func TestClient_InvalidSubscription(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))
	require.NoError(t, c.Connect(context.Background()))

	tests := []struct {
		name string
		call func() error
	}{
		{"no symbols", func() error { return c.Subscribe(wire.ChannelTrades) }},
		{"empty symbol", func() error { return c.Subscribe(wire.ChannelTrades, "") }},
		{"no keys", func() error { return c.SubscribeKeys() }},
		{"unqualified key", func() error { return c.SubscribeKeys("AAPL") }},
		{"unsubscribe no symbols", func() error { return c.Unsubscribe(wire.ChannelTrades) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), subscription.ErrInvalidSubscription)
		})
	}

	assert.Empty(t, c.Subscriptions())
	assert.Empty(t, feed.sent(wire.ActionSubscribe, -1))
}

func TestClient_SubscribeWhileDisconnectedIsDeferred(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))

	require.NoError(t, c.Subscribe(wire.ChannelTrades, "AAPL"))
	require.NoError(t, c.SubscribeKeys("Q.MSFT"))
	assert.Equal(t, 0, feed.connCount())

	require.NoError(t, c.Connect(context.Background()))

	feed.waitSent(wire.ActionSubscribe, 0, "T.AAPL,Q.MSFT")
	assert.Equal(t, []string{"T.AAPL,Q.MSFT"}, feed.sent(wire.ActionSubscribe, -1))
}

func TestClient_ReplaySplitsFrames(t *testing.T) {
	feed := newFeedServer(t)
	cfg := testConfig(feed.url())
	cfg.Subscriptions = []string{"T.AAPL", "T.MSFT", "T.NVDA"}
	cfg.MaxSubscriptionsPerFrame = 2
	c := newTestClient(t, cfg)

	require.NoError(t, c.Connect(context.Background()))

	feed.waitSent(wire.ActionSubscribe, 0, "T.NVDA")
	assert.Equal(t, []string{"T.AAPL,T.MSFT", "T.NVDA"}, feed.sent(wire.ActionSubscribe, -1))
}

func TestClient_ReconnectReplaysSetOnce(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))

	var errs []error
	var mu sync.Mutex
	c.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Subscribe(wire.ChannelTrades, "AAPL"))
	feed.waitSent(wire.ActionSubscribe, 0, "T.AAPL")

	feed.drop(0)

	feed.waitSent(wire.ActionAuth, 1, "test-key")
	feed.waitSent(wire.ActionSubscribe, 1, "T.AAPL")
	require.Eventually(t, func() bool { return c.State() == Ready }, waitFor, tick)

	// Sentinel on the new connection orders any stray replay before it.
	require.NoError(t, c.Subscribe(wire.ChannelQuotes, "AAPL"))
	feed.waitSent(wire.ActionSubscribe, 1, "Q.AAPL")

	assert.Equal(t, []string{"T.AAPL"}, feed.sent(wire.ActionSubscribe, 0))
	assert.Equal(t, []string{"T.AAPL", "Q.AAPL"}, feed.sent(wire.ActionSubscribe, 1))
	assert.Equal(t, 2, feed.connCount())

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Connects)
	assert.Equal(t, int64(1), stats.Reconnects)
	assert.Equal(t, int64(1), stats.TransportErrors)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	var terr *TransportError
	assert.ErrorAs(t, errs[0], &terr)
}

func TestClient_NoDuplicateDispatchAcrossReconnect(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))

	trades := &collector{}
	c.On(string(wire.ChannelTrades), trades.handle)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Subscribe(wire.ChannelTrades, "AAPL"))
	feed.waitSent(wire.ActionSubscribe, 0, "T.AAPL")

	feed.send(0, `[{"ev":"T","sym":"AAPL","i":"1","p":190.5,"s":100,"t":1700000000000}]`)
	require.Eventually(t, func() bool { return trades.len() == 1 }, waitFor, tick)

	feed.drop(0)
	feed.waitSent(wire.ActionSubscribe, 1, "T.AAPL")

	feed.send(1, `[{"ev":"T","sym":"AAPL","i":"2","p":190.6,"s":50,"t":1700000000001}]`)
	require.Eventually(t, func() bool { return trades.len() >= 2 }, waitFor, tick)

	// Give a duplicate time to show up.
	time.Sleep(50 * time.Millisecond)

	got := trades.all()
	require.Len(t, got, 2)
	first, ok := got[0].Trade()
	require.True(t, ok)
	second, ok := got[1].Trade()
	require.True(t, ok)
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)
}

func TestClient_SubscribeWhileReconnectingIsReplayed(t *testing.T) {
	feed := newFeedServer(t)
	cfg := testConfig(feed.url())
	cfg.ReconnectDelay = 200 * time.Millisecond
	c := newTestClient(t, cfg)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Subscribe(wire.ChannelTrades, "AAPL"))
	feed.waitSent(wire.ActionSubscribe, 0, "T.AAPL")

	feed.drop(0)
	require.Eventually(t, func() bool { return c.State() == Reconnecting }, waitFor, tick)

	require.NoError(t, c.Subscribe(wire.ChannelTrades, "MSFT"))
	require.NoError(t, c.Unsubscribe(wire.ChannelTrades, "AAPL"))

	feed.waitSent(wire.ActionSubscribe, 1, "T.MSFT")
	assert.Equal(t, []string{"T.AAPL"}, feed.sent(wire.ActionSubscribe, 0))
	assert.Equal(t, []string{"T.MSFT"}, feed.sent(wire.ActionSubscribe, 1))
	assert.Empty(t, feed.sent(wire.ActionUnsubscribe, -1))
}

func TestClient_DecodeErrorSkipsElement(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))

	trades := &collector{}
	statuses := &collector{}
	faults := &collector{}
	c.On("T", trades.handle)
	c.On(wire.EventStatus, statuses.handle)
	c.On(wire.EventError, faults.handle)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return statuses.len() == 1 }, waitFor, tick)

	feed.send(0, `[{"ev":"T","sym":"X"},{"sym":"missing-ev"},{"ev":"T","sym":"Y"}]`)
	feed.send(0, `[{"ev":"status","status":"success","message":"done"}]`)
	require.Eventually(t, func() bool { return statuses.len() == 2 }, waitFor, tick)

	got := trades.all()
	require.Len(t, got, 2)
	assert.Equal(t, "X", got[0].Symbol)
	assert.Equal(t, "Y", got[1].Symbol)
	assert.False(t, got[0].ReceivedAt.IsZero())

	fs := faults.all()
	require.Len(t, fs, 1)
	var derr *wire.DecodeError
	require.ErrorAs(t, fs[0].Err(), &derr)
	assert.Equal(t, 1, derr.Index)
	assert.ErrorIs(t, derr, wire.ErrMissingEventType)

	assert.Equal(t, int64(1), c.Stats().DecodeErrors)
}

func TestClient_MalformedFrameKeepsSession(t *testing.T) {
	feed := newFeedServer(t)
	cfg := testConfig(feed.url())
	cfg.Subscriptions = []string{"T.AAPL"}
	c := newTestClient(t, cfg)

	faults := &collector{}
	c.On(wire.EventError, faults.handle)

	require.NoError(t, c.Connect(context.Background()))
	feed.send(0, `not json`)

	require.Eventually(t, func() bool { return faults.len() == 1 }, waitFor, tick)
	assert.ErrorIs(t, faults.all()[0].Err(), wire.ErrMalformedFrame)
	assert.Equal(t, Ready, c.State())
	assert.Equal(t, []string{"T.AAPL"}, c.Subscriptions())
	assert.Equal(t, 1, feed.connCount())
}

func TestClient_UnknownTagDispatchedByLiteralTag(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))

	lulds := &collector{}
	c.On("LULD", lulds.handle)

	require.NoError(t, c.Connect(context.Background()))
	feed.send(0, `[{"ev":"XX","sym":"AAPL"},{"ev":"LULD","T":"AAPL","h":200.1}]`)

	require.Eventually(t, func() bool { return lulds.len() == 1 }, waitFor, tick)
	rec := lulds.all()[0]
	assert.Equal(t, "LULD", rec.Event)
	assert.Contains(t, rec.Fields, "h")
}

func TestClient_CloseIsTerminal(t *testing.T) {
	feed := newFeedServer(t)
	cfg := testConfig(feed.url())
	cfg.Subscriptions = []string{"T.AAPL"}
	c := newTestClient(t, cfg)
	require.NoError(t, c.Connect(context.Background()))
	feed.waitSent(wire.ActionSubscribe, 0, "T.AAPL")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Subscribe(wire.ChannelTrades, "MSFT"), ErrClosed)
	assert.ErrorIs(t, c.SubscribeKeys("T.MSFT"), ErrClosed)
	assert.ErrorIs(t, c.Unsubscribe(wire.ChannelTrades, "AAPL"), ErrClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)

	assert.Equal(t, Disconnected, c.State())
	assert.Empty(t, c.Subscriptions())
	assert.Equal(t, []string{"T.AAPL"}, feed.sent(wire.ActionSubscribe, -1))
}

func TestClient_CloseCancelsPendingReconnect(t *testing.T) {
	feed := newFeedServer(t)
	cfg := testConfig(feed.url())
	cfg.ReconnectDelay = time.Minute
	c := newTestClient(t, cfg)
	require.NoError(t, c.Connect(context.Background()))

	feed.drop(0)
	require.Eventually(t, func() bool { return c.State() == Reconnecting }, waitFor, tick)

	start := time.Now()
	require.NoError(t, c.Close())
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, Disconnected, c.State())
	assert.Equal(t, 1, feed.connCount())
}

func TestClient_CloseBeforeConnect(t *testing.T) {
	c, err := New(Config{APIKey: "k"}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestClient_ConnectHonoursContext(t *testing.T) {
	feed := newFeedServer(t)
	cfg := testConfig(feed.url())
	cfg.WaitForAuthAck = true
	c := newTestClient(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Connect(ctx), context.DeadlineExceeded)
}

func TestClient_WaitForAuthAck(t *testing.T) {
	t.Run("ready after auth_success", func(t *testing.T) {
		feed := newFeedServer(t)
		feed.authReply = wire.StatusAuthSuccess
		cfg := testConfig(feed.url())
		cfg.WaitForAuthAck = true
		cfg.Subscriptions = []string{"T.AAPL"}
		c := newTestClient(t, cfg)

		require.NoError(t, c.Connect(context.Background()))
		assert.Equal(t, Ready, c.State())
		feed.waitSent(wire.ActionSubscribe, 0, "T.AAPL")
	})

	t.Run("connect times out without ack", func(t *testing.T) {
		feed := newFeedServer(t)
		cfg := testConfig(feed.url())
		cfg.WaitForAuthAck = true
		cfg.ConnectTimeout = 100 * time.Millisecond
		cfg.Subscriptions = []string{"T.AAPL"}
		c := newTestClient(t, cfg)

		assert.ErrorIs(t, c.Connect(context.Background()), ErrConnectTimeout)
		assert.Equal(t, Authenticating, c.State())
		assert.Empty(t, feed.sent(wire.ActionSubscribe, -1))
	})

	t.Run("auth timeout reconnects", func(t *testing.T) {
		feed := newFeedServer(t)
		cfg := testConfig(feed.url())
		cfg.WaitForAuthAck = true
		cfg.AuthTimeout = 50 * time.Millisecond
		cfg.ConnectTimeout = 20 * time.Millisecond
		c := newTestClient(t, cfg)

		faults := &collector{}
		c.On(wire.EventError, faults.handle)

		c.Connect(context.Background())
		require.Eventually(t, func() bool { return faults.len() >= 1 }, waitFor, tick)
		assert.ErrorIs(t, faults.all()[0].Err(), ErrAuthTimeout)
		require.Eventually(t, func() bool { return feed.connCount() >= 2 }, waitFor, tick)
	})

	t.Run("auth_failed is reported", func(t *testing.T) {
		feed := newFeedServer(t)
		feed.authReply = wire.StatusAuthFailed
		cfg := testConfig(feed.url())
		cfg.WaitForAuthAck = true
		cfg.ConnectTimeout = 100 * time.Millisecond
		cfg.ReconnectDelay = time.Minute
		c := newTestClient(t, cfg)

		var mu sync.Mutex
		var got []error
		c.OnError(func(err error) {
			mu.Lock()
			got = append(got, err)
			mu.Unlock()
		})

		assert.ErrorIs(t, c.Connect(context.Background()), ErrConnectTimeout)
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 1
		}, waitFor, tick)

		mu.Lock()
		defer mu.Unlock()
		assert.True(t, errors.Is(got[0], ErrAuthFailed))
		assert.Equal(t, Reconnecting, c.State())
	})
}

func TestClient_AuthFailedLeavesReadyBeforeTransportCloses(t *testing.T) {
	cfg := testConfig("ws://unused")
	cfg.WaitForAuthAck = false
	cfg.ReconnectDelay = time.Minute
	c := newTestClient(t, cfg)

	conn := newFakeConn(true)
	t.Cleanup(conn.unblock)
	useConn(c, conn)

	faults := &collector{}
	c.On(wire.EventError, faults.handle)

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, Ready, c.State())

	conn.push(`[{"ev":"status","status":"auth_failed","message":"bad key"}]`)

	select {
	case <-conn.closing:
	case <-time.After(waitFor):
		t.Fatal("transport was never closed")
	}

	// The old transport is still closing here.
	assert.Equal(t, Reconnecting, c.State())
	assert.NotPanics(t, func() {
		assert.NoError(t, c.Subscribe(wire.ChannelTrades, "AAPL"))
	})
	assert.Equal(t, []string{"T.AAPL"}, c.Subscriptions())

	conn.unblock()
	require.Eventually(t, func() bool { return faults.len() == 1 }, waitFor, tick)
	assert.ErrorIs(t, faults.all()[0].Err(), ErrAuthFailed)

	for _, frame := range conn.frames() {
		assert.NotContains(t, frame, "T.AAPL", "nothing may be written to a released transport")
	}
}

func TestClient_WriteWithoutTransport(t *testing.T) {
	c, err := New(Config{APIKey: "k"}, nil)
	require.NoError(t, err)

	subs, err := subscription.Normalize(wire.ChannelTrades, "AAPL")
	require.NoError(t, err)

	c.mu.Lock()
	err = c.writeLocked(wire.ActionSubscribe, subs)
	c.mu.Unlock()
	assert.ErrorIs(t, err, connection.ErrNotConnected)
}

func TestClient_RunStopsQuietlyOnceClosed(t *testing.T) {
	c, err := New(testConfig("ws://unused"), nil)
	require.NoError(t, err)
	useConn(c, newFakeConn(false))

	faults := &collector{}
	c.On(wire.EventError, faults.handle)

	// Closed but the run context not yet cancelled, as between the two
	// steps of Close.
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.run(ctx)

	select {
	case <-c.done:
	case <-time.After(waitFor):
		t.Fatal("run did not stop after close")
	}
	assert.Zero(t, faults.len())
	assert.Zero(t, c.Stats().TransportErrors)
}

func TestClient_DrainLogsSessionErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c, err := New(Config{APIKey: "k"}, logger)
	require.NoError(t, err)

	statuses := &collector{}
	c.On(wire.EventStatus, statuses.handle)

	conn := newFakeConn(false)
	conn.push(`[{"ev":"status","status":"auth_failed","message":"bad key"}]`)

	c.drain(conn)

	assert.Equal(t, 1, statuses.len())
	assert.Contains(t, buf.String(), "frame after transport failure")
	assert.Contains(t, buf.String(), ErrAuthFailed.Error())
}

func TestClient_MismatchedPayloadIsDispatched(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))

	trades := &collector{}
	faults := &collector{}
	c.On("T", trades.handle)
	c.On(wire.EventError, faults.handle)

	require.NoError(t, c.Connect(context.Background()))
	feed.send(0, `[{"ev":"T","sym":"AAPL","s":1.5}]`)

	require.Eventually(t, func() bool { return trades.len() == 1 && faults.len() == 1 }, waitFor, tick)
	rec := trades.all()[0]
	assert.Equal(t, "AAPL", rec.Symbol)
	_, ok := rec.Trade()
	assert.False(t, ok)
	assert.ErrorIs(t, faults.all()[0].Err(), wire.ErrPayloadMismatch)
	assert.Equal(t, Ready, c.State())
}

func TestClient_HandlerPanicDoesNotStopSession(t *testing.T) {
	feed := newFeedServer(t)
	c := newTestClient(t, testConfig(feed.url()))

	trades := &collector{}
	c.On("T", func(wire.Record) { panic("boom") })
	c.On("T", trades.handle)

	require.NoError(t, c.Connect(context.Background()))
	feed.send(0, `[{"ev":"T","sym":"AAPL"}]`)
	feed.send(0, `[{"ev":"T","sym":"MSFT"}]`)

	require.Eventually(t, func() bool { return trades.len() == 2 }, waitFor, tick)
	assert.Equal(t, Ready, c.State())
	assert.Equal(t, int64(2), c.Stats().Dispatch.Panics)
}

func TestClient_DialFailureRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.ConnectTimeout = 50 * time.Millisecond
	c := newTestClient(t, cfg)

	assert.ErrorIs(t, c.Connect(context.Background()), ErrConnectTimeout)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	}, waitFor, tick)
	assert.NotEqual(t, Ready, c.State())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Authenticating, "authenticating"},
		{Ready, "ready"},
		{Reconnecting, "reconnecting"},
		{State(42), "state(42)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
