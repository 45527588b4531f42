package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tickstream/internal/api"
	"github.com/rickgao/tickstream/internal/subscription"
)

// SymbolSource provides the subscription keys to poll.
type SymbolSource interface {
	Subscriptions() []string
}

// Fetcher performs one multi-ticker snapshot request. *api.Client satisfies it.
type Fetcher interface {
	GetSnapshots(ctx context.Context, tickers ...string) (*api.Snapshots, error)
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	HandleSnapshot(ticker api.Ticker) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(api.Ticker) error

func (f SnapshotHandlerFunc) HandleSnapshot(t api.Ticker) error {
	return f(t)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 1m)
	BatchSize   int           // Tickers per request (default: 50)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		BatchSize:   50,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Stats contains poller counters.
type Stats struct {
	Cycles   int64 `json:"cycles"`
	Requests int64 `json:"requests"`
	Fetched  int64 `json:"fetched"`
	Errors   int64 `json:"errors"`
}

// Poller periodically fetches ticker snapshots via the REST API.
type Poller struct {
	cfg     Config
	client  Fetcher
	symbols SymbolSource
	handler SnapshotHandler
	logger  *slog.Logger

	mu     sync.RWMutex
	latest map[string]api.Ticker

	cycles   atomic.Int64
	requests atomic.Int64
	fetched  atomic.Int64
	errors   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. handler may be nil.
func New(cfg Config, client Fetcher, symbols SymbolSource, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		symbols: symbols,
		handler: handler,
		logger:  logger.With("component", "poller"),
		latest:  make(map[string]api.Ticker),
		ctx:     context.Background(),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"batch_size", p.cfg.BatchSize,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the most recent snapshot of ticker.
func (p *Poller) Latest(ticker string) (api.Ticker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.latest[ticker]
	return t, ok
}

// Snapshots returns the most recent snapshot of every polled ticker, sorted
// by ticker.
func (p *Poller) Snapshots() []api.Ticker {
	p.mu.RLock()
	out := make([]api.Ticker, 0, len(p.latest))
	for _, t := range p.latest {
		out = append(out, t)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:   p.cycles.Load(),
		Requests: p.requests.Load(),
		Fetched:  p.fetched.Load(),
		Errors:   p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches snapshots for all subscribed symbols, one request per
// batch, at most Concurrency requests in flight.
func (p *Poller) pollAll() {
	start := time.Now()
	p.cycles.Add(1)

	tickers := Tickers(p.symbols.Subscriptions())
	if len(tickers) == 0 {
		p.logger.Debug("no symbols to poll")
		return
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	var fetched, failed atomic.Int64
	for i := 0; i < len(tickers); i += p.cfg.BatchSize {
		batch := tickers[i:min(i+p.cfg.BatchSize, len(tickers))]
		if p.ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, err := p.pollBatch(batch)
			fetched.Add(int64(n))
			if err != nil {
				p.logger.Warn("failed to poll snapshots",
					"tickers", len(batch),
					"error", err,
				)
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	p.logger.Info("poll cycle complete",
		"tickers", len(tickers),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollBatch fetches and handles one batch. It returns the number of tickers
// stored.
func (p *Poller) pollBatch(batch []string) (int, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	p.requests.Add(1)
	resp, err := p.client.GetSnapshots(ctx, batch...)
	if err != nil {
		p.errors.Add(1)
		return 0, err
	}

	p.mu.Lock()
	for _, t := range resp.Tickers {
		p.latest[t.Ticker] = t
	}
	p.mu.Unlock()
	p.fetched.Add(int64(len(resp.Tickers)))

	if p.handler != nil {
		for _, t := range resp.Tickers {
			if err := p.handler.HandleSnapshot(t); err != nil {
				p.errors.Add(1)
				return len(resp.Tickers), err
			}
		}
	}

	return len(resp.Tickers), nil
}

// Tickers returns the distinct concrete symbols named by subscription keys,
// in first-seen order. Wildcards and malformed keys are skipped.
func Tickers(keys []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, key := range keys {
		sub, err := subscription.Parse(key)
		if err != nil || sub.Symbol == subscription.Wildcard || seen[sub.Symbol] {
			continue
		}
		seen[sub.Symbol] = true
		out = append(out, sub.Symbol)
	}
	return out
}
