package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/tickstream/internal/wire"
)

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Tags lists the event tags a Recorder stores.
var Tags = []string{
	string(wire.ChannelTrades),
	string(wire.ChannelQuotes),
	string(wire.ChannelSecondAggregate),
	string(wire.ChannelMinuteAggregate),
}

// Config holds recorder settings.
type Config struct {
	BatchSize     int           // Rows per insert batch
	FlushInterval time.Duration // Max time a row waits before being written
	BufferSize    int           // Initial queue capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats contains recorder counters.
type Stats struct {
	Received  int64      `json:"received"`
	Skipped   int64      `json:"skipped"` // records with no table
	Inserts   int64      `json:"inserts"`
	Conflicts int64      `json:"conflicts"`
	Flushes   int64      `json:"flushes"`
	Errors    int64      `json:"errors"`
	Queue     QueueStats `json:"queue"`
}

// Recorder batches records into PostgreSQL.
type Recorder struct {
	cfg    Config
	db     DB
	logger *slog.Logger

	input *Queue[wire.Record]

	// Batching
	batch   []row
	batchMu sync.Mutex
	flushMu sync.Mutex // serializes writes so batches land in order

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed chan struct{} // closed when consumeLoop exits

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Recorder writing to db.
func New(cfg Config, db DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "recorder"),
		input:  NewQueue[wire.Record](cfg.BufferSize),
		batch:  make([]row, 0, cfg.BatchSize),

		ctx:      context.Background(),
		consumed: make(chan struct{}),
	}
}

// Handle enqueues rec. It never blocks and is meant to be registered as a
// stream handler for each of Tags.
func (r *Recorder) Handle(rec wire.Record) {
	if !r.input.Push(rec) {
		r.logger.Debug("recorder stopped, record ignored", "event", rec.Event)
	}
}

// Start begins consuming records and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.consumeLoop()
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued records, writes them and waits for the goroutines, up
// to ctx's deadline.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.input.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("recorder stop: %w", ctx.Err())
		r.logger.Warn("recorder stop timed out")
	}

	if r.cancel != nil {
		r.cancel()
	}
	return err
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.statsMu.Lock()
	s := r.stats
	r.statsMu.Unlock()
	s.Queue = r.input.Stats()
	return s
}

// consumeLoop moves records from the queue into the batch until the queue
// is closed and empty, then writes what is left.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()
	defer close(r.consumed)

	for {
		recs, ok := r.input.Pop(r.cfg.BatchSize)
		if !ok {
			r.flush()
			return
		}
		for _, rec := range recs {
			r.add(rec)
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.consumed:
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

// add transforms rec and appends it to the batch.
func (r *Recorder) add(rec wire.Record) {
	rw, ok := transform(rec)

	r.statsMu.Lock()
	r.stats.Received++
	if !ok {
		r.stats.Skipped++
	}
	r.statsMu.Unlock()
	if !ok {
		return
	}

	r.batchMu.Lock()
	r.batch = append(r.batch, rw)
	full := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if full {
		r.flush()
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush() {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}
	rows := r.batch
	r.batch = make([]row, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()
	conflicts, err := r.insert(rows)

	r.statsMu.Lock()
	if err != nil {
		r.stats.Errors++
	} else {
		r.stats.Inserts += int64(len(rows) - conflicts)
		r.stats.Conflicts += int64(conflicts)
		r.stats.Flushes++
	}
	r.statsMu.Unlock()

	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(rows))
		return
	}
	r.logger.Debug("flushed records",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// insert sends rows as one pgx.Batch. Rows that hit ON CONFLICT DO NOTHING
// are counted as conflicts.
func (r *Recorder) insert(rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, rw := range rows {
		rw.queue(batch)
	}

	// The final flush may run after cancellation.
	ctx := context.WithoutCancel(r.ctx)
	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, rw := range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", rw.table(), err)
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
