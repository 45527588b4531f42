// Package recorder persists streamed records to PostgreSQL.
//
// A Recorder is registered as a handler for the trade, quote and aggregate
// tags. Handle only enqueues, so the stream's read loop never waits on the
// database; a single consumer batches rows and writes them with pgx.Batch
// when the batch is full or the flush interval elapses.
//
// Tables are append-only. Trades and aggregates are keyed so a replayed
// record after a reconnect is ignored by ON CONFLICT DO NOTHING.
// Timestamps are stored as integers: exchange times in Unix milliseconds,
// receipt times in Unix microseconds.
package recorder
