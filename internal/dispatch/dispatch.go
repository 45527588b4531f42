// Package dispatch routes decoded records to caller handlers keyed by event tag.
//
// Handlers for a tag run sequentially in registration order. Records whose
// tag has no handler are dropped; the tag set is open-ended. Asynchronous
// faults travel the same path under the wire.EventError tag.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tickstream/internal/wire"
)

// ErrHandlerPanic wraps a panic recovered from a handler.
var ErrHandlerPanic = errors.New("handler panic")

// Handler receives one record.
type Handler func(wire.Record)

// Stats contains dispatch counters.
type Stats struct {
	Dispatched int64 `json:"dispatched"` // records that reached at least one handler
	Dropped    int64 `json:"dropped"`    // records with no handler for their tag
	Faults     int64 `json:"faults"`     // fault records delivered through DispatchError
	Panics     int64 `json:"panics"`
}

// Dispatcher maps event tags to ordered handler lists.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	dispatched atomic.Int64
	dropped    atomic.Int64
	faults     atomic.Int64
	panics     atomic.Int64
}

// New creates an empty Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
}

// On appends h to the handlers for tag.
func (d *Dispatcher) On(tag string, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.handlers[tag] = append(d.handlers[tag], h)
	d.mu.Unlock()
}

// Has reports whether any handler is registered for tag.
func (d *Dispatcher) Has(tag string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[tag]) > 0
}

// Dispatch invokes every handler registered for rec.Event and returns how
// many ran. Handlers are called without holding the registry lock, so a
// handler may register further handlers; those apply from the next record.
func (d *Dispatcher) Dispatch(rec wire.Record) int {
	d.mu.RLock()
	hs := d.handlers[rec.Event]
	d.mu.RUnlock()

	if len(hs) == 0 {
		d.dropped.Add(1)
		return 0
	}

	for _, h := range hs {
		d.invoke(h, rec)
	}
	d.dispatched.Add(1)
	return len(hs)
}

// DispatchError delivers err to the error observers.
func (d *Dispatcher) DispatchError(err error) {
	if err == nil {
		return
	}
	d.faults.Add(1)
	d.Dispatch(wire.NewFaultRecord(err, time.Now()))
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Dropped:    d.dropped.Load(),
		Faults:     d.faults.Load(),
		Panics:     d.panics.Load(),
	}
}

func (d *Dispatcher) invoke(h Handler, rec wire.Record) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		d.panics.Add(1)
		d.logger.Error("handler panicked", "event", rec.Event, "panic", r)
		// A panicking error observer is not re-reported.
		if rec.Event != wire.EventError {
			d.DispatchError(fmt.Errorf("%w: event %q: %v", ErrHandlerPanic, rec.Event, r))
		}
	}()
	h(rec)
}
