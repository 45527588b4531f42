package wire

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrMissingEventType = errors.New("missing ev field")
	ErrPayloadMismatch  = errors.New("payload does not match event type")
	ErrEmptyParams      = errors.New("control frame has no params")
	ErrUnknownAction    = errors.New("unknown control action")
)

// Channel is a feed category tag. Tags outside the known set are passed
// through untouched.
type Channel string

const (
	ChannelTrades          Channel = "T"
	ChannelQuotes          Channel = "Q"
	ChannelSecondAggregate Channel = "A"
	ChannelMinuteAggregate Channel = "AM"
)

// Event tags that never correspond to a subscribable channel.
const (
	EventStatus = "status"
	EventError  = "error"
)

// Status values sent by the server on the status tag.
const (
	StatusConnected   = "connected"
	StatusAuthSuccess = "auth_success"
	StatusAuthFailed  = "auth_failed"
	StatusSuccess     = "success"
	StatusError       = "error"
)

// Action is the verb of a control frame.
type Action string

const (
	ActionAuth        Action = "auth"
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

// ControlFrame is an outbound command.
type ControlFrame struct {
	Action Action `json:"action"`
	Params string `json:"params"`
}

// Keys splits subscribe/unsubscribe params into "channel.symbol" keys.
func (f ControlFrame) Keys() []string {
	if f.Params == "" {
		return nil
	}
	return strings.Split(f.Params, ",")
}

// Tape identifies the consolidated tape a trade was reported on.
type Tape int

const (
	TapeNYSE Tape = iota + 1
	TapeAMEX
	TapeNASDAQ
)

func (t Tape) String() string {
	switch t {
	case TapeNYSE:
		return "NYSE"
	case TapeAMEX:
		return "AMEX"
	case TapeNASDAQ:
		return "NASDAQ"
	}
	return fmt.Sprintf("Tape(%d)", int(t))
}

// Payload is the typed body of a Record. The concrete type is selected by
// the record's event tag.
type Payload interface {
	EventType() string
}

// Trade is a "T" event.
type Trade struct {
	Symbol     string          `json:"sym"`
	Exchange   int             `json:"x"`
	ID         string          `json:"i"`
	Tape       Tape            `json:"z"`
	Price      decimal.Decimal `json:"p"`
	Size       int64           `json:"s"`
	Conditions []int           `json:"c"`
	Timestamp  int64           `json:"t"` // Unix ms
}

func (*Trade) EventType() string { return string(ChannelTrades) }

// Time returns the exchange timestamp.
func (t *Trade) Time() time.Time { return time.UnixMilli(t.Timestamp) }

// Quote is a "Q" event.
type Quote struct {
	Symbol      string          `json:"sym"`
	BidExchange int             `json:"bx"`
	BidPrice    decimal.Decimal `json:"bp"`
	BidSize     int64           `json:"bs"`
	AskExchange int             `json:"ax"`
	AskPrice    decimal.Decimal `json:"ap"`
	AskSize     int64           `json:"as"`
	Condition   int             `json:"c"`
	Tape        Tape            `json:"z"`
	Timestamp   int64           `json:"t"` // Unix ms
}

func (*Quote) EventType() string { return string(ChannelQuotes) }

// Time returns the exchange timestamp.
func (q *Quote) Time() time.Time { return time.UnixMilli(q.Timestamp) }

// Aggregate is an "A" (per second) or "AM" (per minute) event.
type Aggregate struct {
	Event             string          `json:"ev"`
	Symbol            string          `json:"sym"`
	Volume            int64           `json:"v"`
	AccumulatedVolume int64           `json:"av"`
	OfficialOpen      decimal.Decimal `json:"op"`
	VWAP              decimal.Decimal `json:"vw"`
	Open              decimal.Decimal `json:"o"`
	Close             decimal.Decimal `json:"c"`
	High              decimal.Decimal `json:"h"`
	Low               decimal.Decimal `json:"l"`
	DayVWAP           decimal.Decimal `json:"a"`
	AverageSize       int64           `json:"z"`
	Start             int64           `json:"s"` // Unix ms
	End               int64           `json:"e"` // Unix ms
}

func (a *Aggregate) EventType() string { return a.Event }

// Status is a server informational message.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (*Status) EventType() string { return EventStatus }

// Unknown carries the raw fields of an event with an unrecognized tag, or of
// a known tag whose fields did not fit its typed payload.
type Unknown struct {
	Event  string
	Fields map[string]any
}

func (u *Unknown) EventType() string { return u.Event }

// Fault wraps an asynchronous error so it can travel the same dispatch path
// as data events.
type Fault struct {
	Err error
}

func (*Fault) EventType() string { return EventError }

// Record is one decoded inbound event.
type Record struct {
	Event      string
	Symbol     string
	ReceivedAt time.Time      // local receipt time, never taken from the wire
	Fields     map[string]any // every field of the wire object, including "ev"
	Payload    Payload
}

// NewFaultRecord builds the record used to deliver err to error observers.
func NewFaultRecord(err error, at time.Time) Record {
	return Record{
		Event:      EventError,
		ReceivedAt: at,
		Payload:    &Fault{Err: err},
	}
}

// Trade returns the payload as a Trade.
func (r Record) Trade() (*Trade, bool) {
	t, ok := r.Payload.(*Trade)
	return t, ok
}

// Quote returns the payload as a Quote.
func (r Record) Quote() (*Quote, bool) {
	q, ok := r.Payload.(*Quote)
	return q, ok
}

// Aggregate returns the payload as an Aggregate.
func (r Record) Aggregate() (*Aggregate, bool) {
	a, ok := r.Payload.(*Aggregate)
	return a, ok
}

// Status returns the payload as a Status.
func (r Record) Status() (*Status, bool) {
	s, ok := r.Payload.(*Status)
	return s, ok
}

// Err returns the wrapped error of a fault record, or nil.
func (r Record) Err() error {
	if f, ok := r.Payload.(*Fault); ok {
		return f.Err
	}
	return nil
}

// DecodeError reports one inbound element that could not be decoded.
// Index is the element's position in its frame.
type DecodeError struct {
	Index int
	Raw   []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode element %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
