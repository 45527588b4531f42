package wire

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// envelope is used for fast tag extraction before the typed decode.
type envelope struct {
	Ev *string `json:"ev"`
}

// Decode parses an inbound frame into records stamped with receivedAt.
//
// A frame that is not a JSON array (including null) yields no records and a
// single error wrapping ErrMalformedFrame. Otherwise each element is decoded
// on its own, in frame order, and failures are returned as *DecodeError
// values. An element without an ev tag is dropped. An element whose tag is
// known but whose fields do not fit the typed payload is still returned,
// carrying an *Unknown payload, and reported with ErrPayloadMismatch.
func Decode(frame []byte, receivedAt time.Time) ([]Record, []error) {
	if bytes.Equal(bytes.TrimSpace(frame), []byte("null")) {
		return nil, []error{fmt.Errorf("%w: null frame", ErrMalformedFrame)}
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(frame, &elems); err != nil {
		return nil, []error{fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}

	records := make([]Record, 0, len(elems))
	var errs []error
	for i, raw := range elems {
		rec, keep, err := decodeElement(raw, receivedAt)
		if err != nil {
			errs = append(errs, &DecodeError{Index: i, Raw: raw, Err: err})
		}
		if keep {
			records = append(records, rec)
		}
	}
	return records, errs
}

// decodeElement reports whether the element yields a record, plus any
// problem found on the way.
func decodeElement(raw json.RawMessage, receivedAt time.Time) (Record, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Record{}, false, err
	}
	if env.Ev == nil || *env.Ev == "" {
		return Record{}, false, ErrMissingEventType
	}
	tag := *env.Ev

	fields, err := decodeFields(raw)
	if err != nil {
		return Record{}, false, err
	}

	symbol, _ := fields["sym"].(string)
	rec := Record{
		Event:      tag,
		Symbol:     symbol,
		ReceivedAt: receivedAt,
		Fields:     fields,
	}

	payload, err := decodePayload(tag, raw, fields)
	if err != nil {
		rec.Payload = &Unknown{Event: tag, Fields: fields}
		return rec, true, fmt.Errorf("%w: %s: %v", ErrPayloadMismatch, tag, err)
	}
	rec.Payload = payload
	return rec, true, nil
}

// decodeFields keeps numbers as json.Number so opaque fields lose no precision.
func decodeFields(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func decodePayload(tag string, raw json.RawMessage, fields map[string]any) (Payload, error) {
	var p Payload
	switch tag {
	case string(ChannelTrades):
		p = &Trade{}
	case string(ChannelQuotes):
		p = &Quote{}
	case string(ChannelSecondAggregate), string(ChannelMinuteAggregate):
		p = &Aggregate{}
	case EventStatus:
		p = &Status{}
	default:
		return &Unknown{Event: tag, Fields: fields}, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}
