// Package wire implements the feed's wire codec.
//
// Outbound control frames are single JSON objects:
//
//	{"action":"auth","params":"<credential>"}
//	{"action":"subscribe","params":"T.AAPL,Q.MSFT"}
//	{"action":"unsubscribe","params":"T.AAPL"}
//
// Inbound frames are JSON arrays of event objects. Every element carries an
// "ev" tag; the tag selects the typed payload (Trade, Quote, Aggregate,
// Status) and anything else decodes as Unknown. Elements without a tag are
// skipped and reported individually, so one bad element never hides its
// siblings.
package wire
