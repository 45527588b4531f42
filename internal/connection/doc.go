// Package connection implements the physical feed transport.
//
// A Conn wraps exactly one WebSocket connection:
//   - Dials with a bounded handshake
//   - Stamps every inbound frame with its local receipt time
//   - Answers server pings and sends keepalive pings of its own
//   - Reports read failures and stale connections on Errors()
//
// A Conn is single-use. Reconnecting means closing it and creating a new
// one; the stream package owns that lifecycle.
package connection
