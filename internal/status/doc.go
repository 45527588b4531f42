// Package status serves the streamer's health and counters over HTTP.
//
// Routes:
//   - GET /healthz            200 while the stream is Ready, 503 otherwise
//   - GET /stats              stream, recorder and poller counters
//   - GET /subscriptions      the current subscription set
//   - GET /snapshots          latest polled snapshots (404 without a poller)
//   - GET /snapshots/:ticker  latest polled snapshot of one ticker
package status
