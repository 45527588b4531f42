// Package poller periodically fetches REST snapshots for the symbols a
// stream client is subscribed to.
//
// The Snapshot Poller:
//   - Derives its ticker list from the live subscription set each cycle
//   - Requests tickers in batches, with bounded concurrency
//   - Keeps the latest snapshot per ticker for the status server
//   - Hands every fetched ticker to an optional handler
package poller
