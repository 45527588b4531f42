// Package api provides the REST client for one-shot snapshot lookups.
//
// Endpoints:
//   - Production: https://api.polygon.io
//   - Single ticker: /v2/snapshot/locale/us/markets/stocks/tickers/{ticker}
//   - Ticker list:   /v2/snapshot/locale/us/markets/stocks/tickers?tickers=A,B
//
// Requests carry the API key as a bearer token and are retried with jittered
// exponential backoff on 5xx and 429 responses.
package api
