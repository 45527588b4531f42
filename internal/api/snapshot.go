package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const snapshotPath = "/v2/snapshot/locale/us/markets/stocks/tickers"

// ErrNoTickers is returned when a lookup names no ticker.
var ErrNoTickers = errors.New("no tickers given")

// Bar is an OHLCV bar inside a snapshot.
type Bar struct {
	Open   decimal.Decimal `json:"o"`
	High   decimal.Decimal `json:"h"`
	Low    decimal.Decimal `json:"l"`
	Close  decimal.Decimal `json:"c"`
	Volume decimal.Decimal `json:"v"`
	VWAP   decimal.Decimal `json:"vw"`
}

// MinuteBar is the most recent minute bar, with accumulated day volume.
type MinuteBar struct {
	Bar
	AccumulatedVolume decimal.Decimal `json:"av"`
	Transactions      int64           `json:"n"`
	Timestamp         int64           `json:"t"` // Unix ms
}

// LastQuote is the most recent NBBO quote.
type LastQuote struct {
	AskPrice  decimal.Decimal `json:"P"`
	AskSize   int64           `json:"S"`
	BidPrice  decimal.Decimal `json:"p"`
	BidSize   int64           `json:"s"`
	Timestamp int64           `json:"t"` // Unix ns
}

// LastTrade is the most recent trade.
type LastTrade struct {
	Conditions []int           `json:"c"`
	ID         string          `json:"i"`
	Price      decimal.Decimal `json:"p"`
	Size       int64           `json:"s"`
	Timestamp  int64           `json:"t"` // Unix ns
	Exchange   int             `json:"x"`
}

// Time returns the trade timestamp.
func (t LastTrade) Time() time.Time { return time.Unix(0, t.Timestamp) }

// Ticker is the point-in-time state of one symbol.
type Ticker struct {
	Ticker           string          `json:"ticker"`
	Day              Bar             `json:"day"`
	PrevDay          Bar             `json:"prevDay"`
	Min              MinuteBar       `json:"min"`
	LastQuote        LastQuote       `json:"lastQuote"`
	LastTrade        LastTrade       `json:"lastTrade"`
	TodaysChange     decimal.Decimal `json:"todaysChange"`
	TodaysChangePerc decimal.Decimal `json:"todaysChangePerc"`
	Updated          int64           `json:"updated"` // Unix ns
}

// Snapshot is the single-ticker response.
type Snapshot struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	Ticker    Ticker `json:"ticker"`
}

// Snapshots is the multi-ticker response.
type Snapshots struct {
	Status    string   `json:"status"`
	RequestID string   `json:"request_id,omitempty"`
	Count     int      `json:"count"`
	Tickers   []Ticker `json:"tickers"`
}

// GetSnapshot fetches the snapshot of one ticker.
func (c *Client) GetSnapshot(ctx context.Context, ticker string) (*Snapshot, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, ErrNoTickers
	}

	var resp Snapshot
	if err := c.get(ctx, snapshotPath+"/"+url.PathEscape(ticker), nil, &resp); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", ticker, err)
	}
	return &resp, nil
}

// GetSnapshots fetches the snapshots of several tickers in one request.
func (c *Client) GetSnapshots(ctx context.Context, tickers ...string) (*Snapshots, error) {
	cleaned := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoTickers
	}

	query := url.Values{}
	query.Set("tickers", strings.Join(cleaned, ","))

	var resp Snapshots
	if err := c.get(ctx, snapshotPath, query, &resp); err != nil {
		return nil, fmt.Errorf("snapshots: %w", err)
	}
	return &resp, nil
}

// GetSnapshotsEach fetches each ticker with its own request, at most limit at
// a time (limit <= 0 means no limit). Results keep the order of tickers. The
// first failure cancels the remaining requests.
func (c *Client) GetSnapshotsEach(ctx context.Context, limit int, tickers ...string) ([]Ticker, error) {
	if len(tickers) == 0 {
		return nil, ErrNoTickers
	}

	out := make([]Ticker, len(tickers))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, ticker := range tickers {
		g.Go(func() error {
			snap, err := c.GetSnapshot(ctx, ticker)
			if err != nil {
				return err
			}
			out[i] = snap.Ticker
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
