package recorder

import (
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rickgao/tickstream/internal/wire"
)

// row is one pending insert.
type row interface {
	queue(b *pgx.Batch)
	table() string
}

type tradeRow struct {
	Symbol     string
	Exchange   int
	TradeID    string
	Tape       int
	Price      decimal.Decimal
	Size       int64
	Conditions []int32
	ExchangeTs int64 // Unix ms
	ReceivedAt int64 // Unix µs
}

func (tradeRow) table() string { return "trades" }

func (r tradeRow) queue(b *pgx.Batch) {
	b.Queue(`
		INSERT INTO trades (symbol, exchange, trade_id, tape, price, size, conditions, exchange_ts, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, exchange, trade_id) DO NOTHING
	`, r.Symbol, r.Exchange, r.TradeID, r.Tape, r.Price, r.Size, r.Conditions, r.ExchangeTs, r.ReceivedAt)
}

type quoteRow struct {
	Symbol      string
	BidExchange int
	BidPrice    decimal.Decimal
	BidSize     int64
	AskExchange int
	AskPrice    decimal.Decimal
	AskSize     int64
	Condition   int
	Tape        int
	ExchangeTs  int64
	ReceivedAt  int64
}

func (quoteRow) table() string { return "quotes" }

func (r quoteRow) queue(b *pgx.Batch) {
	b.Queue(`
		INSERT INTO quotes (symbol, bid_exchange, bid_price, bid_size, ask_exchange, ask_price, ask_size, condition, tape, exchange_ts, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.Symbol, r.BidExchange, r.BidPrice, r.BidSize, r.AskExchange, r.AskPrice, r.AskSize, r.Condition, r.Tape, r.ExchangeTs, r.ReceivedAt)
}

type aggregateRow struct {
	Event             string // A or AM
	Symbol            string
	StartTs           int64
	EndTs             int64
	Open              decimal.Decimal
	High              decimal.Decimal
	Low               decimal.Decimal
	Close             decimal.Decimal
	Volume            int64
	AccumulatedVolume int64
	VWAP              decimal.Decimal
	DayVWAP           decimal.Decimal
	ReceivedAt        int64
}

func (aggregateRow) table() string { return "aggregates" }

func (r aggregateRow) queue(b *pgx.Batch) {
	b.Queue(`
		INSERT INTO aggregates (event, symbol, start_ts, end_ts, open, high, low, close, volume, accumulated_volume, vwap, day_vwap, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event, symbol, start_ts) DO NOTHING
	`, r.Event, r.Symbol, r.StartTs, r.EndTs, r.Open, r.High, r.Low, r.Close, r.Volume, r.AccumulatedVolume, r.VWAP, r.DayVWAP, r.ReceivedAt)
}

// transform converts a record to a row. It returns false for payloads the
// recorder does not store.
func transform(rec wire.Record) (row, bool) {
	received := rec.ReceivedAt.UnixMicro()

	switch p := rec.Payload.(type) {
	case *wire.Trade:
		conds := make([]int32, len(p.Conditions))
		for i, c := range p.Conditions {
			conds[i] = int32(c)
		}
		return tradeRow{
			Symbol:     p.Symbol,
			Exchange:   p.Exchange,
			TradeID:    p.ID,
			Tape:       int(p.Tape),
			Price:      p.Price,
			Size:       p.Size,
			Conditions: conds,
			ExchangeTs: p.Timestamp,
			ReceivedAt: received,
		}, true

	case *wire.Quote:
		return quoteRow{
			Symbol:      p.Symbol,
			BidExchange: p.BidExchange,
			BidPrice:    p.BidPrice,
			BidSize:     p.BidSize,
			AskExchange: p.AskExchange,
			AskPrice:    p.AskPrice,
			AskSize:     p.AskSize,
			Condition:   p.Condition,
			Tape:        int(p.Tape),
			ExchangeTs:  p.Timestamp,
			ReceivedAt:  received,
		}, true

	case *wire.Aggregate:
		return aggregateRow{
			Event:             p.Event,
			Symbol:            p.Symbol,
			StartTs:           p.Start,
			EndTs:             p.End,
			Open:              p.Open,
			High:              p.High,
			Low:               p.Low,
			Close:             p.Close,
			Volume:            p.Volume,
			AccumulatedVolume: p.AccumulatedVolume,
			VWAP:              p.VWAP,
			DayVWAP:           p.DayVWAP,
			ReceivedAt:        received,
		}, true
	}
	return nil, false
}
