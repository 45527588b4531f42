package recorder

import (
	"context"
	"fmt"
)

// Schema creates the recorder tables. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		symbol      TEXT     NOT NULL,
		exchange    INTEGER  NOT NULL,
		trade_id    TEXT     NOT NULL,
		tape        SMALLINT NOT NULL,
		price       NUMERIC  NOT NULL,
		size        BIGINT   NOT NULL,
		conditions  INTEGER[],
		exchange_ts BIGINT   NOT NULL,
		received_at BIGINT   NOT NULL,
		PRIMARY KEY (symbol, exchange, trade_id)
	)`,
	`CREATE TABLE IF NOT EXISTS quotes (
		symbol       TEXT     NOT NULL,
		bid_exchange INTEGER  NOT NULL,
		bid_price    NUMERIC  NOT NULL,
		bid_size     BIGINT   NOT NULL,
		ask_exchange INTEGER  NOT NULL,
		ask_price    NUMERIC  NOT NULL,
		ask_size     BIGINT   NOT NULL,
		condition    INTEGER  NOT NULL,
		tape         SMALLINT NOT NULL,
		exchange_ts  BIGINT   NOT NULL,
		received_at  BIGINT   NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS quotes_symbol_ts ON quotes (symbol, exchange_ts)`,
	`CREATE TABLE IF NOT EXISTS aggregates (
		event              TEXT    NOT NULL,
		symbol             TEXT    NOT NULL,
		start_ts           BIGINT  NOT NULL,
		end_ts             BIGINT  NOT NULL,
		open               NUMERIC NOT NULL,
		high               NUMERIC NOT NULL,
		low                NUMERIC NOT NULL,
		close              NUMERIC NOT NULL,
		volume             BIGINT  NOT NULL,
		accumulated_volume BIGINT  NOT NULL,
		vwap               NUMERIC NOT NULL,
		day_vwap           NUMERIC NOT NULL,
		received_at        BIGINT  NOT NULL,
		PRIMARY KEY (event, symbol, start_ts)
	)`,
}

// EnsureSchema creates the recorder tables if they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range Schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
