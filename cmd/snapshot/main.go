// snapshot fetches point-in-time ticker snapshots from the REST API and
// prints them as JSON.
// Usage: go run ./cmd/snapshot --config configs/streamer.example.yaml AAPL MSFT
//
// With no tickers on the command line, the symbols of the configured feed
// subscriptions are used.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"

	"github.com/rickgao/tickstream/internal/api"
	"github.com/rickgao/tickstream/internal/config"
	"github.com/rickgao/tickstream/internal/poller"
	"github.com/rickgao/tickstream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	each := flag.Bool("each", false, "fetch each ticker with its own request")
	concurrency := flag.Int("concurrency", 4, "max parallel requests with --each")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Feed.APIKey == "" {
		logger.Error("feed.api_key is required")
		os.Exit(1)
	}

	tickers := flag.Args()
	if len(tickers) == 0 {
		tickers = poller.Tickers(cfg.Feed.Subscriptions)
	}
	if len(tickers) == 0 {
		logger.Error("no tickers given and none subscribed in config")
		os.Exit(1)
	}

	logger.Info("fetching snapshots",
		"version", version.Version,
		"tickers", len(tickers),
		"each", *each,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(
		cfg.REST.URL,
		cfg.Feed.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.REST.Timeout),
		api.WithRetries(cfg.REST.MaxRetries, cfg.REST.RetryBackoff),
	)

	var out any
	if *each {
		out, err = client.GetSnapshotsEach(ctx, *concurrency, tickers...)
	} else {
		out, err = client.GetSnapshots(ctx, tickers...)
	}
	if err != nil {
		logger.Error("snapshot request failed", "error", err)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logger.Error("failed to encode result", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
