// streamer connects to the real-time feed, prints decoded events and
// optionally records them to Postgres.
// Usage: go run ./cmd/streamer --config configs/streamer.example.yaml
//
// Required environment variables (when referenced from the config):
//
//	POLYGON_API_KEY - feed and REST credential
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/scmhub/calendar"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tickstream/internal/api"
	"github.com/rickgao/tickstream/internal/config"
	"github.com/rickgao/tickstream/internal/database"
	"github.com/rickgao/tickstream/internal/poller"
	"github.com/rickgao/tickstream/internal/recorder"
	"github.com/rickgao/tickstream/internal/status"
	"github.com/rickgao/tickstream/internal/stream"
	"github.com/rickgao/tickstream/internal/version"
	"github.com/rickgao/tickstream/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full record JSON")
	quiet := flag.Bool("quiet", false, "do not print records")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.String(),
		"config", *configPath,
		"feed", cfg.Feed.URL,
		"subscriptions", len(cfg.Feed.Subscriptions),
	)
	logMarketHours(logger, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	client, err := stream.New(streamConfig(cfg), logger)
	if err != nil {
		logger.Error("failed to create stream client", "error", err)
		os.Exit(1)
	}

	if !*quiet {
		printer := &printer{verbose: *verbose}
		for _, tag := range []string{
			string(wire.ChannelTrades),
			string(wire.ChannelQuotes),
			string(wire.ChannelSecondAggregate),
			string(wire.ChannelMinuteAggregate),
		} {
			client.On(tag, printer.print)
		}
	}
	client.On(wire.EventStatus, func(r wire.Record) {
		if st, ok := r.Status(); ok {
			logger.Info("feed status", "status", st.Status, "message", st.Message)
		}
	})
	client.OnError(func(err error) {
		var terr *stream.TransportError
		var derr *wire.DecodeError
		switch {
		case errors.As(err, &terr):
			logger.Warn("transport error", "conn_id", terr.ConnID, "error", terr.Err)
		case errors.As(err, &derr):
			logger.Warn("decode error", "index", derr.Index, "error", derr.Err)
		default:
			logger.Warn("stream error", "error", err)
		}
	})

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Recorder.Database.Host,
			"port", cfg.Recorder.Database.Port,
			"database", cfg.Recorder.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Recorder.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := recorder.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger)
		for _, tag := range recorder.Tags {
			client.On(tag, rec.Handle)
		}
		if err := rec.Start(ctx); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
		logger.Info("recorder started")
	}

	if err := client.Connect(ctx); err != nil {
		switch {
		case errors.Is(err, stream.ErrConnectTimeout):
			logger.Warn("feed not ready yet, still connecting", "timeout", cfg.Connection.ConnectTimeout)
		case errors.Is(err, context.Canceled):
		default:
			logger.Error("failed to connect", "error", err)
			os.Exit(1)
		}
	}

	var poll *poller.Poller
	if cfg.Poller.Enabled {
		restClient := api.NewClient(
			cfg.REST.URL,
			cfg.Feed.APIKey,
			api.WithLogger(logger),
			api.WithTimeout(cfg.REST.Timeout),
			api.WithRetries(cfg.REST.MaxRetries, cfg.REST.RetryBackoff),
		)
		poll = poller.New(poller.Config{
			Interval:    cfg.Poller.Interval,
			BatchSize:   cfg.Poller.BatchSize,
			Concurrency: cfg.Poller.Concurrency,
			Timeout:     cfg.REST.Timeout,
		}, restClient, client, nil, logger)
		if err := poll.Start(ctx); err != nil {
			logger.Error("failed to start snapshot poller", "error", err)
			os.Exit(1)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Status.Enabled {
		var recStats status.Recorder
		if rec != nil {
			recStats = rec
		}
		srv := status.NewServer(cfg.Status.Port, client, recStats, logger)
		if poll != nil {
			srv.SetPoller(poll)
		}
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info("streamer running", "state", client.State())

	if err := g.Wait(); err != nil {
		logger.Error("streamer error", "error", err)
	}

	logger.Info("shutting down...")

	if poll != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := poll.Stop(stopCtx); err != nil {
			logger.Warn("poller stop", "error", err)
		}
		stopCancel()
	}

	if err := client.Close(); err != nil {
		logger.Warn("stream close", "error", err)
	}

	if rec != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := rec.Stop(stopCtx); err != nil {
			logger.Warn("recorder stop", "error", err)
		}
		s := rec.Stats()
		logger.Info("recorder stopped", "inserts", s.Inserts, "conflicts", s.Conflicts, "errors", s.Errors)
	}

	s := client.Stats()
	logger.Info("streamer stopped",
		"records", s.Records,
		"reconnects", s.Reconnects,
		"decode_errors", s.DecodeErrors,
	)
}

func streamConfig(cfg *config.StreamerConfig) stream.Config {
	return stream.Config{
		URL:                      cfg.Feed.URL,
		APIKey:                   cfg.Feed.APIKey,
		Subscriptions:            cfg.Feed.Subscriptions,
		ReconnectDelay:           cfg.Connection.ReconnectDelay,
		DialTimeout:              cfg.Connection.DialTimeout,
		ConnectTimeout:           cfg.Connection.ConnectTimeout,
		WaitForAuthAck:           cfg.Connection.WaitForAuthAck,
		AuthTimeout:              cfg.Connection.AuthTimeout,
		MaxSubscriptionsPerFrame: cfg.Connection.MaxSubscriptionsPerFrame,
		PingInterval:             cfg.Connection.PingInterval,
		PingTimeout:              cfg.Connection.PingTimeout,
		WriteTimeout:             cfg.Connection.WriteTimeout,
		BufferSize:               cfg.Connection.BufferSize,
	}
}

// logMarketHours notes when the stream starts outside regular NYSE hours,
// where the feed is mostly quiet.
func logMarketHours(logger *slog.Logger, now time.Time) {
	cal := calendar.GetCalendar("xnys")
	if cal == nil {
		logger.Debug("market calendar unavailable")
		return
	}
	if !cal.IsOpen(now) {
		logger.Info("market is closed, expect little traffic",
			"local_time", now.In(cal.Loc).Format(time.DateTime),
		)
	}
}

type printer struct {
	verbose bool
	count   int64
}

// print runs on the session goroutine only, so count needs no lock.
func (p *printer) print(r wire.Record) {
	p.count++
	ts := r.ReceivedAt.Format("15:04:05.000")

	if p.verbose {
		data, err := json.Marshal(r.Payload)
		if err != nil {
			fmt.Printf("[%s] #%d %s %s: <unprintable: %v>\n", ts, p.count, r.Event, r.Symbol, err)
			return
		}
		fmt.Printf("[%s] #%d %s %s %s\n", ts, p.count, r.Event, r.Symbol, data)
		return
	}

	switch {
	case r.Event == string(wire.ChannelTrades):
		if t, ok := r.Trade(); ok {
			fmt.Printf("[%s] #%d T  %-6s %s x %d (tape %s)\n", ts, p.count, t.Symbol, t.Price, t.Size, t.Tape)
			return
		}
	case r.Event == string(wire.ChannelQuotes):
		if q, ok := r.Quote(); ok {
			fmt.Printf("[%s] #%d Q  %-6s %s x %d / %s x %d\n", ts, p.count, q.Symbol,
				q.BidPrice, q.BidSize, q.AskPrice, q.AskSize)
			return
		}
	default:
		if a, ok := r.Aggregate(); ok {
			fmt.Printf("[%s] #%d %-2s %-6s o=%s h=%s l=%s c=%s v=%d\n", ts, p.count, a.Event, a.Symbol,
				a.Open, a.High, a.Low, a.Close, a.Volume)
			return
		}
	}
	fmt.Printf("[%s] #%d %s %s\n", ts, p.count, r.Event, r.Symbol)
}
