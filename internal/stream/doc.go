// Package stream is the market-data streaming client.
//
// A Client owns one logical session with the feed. It authenticates, keeps
// the caller's subscription set, replays that set in full every time the
// session becomes Ready, and reconnects after a fixed delay whenever the
// transport fails. Inbound frames are decoded and dispatched to handlers
// registered with On, in receipt order, on a single goroutine.
//
// Asynchronous faults (transport failures, decode errors, auth rejections)
// are delivered as records tagged "error"; OnError is a shorthand for
// observing them.
//
// Usage:
//
//	client, err := stream.New(stream.Config{APIKey: key}, logger)
//	client.On("T", func(r wire.Record) { ... })
//	client.Subscribe(wire.ChannelTrades, "AAPL", "MSFT")
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close()
package stream
