// Package subscription tracks the channel x symbol interests a stream client
// wants active.
//
// The Set is the authoritative record of caller intent. It changes only
// through Add and Remove, regardless of connection state, and is replayed in
// full after every reconnect. A Set is not safe for concurrent use; the
// owning client serializes access together with its connection state.
package subscription

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/tickstream/internal/wire"
)

// ErrInvalidSubscription reports an empty or malformed subscribe/unsubscribe request.
var ErrInvalidSubscription = errors.New("invalid subscription")

// Wildcard subscribes to every symbol on a channel.
const Wildcard = "*"

// Subscription is one channel/symbol interest.
type Subscription struct {
	Channel wire.Channel
	Symbol  string
}

// Key returns the canonical "channel.symbol" form used on the wire.
func (s Subscription) Key() string {
	return string(s.Channel) + "." + s.Symbol
}

func (s Subscription) String() string { return s.Key() }

// Parse parses a fully-qualified "channel.symbol" key. The channel ends at
// the first dot, so symbols such as "BRK.A" survive intact.
func Parse(key string) (Subscription, error) {
	key = strings.TrimSpace(key)
	channel, symbol, ok := strings.Cut(key, ".")
	if !ok {
		return Subscription{}, fmt.Errorf("%w: %q is not channel.symbol", ErrInvalidSubscription, key)
	}
	return newSubscription(channel, symbol)
}

// Normalize expands a channel and its symbols into subscriptions.
func Normalize(channel wire.Channel, symbols ...string) ([]Subscription, error) {
	subs := make([]Subscription, 0, len(symbols))
	for _, sym := range symbols {
		s, err := newSubscription(string(channel), sym)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: no symbols for channel %q", ErrInvalidSubscription, channel)
	}
	return subs, nil
}

// ParseKeys parses a list of fully-qualified keys.
func ParseKeys(keys ...string) ([]Subscription, error) {
	subs := make([]Subscription, 0, len(keys))
	for _, k := range keys {
		s, err := Parse(k)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrInvalidSubscription)
	}
	return subs, nil
}

// Keys returns the canonical keys of subs, in order.
func Keys(subs []Subscription) []string {
	keys := make([]string, len(subs))
	for i, s := range subs {
		keys[i] = s.Key()
	}
	return keys
}

func newSubscription(channel, symbol string) (Subscription, error) {
	channel = strings.TrimSpace(channel)
	symbol = strings.TrimSpace(symbol)

	switch {
	case channel == "":
		return Subscription{}, fmt.Errorf("%w: empty channel", ErrInvalidSubscription)
	case strings.ContainsAny(channel, "., "):
		return Subscription{}, fmt.Errorf("%w: bad channel %q", ErrInvalidSubscription, channel)
	case symbol == "":
		return Subscription{}, fmt.Errorf("%w: empty symbol for channel %q", ErrInvalidSubscription, channel)
	case strings.ContainsAny(symbol, ", "):
		return Subscription{}, fmt.Errorf("%w: bad symbol %q", ErrInvalidSubscription, symbol)
	}
	return Subscription{Channel: wire.Channel(channel), Symbol: symbol}, nil
}
