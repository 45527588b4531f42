package wire

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// EncodeAuth builds the authenticate frame carrying credential.
func EncodeAuth(credential string) ([]byte, error) {
	if credential == "" {
		return nil, fmt.Errorf("auth: %w", ErrEmptyParams)
	}
	return json.Marshal(ControlFrame{Action: ActionAuth, Params: credential})
}

// EncodeSubscribe builds one subscribe frame for the given "channel.symbol" keys.
func EncodeSubscribe(keys []string) ([]byte, error) {
	return encodeKeys(ActionSubscribe, keys)
}

// EncodeUnsubscribe builds one unsubscribe frame for the given keys.
func EncodeUnsubscribe(keys []string) ([]byte, error) {
	return encodeKeys(ActionUnsubscribe, keys)
}

func encodeKeys(action Action, keys []string) ([]byte, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %w", action, ErrEmptyParams)
	}
	return json.Marshal(ControlFrame{Action: action, Params: strings.Join(keys, ",")})
}

// ParseControl decodes an outbound control frame. Feed simulators and tests
// use it to read what a client sent.
func ParseControl(data []byte) (ControlFrame, error) {
	var f ControlFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ControlFrame{}, fmt.Errorf("parse control frame: %w", err)
	}
	switch f.Action {
	case ActionAuth, ActionSubscribe, ActionUnsubscribe:
		return f, nil
	}
	return ControlFrame{}, fmt.Errorf("%w: %q", ErrUnknownAction, f.Action)
}
