package stream

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rickgao/tickstream/internal/dispatch"
)

// Errors
var (
	ErrClosed         = errors.New("stream client closed")
	ErrConnectTimeout = errors.New("timed out waiting for ready")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrAuthTimeout    = errors.New("no authentication acknowledgment")
	ErrMissingAPIKey  = errors.New("api key is required")
	ErrCloseTimeout   = errors.New("timed out waiting for session to stop")
)

// State is the connection phase of a Client.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Ready
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TransportError reports a failure of the underlying connection. It always
// triggers a reconnect.
type TransportError struct {
	ConnID uuid.UUID
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.ConnID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Stats is a point-in-time view of a Client.
type Stats struct {
	State         State  `json:"state"`
	SessionID     string `json:"session_id,omitempty"`
	Subscriptions int    `json:"subscriptions"`

	Connects        int64 `json:"connects"`
	Reconnects      int64 `json:"reconnects"`
	Frames          int64 `json:"frames"`
	Records         int64 `json:"records"`
	DecodeErrors    int64 `json:"decode_errors"`
	TransportErrors int64 `json:"transport_errors"`

	Dispatch dispatch.Stats `json:"dispatch"`
}
