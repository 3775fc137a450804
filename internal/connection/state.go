package connection

import (
	"errors"
	"time"
)

// State is the lifecycle state of the logical chat session.
type State int

const (
	// Disconnected means no transport exists. A retry may be pending.
	Disconnected State = iota
	// Connecting means a dial is in flight.
	Connecting
	// Open means the transport is live and frames can be sent.
	Open
	// Closing is held while a user-initiated close tears the transport down.
	Closing
	// Failed means reconnect attempts are exhausted. Only an explicit Connect leaves it.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	ClientID            string
	State               State
	ReconnectAttempts   int
	ConnectionStartedAt time.Time
	LastPongAt          time.Time
}

var (
	// ErrNotReady is returned by Send when the session is not Open.
	ErrNotReady = errors.New("not connected to server")
	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("message is empty")
)
