// Package event defines the notifications the chat core sends to the presentation layer.
package event

import (
	"sync"
	"time"

	"github.com/ashureev/wschat/internal/domain"
)

// Kind enumerates the fixed set of event kinds.
type Kind int

const (
	// Connected fires when the session reaches Open.
	Connected Kind = iota + 1
	// Disconnected fires when an open session is lost or closed.
	Disconnected
	// Message carries chat content from the server (assistant or error role).
	Message
	// Typing reports another client's typing indicator.
	Typing
	// Log carries a server or client log line.
	Log
	// Error is a recoverable, user-visible failure.
	Error
	// ConnectionLost fires once when reconnect attempts are exhausted.
	ConnectionLost
)

func (k Kind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Message:
		return "message-received"
	case Typing:
		return "typing"
	case Log:
		return "log"
	case Error:
		return "error"
	case ConnectionLost:
		return "connection-lost"
	default:
		return "unknown"
	}
}

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind      Kind
	Content   string
	Role      domain.Role
	Level     string
	IsTyping  bool
	Timestamp time.Time
	Err       error
}

// Listener receives events.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// HandleEvent calls f(e).
func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// Bus fans events out to listeners one at a time, in emission order.
// A listener may emit or call back into the core; nested events are queued
// and delivered after the current one completes.
type Bus struct {
	mu        sync.Mutex
	listeners []Listener
	queue     []Event
	draining  bool
}

// NewBus creates a bus with the given initial listeners.
func NewBus(listeners ...Listener) *Bus {
	return &Bus{listeners: listeners}
}

// Subscribe adds a listener.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Emit queues e and delivers pending events unless another caller is already delivering.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		listeners := b.listeners
		b.mu.Unlock()

		for _, l := range listeners {
			l.HandleEvent(next)
		}

		b.mu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.mu.Unlock()
}
