// Package console renders chat events on a terminal and reads user input.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/wschat/internal/domain"
	"github.com/ashureev/wschat/internal/event"
	"github.com/ashureev/wschat/internal/protocol"
)

// DefaultLogCapacity is how many log lines /logs can show.
const DefaultLogCapacity = 200

// LogEntry is a log line kept for /logs.
type LogEntry struct {
	Level   string
	Message string
	At      time.Time
}

// Renderer prints events as they arrive. It implements event.Listener.
type Renderer struct {
	mu     sync.Mutex
	out    io.Writer
	logs   *Ring[LogEntry]
	typing bool
	quiet  bool
}

// NewRenderer creates a Renderer writing to out.
func NewRenderer(out io.Writer, logCapacity int) *Renderer {
	if logCapacity <= 0 {
		logCapacity = DefaultLogCapacity
	}
	return &Renderer{out: out, logs: NewRing[LogEntry](logCapacity)}
}

// SetQuietLogs stops log events from being printed. They are still kept for /logs.
func (r *Renderer) SetQuietLogs(quiet bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quiet = quiet
}

// HandleEvent renders e.
func (r *Renderer) HandleEvent(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	switch e.Kind {
	case event.Connected:
		r.printf("* Connected to server\n")
	case event.Disconnected:
		r.typing = false
		r.printf("* Disconnected from server\n")
	case event.Message:
		r.typing = false
		r.printMessage(e.Role, e.Content, at.Local().Format(domain.DisplayTimeLayout))
	case event.Typing:
		if e.IsTyping && !r.typing {
			r.printf("  AI is typing...\n")
		}
		r.typing = e.IsTyping
	case event.Log:
		level := e.Level
		if level == "" {
			level = protocol.LevelInfo
		}
		r.logs.Push(LogEntry{Level: level, Message: e.Content, At: at})
		if !r.quiet {
			r.printf("  [%s] %s\n", level, e.Content)
		}
	case event.Error:
		r.printf("! %s\n", e.Content)
	case event.ConnectionLost:
		r.printf("x %s Type /reconnect to try again.\n", e.Content)
	}
}

// PrintHistory renders previously cached messages.
func (r *Renderer) PrintHistory(msgs []domain.CachedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	r.printf("-- %d cached messages --\n", len(msgs))
	for _, m := range msgs {
		r.printMessage(m.Role, m.Content, m.Timestamp)
	}
	r.printf("--\n")
}

// PrintOwn renders a message the local user just sent.
func (r *Renderer) PrintOwn(content string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printMessage(domain.RoleUser, content, at.Local().Format(domain.DisplayTimeLayout))
}

// Logs returns the retained log entries, oldest first.
func (r *Renderer) Logs() []LogEntry {
	return r.logs.Items()
}

// Println writes a line of free-form output.
func (r *Renderer) Println(a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, a...)
}

func (r *Renderer) printMessage(role domain.Role, content, stamp string) {
	label := "AI"
	switch role {
	case domain.RoleUser:
		label = "You"
	case domain.RoleError:
		label = "Error"
	}
	indent := strings.Repeat(" ", len(label)+2)
	body := strings.ReplaceAll(strings.TrimRight(content, "\n"), "\n", "\n"+indent)
	r.printf("[%s] %s: %s\n", stamp, label, body)
}

func (r *Renderer) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}
