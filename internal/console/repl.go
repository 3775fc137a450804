package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/wschat/internal/connection"
	"github.com/ashureev/wschat/internal/domain"
)

// Session is the part of the connection manager the REPL drives.
type Session interface {
	Connect()
	Send(ctx context.Context, text string) error
	Status() connection.Status
}

// History is the part of the cache the REPL drives.
type History interface {
	Clear(ctx context.Context) error
	Export() domain.Snapshot
	Metadata() domain.CacheMetadata
	Len() int
}

// REPL reads user lines and turns them into messages or commands.
type REPL struct {
	session  Session
	history  History
	renderer *Renderer
	now      func() time.Time
}

// NewREPL creates a REPL.
func NewREPL(session Session, history History, renderer *Renderer) *REPL {
	return &REPL{session: session, history: history, renderer: renderer, now: time.Now}
}

// Run processes lines from in until EOF, /quit, or ctx is done.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle processes one input line and reports whether the REPL should stop.
func (r *REPL) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/status":
		r.printStatus()
	case "/logs":
		r.printLogs()
	case "/clear":
		if err := r.history.Clear(ctx); err != nil {
			r.renderer.Println("! Failed to clear cache:", err)
			return false
		}
		r.renderer.Println("* Chat history cleared")
	case "/export":
		r.export(arg)
	case "/reconnect":
		r.renderer.Println("* Reconnecting...")
		r.session.Connect()
	case "/help":
		r.printHelp()
	default:
		r.renderer.Println("! Unknown command", cmd, "(try /help)")
	}
	return false
}

func (r *REPL) send(ctx context.Context, text string) {
	err := r.session.Send(ctx, text)
	switch {
	case err == nil:
		r.renderer.PrintOwn(text, r.now())
	case errors.Is(err, connection.ErrNotReady), errors.Is(err, connection.ErrEmptyMessage):
		// Already reported through an error event, or nothing to send.
	default:
		slog.Debug("Send failed", "error", err)
	}
}

func (r *REPL) printStatus() {
	st := r.session.Status()
	meta := r.history.Metadata()

	var b strings.Builder
	fmt.Fprintf(&b, "Client:     %s\n", st.ClientID)
	fmt.Fprintf(&b, "State:      %s\n", st.State)
	fmt.Fprintf(&b, "Attempts:   %d\n", st.ReconnectAttempts)
	if !st.ConnectionStartedAt.IsZero() {
		fmt.Fprintf(&b, "Connected:  %s\n", st.ConnectionStartedAt.Local().Format(domain.DisplayTimeLayout))
	}
	if !st.LastPongAt.IsZero() {
		fmt.Fprintf(&b, "Last pong:  %s\n", st.LastPongAt.Local().Format(domain.DisplayTimeLayout))
	}
	fmt.Fprintf(&b, "Cached:     %d messages\n", r.history.Len())
	fmt.Fprintf(&b, "Sent:       %d messages", meta.MessageCount)
	if saved, ok := meta.LastSavedAt(); ok {
		fmt.Fprintf(&b, "\nLast saved: %s", saved.Local().Format(domain.DisplayTimeLayout))
	}
	r.renderer.Println(b.String())
}

func (r *REPL) printLogs() {
	entries := r.renderer.Logs()
	if len(entries) == 0 {
		r.renderer.Println("No logs yet")
		return
	}
	for _, e := range entries {
		r.renderer.Println(fmt.Sprintf("%s [%s] %s", e.At.Local().Format(domain.DisplayTimeLayout), e.Level, e.Message))
	}
}

func (r *REPL) export(path string) {
	snap := r.history.Export()
	if path == "" {
		path = ExportFileName(snap.ClientID, r.now())
	}
	if err := WriteExport(path, snap); err != nil {
		r.renderer.Println("! Export failed:", err)
		return
	}
	r.renderer.Println(fmt.Sprintf("* Exported %d messages to %s", len(snap.Messages), path))
}

func (r *REPL) printHelp() {
	r.renderer.Println(`Commands:
  /status          connection and cache details
  /logs            recent server log lines
  /clear           delete cached chat history
  /export [path]   write chat history as JSON
  /reconnect       connect again after a failure
  /quit            leave`)
}
