package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/wschat/internal/cache"
	"github.com/ashureev/wschat/internal/event"
	"github.com/ashureev/wschat/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

var errDropped = errors.New("connection reset by peer")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writes   [][]byte
	readErr  error
	writeErr error
	reason   string
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// push delivers a raw frame to the client.
func (c *fakeConn) push(frame string) {
	c.in <- []byte(frame)
}

// drop simulates the network failing underneath the session.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	_ = c.Close("dropped")
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeConns, or fails while err is set.
type fakeDialer struct {
	mu    sync.Mutex
	err   error
	urls  []string
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.urls...)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) HandleEvent(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event{}, r.events...)
}

func (r *recorder) count(k event.Kind) int {
	n := 0
	for _, e := range r.all() {
		if e.Kind == k {
			n++
		}
	}
	return n
}

func (r *recorder) ofKind(k event.Kind) []event.Event {
	var out []event.Event
	for _, e := range r.all() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	mgr     *Manager
	dialer  *fakeDialer
	clock   *clock.Mock
	events  *recorder
	cache   *cache.Store
	storage *store.MemoryStorage
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC))

	h := &harness{
		dialer:  &fakeDialer{},
		clock:   mock,
		events:  &recorder{},
		storage: store.NewMemory(0),
	}
	h.cache = cache.New(h.storage, cache.Options{
		Keys:     store.NamespacedKeys("ai_chat"),
		ClientID: "client_self",
		Clock:    mock,
		Logger:   discardLogger(),
	})

	opts := Options{
		ServerURL:            "http://localhost:8000",
		ClientID:             "client_self",
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		HeartbeatInterval:    30 * time.Second,
		Dialer:               h.dialer,
		Cache:                h.cache,
		Bus:                  event.NewBus(h.events),
		Clock:                mock,
		Logger:               discardLogger(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.mgr = NewManager(opts)
	t.Cleanup(func() {
		h.mgr.Close()
		h.mgr.Wait()
	})
	return h
}

func (h *harness) state() State {
	return h.mgr.Status().State
}

// open connects and waits for the session to reach Open.
func (h *harness) open(t *testing.T) *fakeConn {
	t.Helper()
	h.mgr.Connect()
	require.Eventually(t, func() bool { return h.state() == Open }, time.Second, time.Millisecond)
	return h.dialer.last()
}
