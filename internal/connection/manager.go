// Package connection maintains the client's WebSocket session with the chat server.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ashureev/wschat/internal/domain"
	"github.com/ashureev/wschat/internal/event"
	"github.com/ashureev/wschat/internal/protocol"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultReconnectBaseDelay = time.Second
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
)

// Recorder receives chat messages for the local cache. *cache.Store satisfies it.
type Recorder interface {
	Append(ctx context.Context, content string, role domain.Role, at time.Time) domain.CachedMessage
	Persist(ctx context.Context) error
}

// Options configures a Manager.
type Options struct {
	ServerURL            string
	ClientID             string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration

	Dialer Dialer
	Cache  Recorder
	Bus    *event.Bus
	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager owns at most one live transport and drives reconnects, heartbeats
// and inbound dispatch.
type Manager struct {
	serverURL         string
	clientID          string
	maxAttempts       int
	baseDelay         time.Duration
	heartbeatInterval time.Duration
	handshakeTimeout  time.Duration

	dialer Dialer
	cache  Recorder
	bus    *event.Bus
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	startedAt time.Time
	lastPong  time.Time
	conn      Conn
	// gen identifies the current dial/session; callbacks from older ones are ignored.
	gen      uint64
	cancel   context.CancelFunc
	retry    *clock.Timer
	retrySeq uint64

	// recordMu orders cache appends so a user message is recorded before
	// the reply it triggers.
	recordMu sync.Mutex

	wg sync.WaitGroup
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(opts Options) *Manager {
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Manager{
		serverURL:         opts.ServerURL,
		clientID:          opts.ClientID,
		maxAttempts:       opts.MaxReconnectAttempts,
		baseDelay:         opts.ReconnectBaseDelay,
		heartbeatInterval: opts.HeartbeatInterval,
		handshakeTimeout:  opts.HandshakeTimeout,
		dialer:            opts.Dialer,
		cache:             opts.Cache,
		bus:               opts.Bus,
		clock:             opts.Clock,
		logger:            opts.Logger.With("client_id", opts.ClientID),
	}
}

// Bus returns the bus events are emitted on.
func (m *Manager) Bus() *event.Bus {
	return m.bus
}

// Status returns a snapshot of the session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		ClientID:            m.clientID,
		State:               m.state,
		ReconnectAttempts:   m.attempts,
		ConnectionStartedAt: m.startedAt,
		LastPongAt:          m.lastPong,
	}
}

// IsOpen reports whether messages can be sent.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Open && m.conn != nil
}

// Connect starts a session. It is a no-op while Connecting or Open. From Failed
// it clears the failure and resets the attempt counter; a pending retry is
// replaced by an immediate dial.
func (m *Manager) Connect() {
	m.mu.Lock()
	switch m.state {
	case Connecting, Open, Closing:
		m.mu.Unlock()
		return
	case Failed:
		m.attempts = 0
		m.state = Disconnected
	}
	m.stopRetryLocked()
	events := m.startDialLocked()
	m.mu.Unlock()

	m.emit(events...)
}

// Close ends the session at the user's request. Pending retries and the
// heartbeat are cancelled and no reconnect follows. Close does not block on
// the transport; use Wait to join background goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	prev := m.state
	m.stopRetryLocked()
	m.state = Closing
	m.gen++
	conn, cancel := m.conn, m.cancel
	m.conn, m.cancel = nil, nil
	m.attempts = 0
	m.startedAt = time.Time{}
	m.state = Disconnected
	m.mu.Unlock()

	if conn != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := conn.Close("client closed"); err != nil {
				m.logger.Debug("Transport close returned error", "error", err)
			}
			if cancel != nil {
				cancel()
			}
		}()
	} else if cancel != nil {
		cancel()
	}

	m.persistCache()
	if prev != Open {
		return
	}
	m.logger.Info("Connection closed by client")
	m.emit(event.Event{Kind: event.Disconnected, Timestamp: m.clock.Now()})
}

// Wait blocks until every background goroutine started by the Manager has exited.
// Call it after Close; never from an event listener.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Send writes a chat message. It returns ErrNotReady unless the session is Open.
func (m *Manager) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	conn := m.conn
	ready := m.state == Open && conn != nil
	m.mu.Unlock()

	now := m.clock.Now()
	if !ready {
		m.emit(event.Event{Kind: event.Error, Content: "Not connected to server", Err: ErrNotReady, Timestamp: now})
		return ErrNotReady
	}

	data, err := protocol.EncodeMessage(text, m.clientID, now)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	m.recordMu.Lock()
	err = conn.Write(ctx, data)
	if err == nil && m.cache != nil {
		m.cache.Append(ctx, text, domain.RoleUser, now)
	}
	m.recordMu.Unlock()

	if err != nil {
		m.logger.Warn("Failed to send message", "error", err)
		m.emit(event.Event{Kind: event.Error, Content: "Failed to send message", Err: err, Timestamp: now})
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (m *Manager) startDialLocked() []event.Event {
	target, err := BuildURL(m.serverURL, m.clientID)
	if err != nil {
		m.state = Disconnected
		m.logger.Error("Cannot build server URL", "server_url", m.serverURL, "error", err)
		return []event.Event{{
			Kind:      event.Error,
			Content:   "Invalid server address",
			Err:       err,
			Timestamp: m.clock.Now(),
		}}
	}

	m.state = Connecting
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.logger.Debug("Dialing chat server", "url", target, "attempt", m.attempts)
	m.wg.Add(1)
	go m.dial(ctx, gen, target)
	return nil
}

func (m *Manager) dial(ctx context.Context, gen uint64, target string) {
	defer m.wg.Done()

	dialCtx, cancelDial := context.WithTimeout(ctx, m.handshakeTimeout)
	conn, err := m.dialer.Dial(dialCtx, target)
	cancelDial()

	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close("superseded")
		}
		return
	}
	if err != nil {
		m.logger.Warn("Connection attempt failed", "error", err, "attempt", m.attempts)
		events, _ := m.lostLocked(err)
		m.mu.Unlock()
		m.emit(events...)
		return
	}

	m.conn = conn
	m.state = Open
	m.attempts = 0
	m.startedAt = m.clock.Now()
	m.wg.Add(2)
	go m.readLoop(ctx, gen, conn)
	go m.heartbeat(ctx, conn)
	m.mu.Unlock()

	m.logger.Info("Connected to chat server", "url", target)
	m.emit(event.Event{Kind: event.Connected, Timestamp: m.clock.Now()})
}

// lostLocked forgets the current transport after a failure and applies the
// retry policy. wasOpen reports whether the session had reached Open. The
// caller closes the old Conn once the lock is released.
func (m *Manager) lostLocked(cause error) (events []event.Event, wasOpen bool) {
	wasOpen = m.state == Open
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.conn = nil
	m.startedAt = time.Time{}
	m.state = Disconnected

	now := m.clock.Now()
	if wasOpen {
		events = append(events, event.Event{Kind: event.Disconnected, Err: cause, Timestamp: now})
	}

	if m.attempts < m.maxAttempts {
		m.attempts++
		delay := Backoff(m.baseDelay, m.attempts)
		m.scheduleRetryLocked(delay)
		m.logger.Info("Scheduling reconnect", "attempt", m.attempts, "max_attempts", m.maxAttempts, "delay", delay)
		events = append(events, event.Event{
			Kind:      event.Log,
			Level:     protocol.LevelInfo,
			Content:   fmt.Sprintf("Reconnecting in %s (attempt %d/%d)", delay, m.attempts, m.maxAttempts),
			Timestamp: now,
		})
		return events, wasOpen
	}

	m.state = Failed
	m.logger.Error("Reconnect attempts exhausted", "attempts", m.attempts, "error", cause)
	events = append(events, event.Event{
		Kind:      event.ConnectionLost,
		Content:   "Connection lost. Please refresh or reconnect.",
		Err:       cause,
		Timestamp: now,
	})
	return events, wasOpen
}

func (m *Manager) scheduleRetryLocked(delay time.Duration) {
	m.retrySeq++
	seq := m.retrySeq
	m.wg.Add(1)
	m.retry = m.clock.AfterFunc(delay, func() { m.fireRetry(seq) })
}

// stopRetryLocked cancels a pending retry. If the timer already fired, the
// callback sees a stale sequence number and returns.
func (m *Manager) stopRetryLocked() {
	if m.retry == nil {
		return
	}
	if m.retry.Stop() {
		m.wg.Done()
	}
	m.retry = nil
	m.retrySeq++
}

func (m *Manager) fireRetry(seq uint64) {
	defer m.wg.Done()

	m.mu.Lock()
	if seq != m.retrySeq || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	events := m.startDialLocked()
	m.mu.Unlock()

	m.emit(events...)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	defer m.wg.Done()
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.transportFailed(gen, err)
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) transportFailed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state != Open {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("Connection lost", "error", err)
	conn := m.conn
	events, wasOpen := m.lostLocked(err)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close("connection lost")
	}
	if wasOpen {
		m.persistCache()
	}
	m.emit(events...)
}

func (m *Manager) heartbeat(ctx context.Context, conn Conn) {
	defer m.wg.Done()

	ticker := m.clock.Ticker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, protocol.EncodePing()); err != nil {
				m.logger.Debug("Heartbeat write failed", "error", err)
			}
		}
	}
}

func (m *Manager) persistCache() {
	if m.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.cache.Persist(ctx); err != nil {
		m.logger.Warn("Failed to persist cache on disconnect", "error", err)
	}
}

func (m *Manager) emit(events ...event.Event) {
	for _, e := range events {
		m.bus.Emit(e)
	}
}
