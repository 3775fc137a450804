// Package chattest provides an in-process chat server that speaks the client
// protocol, for tests and local development.
package chattest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/wschat/internal/protocol"
)

// ReplyFunc produces the assistant reply for a user message.
// A non-nil error is reported to the client as an error frame.
type ReplyFunc func(content string) (string, error)

// EchoReply answers every message with "Echo: <content>".
func EchoReply(content string) (string, error) {
	return "Echo: " + content, nil
}

// Option configures a Server.
type Option func(*Server)

// WithReply replaces the default echo reply.
func WithReply(fn ReplyFunc) Option {
	return func(s *Server) { s.reply = fn }
}

// WithoutPong makes the server ignore heartbeat pings.
func WithoutPong() Option {
	return func(s *Server) { s.noPong = true }
}

// Server is a chat server listening on a loopback address.
type Server struct {
	// URL is the http:// origin of the server.
	URL string

	httpSrv  *httptest.Server
	sessions *sessions
	reply    ReplyFunc
	noPong   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reject atomic.Bool

	mu       sync.Mutex
	messages []protocol.ClientFrame
	pings    int
	accepted int
}

// NewServer starts a server. Call Close when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		sessions: newSessions(),
		reply:    EchoReply,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws/{clientID}", s.serveWS)

	s.httpSrv = httptest.NewServer(r)
	s.URL = s.httpSrv.URL
	return s
}

// Close disconnects every client and stops the server.
func (s *Server) Close() {
	s.cancel()
	s.sessions.dropAll()
	s.httpSrv.Close()
	s.wg.Wait()
}

// SetReject makes subsequent upgrade requests fail with 503 while on is true.
func (s *Server) SetReject(on bool) {
	s.reject.Store(on)
}

// DropAll closes every client connection abruptly, as a network failure would.
func (s *Server) DropAll() {
	s.sessions.dropAll()
}

// Messages returns the chat message frames received so far.
func (s *Server) Messages() []protocol.ClientFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ClientFrame{}, s.messages...)
}

// Pings returns the number of heartbeat frames received.
func (s *Server) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// Accepted returns the number of upgrades completed.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Connected reports whether clientID currently has a live connection.
func (s *Server) Connected(clientID string) bool {
	return s.sessions.get(clientID) != nil
}

// SendRaw writes data as a text frame to clientID.
func (s *Server) SendRaw(clientID string, data []byte) error {
	ws := s.sessions.get(clientID)
	if ws == nil {
		return fmt.Errorf("client %s is not connected", clientID)
	}
	return s.write(ws, data)
}

// Send encodes f and writes it to clientID.
func (s *Server) Send(clientID string, f protocol.ServerFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.SendRaw(clientID, data)
}

// Broadcast encodes f and writes it to every connected client.
func (s *Server) Broadcast(f protocol.ServerFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Warn("Failed to encode broadcast frame", "error", err)
		return
	}
	for _, ws := range s.sessions.all() {
		if err := s.write(ws, data); err != nil {
			slog.Debug("Broadcast write failed", "error", err)
		}
	}
}

// BroadcastLog sends a log frame to every client. Delivery acknowledgements are
// still sent so clients can be tested for filtering them.
func (s *Server) BroadcastLog(message, level string) {
	s.Broadcast(protocol.ServerFrame{
		Type:      protocol.TypeLog,
		Message:   message,
		Level:     level,
		Timestamp: now(),
	})
}

// BroadcastTyping sends a typing indicator on behalf of clientID.
func (s *Server) BroadcastTyping(clientID string, isTyping bool) {
	s.Broadcast(protocol.ServerFrame{
		Type:      protocol.TypeTyping,
		ClientID:  clientID,
		IsTyping:  isTyping,
		Timestamp: now(),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() || s.ctx.Err() != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	clientID := chi.URLParam(r, "clientID")

	s.wg.Add(1)
	defer s.wg.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	defer func() { _ = ws.CloseNow() }()

	s.sessions.register(clientID, ws)
	defer s.sessions.unregister(clientID, ws)

	s.mu.Lock()
	s.accepted++
	s.mu.Unlock()

	s.BroadcastLog(fmt.Sprintf("Client %s connected successfully", clientID), protocol.LevelInfo)
	s.readLoop(s.ctx, ws, clientID)
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, clientID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Test chat client closed", "client_id", clientID)
			}
			return
		}

		frame, err := protocol.DecodeClientFrame(data)
		if err != nil {
			slog.Debug("Ignoring malformed client frame", "error", err, "client_id", clientID)
			continue
		}

		switch frame.Type {
		case protocol.TypeMessage:
			s.mu.Lock()
			s.messages = append(s.messages, frame)
			s.mu.Unlock()
			s.handleMessage(ws, clientID, frame.Content)
		case protocol.TypePing:
			s.mu.Lock()
			s.pings++
			s.mu.Unlock()
			if s.noPong {
				continue
			}
			if err := s.write(ws, mustJSON(protocol.ServerFrame{Type: protocol.TypePong, Timestamp: now()})); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case protocol.TypeTyping:
			s.BroadcastTyping(clientID, frame.IsTyping != nil && *frame.IsTyping)
		}
	}
}

func (s *Server) handleMessage(ws *websocket.Conn, clientID, content string) {
	s.BroadcastTyping(clientID, true)
	defer s.BroadcastTyping(clientID, false)

	preview := content
	if len(preview) > 50 {
		preview = preview[:50]
	}
	s.BroadcastLog(fmt.Sprintf("Processing message from %s: %s...", clientID, preview), protocol.LevelInfo)

	answer, err := s.reply(content)
	if err != nil {
		msg := "Error processing message: " + err.Error()
		if werr := s.write(ws, mustJSON(protocol.ServerFrame{Type: protocol.TypeError, Content: msg, Timestamp: now()})); werr != nil {
			slog.Debug("Failed to send error frame", "error", werr)
		}
		s.BroadcastLog(fmt.Sprintf("Error for %s: %s", clientID, msg), protocol.LevelError)
		return
	}

	resp := protocol.ServerFrame{
		Type:      protocol.TypeResponse,
		Content:   answer,
		Timestamp: now(),
		ClientID:  clientID,
	}
	if err := s.write(ws, mustJSON(resp)); err != nil {
		slog.Debug("Failed to send response", "error", err)
		return
	}
	s.BroadcastLog("Response delivered to "+clientID, protocol.LevelInfo)
}

func (s *Server) write(ws *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

func mustJSON(f protocol.ServerFrame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}
	return data
}

// now mimics the zone-less ISO timestamps the reference server emits.
func now() string {
	return time.Now().Format("2006-01-02T15:04:05.000000")
}
