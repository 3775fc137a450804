package chattest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/wschat/internal/protocol"
)

func dial(t *testing.T, s *Server, clientID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/" + clientID
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })
	return ws
}

// readUntil reads frames until one of type want arrives.
func readUntil(t *testing.T, ws *websocket.Conn, want protocol.FrameType) protocol.ServerFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := ws.Read(ctx)
		require.NoError(t, err)
		f, err := protocol.DecodeServerFrame(data)
		require.NoError(t, err)
		if f.Type == want {
			return f
		}
	}
}

func TestServerEchoesMessages(t *testing.T) {
	s := NewServer()
	defer s.Close()
	ws := dial(t, s, "client_a")

	data, err := protocol.EncodeMessage("hello", "client_a", time.Now())
	require.NoError(t, err)
	require.NoError(t, ws.Write(context.Background(), websocket.MessageText, data))

	resp := readUntil(t, ws, protocol.TypeResponse)
	assert.Equal(t, "Echo: hello", resp.Content)
	assert.Equal(t, "client_a", resp.ClientID)

	log := readUntil(t, ws, protocol.TypeLog)
	assert.True(t, protocol.IsDeliveryNotice(log.Message))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestServerAnswersPing(t *testing.T) {
	s := NewServer()
	defer s.Close()
	ws := dial(t, s, "client_a")

	require.NoError(t, ws.Write(context.Background(), websocket.MessageText, protocol.EncodePing()))
	readUntil(t, ws, protocol.TypePong)
	assert.Equal(t, 1, s.Pings())
}

func TestServerReportsReplyErrors(t *testing.T) {
	s := NewServer(WithReply(func(string) (string, error) {
		return "", errors.New("model offline")
	}))
	defer s.Close()
	ws := dial(t, s, "client_a")

	data, err := protocol.EncodeMessage("hi", "client_a", time.Now())
	require.NoError(t, err)
	require.NoError(t, ws.Write(context.Background(), websocket.MessageText, data))

	f := readUntil(t, ws, protocol.TypeError)
	assert.Equal(t, "Error processing message: model offline", f.Content)
}

func TestServerReject(t *testing.T) {
	s := NewServer()
	defer s.Close()
	s.SetReject(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/client_a"
	_, _, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	assert.Zero(t, s.Accepted())
}
