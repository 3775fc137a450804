// Package protocol defines the JSON text frames exchanged with the chat server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FrameType is the value of the "type" field carried by every frame.
type FrameType string

// Client -> server frame types.
const (
	TypeMessage FrameType = "message"
	TypePing    FrameType = "ping"
)

// Server -> client frame types.
const (
	TypeResponse FrameType = "response"
	TypeLog      FrameType = "log"
	TypeTyping   FrameType = "typing"
	TypeError    FrameType = "error"
	TypePong     FrameType = "pong"
)

// Log levels used by server log frames.
const (
	LevelInfo    = "INFO"
	LevelError   = "ERROR"
	LevelWarning = "WARNING"
	LevelSuccess = "SUCCESS"
)

// DeliveredMarker appears in server log lines that acknowledge delivery and are not shown.
const DeliveredMarker = "delivered to client"

var errMissingType = errors.New("frame has no type")

// ClientFrame is a frame sent by the client.
type ClientFrame struct {
	Type      FrameType `json:"type"`
	Content   string    `json:"content,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	IsTyping  *bool     `json:"is_typing,omitempty"`
}

// ServerFrame is the union of all frames the server may send.
type ServerFrame struct {
	Type      FrameType `json:"type"`
	Content   string    `json:"content,omitempty"`
	Message   string    `json:"message,omitempty"`
	Level     string    `json:"level,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	IsTyping  bool      `json:"is_typing,omitempty"`
}

// EncodeMessage serializes a chat message frame.
func EncodeMessage(content, clientID string, at time.Time) ([]byte, error) {
	return json.Marshal(ClientFrame{
		Type:      TypeMessage,
		Content:   content,
		ClientID:  clientID,
		Timestamp: FormatTimestamp(at),
	})
}

// EncodePing serializes a heartbeat frame.
func EncodePing() []byte {
	return []byte(`{"type":"ping"}`)
}

// DecodeServerFrame parses an inbound frame. A JSON object without a type
// decodes with an empty Type and is treated as an unrecognized frame.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ServerFrame{}, fmt.Errorf("decode server frame: %w", err)
	}
	return f, nil
}

// DecodeClientFrame parses a frame written by a client.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("decode client frame: %w", err)
	}
	if f.Type == "" {
		return ClientFrame{}, errMissingType
	}
	return f, nil
}

// IsDeliveryNotice reports whether a log line only acknowledges delivery to a client.
func IsDeliveryNotice(message string) bool {
	return strings.Contains(strings.ToLower(message), DeliveredMarker)
}

// FormatTimestamp renders t as an ISO 8601 instant.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses an ISO 8601 instant. Server timestamps may omit the zone.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
