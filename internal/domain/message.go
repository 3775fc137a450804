// Package domain contains core domain types for the chat client.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DisplayTimeLayout is the clock format shown next to a message.
const DisplayTimeLayout = "3:04:05 PM"

// Role identifies who produced a chat message.
type Role string

const (
	// RoleUser marks messages typed by the local user.
	RoleUser Role = "user"
	// RoleAssistant marks responses from the server.
	RoleAssistant Role = "assistant"
	// RoleError marks server-reported processing errors.
	RoleError Role = "error"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleError:
		return true
	}
	return false
}

// CachedMessage is a single persisted chat entry. It is never mutated after creation.
type CachedMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Role      Role   `json:"type"`
	Timestamp string `json:"timestamp"`
	SavedAt   string `json:"savedAt"`
}

// NewCachedMessage builds a message stamped with the given creation time.
func NewCachedMessage(content string, role Role, at time.Time) CachedMessage {
	return CachedMessage{
		ID:        NewMessageID(at),
		Content:   content,
		Role:      role,
		Timestamp: at.Format(DisplayTimeLayout),
		SavedAt:   at.UTC().Format(time.RFC3339Nano),
	}
}

// NewMessageID returns a unique token made of the creation time and a random suffix.
func NewMessageID(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("msg_%d_%s", at.UnixMilli(), suffix[:9])
}
