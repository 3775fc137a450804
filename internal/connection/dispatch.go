package connection

import (
	"context"
	"time"

	"github.com/ashureev/wschat/internal/domain"
	"github.com/ashureev/wschat/internal/event"
	"github.com/ashureev/wschat/internal/protocol"
)

const cacheWriteTimeout = 5 * time.Second

// dispatch routes one inbound frame. Frames are handled strictly in receipt order
// because the read loop calls dispatch synchronously.
func (m *Manager) dispatch(data []byte) {
	frame, err := protocol.DecodeServerFrame(data)
	if err != nil {
		m.logger.Warn("Dropping malformed frame", "error", err, "bytes", len(data))
		return
	}

	now := m.clock.Now()
	ts := now
	if parsed, ok := protocol.ParseTimestamp(frame.Timestamp); ok {
		ts = parsed
	}

	switch frame.Type {
	case protocol.TypeResponse:
		m.record(frame.Content, domain.RoleAssistant, now)
		m.emit(event.Event{Kind: event.Message, Content: frame.Content, Role: domain.RoleAssistant, Timestamp: ts})

	case protocol.TypeLog:
		if protocol.IsDeliveryNotice(frame.Message) {
			return
		}
		level := frame.Level
		if level == "" {
			level = protocol.LevelInfo
		}
		m.emit(event.Event{Kind: event.Log, Content: frame.Message, Level: level, Timestamp: ts})

	case protocol.TypeTyping:
		if frame.ClientID == m.clientID {
			return
		}
		m.emit(event.Event{Kind: event.Typing, IsTyping: frame.IsTyping, Timestamp: ts})

	case protocol.TypeError:
		m.record(frame.Content, domain.RoleError, now)
		m.emit(
			event.Event{Kind: event.Message, Content: frame.Content, Role: domain.RoleError, Timestamp: ts},
			event.Event{Kind: event.Log, Content: frame.Content, Level: protocol.LevelError, Timestamp: ts},
		)

	case protocol.TypePong:
		m.mu.Lock()
		m.lastPong = now
		m.mu.Unlock()

	default:
		name := string(frame.Type)
		if name == "" {
			name = "(none)"
		}
		m.logger.Warn("Unknown frame type", "type", name)
		m.emit(event.Event{
			Kind:      event.Log,
			Content:   "Unknown message type: " + name,
			Level:     protocol.LevelWarning,
			Timestamp: now,
		})
	}
}

func (m *Manager) record(content string, role domain.Role, at time.Time) {
	if m.cache == nil {
		return
	}
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()
	m.cache.Append(ctx, content, role, at)
}
