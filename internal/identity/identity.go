// Package identity provides the stable, anonymous client identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ashureev/wschat/internal/store"
)

// ClientIDPrefix starts every generated client id.
const ClientIDPrefix = "client_"

// clientIDPattern accepts ids that are safe to place in a URL path segment.
var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Generate returns a new random client id.
func Generate() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return ClientIDPrefix + hex.EncodeToString(buf), nil
}

// IsValid reports whether id can be used as a client id.
func IsValid(id string) bool {
	return clientIDPattern.MatchString(id)
}

// Resolve returns the client id persisted under key, generating and storing
// a new one when none exists or the stored value is unusable.
func Resolve(ctx context.Context, s store.Storage, key string) (string, error) {
	existing, ok, err := s.GetItem(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read client id: %w", err)
	}
	existing = strings.TrimSpace(existing)
	if ok && IsValid(existing) {
		return existing, nil
	}
	if ok {
		slog.Warn("Discarding invalid persisted client id", "key", key)
	}

	id, err := Generate()
	if err != nil {
		return "", err
	}
	if err := s.SetItem(ctx, key, id); err != nil {
		return "", fmt.Errorf("persist client id: %w", err)
	}
	slog.Info("Generated new client id", "client_id", id)
	return id, nil
}
