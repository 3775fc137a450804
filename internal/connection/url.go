package connection

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// BuildURL derives the WebSocket endpoint for clientID from the server origin.
// http maps to ws and https to wss; ws and wss are kept.
func BuildURL(serverURL, clientID string) (string, error) {
	if clientID == "" {
		return "", errors.New("client id is empty")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	var scheme string
	switch u.Scheme {
	case "http", "ws":
		scheme = "ws"
	case "https", "wss":
		scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", serverURL)
	}

	base := strings.TrimRight(u.EscapedPath(), "/")
	return scheme + "://" + u.Host + base + "/ws/" + url.PathEscape(clientID), nil
}
