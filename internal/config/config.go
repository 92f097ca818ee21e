// Package config holds the CLI configuration types.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Config stores all parameters gathered from flags or the interactive
// CLI prompts.
type Config struct {
	ServerURL string // Base server URL (http/https)
	Token     string // Session token for the event channel and REST calls
	UserID    int    // The signed-in user's id
	Debug     bool   // Enable debug logging
}

// Normalize validates ServerURL and strips any trailing slash.
func (c *Config) Normalize() error {
	raw := strings.TrimSpace(c.ServerURL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid server URL: %s", c.ServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL must be http or https: %s", c.ServerURL)
	}
	c.ServerURL = strings.TrimRight(raw, "/")
	return nil
}

// APIBase returns the REST base URL.
func (c *Config) APIBase() string {
	return c.ServerURL
}

// WebSocketURL derives the event channel endpoint from the server URL,
// mapping http→ws and https→wss.
func (c *Config) WebSocketURL() string {
	wsURL := c.ServerURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	return wsURL + "/api/v1/ws/chat"
}
