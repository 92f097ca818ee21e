package config

import "testing"

func TestNormalize(t *testing.T) {
	c := &Config{ServerURL: " https://chat.example.com/ "}
	if err := c.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if c.ServerURL != "https://chat.example.com" {
		t.Fatalf("ServerURL = %q", c.ServerURL)
	}
}

func TestNormalizeRejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://chat.example.com"} {
		c := &Config{ServerURL: raw}
		if err := c.Normalize(); err == nil {
			t.Errorf("Normalize(%q) accepted", raw)
		}
	}
}

func TestWebSocketURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://chat.example.com", "wss://chat.example.com/api/v1/ws/chat"},
		{"http://localhost:8000", "ws://localhost:8000/api/v1/ws/chat"},
	}
	for _, tc := range cases {
		c := &Config{ServerURL: tc.in}
		if got := c.WebSocketURL(); got != tc.want {
			t.Errorf("WebSocketURL(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
