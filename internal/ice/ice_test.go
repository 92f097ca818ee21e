package ice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchUsesServerList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != serversPath {
			t.Errorf("path = %q, want %q", r.URL.Path, serversPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ice_servers":[{"urls":["stun:stun.example.com:3478"],"username":"u","credential":"c"}]}`))
	}))
	defer srv.Close()

	servers := Fetch(context.Background(), srv.URL, "tok")
	if len(servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("urls = %v", servers[0].URLs)
	}
	if servers[0].Username != "u" {
		t.Fatalf("username = %q", servers[0].Username)
	}
}

func TestFetchFallsBackOnEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ice_servers":[]}`))
	}))
	defer srv.Close()

	servers := Fetch(context.Background(), srv.URL, "tok")
	if len(servers) != len(DefaultServers) || servers[0].URLs[0] != DefaultServers[0].URLs[0] {
		t.Fatalf("expected default servers, got %v", servers)
	}
}

func TestFetchFallsBackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	srv.Close() // refuse connections entirely

	servers := Fetch(context.Background(), srv.URL, "tok")
	if len(servers) != len(DefaultServers) {
		t.Fatalf("expected default servers, got %v", servers)
	}
}
