package creds

import "testing"

func TestStoreLifecycle(t *testing.T) {
	s := NewStore("tok-1")
	if got := s.Get(); got != "tok-1" {
		t.Fatalf("Get = %q", got)
	}

	s.Set("tok-2")
	if got := s.Get(); got != "tok-2" {
		t.Fatalf("Get after Set = %q", got)
	}

	s.Clear()
	if got := s.Get(); got != "" {
		t.Fatalf("Get after Clear = %q", got)
	}
}

func TestEmptyStore(t *testing.T) {
	s := NewStore("")
	if got := s.Get(); got != "" {
		t.Fatalf("Get = %q, want empty", got)
	}
}
