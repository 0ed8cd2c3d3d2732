package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestClient_Answer_RetriesOnServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	if err := c.Answer(context.Background(), "call-1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestClient_Answer_NonRetryableFailsImmediately(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	if err := c.Answer(context.Background(), "call-1"); err == nil {
		t.Fatal("expected an error for a non-retryable provider rejection")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestClient_Originate_ReturnsCallControlID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"call_control_id":"call-abc"}`))
	}))
	defer server.Close()

	c := New(server.URL, "test-key")
	id, err := c.Originate(context.Background(), "+15551230000", "+15557654321")
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}
	if id != "call-abc" {
		t.Fatalf("expected call-abc, got %q", id)
	}
}
