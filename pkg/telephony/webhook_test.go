package telephony

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookServer_AcknowledgesBeforeHandlerCompletes(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := NewWebhookServer(func(evt WebhookEvent) {
		close(started)
		<-release
	})

	body := `{"event_type":"answered","payload":{"call_control_id":"call-1","from":"+1555","to":"+1556"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}
	close(release)
}

func TestWebhookServer_RejectsNonPost(t *testing.T) {
	srv := NewWebhookServer(func(WebhookEvent) {})
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWebhookServer_SkipsDispatchWithoutCallID(t *testing.T) {
	called := false
	srv := NewWebhookServer(func(WebhookEvent) { called = true })
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"event_type":"answered","payload":{}}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	time.Sleep(20 * time.Millisecond)
	if called {
		t.Fatal("expected no dispatch when call_control_id is missing")
	}
}
