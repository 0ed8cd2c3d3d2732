package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

func TestNormalizeVoiceID(t *testing.T) {
	cases := map[string]string{
		"Provider.Default.voice-1": "voice-1",
		"Provider.voice-2":         "voice-2",
		"voice-3":                  "voice-3",
	}
	for in, want := range cases {
		if got := NormalizeVoiceID(in); got != want {
			t.Errorf("NormalizeVoiceID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStreamingTTS_Synthesize_BuffersChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
		w.Write([]byte("world"))
	}))
	defer server.Close()

	c := NewStreamingTTS("test-key", server.URL)
	audio, err := c.Synthesize(context.Background(), "hi", orchestrator.Voice("Provider.Default.voice-1"), orchestrator.LanguageEn)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "helloworld" {
		t.Fatalf("expected concatenated chunks, got %q", audio)
	}
}
