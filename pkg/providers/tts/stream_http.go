package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Default synthesis options from spec.md §4.4.
const (
	DefaultModel             = "low-latency"
	DefaultStability         = 0.65
	DefaultSimilarity        = 0.8
	DefaultStreamLatencyTier = 3
)

// StreamingTTS is an HTTP-streaming synthesizer shaped after the
// `/text-to-speech/{voice}/stream` contract in spec.md §6, generalizing
// the teacher's websocket-based TTS client (request, then read chunks
// until done) to a plain HTTP streaming response body — same
// request-then-read-chunks shape, different transport.
type StreamingTTS struct {
	apiKey string
	host   string

	Stability         float64
	Similarity        float64
	StreamLatencyTier int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewStreamingTTS constructs a client with spec-default voice settings.
func NewStreamingTTS(apiKey, host string) *StreamingTTS {
	return &StreamingTTS{
		apiKey:            apiKey,
		host:              host,
		Stability:         DefaultStability,
		Similarity:        DefaultSimilarity,
		StreamLatencyTier: DefaultStreamLatencyTier,
	}
}

// NormalizeVoiceID strips a leading "Provider.Default." or "Provider."
// prefix if present (spec.md §4.4).
func NormalizeVoiceID(voice string) string {
	if rest, ok := strings.CutPrefix(voice, "Provider.Default."); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(voice, "Provider."); ok {
		return rest
	}
	return voice
}

func (s *StreamingTTS) Name() string { return "streaming-http-tts" }

// Synthesize buffers the full streamed body into memory.
func (s *StreamingTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	var audio []byte
	err := s.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// StreamSynthesize posts the synthesis request and invokes onChunk for
// each chunk read from the streaming response body. A concurrent call
// for the same client preempts (cancels) any in-flight one (spec.md §5
// "a new request preempts any in-flight one").
func (s *StreamingTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	reqCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		// A preempted request's context is already cancelled and s.cancel
		// belongs to the newer request; only clear it if it is still ours.
		if reqCtx.Err() == nil {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	payload := map[string]any{
		"text":     text,
		"model_id": DefaultModel,
		"voice_settings": map[string]any{
			"stability":        s.Stability,
			"similarity_boost": s.Similarity,
			"style":            0,
			"use_speaker_boost": true,
		},
		"optimize_streaming_latency": s.StreamLatencyTier,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	voiceID := NormalizeVoiceID(string(voice))
	url := fmt.Sprintf("%s/text-to-speech/%s/stream", s.host, voiceID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil // preempted by a newer request or caller cancellation
		}
		return fmt.Errorf("streaming tts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("streaming tts: status %d", resp.StatusCode)
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if cbErr := onChunk(buf[:n]); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if reqCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("streaming tts: read: %w", err)
		}
	}
}

// Abort cancels the in-flight synthesis request, if any.
func (s *StreamingTTS) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}
