// Package stt is the per-call realtime speech-to-text client (spec.md
// §4.3): token fetch, websocket dial, the readiness/send-governor/
// auto-commit discipline, and voicemail short-circuiting.
//
// Dial/read-loop shape grounded on the teacher's
// pkg/providers/tts/lokutor.go (coder/websocket, mutex-guarded conn,
// text/binary message switch). Token-fetch-then-dial shape grounded on
// other_examples/28dab513_lookatitude-beluga-ai__voice-stt-providers-assemblyai-assemblyai.go.go's
// upload-then-poll HTTP pattern, adapted from poll-based to a one-shot
// POST since this provider's auth is a short-lived token, not a poll job.
package stt

import "time"

// EventKind identifies the shape of an Event delivered to the owning
// CallController mailbox.
type EventKind int

const (
	EventPartialTranscript EventKind = iota
	EventFinalTranscript
	EventSessionStarted
	EventAuthError
	EventQuotaExceeded
	EventQueueOverflow
	EventTranscriberError
	EventInputError
)

// Event is a single STT-provider occurrence, normalized from the
// provider's `message_type` values (spec.md §6).
type Event struct {
	Kind           EventKind
	Text           string
	Confidence     float64
	AutoCommitted  bool
	VoicemailMatch bool
	ReceivedAt     time.Time
}

// sessionParams is the fixed, non-free-form parameter table from spec.md
// §4.3.
type sessionParams struct {
	ModelID               string
	AudioFormat           string
	LanguageCode          string
	CommitStrategy        string
	VADSilenceThresholdMS int
	VADThreshold          float64
	MinSpeechDurationMS   int
	MinSilenceDurationMS  int
}

func defaultSessionParams() sessionParams {
	return sessionParams{
		ModelID:               "realtime-transcription-v1",
		AudioFormat:           "ulaw_8000",
		LanguageCode:          "en",
		CommitStrategy:        "vad",
		VADSilenceThresholdMS: 300,
		VADThreshold:          0.3,
		MinSpeechDurationMS:   100,
		MinSilenceDurationMS:  150,
	}
}

// DefaultVoicemailKeywords is the enumerated keyword set from spec.md
// §4.3. Exported and mutable so an operator can extend it without a code
// change — the spec's list is explicitly "including ... and related".
var DefaultVoicemailKeywords = []string{
	"voicemail",
	"leave a message",
	"after the beep",
	"mailbox",
	"you've reached",
	"automated voice messaging system",
}
