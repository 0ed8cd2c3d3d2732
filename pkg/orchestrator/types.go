// Package orchestrator holds the provider-facing seams shared across this
// module's packages: the narrow TTSProvider contract the telephony
// call core drives, and the Logger contract satisfied by either a no-op
// (tests) or the stdlib-backed logger the telephony entrypoint wires in.
package orchestrator

import (
	"context"
	"log"
)

// Logger is the narrow logging seam CallController and its collaborators
// log through.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Useful as a test default.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// StdLogger adapts the standard library's log package to Logger, in the
// same bare log.Printf style the teacher's CLI used.
type StdLogger struct {
	*log.Logger
}

// NewStdLogger constructs a StdLogger writing to std's default logger
// destination (os.Stderr) with the standard date/time prefix.
func NewStdLogger() *StdLogger {
	return &StdLogger{Logger: log.Default()}
}

func (l *StdLogger) Debug(msg string, args ...interface{}) { l.logf("DEBUG", msg, args...) }
func (l *StdLogger) Info(msg string, args ...interface{})  { l.logf("INFO", msg, args...) }
func (l *StdLogger) Warn(msg string, args ...interface{})  { l.logf("WARN", msg, args...) }
func (l *StdLogger) Error(msg string, args ...interface{}) { l.logf("ERROR", msg, args...) }

func (l *StdLogger) logf(level, msg string, args ...interface{}) {
	if len(args) == 0 {
		l.Printf("[%s] %s", level, msg)
		return
	}
	l.Printf("[%s] %s %v", level, msg, args)
}

// TTSProvider is the text-to-speech seam CallController drives: a
// buffered Synthesize for short fixed lines and a StreamSynthesize that
// delivers audio chunks as they're produced, plus Abort to cancel an
// in-flight synthesis (CallController calls it during call cleanup).
type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	Abort() error
	Name() string
}

// Voice selects a TTS provider voice.
type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

// Language is an ISO-639-1-ish language tag understood by the STT/TTS
// providers.
type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)
