// Package config centralizes the environment-driven configuration surface
// for the outbound call core: provider keys, webhook base URL, connection
// caps, and the per-call timer durations from the controller and STT specs.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the enumerated configuration surface (see SPEC_FULL.md §2).
type Config struct {
	TelephonyAPIKey string
	TelephonyAPIURL string
	STTProviderKey  string
	STTRealtimeURL  string
	TTSProviderKey  string
	TTSVoiceID      string
	AgentTransferNumber string
	WebhookBaseURL  string

	MaxWebSocketConns int

	NoResponseTimeout    time.Duration
	HangupTimeout        time.Duration
	TransferWatchdog     time.Duration
	AutoCommitSilence    time.Duration
	AutoCommitMinGap     time.Duration
	STTSessionTimeout    time.Duration
	ControlCallTimeout   time.Duration
	STTReconnectWindow   time.Duration
}

// Load reads a .env file if present (ignored if absent, matching the
// teacher's cmd/agent startup) and then layers environment variables over
// the defaults below.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		// Note: no .env file found, using system environment variables.
	}

	cfg := Default()

	if v := os.Getenv("TELEPHONY_API_KEY"); v != "" {
		cfg.TelephonyAPIKey = v
	}
	if v := os.Getenv("TELEPHONY_API_URL"); v != "" {
		cfg.TelephonyAPIURL = v
	}
	if v := os.Getenv("STT_PROVIDER_KEY"); v != "" {
		cfg.STTProviderKey = v
	}
	if v := os.Getenv("STT_REALTIME_URL"); v != "" {
		cfg.STTRealtimeURL = v
	}
	if v := os.Getenv("TTS_PROVIDER_KEY"); v != "" {
		cfg.TTSProviderKey = v
	}
	if v := os.Getenv("TTS_VOICE_ID"); v != "" {
		cfg.TTSVoiceID = v
	}
	if v := os.Getenv("AGENT_TRANSFER_NUMBER"); v != "" {
		cfg.AgentTransferNumber = v
	}
	if v := os.Getenv("WEBHOOK_BASE_URL"); v != "" {
		cfg.WebhookBaseURL = v
	}
	if v := os.Getenv("MAX_WS_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxWebSocketConns = n
		}
	}

	return cfg
}

// Default returns the spec-stated defaults for every timer and cap.
func Default() Config {
	return Config{
		TelephonyAPIURL:    "https://api.telephony.example/v2",
		STTRealtimeURL:     "wss://stt.example/speech-to-text/realtime",
		TTSVoiceID:         "Provider.Default.voice-1",
		MaxWebSocketConns:  100,
		NoResponseTimeout:  10 * time.Second,
		HangupTimeout:      5 * time.Second,
		TransferWatchdog:   10 * time.Second,
		AutoCommitSilence:  500 * time.Millisecond,
		AutoCommitMinGap:   1500 * time.Millisecond,
		STTSessionTimeout:  10 * time.Second,
		ControlCallTimeout: 10 * time.Second,
		STTReconnectWindow: 2 * time.Second,
	}
}
