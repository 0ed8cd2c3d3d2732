package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

const (
	readyGrace           = 100 * time.Millisecond
	initialChunkBytes    = 800 // 100ms of ulaw @ 8kHz
	governedChunkBytes   = 800
	minInterSendInterval = 80 * time.Millisecond
	forceSendBytes       = 8000
	autoCommitTick       = 200 * time.Millisecond
	autoCommitSilence    = 500 * time.Millisecond
	autoCommitMinGap     = 1500 * time.Millisecond
	partialCooldown      = 1 * time.Second
)

// Client is a per-call STTClient (spec.md §4.3).
type Client struct {
	tokenURL string
	wsURL    string
	apiKey   string
	params   sessionParams

	Keywords []string

	events chan Event

	mu        sync.Mutex
	conn      *websocket.Conn
	ready     bool
	buffer    []byte
	lastSend  time.Time
	sentFirst bool

	lastPartial     string
	lastPartialAt   time.Time
	lastAutoCommit  string
	lastAutoCommitAt time.Time

	autoCommitStop chan struct{}
	closeOnce      sync.Once
	closed         bool

	limiter *rate.Limiter
}

// New constructs a Client. tokenURL is the HTTPS endpoint that mints a
// single-use realtime token; wsURL is the provider's realtime base URL
// (the session params are appended as query parameters per spec.md §6).
func New(tokenURL, wsURL, apiKey string) *Client {
	return &Client{
		tokenURL: tokenURL,
		wsURL:    wsURL,
		apiKey:   apiKey,
		params:   defaultSessionParams(),
		Keywords: append([]string(nil), DefaultVoicemailKeywords...),
		events:   make(chan Event, 64),
		// 12.5 msg/s matches the governor's 80ms cadence; the limiter is a
		// belt-and-suspenders guard on top of the explicit timing logic.
		limiter: rate.NewLimiter(rate.Limit(12.5), 1),
	}
}

// Events returns the channel of normalized provider occurrences.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: token fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: token fetch status %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("stt: token decode: %w", err)
	}
	return body.Token, nil
}

// Connect fetches a token and dials the realtime websocket, then starts
// the read loop and the auto-commit silence ticker.
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.fetchToken(ctx)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("model_id", c.params.ModelID)
	q.Set("audio_format", c.params.AudioFormat)
	q.Set("language_code", c.params.LanguageCode)
	q.Set("commit_strategy", c.params.CommitStrategy)
	q.Set("vad_silence_threshold_secs", strconv.FormatFloat(float64(c.params.VADSilenceThresholdMS)/1000, 'f', -1, 64))
	q.Set("vad_threshold", strconv.FormatFloat(c.params.VADThreshold, 'f', -1, 64))
	q.Set("min_speech_duration_ms", strconv.Itoa(c.params.MinSpeechDurationMS))
	q.Set("min_silence_duration_ms", strconv.Itoa(c.params.MinSilenceDurationMS))
	q.Set("token", token)

	dialURL := strings.TrimRight(c.wsURL, "/") + "?" + q.Encode()

	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("stt: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ready = false
	c.closed = false
	c.autoCommitStop = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.autoCommitLoop(c.autoCommitStop)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			MessageType string  `json:"message_type"`
			Text        string  `json:"text"`
			Confidence  float64 `json:"confidence"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		c.handleMessage(msg.MessageType, msg.Text, msg.Confidence)
	}
}

func (c *Client) handleMessage(messageType, text string, confidence float64) {
	now := time.Now()
	switch messageType {
	case "session_started":
		time.AfterFunc(readyGrace, func() {
			c.mu.Lock()
			c.ready = true
			c.mu.Unlock()
		})
		c.events <- Event{Kind: EventSessionStarted, ReceivedAt: now}

	case "partial_transcript":
		c.handlePartial(text, now)

	case "committed_transcript", "committed_transcript_with_timestamps":
		c.mu.Lock()
		c.lastPartial = ""
		c.lastAutoCommit = ""
		c.mu.Unlock()
		c.events <- Event{Kind: EventFinalTranscript, Text: text, Confidence: confidence, ReceivedAt: now}

	case "auth_error":
		c.events <- Event{Kind: EventAuthError, ReceivedAt: now}
		c.disconnectInternal()
	case "quota_exceeded":
		c.events <- Event{Kind: EventQuotaExceeded, ReceivedAt: now}
		c.disconnectInternal()
	case "queue_overflow":
		c.events <- Event{Kind: EventQueueOverflow, ReceivedAt: now}
		c.disconnectInternal()
	case "transcriber_error":
		c.events <- Event{Kind: EventTranscriberError, ReceivedAt: now}
		c.disconnectInternal()
	case "input_error":
		c.events <- Event{Kind: EventInputError, ReceivedAt: now}
	}
}

func (c *Client) handlePartial(text string, now time.Time) {
	if len(strings.Fields(text)) < 1 {
		return
	}

	if _, ok := matchesVoicemail(text, c.Keywords); ok {
		c.events <- Event{Kind: EventFinalTranscript, Text: text, VoicemailMatch: true, ReceivedAt: now}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastAutoCommitAt.IsZero() {
		withinCooldown := now.Sub(c.lastAutoCommitAt) < partialCooldown
		repeatsLastCommit := text == c.lastAutoCommit
		if withinCooldown || repeatsLastCommit {
			return
		}
	}

	c.lastPartial = text
	c.lastPartialAt = now
	c.events <- Event{Kind: EventPartialTranscript, Text: text, ReceivedAt: now}
}

func matchesVoicemail(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return k, true
		}
	}
	return "", false
}

func (c *Client) autoCommitLoop(stop chan struct{}) {
	ticker := time.NewTicker(autoCommitTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.checkAutoCommit()
		}
	}
}

func (c *Client) checkAutoCommit() {
	c.mu.Lock()
	if c.lastPartial == "" {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(c.lastPartialAt) <= autoCommitSilence {
		c.mu.Unlock()
		return
	}
	if c.lastPartial == c.lastAutoCommit {
		c.mu.Unlock()
		return
	}
	if !c.lastAutoCommitAt.IsZero() && now.Sub(c.lastAutoCommitAt) < autoCommitMinGap {
		c.mu.Unlock()
		return
	}
	text := c.lastPartial
	conn := c.conn
	c.lastAutoCommit = text
	c.lastAutoCommitAt = now
	c.lastPartial = ""
	c.mu.Unlock()

	if conn != nil {
		_ = c.sendRaw(conn, map[string]any{"message_type": "input_audio_chunk", "audio_base_64": "", "commit": true, "sample_rate": 8000})
	}
	c.events <- Event{Kind: EventFinalTranscript, Text: text, Confidence: 0.8, AutoCommitted: true, ReceivedAt: now}
}

// SendAudio accumulates a µ-law frame into the per-call buffer and flushes
// it per the send-governor discipline (spec.md §4.3). Frames sent before
// Ready are dropped, with the caller (CallController) responsible for
// counting that as a droppedNotReady fingerprint.
func (c *Client) SendAudio(frame []byte) (sent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready || c.conn == nil {
		return false
	}

	c.buffer = append(c.buffer, frame...)

	now := time.Now()
	switch {
	case !c.sentFirst && len(c.buffer) >= initialChunkBytes:
		c.flushLocked(now, initialChunkBytes)
		c.sentFirst = true
		return true
	case len(c.buffer) >= forceSendBytes:
		c.flushLocked(now, len(c.buffer))
		return true
	case c.sentFirst && len(c.buffer) >= governedChunkBytes && now.Sub(c.lastSend) >= minInterSendInterval && c.limiter.Allow():
		c.flushLocked(now, governedChunkBytes)
		return true
	default:
		return false
	}
}

// flushLocked must be called with mu held.
func (c *Client) flushLocked(now time.Time, n int) {
	if n > len(c.buffer) {
		n = len(c.buffer)
	}
	chunk := c.buffer[:n]
	c.buffer = append([]byte(nil), c.buffer[n:]...)
	c.lastSend = now
	_ = c.sendRaw(c.conn, map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": base64.StdEncoding.EncodeToString(chunk),
		"commit":        false,
		"sample_rate":   8000,
	})
}

func (c *Client) sendRaw(conn *websocket.Conn, msg map[string]any) error {
	if conn == nil {
		return fmt.Errorf("stt: no connection")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(context.Background(), websocket.MessageText, body)
}

// Ready reports whether the session has cleared the readiness discipline.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Disconnect closes the socket, stops the auto-commit ticker, and is safe
// to call more than once.
func (c *Client) Disconnect() {
	// disconnectInternal is itself idempotent per connection, so a
	// session re-opened by Connect is still closed by a later Disconnect.
	c.disconnectInternal()
}

func (c *Client) disconnectInternal() {
	c.mu.Lock()
	conn := c.conn
	stop := c.autoCommitStop
	c.conn = nil
	c.ready = false
	closed := c.closed
	c.closed = true
	c.mu.Unlock()

	if closed {
		return
	}
	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}
