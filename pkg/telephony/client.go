// Package telephony is the control-plane client, webhook server, and
// per-call MediaSocket for the outbound telephony provider (spec.md §4.2,
// §4.6).
//
// TelephonyClient's retry/backoff and webhook-handler shape are grounded
// on other_examples/6a059a0c_birddigital-signalwire-telephony__pkg-telephony-call-handlers.go.go
// (HTTP handler structure, webhook field extraction, status mapping);
// the circuit breaker layered on top is new, using the pack's
// sony/gobreaker/v2 dependency.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// OpKind distinguishes control-plane operations for logging/metrics.
type OpKind string

const (
	OpAnswer      OpKind = "answer"
	OpHangup      OpKind = "hangup"
	OpStartStream OpKind = "start_stream"
	OpStopStream  OpKind = "stop_stream"
	OpSpeak       OpKind = "speak"
	OpTransfer    OpKind = "transfer"
	OpOriginate   OpKind = "originate"
)

// RetryableError marks a transport/timeout failure eligible for the
// retry policy in spec.md §4.1 ("Failure semantics"). Errors not wrapped
// in RetryableError are treated as non-retryable provider rejections.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

var retryBackoffs = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// Client issues control-plane operations against the telephony provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

// New constructs a Client with a 10s per-call control timeout (spec.md §5)
// and a circuit breaker that opens after repeated provider-wide failures.
func New(baseURL, apiKey string) *Client {
	st := gobreaker.Settings{
		Name:        "telephony-control",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    gobreaker.NewCircuitBreaker[*http.Response](st),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &RetryableError{Err: err}
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, &RetryableError{Err: fmt.Errorf("telephony: provider status %d", resp.StatusCode)}
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("telephony: provider rejected request (status %d)", resp.StatusCode)
		}
		return resp, nil
	})
	return resp, err
}

// withRetry retries op up to 3 times on a RetryableError, backing off per
// spec.md §4.1. A non-retryable error returns immediately.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		var retryable *RetryableError
		if !isRetryable(err, &retryable) || attempt >= len(retryBackoffs) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoffs[attempt]):
		}
	}
}

func isRetryable(err error, target **RetryableError) bool {
	for err != nil {
		if r, ok := err.(*RetryableError); ok {
			*target = r
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Originate places an outbound call and returns the provider's call
// control identifier.
func (c *Client) Originate(ctx context.Context, from, to string) (string, error) {
	var callID string
	err := withRetry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodPost, "/calls", map[string]string{"from": from, "to": to})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var out struct {
			CallControlID string `json:"call_control_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		callID = out.CallControlID
		return nil
	})
	return callID, err
}

// Answer answers an inbound call.
func (c *Client) Answer(ctx context.Context, callID string) error {
	return withRetry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodPost, "/calls/"+callID+"/answer", nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// Hangup terminates a call.
func (c *Client) Hangup(ctx context.Context, callID string) error {
	return withRetry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodPost, "/calls/"+callID+"/hangup", nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// StartStream requests the provider open a MediaSocket to wsURL.
func (c *Client) StartStream(ctx context.Context, callID, wsURL string) error {
	return withRetry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodPost, "/calls/"+callID+"/streams", map[string]string{"stream_url": wsURL})
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// StopStream tears down the MediaSocket for a call.
func (c *Client) StopStream(ctx context.Context, callID string) error {
	return withRetry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodDelete, "/calls/"+callID+"/streams", nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// Speak instructs the provider to play text (used only as a fallback path
// when the MediaSocket audio path is unavailable; the primary path plays
// TTS audio over MediaSocket).
func (c *Client) Speak(ctx context.Context, callID, text string) error {
	return withRetry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodPost, "/calls/"+callID+"/speak", map[string]string{"text": text})
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}

// Transfer bridges the call to agentNumber.
func (c *Client) Transfer(ctx context.Context, callID, agentNumber string) error {
	return withRetry(ctx, func() error {
		resp, err := c.do(ctx, http.MethodPost, "/calls/"+callID+"/transfer", map[string]string{"to": agentNumber})
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}
