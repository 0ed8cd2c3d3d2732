// Package call owns the per-call state machine: Call, Qualification, the
// message log, and CallController, which binds telephony, STT, TTS and
// dialog collaborators into the state machine and timer choreography from
// spec.md §4.1.
//
// The structure is modeled on the teacher's ManagedStream
// (team-hashing-lokutor-orchestrator/pkg/orchestrator/managed_stream.go):
// one supervisor owns all mutable state behind a single mutex, network
// calls copy out a snapshot before suspending, and cleanup is
// closeOnce-guarded so it is safe to invoke more than once.
package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a node in the call state machine (spec.md §4.1).
type State string

const (
	StateInitiated            State = "initiated"
	StateRinging              State = "ringing"
	StateAnswered             State = "answered"
	StateStreaming            State = "streaming"
	StateQualifyingInProgress State = "qualifying_in_progress"
	StateSpeaking             State = "speaking"
	StateTransferRequested    State = "transfer_requested"
	StateBridged              State = "bridged"
	StateHangup               State = "hangup"
	StateTerminal             State = "terminal"
)

// Outcome is the final disposition recorded at terminal state (spec.md §6).
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeTransferred  Outcome = "transferred"
	OutcomeVoicemail    Outcome = "voicemail"
	OutcomeNoAnswer     Outcome = "no_answer"
	OutcomeNoResponse   Outcome = "no_response"
)

// HangupCause records why a call ended when it ended other than by the
// remote party.
type HangupCause string

const (
	CauseNoResponse     HangupCause = "no_response"
	CauseTransferFailed HangupCause = "transfer_failed"
	CauseSTTUnavailable HangupCause = "stt_unavailable"
	CauseProviderError  HangupCause = "provider_error"
	CauseVoicemail      HangupCause = "voicemail"
	CauseRemoteHangup   HangupCause = "remote_hangup"
)

// Speaker identifies who produced a message-log entry.
type Speaker string

const (
	SpeakerSystem Speaker = "system"
	SpeakerAgent  Speaker = "agent"
	SpeakerUser   Speaker = "user"
)

// Turn is one append-only message-log entry (spec.md §3). ID is a unique
// identifier per turn, independent of position, so callers can reference
// a specific logged line (e.g. in telemetry or transfer transcripts)
// even after later turns are appended.
type Turn struct {
	ID        string
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// Codec describes the negotiated media codec (spec.md §3: "provider
// negotiates µ-law/8kHz; core is codec-agnostic past that boundary").
type Codec struct {
	Format     string
	SampleRate int
}

// Flags are the per-call boolean signals from spec.md §3.
type Flags struct {
	AISpeaking          bool
	UserAttemptedResponse bool
	Bridged             bool
	VoicemailDetected   bool
	HangupScheduled     bool
}

// PendingActions is the per-call scheduled-action set from spec.md §3.
type PendingActions struct {
	TransferScheduled bool
	HangupScheduled   bool
}

// Fingerprints are the observability-only counters from spec.md §3 (not
// persisted). See pkg/telemetry for the OTel-backed aggregation of these.
type Fingerprints struct {
	InboundPackets         int64
	DroppedNotReadyPackets int64
	DroppedBridgedPackets  int64
	SentOutboundPackets    int64
}

// Call is one active call's full state (spec.md §3). All fields are
// guarded by mu; callers outside pkg/call must go through the accessor
// methods rather than touching fields directly.
type Call struct {
	mu sync.RWMutex

	id    string
	from  string
	to    string
	state State

	createdAt time.Time
	connectedAt time.Time

	codec Codec

	qualification *Qualification
	messages      []Turn
	cursor        ScriptStep

	flags   Flags
	pending PendingActions
	prints  Fingerprints

	outcome     Outcome
	hangupCause HangupCause

	// timer handles; Call itself never arms or cancels them. CallController
	// keeps its live timer handles in its own fields, so this is not
	// populated by the controller.
	timers Timers
}

// Timers groups every per-call timer handle named in spec.md §4.1/§4.3.
type Timers struct {
	NoResponse        *time.Timer
	Hangup            *time.Timer
	ScheduledTransfer *time.Timer
	TransferWatchdog  *time.Timer
	AutoCommitTick    *time.Ticker
}

// New creates a freshly Initiated Call.
func New(id, from, to string) *Call {
	return &Call{
		id:            id,
		from:          from,
		to:            to,
		state:         StateInitiated,
		createdAt:     time.Now(),
		qualification: NewQualification(),
		cursor:        StepVerifyInfo,
	}
}

func (c *Call) ID() string { return c.id }

func (c *Call) From() string { return c.from }

func (c *Call) To() string { return c.to }

// State returns the current state machine node.
func (c *Call) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState transitions the call and returns the previous state.
func (c *Call) SetState(s State) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	c.state = s
	return prev
}

// SetCodec records the negotiated codec.
func (c *Call) SetCodec(codec Codec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codec = codec
}

func (c *Call) Codec() Codec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.codec
}

// MarkConnected records the connect timestamp once, on first answer.
func (c *Call) MarkConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectedAt.IsZero() {
		c.connectedAt = time.Now()
	}
}

// Qualification returns the call's qualification record. The returned
// pointer's Set method still enforces the monotonic invariant; callers
// must not reach around it.
func (c *Call) Qualification() *Qualification {
	return c.qualification
}

// AppendMessage appends one ordered, non-decreasing-timestamp turn to the
// message log (spec.md §3 invariant).
func (c *Call) AppendMessage(speaker Speaker, text string) Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Turn{ID: uuid.New().String(), Speaker: speaker, Text: text, Timestamp: time.Now()}
	if n := len(c.messages); n > 0 && t.Timestamp.Before(c.messages[n-1].Timestamp) {
		t.Timestamp = c.messages[n-1].Timestamp
	}
	c.messages = append(c.messages, t)
	return t
}

// Messages returns a copy of the message log.
func (c *Call) Messages() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.messages))
	copy(out, c.messages)
	return out
}

// DialogMessages returns the message log filtered to agent/user turns —
// system entries are retained for audit but never fed back to the LLM
// (spec.md §3 invariant).
func (c *Call) DialogMessages() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, 0, len(c.messages))
	for _, t := range c.messages {
		if t.Speaker != SpeakerSystem {
			out = append(out, t)
		}
	}
	return out
}

// LastNAssistantTurns returns up to n most recent agent turns, oldest first.
func (c *Call) LastNAssistantTurns(n int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for i := len(c.messages) - 1; i >= 0 && len(out) < n; i-- {
		if c.messages[i].Speaker == SpeakerAgent {
			out = append([]string{c.messages[i].Text}, out...)
		}
	}
	return out
}

// Cursor returns the current dialog script step.
func (c *Call) Cursor() ScriptStep {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor
}

// AdvanceCursor sets the dialog cursor to the given step.
func (c *Call) AdvanceCursor(step ScriptStep) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = step
}

// Flags returns a copy of the current boolean flags.
func (c *Call) Flags() Flags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flags
}

// SetAISpeaking sets the AI-currently-speaking flag.
func (c *Call) SetAISpeaking(speaking bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.AISpeaking = speaking
}

// SetUserAttemptedResponse marks that the user made at least one attempt
// to respond (used by the overlap/barge-in rule, spec.md §4.1).
func (c *Call) SetUserAttemptedResponse(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.UserAttemptedResponse = v
}

// SetBridged marks the call bridged and clears AI-speaking (the AI path
// disengages once bridged, spec.md §4.1 bridged-webhook transition).
func (c *Call) SetBridged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.Bridged = true
	c.flags.AISpeaking = false
}

// SetVoicemailDetected marks the voicemail flag.
func (c *Call) SetVoicemailDetected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags.VoicemailDetected = true
}

// SetOutcome records the terminal outcome and optional hangup cause.
func (c *Call) SetOutcome(o Outcome, cause HangupCause) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome = o
	c.hangupCause = cause
}

func (c *Call) Outcome() Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outcome
}

func (c *Call) HangupCause() HangupCause {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hangupCause
}

// Fingerprints returns a copy of the observability counters.
func (c *Call) Fingerprints() Fingerprints {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prints
}

func (c *Call) IncInbound()       { c.mu.Lock(); c.prints.InboundPackets++; c.mu.Unlock() }
func (c *Call) IncDroppedNotReady() { c.mu.Lock(); c.prints.DroppedNotReadyPackets++; c.mu.Unlock() }
func (c *Call) IncDroppedBridged()  { c.mu.Lock(); c.prints.DroppedBridgedPackets++; c.mu.Unlock() }
func (c *Call) IncSentOutbound()    { c.mu.Lock(); c.prints.SentOutboundPackets++; c.mu.Unlock() }

// CreatedAt returns the call creation timestamp.
func (c *Call) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// ConnectedAt returns the connect timestamp (zero if never connected).
func (c *Call) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// PersistedRecord is the contract-only shape handed to the external
// persistence collaborator at terminal state (spec.md §6). Qualification
// and message log are snapshotted here and then released by the caller.
type PersistedRecord struct {
	CallControlID string
	From          string
	To            string
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	Status        Outcome
	HangupCause   HangupCause
	Messages      []Turn
	Qualification map[Field]TriState
}

// Snapshot builds the PersistedRecord for handoff at terminal state.
func (c *Call) Snapshot() PersistedRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	end := time.Now()
	var duration time.Duration
	if !c.connectedAt.IsZero() {
		duration = end.Sub(c.connectedAt)
	}
	msgs := make([]Turn, len(c.messages))
	copy(msgs, c.messages)
	return PersistedRecord{
		CallControlID: c.id,
		From:          c.from,
		To:            c.to,
		StartTime:     c.createdAt,
		EndTime:       end,
		Duration:      duration,
		Status:        c.outcome,
		HangupCause:   c.hangupCause,
		Messages:      msgs,
		Qualification: c.qualification.Snapshot(),
	}
}
