package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/registry"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/stt"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/telemetry"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/telephony"
)

// speechRateCharsPerSecond is the fallback estimate for TTS playback
// duration when no completion event is observed (spec.md §4.1 transfer
// choreography).
const speechRateCharsPerSecond = 15

// Timing constants from spec.md §4.1/§4.3, expressed as package defaults
// that NewController copies into each Controller. The timer fields of
// internal/config.Config are not applied here.
var (
	DefaultNoResponseTimeout = 10 * time.Second
	DefaultHangupTimeout     = 5 * time.Second
	DefaultTransferWatchdog  = 10 * time.Second
	DefaultSTTReconnectWindow = 2 * time.Second
)

// TelephonyOps is the subset of telephony.Client the controller drives;
// narrowed to an interface so tests can supply a fake.
type TelephonyOps interface {
	Answer(ctx context.Context, callID string) error
	Hangup(ctx context.Context, callID string) error
	StartStream(ctx context.Context, callID, wsURL string) error
	StopStream(ctx context.Context, callID string) error
	Transfer(ctx context.Context, callID, agentNumber string) error
}

// DialogEngine is the seam CallController drives for LLM-backed turn
// generation (spec.md §4.5). *dialog.Engine satisfies it structurally;
// declared here rather than in pkg/dialog so pkg/call never imports
// pkg/dialog — pkg/dialog already depends on Call/Turn/ScriptStep, so the
// import can only run one way.
type DialogEngine interface {
	Turn(ctx context.Context, c *Call, userUtterance string) (DialogTurnResult, error)
	ClosingLine(outcome DialogOutcome) string
}

// MediaOps is the subset of MediaSocket the controller drives.
type MediaOps interface {
	WriteAudio(streamID string, audio []byte) error
	Close() error
}

// STTOps is the subset of the realtime STT client the controller drives.
type STTOps interface {
	Connect(ctx context.Context) error
	SendAudio(frame []byte) bool
	Ready() bool
	Events() <-chan stt.Event
	Disconnect()
}

// event is the controller's internal mailbox entry. Webhook, media, STT
// and no-response/hangup timer events reach the supervisor goroutine
// through it, so clients never hold a back-pointer to the controller.
// AttachMediaSocket, TTS-completion callbacks and the transfer watchdog
// act on the call from their own goroutines, not through the mailbox.
type event struct {
	kind evKind
	webhook telephony.WebhookEvent
	audio   []byte
	sttEvt  stt.Event
}

type evKind int

const (
	evWebhook evKind = iota
	evMediaStart
	evMediaAudio
	evMediaStop
	evSTT
	evTTSComplete
	evNoResponseFire
	evHangupFire
	evTransferFire
	evTransferWatchdogFire
)

// Controller is the CallController (spec.md §4.1): the per-call
// supervisor binding telephony, media, STT, TTS and dialog collaborators.
//
// Structural shape — single supervisor goroutine, mutex-protected Call
// snapshot before any suspending call, closeOnce-guarded cleanup — is
// modeled on the teacher's ManagedStream (pkg/orchestrator/managed_stream.go).
type Controller struct {
	call   *Call
	reg    *registry.Registry
	tel    TelephonyOps
	dlg    DialogEngine
	tts    orchestrator.TTSProvider
	stats  *telemetry.PipelineCounters
	logger orchestrator.Logger

	agentTransferNumber string

	mediaMu sync.Mutex
	media   MediaOps
	streamID string

	sttMu sync.Mutex
	sttClient STTOps

	mailbox chan event

	mu                sync.Mutex
	noResponseTimer   *time.Timer
	hangupTimer       *time.Timer
	transferTimer     *time.Timer
	watchdogTimer     *time.Timer
	sttReconnecting   bool
	pendingTransfer   bool

	noResponseTimeout time.Duration
	hangupTimeout     time.Duration
	transferWatchdog  time.Duration
	sttReconnectWindow time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}

	// ClosingLines holds operator-configurable spoken lines for
	// controller-driven terminal outcomes that the dialog engine never
	// sees (no_response, transfer_failed, stt_unavailable) — the
	// engine's own ClosingLine covers the LLM-tool-driven outcomes
	// (disqualified, user_declined, user_requested_hangup).
	ClosingLines map[HangupCause]string

	stateEvents chan StateChange
}

// StateChange is one CallStateChanged occurrence, published on the same
// per-call event-channel pattern as the teacher's ManagedStream.events for
// any observer. pkg/telemetry's transition counter is incremented directly
// by setState, not by reading this channel.
type StateChange struct {
	From  State
	To    State
	Cause string
	At    time.Time
}

// NewController creates a Controller for a freshly-inserted Call.
func NewController(c *Call, reg *registry.Registry, tel TelephonyOps, dlg DialogEngine, ttsProvider orchestrator.TTSProvider, stats *telemetry.PipelineCounters, logger orchestrator.Logger, agentTransferNumber string) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		call:                 c,
		reg:                  reg,
		tel:                  tel,
		dlg:                  dlg,
		tts:                  ttsProvider,
		stats:                stats,
		logger:               logger,
		agentTransferNumber:  agentTransferNumber,
		mailbox:              make(chan event, 256),
		noResponseTimeout:    DefaultNoResponseTimeout,
		hangupTimeout:        DefaultHangupTimeout,
		transferWatchdog:     DefaultTransferWatchdog,
		sttReconnectWindow:   DefaultSTTReconnectWindow,
		ctx:                  ctx,
		cancel:               cancel,
		done:                 make(chan struct{}),
		ClosingLines:         defaultControllerClosingLines(),
		stateEvents:          make(chan StateChange, 32),
	}
}

func defaultControllerClosingLines() map[HangupCause]string {
	return map[HangupCause]string{
		CauseTransferFailed: "I'm having trouble connecting you, someone will follow up shortly. Take care.",
		CauseSTTUnavailable: "Sorry, I'm having trouble hearing you right now. We'll try you again soon.",
	}
}

// ID satisfies registry.CallHandle so a Controller can be registered and
// retrieved directly, rather than the bare Call underneath it.
func (c *Controller) ID() string { return c.call.ID() }

// Events returns the CallStateChanged stream. The channel is never closed
// by Cleanup — callers should stop reading once Done() fires.
func (c *Controller) Events() <-chan StateChange { return c.stateEvents }

// setState transitions the call, publishes a CallStateChanged event and
// records the transition in pkg/telemetry's pipeline counters.
func (c *Controller) setState(s State, cause string) State {
	prev := c.call.SetState(s)
	if c.stats != nil {
		c.stats.IncStateTransition(c.ctx, c.call.ID())
	}
	select {
	case c.stateEvents <- StateChange{From: prev, To: s, Cause: cause, At: time.Now()}:
	default:
		// A slow/absent telemetry consumer must never block the call.
	}
	return prev
}

// Run is the supervisor loop. It must be started in its own goroutine and
// returns once Cleanup has completed.
func (c *Controller) Run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.mailbox:
			c.dispatch(ev)
			if c.call.State() == StateTerminal {
				return
			}
		}
	}
}

func (c *Controller) dispatch(ev event) {
	switch ev.kind {
	case evWebhook:
		c.handleWebhook(ev.webhook)
	case evMediaStart:
		c.handleMediaStart()
	case evMediaAudio:
		c.handleMediaAudio(ev.audio)
	case evMediaStop:
		c.handleMediaStop()
	case evSTT:
		c.handleSTTEvent(ev.sttEvt)
	case evTTSComplete:
		c.handleTTSComplete()
	case evNoResponseFire:
		c.handleNoResponseFire()
	case evHangupFire:
		c.handleHangupFire()
	case evTransferFire:
		c.handleTransferFire()
	case evTransferWatchdogFire:
		c.handleTransferWatchdogFire()
	}
}

// send enqueues an event; used both by the controller's own goroutines
// (timers, STT/media callbacks) and by external wiring code.
func (c *Controller) send(ev event) {
	select {
	case c.mailbox <- ev:
	case <-c.ctx.Done():
	}
}

// HandleWebhook is the external entry point for telephony webhook events.
func (c *Controller) HandleWebhook(evt telephony.WebhookEvent) {
	c.send(event{kind: evWebhook, webhook: evt})
}

func (c *Controller) handleWebhook(evt telephony.WebhookEvent) {
	switch evt.EventType {
	case telephony.EventAnswered:
		if c.call.State() == StateInitiated || c.call.State() == StateRinging {
			c.call.MarkConnected()
			wsURL := "" // supplied by the webhook-base-URL wiring in cmd/callagent
			if err := c.tel.StartStream(c.ctx, c.call.ID(), wsURL); err != nil {
				c.logf("start_stream failed: %v", err)
				c.terminate(OutcomeCompleted, CauseProviderError)
				return
			}
			c.setState(StateStreaming, "")
		}
	case telephony.EventBridged:
		c.call.SetBridged()
		c.stopTimer(&c.watchdogTimer)
		c.setState(StateBridged, "")
		c.call.SetOutcome(OutcomeTransferred, "")
		c.terminate(OutcomeTransferred, "")
	case telephony.EventHangup:
		cause := CauseRemoteHangup
		if c.call.Outcome() == "" {
			c.call.SetOutcome(OutcomeCompleted, cause)
		}
		c.terminate(c.call.Outcome(), cause)
	case telephony.EventMachineDetected:
		c.call.SetVoicemailDetected()
	}
}

// AttachMediaSocket binds the provider's media connection to this call —
// the "media_socket opened" transition (spec.md §4.1).
func (c *Controller) AttachMediaSocket(m MediaOps, streamID string, sttClient STTOps) {
	c.mediaMu.Lock()
	c.media = m
	c.streamID = streamID
	c.mediaMu.Unlock()

	c.sttMu.Lock()
	c.sttClient = sttClient
	c.sttMu.Unlock()

	if err := sttClient.Connect(c.ctx); err != nil {
		c.logf("stt connect failed: %v", err)
		c.terminateWithCause(OutcomeCompleted, CauseSTTUnavailable)
		return
	}
	go c.pumpSTTEvents(sttClient)

	c.armNoResponseTimer()
	c.setState(StateQualifyingInProgress, "")

	// Kick off the opening dialog turn so the script asks its first
	// question without waiting for user speech.
	c.runDialogTurn("")
}

func (c *Controller) pumpSTTEvents(client STTOps) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case e, ok := <-client.Events():
			if !ok {
				return
			}
			c.send(event{kind: evSTT, sttEvt: e})
		}
	}
}

// HandleMediaStart/HandleMediaAudio/HandleMediaStop are the external
// entry points a MediaSocket's read loop calls.
func (c *Controller) HandleMediaStart() { c.send(event{kind: evMediaStart}) }
func (c *Controller) HandleMediaAudio(frame []byte) {
	c.send(event{kind: evMediaAudio, audio: frame})
}
func (c *Controller) HandleMediaStop() { c.send(event{kind: evMediaStop}) }

func (c *Controller) handleMediaStart() {
	// Idempotent per spec.md §4.2: the STT session may already be open
	// via AttachMediaSocket; nothing further required here.
}

func (c *Controller) handleMediaAudio(frame []byte) {
	c.call.IncInbound()
	if c.stats != nil {
		c.stats.IncInbound(c.ctx, c.call.ID())
	}

	if c.call.Flags().Bridged {
		c.call.IncDroppedBridged()
		if c.stats != nil {
			c.stats.IncDroppedBridged(c.ctx, c.call.ID())
		}
		return
	}

	c.sttMu.Lock()
	client := c.sttClient
	c.sttMu.Unlock()

	if client == nil || !client.Ready() {
		c.call.IncDroppedNotReady()
		if c.stats != nil {
			c.stats.IncDroppedNotReady(c.ctx, c.call.ID())
		}
		c.mediaMu.Lock()
		if ms, ok := c.media.(*telephony.MediaSocket); ok {
			ms.EnqueueInbound(frame)
		}
		c.mediaMu.Unlock()
		return
	}

	client.SendAudio(frame)
}

func (c *Controller) handleMediaStop() {
	// Give the STT session a grace period to deliver a final transcript
	// before disconnecting (spec.md §4.2 "1s grace").
	time.AfterFunc(time.Second, func() {
		c.sttMu.Lock()
		client := c.sttClient
		c.sttMu.Unlock()
		if client != nil {
			client.Disconnect()
		}
	})
}

func (c *Controller) handleSTTEvent(e stt.Event) {
	switch e.Kind {
	case stt.EventFinalTranscript:
		c.handleFinalTranscript(e)
	case stt.EventPartialTranscript:
		c.handlePartialTranscript(e)
	case stt.EventAuthError, stt.EventQuotaExceeded, stt.EventTranscriberError:
		c.terminateWithCause(OutcomeCompleted, CauseSTTUnavailable)
	case stt.EventQueueOverflow:
		c.reconnectSTT()
	}
}

func (c *Controller) handlePartialTranscript(e stt.Event) {
	if c.call.Flags().AISpeaking {
		// Overlap/barge-in rule (spec.md §4.1): record the attempt but do
		// not turn it into a dialog turn while the AI is speaking.
		c.call.SetUserAttemptedResponse(true)
		return
	}
}

func (c *Controller) handleFinalTranscript(e stt.Event) {
	if e.VoicemailMatch {
		c.call.SetVoicemailDetected()
		c.call.AppendMessage(SpeakerUser, e.Text)
		farewell := c.dlg.ClosingLine(DialogOutcomeVoicemail)
		c.speak(farewell, func() {
			c.call.SetOutcome(OutcomeVoicemail, CauseVoicemail)
			c.terminate(OutcomeVoicemail, CauseVoicemail)
		})
		return
	}

	c.stopTimer(&c.noResponseTimer)
	c.stopTimer(&c.hangupTimer)
	c.call.SetUserAttemptedResponse(false)
	c.call.AppendMessage(SpeakerUser, e.Text)
	c.runDialogTurn(e.Text)
}

func (c *Controller) runDialogTurn(userUtterance string) {
	c.setState(StateQualifyingInProgress, "")
	res, err := c.dlg.Turn(c.ctx, c.call, userUtterance)
	if err != nil {
		c.logf("dialog turn failed: %v", err)
		c.terminate(OutcomeCompleted, CauseProviderError)
		return
	}

	text := res.AssistantText
	var endCall bool
	if res.Tool != nil && res.Tool.SetCallOutcome != nil {
		if closing, done := c.applyOutcome(res.Tool.SetCallOutcome.Outcome); closing != "" {
			text = closing
			endCall = done
		}
	}

	if text != "" {
		c.call.AppendMessage(SpeakerAgent, text)
		c.speak(text, func() { c.afterTurn(endCall) })
	} else {
		c.afterTurn(endCall)
	}
}

// applyOutcome validates a set_call_outcome tool call and returns the
// closing line to speak (if any) and whether the call should terminate
// once that line finishes playing.
func (c *Controller) applyOutcome(o DialogOutcome) (closingLine string, endCall bool) {
	switch o {
	case DialogOutcomeTransferToAgent:
		if !c.call.Qualification().AllTrue() {
			return "", false
		}
		c.mu.Lock()
		c.pendingTransfer = true
		c.mu.Unlock()
		c.setState(StateTransferRequested, "")
		return "", false
	case DialogOutcomeDisqualified, DialogOutcomeUserDeclined, DialogOutcomeUserRequestedEnd:
		c.call.SetOutcome(OutcomeCompleted, "")
		return c.dlg.ClosingLine(o), true
	}
	return "", false
}

// afterTurn runs after a dialog turn's line has finished playing: it
// either tears the call down (terminal outcome reached) or arms the
// next no-response window / transfer choreography.
func (c *Controller) afterTurn(endCall bool) {
	if endCall {
		c.terminate(c.call.Outcome(), c.call.HangupCause())
		return
	}
	c.afterSpeaking()
}

// speak synthesizes text over the live MediaSocket and invokes onDone
// either when the TTS stream completes or — if no completion signal
// arrives — after an estimated playback duration (spec.md §4.1 fallback).
func (c *Controller) speak(text string, onDone func()) {
	c.call.SetAISpeaking(true)
	c.setState(StateSpeaking, "")

	estimated := time.Duration(float64(len(text))/speechRateCharsPerSecond*1000) * time.Millisecond

	var once sync.Once
	fire := func() {
		once.Do(func() {
			c.call.SetAISpeaking(false)
			if onDone != nil {
				onDone()
			}
		})
	}

	go func() {
		err := c.tts.StreamSynthesize(c.ctx, text, orchestrator.Voice(""), orchestrator.LanguageEn, func(chunk []byte) error {
			c.mediaMu.Lock()
			m := c.media
			streamID := c.streamID
			c.mediaMu.Unlock()
			if m != nil {
				_ = m.WriteAudio(streamID, chunk)
				c.call.IncSentOutbound()
				if c.stats != nil {
					c.stats.IncSentOutbound(c.ctx, c.call.ID())
				}
			}
			return nil
		})
		if err != nil {
			c.logf("tts stream error: %v", err)
		}
		fire()
	}()

	time.AfterFunc(estimated+500*time.Millisecond, fire)
}

func (c *Controller) afterSpeaking() {
	c.mu.Lock()
	pending := c.pendingTransfer
	c.pendingTransfer = false
	c.mu.Unlock()

	if pending {
		c.fireTransfer()
		return
	}

	c.armNoResponseTimer()
}

func (c *Controller) handleTTSComplete() {
	// Reserved for a provider-level completion webhook; the current
	// pipeline drives completion from speak()'s own goroutine instead.
}

func (c *Controller) fireTransfer() {
	c.setState(StateTransferRequested, "")
	if err := c.tel.Transfer(c.ctx, c.call.ID(), c.agentTransferNumber); err != nil {
		c.logf("transfer failed: %v", err)
		c.terminateWithCause(OutcomeCompleted, CauseTransferFailed)
		return
	}
	c.armTimer(&c.watchdogTimer, c.transferWatchdog, func() {
		if !c.call.Flags().Bridged {
			c.terminateWithCause(OutcomeCompleted, CauseTransferFailed)
		}
	})
}

func (c *Controller) reconnectSTT() {
	c.mu.Lock()
	if c.sttReconnecting {
		c.mu.Unlock()
		return
	}
	c.sttReconnecting = true
	c.mu.Unlock()

	c.sttMu.Lock()
	client := c.sttClient
	c.sttMu.Unlock()
	if client == nil {
		return
	}
	client.Disconnect()

	deadline := time.Now().Add(c.sttReconnectWindow)
	if err := client.Connect(c.ctx); err != nil || time.Now().After(deadline) {
		c.terminateWithCause(OutcomeCompleted, CauseSTTUnavailable)
		return
	}

	c.mu.Lock()
	c.sttReconnecting = false
	c.mu.Unlock()
}

// --- timers ---

func (c *Controller) armNoResponseTimer() {
	if c.call.Flags().AISpeaking {
		return
	}
	c.armTimer(&c.noResponseTimer, c.noResponseTimeout, c.fireNoResponse)
}

func (c *Controller) fireNoResponse() {
	c.send(event{kind: evNoResponseFire})
}

func (c *Controller) handleNoResponseFire() {
	warning := "I can't hear you clearly. Please try again."
	c.call.AppendMessage(SpeakerAgent, warning)
	c.speak(warning, func() {
		c.armTimer(&c.hangupTimer, c.hangupTimeout, c.fireHangup)
	})
}

func (c *Controller) fireHangup() {
	c.send(event{kind: evHangupFire})
}

func (c *Controller) handleHangupFire() {
	c.call.SetOutcome(OutcomeNoResponse, CauseNoResponse)
	c.terminateWithCause(OutcomeNoResponse, CauseNoResponse)
}

func (c *Controller) handleTransferFire() {
	c.fireTransfer()
}

func (c *Controller) handleTransferWatchdogFire() {
	if !c.call.Flags().Bridged {
		c.terminateWithCause(OutcomeCompleted, CauseTransferFailed)
	}
}

func (c *Controller) armTimer(slot **time.Timer, d time.Duration, fire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if *slot != nil {
		(*slot).Stop()
	}
	*slot = time.AfterFunc(d, fire)
}

func (c *Controller) stopTimer(slot **time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

// terminate drives the call to Terminal and runs the cleanup fan-out.
func (c *Controller) terminate(outcome Outcome, cause HangupCause) {
	prev := c.setState(StateTerminal, string(cause))
	if prev == StateTerminal {
		c.Cleanup()
		return
	}
	if outcome != "" {
		c.call.SetOutcome(outcome, cause)
	}
	c.Cleanup()
}

// terminateWithCause speaks the operator-configured ClosingLines entry
// for cause (if any) before tearing the call down, so a caller-hangs-up
// failure path still gets a spoken line the way the scripted outcomes do.
func (c *Controller) terminateWithCause(outcome Outcome, cause HangupCause) {
	if c.call.State() == StateTerminal {
		c.terminate(outcome, cause)
		return
	}
	if line, ok := c.ClosingLines[cause]; ok && line != "" {
		c.call.AppendMessage(SpeakerAgent, line)
		c.speak(line, func() { c.terminate(outcome, cause) })
		return
	}
	c.terminate(outcome, cause)
}

// Cleanup fans out idempotent teardown: cancel every timer, abort
// in-flight TTS, close STT and MediaSocket, remove from the registry
// exactly once (spec.md §8 property 6).
func (c *Controller) Cleanup() {
	c.closeOnce.Do(func() {
		c.stopTimer(&c.noResponseTimer)
		c.stopTimer(&c.hangupTimer)
		c.stopTimer(&c.transferTimer)
		c.stopTimer(&c.watchdogTimer)

		if c.tts != nil {
			_ = c.tts.Abort()
		}

		c.sttMu.Lock()
		if c.sttClient != nil {
			c.sttClient.Disconnect()
		}
		c.sttMu.Unlock()

		c.mediaMu.Lock()
		if c.media != nil {
			_ = c.media.Close()
		}
		c.mediaMu.Unlock()

		if c.reg != nil {
			c.reg.Remove(c.call.ID())
		}

		c.cancel()
	})
}

// Done reports when the supervisor loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Error(fmt.Sprintf("[call %s] %s", c.call.ID(), fmt.Sprintf(format, args...)))
}
