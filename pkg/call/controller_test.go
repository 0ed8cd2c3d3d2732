package call

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/dialog"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/registry"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/stt"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/telephony"
)

const eventuallyTimeout = time.Second
const eventuallyTick = 5 * time.Millisecond

type fakeTelephony struct {
	mu            sync.Mutex
	transferCalls []string
	transferErr   error
}

func (f *fakeTelephony) Answer(ctx context.Context, callID string) error             { return nil }
func (f *fakeTelephony) Hangup(ctx context.Context, callID string) error            { return nil }
func (f *fakeTelephony) StartStream(ctx context.Context, callID, wsURL string) error { return nil }
func (f *fakeTelephony) StopStream(ctx context.Context, callID string) error        { return nil }
func (f *fakeTelephony) Transfer(ctx context.Context, callID, agentNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCalls = append(f.transferCalls, agentNumber)
	return f.transferErr
}

func (f *fakeTelephony) transferCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transferCalls)
}

type fakeMedia struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (f *fakeMedia) WriteAudio(streamID string, audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, audio)
	return nil
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMedia) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func (f *fakeMedia) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSTT struct {
	events      chan stt.Event
	connectErr  error
	ready       atomic.Bool
	disconnects atomic.Int32
}

func newFakeSTT() *fakeSTT {
	f := &fakeSTT{events: make(chan stt.Event, 16)}
	f.ready.Store(true)
	return f
}

func (f *fakeSTT) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeSTT) SendAudio(frame []byte) bool       { return true }
func (f *fakeSTT) Ready() bool                       { return f.ready.Load() }
func (f *fakeSTT) Events() <-chan stt.Event          { return f.events }
func (f *fakeSTT) Disconnect()                       { f.disconnects.Add(1) }

type fakeTTS struct {
	mu      sync.Mutex
	aborted bool
	synth   func(text string) []byte
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func (f *fakeTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	return nil, nil
}

func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	chunk := []byte(text)
	if f.synth != nil {
		chunk = f.synth(text)
	}
	return onChunk(chunk)
}

func (f *fakeTTS) Abort() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	return nil
}

func (f *fakeTTS) isAborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

type fakeLLMTurn struct {
	mu    sync.Mutex
	calls int
	text  string
	tool  *ToolCall
	err   error
}

func (f *fakeLLMTurn) Name() string { return "fake-llm" }

func (f *fakeLLMTurn) CompleteTurn(ctx context.Context, systemPrompt string, history []Turn, userUtterance string) (string, *ToolCall, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.tool, f.err
}

func newTestController(t *testing.T, llm dialog.LLMTurnProvider, tel TelephonyOps, tts orchestrator.TTSProvider) (*Controller, *Call) {
	t.Helper()
	c := New("call-1", "+15550000000", "+15551234567")
	reg := registry.New()
	engine := dialog.New(llm)
	ctrl := NewController(c, reg, tel, engine, tts, nil, nil, "+15559990000")
	require.True(t, reg.Insert(ctrl), "expected the controller to register under its call id")
	ctrl.noResponseTimeout = 30 * time.Millisecond
	ctrl.hangupTimeout = 30 * time.Millisecond
	ctrl.transferWatchdog = 40 * time.Millisecond
	return ctrl, c
}

func TestController_AttachMediaSocket_SpeaksOpeningLine(t *testing.T) {
	llm := &fakeLLMTurn{text: "Hi, is this Jane?"}
	media := &fakeMedia{}
	tts := &fakeTTS{}
	sttClient := newFakeSTT()

	ctrl, c := newTestController(t, llm, &fakeTelephony{}, tts)
	go ctrl.Run()

	ctrl.AttachMediaSocket(media, "stream-1", sttClient)

	require.Eventually(t, func() bool {
		return media.writtenCount() > 0
	}, eventuallyTimeout, eventuallyTick, "expected the opening line to be synthesized to the media socket")

	msgs := c.Messages()
	require.NotEmpty(t, msgs, "expected at least one logged message")
	require.Equal(t, SpeakerAgent, msgs[0].Speaker)
	require.NotEmpty(t, msgs[0].ID, "expected every logged turn to carry a unique id")
}

func TestController_QualificationToolCall_AdvancesCursor(t *testing.T) {
	llm := &fakeLLMTurn{
		text: "Got it.",
		tool: &ToolCall{UpdateQualification: &UpdateQualificationCall{
			Field: FieldVerifiedInfo,
			Value: True,
		}},
	}
	media := &fakeMedia{}
	tts := &fakeTTS{}

	ctrl, c := newTestController(t, llm, &fakeTelephony{}, tts)
	go ctrl.Run()
	ctrl.mediaMu.Lock()
	ctrl.media = media
	ctrl.mediaMu.Unlock()

	c.AdvanceCursor(StepVerifyInfo)
	ctrl.runDialogTurn("yes that's me")

	require.Eventually(t, func() bool {
		return c.Qualification().Get(FieldVerifiedInfo) == True
	}, eventuallyTimeout, eventuallyTick, "expected FieldVerifiedInfo to become true")

	// Post-verification override: cursor must leave StepVerifyInfo.
	require.NotEqual(t, StepVerifyInfo, c.Cursor(), "expected cursor to advance off StepVerifyInfo once verified_info is set")
}

func TestController_TransferToAgent_RequiresAllQualified(t *testing.T) {
	llm := &fakeLLMTurn{
		text: "Great, let me connect you.",
		tool: &ToolCall{SetCallOutcome: &SetCallOutcomeCall{Outcome: DialogOutcomeTransferToAgent}},
	}
	tel := &fakeTelephony{}
	tts := &fakeTTS{}

	ctrl, c := newTestController(t, llm, tel, tts)
	go ctrl.Run()
	ctrl.mediaMu.Lock()
	ctrl.media = &fakeMedia{}
	ctrl.mediaMu.Unlock()

	// Not all fields are qualified yet: the transfer must not be honored.
	ctrl.runDialogTurn("yes")
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, tel.transferCallCount(), "expected no transfer before qualification completes")

	// Qualify every field, then retry the same tool call.
	q := c.Qualification()
	require.NoError(t, q.Set(FieldVerifiedInfo, True))
	require.NoError(t, q.Set(FieldNoAlzheimers, True))
	require.NoError(t, q.Set(FieldNoHospice, True))
	require.NoError(t, q.Set(FieldAgeQualified, True))
	require.NoError(t, q.Set(FieldHasBankAccount, True))

	ctrl.runDialogTurn("yes")

	require.Eventually(t, func() bool {
		return tel.transferCallCount() > 0
	}, eventuallyTimeout, eventuallyTick, "expected a transfer call once qualified")
	require.Equal(t, 1, tel.transferCallCount(), "expected exactly one transfer call")
}

func TestController_TransferWatchdog_FiresTransferFailedOnTimeout(t *testing.T) {
	llm := &fakeLLMTurn{text: ""}
	tel := &fakeTelephony{}
	tts := &fakeTTS{}

	ctrl, c := newTestController(t, llm, tel, tts)
	go ctrl.Run()
	ctrl.mediaMu.Lock()
	ctrl.media = &fakeMedia{}
	ctrl.mediaMu.Unlock()

	ctrl.fireTransfer()

	require.Eventually(t, func() bool {
		return c.State() == StateTerminal
	}, eventuallyTimeout, eventuallyTick, "expected terminal state after watchdog timeout")
	require.Equal(t, CauseTransferFailed, c.HangupCause())
}

func TestController_BridgedWebhook_CancelsWatchdog(t *testing.T) {
	llm := &fakeLLMTurn{text: ""}
	tel := &fakeTelephony{}
	tts := &fakeTTS{}

	ctrl, c := newTestController(t, llm, tel, tts)
	go ctrl.Run()
	ctrl.mediaMu.Lock()
	ctrl.media = &fakeMedia{}
	ctrl.mediaMu.Unlock()

	ctrl.fireTransfer()
	ctrl.HandleWebhook(telephony.WebhookEvent{EventType: telephony.EventBridged})

	require.Eventually(t, func() bool {
		return c.State() == StateTerminal
	}, eventuallyTimeout, eventuallyTick, "expected terminal state after bridged webhook")
	require.Equal(t, OutcomeTransferred, c.Outcome())
}

func TestController_NoResponseThenHangup(t *testing.T) {
	llm := &fakeLLMTurn{text: ""}
	tel := &fakeTelephony{}
	tts := &fakeTTS{}

	ctrl, c := newTestController(t, llm, tel, tts)
	go ctrl.Run()
	ctrl.mediaMu.Lock()
	ctrl.media = &fakeMedia{}
	ctrl.mediaMu.Unlock()

	ctrl.armNoResponseTimer()

	require.Eventually(t, func() bool {
		return c.State() == StateTerminal
	}, eventuallyTimeout, eventuallyTick, "expected terminal state after no-response then hangup timers")
	require.Equal(t, CauseNoResponse, c.HangupCause())
}

func TestController_VoicemailFinalTranscript_EndsCallCleanly(t *testing.T) {
	llm := &fakeLLMTurn{text: ""}
	tel := &fakeTelephony{}
	tts := &fakeTTS{}

	ctrl, c := newTestController(t, llm, tel, tts)
	go ctrl.Run()
	ctrl.mediaMu.Lock()
	ctrl.media = &fakeMedia{}
	ctrl.mediaMu.Unlock()

	ctrl.handleFinalTranscript(stt.Event{Kind: stt.EventFinalTranscript, Text: "please leave a message", VoicemailMatch: true})

	require.Eventually(t, func() bool {
		return c.State() == StateTerminal
	}, eventuallyTimeout, eventuallyTick, "expected terminal state after voicemail transcript")
	require.Equal(t, OutcomeVoicemail, c.Outcome())
	require.True(t, c.Flags().VoicemailDetected)
}

func TestController_Cleanup_IsIdempotent(t *testing.T) {
	llm := &fakeLLMTurn{text: ""}
	tel := &fakeTelephony{}
	tts := &fakeTTS{}
	media := &fakeMedia{}
	sttClient := newFakeSTT()

	ctrl, c := newTestController(t, llm, tel, tts)
	ctrl.mediaMu.Lock()
	ctrl.media = media
	ctrl.mediaMu.Unlock()
	ctrl.sttMu.Lock()
	ctrl.sttClient = sttClient
	ctrl.sttMu.Unlock()

	ctrl.Cleanup()
	ctrl.Cleanup()

	require.EqualValues(t, 1, sttClient.disconnects.Load(), "expected Disconnect called exactly once")
	require.True(t, tts.isAborted(), "expected TTS Abort to be called")
	require.True(t, media.isClosed(), "expected media socket closed")

	_, ok := ctrl.reg.Get(c.ID())
	require.False(t, ok, "expected call removed from registry after cleanup")
}
