package dialog

import (
	"context"
	"testing"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/call"
)

type mockLLM struct {
	text string
	tool *call.ToolCall
	err  error
}

func (m *mockLLM) CompleteTurn(ctx context.Context, systemPrompt string, history []call.Turn, userUtterance string) (string, *call.ToolCall, error) {
	return m.text, m.tool, m.err
}

func (m *mockLLM) Name() string { return "mock-llm" }

func TestEngine_Turn_AdvancesCursorOnValidToolCall(t *testing.T) {
	c := call.New("call-1", "+15551234567", "+15557654321")
	c.AdvanceCursor(call.StepAlzheimers)

	llm := &mockLLM{
		text: "Understood, thank you.",
		tool: &call.ToolCall{UpdateQualification: &call.UpdateQualificationCall{
			Field: call.FieldNoAlzheimers,
			Value: call.False,
		}},
	}
	e := New(llm)

	res, err := e.Turn(context.Background(), c, "No, not at all.")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.NextCursor != call.StepHospice {
		t.Fatalf("expected cursor to advance to %s, got %s", call.StepHospice, res.NextCursor)
	}
	if c.Qualification().Get(call.FieldNoAlzheimers) != call.False {
		t.Fatalf("expected qualification applied, got %v", c.Qualification().Get(call.FieldNoAlzheimers))
	}
}

func TestEngine_Turn_RejectsToolCallForWrongStep(t *testing.T) {
	c := call.New("call-2", "+15551234567", "+15557654321")
	c.AdvanceCursor(call.StepAlzheimers)

	llm := &mockLLM{
		text: "Let's move on.",
		tool: &call.ToolCall{UpdateQualification: &call.UpdateQualificationCall{
			Field: call.FieldHasBankAccount,
			Value: call.True,
		}},
	}
	e := New(llm)

	res, err := e.Turn(context.Background(), c, "sure")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Tool != nil {
		t.Fatal("expected mismatched-step tool call to be rejected and dropped from the result")
	}
	if res.NextCursor != call.StepAlzheimers {
		t.Fatalf("cursor must not advance on a rejected tool call, got %s", res.NextCursor)
	}
	if c.Qualification().Get(call.FieldHasBankAccount) != call.Unset {
		t.Fatal("rejected tool call must not mutate qualification")
	}
}

func TestEngine_Turn_AntiRepetitionReplacesRepeatedLine(t *testing.T) {
	c := call.New("call-3", "+15551234567", "+15557654321")
	c.AdvanceCursor(call.StepHospice)
	c.AppendMessage(call.SpeakerAgent, "Are they currently enrolled in hospice care?")
	c.AppendMessage(call.SpeakerUser, "no")
	c.AppendMessage(call.SpeakerAgent, "Are they currently enrolled in hospice care?")

	llm := &mockLLM{text: "Are they currently enrolled in hospice care?"}
	e := New(llm)

	res, err := e.Turn(context.Background(), c, "still no")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.AssistantText == "Are they currently enrolled in hospice care?" {
		t.Fatal("expected anti-repetition to replace a verbatim-repeated line")
	}
}

func TestEngine_Turn_PostVerificationOverrideAdvancesCursor(t *testing.T) {
	c := call.New("call-4", "+15551234567", "+15557654321")
	if err := c.Qualification().Set(call.FieldVerifiedInfo, call.True); err != nil {
		t.Fatal(err)
	}

	llm := &mockLLM{text: "Great, thank you."}
	e := New(llm)

	res, err := e.Turn(context.Background(), c, "yes that's me")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.NextCursor != call.StepDiscovery {
		t.Fatalf("expected override to advance past verify_info, got %s", res.NextCursor)
	}
	if want := e.script.TextFor(call.StepDiscovery); res.AssistantText != want {
		t.Fatalf("expected the acknowledgment-only candidate replaced by the discovery question %q, got %q", want, res.AssistantText)
	}
}

func TestEngine_ClosingLine_FallsBackWhenUnconfigured(t *testing.T) {
	e := New(&mockLLM{})
	if line := e.ClosingLine(call.DialogOutcomeTransferToAgent); line == "" {
		t.Fatal("expected a non-empty closing line even for an unconfigured outcome")
	}
}
