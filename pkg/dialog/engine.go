package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/call"
)

const lastAssistantTurnsChecked = 3

// Turn drives one exchange of the scripted qualification flow: it asks
// the bound LLM for the next assistant line (and any tool call), applies
// the anti-repetition guard, validates and applies tool calls against c's
// qualification record, and advances c's script cursor.
//
// userUtterance is empty for the opening turn (no prior user speech yet).
func (e *Engine) Turn(ctx context.Context, c *call.Call, userUtterance string) (call.DialogTurnResult, error) {
	cursor := c.Cursor()
	prompt := e.systemPrompt(c, cursor)
	history := c.DialogMessages()

	text, tool, err := e.llm.CompleteTurn(ctx, prompt, history, userUtterance)
	if err != nil {
		return call.DialogTurnResult{}, fmt.Errorf("dialog: llm turn failed: %w", err)
	}

	text = e.dodgeRepetition(c, cursor, text)

	next := cursor
	if tool != nil {
		if applyErr := e.applyTool(c, cursor, tool); applyErr != nil {
			// A rejected tool call does not fail the turn: the spoken line
			// still plays, the script simply does not advance.
			tool = nil
		} else if tool.UpdateQualification != nil {
			next = call.NextStep(cursor)
		}
	}

	// Post-verification override: once verified_info flips to true, the
	// cursor must never remain on StepVerifyInfo even if the LLM's tool
	// call on this turn addressed a different field (e.g. resumed from a
	// reconnect mid-script) — the spec treats verified_info as a
	// standalone gate ahead of the five-field loop. Whatever the LLM
	// drafted for this turn is an acknowledgment of the verification
	// answer, not the discovery question itself, so it is replaced
	// outright rather than merely advancing the cursor underneath it.
	if cursor == call.StepVerifyInfo && c.Qualification().Get(call.FieldVerifiedInfo) == call.True {
		next = call.StepDiscovery
		text = e.script.TextFor(call.StepDiscovery)
	}

	if next != cursor {
		c.AdvanceCursor(next)
	}

	return call.DialogTurnResult{AssistantText: text, Tool: tool, NextCursor: next}, nil
}

func (e *Engine) systemPrompt(c *call.Call, cursor call.ScriptStep) string {
	var b strings.Builder
	b.WriteString("You are a scripted outbound qualification agent. Ask one question at a time, acknowledge the caller's answer briefly, and never invent information.\n")
	b.WriteString("Current script step: ")
	b.WriteString(string(cursor))
	b.WriteString("\nSuggested line for this step: ")
	b.WriteString(e.script.TextFor(cursor))
	if field, ok := call.FieldForStep(cursor); ok {
		fmt.Fprintf(&b, "\nWhen the caller answers, call update_qualification for field %q with true or false.", field)
	}
	if c.Qualification().AllTrue() {
		b.WriteString("\nAll qualification fields are true: call set_call_outcome with transfer_to_agent.")
	}
	return b.String()
}

// dodgeRepetition replaces text with the scripted line (or, failing that,
// a neutral prompt) if text verbatim-repeats one of the last N assistant
// turns (spec.md §4.5 "Anti-repetition").
func (e *Engine) dodgeRepetition(c *call.Call, cursor call.ScriptStep, text string) string {
	recent := c.LastNAssistantTurns(lastAssistantTurnsChecked)
	if !repeatsRecent(text, recent) {
		return text
	}
	scripted := e.script.TextFor(cursor)
	if !repeatsRecent(scripted, recent) {
		return scripted
	}
	return neutralPrompt
}

// applyTool validates and applies a tool call against c. Returns an error
// if the call is malformed or violates an invariant (e.g. addressing a
// field the current step does not own, or a premature transfer request).
func (e *Engine) applyTool(c *call.Call, cursor call.ScriptStep, tool *call.ToolCall) error {
	switch {
	case tool.UpdateQualification != nil:
		uq := tool.UpdateQualification
		expected, ok := call.FieldForStep(cursor)
		if cursor == call.StepVerifyInfo {
			// The verification step owns verified_info directly.
			expected, ok = call.FieldVerifiedInfo, true
		}
		if !ok || expected != uq.Field {
			return fmt.Errorf("dialog: update_qualification for %q not valid at step %q", uq.Field, cursor)
		}
		return c.Qualification().Set(uq.Field, uq.Value)
	case tool.SetCallOutcome != nil:
		if tool.SetCallOutcome.Outcome == call.DialogOutcomeTransferToAgent && !c.Qualification().AllTrue() {
			return fmt.Errorf("dialog: transfer_to_agent requested before all qualification fields are true")
		}
		return nil
	default:
		return fmt.Errorf("dialog: empty tool call")
	}
}
