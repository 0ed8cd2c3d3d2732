// Package dialog owns the LLM-backed turn manager: the qualification
// script, tool-call semantics (update_qualification, set_call_outcome),
// and anti-repetition (spec.md §4.5).
//
// Grounded on the teacher's turn-management style in conversation.go
// (session-scoped history, system prompt, LLM round-trip) generalized to
// emit typed tool calls instead of plain text, patterned after the
// tool-call dispatch loop read in _examples/MrWong99-glyphoxa/internal/agent/agent.go
// during the survey.
//
// The tool-call vocabulary (call.ToolCall, call.DialogOutcome) lives in
// pkg/call rather than here: pkg/dialog already depends on call.Call for
// the turn state it mutates, so the wire types it produces live with
// their consumer to keep the dependency one-directional.
package dialog

import (
	"context"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/call"
)

// LLMTurnProvider is the tool-call-capable LLM seam the dialog engine
// drives: structured tool-call output, not a plain-text completion, since
// the qualification/outcome tool calls need typed arguments, not parsing.
type LLMTurnProvider interface {
	// CompleteTurn returns the assistant's spoken text plus at most one
	// recognized tool call for this turn.
	CompleteTurn(ctx context.Context, systemPrompt string, history []call.Turn, userUtterance string) (text string, tool *call.ToolCall, err error)
	Name() string
}

// Engine is the DialogEngine.
type Engine struct {
	llm          LLMTurnProvider
	script       Script
	closingLines map[call.DialogOutcome]string
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithScript overrides the default script text.
func WithScript(s Script) Option {
	return func(e *Engine) { e.script = s }
}

// WithClosingLines overrides the per-outcome closing lines (resolves
// spec.md §9 open question (b) in favor of operator configuration).
func WithClosingLines(lines map[call.DialogOutcome]string) Option {
	return func(e *Engine) {
		for k, v := range lines {
			e.closingLines[k] = v
		}
	}
}

// New creates a DialogEngine bound to an LLM turn provider.
func New(llm LLMTurnProvider, opts ...Option) *Engine {
	e := &Engine{
		llm:          llm,
		script:       DefaultScript(),
		closingLines: defaultClosingLines(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultClosingLines() map[call.DialogOutcome]string {
	return map[call.DialogOutcome]string{
		call.DialogOutcomeDisqualified:     "Thanks so much for your time today. Based on what you've shared, this particular program isn't the right fit. Have a great day.",
		call.DialogOutcomeUserDeclined:     "No problem at all, thanks for your time. Have a great day.",
		call.DialogOutcomeUserRequestedEnd: "Understood, I'll let you go. Take care.",
		call.DialogOutcomeVoicemail:        "Sorry to have bothered you, have a great day.",
	}
}

// ClosingLine returns the configured closing line for a non-transfer
// terminal outcome.
func (e *Engine) ClosingLine(o call.DialogOutcome) string {
	if line, ok := e.closingLines[o]; ok {
		return line
	}
	return "Thanks for your time. Have a great day."
}
