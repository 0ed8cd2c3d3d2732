package call

// DialogOutcome mirrors spec.md §4.5's set_call_outcome argument values —
// the LLM's tool-call vocabulary, distinct from Outcome (the call's own
// terminal disposition recorded at hangup).
type DialogOutcome string

const (
	DialogOutcomeTransferToAgent  DialogOutcome = "transfer_to_agent"
	DialogOutcomeDisqualified     DialogOutcome = "disqualified"
	DialogOutcomeUserDeclined     DialogOutcome = "user_declined"
	DialogOutcomeUserRequestedEnd DialogOutcome = "user_requested_hangup"

	// DialogOutcomeVoicemail is never emitted by the LLM's set_call_outcome
	// tool call — it is CallController's own voicemail short-circuit
	// (spec.md §4.1) — but it shares the same operator-configurable
	// closing-line table so the farewell line lives in one place.
	DialogOutcomeVoicemail DialogOutcome = "voicemail"
)

// ToolCall is a structured emission from the LLM requesting a typed state
// mutation (spec.md GLOSSARY). Declared here rather than in pkg/dialog so
// that pkg/call never has to import pkg/dialog back — pkg/dialog already
// depends on Call/Turn/ScriptStep, so the dependency can only run one way.
type ToolCall struct {
	UpdateQualification *UpdateQualificationCall
	SetCallOutcome      *SetCallOutcomeCall
}

// UpdateQualificationCall sets exactly one of the five qualification
// fields (spec.md §4.5).
type UpdateQualificationCall struct {
	Field Field
	Value TriState
}

// SetCallOutcomeCall records a terminal dialog outcome.
type SetCallOutcomeCall struct {
	Outcome DialogOutcome
}

// DialogTurnResult is what one DialogEngine.Turn call produces.
type DialogTurnResult struct {
	AssistantText string
	Tool          *ToolCall
	NextCursor    ScriptStep
}
