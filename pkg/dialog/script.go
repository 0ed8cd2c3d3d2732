package dialog

import "github.com/lokutor-ai/lokutor-orchestrator/pkg/call"

// Script holds the operator-configurable spoken text for each scripted
// step (spec.md §4.5 "Script order" gives the defaults verbatim; the
// indirection itself is the supplement resolving open question (b)).
type Script map[call.ScriptStep]string

// DefaultScript returns the literal script text from spec.md §4.5.
func DefaultScript() Script {
	return Script{
		call.StepVerifyInfo: "Before we continue, can you confirm I'm speaking with the right person?",
		call.StepDiscovery:  "How are you doing today? I wanted to reach out about a program that may be able to help with home care costs.",
		call.StepAlzheimers: "Has the person we'd be assisting been diagnosed with Alzheimer's or a related dementia?",
		call.StepHospice:    "Are they currently enrolled in hospice care?",
		call.StepAge:        "Can you confirm they are between the ages of 50 and 78?",
		call.StepBank:       "Do they have an active bank account the benefit could be deposited into?",
		call.StepResolve:    "Great, thank you for confirming all of that. Let me connect you with one of our agents now.",
	}
}

// TextFor returns the configured text for step, or a neutral fallback if
// the operator's script map omits it.
func (s Script) TextFor(step call.ScriptStep) string {
	if text, ok := s[step]; ok {
		return text
	}
	return "Could you tell me a bit more about that?"
}

// neutralPrompt is the scripted fallback used when the LLM's drafted line
// for this step would repeat a recent assistant turn verbatim (spec.md
// §4.5 "Anti-repetition").
const neutralPrompt = "Sorry, could you say that again?"
