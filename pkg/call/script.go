package call

// ScriptStep is the dialog cursor — the current position in the scripted
// qualification flow (spec.md §4.5 "Script order").
type ScriptStep string

const (
	StepVerifyInfo ScriptStep = "verify_info"
	StepDiscovery  ScriptStep = "discovery"
	StepAlzheimers ScriptStep = "alzheimers"
	StepHospice    ScriptStep = "hospice"
	StepAge        ScriptStep = "age"
	StepBank       ScriptStep = "bank"
	StepResolve    ScriptStep = "resolve"
	StepDone       ScriptStep = "done"
)

// stepOrder is the fixed sequence from spec.md §4.5 (1)-(7).
var stepOrder = []ScriptStep{
	StepVerifyInfo,
	StepDiscovery,
	StepAlzheimers,
	StepHospice,
	StepAge,
	StepBank,
	StepResolve,
}

// NextStep returns the step following s in script order, or StepDone if s
// is the last step.
func NextStep(s ScriptStep) ScriptStep {
	for i, step := range stepOrder {
		if step == s && i+1 < len(stepOrder) {
			return stepOrder[i+1]
		}
	}
	return StepDone
}

// FieldForStep maps a qualification-question step to the field it sets,
// per spec.md §4.5 (3)-(6). StepVerifyInfo, StepDiscovery and StepResolve
// have no associated field (the dialog engine accepts verified_info at the
// verify step as a special case; discovery must not produce any
// update_qualification).
func FieldForStep(s ScriptStep) (Field, bool) {
	switch s {
	case StepAlzheimers:
		return FieldNoAlzheimers, true
	case StepHospice:
		return FieldNoHospice, true
	case StepAge:
		return FieldAgeQualified, true
	case StepBank:
		return FieldHasBankAccount, true
	default:
		return "", false
	}
}
