package call

import "fmt"

// TriState is a tri-valued qualification slot: unset, true, or false.
type TriState int

const (
	Unset TriState = iota
	True
	False
)

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unset"
	}
}

// Field names the five fixed qualification keys (spec.md §3).
type Field string

const (
	FieldVerifiedInfo    Field = "verified_info"
	FieldNoAlzheimers    Field = "no_alzheimers"
	FieldNoHospice       Field = "no_hospice"
	FieldAgeQualified    Field = "age_qualified"
	FieldHasBankAccount  Field = "has_bank_account"
)

// allFields is the fixed iteration order for the script and for the
// all-true transfer-gating check.
var allFields = [5]Field{
	FieldVerifiedInfo,
	FieldNoAlzheimers,
	FieldNoHospice,
	FieldAgeQualified,
	FieldHasBankAccount,
}

// Qualification is the fixed 5-field tri-valued record. Only the dialog
// engine's tool-call handler may call Set; the mutation is monotonic —
// once a field is true or false it cannot be cleared back to unset, and
// it cannot flip between true and false (spec.md §3 invariant).
type Qualification struct {
	values map[Field]TriState
}

// NewQualification returns a Qualification with all five fields unset.
func NewQualification() *Qualification {
	q := &Qualification{values: make(map[Field]TriState, len(allFields))}
	for _, f := range allFields {
		q.values[f] = Unset
	}
	return q
}

// Get returns the current value of field. Unknown fields read as Unset.
func (q *Qualification) Get(field Field) TriState {
	return q.values[field]
}

// Set applies a monotonic transition: field must currently be Unset. An
// attempt to set an already-set field (to the same or a different value)
// is rejected rather than silently ignored, since a caller doing that
// indicates a dialog-script bug.
func (q *Qualification) Set(field Field, value TriState) error {
	if value == Unset {
		return fmt.Errorf("qualification: cannot set %s to unset", field)
	}
	current, known := q.values[field]
	if !known {
		return fmt.Errorf("qualification: unknown field %s", field)
	}
	if current != Unset {
		return fmt.Errorf("qualification: %s already set to %s, refusing monotonic violation", field, current)
	}
	q.values[field] = value
	return nil
}

// AllTrue reports whether all five fields are set to True — the sole gate
// for accepting a transfer_to_agent outcome (spec.md §4.5, §8 property 2).
func (q *Qualification) AllTrue() bool {
	for _, f := range allFields {
		if q.values[f] != True {
			return false
		}
	}
	return true
}

// NextUnset returns the first field (in script order) still Unset, and
// whether one exists.
func (q *Qualification) NextUnset() (Field, bool) {
	for _, f := range allFields {
		if q.values[f] == Unset {
			return f, true
		}
	}
	return "", false
}

// Snapshot returns a copy of the qualification values, suitable for
// logging or persistence handoff without exposing the live map.
func (q *Qualification) Snapshot() map[Field]TriState {
	out := make(map[Field]TriState, len(q.values))
	for k, v := range q.values {
		out[k] = v
	}
	return out
}
