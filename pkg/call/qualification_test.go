package call

import "testing"

func TestQualification_MonotonicSet(t *testing.T) {
	q := NewQualification()

	if q.Get(FieldNoAlzheimers) != Unset {
		t.Fatalf("expected fresh field to be Unset, got %v", q.Get(FieldNoAlzheimers))
	}

	if err := q.Set(FieldNoAlzheimers, False); err != nil {
		t.Fatalf("first Set should succeed: %v", err)
	}
	if q.Get(FieldNoAlzheimers) != False {
		t.Fatalf("expected False after Set, got %v", q.Get(FieldNoAlzheimers))
	}

	if err := q.Set(FieldNoAlzheimers, True); err == nil {
		t.Fatal("expected re-setting an already-set field to be rejected")
	}
	if q.Get(FieldNoAlzheimers) != False {
		t.Fatalf("rejected Set must not mutate the field, got %v", q.Get(FieldNoAlzheimers))
	}
}

func TestQualification_SetUnsetRejected(t *testing.T) {
	q := NewQualification()
	if err := q.Set(FieldAgeQualified, Unset); err == nil {
		t.Fatal("expected Set(..., Unset) to be rejected")
	}
}

func TestQualification_AllTrue(t *testing.T) {
	q := NewQualification()
	if q.AllTrue() {
		t.Fatal("fresh qualification must not be AllTrue")
	}
	for _, f := range allFields {
		if f == FieldHasBankAccount {
			continue
		}
		if err := q.Set(f, True); err != nil {
			t.Fatalf("Set(%s): %v", f, err)
		}
	}
	if q.AllTrue() {
		t.Fatal("one unset field must keep AllTrue false")
	}
	if err := q.Set(FieldHasBankAccount, True); err != nil {
		t.Fatalf("Set(%s): %v", FieldHasBankAccount, err)
	}
	if !q.AllTrue() {
		t.Fatal("all five fields True must make AllTrue true")
	}
}

func TestQualification_AllTrueRejectsAnyFalse(t *testing.T) {
	q := NewQualification()
	for _, f := range allFields {
		v := True
		if f == FieldAgeQualified {
			v = False
		}
		if err := q.Set(f, v); err != nil {
			t.Fatalf("Set(%s): %v", f, err)
		}
	}
	if q.AllTrue() {
		t.Fatal("expected AllTrue to be false when any field is False")
	}
}

func TestQualification_NextUnset(t *testing.T) {
	q := NewQualification()
	field, ok := q.NextUnset()
	if !ok || field != FieldVerifiedInfo {
		t.Fatalf("expected first unset field to be %s, got %s (ok=%v)", FieldVerifiedInfo, field, ok)
	}
	if err := q.Set(FieldVerifiedInfo, True); err != nil {
		t.Fatal(err)
	}
	field, ok = q.NextUnset()
	if !ok || field != FieldNoAlzheimers {
		t.Fatalf("expected next unset field to be %s, got %s (ok=%v)", FieldNoAlzheimers, field, ok)
	}
}

func TestQualification_Snapshot_IsCopy(t *testing.T) {
	q := NewQualification()
	snap := q.Snapshot()
	snap[FieldVerifiedInfo] = True
	if q.Get(FieldVerifiedInfo) != Unset {
		t.Fatal("mutating a snapshot must not affect the live qualification")
	}
}
