package call

import "testing"

func TestNextStep_Order(t *testing.T) {
	cases := []struct {
		from, want ScriptStep
	}{
		{StepVerifyInfo, StepDiscovery},
		{StepDiscovery, StepAlzheimers},
		{StepAlzheimers, StepHospice},
		{StepHospice, StepAge},
		{StepAge, StepBank},
		{StepBank, StepResolve},
		{StepResolve, StepDone},
		{StepDone, StepDone},
	}
	for _, c := range cases {
		if got := NextStep(c.from); got != c.want {
			t.Errorf("NextStep(%s) = %s, want %s", c.from, got, c.want)
		}
	}
}

func TestFieldForStep(t *testing.T) {
	if _, ok := FieldForStep(StepDiscovery); ok {
		t.Fatal("discovery step must not map to a qualification field")
	}
	if _, ok := FieldForStep(StepVerifyInfo); ok {
		t.Fatal("verify_info step must not map to a qualification field")
	}
	if f, ok := FieldForStep(StepBank); !ok || f != FieldHasBankAccount {
		t.Fatalf("StepBank should map to %s, got %s (ok=%v)", FieldHasBankAccount, f, ok)
	}
}
