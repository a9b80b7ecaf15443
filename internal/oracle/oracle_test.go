package oracle

import "testing"

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		c    Classification
		want int
	}{
		{OkResult(), 0},
		{Exhausted(), 0},
		{Fault(Lockup, 0x1000), 1},
		{ROMWrite(0x8000000, 0x1000), 1},
		{HangResult(), 1},
		{TimeoutResult(), 1},
		{Error(), 4},
	}
	for _, c := range cases {
		if got := c.c.ExitCode(); got != c.want {
			t.Errorf("%s.ExitCode() = %d, want %d", c.c, got, c.want)
		}
	}
}

func TestIsCrash(t *testing.T) {
	crashy := []Classification{Fault(BusError, 1), ROMWrite(1, 2), HangResult()}
	for _, c := range crashy {
		if !c.IsCrash() {
			t.Errorf("%s: expected IsCrash", c)
		}
	}
	clean := []Classification{OkResult(), Exhausted(), TimeoutResult(), Error()}
	for _, c := range clean {
		if c.IsCrash() {
			t.Errorf("%s: expected not IsCrash", c)
		}
	}
}

func TestFingerprintStableAndDistinguishing(t *testing.T) {
	a := Fault(UndefinedInstruction, 0x2000)
	b := Fault(UndefinedInstruction, 0x2000)
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("expected identical classifications to fingerprint identically")
	}

	c := Fault(UndefinedInstruction, 0x3000)
	if a.Fingerprint() == c.Fingerprint() {
		t.Errorf("expected different PCs to fingerprint differently")
	}

	d := ROMWrite(0x8000000, 0x2000)
	if a.Fingerprint() == d.Fingerprint() {
		t.Errorf("expected different kinds at the same PC to fingerprint differently")
	}
}

func TestHardFaultReasonString(t *testing.T) {
	c := Fault(EscalationFailed, 0)
	if got := c.String(); got != "HardFault(escalation-failed)" {
		t.Errorf("unexpected String(): %q", got)
	}
}
