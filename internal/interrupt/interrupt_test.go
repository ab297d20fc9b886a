package interrupt

import "testing"

func TestController_RequestAndPriorityOrder(t *testing.T) {
	c := New()
	c.IE = 0x1F
	c.SetIME(true)
	c.Request(Timer)
	c.Request(VBlank)

	vec, ok := c.Service()
	if !ok {
		t.Fatalf("expected an interrupt to be serviced")
	}
	if vec != VBlank.Vector() {
		t.Fatalf("expected VBlank to win priority, got vector %#02x", vec)
	}
	if c.IF&VBlank.Mask() != 0 {
		t.Fatalf("VBlank IF bit should be cleared after service")
	}
	if c.IF&Timer.Mask() == 0 {
		t.Fatalf("Timer IF bit should remain pending")
	}
	if c.IME() {
		t.Fatalf("IME should be cleared after servicing an interrupt")
	}
}

func TestController_ServiceNoneWhenIEMasksOut(t *testing.T) {
	c := New()
	c.SetIME(true)
	c.Request(Timer)
	// IE doesn't enable Timer.
	if _, ok := c.Service(); ok {
		t.Fatalf("expected no interrupt serviced when IE masks it out")
	}
}

func TestController_EIDelay(t *testing.T) {
	c := New()
	c.ScheduleEnable()
	if c.IME() {
		t.Fatalf("IME should not be set until ApplyPendingEnable runs")
	}
	c.ApplyPendingEnable()
	if !c.IME() {
		t.Fatalf("expected IME set after ApplyPendingEnable")
	}
}

func TestController_EIDelayCanBeCancelledByDI(t *testing.T) {
	c := New()
	c.ScheduleEnable()
	c.CancelEnable()
	c.ApplyPendingEnable()
	if c.IME() {
		t.Fatalf("expected IME to stay clear after CancelEnable")
	}
}

func TestController_HaltBugWhenIMEClearAndPending(t *testing.T) {
	c := New()
	c.IE = VBlank.Mask()
	c.Request(VBlank)
	c.EnterHalt()
	if c.Halted {
		t.Fatalf("should not actually halt when IME clear and an interrupt is pending")
	}
	if !c.HaltBug {
		t.Fatalf("expected the HALT bug marker to be set")
	}
}

func TestController_HaltsAndWakesOnPending(t *testing.T) {
	c := New()
	c.SetIME(false)
	c.EnterHalt()
	if !c.Halted {
		t.Fatalf("expected HALT with nothing pending")
	}
	c.IE = Joypad.Mask()
	c.Request(Joypad)
	c.WakeIfPending()
	if c.Halted {
		t.Fatalf("expected HALT to clear once an enabled interrupt is pending")
	}
}

func TestController_SnapshotRestore(t *testing.T) {
	c := New()
	c.IE = 0x1F
	c.Request(Serial)
	c.ScheduleEnable()
	c.Halted = true

	s := c.Snapshot()
	c2 := New()
	c2.Restore(s)
	if c2.IE != c.IE || c2.IF != c.IF || c2.Halted != c.Halted {
		t.Fatalf("restored controller does not match snapshot")
	}
}
