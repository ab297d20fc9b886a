package timer

import (
	"testing"

	"github.com/dmgcore/go-dmg-core/internal/interrupt"
)

func TestTimer_DIVFallingEdge_IncrementsTIMA(t *testing.T) {
	irq := interrupt.New()
	tm := New(irq)
	tm.WriteTAC(0x05) // enable + clock select 01 (bit3 tap)
	tm.WriteTIMA(0x10)
	tm.div = 0x0008 // bit3=1 -> tap input true
	if !tm.tapInput() {
		t.Fatalf("expected tap input true")
	}
	tm.WriteDIV() // resets div to 0 -> tap goes false -> falling edge
	if got := tm.TIMA(); got != 0x11 {
		t.Fatalf("TIMA not incremented on DIV falling edge: got %02X want 11", got)
	}
}

func TestTimer_TACChangeFallingEdge_IncrementsTIMA(t *testing.T) {
	irq := interrupt.New()
	tm := New(irq)
	tm.WriteTIMA(0x20)
	tm.div = 0x0008 // bit3=1
	tm.WriteTAC(0x05)
	if !tm.tapInput() {
		t.Fatalf("expected tap input true before TAC change")
	}
	tm.WriteTAC(0x06) // enable + clock select 10 (bit5 tap), 0 with current divider
	if got := tm.TIMA(); got != 0x21 {
		t.Fatalf("TIMA not incremented on TAC falling edge: got %02X want 21", got)
	}
}

func TestTimer_ReloadDelay_IgnoresFallingEdgesWhilePending(t *testing.T) {
	irq := interrupt.New()
	tm := New(irq)
	tm.WriteTAC(0x05)
	tm.WriteTMA(0x33)
	tm.WriteTIMA(0xFF)
	tm.div = 0x000F // bit3=1
	tm.Update(1)    // overflow, TIMA=00, pending reload
	if got := tm.TIMA(); got != 0x00 {
		t.Fatalf("expected overflow to zero TIMA, got %02X", got)
	}

	tm.div = 0x0008
	if !tm.tapInput() {
		t.Fatalf("expected tap input true before DIV write")
	}
	tm.WriteDIV()
	if got := tm.TIMA(); got != 0x00 {
		t.Fatalf("TIMA incremented during pending reload on DIV write: got %02X want 00", got)
	}

	tm.Update(4)
	if got := tm.TIMA(); got != 0x33 {
		t.Fatalf("reload did not occur: got %02X want 33", got)
	}
}

func TestTimer_TIMAOverflow_ReloadTimingAndCancellation(t *testing.T) {
	irq := interrupt.New()
	tm := New(irq)
	tm.WriteTAC(0x05)
	tm.WriteTMA(0xAB)

	tm.WriteTIMA(0xFF)
	tm.div = 0x000F // next tick clears bit3 -> falling edge + overflow
	tm.Update(1)
	if got := tm.TIMA(); got != 0x00 {
		t.Fatalf("after overflow, TIMA got %02X want 00", got)
	}
	for i := 0; i < 3; i++ {
		tm.Update(1)
		if got := tm.TIMA(); got != 0x00 {
			t.Fatalf("during delay cycle %d, TIMA got %02X want 00", i, got)
		}
		if irq.IF&interrupt.Timer.Mask() != 0 {
			t.Fatalf("during delay IF timer bit set prematurely")
		}
	}
	tm.Update(1)
	if got := tm.TIMA(); got != 0xAB {
		t.Fatalf("after delay, TIMA got %02X want AB", got)
	}
	if irq.IF&interrupt.Timer.Mask() == 0 {
		t.Fatalf("timer IF bit not set on reload")
	}

	// Cancellation: a TIMA write during the pending delay keeps the written value.
	irq.IF = 0
	tm.WriteTAC(0x05)
	tm.WriteTMA(0x55)
	tm.WriteTIMA(0xFF)
	tm.div = 0x000F
	tm.Update(1) // overflow again
	tm.WriteTIMA(0x77)
	tm.Update(8)
	if got := tm.TIMA(); got != 0x77 {
		t.Fatalf("TIMA write during delay not retained: got %02X want 77", got)
	}
	if irq.IF&interrupt.Timer.Mask() != 0 {
		t.Fatalf("timer IF bit set despite cancellation")
	}

	// A TMA write during the pending delay still lands in the reload.
	irq.IF = 0
	tm.WriteTAC(0x05)
	tm.WriteTIMA(0xFF)
	tm.WriteTMA(0x11)
	tm.div = 0x000F
	tm.Update(1)
	tm.WriteTMA(0x22)
	tm.Update(4)
	if got := tm.TIMA(); got != 0x22 {
		t.Fatalf("TMA write during delay not reflected in reload: got %02X want 22", got)
	}
}
