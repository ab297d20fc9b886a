package joypad

import (
	"testing"

	"github.com/dmgcore/go-dmg-core/internal/interrupt"
)

func TestPad_DefaultReadNothingSelected(t *testing.T) {
	irq := interrupt.New()
	p := New(irq)
	if got := p.Read(); got&0x0F != 0x0F {
		t.Fatalf("expected low nibble all 1s when no row selected, got %02x", got)
	}
}

func TestPad_DPadRowReadback(t *testing.T) {
	irq := interrupt.New()
	p := New(irq)
	p.Write(0x20) // P14=0 (select D-Pad), P15=1
	p.SetState(Right | Up)
	if got := p.Read() & 0x0F; got != 0x0A {
		t.Fatalf("D-Pad readback got %02x want 0A", got)
	}
}

func TestPad_ButtonRowReadback(t *testing.T) {
	irq := interrupt.New()
	p := New(irq)
	p.Write(0x10) // P15=0 (select Buttons), P14=1
	p.SetState(A | Start)
	if got := p.Read() & 0x0F; got != 0x06 {
		t.Fatalf("Button readback got %02x want 06", got)
	}
}

func TestPad_BothRowsSelectedORsTogether(t *testing.T) {
	irq := interrupt.New()
	p := New(irq)
	p.Write(0x00) // both rows selected
	p.SetState(Right | A)
	if got := p.Read() & 0x0F; got != 0x0E {
		t.Fatalf("both-rows readback got %02x want 0E (Right and A cleared)", got)
	}
}

func TestPad_InterruptOnFallingEdge(t *testing.T) {
	irq := interrupt.New()
	p := New(irq)
	p.Write(0x20) // select D-Pad
	p.SetState(0)
	irq.IF = 0
	p.SetState(Right)
	if irq.IF&interrupt.Joypad.Mask() == 0 {
		t.Fatalf("expected joypad IRQ on button-press falling edge")
	}
}
