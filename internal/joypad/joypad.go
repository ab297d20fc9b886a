// Package joypad models the eight DMG button states and the JOYP (FF00)
// register's row-select readback, including the joypad interrupt edge.
package joypad

import "github.com/dmgcore/go-dmg-core/internal/interrupt"

// Button bitmasks, matching the teacher's bus.Joyp* constants.
const (
	Right = 1 << iota
	Left
	Up
	Down
	A
	B
	Select
	Start
)

// Pad tracks pressed buttons and the currently selected row(s).
type Pad struct {
	pressed byte // bitmask of currently-pressed buttons
	selP14  bool // true = D-Pad row selected (bit4 of FF00, active-low)
	selP15  bool // true = Buttons row selected (bit5 of FF00, active-low)

	lastLow4 byte // previous computed low nibble, for edge detection

	irq *interrupt.Controller
}

// New returns a Pad with no row selected and nothing pressed.
func New(irq *interrupt.Controller) *Pad {
	return &Pad{irq: irq, lastLow4: 0x0F}
}

// SetState replaces the full pressed-button mask (bits as above, 1=pressed).
func (p *Pad) SetState(mask byte) {
	p.pressed = mask
	p.updateEdge()
}

// Read returns the FF00 byte: bits 7-6 fixed high, bits 5-4 echo the last
// select write, bits 3-0 are the active-low row readback. Per spec.md §9
// Open Questions, when both rows are selected the two rows are OR'd together
// (the source's documented, if under-specified, choice).
func (p *Pad) Read() byte {
	return 0xC0 | p.selectBits() | p.lowNibble()
}

func (p *Pad) selectBits() byte {
	var v byte
	if !p.selP14 {
		v |= 0x10
	}
	if !p.selP15 {
		v |= 0x20
	}
	return v
}

func (p *Pad) lowNibble() byte {
	low := byte(0x0F)
	if p.selP14 {
		if p.pressed&Right != 0 {
			low &^= 0x01
		}
		if p.pressed&Left != 0 {
			low &^= 0x02
		}
		if p.pressed&Up != 0 {
			low &^= 0x04
		}
		if p.pressed&Down != 0 {
			low &^= 0x08
		}
	}
	if p.selP15 {
		if p.pressed&A != 0 {
			low &^= 0x01
		}
		if p.pressed&B != 0 {
			low &^= 0x02
		}
		if p.pressed&Select != 0 {
			low &^= 0x04
		}
		if p.pressed&Start != 0 {
			low &^= 0x08
		}
	}
	return low
}

// Write handles a write to FF00: only bits 5-4 (row select) are writable.
func (p *Pad) Write(v byte) {
	p.selP14 = v&0x10 == 0
	p.selP15 = v&0x20 == 0
	p.updateEdge()
}

// updateEdge requests the joypad interrupt on any 1->0 transition of the
// low nibble, matching real hardware's wired-AND button lines.
func (p *Pad) updateEdge() {
	now := p.lowNibble()
	if p.lastLow4&^now != 0 {
		p.irq.Request(interrupt.Joypad)
	}
	p.lastLow4 = now
}

// State is the serializable snapshot of a Pad, for save states.
type State struct {
	Pressed        byte
	SelP14, SelP15 bool
	LastLow4       byte
}

// Snapshot captures the pad's current state.
func (p *Pad) Snapshot() State {
	return State{p.pressed, p.selP14, p.selP15, p.lastLow4}
}

// Restore replaces the pad's state from a prior Snapshot.
func (p *Pad) Restore(s State) {
	p.pressed, p.selP14, p.selP15, p.lastLow4 = s.Pressed, s.SelP14, s.SelP15, s.LastLow4
}
