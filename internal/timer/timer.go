// Package timer implements the DMG DIV/TIMA/TMA/TAC timer: a free-running
// 16-bit divider, falling-edge-driven TIMA increments, and the delayed
// TMA reload on overflow. Grounded on the teacher's internal/bus Tick/timerInput
// logic, split out as its own component per the interrupt controller it feeds.
package timer

import "github.com/dmgcore/go-dmg-core/internal/interrupt"

// tapBits maps TAC's low 2 bits to the DIV bit that gates TIMA.
var tapBits = [4]uint{9, 3, 5, 7}

// Timer models the internal 16-bit divider plus TIMA/TMA/TAC.
type Timer struct {
	div  uint16 // internal divider; DIV register is the upper 8 bits
	tima byte
	tma  byte
	tac  byte // low 3 bits meaningful: bit2 enable, bits0-1 clock select

	// overflow reload is delayed by 4 cycles; during the delay writes to TIMA
	// cancel the pending reload, and the reload happens before any increment
	// for the cycle in which it expires.
	reloadDelay int

	irq *interrupt.Controller
}

// New creates a Timer that raises its interrupt through the given controller.
func New(irq *interrupt.Controller) *Timer {
	return &Timer{irq: irq}
}

// Reset restores post-boot timer state (DIV free-runs from the boot sequence
// in real hardware; callers that don't emulate the boot ROM start it at 0).
func (t *Timer) Reset() {
	t.div, t.tima, t.tma, t.tac, t.reloadDelay = 0, 0, 0, 0, 0
}

func (t *Timer) tapInput() bool {
	if t.tac&0x04 == 0 {
		return false
	}
	bit := tapBits[t.tac&0x03]
	return (t.div>>bit)&1 != 0
}

// Update advances the timer by n CPU cycles, one cycle at a time so every
// falling edge and reload-delay boundary is observed exactly.
func (t *Timer) Update(n int) {
	for i := 0; i < n; i++ {
		t.tick()
	}
}

func (t *Timer) tick() {
	if t.reloadDelay > 0 {
		t.reloadDelay--
		if t.reloadDelay == 0 {
			t.tima = t.tma
			t.irq.Request(interrupt.Timer)
		}
	}

	before := t.tapInput()
	t.div++
	after := t.tapInput()
	if before && !after {
		t.incrementTIMA()
	}
}

func (t *Timer) incrementTIMA() {
	if t.reloadDelay > 0 {
		return
	}
	if t.tima == 0xFF {
		t.tima = 0x00
		t.reloadDelay = 4
		return
	}
	t.tima++
}

// DIV returns the CPU-visible 8-bit divider register.
func (t *Timer) DIV() byte { return byte(t.div >> 8) }

// WriteDIV resets the internal divider to 0. Like any divider write, this can
// itself cause a falling-edge TIMA increment if the reset clears a bit that
// was feeding the tap.
func (t *Timer) WriteDIV() {
	before := t.tapInput()
	t.div = 0
	if before && !t.tapInput() {
		t.incrementTIMA()
	}
}

// TIMA / WriteTIMA: writing TIMA during a pending reload cancels the reload.
func (t *Timer) TIMA() byte { return t.tima }
func (t *Timer) WriteTIMA(v byte) {
	t.tima = v
	t.reloadDelay = 0
}

// TMA / WriteTMA.
func (t *Timer) TMA() byte       { return t.tma }
func (t *Timer) WriteTMA(v byte) { t.tma = v }

// TAC returns the stored TAC bits OR'd with the documented unused-bits mask.
func (t *Timer) TAC() byte { return 0xF8 | (t.tac & 0x07) }

// WriteTAC updates TAC, applying the documented glitch: if the tap-bit
// transitions 1->0 purely as a side effect of changing `on` or the clock
// select, TIMA still increments once, exactly as a real falling edge would.
func (t *Timer) WriteTAC(v byte) {
	before := t.tapInput()
	t.tac = v & 0x07
	if before && !t.tapInput() {
		t.incrementTIMA()
	}
}

// State is the serializable snapshot of a Timer, for save states.
type State struct {
	Div         uint16
	Tima, Tma   byte
	Tac         byte
	ReloadDelay int
}

// Snapshot captures the timer's current state.
func (t *Timer) Snapshot() State {
	return State{t.div, t.tima, t.tma, t.tac, t.reloadDelay}
}

// Restore replaces the timer's state from a prior Snapshot.
func (t *Timer) Restore(s State) {
	t.div, t.tima, t.tma, t.tac, t.reloadDelay = s.Div, s.Tima, s.Tma, s.Tac, s.ReloadDelay
}
