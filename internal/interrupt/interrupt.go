// Package interrupt implements the DMG interrupt controller: IE/IF/IME
// bookkeeping, the fixed source-to-vector table, and HALT wake semantics.
package interrupt

// Source identifies one of the five DMG interrupt lines, ordered by priority
// (lowest index wins when more than one bit is pending).
type Source uint

const (
	VBlank Source = iota
	LCDStat
	Timer
	Serial
	Joypad
)

// Mask returns the bit this source occupies in IE/IF.
func (s Source) Mask() byte { return 1 << uint(s) }

// Vector returns the fixed dispatch address for this source.
func (s Source) Vector() uint16 { return vectors[s] }

var vectors = [5]uint16{
	VBlank:  0x40,
	LCDStat: 0x48,
	Timer:   0x50,
	Serial:  0x58,
	Joypad:  0x60,
}

// Controller owns IE, IF, IME, and the EI-delay / HALT bookkeeping the CPU
// consults on every step. It does not itself push/pop the stack or move the
// program counter — the CPU does that using the vector this controller hands
// back from Service.
type Controller struct {
	IE byte // 0xFFFF
	IF byte // 0xFF0F, only the low 5 bits are meaningful

	ime        bool
	enableNext bool // EI: IME becomes true after the *following* instruction

	Halted  bool
	HaltBug bool // HALT entered with IME=0 while an interrupt was already pending
}

// New returns a Controller with IME disabled, matching post-boot state.
func New() *Controller { return &Controller{} }

// Request sets the IF bit for the given source. Safe to call from PPU, timer,
// APU, joypad, or DMA callbacks.
func (c *Controller) Request(s Source) { c.IF |= s.Mask() }

// Pending returns the IE&IF mask of sources currently requesting service.
func (c *Controller) Pending() byte { return c.IE & c.IF & 0x1F }

// IME reports the master interrupt enable.
func (c *Controller) IME() bool { return c.ime }

// SetIME forces IME, used by DI and by dispatch itself.
func (c *Controller) SetIME(v bool) { c.ime = v }

// ScheduleEnable arms the EI delay: IME becomes true after ApplyPendingEnable
// is called once more (i.e. after the instruction following EI completes).
func (c *Controller) ScheduleEnable() { c.enableNext = true }

// CancelEnable clears a pending EI, used by DI.
func (c *Controller) CancelEnable() { c.enableNext = false }

// ApplyPendingEnable must be called by the CPU once per Step, after the
// opcode executes. It is what gives EI its documented one-instruction delay.
func (c *Controller) ApplyPendingEnable() {
	if c.enableNext {
		c.ime = true
		c.enableNext = false
	}
}

// EnterHalt transitions into HALT. If IME is clear and an interrupt is
// already pending, the real hardware does not suspend the CPU at all — it
// sets the HALT-bug marker instead so the caller can duplicate the next
// fetched opcode without advancing PC.
func (c *Controller) EnterHalt() {
	if !c.ime && c.Pending() != 0 {
		c.HaltBug = true
		return
	}
	c.Halted = true
}

// WakeIfPending clears Halted as soon as IE&IF is nonzero, independent of
// IME — this models HALT waking without necessarily servicing the interrupt.
func (c *Controller) WakeIfPending() {
	if c.Halted && c.Pending() != 0 {
		c.Halted = false
	}
}

// Service returns the vector to jump to and true if an interrupt was
// dispatched this call. It clears the IF bit, clears IME, and clears Halted.
func (c *Controller) Service() (vector uint16, ok bool) {
	pending := c.Pending()
	if pending == 0 {
		return 0, false
	}
	var src Source
	for src = VBlank; src <= Joypad; src++ {
		if pending&src.Mask() != 0 {
			break
		}
	}
	c.IF &^= src.Mask()
	c.ime = false
	c.Halted = false
	return src.Vector(), true
}

// Reset restores post-boot interrupt state (IME=0, nothing pending).
func (c *Controller) Reset() {
	*c = Controller{}
}

// State is the serializable snapshot of a Controller, for save states.
type State struct {
	IE, IF             byte
	IME, EnableNext    bool
	Halted, HaltBug    bool
}

// Snapshot captures the controller's current state.
func (c *Controller) Snapshot() State {
	return State{c.IE, c.IF, c.ime, c.enableNext, c.Halted, c.HaltBug}
}

// Restore replaces the controller's state from a prior Snapshot.
func (c *Controller) Restore(s State) {
	c.IE, c.IF = s.IE, s.IF
	c.ime, c.enableNext = s.IME, s.EnableNext
	c.Halted, c.HaltBug = s.Halted, s.HaltBug
}
