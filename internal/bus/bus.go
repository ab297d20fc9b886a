// Package bus implements the Game Boy's 16-bit memory map: it owns WRAM and
// HRAM directly, and dispatches everything else (cartridge, VRAM/OAM, timer,
// DMA, joypad, interrupt registers) to the component that owns it, applying
// the access-gating rules (PPU-mode VRAM/OAM blocking, DMA-active blocking)
// along the way.
package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/dmgcore/go-dmg-core/internal/apu"
	"github.com/dmgcore/go-dmg-core/internal/cart"
	"github.com/dmgcore/go-dmg-core/internal/dma"
	"github.com/dmgcore/go-dmg-core/internal/interrupt"
	"github.com/dmgcore/go-dmg-core/internal/joypad"
	"github.com/dmgcore/go-dmg-core/internal/ppu"
	"github.com/dmgcore/go-dmg-core/internal/timer"
)

// Bus wires the CPU-visible address space to every other component.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF, echoed at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ppu    *ppu.PPU
	apu    *apu.APU
	irq    *interrupt.Controller
	tmr    *timer.Timer
	pad    *joypad.Pad
	dmaEng *dma.Engine

	sb byte      // FF01 serial data
	sc byte      // FF02 serial control
	sw io.Writer // optional sink for transmitted serial bytes

	bootROM     []byte
	bootEnabled bool
}

// New constructs a Bus by parsing rom's header and dispatching to the right
// cartridge mapper. Configuration errors (bad header, declared-size
// mismatch, unsupported mapper) are returned rather than silently patched
// over, per spec.md §7(a).
func New(rom []byte) (*Bus, error) {
	c, err := cart.NewCartridge(rom)
	if err != nil {
		return nil, err
	}
	return NewWithCartridge(c), nil
}

// NewWithCartridge wires a provided cartridge implementation directly,
// useful for tests that want to bypass header validation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c}
	b.irq = interrupt.New()
	b.ppu = ppu.New(b.irq)
	b.apu = apu.New(48000)
	b.tmr = timer.New(b.irq)
	b.pad = joypad.New(b.irq)
	b.dmaEng = &dma.Engine{}
	return b
}

// Interrupts returns the interrupt controller, for the CPU to consult.
func (b *Bus) Interrupts() *interrupt.Controller { return b.irq }

// PPU returns the internal PPU for host rendering.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU returns the internal APU for host audio pull.
func (b *Bus) APU() *apu.APU { return b.apu }

// Cart returns the underlying cartridge, e.g. for battery save/load.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[addr-0x2000-0xC000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaEng.Active() {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFF00:
		return b.pad.Read()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF04:
		return b.tmr.DIV()
	case addr == 0xFF05:
		return b.tmr.TIMA()
	case addr == 0xFF06:
		return b.tmr.TMA()
	case addr == 0xFF07:
		return b.tmr.TAC()
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dmaEng.Value()
	case addr >= 0xFF10 && addr <= 0xFF26:
		return b.apu.CPURead(addr)
	case addr >= 0xFF30 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF0F:
		return 0xE0 | (b.irq.IF & 0x1F)
	case addr == 0xFFFF:
		return b.irq.IE
	}
	return 0xFF
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		b.wram[addr-0x2000-0xC000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaEng.Active() {
			return
		}
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFF00:
		b.pad.Write(value)
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if b.sc&0x80 != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.sc &^= 0x80
		}
	case addr == 0xFF04:
		b.tmr.WriteDIV()
	case addr == 0xFF05:
		b.tmr.WriteTIMA(value)
	case addr == 0xFF06:
		b.tmr.WriteTMA(value)
	case addr == 0xFF07:
		b.tmr.WriteTAC(value)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.dmaEng.Start(value)
	case addr >= 0xFF10 && addr <= 0xFF26:
		b.apu.CPUWrite(addr, value)
	case addr >= 0xFF30 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr == 0xFF0F:
		b.irq.IF = value & 0x1F
	case addr == 0xFFFF:
		b.irq.IE = value
	}
}

// SetJoypadState replaces the full pressed-button mask (bits from
// internal/joypad's constants, re-exported below for callers).
func (b *Bus) SetJoypadState(mask byte) { b.pad.SetState(mask) }

// Joypad button bitmasks for SetJoypadState, matching internal/joypad.
const (
	JoypRight     = joypad.Right
	JoypLeft      = joypad.Left
	JoypUp        = joypad.Up
	JoypDown      = joypad.Down
	JoypA         = joypad.A
	JoypB         = joypad.B
	JoypSelectBtn = joypad.Select
	JoypStart     = joypad.Start
)

// SetSerialWriter sets a sink that receives bytes transmitted over serial.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a DMG boot ROM mapped at 0x0000-0x00FF until an FF50
// write disables the overlay.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// ReadForDMA lets the DMA engine pull source bytes through the normal read
// path (so an OAM-to-OAM or echo-RAM source still behaves correctly), except
// it is never itself blocked by DMA-active gating.
func (b *Bus) ReadForDMA(addr uint16) byte {
	switch {
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[addr-0x2000-0xC000]
	default:
		return 0xFF
	}
}

// WriteOAMByte writes directly into OAM, bypassing the PPU-mode gate that
// Write/Read apply to normal CPU accesses (DMA owns OAM exclusively).
func (b *Bus) WriteOAMByte(index int, v byte) {
	b.ppu.WriteOAMRaw(index, v)
}

// Tick advances every cycle-driven component by the given number of T-cycles,
// in the fixed order DMA -> PPU -> Timer -> APU (spec.md §5): DMA and the PPU
// must see the bus state before the timer's interrupt can fire and be
// serviced on the same Step.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	b.dmaEng.Update(cycles, b, b)
	b.ppu.Tick(cycles)
	b.tmr.Update(cycles)
	b.apu.Tick(cycles)
}

type busState struct {
	WRAM   [0x2000]byte
	HRAM   [0x7F]byte
	SB, SC byte
	BootEn bool

	IRQ   interrupt.State
	Timer timer.State
	Pad   joypad.State
	DMA   dma.State

	PPU  []byte
	APU  []byte
	Cart []byte
}

// SaveState serializes the bus and every owned component into one gob blob,
// matching the save-state convention cmd/gbemu's UI expects. Each internal
// component contributes a concrete, gob-friendly State value rather than an
// opaque blob, so the whole bus serializes in one Encode call.
func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	s := busState{
		WRAM: b.wram, HRAM: b.hram,
		SB: b.sb, SC: b.sc, BootEn: b.bootEnabled,
		IRQ:   b.irq.Snapshot(),
		Timer: b.tmr.Snapshot(),
		Pad:   b.pad.Snapshot(),
		DMA:   b.dmaEng.Snapshot(),
		PPU:   b.ppu.SaveState(),
		APU:   b.apu.SaveState(),
		Cart:  b.cart.SaveState(),
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	var s busState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	b.wram, b.hram = s.WRAM, s.HRAM
	b.sb, b.sc, b.bootEnabled = s.SB, s.SC, s.BootEn
	b.irq.Restore(s.IRQ)
	b.tmr.Restore(s.Timer)
	b.pad.Restore(s.Pad)
	b.dmaEng.Restore(s.DMA)
	b.ppu.LoadState(s.PPU)
	b.apu.LoadState(s.APU)
	b.cart.LoadState(s.Cart)
}
