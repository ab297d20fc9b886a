package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC3 implements ROM banking up to 2MB and RAM banking up to 32KB. The
// real chip also multiplexes a real-time-clock register bank behind 0x08-
// 0x0C writes to 0x4000-0x5FFF; this core does not model the RTC (spec.md
// Non-goals), so those selector values are treated as RAM bank 0 and the
// latch-clock write (0x6000-0x7FFF) is a no-op.
//
// Open Question (spec.md §9): unlike MBC1, real MBC3 hardware does NOT
// remap ROM bank 0 to bank 1 in the 2000-3FFF register — writing 0x00
// there really does select physical bank 0 for the 4000-7FFF window. That
// is the hardware behavior implemented below.
type MBC3 struct {
	rom []byte
	ram []byte
	h   *Header

	ramEnabled bool
	romBank    byte // 7 bits, 0-127
	ramBank    byte // 0-3 when selecting RAM; RTC selectors collapse to 0
}

func NewMBC3(rom []byte, h *Header) *MBC3 {
	m := &MBC3{rom: rom, h: h, romBank: 1}
	if h.RAMSizeBytes > 0 {
		m.ram = make([]byte, h.RAMSizeBytes)
	}
	return m
}

func (m *MBC3) Header() *Header { return m.h }

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		off := int(m.ramBank&0x03)*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		m.romBank = value & 0x7F
	case addr < 0x6000:
		if value <= 0x03 {
			m.ramBank = value & 0x03
		} else {
			m.ramBank = 0
		}
	case addr < 0x8000:
		// RTC latch: no-op, no RTC modeled.
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		off := int(m.ramBank&0x03)*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC3) HasBattery() bool { return hasBattery(m.h.CartType) }

func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) {
	copy(m.ram, data)
}

type mbc3State struct {
	RAM              []byte
	RamEnabled       bool
	RomBank, RamBank byte
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{m.ram, m.ramEnabled, m.romBank, m.ramBank})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	copy(m.ram, s.RAM)
	m.ramEnabled, m.romBank, m.ramBank = s.RamEnabled, s.RomBank, s.RamBank
}
