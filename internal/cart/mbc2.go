package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 implements ROM banking up to 256KB and has a built-in 512x4-bit RAM
// (only the low nibble of each byte is meaningful; reads return the unused
// upper nibble set per spec.md §4.A). Unlike MBC1/MBC3, a single write
// region (0000-3FFF) is split by address bit 8: clear selects RAM enable,
// set selects the ROM bank.
type MBC2 struct {
	rom []byte
	ram [512]byte // internal 4-bit RAM, one nibble used per byte
	h   *Header

	ramEnabled bool
	romBank    byte // 4 bits, 0 remapped to 1
}

func NewMBC2(rom []byte, h *Header) *MBC2 {
	return &MBC2{rom: rom, h: h, romBank: 1}
}

func (m *MBC2) Header() *Header { return m.h }

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x0F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return 0xF0 | (m.ram[int(addr-0xA000)%512] & 0x0F)
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		// Bit 8 of the address (not the value) selects function.
		if addr&0x0100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			bank := value & 0x0F
			if bank == 0 {
				bank = 1
			}
			m.romBank = bank
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		m.ram[int(addr-0xA000)%512] = value & 0x0F
	}
}

func (m *MBC2) HasBattery() bool { return hasBattery(m.h.CartType) }

func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	copy(m.ram[:], data)
}

type mbc2State struct {
	RAM        [512]byte
	RamEnabled bool
	RomBank    byte
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc2State{m.ram, m.ramEnabled, m.romBank})
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) {
	var s mbc2State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.ram, m.ramEnabled, m.romBank = s.RAM, s.RamEnabled, s.RomBank
}
