package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 implements ROM banking up to 2MB and RAM banking up to 32KB, with the
// mode-select register switching the upper 2 bank-select bits between the
// ROM-bank-high-bits role (mode 0) and the RAM-bank/ROM-0000-bank role
// (mode 1), per spec.md §4.A.
type MBC1 struct {
	rom []byte
	ram []byte
	h   *Header

	romBankLow5       byte // lower 5 bits of the ROM bank number (0 remapped to 1)
	ramBankOrRomHigh2 byte // RAM bank (mode 1) or ROM bank bits 5-6 (mode 0)
	ramEnabled        bool
	modeSelect        byte // 0: ROM banking mode, 1: RAM banking mode
}

func NewMBC1(rom []byte, h *Header) *MBC1 {
	m := &MBC1{rom: rom, h: h, romBankLow5: 1}
	if h.RAMSizeBytes > 0 {
		m.ram = make([]byte, h.RAMSizeBytes)
	}
	return m
}

func (m *MBC1) Header() *Header { return m.h }

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if m.modeSelect == 0 {
			if int(addr) < len(m.rom) {
				return m.rom[addr]
			}
			return 0xFF
		}
		bank := int(m.ramBankOrRomHigh2&0x03) << 5
		off := bank*0x4000 + int(addr)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.effectiveROMBank())
		off := bank*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		off := m.ramOffset(addr)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		m.romBankLow5 = value & 0x1F
		if m.romBankLow5 == 0 {
			m.romBankLow5 = 1
		}
	case addr < 0x6000:
		m.ramBankOrRomHigh2 = value & 0x03
	case addr < 0x8000:
		m.modeSelect = value & 0x01
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		off := m.ramOffset(addr)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC1) ramOffset(addr uint16) int {
	bank := 0
	if m.modeSelect == 1 {
		bank = int(m.ramBankOrRomHigh2 & 0x03)
	}
	return bank*0x2000 + int(addr-0xA000)
}

func (m *MBC1) effectiveROMBank() byte {
	if m.modeSelect != 0 {
		return m.romBankLow5
	}
	high := m.ramBankOrRomHigh2 & 0x03
	return m.romBankLow5 | (high << 5)
}

func (m *MBC1) HasBattery() bool { return hasBattery(m.h.CartType) }

func (m *MBC1) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC1) LoadRAM(data []byte) {
	copy(m.ram, data)
}

type mbc1State struct {
	RAM                         []byte
	RomBankLow5, RamBankOrHigh2 byte
	RamEnabled                  bool
	ModeSelect                  byte
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc1State{m.ram, m.romBankLow5, m.ramBankOrRomHigh2, m.ramEnabled, m.modeSelect})
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) {
	var s mbc1State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	copy(m.ram, s.RAM)
	m.romBankLow5, m.ramBankOrRomHigh2 = s.RomBankLow5, s.RamBankOrHigh2
	m.ramEnabled, m.modeSelect = s.RamEnabled, s.ModeSelect
}
