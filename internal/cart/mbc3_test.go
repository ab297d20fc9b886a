package cart

import "testing"

func testHeader(cartType byte, ramSize int) *Header {
	return &Header{CartType: cartType, RAMSizeBytes: ramSize}
}

func TestMBC3_ROMBanking(t *testing.T) {
	rom := make([]byte, 0x4000*8)
	for bank := 0; bank < 8; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC3(rom, testHeader(0x11, 0))

	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 read got %02X want 00", got)
	}
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default switchable bank got %02X want 01", got)
	}

	m.Write(0x2000, 0x03)
	if got := m.Read(0x4000); got != 0x03 {
		t.Fatalf("bank3 read got %02X want 03", got)
	}

	// Unlike MBC1, writing 0 selects physical bank 0 (no auto-bump) in the
	// switchable window, per spec.md §4.A.
	m.Write(0x2000, 0x00)
	if got := m.Read(0x4000); got != 0x00 {
		t.Fatalf("bank0 in switchable window got %02X want 00", got)
	}
}

func TestMBC3_RAM_EnableAndBank(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, testHeader(0x13, 0x2000*4))

	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}

	m.Write(0x0000, 0x0A) // enable RAM
	m.Write(0x4000, 0x02) // select RAM bank 2
	m.Write(0xA000, 0x42)
	if got := m.Read(0xA000); got != 0x42 {
		t.Fatalf("RAM bank2 RW got %02X want 42", got)
	}

	// RTC selector values (0x08-0x0C) collapse to RAM bank 0, not an error.
	m.Write(0x4000, 0x08)
	if got := m.Read(0xA000); got != m.ram[0] {
		t.Fatalf("RTC selector should read RAM bank 0")
	}
}

func TestMBC3_SaveLoadRAM(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, testHeader(0x13, 0x2000))
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x99)

	data := m.SaveRAM()
	n := NewMBC3(rom, testHeader(0x13, 0x2000))
	n.LoadRAM(data)
	n.Write(0x0000, 0x0A)
	if got := n.Read(0xA000); got != 0x99 {
		t.Fatalf("loaded RAM got %02X want 99", got)
	}
}
