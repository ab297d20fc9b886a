package cart

import "testing"

func TestMBC2_RAMIsFourBitNibbles(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC2(rom, testHeader(0x06, 0))

	m.Write(0x0000, 0x0A) // bit8 clear: RAM enable
	m.Write(0xA000, 0xF7)
	got := m.Read(0xA000)
	if got != 0xF7 {
		t.Fatalf("4-bit RAM read got %02X want F7 (upper nibble forced high, value 0x7)", got)
	}

	m.Write(0xA000, 0x03)
	if got := m.Read(0xA000); got != 0xF3 {
		t.Fatalf("got %02X want F3", got)
	}
}

func TestMBC2_ROMBankSelectUsesAddressBit8(t *testing.T) {
	rom := make([]byte, 0x4000*4)
	for bank := 0; bank < 4; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC2(rom, testHeader(0x05, 0))

	m.Write(0x2100, 0x02) // bit8 set: selects ROM bank
	if got := m.Read(0x4000); got != 0x02 {
		t.Fatalf("bank select got %02X want 02", got)
	}

	m.Write(0x2100, 0x00) // bank 0 remaps to 1
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap got %02X want 01", got)
	}
}

func TestMBC2_RAMMirroredAcrossRegion(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC2(rom, testHeader(0x06, 0))
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x05)
	if got := m.Read(0xA200); got != 0xF5 {
		t.Fatalf("mirrored read at A200 got %02X want F5", got)
	}
}
