package cart

import "testing"

func TestNewCartridge_Dispatch(t *testing.T) {
	cases := []struct {
		cartType byte
		want     string
	}{
		{0x00, "*cart.ROMOnly"},
		{0x01, "*cart.MBC1"},
		{0x05, "*cart.MBC2"},
		{0x0F, "*cart.MBC3"},
	}
	for _, c := range cases {
		rom := buildROM("TEST", c.cartType, 0x00, 0x00, 32*1024)
		got, err := NewCartridge(rom)
		if err != nil {
			t.Fatalf("cartType %#02x: unexpected error: %v", c.cartType, err)
		}
		if tname := typeName(got); tname != c.want {
			t.Fatalf("cartType %#02x: got %s want %s", c.cartType, tname, c.want)
		}
	}
}

func TestNewCartridge_UnsupportedMapper(t *testing.T) {
	rom := buildROM("TEST", 0x19, 0x00, 0x00, 32*1024) // MBC5
	_, err := NewCartridge(rom)
	if err == nil {
		t.Fatalf("expected unsupported-mapper error for MBC5, got nil")
	}
	if _, ok := err.(*UnsupportedMapperError); !ok {
		t.Fatalf("expected *UnsupportedMapperError, got %T", err)
	}
}

func TestNewCartridge_SizeMismatchRejected(t *testing.T) {
	rom := buildROM("TEST", 0x00, 0x01, 0x00, 64*1024) // declares 64KiB
	truncated := rom[:16*1024]
	if _, err := NewCartridge(truncated); err == nil {
		t.Fatalf("expected size-mismatch error, got nil")
	}
}

func typeName(c Cartridge) string {
	switch c.(type) {
	case *ROMOnly:
		return "*cart.ROMOnly"
	case *MBC1:
		return "*cart.MBC1"
	case *MBC2:
		return "*cart.MBC2"
	case *MBC3:
		return "*cart.MBC3"
	default:
		return "unknown"
	}
}
