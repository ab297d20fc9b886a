package cart

import "fmt"

// Cartridge defines the minimal interface the bus needs for ROM/RAM banking.
// Implementations can be ROM-only or MBC variants. Addresses are CPU addresses.
type Cartridge interface {
	// Read returns a byte for ROM (0x0000-0x7FFF) and external RAM (0xA000-0xBFFF).
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000-0x7FFF) and external RAM writes (0xA000-0xBFFF).
	Write(addr uint16, value byte)
	// Header returns the parsed header this cartridge was built from.
	Header() *Header
	// SaveState/LoadState serialize banking registers and external RAM for
	// the host's save-state feature.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is implemented by cartridges whose external RAM should be
// persisted between runs.
type BatteryBacked interface {
	HasBattery() bool
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// UnsupportedMapperError is a configuration error (spec.md §7a): the ROM
// declares a real mapper this core does not implement. The caller should
// refuse to start rather than silently mis-emulate the cartridge.
type UnsupportedMapperError struct {
	CartType byte
	Name     string
}

func (e *UnsupportedMapperError) Error() string {
	return fmt.Sprintf("cart: unsupported mapper %#02x (%s)", e.CartType, e.Name)
}

// NewCartridge picks an implementation based on the ROM header. Unsupported-
// but-recognized mapper types (MBC4/5/HuC/MMM01/TAMA5, per spec.md Non-goals)
// return an *UnsupportedMapperError instead of silently degrading to ROM-only
// — a REDESIGN FLAG relative to the teacher's original silent fallback,
// chosen so that §7(a)'s "refuse to start" contract actually holds.
func NewCartridge(rom []byte) (Cartridge, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, err
	}
	if err := ValidateSize(rom, h); err != nil {
		return nil, err
	}
	switch h.CartType {
	case 0x00:
		return NewROMOnly(rom, h), nil
	case 0x01, 0x02, 0x03:
		return NewMBC1(rom, h), nil
	case 0x05, 0x06:
		return NewMBC2(rom, h), nil
	case 0x0F, 0x10, 0x11, 0x12, 0x13:
		return NewMBC3(rom, h), nil
	default:
		return nil, &UnsupportedMapperError{CartType: h.CartType, Name: h.CartTypeStr}
	}
}
