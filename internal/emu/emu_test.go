package emu

import "testing"

// minimalROM returns a 32KB ROM-only image with a valid header and the
// given code at 0x0100 (the post-boot entry point).
func minimalROM(code []byte) []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x0100:], code)
	copy(rom[0x0134:0x0144], "TEST")
	rom[0x0147] = 0x00 // ROM only
	rom[0x0148] = 0x00 // 32KB
	rom[0x0149] = 0x00 // no RAM
	var sum byte
	for i := 0x0134; i <= 0x014C; i++ {
		sum = sum - rom[i] - 1
	}
	rom[0x014D] = sum
	return rom
}

func TestMachine_LoadCartridgeAndStepFrame(t *testing.T) {
	m := New(Config{})
	rom := minimalROM([]byte{0x00}) // NOP forever
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if m.cpu.PC != 0x0100 {
		t.Fatalf("expected post-boot PC 0x0100, got %#04x", m.cpu.PC)
	}
	m.StepFrame()
	fb := m.Framebuffer()
	if len(fb) != 160*144*4 {
		t.Fatalf("expected framebuffer of 160*144*4 bytes, got %d", len(fb))
	}
}

func TestMachine_LoadCartridgeRejectsUnsupportedMapper(t *testing.T) {
	m := New(Config{})
	rom := minimalROM(nil)
	rom[0x0147] = 0x1E // MBC5+RUMBLE+RAM+BATTERY: recognized but unimplemented
	err := m.LoadCartridge(rom, nil)
	if err == nil {
		t.Fatalf("expected LoadCartridge to refuse an unsupported mapper")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected a *ConfigError, got %T: %v", err, err)
	}
}

func TestMachine_BatteryRoundTrip(t *testing.T) {
	m := New(Config{})
	rom := minimalROM(nil)
	rom[0x0147] = 0x03 // MBC1+RAM+BATTERY
	rom[0x0149] = 0x02 // 8KB RAM
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.bus.Write(0x0000, 0x0A) // enable RAM
	m.bus.Write(0xA000, 0x42)
	data, ok := m.SaveBattery()
	if !ok {
		t.Fatalf("expected battery-backed RAM to be saveable")
	}
	if data[0] != 0x42 {
		t.Fatalf("expected saved RAM byte 0x42, got %#02x", data[0])
	}

	m2 := New(Config{})
	if err := m2.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if !m2.LoadBattery(data) {
		t.Fatalf("expected LoadBattery to succeed on a battery-backed cart")
	}
	m2.bus.Write(0x0000, 0x0A)
	if got := m2.bus.Read(0xA000); got != 0x42 {
		t.Fatalf("expected restored RAM byte 0x42, got %#02x", got)
	}
}

func TestMachine_SaveStateRoundTrip(t *testing.T) {
	m := New(Config{})
	rom := minimalROM([]byte{0x3E, 0x12}) // LD A,0x12
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.bus.Write(0xC000, 0x7A)
	blob := m.bus.SaveState()

	m.bus.Write(0xC000, 0x00)
	m.bus.LoadState(blob)
	if got := m.bus.Read(0xC000); got != 0x7A {
		t.Fatalf("expected WRAM restored to 0x7A, got %#02x", got)
	}
}

func TestMachine_CompatPaletteCycling(t *testing.T) {
	m := New(Config{})
	rom := minimalROM(nil)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	start := m.CurrentCompatPalette()
	m.CycleCompatPalette(1)
	if m.CurrentCompatPalette() == start {
		t.Fatalf("expected CycleCompatPalette to change the active palette")
	}
	m.SetCompatPalette(-1)
	if m.CurrentCompatPalette() != len(compatPalettes)-1 {
		t.Fatalf("expected SetCompatPalette to wrap negative indices")
	}
}

func TestMachine_CGBStubsReportNoColorMode(t *testing.T) {
	m := New(Config{})
	if m.IsCGBCompat() || m.WantCGBColors() || m.UseCGBBG() {
		t.Fatalf("expected all CGB accessors to report false: CGB is not emulated")
	}
}
