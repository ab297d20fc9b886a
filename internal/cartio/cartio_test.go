package cartio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmgcore/go-dmg-core/internal/emu"
)

func TestSavePath(t *testing.T) {
	cases := map[string]string{
		"/roms/zelda.gb":  "/roms/zelda.sav",
		"/roms/zelda.gbc": "/roms/zelda.sav",
		"/roms/noext":     "/roms/noext.sav",
	}
	for in, want := range cases {
		if got := SavePath(in); got != want {
			t.Errorf("SavePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func batteryROM() []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x0134:0x0144], "TEST")
	rom[0x0147] = 0x03 // MBC1+RAM+BATTERY
	rom[0x0148] = 0x00
	rom[0x0149] = 0x02 // 8KB RAM
	var sum byte
	for i := 0x0134; i <= 0x014C; i++ {
		sum = sum - rom[i] - 1
	}
	rom[0x014D] = sum
	return rom
}

func TestLoadSave_MissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "game.gb")
	m := emu.New(emu.Config{})
	if err := m.LoadCartridge(batteryROM(), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if err := LoadSave(m, romPath); err != nil {
		t.Fatalf("LoadSave with no existing save file should not error: %v", err)
	}
}

func TestWriteSaveThenLoadSave_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "game.gb")
	rom := batteryROM()

	m := emu.New(emu.Config{})
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.SetButtons(emu.Buttons{})
	b := m.Bus()
	b.Write(0x0000, 0x0A) // enable external RAM
	b.Write(0xA000, 0x99)

	if err := WriteSave(m, romPath); err != nil {
		t.Fatalf("WriteSave: %v", err)
	}
	savePath := SavePath(romPath)
	if _, err := os.Stat(savePath); err != nil {
		t.Fatalf("expected save file at %s: %v", savePath, err)
	}

	m2 := emu.New(emu.Config{})
	if err := m2.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if err := LoadSave(m2, romPath); err != nil {
		t.Fatalf("LoadSave: %v", err)
	}
	b2 := m2.Bus()
	b2.Write(0x0000, 0x0A)
	if got := b2.Read(0xA000); got != 0x99 {
		t.Fatalf("expected restored RAM byte 0x99, got %#02x", got)
	}
}
