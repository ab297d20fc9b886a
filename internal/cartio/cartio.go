// Package cartio derives battery save-file paths from a ROM path and loads
// or stores a running Machine's battery-backed cartridge RAM through them.
package cartio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmgcore/go-dmg-core/internal/emu"
)

// SavePath returns the save-file path for the given ROM path: the final
// extension replaced by ".sav", or ".sav" appended if the ROM name has no
// extension.
func SavePath(romPath string) string {
	ext := filepath.Ext(romPath)
	if ext == "" {
		return romPath + ".sav"
	}
	return strings.TrimSuffix(romPath, ext) + ".sav"
}

// LoadSave reads romPath's derived save file and feeds it into m's loaded
// cartridge. A missing save file is not an error, per spec.md §7(d): it
// just means there's nothing to restore yet. A non-battery cartridge is
// also not an error; it's simply skipped.
func LoadSave(m *emu.Machine, romPath string) error {
	data, err := os.ReadFile(SavePath(romPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cartio: read save: %w", err)
	}
	m.LoadBattery(data)
	return nil
}

// WriteSave persists m's loaded cartridge's battery-backed RAM to romPath's
// derived save file. A cartridge with no battery is a no-op, not an error.
func WriteSave(m *emu.Machine, romPath string) error {
	data, ok := m.SaveBattery()
	if !ok {
		return nil
	}
	if err := os.WriteFile(SavePath(romPath), data, 0644); err != nil {
		return fmt.Errorf("cartio: write save: %w", err)
	}
	return nil
}
