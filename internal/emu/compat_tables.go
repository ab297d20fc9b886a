package emu

import (
	"strings"

	"github.com/dmgcore/go-dmg-core/internal/cart"
)

// compatPalettes holds, per palette ID, the RGB color for each of the four
// 2-bit shade indices the PPU produces (lightest to darkest). These are the
// Game-Boy-Color-style default palettes real CGB hardware substitutes for
// monochrome carts; here they're just a host rendering convenience, not CGB
// hardware emulation.
var compatPalettes = [][4][3]byte{
	{{0x9B, 0xBC, 0x0F}, {0x8B, 0xAC, 0x0F}, {0x30, 0x62, 0x30}, {0x0F, 0x38, 0x0F}}, // 0 Green
	{{0xFF, 0xE6, 0xC7}, {0xD9, 0xA6, 0x6A}, {0x8B, 0x5A, 0x2B}, {0x3B, 0x22, 0x10}}, // 1 Sepia
	{{0xE0, 0xF0, 0xFF}, {0x7E, 0xB6, 0xE8}, {0x3A, 0x61, 0xA6}, {0x14, 0x24, 0x4D}}, // 2 Blue
	{{0xFF, 0xE0, 0xD8}, {0xF2, 0x8C, 0x6B}, {0xB8, 0x3A, 0x2A}, {0x4A, 0x0E, 0x0E}}, // 3 Red
	{{0xFD, 0xE8, 0xF4}, {0xE8, 0xA8, 0xCE}, {0xB0, 0x66, 0x9A}, {0x5A, 0x2C, 0x4E}}, // 4 Pastel
	{{0xFF, 0xFF, 0xFF}, {0xAA, 0xAA, 0xAA}, {0x55, 0x55, 0x55}, {0x00, 0x00, 0x00}}, // 5 Grayscale
}

var compatPaletteNames = []string{"Green", "Sepia", "Blue", "Red", "Pastel", "Grayscale"}

// compatTitleExact maps exact, normalized titles to a preferred palette ID.
// IDs index into compatPalettes/compatPaletteNames above.
var compatTitleExact = map[string]int{
	"TETRIS":              2, // Blue
	"TETRIS DX":           2,
	"SUPER MARIO LAND":    3, // Red
	"SUPER MARIO LAND 2":  3,
	"DR. MARIO":           4, // Pastel
	"DONKEY KONG":         1, // Sepia
	"THE LEGEND OF ZELDA": 0, // Green
	"ZELDA":               0,
	"METROID II":          3, // Red accent
	"KIRBY'S DREAM LAND":  4, // Pastel/soft
	"MEGA MAN":            2, // Blue
	"MEGAMAN":             2,
	"WARIO LAND":          1, // Sepia
	"POKEMON YELLOW":      4, // Pastel
	"POKEMON RED":         4,
	"POKEMON BLUE":        4,
	"POCKET MONSTERS":     4,
}

type containsRule struct {
	substr string
	id     int
}

// compatTitleContains applies broader substring heuristics for families.
var compatTitleContains = []containsRule{
	{"TETRIS", 2},
	{"MARIO", 3},
	{"ZELDA", 0},
	{"KIRBY", 4},
	{"DONKEY KONG", 1},
	{"METROID", 3},
	{"MEGA MAN", 2},
	{"MEGAMAN", 2},
	{"WARIO", 1},
	{"POKEMON", 4},
	{"POCKET MONSTERS", 4},
}

// autoCompatPaletteFromHeader tries to pick a good default palette using a small title table
// and then a stable fallback based on licensee/checksum. Returns (id, true) on success.
func autoCompatPaletteFromHeader(h *cart.Header) (int, bool) {
	if h == nil {
		return 0, false
	}
	title := strings.TrimSpace(strings.TrimRight(h.Title, "\x00"))
	t := strings.ToUpper(title)
	if id, ok := compatTitleExact[t]; ok {
		return id, true
	}
	for _, r := range compatTitleContains {
		if strings.Contains(t, r.substr) {
			return r.id, true
		}
	}
	// Fallback: for Nintendo-published titles, vary palette by header checksum; others use default.
	nintendo := false
	if h.OldLicensee == 0x33 {
		nintendo = (strings.ToUpper(h.NewLicensee) == "01")
	} else {
		nintendo = (h.OldLicensee == 0x01)
	}
	if nintendo {
		// Use header checksum to pick a stable palette across sessions,
		// within len(compatPalettes).
		return int(h.HeaderChecksum) % len(compatPalettes), true
	}
	return 0, true
}
