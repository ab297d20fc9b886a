package ppu

import (
	"testing"

	"github.com/dmgcore/go-dmg-core/internal/interrupt"
)

// advanceLines ticks the PPU forward by n full visible lines (456 dots each).
func advanceLines(p *PPU, n int) { p.Tick(456 * n) }

func TestWindowActivationAndCounter(t *testing.T) {
	p := New(interrupt.New())
	// Enable LCD, BG and Window
	p.CPUWrite(0xFF40, 0x80)           // LCD on
	p.CPUWrite(0xFF40, 0x80|0x01)      // BG on
	p.CPUWrite(0xFF40, 0x80|0x01|0x20) // Window on
	// Set WY and WX
	p.CPUWrite(0xFF4A, 10) // WY = 10
	p.CPUWrite(0xFF4B, 7)  // WX = 7 -> winXStart=0

	// After turning LCD on, we start at LY=0 mode 2
	// Advance to line 10 (WY)
	advanceLines(p, 10)
	if ly := p.CPURead(0xFF44); ly != 10 {
		t.Fatalf("expected LY=10, got %d", ly)
	}
	// Enter mode 3 and complete it on line 10 so the window is drawn
	p.Tick(80 + 172)
	if p.windowLine != 1 {
		t.Fatalf("expected windowLine=1 after drawing line WY, got %d", p.windowLine)
	}
	// Finish line 10, then draw line 11: windowLine should advance to 2
	advanceLines(p, 1)
	p.Tick(80 + 172)
	if p.windowLine != 2 {
		t.Fatalf("expected windowLine=2 after drawing WY+1, got %d", p.windowLine)
	}
}

func TestWindowNotVisibleWhenWXTooLarge(t *testing.T) {
	p := New(interrupt.New())
	// Enable LCD, BG and Window
	p.CPUWrite(0xFF40, 0x80|0x01|0x20)
	// Set WY=5 and WX>166 so window should not be visible
	p.CPUWrite(0xFF4A, 5)
	p.CPUWrite(0xFF4B, 200)
	// Advance to several lines beyond WY, drawing each one
	for i := 0; i < 8; i++ {
		p.Tick(80 + 172 + (456 - 252))
	}
	if p.windowLine != 0 {
		t.Fatalf("expected windowLine=0 when WX>166, got %d", p.windowLine)
	}
}
