// Package ppu implements the DMG picture processing unit: the OAM-scan /
// pixel-transfer / HBlank / VBlank mode state machine, LY/LYC coincidence,
// STAT interrupt sources, and a scanline-at-a-time BG/window/sprite
// compositor that fills a 160x144 shade-index framebuffer once per line.
package ppu

import "github.com/dmgcore/go-dmg-core/internal/interrupt"

const (
	ScreenWidth  = 160
	ScreenHeight = 144

	dotsPerLine   = 456
	oamScanDots   = 80
	transferDots  = 172
	linesPerFrame = 154
)

// PPU models VRAM/OAM, LCDC/STAT/scroll/palette registers, the mode timing
// state machine, and renders into a shade-index framebuffer.
type PPU struct {
	vram [0x2000]byte // 0x8000-0x9FFF
	oam  [0xA0]byte   // 0xFE00-0xFE9F

	lcdc byte // FF40
	stat byte // FF41
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int

	windowLine int // internal window-line counter, only advances on lines the window was drawn

	frame    [ScreenHeight][ScreenWidth]byte // 2-bit shade indices, post-BGP/OBPx mapping
	newFrame bool

	irq *interrupt.Controller
}

// New returns a PPU that raises STAT/VBlank interrupts through irq.
func New(irq *interrupt.Controller) *PPU { return &PPU{irq: irq} }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.stat&0x03 == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO registers.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.stat&0x03 == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if p.lcdc&0x80 == 0 && prev&0x80 != 0 {
			p.ly, p.dot = 0, 0
			p.setMode(0)
			p.updateLYC()
			p.windowLine = 0
		} else if p.lcdc&0x80 != 0 && prev&0x80 == 0 {
			p.ly, p.dot = 0, 0
			p.setMode(2)
			p.updateLYC()
			p.windowLine = 0
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly, p.dot = 0, 0
		p.updateLYC()
		if p.lcdc&0x80 != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// WriteOAMRaw is used by the DMA engine to copy bytes directly into OAM,
// bypassing the CPU-access mode gate (DMA owns OAM exclusively while active).
func (p *PPU) WriteOAMRaw(index int, v byte) {
	if index >= 0 && index < len(p.oam) {
		p.oam[index] = v
	}
}

// Tick advances the PPU by the given number of dots (T-cycles), driving the
// mode state machine and rendering a completed scanline's pixels when the
// pixel-transfer period ends and HBlank begins.
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if p.lcdc&0x80 == 0 {
			continue
		}
		p.dot++

		var mode byte
		if p.ly >= ScreenHeight {
			mode = 1
		} else {
			switch {
			case p.dot < oamScanDots:
				mode = 2
			case p.dot < oamScanDots+transferDots:
				mode = 3
			default:
				mode = 0
			}
		}
		prevMode := p.stat & 0x03
		p.setMode(mode)
		if prevMode == 3 && mode == 0 {
			p.renderScanline()
		}

		if p.dot >= dotsPerLine {
			p.dot = 0
			p.ly++
			if p.ly == ScreenHeight {
				p.newFrame = true
				p.irq.Request(interrupt.VBlank)
				if p.stat&(1<<4) != 0 {
					p.irq.Request(interrupt.LCDStat)
				}
			} else if p.ly > linesPerFrame-1 {
				p.ly = 0
				p.windowLine = 0
			}
			p.updateLYC()
			if p.ly >= ScreenHeight {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0:
		if p.stat&(1<<3) != 0 {
			p.irq.Request(interrupt.LCDStat)
		}
	case 2:
		if p.stat&(1<<5) != 0 {
			p.irq.Request(interrupt.LCDStat)
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if p.stat&(1<<6) != 0 {
			p.irq.Request(interrupt.LCDStat)
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// PollNewFrame reports and clears whether a frame completed since the last
// call (spec.md's NEW_FRAME event).
func (p *PPU) PollNewFrame() bool {
	v := p.newFrame
	p.newFrame = false
	return v
}

// Frame returns the current framebuffer as 2-bit shade indices (0=lightest,
// 3=darkest), row-major, 160x144.
func (p *PPU) Frame() *[ScreenHeight][ScreenWidth]byte { return &p.frame }

func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
