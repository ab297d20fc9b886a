package ppu

import (
	"bytes"
	"encoding/gob"
)

// vramAdapter lets the isolated BG fetcher read tile/map bytes directly out
// of the PPU's VRAM array, addressed the same way the CPU would (0x8000+).
type vramAdapter struct{ p *PPU }

func (v vramAdapter) Read(addr uint16) byte { return v.p.vram[addr-0x8000] }

// spriteAttr is one decoded OAM entry.
type spriteAttr struct {
	y, x, tile, flags byte
	oamIndex          int
}

func (p *PPU) bgMapBase() uint16 {
	if p.lcdc&(1<<3) != 0 {
		return 0x9C00
	}
	return 0x9800
}

func (p *PPU) winMapBase() uint16 {
	if p.lcdc&(1<<6) != 0 {
		return 0x9C00
	}
	return 0x9800
}

func (p *PPU) tileData8000() bool { return p.lcdc&(1<<4) != 0 }

// renderScanline composes BG, window, and sprites for the line that just
// finished pixel transfer (p.ly), writing shade indices into p.frame[ly].
func (p *PPU) renderScanline() {
	ly := p.ly
	if ly >= ScreenHeight {
		return
	}
	mem := vramAdapter{p}

	var bgIdx, winIdx [ScreenWidth]byte
	bgEnabled := p.lcdc&0x01 != 0
	if bgEnabled {
		bgIdx = RenderBGScanlineUsingFetcher(mem, p.bgMapBase(), p.tileData8000(), p.scx, p.scy, ly)
	}

	winEnabled := p.lcdc&0x20 != 0 && p.lcdc&0x01 != 0
	winStart := int(p.wx) - 7
	drawWindow := winEnabled && p.wy <= ly && winStart < ScreenWidth
	if drawWindow {
		winIdx = RenderWindowScanlineUsingFetcher(mem, p.winMapBase(), p.tileData8000(), winStart, byte(p.windowLine))
		p.windowLine++
	}

	var out [ScreenWidth]byte
	for x := 0; x < ScreenWidth; x++ {
		if drawWindow && x >= winStart {
			out[x] = winIdx[x]
		} else if bgEnabled {
			out[x] = bgIdx[x]
		}
	}

	if p.lcdc&0x02 != 0 {
		p.renderSprites(ly, &out, bgEnabled, bgIdx)
	}

	p.mapShades(&out)
	p.frame[ly] = out
}

// renderSprites overlays up to 10 sprites visible on this line, highest
// priority (lowest X, then lowest OAM index) drawn last so it wins ties.
func (p *PPU) renderSprites(ly byte, out *[ScreenWidth]byte, bgEnabled bool, bgIdx [ScreenWidth]byte) {
	tall := p.lcdc&0x04 != 0
	height := byte(8)
	if tall {
		height = 16
	}

	var visible []spriteAttr
	for i := 0; i < 40 && len(visible) < 10; i++ {
		base := i * 4
		sy := p.oam[base]
		sx := p.oam[base+1]
		tile := p.oam[base+2]
		flags := p.oam[base+3]
		top := int(sy) - 16
		if int(ly) < top || int(ly) >= top+int(height) {
			continue
		}
		visible = append(visible, spriteAttr{sy, sx, tile, flags, i})
	}

	// Stable insertion sort ascending by X, ties broken by OAM index, then
	// composite from lowest priority (last in sorted order) to highest so
	// higher-priority pixels end up on top.
	for i := 1; i < len(visible); i++ {
		j := i
		for j > 0 && visible[j-1].x > visible[j].x {
			visible[j-1], visible[j] = visible[j], visible[j-1]
			j--
		}
	}

	for i := len(visible) - 1; i >= 0; i-- {
		s := visible[i]
		if s.x == 0 || s.x >= 168 {
			continue
		}
		yFlip := s.flags&0x40 != 0
		xFlip := s.flags&0x20 != 0
		behindBG := s.flags&0x80 != 0
		palette := p.obp0
		if s.flags&0x10 != 0 {
			palette = p.obp1
		}

		row := int(ly) - (int(s.y) - 16)
		if yFlip {
			row = int(height) - 1 - row
		}
		tile := s.tile
		if tall {
			tile &^= 0x01
			if row >= 8 {
				tile |= 0x01
				row -= 8
			}
		}
		tileAddr := 0x8000 + uint16(tile)*16 + uint16(row)*2
		lo := p.vram[tileAddr-0x8000]
		hi := p.vram[tileAddr-0x8000+1]

		for px := 0; px < 8; px++ {
			bit := px
			if !xFlip {
				bit = 7 - px
			}
			ci := ((hi>>byte(bit))&1)<<1 | ((lo >> byte(bit)) & 1)
			if ci == 0 {
				continue // transparent
			}
			screenX := int(s.x) - 8 + px
			if screenX < 0 || screenX >= ScreenWidth {
				continue
			}
			if behindBG && bgEnabled && bgIdx[screenX] != 0 {
				continue
			}
			out[screenX] = 0x80 | (palette >> (ci * 2) & 0x03)
		}
	}
}

// mapShades resolves each pixel through its palette register. BG/window
// pixels (high bit clear) use BGP; sprite pixels were already palette-mapped
// by renderSprites and are marked with the high bit so they pass through.
func (p *PPU) mapShades(out *[ScreenWidth]byte) {
	for x, v := range out {
		if v&0x80 != 0 {
			out[x] = v & 0x03
			continue
		}
		out[x] = (p.bgp >> (v * 2)) & 0x03
	}
}

type stateV1 struct {
	VRAM                          [0x2000]byte
	OAM                           [0xA0]byte
	LCDC, STAT, SCY, SCX, LY, LYC byte
	BGP, OBP0, OBP1, WY, WX       byte
	Dot                           int
	WindowLine                    int
}

// SaveState serializes VRAM, OAM, registers, and timing position.
func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	s := stateV1{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		Dot: p.dot, WindowLine: p.windowLine,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	var s stateV1
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.dot, p.windowLine = s.Dot, s.WindowLine
}
