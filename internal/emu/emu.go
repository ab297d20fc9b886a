// Package emu is the top-level scheduler: it owns the bus/CPU pair for a
// loaded cartridge and drives them one CPU instruction at a time, exposing
// frame/audio/save-state boundaries to the host (cmd/gbemu, internal/ui).
package emu

import (
	"fmt"
	"io"
	"os"

	"github.com/dmgcore/go-dmg-core/internal/bus"
	"github.com/dmgcore/go-dmg-core/internal/cpu"
	"github.com/dmgcore/go-dmg-core/internal/joypad"
)

// Buttons is the full pressed/released state of the eight DMG buttons for
// one SetButtons call.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= joypad.Right
	}
	if b.Left {
		m |= joypad.Left
	}
	if b.Up {
		m |= joypad.Up
	}
	if b.Down {
		m |= joypad.Down
	}
	if b.A {
		m |= joypad.A
	}
	if b.B {
		m |= joypad.B
	}
	if b.Select {
		m |= joypad.Select
	}
	if b.Start {
		m |= joypad.Start
	}
	return m
}

// Event is a bitmask of conditions RunUntilEvent can stop on.
type Event uint

const (
	NewFrame        Event = 1 << 0
	SoundBufferFull Event = 1 << 1
)

// ConfigError wraps a cartridge/bus construction failure, matching
// spec.md §7(a)'s "refuse to start" contract: callers should surface this
// rather than emulate a half-configured machine.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// Machine is the scheduler: one cartridge, one bus, one CPU, stepped in
// lockstep and exposing the framebuffer/audio/save-state boundaries the
// host needs. internal/bus.Tick already fans per-instruction cycles out to
// DMA -> PPU -> Timer -> APU in that fixed order (spec.md §5); Machine just
// drives CPU.Step() and watches for frame/sample edges.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	romPath string
	bootROM []byte
	fb      []byte // RGBA 160x144*4

	compatPalette int
}

// New constructs a Machine with no cartridge loaded; LoadCartridge or
// LoadROMFromFile must be called before stepping.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, fb: make([]byte, 160*144*4)}
}

// LoadCartridge parses rom, wires a fresh bus+CPU pair around it, and resets
// to either the boot-ROM entry point (if boot is provided) or documented
// post-boot register state.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	b, err := bus.New(rom)
	if err != nil {
		return &ConfigError{Err: err}
	}
	m.bus = b
	m.cpu = cpu.New(b)

	if len(boot) >= 0x100 {
		m.bootROM = boot
		b.SetBootROM(boot)
		m.cpu.SetPC(0x0000)
	} else {
		m.bootROM = nil
		m.cpu.ResetNoBoot()
		m.cpu.SetPC(0x0100)
		m.applyPostBootIODefaults()
	}

	if h := b.Cart().Header(); h != nil {
		if id, ok := autoCompatPaletteFromHeader(h); ok {
			m.compatPalette = id
		}
	}
	return nil
}

// applyPostBootIODefaults writes the documented DMG post-boot IO register
// values (spec.md §3), used when no boot ROM is supplied.
func (m *Machine) applyPostBootIODefaults() {
	b := m.bus
	b.Write(0xFF05, 0x00) // TIMA
	b.Write(0xFF06, 0x00) // TMA
	b.Write(0xFF07, 0x00) // TAC
	b.Write(0xFF40, 0x91) // LCDC on, BG+sprites
	b.Write(0xFF42, 0x00) // SCY
	b.Write(0xFF43, 0x00) // SCX
	b.Write(0xFF45, 0x00) // LYC
	b.Write(0xFF47, 0xFC) // BGP
	b.Write(0xFF48, 0xFF) // OBP0
	b.Write(0xFF49, 0xFF) // OBP1
	b.Write(0xFF4A, 0x00) // WY
	b.Write(0xFF4B, 0x00) // WX
	b.Write(0xFFFF, 0x00) // IE
}

// ResetPostBoot re-runs the post-boot reset sequence against the currently
// loaded cartridge, without reloading ROM bytes.
func (m *Machine) ResetPostBoot() {
	if m.bus == nil {
		return
	}
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
	m.applyPostBootIODefaults()
}

// ResetWithBoot re-enters the boot ROM overlay at PC 0, if one was supplied
// to the last LoadCartridge/LoadROMFromFile call.
func (m *Machine) ResetWithBoot() {
	if m.bus == nil || len(m.bootROM) < 0x100 {
		m.ResetPostBoot()
		return
	}
	m.bus.SetBootROM(m.bootROM)
	m.cpu.SetPC(0x0000)
}

// LoadROMFromFile reads path and loads it as the active cartridge, also
// recording path so ROMPath/battery-save naming can use it.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(data, nil); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path LoadROMFromFile was last called with, or "" if
// the cartridge was loaded from raw bytes via LoadCartridge.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header's title, or "" if none is loaded.
func (m *Machine) ROMTitle() string {
	if m.bus == nil {
		return ""
	}
	if h := m.bus.Cart().Header(); h != nil {
		return h.Title
	}
	return ""
}

// SetSerialWriter routes bytes transmitted over the serial port to w,
// e.g. for blargg-style test ROMs that report pass/fail over serial.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// SetBootROM stages a boot ROM for the next ResetWithBoot. LoadCartridge and
// LoadROMFromFile replace it with their own boot argument (LoadROMFromFile
// always passes nil), so a staged boot ROM does not survive a cartridge load.
func (m *Machine) SetBootROM(data []byte) { m.bootROM = data }

// Bus returns the machine's memory bus, or nil if no cartridge is loaded.
// Intended for host glue that needs direct memory access (debuggers,
// memory-viewer UI panes) rather than routine emulation, which should go
// through the higher-level Machine methods.
func (m *Machine) Bus() *bus.Bus { return m.bus }

// SetButtons replaces the full pressed-button state for the next steps.
func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}

// LoadBattery restores battery-backed cartridge RAM from data, returning
// false if the loaded cartridge has no battery.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(interface {
		HasBattery() bool
		LoadRAM([]byte)
	})
	if !ok || !bb.HasBattery() {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns the loaded cartridge's battery-backed RAM, and false
// if it has none to persist.
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(interface {
		HasBattery() bool
		SaveRAM() []byte
	})
	if !ok || !bb.HasBattery() {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// RunUntilEvent steps the CPU until a new-frame edge fires or, when
// maxSamples > 0, the APU's stereo sample ring reaches maxSamples frames.
// Returns the bitmask of conditions that triggered the stop.
func (m *Machine) RunUntilEvent(maxSamples int) Event {
	var ev Event
	for {
		m.cpu.Step()
		if m.bus.PPU().PollNewFrame() {
			ev |= NewFrame
		}
		if maxSamples > 0 && m.bus.APU().StereoAvailable() >= maxSamples {
			ev |= SoundBufferFull
		}
		if ev != 0 {
			return ev
		}
	}
}

// StepFrame runs until the next new-frame edge and composites the result
// into the RGBA framebuffer.
func (m *Machine) StepFrame() {
	m.RunUntilEvent(0)
	m.renderFramebuffer()
}

// StepFrameNoRender runs until the next new-frame edge without touching the
// RGBA framebuffer, for headless/test-ROM runners that only care about
// serial output.
func (m *Machine) StepFrameNoRender() {
	m.RunUntilEvent(0)
}

// Framebuffer returns the current RGBA 160x144x4 frame.
func (m *Machine) Framebuffer() []byte { return m.fb }

func (m *Machine) renderFramebuffer() {
	frame := m.bus.PPU().Frame()
	pal := compatPalettes[m.compatPalette%len(compatPalettes)]
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			shade := frame[y][x] & 0x03
			rgb := pal[shade]
			i := (y*160 + x) * 4
			m.fb[i+0] = rgb[0]
			m.fb[i+1] = rgb[1]
			m.fb[i+2] = rgb[2]
			m.fb[i+3] = 0xFF
		}
	}
}

// APUPullStereo pulls up to max stereo frames as an interleaved
// [L0,R0,L1,R1,...] int16 slice.
func (m *Machine) APUPullStereo(max int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(max)
}

// APUBufferedStereo reports how many stereo frames are currently buffered.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUCapBufferedStereo discards buffered audio beyond maxFrames, used by the
// host to bound latency after a pause or frame-skip.
func (m *Machine) APUCapBufferedStereo(maxFrames int) {
	if m.bus == nil {
		return
	}
	for m.bus.APU().StereoAvailable() > maxFrames {
		if len(m.bus.APU().PullStereo(m.bus.APU().StereoAvailable()-maxFrames)) == 0 {
			break
		}
	}
}

// APUClearAudioLatency drains all currently buffered audio.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil {
		return
	}
	for m.bus.APU().StereoAvailable() > 0 {
		if len(m.bus.APU().PullStereo(m.bus.APU().StereoAvailable())) == 0 {
			break
		}
	}
}

// SaveStateToFile writes a full save state (bus.SaveState) to path.
func (m *Machine) SaveStateToFile(path string) error {
	if m.bus == nil {
		return fmt.Errorf("emu: no cartridge loaded")
	}
	return os.WriteFile(path, m.bus.SaveState(), 0644)
}

// LoadStateFromFile restores a save state previously written by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	if m.bus == nil {
		return fmt.Errorf("emu: no cartridge loaded")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.bus.LoadState(data)
	return nil
}

// CompatPaletteName returns the display name of the active DMG
// compatibility palette.
func (m *Machine) CompatPaletteName() string {
	return compatPaletteNames[m.compatPalette%len(compatPaletteNames)]
}

// CurrentCompatPalette returns the active palette's index.
func (m *Machine) CurrentCompatPalette() int { return m.compatPalette }

// SetCompatPalette selects a palette by index, wrapping out-of-range values.
func (m *Machine) SetCompatPalette(id int) {
	n := len(compatPalettes)
	m.compatPalette = ((id % n) + n) % n
}

// CycleCompatPalette moves the active palette by dir (typically +1/-1).
func (m *Machine) CycleCompatPalette(dir int) {
	m.SetCompatPalette(m.compatPalette + dir)
}

// The original hardware this core emulates is DMG-only: Game Boy Color
// palette/VRAM-bank emulation is an explicit non-goal. These accessors stay
// in place because internal/ui's menu already branches on them; they report
// the fixed "no CGB mode" answer rather than the host needing a type switch.

// IsCGBCompat always reports false: CGB compatibility mode is not emulated.
func (m *Machine) IsCGBCompat() bool { return false }

// WantCGBColors always reports false for the same reason.
func (m *Machine) WantCGBColors() bool { return false }

// UseCGBBG always reports false for the same reason.
func (m *Machine) UseCGBBG() bool { return false }

// SetUseCGBBG is a no-op: there is no CGB background renderer to toggle.
func (m *Machine) SetUseCGBBG(bool) {}

// ResetCGBPostBoot is a no-op: there is no CGB post-boot state to enter.
func (m *Machine) ResetCGBPostBoot(bool) {}

// SetUseFetcherBG records the host's BG-renderer preference. The fetcher
// path is the only renderer implemented, so this only updates the recorded
// Config for display purposes.
func (m *Machine) SetUseFetcherBG(v bool) { m.cfg.UseFetcherBG = v }
