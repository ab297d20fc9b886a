// Command gbheadless runs a ROM without a window, for CI and blargg-style
// test suites: it steps a fixed number of frames (or until a serial
// "Passed"/"Failed" marker), optionally writes the final framebuffer as a
// PNG, and checks it against an expected CRC32. It exits nonzero on a
// detected test failure or checksum mismatch.
package main

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/dmgcore/go-dmg-core/internal/cartio"
	"github.com/dmgcore/go-dmg-core/internal/emu"
)

func main() {
	app := cli.NewApp()
	app.Name = "gbheadless"
	app.Usage = "run a Game Boy ROM headlessly for CI/automated testing"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "rom", Usage: "path to ROM (.gb)"},
		cli.StringFlag{Name: "bootrom", Usage: "optional DMG boot ROM"},
		cli.IntFlag{Name: "frames", Value: 600, Usage: "max frames to run"},
		cli.StringFlag{Name: "outpng", Usage: "write final framebuffer to PNG at this path"},
		cli.StringFlag{Name: "expect", Usage: "expected framebuffer CRC32 (hex), checked after the run"},
		cli.StringFlag{Name: "until", Value: "Passed,Failed", Usage: "comma-separated serial substrings that end the run early (case-insensitive)"},
		cli.BoolFlag{Name: "save", Usage: "load/store battery RAM via the ROM's .sav file"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	romPath := c.String("rom")
	if romPath == "" {
		return cli.NewExitError("missing required -rom flag", 2)
	}
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("read rom: %v", err), 2)
	}
	var boot []byte
	if bp := c.String("bootrom"); bp != "" {
		boot, err = os.ReadFile(bp)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("read bootrom: %v", err), 2)
		}
	}

	m := emu.New(emu.Config{})
	if err := m.LoadCartridge(rom, boot); err != nil {
		return cli.NewExitError(fmt.Sprintf("load cartridge: %v", err), 2)
	}

	if c.Bool("save") {
		if err := cartio.LoadSave(m, romPath); err != nil {
			log.Printf("warning: %v", err)
		}
	}

	var serial bytes.Buffer
	m.SetSerialWriter(&serial)

	markers := splitMarkers(c.String("until"))
	frames := c.Int("frames")
	if frames <= 0 {
		frames = 1
	}

	start := time.Now()
	var hit string
	for i := 0; i < frames; i++ {
		m.StepFrame()
		if hit = findMarker(serial.String(), markers); hit != "" {
			break
		}
	}
	elapsed := time.Since(start)

	fb := m.Framebuffer()
	crc := crc32.ChecksumIEEE(fb)
	log.Printf("ran %s, fb_crc32=%08x, serial_marker=%q", elapsed.Truncate(time.Millisecond), crc, hit)

	if c.Bool("save") {
		if err := cartio.WriteSave(m, romPath); err != nil {
			log.Printf("warning: %v", err)
		}
	}

	if outpng := c.String("outpng"); outpng != "" {
		if err := writeFramePNG(fb, 160, 144, outpng); err != nil {
			return cli.NewExitError(fmt.Sprintf("write PNG: %v", err), 1)
		}
	}

	if expect := c.String("expect"); expect != "" {
		want := strings.TrimPrefix(strings.ToLower(expect), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return cli.NewExitError(fmt.Sprintf("checksum mismatch: got %s, want %s", got, want), 1)
		}
	}

	if strings.EqualFold(hit, "Failed") || strings.Contains(strings.ToLower(hit), "failed") {
		return cli.NewExitError("serial output reported failure", 1)
	}
	return nil
}

func splitMarkers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func findMarker(serial string, markers []string) string {
	low := strings.ToLower(serial)
	for _, marker := range markers {
		if strings.Contains(low, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}

func writeFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    append([]byte(nil), pix...),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
