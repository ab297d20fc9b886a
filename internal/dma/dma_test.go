package dma

import "testing"

type fakeBus struct {
	mem [0x10000]byte
	oam [0xA0]byte
}

func (f *fakeBus) ReadForDMA(addr uint16) byte { return f.mem[addr] }
func (f *fakeBus) WriteOAMByte(i int, v byte)  { f.oam[i] = v }

func newFakeBus() *fakeBus { return &fakeBus{} }

func TestEngine_StartupLatency(t *testing.T) {
	var e Engine
	b := newFakeBus()
	for i := 0; i < 0xA0; i++ {
		b.mem[0xC000+i] = byte(i)
	}
	e.Start(0xC0)
	if !e.Active() {
		t.Fatalf("expected engine active right after Start")
	}
	e.Update(startupCycles, b, b)
	if b.oam[0] != 0 {
		t.Fatalf("expected no bytes copied during startup latency, oam[0]=%02x", b.oam[0])
	}
}

func TestEngine_FullTransfer(t *testing.T) {
	var e Engine
	b := newFakeBus()
	for i := 0; i < 0xA0; i++ {
		b.mem[0xC000+i] = byte(i ^ 0x5A)
	}
	e.Start(0xC0)
	e.Update(totalCycles, b, b)
	if e.Active() {
		t.Fatalf("expected transfer to be complete after totalCycles")
	}
	for i := 0; i < 0xA0; i++ {
		if b.oam[i] != byte(i^0x5A) {
			t.Fatalf("oam[%d]=%02x want %02x", i, b.oam[i], byte(i^0x5A))
		}
	}
}

func TestEngine_RestartMidTransfer(t *testing.T) {
	var e Engine
	b := newFakeBus()
	e.Start(0xC0)
	e.Update(totalCycles/2, b, b)
	if !e.Active() {
		t.Fatalf("expected still active at half the transfer")
	}
	e.Start(0xD0)
	if e.Value() != 0xD0 {
		t.Fatalf("Value() got %02x want D0", e.Value())
	}
	if e.Snapshot().Offset != 0 {
		t.Fatalf("expected offset reset to 0 on restart")
	}
}

func TestEngine_SnapshotRestore(t *testing.T) {
	var e Engine
	b := newFakeBus()
	e.Start(0xC0)
	e.Update(20, b, b)
	s := e.Snapshot()

	var e2 Engine
	e2.Restore(s)
	if e2.Active() != e.Active() || e2.Value() != e.Value() {
		t.Fatalf("restored engine does not match snapshot")
	}
}
