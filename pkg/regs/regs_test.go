package regs

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestFieldSetGet(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		reg   uint32
		value uint32
		want  uint32
	}{
		{"nbrp", NBTP_NBRP, 0xFFFFFFFF, 0x1AB, 0xFFFFFFFF&^NBTP_NBRP.Mask() | 0x1AB<<16},
		{"ntseg2 masks", NBTP_NTSEG2, 0, 0xFF, 0x7F},
		{"dsjw", DBTP_DSJW, 0, 0x3, 0x3},
		{"lss", RXGFC_LSS, 0, 28, 28 << 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.field.Set(tt.reg, tt.value)
			if got != tt.want {
				t.Fatalf("Set = %08X, want %08X", got, tt.want)
			}
			if g := tt.field.Get(got); g != tt.value&tt.field.Max() {
				t.Fatalf("Get = %X, want %X", g, tt.value&tt.field.Max())
			}
		})
	}
}

func TestModify(t *testing.T) {
	m := NewMemory(16)
	m.Write32(4, 0xF0F0)
	Modify(m, 4, 0x00FF, 0x0012)
	if v := m.Read32(4); v != 0xF012 {
		t.Fatalf("Modify: got %04X", v)
	}
	SetBits(m, 4, 0xF000, false)
	if v := m.Read32(4); v != 0x0012 {
		t.Fatalf("SetBits: got %04X", v)
	}
}

func TestWindow(t *testing.T) {
	m := NewMemory(64)
	w := Window(m, 0x20)
	w.Write32(4, 0xDEAD)
	if v := m.Read32(0x24); v != 0xDEAD {
		t.Fatalf("window write landed wrong: %X", v)
	}
}

func TestLoggedBus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b := NewLoggedBus(NewMemory(BlockSize), logger, slog.LevelDebug, LogWrite, Names)
	b.Write32(CCCR, CCCR_INIT)
	if v := b.Read32(CCCR); v != CCCR_INIT {
		t.Fatalf("read back %X", v)
	}
	out := buf.String()
	if !strings.Contains(out, "reg=CCCR") {
		t.Fatalf("missing register name in %q", out)
	}
	if strings.Contains(out, "msg=read") {
		t.Fatalf("reads should not be logged: %q", out)
	}
}

type enabledMemory struct {
	Peripheral
	enabled bool
}

func (e *enabledMemory) Enable() { e.enabled = true }

func TestLoggedInstance(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	inner := &enabledMemory{Peripheral: Peripheral{Regs: NewMemory(BlockSize), RAM: NewMemory(64)}}
	inst := NewLoggedInstance(inner, logger, slog.LevelDebug, LogAll)
	e, ok := inst.(Enabler)
	if !ok {
		t.Fatal("logged instance does not forward Enable")
	}
	e.Enable()
	if !inner.enabled {
		t.Error("Enable not forwarded")
	}
	inst.Registers().Write32(IE, 1)
	inst.MessageRAM().Write32(0, 2)
	if got := strings.Count(buf.String(), "msg=write"); got != 1 {
		t.Errorf("logged %d writes, want 1: %q", got, buf.String())
	}
}
