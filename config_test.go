package fdcan

import (
	"errors"
	"math"
	"testing"

	"github.com/roffe/fdcan/pkg/regs"
)

func TestBitTimingEncode(t *testing.T) {
	for _, p := range []uint16{0, 1, 255, 511} {
		for _, s1 := range []uint8{0, 1, 0x7F, 0xFF} {
			for _, s2 := range []uint8{0, 3, 0x7F} {
				for _, sjw := range []uint8{0, 0x40, 0x7F} {
					nt := NominalBitTiming{Prescaler: p, Seg1: s1, Seg2: s2, SyncJumpWidth: sjw}
					if err := nt.Validate(); err != nil {
						t.Fatalf("Validate(%+v) error = %v", nt, err)
					}
					v := nt.encode()
					if got := decodeNominal(v); got != nt {
						t.Fatalf("decodeNominal(encode(%+v)) = %+v", nt, got)
					}
					if again := decodeNominal(v).encode(); again != v {
						t.Fatalf("encode not idempotent: %08X != %08X", again, v)
					}
				}
			}
		}
	}
	for p := uint8(0); p < 32; p++ {
		for s1 := uint8(0); s1 < 32; s1++ {
			for _, s2 := range []uint8{0, 7, 15} {
				dt := DataBitTiming{TransceiverDelayCompensation: s1%2 == 0, Prescaler: p, Seg1: s1, Seg2: s2, SyncJumpWidth: s2}
				v := dt.encode()
				if got := decodeData(v); got != dt {
					t.Fatalf("decodeData(encode(%+v)) = %+v", dt, got)
				}
				if again := decodeData(v).encode(); again != v {
					t.Fatalf("encode not idempotent: %08X != %08X", again, v)
				}
			}
		}
	}
}

func TestSetterValidation(t *testing.T) {
	tests := []struct {
		name string
		set  func(*Control) error
	}{
		{"nominal prescaler", func(c *Control) error { return c.SetNominalBitTiming(NominalBitTiming{Prescaler: 512}) }},
		{"nominal seg2", func(c *Control) error { return c.SetNominalBitTiming(NominalBitTiming{Seg2: 128}) }},
		{"nominal sjw", func(c *Control) error { return c.SetNominalBitTiming(NominalBitTiming{SyncJumpWidth: 200}) }},
		{"data prescaler", func(c *Control) error { return c.SetDataBitTiming(DataBitTiming{Prescaler: 32}) }},
		{"data seg1", func(c *Control) error { return c.SetDataBitTiming(DataBitTiming{Seg1: 32}) }},
		{"data seg2", func(c *Control) error { return c.SetDataBitTiming(DataBitTiming{Seg2: 16}) }},
		{"data sjw", func(c *Control) error { return c.SetDataBitTiming(DataBitTiming{SyncJumpWidth: 16}) }},
		{"clock divider", func(c *Control) error { return c.SetClockDivider(ClockDivider(16)) }},
		{"frame transmit", func(c *Control) error { return c.SetFrameTransmit(FrameTransmit(7)) }},
		{"timestamp prescaler zero", func(c *Control) error {
			return c.SetTimestampSource(TimestampSource{Kind: TimestampInternal, Prescaler: 0})
		}},
		{"timestamp prescaler", func(c *Control) error {
			return c.SetTimestampSource(TimestampSource{Kind: TimestampInternal, Prescaler: 17})
		}},
		{"interrupt lines", func(c *Control) error { return c.SetInterruptLineConfig(1 << 30) }},
		{"apply config", func(c *Control) error {
			cfg := DefaultConfig()
			cfg.DataBitTiming.Seg2 = 20
			return c.ApplyConfig(cfg)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, f := newConfig(t)
			nbtp, dbtp := p.Peek(regs.NBTP), p.Peek(regs.DBTP)
			err := tt.set(f.Control())
			var ce *ConfigError
			if !errors.As(err, &ce) || !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("error = %v, want *ConfigError", err)
			}
			if p.Peek(regs.NBTP) != nbtp || p.Peek(regs.DBTP) != dbtp {
				t.Error("rejected value reached the registers")
			}
			if f.Control().Config() != DefaultConfig() {
				t.Error("rejected value reached the snapshot")
			}
		})
	}
}

func TestSettersApplied(t *testing.T) {
	p, f := newConfig(t)
	ct := f.Control()
	nt := NominalBitTiming{Prescaler: 4, Seg1: 12, Seg2: 3, SyncJumpWidth: 2}
	dt := DataBitTiming{TransceiverDelayCompensation: true, Prescaler: 1, Seg1: 10, Seg2: 4, SyncJumpWidth: 4}
	for _, err := range []error{
		ct.SetNominalBitTiming(nt),
		ct.SetDataBitTiming(dt),
		ct.SetAutomaticRetransmit(true),
		ct.SetTransmitPause(true),
		ct.SetNonISOMode(true),
		ct.SetEdgeFiltering(true),
		ct.SetProtocolExceptionHandling(false),
		ct.SetFrameTransmit(AllowFdCanAndBRS),
		ct.SetClockDivider(Div4),
		ct.SetTimestampSource(TimestampSource{Kind: TimestampInternal, Prescaler: 4}),
		ct.SetInterruptLineConfig(BusOff | ErrorPassive),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	want := Config{
		NominalBitTiming:          nt,
		DataBitTiming:             dt,
		AutomaticRetransmit:       true,
		TransmitPause:             true,
		FrameTransmit:             AllowFdCanAndBRS,
		NonISOMode:                true,
		EdgeFiltering:             true,
		ProtocolExceptionHandling: false,
		ClockDivider:              Div4,
		InterruptLineConfig:       BusOff | ErrorPassive,
		TimestampSource:           TimestampSource{Kind: TimestampInternal, Prescaler: 4},
	}
	if got := ct.Config(); got != want {
		t.Fatalf("Config() = %+v, want %+v", got, want)
	}

	// scribble over a register; leaving init writes the snapshot back
	p.Registers().Write32(regs.NBTP, 0)
	f = into(t, f, Normal)

	if got := p.Peek(regs.NBTP); got != nt.encode() {
		t.Errorf("NBTP = %08X, want %08X", got, nt.encode())
	}
	if got := p.Peek(regs.DBTP); got != dt.encode() {
		t.Errorf("DBTP = %08X, want %08X", got, dt.encode())
	}
	cccr := p.Peek(regs.CCCR)
	wantSet := regs.CCCR_TXP | regs.CCCR_NISO | regs.CCCR_EFBI | regs.CCCR_PXHD | regs.CCCR_FDOE | regs.CCCR_BRSE
	if cccr&wantSet != wantSet || cccr&regs.CCCR_DAR != 0 {
		t.Errorf("CCCR = %08X", cccr)
	}
	if got := regs.CKDIV_PDIV.Get(p.Peek(regs.CKDIV)); got != uint32(Div4) {
		t.Errorf("CKDIV = %d", got)
	}
	if got := p.Peek(regs.ILS); got != uint32(BusOff|ErrorPassive) {
		t.Errorf("ILS = %08X", got)
	}
	tscc := p.Peek(regs.TSCC)
	if regs.TSCC_TSS.Get(tscc) != 1 || regs.TSCC_TCP.Get(tscc) != 3 {
		t.Errorf("TSCC = %08X", tscc)
	}

	f = into(t, f, ConfigMode)
	if got := f.Control().Config(); got != want {
		t.Errorf("Config() after round trip = %+v", got)
	}
}

func TestApplyConfig(t *testing.T) {
	p, f := newConfig(t)
	cfg := DefaultConfig()
	cfg.AutomaticRetransmit = true
	cfg.FrameTransmit = AllowFdCan
	if err := f.Control().ApplyConfig(cfg); err != nil {
		t.Fatal(err)
	}
	first := p.Peek(regs.CCCR)
	if err := f.Control().ApplyConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if p.Peek(regs.CCCR) != first {
		t.Error("applying the same config twice changed CCCR")
	}
	if first&regs.CCCR_FDOE == 0 || first&regs.CCCR_BRSE != 0 || first&regs.CCCR_DAR != 0 {
		t.Errorf("CCCR = %08X", first)
	}
}

func TestTimestamp(t *testing.T) {
	p, f := newConfig(t)
	if err := f.Control().SetTimestampSource(TimestampSource{Kind: TimestampInternal, Prescaler: 1}); err != nil {
		t.Fatal(err)
	}
	f = into(t, f, Normal)
	p.Tick(42)
	ts, err := f.Timestamp()
	if err != nil {
		t.Fatal(err)
	}
	if ts != 42 {
		t.Errorf("Timestamp() = %d, want 42", ts)
	}
	if err := f.Control().ResetTimestamp(); err != nil {
		t.Fatal(err)
	}
	if ts, _ := f.Timestamp(); ts != 0 {
		t.Errorf("Timestamp() after reset = %d", ts)
	}
}

func TestCalcBitTiming(t *testing.T) {
	tests := []struct {
		name    string
		clock   uint32
		bitrate uint32
		sp      float64
		want    NominalBitTiming
		wantErr bool
	}{
		{"500k at 80MHz", 80_000_000, 500_000, 0.875, NominalBitTiming{Prescaler: 0, Seg1: 138, Seg2: 19, SyncJumpWidth: 19}, false},
		{"1M at 40MHz", 40_000_000, 1_000_000, 0.8, NominalBitTiming{Prescaler: 0, Seg1: 30, Seg2: 7, SyncJumpWidth: 7}, false},
		{"zero bitrate", 80_000_000, 0, 0.875, NominalBitTiming{}, true},
		{"bad sample point", 80_000_000, 500_000, 1.2, NominalBitTiming{}, true},
		{"not divisible", 80_000_000, 333_333, 0.875, NominalBitTiming{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalcNominalBitTiming(tt.clock, tt.bitrate, tt.sp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CalcNominalBitTiming() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("CalcNominalBitTiming() = %+v, want %+v", got, tt.want)
			}
			if got.Bitrate(tt.clock) != tt.bitrate {
				t.Errorf("Bitrate() = %d, want %d", got.Bitrate(tt.clock), tt.bitrate)
			}
			if math.Abs(got.SamplePoint()-tt.sp) > 0.01 {
				t.Errorf("SamplePoint() = %.3f, want %.3f", got.SamplePoint(), tt.sp)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}

	dt, err := CalcDataBitTiming(80_000_000, 2_000_000, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if dt.Bitrate(80_000_000) != 2_000_000 || !dt.TransceiverDelayCompensation {
		t.Errorf("CalcDataBitTiming() = %+v", dt)
	}
	if err := dt.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
