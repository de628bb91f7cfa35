package fdcan

import (
	"errors"
	"testing"

	"github.com/roffe/fdcan/pkg/regs"
	"github.com/roffe/fdcan/pkg/sim"
)

func newConfig(t *testing.T, opts ...sim.Option) (*sim.Peripheral, *FdCan) {
	t.Helper()
	p := sim.New(opts...)
	f, err := New(p)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f, err = f.IntoConfigMode()
	if err != nil {
		t.Fatalf("IntoConfigMode() error = %v", err)
	}
	return p, f
}

func into(t *testing.T, f *FdCan, m Mode) *FdCan {
	t.Helper()
	transitions := map[Mode]func() (*FdCan, error){
		ConfigMode:       f.IntoConfigMode,
		Normal:           f.IntoNormal,
		InternalLoopback: f.IntoInternalLoopback,
		ExternalLoopback: f.IntoExternalLoopback,
		Restricted:       f.IntoRestricted,
		BusMonitoring:    f.IntoBusMonitoring,
		TestMode:         f.IntoTestMode,
		PoweredDown:      f.IntoPoweredDown,
	}
	nf, err := transitions[m]()
	if err != nil {
		t.Fatalf("into %s error = %v", m, err)
	}
	if nf.Mode() != m {
		t.Fatalf("Mode() = %s, want %s", nf.Mode(), m)
	}
	return nf
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []sim.Option
		wantErr error
	}{
		{name: "fdcan", wantErr: nil},
		{name: "wrong marker", opts: []sim.Option{sim.WithEndianMarker(0x12345678)}, wantErr: ErrIdentityMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sim.New(tt.opts...)
			f, err := New(p)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
			if !p.Enabled() {
				t.Error("peripheral clock not enabled")
			}
			if tt.wantErr != nil {
				if IsRecoverable(err) {
					t.Error("identity mismatch reported as recoverable")
				}
				return
			}
			if f.Mode() != PoweredDown {
				t.Errorf("Mode() = %s, want %s", f.Mode(), PoweredDown)
			}
		})
	}
}

func TestMustNewPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustNew() did not panic on marker mismatch")
		}
	}()
	MustNew(sim.New(sim.WithEndianMarker(0)))
}

func TestConfigModeSetup(t *testing.T) {
	p, _ := newConfig(t)
	gfc := p.Peek(regs.RXGFC)
	if got := regs.RXGFC_LSS.Get(gfc); got != StandardFilterSlots {
		t.Errorf("LSS = %d, want %d", got, StandardFilterSlots)
	}
	if got := regs.RXGFC_LSE.Get(gfc); got != ExtendedFilterSlots {
		t.Errorf("LSE = %d, want %d", got, ExtendedFilterSlots)
	}
	if p.Peek(regs.TXBC)&regs.TXBC_TFQM == 0 {
		t.Error("TX queue mode not selected")
	}
	cccr := p.Peek(regs.CCCR)
	if cccr&regs.CCCR_INIT == 0 || cccr&regs.CCCR_CCE == 0 {
		t.Errorf("CCCR = %08X, want INIT and CCE set", cccr)
	}
}

func TestModeBits(t *testing.T) {
	tests := []struct {
		mode     Mode
		cccr     uint32
		loopback bool
	}{
		{Normal, 0, false},
		{InternalLoopback, regs.CCCR_TEST | regs.CCCR_MON, true},
		{ExternalLoopback, regs.CCCR_TEST, true},
		{Restricted, regs.CCCR_ASM, false},
		{BusMonitoring, regs.CCCR_MON, false},
		{TestMode, regs.CCCR_TEST, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			p, f := newConfig(t)
			f = into(t, f, tt.mode)
			cccr := p.Peek(regs.CCCR)
			if got := cccr & modeMask; got != tt.cccr {
				t.Errorf("CCCR mode bits = %08X, want %08X", got, tt.cccr)
			}
			if cccr&regs.CCCR_INIT != 0 {
				t.Error("INIT still set in operating mode")
			}
			if got := p.Peek(regs.TEST)&regs.TEST_LBCK != 0; got != tt.loopback {
				t.Errorf("TEST.LBCK = %t, want %t", got, tt.loopback)
			}

			into(t, f, ConfigMode)
			if got := p.Peek(regs.CCCR) & modeMask; got != 0 {
				t.Errorf("mode bits left over in config mode: %08X", got)
			}
			if p.Violations() != 0 {
				t.Errorf("%d protected register writes outside init", p.Violations())
			}
		})
	}
}

func TestReleasedHandle(t *testing.T) {
	_, f := newConfig(t)
	n := into(t, f, Normal)
	if _, err := f.IntoNormal(); !errors.Is(err, ErrReleased) {
		t.Errorf("IntoNormal() on consumed handle error = %v, want %v", err, ErrReleased)
	}
	if err := f.Control().SetTransmitPause(true); !errors.Is(err, ErrReleased) {
		t.Errorf("SetTransmitPause() on consumed handle error = %v, want %v", err, ErrReleased)
	}
	if _, err := n.IsTransmitterIdle(); err != nil {
		t.Errorf("IsTransmitterIdle() error = %v", err)
	}
}

func TestWrongMode(t *testing.T) {
	p := sim.New()
	pd := MustNew(p)
	var me *ModeError
	if _, err := pd.IntoNormal(); !errors.As(err, &me) || me.Mode != PoweredDown {
		t.Errorf("IntoNormal() from powered down error = %v", err)
	}
	cfg, err := pd.IntoConfigMode()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.IntoConfigMode(); !errors.Is(err, ErrWrongMode) {
		t.Errorf("IntoConfigMode() from config error = %v", err)
	}
	if _, err := cfg.Transmit(TxFrameHeader{ID: MustStandardID(1)}, nil); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Transmit() in config error = %v", err)
	}
	if _, err := cfg.Receive0(nil); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Receive0() in config error = %v", err)
	}

	restricted := into(t, cfg, Restricted)
	if _, err := restricted.Transmit(TxFrameHeader{ID: MustStandardID(1)}, nil); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Transmit() in restricted error = %v", err)
	}
	if _, err := restricted.Receive0(nil); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("Receive0() in restricted error = %v, want %v", err, ErrWouldBlock)
	}
	if err := restricted.Control().SetNominalBitTiming(NominalBitTiming{}); !errors.Is(err, ErrWrongMode) {
		t.Errorf("SetNominalBitTiming() in restricted error = %v", err)
	}
	if _, err := restricted.IntoPoweredDown(); !errors.Is(err, ErrWrongMode) {
		t.Errorf("IntoPoweredDown() from restricted error = %v", err)
	}

	test := into(t, into(t, restricted, ConfigMode), TestMode)
	if _, err := test.Receive1(nil); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Receive1() in test mode error = %v", err)
	}
	if err := test.Control().SetTxPinControl(TxPinDominant); err != nil {
		t.Errorf("SetTxPinControl() error = %v", err)
	}
	if got := regs.TEST_TX.Get(p.Peek(regs.TEST)); got != uint32(TxPinDominant) {
		t.Errorf("TEST.TX = %d, want %d", got, TxPinDominant)
	}
}

func TestPowerDown(t *testing.T) {
	p, f := newConfig(t, sim.WithAckDelay(2))
	f = into(t, f, PoweredDown)
	if p.Peek(regs.CCCR)&regs.CCCR_CSA == 0 {
		t.Fatal("clock stop not acknowledged")
	}
	f = into(t, f, ConfigMode)
	if p.Peek(regs.CCCR)&regs.CCCR_CSA != 0 {
		t.Fatal("clock stop still acknowledged in config mode")
	}
	into(t, f, Normal)
}

func TestFree(t *testing.T) {
	for _, m := range []Mode{ConfigMode, Normal, InternalLoopback, BusMonitoring} {
		t.Run(m.String(), func(t *testing.T) {
			p, f := newConfig(t)
			ct := f.Control()
			if err := ct.EnableInterrupts(RxFIFO0NewMessage | BusOff); err != nil {
				t.Fatal(err)
			}
			if err := ct.EnableInterruptLine(Line0, true); err != nil {
				t.Fatal(err)
			}
			if m != ConfigMode {
				f = into(t, f, m)
			}
			inst, err := f.Free()
			if err != nil {
				t.Fatalf("Free() error = %v", err)
			}
			if inst != regs.Instance(p) {
				t.Error("Free() returned a different instance")
			}
			if p.Peek(regs.IE) != 0 || p.Peek(regs.ILE) != 0 {
				t.Errorf("IE = %08X ILE = %08X after Free", p.Peek(regs.IE), p.Peek(regs.ILE))
			}
			if p.Peek(regs.CCCR)&regs.CCCR_CSA == 0 {
				t.Error("peripheral not powered down")
			}
			if _, err := f.Free(); !errors.Is(err, ErrReleased) {
				t.Errorf("second Free() error = %v, want %v", err, ErrReleased)
			}
			// the instance can be handed to a new driver
			if _, err := MustNew(inst).IntoConfigMode(); err != nil {
				t.Errorf("IntoConfigMode() after Free error = %v", err)
			}
		})
	}
}

func TestWaitPolicy(t *testing.T) {
	t.Run("stuck init", func(t *testing.T) {
		p := sim.New(sim.WithStuckInit())
		w := NewRetryWait(5, 0)
		var retries int
		w.OnRetry = func(uint, string) { retries++ }
		f, err := New(p, WithWaitPolicy(w))
		if err != nil {
			t.Fatal(err)
		}
		f, err = f.IntoConfigMode()
		if err != nil {
			t.Fatalf("IntoConfigMode() error = %v", err)
		}
		_, err = f.IntoNormal()
		var te *TimeoutError
		if !errors.As(err, &te) || !errors.Is(err, ErrTimeout) {
			t.Fatalf("IntoNormal() error = %v, want timeout", err)
		}
		if te.What != "leave init" {
			t.Errorf("TimeoutError.What = %q", te.What)
		}
		if retries == 0 {
			t.Error("OnRetry never called")
		}
		if f.Mode() != ConfigMode {
			t.Errorf("Mode() after failed transition = %s", f.Mode())
		}
		if _, err := f.ErrorCounters(); err != nil {
			t.Errorf("handle released by failed transition: %v", err)
		}
	})
	t.Run("stuck power down", func(t *testing.T) {
		p := sim.New(sim.WithStuckPowerDown())
		f, err := New(p, WithWaitPolicy(NewRetryWait(3, 0)))
		if err != nil {
			t.Fatal(err)
		}
		f = into(t, f, ConfigMode)
		if _, err := f.IntoPoweredDown(); !errors.Is(err, ErrTimeout) {
			t.Errorf("IntoPoweredDown() error = %v, want timeout", err)
		}
	})
	t.Run("slow handshake", func(t *testing.T) {
		_, f := newConfig(t, sim.WithAckDelay(4))
		into(t, into(t, f, Normal), ConfigMode)
	})
	t.Run("zero attempts poll once", func(t *testing.T) {
		var polls int
		err := (&RetryWait{}).Wait("never", func() bool {
			polls++
			return false
		})
		var te *TimeoutError
		if !errors.As(err, &te) || te.Attempts != 1 {
			t.Fatalf("Wait() error = %v, want timeout after 1 attempt", err)
		}
		if polls != 1 {
			t.Errorf("polls = %d, want 1", polls)
		}
	})
	t.Run("nil policy", func(t *testing.T) {
		if _, err := New(sim.New(), WithWaitPolicy(nil)); err == nil {
			t.Error("New() accepted a nil wait policy")
		}
	})
}
