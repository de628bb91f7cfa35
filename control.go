package fdcan

import (
	"fmt"

	"github.com/roffe/fdcan/pkg/msgram"
	"github.com/roffe/fdcan/pkg/regs"
)

// Control configures the peripheral and reads its status. The setters only
// work in ConfigMode; status queries work in every mode.
type Control struct {
	c *core
	l *lease
}

// set runs fn in ConfigMode after the lease and mode checks.
func (ct *Control) set(op string, fn func() error) error {
	if err := ct.c.require(ct.l, op, inConfig); err != nil {
		return err
	}
	return fn()
}

// Mode returns the current mode of the peripheral.
func (ct *Control) Mode() Mode {
	return ct.c.mode
}

// Config returns a copy of the configuration snapshot.
func (ct *Control) Config() Config {
	return ct.c.cfg
}

func (ct *Control) SetNominalBitTiming(t NominalBitTiming) error {
	return ct.set("set nominal bit timing", func() error {
		if err := t.Validate(); err != nil {
			return err
		}
		ct.c.regs.Write32(regs.NBTP, t.encode())
		ct.c.cfg.NominalBitTiming = t
		return nil
	})
}

func (ct *Control) SetDataBitTiming(t DataBitTiming) error {
	return ct.set("set data bit timing", func() error {
		if err := t.Validate(); err != nil {
			return err
		}
		ct.c.regs.Write32(regs.DBTP, t.encode())
		ct.c.cfg.DataBitTiming = t
		return nil
	})
}

// SetAutomaticRetransmit enables retransmission of frames that lost
// arbitration or were disturbed by an error.
func (ct *Control) SetAutomaticRetransmit(on bool) error {
	return ct.set("set automatic retransmit", func() error {
		regs.SetBits(ct.c.regs, regs.CCCR, regs.CCCR_DAR, !on)
		ct.c.cfg.AutomaticRetransmit = on
		return nil
	})
}

func (ct *Control) SetTransmitPause(on bool) error {
	return ct.set("set transmit pause", func() error {
		regs.SetBits(ct.c.regs, regs.CCCR, regs.CCCR_TXP, on)
		ct.c.cfg.TransmitPause = on
		return nil
	})
}

func (ct *Control) SetNonISOMode(on bool) error {
	return ct.set("set non iso mode", func() error {
		regs.SetBits(ct.c.regs, regs.CCCR, regs.CCCR_NISO, on)
		ct.c.cfg.NonISOMode = on
		return nil
	})
}

func (ct *Control) SetEdgeFiltering(on bool) error {
	return ct.set("set edge filtering", func() error {
		regs.SetBits(ct.c.regs, regs.CCCR, regs.CCCR_EFBI, on)
		ct.c.cfg.EdgeFiltering = on
		return nil
	})
}

func (ct *Control) SetProtocolExceptionHandling(on bool) error {
	return ct.set("set protocol exception handling", func() error {
		regs.SetBits(ct.c.regs, regs.CCCR, regs.CCCR_PXHD, !on)
		ct.c.cfg.ProtocolExceptionHandling = on
		return nil
	})
}

func (ct *Control) SetFrameTransmit(ft FrameTransmit) error {
	return ct.set("set frame transmit", func() error {
		if err := ft.Validate(); err != nil {
			return err
		}
		cfg := ct.c.cfg
		cfg.FrameTransmit = ft
		regs.Modify(ct.c.regs, regs.CCCR, regs.CCCR_FDOE|regs.CCCR_BRSE, cfg.cccrBits())
		ct.c.cfg = cfg
		return nil
	})
}

func (ct *Control) SetClockDivider(d ClockDivider) error {
	return ct.set("set clock divider", func() error {
		if err := d.Validate(); err != nil {
			return err
		}
		regs.Modify(ct.c.regs, regs.CKDIV, regs.CKDIV_PDIV.Mask(), uint32(d))
		ct.c.cfg.ClockDivider = d
		return nil
	})
}

func (ct *Control) SetTimestampSource(s TimestampSource) error {
	return ct.set("set timestamp source", func() error {
		if err := s.Validate(); err != nil {
			return err
		}
		ct.c.regs.Write32(regs.TSCC, s.encode())
		ct.c.cfg.TimestampSource = s
		return nil
	})
}

// SetInterruptLineConfig routes the interrupts in line1 to interrupt line 1
// and every other interrupt to line 0.
func (ct *Control) SetInterruptLineConfig(line1 Interrupts) error {
	return ct.set("set interrupt line config", func() error {
		if line1&^AllInterrupts != 0 {
			return &ConfigError{Field: "interrupt line config", Value: uint32(line1), Max: uint32(AllInterrupts)}
		}
		ct.c.regs.Write32(regs.ILS, uint32(line1))
		ct.c.cfg.InterruptLineConfig = line1
		return nil
	})
}

// ApplyConfig validates cfg and writes all of it.
func (ct *Control) ApplyConfig(cfg Config) error {
	return ct.set("apply config", func() error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		writeConfig(ct.c.regs, cfg)
		ct.c.cfg = cfg
		return nil
	})
}

func checkSlot(slot, n int) error {
	if slot < 0 || slot >= n {
		return fmt.Errorf("%w: slot %d out of range 0-%d", ErrInvalidFilter, slot, n-1)
	}
	return nil
}

func (ct *Control) writeStandard(slot int, f StandardFilter) {
	ct.c.ram.Write32(msgram.StandardFilterAddr(slot), f.element().Encode())
}

func (ct *Control) writeExtended(slot int, f ExtendedFilter) {
	addr := msgram.ExtendedFilterAddr(slot)
	f0, f1 := f.element().Encode()
	ct.c.ram.Write32(addr, f0)
	ct.c.ram.Write32(addr+4, f1)
}

func (ct *Control) SetStandardFilter(slot int, f StandardFilter) error {
	return ct.set("set standard filter", func() error {
		if err := checkSlot(slot, StandardFilterSlots); err != nil {
			return err
		}
		if err := f.Validate(); err != nil {
			return err
		}
		ct.writeStandard(slot, f)
		return nil
	})
}

// SetStandardFilters overwrites the whole standard filter table, one slot
// at a time. Every filter is validated before the first slot is written.
func (ct *Control) SetStandardFilters(fs [StandardFilterSlots]StandardFilter) error {
	return ct.set("set standard filters", func() error {
		for i, f := range fs {
			if err := f.Validate(); err != nil {
				return fmt.Errorf("slot %d: %w", i, err)
			}
		}
		for i, f := range fs {
			ct.writeStandard(i, f)
		}
		return nil
	})
}

func (ct *Control) SetExtendedFilter(slot int, f ExtendedFilter) error {
	return ct.set("set extended filter", func() error {
		if err := checkSlot(slot, ExtendedFilterSlots); err != nil {
			return err
		}
		if err := f.Validate(); err != nil {
			return err
		}
		ct.writeExtended(slot, f)
		return nil
	})
}

// SetExtendedFilters overwrites the whole extended filter table.
func (ct *Control) SetExtendedFilters(fs [ExtendedFilterSlots]ExtendedFilter) error {
	return ct.set("set extended filters", func() error {
		for i, f := range fs {
			if err := f.Validate(); err != nil {
				return fmt.Errorf("slot %d: %w", i, err)
			}
		}
		for i, f := range fs {
			ct.writeExtended(i, f)
		}
		return nil
	})
}

// ReadStandardFilter returns the filter stored in slot.
func (ct *Control) ReadStandardFilter(slot int) (StandardFilter, error) {
	if err := ct.c.require(ct.l, "read standard filter", nil); err != nil {
		return StandardFilter{}, err
	}
	if err := checkSlot(slot, StandardFilterSlots); err != nil {
		return StandardFilter{}, err
	}
	e := msgram.DecodeStandardFilter(ct.c.ram.Read32(msgram.StandardFilterAddr(slot)))
	return standardFromElement(e), nil
}

// ReadExtendedFilter returns the filter stored in slot.
func (ct *Control) ReadExtendedFilter(slot int) (ExtendedFilter, error) {
	if err := ct.c.require(ct.l, "read extended filter", nil); err != nil {
		return ExtendedFilter{}, err
	}
	if err := checkSlot(slot, ExtendedFilterSlots); err != nil {
		return ExtendedFilter{}, err
	}
	addr := msgram.ExtendedFilterAddr(slot)
	e := msgram.DecodeExtendedFilter(ct.c.ram.Read32(addr), ct.c.ram.Read32(addr+4))
	return extendedFromElement(e), nil
}

// SetGlobalFilter configures what happens to frames no filter matched and
// whether remote frames are rejected.
func (ct *Control) SetGlobalFilter(g GlobalFilter) error {
	return ct.set("set global filter", func() error {
		if g.NonMatchingStandard > RejectNonMatching || g.NonMatchingExtended > RejectNonMatching {
			return fmt.Errorf("%w: unknown non matching policy", ErrInvalidFilter)
		}
		v := ct.c.regs.Read32(regs.RXGFC)
		v = regs.RXGFC_ANFS.Set(v, uint32(g.NonMatchingStandard))
		v = regs.RXGFC_ANFE.Set(v, uint32(g.NonMatchingExtended))
		v &^= regs.RXGFC_RRFS | regs.RXGFC_RRFE
		if g.RejectRemoteStandard {
			v |= regs.RXGFC_RRFS
		}
		if g.RejectRemoteExtended {
			v |= regs.RXGFC_RRFE
		}
		ct.c.regs.Write32(regs.RXGFC, v)
		return nil
	})
}

// SetExtendedIDMask sets the mask ANDed with extended identifiers before
// they are compared against the extended filters.
func (ct *Control) SetExtendedIDMask(mask uint32) error {
	return ct.set("set extended id mask", func() error {
		if mask > MaxExtendedID {
			return &ConfigError{Field: "extended id mask", Value: mask, Max: MaxExtendedID}
		}
		ct.c.regs.Write32(regs.XIDAM, mask)
		return nil
	})
}

// EnableInterrupts enables the interrupt sources in i. Sources already
// enabled are left alone.
func (ct *Control) EnableInterrupts(i Interrupts) error {
	return ct.set("enable interrupts", func() error {
		if i&^AllInterrupts != 0 {
			return &ConfigError{Field: "interrupts", Value: uint32(i), Max: uint32(AllInterrupts)}
		}
		regs.SetBits(ct.c.regs, regs.IE, uint32(i), true)
		ct.mailboxInterrupts(i, true)
		return nil
	})
}

func (ct *Control) DisableInterrupts(i Interrupts) error {
	return ct.set("disable interrupts", func() error {
		regs.SetBits(ct.c.regs, regs.IE, uint32(i&AllInterrupts), false)
		ct.mailboxInterrupts(i, false)
		return nil
	})
}

// mailboxInterrupts keeps the per buffer enables in step with TC and TCF,
// the core only raises those flags for buffers enabled in TXBTIE/TXBCIE.
func (ct *Control) mailboxInterrupts(i Interrupts, on bool) {
	const all = 1<<msgram.TxBufferCount - 1
	if i&TransmissionCompleted != 0 {
		regs.SetBits(ct.c.regs, regs.TXBTIE, all, on)
	}
	if i&TransmissionCancelled != 0 {
		regs.SetBits(ct.c.regs, regs.TXBCIE, all, on)
	}
}

// EnableInterrupt enables a single interrupt source.
func (ct *Control) EnableInterrupt(i Interrupts) error {
	return ct.EnableInterrupts(i)
}

func (ct *Control) DisableInterrupt(i Interrupts) error {
	return ct.DisableInterrupts(i)
}

// EnabledInterrupts returns the interrupt enable register.
func (ct *Control) EnabledInterrupts() (Interrupts, error) {
	if err := ct.c.require(ct.l, "enabled interrupts", nil); err != nil {
		return 0, err
	}
	return Interrupts(ct.c.regs.Read32(regs.IE)), nil
}

// EnableInterruptLine switches one of the two interrupt outputs on or off.
func (ct *Control) EnableInterruptLine(line InterruptLine, on bool) error {
	return ct.set("enable interrupt line", func() error {
		regs.SetBits(ct.c.regs, regs.ILE, line.bit(), on)
		return nil
	})
}

// InterruptFlags returns the raised interrupt flags.
func (ct *Control) InterruptFlags() (Interrupts, error) {
	if err := ct.c.require(ct.l, "interrupt flags", nil); err != nil {
		return 0, err
	}
	return Interrupts(ct.c.regs.Read32(regs.IR)), nil
}

// ClearInterrupts clears the flags in i and leaves the others raised.
func (ct *Control) ClearInterrupts(i Interrupts) error {
	if err := ct.c.require(ct.l, "clear interrupts", nil); err != nil {
		return err
	}
	ct.c.regs.Write32(regs.IR, uint32(i&AllInterrupts))
	return nil
}

// SetTxPinControl drives the TX pin directly. Only available in TestMode.
func (ct *Control) SetTxPinControl(p TxPinControl) error {
	if err := ct.c.require(ct.l, "set tx pin control", inTest); err != nil {
		return err
	}
	if p > TxPinRecessive {
		return &ConfigError{Field: "tx pin control", Value: uint32(p), Max: uint32(TxPinRecessive)}
	}
	regs.Modify(ct.c.regs, regs.TEST, regs.TEST_TX.Mask(), regs.TEST_TX.Set(0, uint32(p)))
	return nil
}

// TxPinControl is the TEST.TX setting.
type TxPinControl uint8

const (
	TxPinCore TxPinControl = iota
	TxPinSamplePoint
	TxPinDominant
	TxPinRecessive
)
