package fdcan

import "github.com/roffe/fdcan/pkg/regs"

// NominalBitTiming configures the arbitration phase bit timing. The values
// are programmed as is; the hardware uses one more than each value.
type NominalBitTiming struct {
	Prescaler     uint16 // 0-511
	Seg1          uint8  // 0-255
	Seg2          uint8  // 0-127
	SyncJumpWidth uint8  // 0-127
}

// DataBitTiming configures the data phase bit timing of frames sent with
// bit rate switching. The values are programmed as is; the hardware uses one
// more than each value.
type DataBitTiming struct {
	TransceiverDelayCompensation bool
	Prescaler                    uint8 // 0-31
	Seg1                         uint8 // 0-31
	Seg2                         uint8 // 0-15
	SyncJumpWidth                uint8 // 0-15
}

// FrameTransmit selects which frame formats the peripheral may send.
type FrameTransmit int

const (
	ClassicCanOnly FrameTransmit = iota
	AllowFdCan
	AllowFdCanAndBRS
)

func (f FrameTransmit) String() string {
	switch f {
	case ClassicCanOnly:
		return "classic"
	case AllowFdCan:
		return "fd"
	case AllowFdCanAndBRS:
		return "fd+brs"
	default:
		return "unknown"
	}
}

// ClockDivider divides the kernel clock before it reaches the core. Value
// 0 is /1, every other value n divides by 2n.
type ClockDivider uint8

const (
	Div1 ClockDivider = iota
	Div2
	Div4
	Div6
	Div8
	Div10
	Div12
	Div14
	Div16
	Div18
	Div20
	Div22
	Div24
	Div26
	Div28
	Div30
)

// Divisor returns the division factor.
func (d ClockDivider) Divisor() int {
	if d == 0 {
		return 1
	}
	return int(d) * 2
}

// TimestampKind selects where the timestamp counter takes its ticks from.
type TimestampKind int

const (
	TimestampNone TimestampKind = iota
	TimestampInternal
	TimestampExternal
)

// TimestampSource configures the timestamp counter. Prescaler (1-16) is
// the number of nominal bit times per tick and is only used with
// TimestampInternal.
type TimestampSource struct {
	Kind      TimestampKind
	Prescaler uint8
}

// Config is the full configuration snapshot. It is written to the
// peripheral in its entirety every time it leaves ConfigMode.
type Config struct {
	NominalBitTiming NominalBitTiming
	DataBitTiming    DataBitTiming
	// AutomaticRetransmit retries frames that lost arbitration or were
	// disturbed by errors.
	AutomaticRetransmit bool
	// TransmitPause inserts two recessive bits after each successful frame.
	TransmitPause bool
	FrameTransmit FrameTransmit
	// NonISOMode selects the Bosch CAN FD v1.0 frame format.
	NonISOMode    bool
	EdgeFiltering bool
	// ProtocolExceptionHandling enters bus integration state on a protocol
	// exception instead of signalling a form error.
	ProtocolExceptionHandling bool
	ClockDivider              ClockDivider
	// InterruptLineConfig routes every interrupt whose bit is set to line 1,
	// the rest to line 0.
	InterruptLineConfig Interrupts
	TimestampSource     TimestampSource
}

// DefaultConfig returns the reset configuration.
func DefaultConfig() Config {
	return Config{
		NominalBitTiming: NominalBitTiming{
			Prescaler:     0,
			Seg1:          0xA,
			Seg2:          0x3,
			SyncJumpWidth: 0x3,
		},
		DataBitTiming: DataBitTiming{
			Prescaler:     0,
			Seg1:          0xA,
			Seg2:          0x3,
			SyncJumpWidth: 0x3,
		},
		FrameTransmit:             ClassicCanOnly,
		ProtocolExceptionHandling: true,
		ClockDivider:              Div1,
		TimestampSource:           TimestampSource{Kind: TimestampNone},
	}
}

func checkField(name string, v uint32, f regs.Field) error {
	if v > f.Max() {
		return &ConfigError{Field: name, Value: v, Max: f.Max()}
	}
	return nil
}

func (t NominalBitTiming) Validate() error {
	if err := checkField("nominal prescaler", uint32(t.Prescaler), regs.NBTP_NBRP); err != nil {
		return err
	}
	if err := checkField("nominal seg2", uint32(t.Seg2), regs.NBTP_NTSEG2); err != nil {
		return err
	}
	return checkField("nominal sync jump width", uint32(t.SyncJumpWidth), regs.NBTP_NSJW)
}

func (t NominalBitTiming) encode() uint32 {
	v := regs.NBTP_NBRP.Set(0, uint32(t.Prescaler))
	v = regs.NBTP_NTSEG1.Set(v, uint32(t.Seg1))
	v = regs.NBTP_NTSEG2.Set(v, uint32(t.Seg2))
	return regs.NBTP_NSJW.Set(v, uint32(t.SyncJumpWidth))
}

func decodeNominal(v uint32) NominalBitTiming {
	return NominalBitTiming{
		Prescaler:     uint16(regs.NBTP_NBRP.Get(v)),
		Seg1:          uint8(regs.NBTP_NTSEG1.Get(v)),
		Seg2:          uint8(regs.NBTP_NTSEG2.Get(v)),
		SyncJumpWidth: uint8(regs.NBTP_NSJW.Get(v)),
	}
}

func (t DataBitTiming) Validate() error {
	for _, c := range []struct {
		name string
		v    uint8
		f    regs.Field
	}{
		{"data prescaler", t.Prescaler, regs.DBTP_DBRP},
		{"data seg1", t.Seg1, regs.DBTP_DTSEG1},
		{"data seg2", t.Seg2, regs.DBTP_DTSEG2},
		{"data sync jump width", t.SyncJumpWidth, regs.DBTP_DSJW},
	} {
		if err := checkField(c.name, uint32(c.v), c.f); err != nil {
			return err
		}
	}
	return nil
}

func (t DataBitTiming) encode() uint32 {
	var v uint32
	if t.TransceiverDelayCompensation {
		v = regs.DBTP_TDC.Set(v, 1)
	}
	v = regs.DBTP_DBRP.Set(v, uint32(t.Prescaler))
	v = regs.DBTP_DTSEG1.Set(v, uint32(t.Seg1))
	v = regs.DBTP_DTSEG2.Set(v, uint32(t.Seg2))
	return regs.DBTP_DSJW.Set(v, uint32(t.SyncJumpWidth))
}

func decodeData(v uint32) DataBitTiming {
	return DataBitTiming{
		TransceiverDelayCompensation: regs.DBTP_TDC.Get(v) != 0,
		Prescaler:                    uint8(regs.DBTP_DBRP.Get(v)),
		Seg1:                         uint8(regs.DBTP_DTSEG1.Get(v)),
		Seg2:                         uint8(regs.DBTP_DTSEG2.Get(v)),
		SyncJumpWidth:                uint8(regs.DBTP_DSJW.Get(v)),
	}
}

func (f FrameTransmit) Validate() error {
	if f < ClassicCanOnly || f > AllowFdCanAndBRS {
		return &ConfigError{Field: "frame transmit", Value: uint32(f), Max: uint32(AllowFdCanAndBRS)}
	}
	return nil
}

func (d ClockDivider) Validate() error {
	return checkField("clock divider", uint32(d), regs.CKDIV_PDIV)
}

func (s TimestampSource) Validate() error {
	switch s.Kind {
	case TimestampNone, TimestampExternal:
		return nil
	case TimestampInternal:
		if s.Prescaler < 1 || s.Prescaler > 16 {
			return &ConfigError{Field: "timestamp prescaler", Value: uint32(s.Prescaler), Max: 16}
		}
		return nil
	}
	return &ConfigError{Field: "timestamp source", Value: uint32(s.Kind), Max: uint32(TimestampExternal)}
}

func (s TimestampSource) encode() uint32 {
	switch s.Kind {
	case TimestampInternal:
		v := regs.TSCC_TSS.Set(0, 1)
		return regs.TSCC_TCP.Set(v, uint32(s.Prescaler)-1)
	case TimestampExternal:
		return regs.TSCC_TSS.Set(0, 2)
	}
	return 0
}

// Validate checks every field of the snapshot.
func (c Config) Validate() error {
	if err := c.NominalBitTiming.Validate(); err != nil {
		return err
	}
	if err := c.DataBitTiming.Validate(); err != nil {
		return err
	}
	if err := c.FrameTransmit.Validate(); err != nil {
		return err
	}
	if err := c.ClockDivider.Validate(); err != nil {
		return err
	}
	if c.InterruptLineConfig&^AllInterrupts != 0 {
		return &ConfigError{Field: "interrupt line config", Value: uint32(c.InterruptLineConfig), Max: uint32(AllInterrupts)}
	}
	return c.TimestampSource.Validate()
}

// cccrConfigMask covers the CCCR bits owned by the configuration snapshot.
const cccrConfigMask = regs.CCCR_DAR | regs.CCCR_TXP | regs.CCCR_NISO |
	regs.CCCR_EFBI | regs.CCCR_PXHD | regs.CCCR_FDOE | regs.CCCR_BRSE

func (c Config) cccrBits() uint32 {
	var v uint32
	if !c.AutomaticRetransmit {
		v |= regs.CCCR_DAR
	}
	if c.TransmitPause {
		v |= regs.CCCR_TXP
	}
	if c.NonISOMode {
		v |= regs.CCCR_NISO
	}
	if c.EdgeFiltering {
		v |= regs.CCCR_EFBI
	}
	if !c.ProtocolExceptionHandling {
		v |= regs.CCCR_PXHD
	}
	switch c.FrameTransmit {
	case AllowFdCan:
		v |= regs.CCCR_FDOE
	case AllowFdCanAndBRS:
		v |= regs.CCCR_FDOE | regs.CCCR_BRSE
	}
	return v
}

// writeConfig programs every register the snapshot owns. The peripheral
// must be in initialization with CCE set.
func writeConfig(r regs.Bus, c Config) {
	r.Write32(regs.NBTP, c.NominalBitTiming.encode())
	r.Write32(regs.DBTP, c.DataBitTiming.encode())
	regs.Modify(r, regs.CCCR, cccrConfigMask, c.cccrBits())
	regs.Modify(r, regs.CKDIV, regs.CKDIV_PDIV.Mask(), uint32(c.ClockDivider))
	r.Write32(regs.ILS, uint32(c.InterruptLineConfig))
	r.Write32(regs.TSCC, c.TimestampSource.encode())
}
