package fdcan

import (
	"fmt"

	"github.com/albenik/bcd"
	"github.com/roffe/fdcan/pkg/regs"
)

// ErrorCounters is a snapshot of ECR.
type ErrorCounters struct {
	Transmit uint8
	Receive  uint8
	// ReceivePassive is set once the receive error counter reached the
	// error passive level of 128.
	ReceivePassive bool
	// Logging counts error counter increments since the last read. The
	// hardware clears it when ECR is read.
	Logging uint8
}

func (e ErrorCounters) String() string {
	return fmt.Sprintf("tec=%d rec=%d passive=%t cel=%d", e.Transmit, e.Receive, e.ReceivePassive, e.Logging)
}

// ErrorCounters reads the error counters. Works in every mode.
func (ct *Control) ErrorCounters() (ErrorCounters, error) {
	if err := ct.c.require(ct.l, "error counters", nil); err != nil {
		return ErrorCounters{}, err
	}
	v := ct.c.regs.Read32(regs.ECR)
	return ErrorCounters{
		Transmit:       uint8(regs.ECR_TEC.Get(v)),
		Receive:        uint8(regs.ECR_REC.Get(v)),
		ReceivePassive: regs.ECR_RP.Get(v) != 0,
		Logging:        uint8(regs.ECR_CEL.Get(v)),
	}, nil
}

// Timestamp reads the timestamp counter. It reads zero unless a timestamp
// source is configured.
func (ct *Control) Timestamp() (uint16, error) {
	if err := ct.c.require(ct.l, "timestamp", nil); err != nil {
		return 0, err
	}
	return uint16(regs.TSCV_TSC.Get(ct.c.regs.Read32(regs.TSCV))), nil
}

// ResetTimestamp sets the internal timestamp counter to zero.
func (ct *Control) ResetTimestamp() error {
	if err := ct.c.require(ct.l, "reset timestamp", nil); err != nil {
		return err
	}
	ct.c.regs.Write32(regs.TSCV, 0)
	return nil
}

// LastErrorCode is the type of the last error seen on the bus.
type LastErrorCode uint8

const (
	NoError LastErrorCode = iota
	StuffError
	FormError
	AckError
	Bit1Error
	Bit0Error
	CRCError
	NoChange
)

func (c LastErrorCode) String() string {
	switch c {
	case NoError:
		return "no error"
	case StuffError:
		return "stuff error"
	case FormError:
		return "form error"
	case AckError:
		return "ack error"
	case Bit1Error:
		return "bit1 error"
	case Bit0Error:
		return "bit0 error"
	case CRCError:
		return "crc error"
	case NoChange:
		return "no change"
	}
	return "unknown"
}

// Activity is what the protocol engine is doing.
type Activity uint8

const (
	Synchronizing Activity = iota
	Idle
	Receiver
	Transmitter
)

func (a Activity) String() string {
	switch a {
	case Synchronizing:
		return "synchronizing"
	case Idle:
		return "idle"
	case Receiver:
		return "receiver"
	case Transmitter:
		return "transmitter"
	}
	return "unknown"
}

// ProtocolStatus is a snapshot of PSR. Reading it resets the last error
// codes to NoChange.
type ProtocolStatus struct {
	LastError     LastErrorCode
	DataLastError LastErrorCode
	Activity      Activity
	ErrorPassive  bool
	Warning       bool
	BusOff        bool
}

func (p ProtocolStatus) String() string {
	return fmt.Sprintf("lec=%s dlec=%s act=%s ep=%t ew=%t bo=%t",
		p.LastError, p.DataLastError, p.Activity, p.ErrorPassive, p.Warning, p.BusOff)
}

func (ct *Control) ProtocolStatus() (ProtocolStatus, error) {
	if err := ct.c.require(ct.l, "protocol status", nil); err != nil {
		return ProtocolStatus{}, err
	}
	v := ct.c.regs.Read32(regs.PSR)
	return ProtocolStatus{
		LastError:     LastErrorCode(regs.PSR_LEC.Get(v)),
		DataLastError: LastErrorCode(regs.PSR_DLEC.Get(v)),
		Activity:      Activity(regs.PSR_ACT.Get(v)),
		ErrorPassive:  regs.PSR_EP.Get(v) != 0,
		Warning:       regs.PSR_EW.Get(v) != 0,
		BusOff:        regs.PSR_BO.Get(v) != 0,
	}, nil
}

// CoreRelease is the decoded CREL register.
type CoreRelease struct {
	Release uint8
	Step    uint8
	SubStep uint8
	Year    int
	Month   uint8
	Day     uint8
}

func (r CoreRelease) String() string {
	return fmt.Sprintf("%d.%d.%d %04d-%02d-%02d", r.Release, r.Step, r.SubStep, r.Year, r.Month, r.Day)
}

// DecodeCoreRelease decodes a CREL value. Every field is BCD coded.
func DecodeCoreRelease(v uint32) CoreRelease {
	return CoreRelease{
		Release: bcd.ToUint8(byte(regs.CREL_REL.Get(v))),
		Step:    bcd.ToUint8(byte(regs.CREL_STEP.Get(v))),
		SubStep: bcd.ToUint8(byte(regs.CREL_SUB.Get(v))),
		Year:    2010 + int(bcd.ToUint8(byte(regs.CREL_YEAR.Get(v)))),
		Month:   bcd.ToUint8(byte(regs.CREL_MON.Get(v))),
		Day:     bcd.ToUint8(byte(regs.CREL_DAY.Get(v))),
	}
}

// CoreRelease reads the core release register.
func (ct *Control) CoreRelease() (CoreRelease, error) {
	if err := ct.c.require(ct.l, "core release", nil); err != nil {
		return CoreRelease{}, err
	}
	return DecodeCoreRelease(ct.c.regs.Read32(regs.CREL)), nil
}
