package fdcan

import (
	"strings"

	"github.com/roffe/fdcan/pkg/regs"
)

// Interrupts is a set of interrupt sources. The bit layout matches IR, IE
// and ILS.
type Interrupts uint32

const (
	RxFIFO0NewMessage        = Interrupts(regs.IR_RF0N)
	RxFIFO0Full              = Interrupts(regs.IR_RF0F)
	RxFIFO0MessageLost       = Interrupts(regs.IR_RF0L)
	RxFIFO1NewMessage        = Interrupts(regs.IR_RF1N)
	RxFIFO1Full              = Interrupts(regs.IR_RF1F)
	RxFIFO1MessageLost       = Interrupts(regs.IR_RF1L)
	HighPriorityMessage      = Interrupts(regs.IR_HPM)
	TransmissionCompleted    = Interrupts(regs.IR_TC)
	TransmissionCancelled    = Interrupts(regs.IR_TCF)
	TxFIFOEmpty              = Interrupts(regs.IR_TFE)
	TxEventFIFONewEntry      = Interrupts(regs.IR_TEFN)
	TxEventFIFOFull          = Interrupts(regs.IR_TEFF)
	TxEventFIFOElementLost   = Interrupts(regs.IR_TEFL)
	TimestampWraparound      = Interrupts(regs.IR_TSW)
	MessageRAMAccessFailure  = Interrupts(regs.IR_MRAF)
	TimeoutOccurred          = Interrupts(regs.IR_TOO)
	ErrorLoggingOverflow     = Interrupts(regs.IR_ELO)
	ErrorPassive             = Interrupts(regs.IR_EP)
	WarningStatus            = Interrupts(regs.IR_EW)
	BusOff                   = Interrupts(regs.IR_BO)
	Watchdog                 = Interrupts(regs.IR_WDI)
	ProtocolErrorArbitration = Interrupts(regs.IR_PEA)
	ProtocolErrorData        = Interrupts(regs.IR_PED)
	AccessReservedAddress    = Interrupts(regs.IR_ARA)

	AllInterrupts = Interrupts(regs.IR_ALL)
)

var interruptNames = []string{
	"RF0N", "RF0F", "RF0L", "RF1N", "RF1F", "RF1L", "HPM", "TC",
	"TCF", "TFE", "TEFN", "TEFF", "TEFL", "TSW", "MRAF", "TOO",
	"ELO", "EP", "EW", "BO", "WDI", "PEA", "PED", "ARA",
}

// Has reports whether every interrupt in i is set in s.
func (s Interrupts) Has(i Interrupts) bool {
	return s&i == i
}

func (s Interrupts) String() string {
	if s == 0 {
		return "none"
	}
	var names []string
	for n, name := range interruptNames {
		if s&(1<<n) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// InterruptLine selects one of the two interrupt outputs.
type InterruptLine int

const (
	Line0 InterruptLine = iota
	Line1
)

func (l InterruptLine) bit() uint32 {
	if l == Line1 {
		return regs.ILE_EINT1
	}
	return regs.ILE_EINT0
}
