package regs

import (
	"context"
	"log/slog"
)

// LogOption selects which accesses a logged bus reports.
type LogOption uint8

const (
	LogNone  LogOption = 0
	LogRead  LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedBus wraps inner and logs every selected access at level. Names
// maps offsets to register names; offsets without a name are logged as raw
// numbers. Pass nil to log raw offsets only.
func NewLoggedBus(inner Bus, logger *slog.Logger, level slog.Level, opts LogOption, names map[uint32]string) Bus {
	return &loggedBus{
		inner:  inner,
		logger: logger,
		level:  level,
		opts:   opts,
		names:  names,
	}
}

type loggedBus struct {
	inner  Bus
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
	names  map[uint32]string
}

func (l *loggedBus) Read32(offset uint32) uint32 {
	v := l.inner.Read32(offset)
	if l.opts&LogRead != 0 {
		l.logger.Log(context.Background(), l.level, "read",
			"reg", l.name(offset),
			"offset", offset,
			"value", v,
		)
	}
	return v
}

func (l *loggedBus) Write32(offset uint32, value uint32) {
	if l.opts&LogWrite != 0 {
		l.logger.Log(context.Background(), l.level, "write",
			"reg", l.name(offset),
			"offset", offset,
			"value", value,
		)
	}
	l.inner.Write32(offset, value)
}

func (l *loggedBus) name(offset uint32) string {
	if n, ok := l.names[offset]; ok {
		return n
	}
	return ""
}

// Names maps every register offset of the FDCAN block to its mnemonic.
var Names = map[uint32]string{
	CREL: "CREL", ENDN: "ENDN", DBTP: "DBTP", TEST: "TEST", RWD: "RWD",
	CCCR: "CCCR", NBTP: "NBTP", TSCC: "TSCC", TSCV: "TSCV", TOCC: "TOCC",
	TOCV: "TOCV", ECR: "ECR", PSR: "PSR", TDCR: "TDCR", IR: "IR", IE: "IE",
	ILS: "ILS", ILE: "ILE", RXGFC: "RXGFC", XIDAM: "XIDAM", HPMS: "HPMS",
	RXF0S: "RXF0S", RXF0A: "RXF0A", RXF1S: "RXF1S", RXF1A: "RXF1A",
	TXBC: "TXBC", TXFQS: "TXFQS", TXBRP: "TXBRP", TXBAR: "TXBAR",
	TXBCR: "TXBCR", TXBTO: "TXBTO", TXBCF: "TXBCF", TXBTIE: "TXBTIE",
	TXBCIE: "TXBCIE", TXEFS: "TXEFS", TXEFA: "TXEFA", CKDIV: "CKDIV",
}

// NewLoggedInstance logs every selected register access of inst. Message RAM
// accesses are not logged. The result still enables inst when inst is an
// Enabler.
func NewLoggedInstance(inst Instance, logger *slog.Logger, level slog.Level, opts LogOption) Instance {
	return &loggedInstance{
		Instance: inst,
		reg:      NewLoggedBus(inst.Registers(), logger, level, opts, Names),
	}
}

type loggedInstance struct {
	Instance
	reg Bus
}

func (l *loggedInstance) Registers() Bus {
	return l.reg
}

func (l *loggedInstance) Enable() {
	if e, ok := l.Instance.(Enabler); ok {
		e.Enable()
	}
}
