package fdcan

import (
	"errors"
	"fmt"
)

var errForeignPart = errors.New("parts do not come from the same split")

func splittable(m Mode) bool {
	return m.CanTransmit() && m.CanReceive()
}

// Split consumes f and returns independent handles for configuration and
// status, transmit, FIFO 0 and FIFO 1. The transmit and receive handles
// address disjoint parts of the message RAM and may be used from different
// goroutines. Each handle itself must only be used from one goroutine at a
// time.
//
// Split is only allowed in Normal and the two loopback modes. Use Combine to
// get a unified handle back for the next mode transition.
func (f *FdCan) Split() (*Control, *Tx, *Rx, *Rx, error) {
	if err := f.c.require(f.l, "split", splittable); err != nil {
		return nil, nil, nil, nil, err
	}
	f.l.released.Store(true)
	l := &lease{}
	return &Control{c: f.c, l: l}, &Tx{c: f.c, l: l}, &Rx{c: f.c, l: l, fifo: 0}, &Rx{c: f.c, l: l, fifo: 1}, nil
}

// SplitByRef returns the role handles of f without consuming it. They are
// the same handles f itself uses and become invalid together with f.
func (f *FdCan) SplitByRef() (*Control, *Tx, *Rx, *Rx, error) {
	if err := f.c.require(f.l, "split by ref", splittable); err != nil {
		return nil, nil, nil, nil, err
	}
	return f.control, f.tx, f.rx0, f.rx1, nil
}

// Combine consumes the four handles returned by Split and returns the
// unified handle.
func Combine(ct *Control, tx *Tx, rx0, rx1 *Rx) (*FdCan, error) {
	if ct == nil || tx == nil || rx0 == nil || rx1 == nil {
		return nil, fmt.Errorf("combine: %w", errForeignPart)
	}
	l := ct.l
	if tx.l != l || rx0.l != l || rx1.l != l || tx.c != ct.c || rx0.c != ct.c || rx1.c != ct.c {
		return nil, fmt.Errorf("combine: %w", errForeignPart)
	}
	if rx0.fifo != 0 || rx1.fifo != 1 {
		return nil, fmt.Errorf("combine: receive handles swapped")
	}
	if err := ct.c.require(l, "combine", splittable); err != nil {
		return nil, err
	}
	l.released.Store(true)
	return newHandle(ct.c, &lease{}), nil
}
