package fdcan

import (
	"github.com/roffe/fdcan/pkg/msgram"
	"github.com/roffe/fdcan/pkg/regs"
)

// ReceiveOverrun carries the result of a receive together with the message
// lost flag of the FIFO.
//
// Overrun means at least one frame was dropped because the FIFO was full
// since the last time the flag was reported. It does not tell whether the
// dropped frame came before or after Value.
//
// Reporting an overrun clears the FIFO's message lost interrupt flag
// (RxFIFO0MessageLost or RxFIFO1MessageLost). An interrupt handler that
// needs the flag must read InterruptFlags before receiving.
type ReceiveOverrun[T any] struct {
	Value   T
	Overrun bool
}

// Unwrap returns the value regardless of the overrun flag.
func (r ReceiveOverrun[T]) Unwrap() T {
	return r.Value
}

// Rx is one of the two receive FIFOs.
type Rx struct {
	c    *core
	l    *lease
	fifo int
}

// FIFO returns the FIFO number, 0 or 1.
func (rx *Rx) FIFO() int {
	return rx.fifo
}

// FillLevel returns the number of frames waiting in the FIFO.
func (rx *Rx) FillLevel() (int, error) {
	if err := rx.c.require(rx.l, "fill level", nil); err != nil {
		return 0, err
	}
	return int(regs.RXFS_FL.Get(rx.c.regs.Read32(regs.RxFIFOStatus(rx.fifo)))), nil
}

// Receive pops the oldest frame of rx and returns what fn made of it. The
// payload slice holds exactly info.Len bytes, none for remote frames, and
// is only valid during fn. A nil fn drops the frame and Value is the zero T.
//
// ErrWouldBlock is returned without touching the FIFO when it is empty.
func Receive[T any](rx *Rx, fn func(RxFrameInfo, []byte) T) (ReceiveOverrun[T], error) {
	var zero ReceiveOverrun[T]
	if err := rx.c.require(rx.l, "receive", Mode.CanReceive); err != nil {
		return zero, err
	}
	status := regs.RxFIFOStatus(rx.fifo)
	s := rx.c.regs.Read32(status)
	if regs.RXFS_FL.Get(s) == 0 {
		return zero, ErrWouldBlock
	}

	gi := regs.RXFS_GI.Get(s)
	addr := msgram.RxElementAddr(rx.fifo, int(gi))
	e := msgram.Header{W0: rx.c.ram.Read32(addr), W1: rx.c.ram.Read32(addr + 4)}
	info := rxInfoFromElement(e)

	n := info.Len
	if info.RTR {
		n = 0
	}
	var v T
	if fn != nil {
		var words [msgram.DataWords]uint32
		for i := 0; i < msgram.Words(n); i++ {
			words[i] = rx.c.ram.Read32(addr + 8 + uint32(i)*4)
		}
		var buf [64]byte
		v = fn(info, msgram.Bytes(buf[:], words[:], n))
	}

	rx.c.regs.Write32(regs.RxFIFOAck(rx.fifo), regs.RXFA_AI.Set(0, gi))

	out := ReceiveOverrun[T]{Value: v}
	if regs.RXFS_L.Get(rx.c.regs.Read32(status)) != 0 {
		out.Overrun = true
		rx.c.regs.Write32(regs.IR, regs.RxFIFOLost(rx.fifo))
	}
	return out, nil
}

// Receive reads one frame and passes it to fn.
func (rx *Rx) Receive(fn func(RxFrameInfo, []byte)) (ReceiveOverrun[RxFrameInfo], error) {
	return receiveInfo(rx, fn)
}

// ReceiveFrame reads one frame as a Frame. The bool reports an overrun.
func (rx *Rx) ReceiveFrame() (*Frame, bool, error) {
	r, err := Receive(rx, frameFromInfo)
	if err != nil {
		return nil, false, err
	}
	return r.Value, r.Overrun, nil
}
