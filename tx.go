package fdcan

import (
	"fmt"

	"github.com/roffe/fdcan/pkg/msgram"
	"github.com/roffe/fdcan/pkg/regs"
)

// Mailbox is one of the three TX buffers.
type Mailbox int

const (
	Mailbox0 Mailbox = iota
	Mailbox1
	Mailbox2
)

const mailboxCount = Mailbox(msgram.TxBufferCount)

func (mb Mailbox) bit() uint32 {
	return 1 << uint(mb)
}

func (mb Mailbox) String() string {
	return fmt.Sprintf("mailbox %d", int(mb))
}

// Transmission is the outcome of a successful Transmit.
type Transmission struct {
	Mailbox Mailbox
	// Displaced is set when a pending frame of lower priority was removed
	// from Mailbox to make room. It is not set when the frame went out
	// before the cancellation took effect.
	Displaced bool
}

// Tx is the transmit half of the peripheral. It owns the three TX buffers
// and the TX event FIFO.
type Tx struct {
	c *core
	l *lease
}

// WriteBytes returns a payload writer packing data into the element words.
// Bytes beyond the frame length are dropped.
func WriteBytes(data []byte) func([]uint32) {
	return func(words []uint32) {
		if n := len(words) * 4; len(data) > n {
			msgram.PutBytes(words, data[:n])
			return
		}
		msgram.PutBytes(words, data)
	}
}

// Transmit queues a frame. write receives exactly ceil(h.Len/4) zeroed words
// to fill with the payload, little endian.
//
// When all three mailboxes are occupied the first mailbox, in index order,
// holding a frame that would lose arbitration against the new one is
// cancelled and reused. Frames of equal or higher priority are never
// displaced; if every mailbox holds one, ErrWouldBlock is returned and the
// caller should try again later.
func (t *Tx) Transmit(h TxFrameHeader, write func([]uint32)) (Transmission, error) {
	return t.transmit(h, write, nil)
}

// TransmitPreserve is like Transmit, but when a pending frame is displaced
// its header and payload words are passed to pending before the mailbox is
// overwritten.
func (t *Tx) TransmitPreserve(h TxFrameHeader, write func([]uint32), pending func(Mailbox, TxFrameHeader, []uint32)) (Transmission, error) {
	return t.transmit(h, write, pending)
}

// TransmitFrame queues fr.
func (t *Tx) TransmitFrame(fr *Frame) (Transmission, error) {
	return t.transmit(fr.Header(), WriteBytes(fr.Data), nil)
}

func (t *Tx) transmit(h TxFrameHeader, write func([]uint32), pending func(Mailbox, TxFrameHeader, []uint32)) (Transmission, error) {
	if err := t.c.require(t.l, "transmit", Mode.CanTransmit); err != nil {
		return Transmission{}, err
	}
	if err := h.Validate(); err != nil {
		return Transmission{}, err
	}
	elem := h.element()

	fqs := t.c.regs.Read32(regs.TXFQS)
	if regs.TXFQS_TFQF.Get(fqs) == 0 {
		mb := Mailbox(regs.TXFQS_TFQPI.Get(fqs))
		t.put(mb, elem, h.Len, write)
		return Transmission{Mailbox: mb}, nil
	}

	key := elem.ArbitrationKey()
	brp := t.c.regs.Read32(regs.TXBRP)
	for mb := Mailbox(0); mb < mailboxCount; mb++ {
		if brp&mb.bit() == 0 {
			t.put(mb, elem, h.Len, write)
			return Transmission{Mailbox: mb}, nil
		}
		old := t.header(mb)
		if old.ArbitrationKey() <= key {
			continue
		}
		var words []uint32
		if pending != nil {
			words = t.data(mb, old.Len())
		}
		won, err := t.cancel(mb)
		if err != nil {
			return Transmission{}, err
		}
		if won && pending != nil {
			pending(mb, txHeaderFromElement(old), words)
		}
		t.put(mb, elem, h.Len, write)
		return Transmission{Mailbox: mb, Displaced: won}, nil
	}
	return Transmission{}, ErrWouldBlock
}

func (t *Tx) header(mb Mailbox) msgram.Header {
	addr := msgram.TxBufferAddr(int(mb))
	return msgram.Header{W0: t.c.ram.Read32(addr), W1: t.c.ram.Read32(addr + 4)}
}

func (t *Tx) data(mb Mailbox, n int) []uint32 {
	addr := msgram.TxBufferAddr(int(mb)) + 8
	words := make([]uint32, msgram.Words(n))
	for i := range words {
		words[i] = t.c.ram.Read32(addr + uint32(i)*4)
	}
	return words
}

// put writes the element into mb and requests transmission.
func (t *Tx) put(mb Mailbox, e msgram.Header, n int, write func([]uint32)) {
	var buf [msgram.DataWords]uint32
	words := buf[:msgram.Words(n)]
	if write != nil {
		write(words)
	}
	addr := msgram.TxBufferAddr(int(mb))
	t.c.ram.Write32(addr, e.W0)
	t.c.ram.Write32(addr+4, e.W1)
	for i, w := range words {
		t.c.ram.Write32(addr+8+uint32(i)*4, w)
	}
	t.c.regs.Write32(regs.TXBAR, mb.bit())
}

// cancel requests cancellation of mb and waits for it to finish. won is
// false when the frame was transmitted anyway.
func (t *Tx) cancel(mb Mailbox) (won bool, err error) {
	bit := mb.bit()
	t.c.regs.Write32(regs.TXBCR, bit)
	if err := t.c.wait.Wait("cancellation", func() bool {
		return t.c.regs.Read32(regs.TXBCF)&bit != 0
	}); err != nil {
		return false, err
	}
	return t.c.regs.Read32(regs.TXBTO)&bit == 0, nil
}

// Abort cancels the frame pending in mb. It returns true if the frame was
// removed before it was sent and false if it had already gone out or no
// frame was pending.
func (t *Tx) Abort(mb Mailbox) (bool, error) {
	if err := t.c.require(t.l, "abort", Mode.CanTransmit); err != nil {
		return false, err
	}
	if mb < 0 || mb >= mailboxCount {
		return false, fmt.Errorf("abort: no %s", mb)
	}
	if t.c.regs.Read32(regs.TXBRP)&mb.bit() == 0 {
		return false, nil
	}
	return t.cancel(mb)
}

// IsIdle reports whether no mailbox holds a pending frame.
func (t *Tx) IsIdle() (bool, error) {
	if err := t.c.require(t.l, "is idle", nil); err != nil {
		return false, err
	}
	return t.c.regs.Read32(regs.TXBRP) == 0, nil
}

// ClearRequestCompletedFlag is not available on FDCAN, which has no per
// mailbox request completed flag.
func (t *Tx) ClearRequestCompletedFlag(Mailbox) error {
	return ErrUnsupported
}

// ClearTxInterrupt clears the transmission completed and cancellation
// finished interrupt flags.
func (t *Tx) ClearTxInterrupt() error {
	if err := t.c.require(t.l, "clear tx interrupt", nil); err != nil {
		return err
	}
	t.c.regs.Write32(regs.IR, regs.IR_TC|regs.IR_TCF)
	return nil
}

// TxEvent pops one entry from the TX event FIFO. Entries are only stored
// for frames sent with TxFrameHeader.StoreTxEvent.
func (t *Tx) TxEvent() (TxEvent, error) {
	if err := t.c.require(t.l, "tx event", nil); err != nil {
		return TxEvent{}, err
	}
	s := t.c.regs.Read32(regs.TXEFS)
	if regs.TXEFS_EFFL.Get(s) == 0 {
		return TxEvent{}, ErrWouldBlock
	}
	gi := regs.TXEFS_EFGI.Get(s)
	addr := msgram.TxEventAddr(int(gi))
	e := msgram.Header{W0: t.c.ram.Read32(addr), W1: t.c.ram.Read32(addr + 4)}
	t.c.regs.Write32(regs.TXEFA, regs.TXEFA_EFAI.Set(0, gi))

	ev := TxEvent{
		ID:               Identifier{id: e.ID(), extended: e.XTD()},
		Len:              e.Len(),
		BitRateSwitching: e.BRS(),
		Marker:           e.MM(),
		Timestamp:        e.Timestamp(),
		Cancelled:        e.EventType() == msgram.EventSentDespiteCancel,
	}
	if e.FDF() {
		ev.FrameFormat = FD
	}
	return ev, nil
}
