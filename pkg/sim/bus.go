package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roffe/fdcan/pkg/msgram"
	"github.com/roffe/fdcan/pkg/regs"
)

// Bus connects several simulated peripherals. Every Step runs one
// arbitration round: the pending frame with the highest priority across all
// nodes is transmitted and delivered to every other listening node.
type Bus struct {
	mu    sync.Mutex
	nodes []*Peripheral
}

func NewBus() *Bus {
	return &Bus{}
}

// Attach connects p to the bus. A peripheral can be attached to one bus.
func (b *Bus) Attach(p *Peripheral) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus != nil {
		return fmt.Errorf("peripheral already attached to a bus")
	}
	p.bus = b
	b.nodes = append(b.nodes, p)
	return nil
}

// Step runs one arbitration round and reports whether a frame was sent.
func (b *Bus) Step() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var winner *Peripheral
	var winMB int
	var winKey uint32
	for _, n := range b.nodes {
		n.mu.Lock()
		mb, key, ok := n.nextLocked()
		n.mu.Unlock()
		if ok && (winner == nil || key < winKey) {
			winner, winMB, winKey = n, mb, key
		}
	}
	if winner == nil {
		return false
	}

	winner.mu.Lock()
	f := winner.frameLocked(winMB)
	internal := winner.internalLoopbackLocked()
	acked := winner.loopbackLocked()
	winner.mu.Unlock()

	if !internal {
		for _, n := range b.nodes {
			if n == winner {
				continue
			}
			n.mu.Lock()
			if n.listeningLocked() {
				n.receiveLocked(f)
				if n.acksLocked() {
					acked = true
				}
			}
			n.mu.Unlock()
		}
	}

	winner.mu.Lock()
	defer winner.mu.Unlock()
	if !acked {
		winner.ackErrorLocked(winMB)
		return true
	}
	winner.completeLocked(winMB, f)
	if winner.loopbackLocked() {
		winner.receiveLocked(f)
	}
	return true
}

// Flush steps until no node has a frame it can send or max rounds passed.
// It returns the number of rounds that sent a frame.
func (b *Bus) Flush(max int) int {
	n := 0
	for n < max && b.Step() {
		n++
	}
	return n
}

// Run steps the bus every interval until ctx is done.
func (b *Bus) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			for b.Step() {
			}
		}
	}
}

// Step sends the highest priority pending frame of p. A peripheral attached
// to a Bus runs a full arbitration round on that bus instead. A stand alone
// peripheral behaves as if an ideal receiver acknowledged every frame.
func (p *Peripheral) Step() bool {
	p.mu.Lock()
	bus := p.bus
	if bus != nil {
		p.mu.Unlock()
		return bus.Step()
	}
	defer p.mu.Unlock()
	mb, _, ok := p.nextLocked()
	if !ok {
		return false
	}
	f := p.frameLocked(mb)
	p.completeLocked(mb, f)
	if p.loopbackLocked() {
		p.receiveLocked(f)
	}
	return true
}

// Flush steps p until nothing is left to send or max frames went out.
func (p *Peripheral) Flush(max int) int {
	n := 0
	for n < max && p.Step() {
		n++
	}
	return n
}

// Run flushes p every interval until ctx is done.
func (p *Peripheral) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			for p.Step() {
			}
		}
	}
}

// Inject delivers f to p as if another node had sent it.
func (p *Peripheral) Inject(f Frame) error {
	if !msgram.ValidLen(len(f.Data)) || (!f.FD && len(f.Data) > 8) {
		return fmt.Errorf("%w: %d data bytes", ErrInvalidFrame, len(f.Data))
	}
	if (f.Extended && f.ID > 0x1FFFFFFF) || (!f.Extended && f.ID > 0x7FF) {
		return fmt.Errorf("%w: identifier %X out of range", ErrInvalidFrame, f.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.listeningLocked() {
		return nil
	}
	p.receiveLocked(f)
	return nil
}

func (p *Peripheral) modeBitsLocked() (test, mon, lbck bool) {
	test = p.cccr&regs.CCCR_TEST != 0
	mon = p.cccr&regs.CCCR_MON != 0
	lbck = test && p.reg[regs.TEST/4]&regs.TEST_LBCK != 0
	return
}

func (p *Peripheral) loopbackLocked() bool {
	_, _, lbck := p.modeBitsLocked()
	return lbck
}

func (p *Peripheral) internalLoopbackLocked() bool {
	_, mon, lbck := p.modeBitsLocked()
	return lbck && mon
}

func (p *Peripheral) listeningLocked() bool {
	return p.enabled && !p.init && !p.csa
}

func (p *Peripheral) acksLocked() bool {
	return p.listeningLocked() && p.cccr&regs.CCCR_MON == 0
}

func (p *Peripheral) canTransmitLocked() bool {
	if !p.listeningLocked() || p.cccr&regs.CCCR_ASM != 0 {
		return false
	}
	_, mon, lbck := p.modeBitsLocked()
	return !mon || lbck
}

// nextLocked returns the pending TX buffer that wins arbitration inside the
// peripheral: lowest arbitration key, lowest buffer index on ties.
func (p *Peripheral) nextLocked() (mb int, key uint32, ok bool) {
	if !p.canTransmitLocked() {
		return 0, 0, false
	}
	for i := 0; i < msgram.TxBufferCount; i++ {
		if p.pending&(1<<i) == 0 {
			continue
		}
		h := p.headerLocked(msgram.TxBufferAddr(i))
		k := h.ArbitrationKey()
		if !ok || k < key {
			mb, key, ok = i, k, true
		}
	}
	return mb, key, ok
}

func (p *Peripheral) headerLocked(addr uint32) msgram.Header {
	return msgram.Header{W0: p.ram.Read32(addr), W1: p.ram.Read32(addr + 4)}
}

func (p *Peripheral) frameLocked(mb int) Frame {
	addr := msgram.TxBufferAddr(mb)
	h := p.headerLocked(addr)
	n := h.Len()
	fd := h.FDF() && p.cccr&regs.CCCR_FDOE != 0
	if !fd && n > 8 {
		n = 8
	}
	words := make([]uint32, msgram.Words(n))
	for i := range words {
		words[i] = p.ram.Read32(addr + 8 + uint32(i)*4)
	}
	f := Frame{
		ID:       h.ID(),
		Extended: h.XTD(),
		Remote:   h.RTR() && !fd,
		FD:       fd,
		BRS:      fd && h.BRS() && p.cccr&regs.CCCR_BRSE != 0,
		ESI:      h.ESI(),
	}
	if !f.Remote {
		f.Data = msgram.Bytes(make([]byte, n), words, n)
	}
	return f
}

func (p *Peripheral) completeLocked(mb int, f Frame) {
	bit := uint32(1) << mb
	p.pending &^= bit
	p.txbto |= bit
	if p.reg[regs.TXBTIE/4]&bit != 0 {
		p.ir |= regs.IR_TC
	}
	if p.pending == 0 {
		p.ir |= regs.IR_TFE
	}
	if p.tec > 0 {
		p.tec--
	}
	p.lec = LECNone
	p.tickLocked(f.bitTimes())

	h := p.headerLocked(msgram.TxBufferAddr(mb))
	if h.EFC() {
		p.storeEventLocked(h, msgram.EventTransmitted)
	}
	p.sent = append(p.sent, f)
}

func (p *Peripheral) storeEventLocked(tx msgram.Header, et uint8) {
	if p.tef.fl == msgram.TxEventDepth {
		p.ir |= regs.IR_TEFL
		return
	}
	ev := msgram.Header{W0: tx.W0}
	ev.SetMM(tx.MM())
	ev.SetEventType(et)
	ev.SetFDF(tx.FDF())
	ev.SetBRS(tx.BRS())
	ev.SetDLC(tx.DLC())
	ev.SetTimestamp(uint16(p.readLocked(regs.TSCV, false)))
	addr := msgram.TxEventAddr(p.tef.pi)
	p.ram.Write32(addr, ev.W0)
	p.ram.Write32(addr+4, ev.W1)
	p.tef.pi = (p.tef.pi + 1) % msgram.TxEventDepth
	p.tef.fl++
	p.ir |= regs.IR_TEFN
	if p.tef.fl == msgram.TxEventDepth {
		p.ir |= regs.IR_TEFF
	}
}

func (p *Peripheral) ackErrorLocked(mb int) {
	before := p.tec
	p.tec += 8
	p.cel++
	p.lec = LECAck
	p.ir |= regs.IR_PEA
	if before < 96 && p.tec >= 96 {
		p.ir |= regs.IR_EW
	}
	if before < 128 && p.tec >= 128 {
		p.ir |= regs.IR_EP
	}
	if p.cccr&regs.CCCR_DAR != 0 {
		bit := uint32(1) << mb
		p.pending &^= bit
		p.txbcf |= bit
	}
	if p.tec > 255 {
		p.ir |= regs.IR_BO
		p.init = true
		p.initReq = true
	}
}

func (p *Peripheral) receiveLocked(f Frame) {
	if f.FD && p.cccr&regs.CCCR_FDOE == 0 {
		p.lec = LECForm
		p.ir |= regs.IR_PEA
		return
	}
	gfc := p.reg[regs.RXGFC/4]
	if f.Extended {
		if f.Remote && gfc&regs.RXGFC_RRFE != 0 {
			return
		}
		lse := min(int(regs.RXGFC_LSE.Get(gfc)), msgram.ExtendedFilterCount)
		mask := regs.XIDAM_EIDM.Get(p.reg[regs.XIDAM/4])
		for i := 0; i < lse; i++ {
			addr := msgram.ExtendedFilterAddr(i)
			ef := msgram.DecodeExtendedFilter(p.ram.Read32(addr), p.ram.Read32(addr+4))
			if ef.Type == msgram.FilterDisabled {
				continue
			}
			id := f.ID & mask
			if ef.NoMask {
				id = f.ID
			}
			if match(ef.Type, ef.ID1, ef.ID2, id) {
				p.actionLocked(ef.Config, i, f)
				return
			}
		}
		p.nonMatchingLocked(int(regs.RXGFC_ANFE.Get(gfc)), f)
		return
	}

	if f.Remote && gfc&regs.RXGFC_RRFS != 0 {
		return
	}
	lss := min(int(regs.RXGFC_LSS.Get(gfc)), msgram.StandardFilterCount)
	for i := 0; i < lss; i++ {
		sf := msgram.DecodeStandardFilter(p.ram.Read32(msgram.StandardFilterAddr(i)))
		if sf.Type == msgram.FilterDisabled || sf.Config == msgram.ConfigDisable {
			continue
		}
		if match(sf.Type, sf.ID1, sf.ID2, f.ID) {
			p.actionLocked(sf.Config, i, f)
			return
		}
	}
	p.nonMatchingLocked(int(regs.RXGFC_ANFS.Get(gfc)), f)
}

func match(typ uint8, id1, id2, id uint32) bool {
	switch typ {
	case msgram.FilterRange:
		return id1 <= id && id <= id2
	case msgram.FilterDual:
		return id == id1 || id == id2
	case msgram.FilterClassic:
		return id&id2 == id1&id2
	}
	return false
}

func (p *Peripheral) actionLocked(config uint8, fidx int, f Frame) {
	priority := config == msgram.ConfigPriority ||
		config == msgram.ConfigPriorityFIFO0 || config == msgram.ConfigPriorityFIFO1
	fifoN := -1
	switch config {
	case msgram.ConfigFIFO0, msgram.ConfigPriorityFIFO0:
		fifoN = 0
	case msgram.ConfigFIFO1, msgram.ConfigPriorityFIFO1:
		fifoN = 1
	}
	var stored bool
	var idx int
	if fifoN >= 0 {
		idx, stored = p.storeLocked(fifoN, f, fidx, true)
	}
	if !priority {
		return
	}
	// HPMS: BIDX 2:0, MSI 7:6, FIDX 14:8, FLST 15
	msi := uint32(1)
	if stored {
		msi = uint32(2 + fifoN)
	}
	v := uint32(idx)&7 | msi<<6 | uint32(fidx&0x7F)<<8
	if f.Extended {
		v |= 1 << 15
	}
	p.hpms = v
	p.ir |= regs.IR_HPM
}

func (p *Peripheral) nonMatchingLocked(policy int, f Frame) {
	switch policy {
	case 0:
		p.storeLocked(0, f, 0, false)
	case 1:
		p.storeLocked(1, f, 0, false)
	}
}

func (p *Peripheral) storeLocked(n int, f Frame, fidx int, matched bool) (int, bool) {
	q := &p.rx[n]
	if q.fl == msgram.RxFIFODepth {
		om := regs.RXGFC_F0OM
		if n == 1 {
			om = regs.RXGFC_F1OM
		}
		if p.reg[regs.RXGFC/4]&om == 0 {
			p.ir |= regs.RxFIFOLost(n)
			return 0, false
		}
		q.gi = (q.gi + 1) % msgram.RxFIFODepth
		q.fl--
	}

	dlc, _ := msgram.LenToDLC(len(f.Data))
	var h msgram.Header
	h.SetID(f.ID, f.Extended)
	h.SetRTR(f.Remote)
	h.SetESI(f.ESI)
	h.SetFDF(f.FD)
	h.SetBRS(f.BRS)
	h.SetDLC(dlc)
	h.SetTimestamp(uint16(p.readLocked(regs.TSCV, false)))
	if matched {
		h.SetFIDX(uint8(fidx))
	} else {
		h.SetANMF(true)
	}

	idx := q.pi
	addr := msgram.RxElementAddr(n, idx)
	p.ram.Write32(addr, h.W0)
	p.ram.Write32(addr+4, h.W1)
	words := make([]uint32, msgram.DataWords)
	msgram.PutBytes(words, f.Data)
	for i := 0; i < msgram.Words(len(f.Data)); i++ {
		p.ram.Write32(addr+8+uint32(i)*4, words[i])
	}
	q.pi = (q.pi + 1) % msgram.RxFIFODepth
	q.fl++

	if n == 0 {
		p.ir |= regs.IR_RF0N
		if q.fl == msgram.RxFIFODepth {
			p.ir |= regs.IR_RF0F
		}
	} else {
		p.ir |= regs.IR_RF1N
		if q.fl == msgram.RxFIFODepth {
			p.ir |= regs.IR_RF1F
		}
	}
	if p.rec > 0 {
		p.rec--
	}
	p.tickLocked(f.bitTimes())
	return idx, true
}
