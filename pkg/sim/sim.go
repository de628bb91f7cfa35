// Package sim is a register level model of an FDCAN peripheral.
//
// A Peripheral implements regs.Instance and reacts to register accesses the
// way the hardware does: the INIT and clock stop handshakes, protected
// configuration registers, the TX queue, the receive FIFOs with acceptance
// filtering, the TX event FIFO, error counters and the timestamp counter.
// Frames move when Step is called, either on a stand alone peripheral or on a
// Bus shared by several peripherals.
//
// All methods are safe for concurrent use.
package sim

import (
	"errors"
	"math/bits"
	"sync"

	"github.com/roffe/fdcan/pkg/msgram"
	"github.com/roffe/fdcan/pkg/regs"
)

// DefaultCoreRelease is the CREL value reported by default (release 3.2.1,
// 2014-12-18).
const DefaultCoreRelease uint32 = 0x32141218

// Last error codes reported in PSR.LEC.
const (
	LECNone     uint8 = 0
	LECStuff    uint8 = 1
	LECForm     uint8 = 2
	LECAck      uint8 = 3
	LECBit1     uint8 = 4
	LECBit0     uint8 = 5
	LECCRC      uint8 = 6
	LECNoChange uint8 = 7
)

var (
	ErrInvalidFrame = errors.New("invalid frame")
)

const protectedCCCR = regs.CCCR_ASM | regs.CCCR_MON | regs.CCCR_DAR | regs.CCCR_TEST |
	regs.CCCR_FDOE | regs.CCCR_BRSE | regs.CCCR_PXHD | regs.CCCR_EFBI |
	regs.CCCR_TXP | regs.CCCR_NISO

type Option func(p *Peripheral)

// WithAckDelay makes the INIT and clock stop handshakes take n reads of CCCR
// before the new state becomes visible.
func WithAckDelay(n int) Option {
	return func(p *Peripheral) {
		p.ackDelay = n
	}
}

// WithStuckInit makes CCCR.INIT ignore every change request.
func WithStuckInit() Option {
	return func(p *Peripheral) {
		p.stuckInit = true
	}
}

// WithStuckPowerDown makes CCCR.CSA ignore every change of CCCR.CSR.
func WithStuckPowerDown() Option {
	return func(p *Peripheral) {
		p.stuckPower = true
	}
}

func WithEndianMarker(v uint32) Option {
	return func(p *Peripheral) {
		p.endn = v
	}
}

func WithCoreRelease(v uint32) Option {
	return func(p *Peripheral) {
		p.crel = v
	}
}

type fifo struct {
	gi, pi, fl int
}

// Peripheral is a simulated FDCAN instance.
type Peripheral struct {
	mu  sync.Mutex
	bus *Bus

	enabled bool
	endn    uint32
	crel    uint32

	ackDelay   int
	stuckInit  bool
	stuckPower bool

	cccr     uint32
	init     bool
	initReq  bool
	initWait int
	csa      bool
	csaWait  int

	reg  [regs.BlockSize / 4]uint32
	ir   uint32
	hpms uint32

	tec, rec, cel int
	lec, dlec     uint8

	tsc    uint32
	tsFrac uint32

	pending  uint32
	txbto    uint32
	txbcf    uint32
	loseRace uint32

	rx  [2]fifo
	tef fifo

	ram        regs.Memory
	sent       []Frame
	violations int
}

// New returns a peripheral in its reset state. Like real hardware behind a
// gated clock it reads as zero until Enable is called.
func New(opts ...Option) *Peripheral {
	p := &Peripheral{
		endn:    regs.EndianMarker,
		crel:    DefaultCoreRelease,
		cccr:    regs.CCCR_INIT,
		init:    true,
		initReq: true,
		lec:     LECNoChange,
		dlec:    LECNoChange,
		ram:     regs.NewMemory(msgram.Size),
	}
	p.reg[regs.NBTP/4] = 0x06000A03
	p.reg[regs.DBTP/4] = 0x00000A33
	p.reg[regs.XIDAM/4] = 0x1FFFFFFF
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enable switches on the peripheral clock.
func (p *Peripheral) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

func (p *Peripheral) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *Peripheral) Registers() regs.Bus {
	return &regPort{p}
}

func (p *Peripheral) MessageRAM() regs.Bus {
	return &ramPort{p}
}

type regPort struct{ p *Peripheral }

func (r *regPort) Read32(offset uint32) uint32 {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if !r.p.enabled {
		return 0
	}
	return r.p.readLocked(offset, true)
}

func (r *regPort) Write32(offset uint32, value uint32) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if !r.p.enabled {
		return
	}
	r.p.writeLocked(offset, value)
}

type ramPort struct{ p *Peripheral }

func (r *ramPort) Read32(offset uint32) uint32 {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if !r.p.enabled || offset >= msgram.Size {
		return 0
	}
	return r.p.ram.Read32(offset)
}

func (r *ramPort) Write32(offset uint32, value uint32) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	if !r.p.enabled || offset >= msgram.Size {
		return
	}
	r.p.ram.Write32(offset, value)
}

// Peek returns a register value without the side effects a read has on the
// hardware (handshake progress, clear-on-read counters).
func (p *Peripheral) Peek(offset uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readLocked(offset, false)
}

func (p *Peripheral) protectedLocked() bool {
	return p.init && p.cccr&regs.CCCR_CCE != 0
}

func (p *Peripheral) readLocked(offset uint32, sideEffects bool) uint32 {
	switch offset {
	case regs.CREL:
		return p.crel
	case regs.ENDN:
		return p.endn
	case regs.CCCR:
		if sideEffects {
			if p.initWait > 0 {
				p.initWait--
			}
			if p.csaWait > 0 {
				p.csaWait--
			}
			p.settleLocked()
		}
		v := p.cccr &^ (regs.CCCR_INIT | regs.CCCR_CSA)
		if p.init {
			v |= regs.CCCR_INIT
		}
		if p.csa {
			v |= regs.CCCR_CSA
		}
		return v
	case regs.TEST:
		return p.reg[regs.TEST/4] | regs.TEST_RX
	case regs.TSCV:
		switch regs.TSCC_TSS.Get(p.reg[regs.TSCC/4]) {
		case 1, 2:
			return p.tsc & 0xFFFF
		default:
			return 0
		}
	case regs.ECR:
		v := regs.ECR_TEC.Set(0, uint32(min(p.tec, 255)))
		v = regs.ECR_REC.Set(v, uint32(min(p.rec, 127)))
		if p.rec >= 128 {
			v = regs.ECR_RP.Set(v, 1)
		}
		v = regs.ECR_CEL.Set(v, uint32(min(p.cel, 255)))
		if sideEffects {
			p.cel = 0
		}
		return v
	case regs.PSR:
		v := regs.PSR_LEC.Set(0, uint32(p.lec))
		v = regs.PSR_DLEC.Set(v, uint32(p.dlec))
		act := uint32(1)
		if p.init {
			act = 0
		}
		v = regs.PSR_ACT.Set(v, act)
		if p.tec >= 128 || p.rec >= 128 {
			v |= regs.PSR_EP.Mask()
		}
		if p.tec >= 96 || p.rec >= 96 {
			v |= regs.PSR_EW.Mask()
		}
		if p.tec > 255 {
			v |= regs.PSR_BO.Mask()
		}
		if sideEffects {
			p.lec = LECNoChange
			p.dlec = LECNoChange
		}
		return v
	case regs.IR:
		return p.ir
	case regs.HPMS:
		return p.hpms
	case regs.RXF0S, regs.RXF1S:
		n := 0
		if offset == regs.RXF1S {
			n = 1
		}
		q := p.rx[n]
		v := regs.RXFS_FL.Set(0, uint32(q.fl))
		v = regs.RXFS_GI.Set(v, uint32(q.gi))
		v = regs.RXFS_PI.Set(v, uint32(q.pi))
		if q.fl == msgram.RxFIFODepth {
			v = regs.RXFS_F.Set(v, 1)
		}
		if p.ir&regs.RxFIFOLost(n) != 0 {
			v = regs.RXFS_L.Set(v, 1)
		}
		return v
	case regs.TXFQS:
		free := msgram.TxBufferCount - bits.OnesCount32(p.pending)
		v := regs.TXFQS_TFFL.Set(0, uint32(free))
		if free == 0 {
			v = regs.TXFQS_TFQF.Set(v, 1)
		} else {
			v = regs.TXFQS_TFQPI.Set(v, uint32(bits.TrailingZeros32(^p.pending)))
		}
		return v
	case regs.TXBRP:
		return p.pending
	case regs.TXBTO:
		return p.txbto
	case regs.TXBCF:
		return p.txbcf
	case regs.TXEFS:
		v := regs.TXEFS_EFFL.Set(0, uint32(p.tef.fl))
		v = regs.TXEFS_EFGI.Set(v, uint32(p.tef.gi))
		v = regs.TXEFS_EFPI.Set(v, uint32(p.tef.pi))
		if p.tef.fl == msgram.TxEventDepth {
			v = regs.TXEFS_EFF.Set(v, 1)
		}
		if p.ir&regs.IR_TEFL != 0 {
			v = regs.TXEFS_TEFL.Set(v, 1)
		}
		return v
	case regs.RXF0A, regs.RXF1A, regs.TXBAR, regs.TXBCR, regs.TXEFA:
		return p.reg[offset/4]
	}
	if offset < regs.BlockSize {
		return p.reg[offset/4]
	}
	return 0
}

func (p *Peripheral) writeLocked(offset uint32, v uint32) {
	switch offset {
	case regs.CREL, regs.ENDN, regs.ECR, regs.PSR, regs.HPMS, regs.RXF0S, regs.RXF1S,
		regs.TXFQS, regs.TXBRP, regs.TXBTO, regs.TXBCF, regs.TXEFS:
		return
	case regs.CCCR:
		p.writeCCCR(v)
	case regs.TEST:
		// write access is unlocked by CCCR.TEST alone
		if p.cccr&regs.CCCR_TEST == 0 {
			p.violations++
			return
		}
		p.reg[regs.TEST/4] = v & (regs.TEST_LBCK | regs.TEST_TX.Mask())
	case regs.NBTP, regs.DBTP, regs.TSCC, regs.TOCC, regs.TDCR, regs.RXGFC,
		regs.XIDAM, regs.TXBC, regs.CKDIV:
		if !p.protectedLocked() {
			p.violations++
			return
		}
		p.reg[offset/4] = v
	case regs.TSCV:
		p.tsc = 0
		p.tsFrac = 0
	case regs.IR:
		p.ir &^= v
	case regs.RXF0A:
		p.reg[offset/4] = v
		ackFIFO(&p.rx[0], int(regs.RXFA_AI.Get(v)), msgram.RxFIFODepth)
	case regs.RXF1A:
		p.reg[offset/4] = v
		ackFIFO(&p.rx[1], int(regs.RXFA_AI.Get(v)), msgram.RxFIFODepth)
	case regs.TXEFA:
		p.reg[offset/4] = v
		ackFIFO(&p.tef, int(regs.TXEFA_EFAI.Get(v)), msgram.TxEventDepth)
	case regs.TXBAR:
		if p.cccr&regs.CCCR_CCE != 0 {
			return
		}
		add := v & 7 &^ p.pending
		p.pending |= add
		p.txbto &^= add
		p.txbcf &^= add
	case regs.TXBCR:
		p.cancelLocked(v & 7)
	default:
		if offset < regs.BlockSize {
			p.reg[offset/4] = v
		}
	}
}

func (p *Peripheral) writeCCCR(v uint32) {
	prot := p.protectedLocked()

	if req := v&regs.CCCR_INIT != 0; req != p.initReq {
		p.initReq = req
		p.initWait = p.ackDelay
		p.settleLocked()
	}

	if p.init {
		cce := v&regs.CCCR_CCE != 0
		if cce && p.cccr&regs.CCCR_CCE == 0 {
			p.resetQueuesLocked()
		}
		if cce {
			p.cccr |= regs.CCCR_CCE
		} else {
			p.cccr &^= regs.CCCR_CCE
		}
	}

	if p.cccr&protectedCCCR != v&protectedCCCR {
		if prot {
			p.cccr = p.cccr&^protectedCCCR | v&protectedCCCR
			if p.cccr&regs.CCCR_TEST == 0 {
				p.reg[regs.TEST/4] = 0
			}
		} else {
			p.violations++
		}
	}

	if csr := v&regs.CCCR_CSR != 0; csr != (p.cccr&regs.CCCR_CSR != 0) {
		if csr {
			p.cccr |= regs.CCCR_CSR
		} else {
			p.cccr &^= regs.CCCR_CSR
		}
		p.csaWait = p.ackDelay
		p.settleLocked()
	}
}

func (p *Peripheral) settleLocked() {
	if p.init != p.initReq && !p.stuckInit && p.initWait == 0 {
		p.init = p.initReq
		if !p.init {
			p.cccr &^= regs.CCCR_CCE
		}
	}
	csr := p.cccr&regs.CCCR_CSR != 0
	if p.csa != csr && !p.stuckPower && p.csaWait == 0 {
		p.csa = csr
		if p.csa {
			// clock stop forces the core into initialization
			p.init = true
			p.initReq = true
		}
	}
}

// resetQueuesLocked is what setting CCE does to the message handler state.
func (p *Peripheral) resetQueuesLocked() {
	p.pending = 0
	p.txbto = 0
	p.txbcf = 0
	p.rx = [2]fifo{}
	p.tef = fifo{}
	p.hpms = 0
}

func ackFIFO(q *fifo, ai, depth int) {
	if q.fl == 0 || ai >= depth {
		return
	}
	n := (ai-q.gi+depth)%depth + 1
	if n > q.fl {
		return
	}
	q.gi = (ai + 1) % depth
	q.fl -= n
}

func (p *Peripheral) cancelLocked(mask uint32) {
	for mb := 0; mb < msgram.TxBufferCount; mb++ {
		bit := uint32(1) << mb
		if mask&bit == 0 {
			continue
		}
		if p.pending&bit != 0 && p.loseRace&bit != 0 {
			// the frame was already on the wire when the cancel arrived
			p.loseRace &^= bit
			f := p.frameLocked(mb)
			p.completeLocked(mb, f)
			p.txbcf |= bit
			if p.loopbackLocked() {
				p.receiveLocked(f)
			}
			continue
		}
		p.pending &^= bit
		p.txbcf |= bit
		if p.reg[regs.TXBCIE/4]&bit != 0 {
			p.ir |= regs.IR_TCF
		}
	}
}

// LoseCancelRace makes the next cancellation of mailbox mb arrive too late:
// the pending frame is transmitted instead of being removed.
func (p *Peripheral) LoseCancelRace(mb int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loseRace |= 1 << mb
}

// Pending returns the TX buffer request pending mask.
func (p *Peripheral) Pending() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// RxFill returns the fill level of receive FIFO n.
func (p *Peripheral) RxFill(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rx[n].fl
}

// Transmitted returns a copy of every frame this peripheral has sent.
func (p *Peripheral) Transmitted() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Frame, len(p.sent))
	copy(out, p.sent)
	return out
}

// Violations counts writes to protected registers that the hardware
// ignored because INIT and CCE were not both set.
func (p *Peripheral) Violations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.violations
}

// SetErrorCounters forces the transmit and receive error counters.
func (p *Peripheral) SetErrorCounters(tec, rec int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tec > p.tec || rec > p.rec {
		p.cel++
	}
	p.tec, p.rec = tec, rec
}

// SetProtocolError records a last error code for the arbitration and data
// phases as if a bus error had happened.
func (p *Peripheral) SetProtocolError(lec, dlec uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lec, p.dlec = lec&7, dlec&7
	if lec != LECNone && lec != LECNoChange {
		p.ir |= regs.IR_PEA
	}
	if dlec != LECNone && dlec != LECNoChange {
		p.ir |= regs.IR_PED
	}
}

// Tick advances the internal timestamp counter by n nominal bit times.
func (p *Peripheral) Tick(n uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickLocked(n)
}

// SetExternalTimestamp sets the counter value used when the timestamp
// source is the external counter.
func (p *Peripheral) SetExternalTimestamp(v uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if regs.TSCC_TSS.Get(p.reg[regs.TSCC/4]) == 2 {
		p.tsc = uint32(v)
	}
}

func (p *Peripheral) tickLocked(n uint32) {
	tscc := p.reg[regs.TSCC/4]
	if regs.TSCC_TSS.Get(tscc) != 1 {
		return
	}
	div := regs.TSCC_TCP.Get(tscc) + 1
	p.tsFrac += n
	next := p.tsc + p.tsFrac/div
	p.tsFrac %= div
	if next > 0xFFFF {
		p.ir |= regs.IR_TSW
	}
	p.tsc = next & 0xFFFF
}
