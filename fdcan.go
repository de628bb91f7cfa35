// Package fdcan drives a CAN-FD peripheral compatible with the Bosch M_CAN
// core as found in many microcontrollers under the FDCAN name.
//
// The peripheral is reached through a regs.Instance, so the same driver runs
// against memory mapped hardware, a remote target (pkg/serialregs) or the
// simulated peripheral in pkg/sim.
//
// A handle is always in exactly one Mode. Every transition consumes the
// handle it is called on and returns a new one; the old handle and anything
// split from it fails with ErrReleased afterwards. Operations that the
// current mode does not allow fail with a *ModeError.
package fdcan

import (
	"fmt"
	"sync/atomic"

	"github.com/roffe/fdcan/pkg/msgram"
	"github.com/roffe/fdcan/pkg/regs"
)

// core is the state shared by every handle of one peripheral.
type core struct {
	inst regs.Instance
	regs regs.Bus
	ram  regs.Bus
	cfg  Config
	mode Mode
	wait WaitPolicy
}

// lease marks a set of handles as live. Consuming a handle releases its
// lease and every handle sharing it.
type lease struct {
	released atomic.Bool
}

func (c *core) require(l *lease, op string, allowed func(Mode) bool) error {
	if l.released.Load() {
		return fmt.Errorf("%s: %w", op, ErrReleased)
	}
	if allowed != nil && !allowed(c.mode) {
		return &ModeError{Op: op, Mode: c.mode}
	}
	return nil
}

func inConfig(m Mode) bool { return m == ConfigMode }
func inTest(m Mode) bool   { return m == TestMode }

// FdCan is the unified handle of a peripheral.
type FdCan struct {
	c       *core
	l       *lease
	control *Control
	tx      *Tx
	rx0     *Rx
	rx1     *Rx
}

func newHandle(c *core, l *lease) *FdCan {
	return &FdCan{
		c:       c,
		l:       l,
		control: &Control{c: c, l: l},
		tx:      &Tx{c: c, l: l},
		rx0:     &Rx{c: c, l: l, fifo: 0},
		rx1:     &Rx{c: c, l: l, fifo: 1},
	}
}

// New takes ownership of inst and returns a handle in PoweredDown mode.
//
// When inst implements regs.Enabler its clock is switched on first. The
// endianness marker register is checked to make sure inst really is an
// FDCAN block; a mismatch is unrecoverable.
func New(inst regs.Instance, opts ...Option) (*FdCan, error) {
	if inst == nil {
		return nil, Unrecoverable(fmt.Errorf("nil instance"))
	}
	if e, ok := inst.(regs.Enabler); ok {
		e.Enable()
	}
	c := &core{
		inst: inst,
		regs: inst.Registers(),
		ram:  inst.MessageRAM(),
		cfg:  DefaultConfig(),
		mode: PoweredDown,
		wait: BusyWait{},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if v := c.regs.Read32(regs.ENDN); v != regs.EndianMarker {
		return nil, Unrecoverable(fmt.Errorf("%w: read %08X", ErrIdentityMismatch, v))
	}
	return newHandle(c, &lease{}), nil
}

// MustNew is like New but panics on error.
func MustNew(inst regs.Instance, opts ...Option) *FdCan {
	f, err := New(inst, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// Mode returns the mode of the handle.
func (f *FdCan) Mode() Mode {
	return f.c.mode
}

// reissue consumes f and returns a fresh handle in mode m.
func (f *FdCan) reissue(m Mode) *FdCan {
	f.l.released.Store(true)
	f.c.mode = m
	return newHandle(f.c, &lease{})
}

func (c *core) enterInit() error {
	regs.SetBits(c.regs, regs.CCCR, regs.CCCR_INIT, true)
	if err := c.wait.Wait("init", func() bool {
		return c.regs.Read32(regs.CCCR)&regs.CCCR_INIT != 0
	}); err != nil {
		return err
	}
	regs.SetBits(c.regs, regs.CCCR, regs.CCCR_CCE, true)
	return nil
}

// leaveInit writes the whole configuration snapshot and starts the core.
func (c *core) leaveInit() error {
	writeConfig(c.regs, c.cfg)
	regs.SetBits(c.regs, regs.CCCR, regs.CCCR_CCE, false)
	regs.SetBits(c.regs, regs.CCCR, regs.CCCR_INIT, false)
	return c.wait.Wait("leave init", func() bool {
		return c.regs.Read32(regs.CCCR)&regs.CCCR_INIT == 0
	})
}

func (c *core) powerDown() error {
	regs.SetBits(c.regs, regs.CCCR, regs.CCCR_CSR, true)
	return c.wait.Wait("clock stop", func() bool {
		return c.regs.Read32(regs.CCCR)&regs.CCCR_CSA != 0
	})
}

func (c *core) powerUp() error {
	regs.SetBits(c.regs, regs.CCCR, regs.CCCR_CSR, false)
	return c.wait.Wait("clock start", func() bool {
		return c.regs.Read32(regs.CCCR)&regs.CCCR_CSA == 0
	})
}

const modeMask = regs.CCCR_ASM | regs.CCCR_MON | regs.CCCR_TEST

// modeBits returns the CCCR and TEST bits selecting m.
func modeBits(m Mode) (cccr, test uint32) {
	switch m {
	case InternalLoopback:
		return regs.CCCR_TEST | regs.CCCR_MON, regs.TEST_LBCK
	case ExternalLoopback:
		return regs.CCCR_TEST, regs.TEST_LBCK
	case Restricted:
		return regs.CCCR_ASM, 0
	case BusMonitoring:
		return regs.CCCR_MON, 0
	case TestMode:
		return regs.CCCR_TEST, 0
	}
	return 0, 0
}

// setModeBits must be called with INIT and CCE set. TEST is only writable
// once CCCR.TEST is set.
func (c *core) setModeBits(m Mode) {
	cccr, test := modeBits(m)
	regs.Modify(c.regs, regs.CCCR, modeMask, cccr)
	if cccr&regs.CCCR_TEST != 0 {
		regs.Modify(c.regs, regs.TEST, regs.TEST_LBCK|regs.TEST_TX.Mask(), test)
	}
}

func (c *core) clearModeBits() {
	if c.regs.Read32(regs.CCCR)&regs.CCCR_TEST != 0 {
		regs.Modify(c.regs, regs.TEST, regs.TEST_LBCK|regs.TEST_TX.Mask(), 0)
	}
	regs.Modify(c.regs, regs.CCCR, modeMask, 0)
}

// setupMessageRAM pins the filter list sizes to the full tables, selects
// queue mode for the TX buffers and disables every filter slot.
func (c *core) setupMessageRAM() {
	regs.Modify(c.regs, regs.TXBC, regs.TXBC_TFQM, regs.TXBC_TFQM)
	v := c.regs.Read32(regs.RXGFC)
	v = regs.RXGFC_LSS.Set(v, msgram.StandardFilterCount)
	v = regs.RXGFC_LSE.Set(v, msgram.ExtendedFilterCount)
	c.regs.Write32(regs.RXGFC, v)
	for i := 0; i < msgram.StandardFilterCount; i++ {
		c.ram.Write32(msgram.StandardFilterAddr(i), 0)
	}
	for i := 0; i < msgram.ExtendedFilterCount; i++ {
		addr := msgram.ExtendedFilterAddr(i)
		c.ram.Write32(addr, 0)
		c.ram.Write32(addr+4, 0)
	}
}

// IntoConfigMode moves the peripheral into initialization where bit timing,
// filters and interrupts can be changed. Allowed from PoweredDown and from
// every operating mode.
//
// On error f is not consumed, but the peripheral may be left half way
// through the handshake.
func (f *FdCan) IntoConfigMode() (*FdCan, error) {
	const op = "into config mode"
	if err := f.c.require(f.l, op, func(m Mode) bool { return m != ConfigMode }); err != nil {
		return nil, err
	}
	if f.c.mode == PoweredDown {
		if err := f.c.powerUp(); err != nil {
			return nil, err
		}
		if err := f.c.enterInit(); err != nil {
			return nil, err
		}
		f.c.setupMessageRAM()
		return f.reissue(ConfigMode), nil
	}
	if err := f.c.enterInit(); err != nil {
		return nil, err
	}
	f.c.clearModeBits()
	return f.reissue(ConfigMode), nil
}

func (f *FdCan) into(m Mode) (*FdCan, error) {
	if err := f.c.require(f.l, "into "+m.String(), inConfig); err != nil {
		return nil, err
	}
	f.c.setModeBits(m)
	if err := f.c.leaveInit(); err != nil {
		return nil, err
	}
	return f.reissue(m), nil
}

// IntoNormal starts taking part in bus traffic.
func (f *FdCan) IntoNormal() (*FdCan, error) {
	return f.into(Normal)
}

// IntoInternalLoopback connects TX to RX inside the core. Nothing is sent
// on the bus and frames are acknowledged internally.
func (f *FdCan) IntoInternalLoopback() (*FdCan, error) {
	return f.into(InternalLoopback)
}

// IntoExternalLoopback drives the bus and receives its own frames while
// ignoring acknowledge errors.
func (f *FdCan) IntoExternalLoopback() (*FdCan, error) {
	return f.into(ExternalLoopback)
}

// IntoRestricted receives and acknowledges frames but never transmits.
func (f *FdCan) IntoRestricted() (*FdCan, error) {
	return f.into(Restricted)
}

// IntoBusMonitoring receives frames without acknowledging them.
func (f *FdCan) IntoBusMonitoring() (*FdCan, error) {
	return f.into(BusMonitoring)
}

// IntoTestMode gives access to the TX pin control. See
// Control.SetTxPinControl.
func (f *FdCan) IntoTestMode() (*FdCan, error) {
	return f.into(TestMode)
}

// IntoPoweredDown requests clock stop. Allowed from ConfigMode only.
func (f *FdCan) IntoPoweredDown() (*FdCan, error) {
	if err := f.c.require(f.l, "into powered down", inConfig); err != nil {
		return nil, err
	}
	if err := f.c.powerDown(); err != nil {
		return nil, err
	}
	return f.reissue(PoweredDown), nil
}

// Free disables all interrupts, powers the peripheral down and gives back
// the instance. It works from any mode and consumes f.
func (f *FdCan) Free() (regs.Instance, error) {
	if err := f.c.require(f.l, "free", nil); err != nil {
		return nil, err
	}
	f.c.regs.Write32(regs.IE, 0)
	f.c.regs.Write32(regs.ILE, 0)
	f.c.regs.Write32(regs.TXBTIE, 0)
	f.c.regs.Write32(regs.TXBCIE, 0)
	if err := f.c.enterInit(); err != nil {
		return nil, err
	}
	if err := f.c.powerDown(); err != nil {
		return nil, err
	}
	f.l.released.Store(true)
	f.c.mode = PoweredDown
	return f.c.inst, nil
}

// Control returns the configuration and status handle. It shares the
// lifetime of f.
func (f *FdCan) Control() *Control {
	return f.control
}

// Transmit queues a frame. See Tx.Transmit.
func (f *FdCan) Transmit(h TxFrameHeader, write func([]uint32)) (Transmission, error) {
	return f.tx.Transmit(h, write)
}

// TransmitPreserve is Transmit handing a displaced frame to pending. See
// Tx.TransmitPreserve.
func (f *FdCan) TransmitPreserve(h TxFrameHeader, write func([]uint32), pending func(Mailbox, TxFrameHeader, []uint32)) (Transmission, error) {
	return f.tx.TransmitPreserve(h, write, pending)
}

// TransmitFrame queues a Frame. See Tx.Transmit.
func (f *FdCan) TransmitFrame(fr *Frame) (Transmission, error) {
	return f.tx.TransmitFrame(fr)
}

// Abort cancels the frame pending in mb. See Tx.Abort.
func (f *FdCan) Abort(mb Mailbox) (bool, error) {
	return f.tx.Abort(mb)
}

// IsTransmitterIdle reports whether no mailbox holds a pending frame.
func (f *FdCan) IsTransmitterIdle() (bool, error) {
	return f.tx.IsIdle()
}

// Receive0 reads one frame from FIFO 0. The payload slice is only valid
// during fn.
func (f *FdCan) Receive0(fn func(RxFrameInfo, []byte)) (ReceiveOverrun[RxFrameInfo], error) {
	return receiveInfo(f.rx0, fn)
}

// Receive1 reads one frame from FIFO 1.
func (f *FdCan) Receive1(fn func(RxFrameInfo, []byte)) (ReceiveOverrun[RxFrameInfo], error) {
	return receiveInfo(f.rx1, fn)
}

func receiveInfo(rx *Rx, fn func(RxFrameInfo, []byte)) (ReceiveOverrun[RxFrameInfo], error) {
	return Receive(rx, func(info RxFrameInfo, data []byte) RxFrameInfo {
		if fn != nil {
			fn(info, data)
		}
		return info
	})
}

// ReceiveFrame reads one frame from the given FIFO as a Frame.
func (f *FdCan) ReceiveFrame(fifo int) (*Frame, bool, error) {
	if fifo == 1 {
		return f.rx1.ReceiveFrame()
	}
	return f.rx0.ReceiveFrame()
}

// ErrorCounters reads the bus error counters. See Control.ErrorCounters.
func (f *FdCan) ErrorCounters() (ErrorCounters, error) {
	return f.control.ErrorCounters()
}

// Timestamp reads the timestamp counter. See Control.Timestamp.
func (f *FdCan) Timestamp() (uint16, error) {
	return f.control.Timestamp()
}
