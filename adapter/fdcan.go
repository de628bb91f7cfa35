package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/fdcan"
	"github.com/roffe/fdcan/pkg/regs"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval = time.Millisecond
	defaultSendAttempts = 10
	defaultSamplePoint  = 0.875
)

// FDCAN drives a peripheral through the channel interface. Open configures
// the peripheral, enters the configured mode and splits the driver into a
// transmit pump and a receive pump. Close joins the parts again and frees
// the peripheral.
type FDCAN struct {
	*BaseAdapter
	inst regs.Instance
	opts []fdcan.Option

	// run alongside the pumps, an error is fatal for the adapter
	workers []func(ctx context.Context) error
	closer  func() error

	mu          sync.Mutex
	done        chan struct{}
	teardownErr error
	closerOnce  sync.Once
}

func NewFDCAN(name string, inst regs.Instance, cfg *AdapterConfig, opts ...fdcan.Option) *FDCAN {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SendAttempts == 0 {
		cfg.SendAttempts = defaultSendAttempts
	}
	if cfg.SamplePoint == 0 {
		cfg.SamplePoint = defaultSamplePoint
	}
	if cfg.Trace != nil {
		inst = regs.NewLoggedInstance(inst, cfg.Trace, slog.LevelDebug, regs.LogAll)
	}
	return &FDCAN{
		BaseAdapter: NewBaseAdapter(name, cfg),
		inst:        inst,
		opts:        opts,
	}
}

func (a *FDCAN) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return fmt.Errorf("%s: already open", a.name)
	}
	f, err := a.setup()
	if err != nil {
		a.closeTransport()
		return err
	}
	ct, tx, rx0, rx1, err := f.Split()
	if err != nil {
		f.Free()
		a.closeTransport()
		return err
	}
	a.Infof("opened in %s mode", ct.Mode())
	a.done = make(chan struct{})
	go a.run(ctx, ct, tx, rx0, rx1)
	return nil
}

func (a *FDCAN) setup() (*fdcan.FdCan, error) {
	mode := a.cfg.Mode
	if mode == fdcan.PoweredDown || mode == fdcan.ConfigMode {
		mode = fdcan.Normal
	}
	if !mode.CanTransmit() || !mode.CanReceive() {
		return nil, fmt.Errorf("%s: %s mode cannot both send and receive", a.name, mode)
	}

	f, err := fdcan.New(a.inst, a.opts...)
	if err != nil {
		return nil, err
	}
	cf, err := f.IntoConfigMode()
	if err != nil {
		f.Free()
		return nil, err
	}
	if err := a.configure(cf.Control()); err != nil {
		cf.Free()
		return nil, err
	}

	var op *fdcan.FdCan
	switch mode {
	case fdcan.InternalLoopback:
		op, err = cf.IntoInternalLoopback()
	case fdcan.ExternalLoopback:
		op, err = cf.IntoExternalLoopback()
	default:
		op, err = cf.IntoNormal()
	}
	if err != nil {
		cf.Free()
		return nil, err
	}
	return op, nil
}

func (a *FDCAN) configure(ct *fdcan.Control) error {
	if a.cfg.Bitrate > 0 {
		if a.cfg.Clock == 0 {
			return fmt.Errorf("%s: bitrate set without a peripheral clock", a.name)
		}
		nt, err := fdcan.CalcNominalBitTiming(a.cfg.Clock, a.cfg.Bitrate, a.cfg.SamplePoint)
		if err != nil {
			return err
		}
		if err := ct.SetNominalBitTiming(nt); err != nil {
			return err
		}
	}
	if a.cfg.DataBitrate > 0 {
		dt, err := fdcan.CalcDataBitTiming(a.cfg.Clock, a.cfg.DataBitrate, a.cfg.SamplePoint)
		if err != nil {
			return err
		}
		if err := ct.SetDataBitTiming(dt); err != nil {
			return err
		}
		if err := ct.SetFrameTransmit(fdcan.AllowFdCanAndBRS); err != nil {
			return err
		}
	}
	if len(a.cfg.CANFilter) == 0 {
		return nil
	}
	if len(a.cfg.CANFilter) > fdcan.StandardFilterSlots {
		return fmt.Errorf("%s: %d filter ids, only %d slots", a.name, len(a.cfg.CANFilter), fdcan.StandardFilterSlots)
	}
	for i, id := range a.cfg.CANFilter {
		if err := ct.SetStandardFilter(i, fdcan.SingleStandard(id, fdcan.StoreInFIFO0)); err != nil {
			return err
		}
	}
	return ct.SetGlobalFilter(fdcan.GlobalFilter{
		NonMatchingStandard: fdcan.RejectNonMatching,
		NonMatchingExtended: fdcan.RejectNonMatching,
	})
}

func (a *FDCAN) run(ctx context.Context, ct *fdcan.Control, tx *fdcan.Tx, rx0, rx1 *fdcan.Rx) {
	defer close(a.done)
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()
	g.Go(func() error {
		select {
		case <-a.closeChan:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error { return a.sendManager(gctx, tx) })
	g.Go(func() error { return a.recvManager(gctx, ct, rx0, rx1) })
	for _, w := range a.workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Fatal(err)
	}

	f, err := fdcan.Combine(ct, tx, rx0, rx1)
	if err == nil {
		_, err = f.Free()
	}
	a.teardownErr = err
}

func (a *FDCAN) sendManager(ctx context.Context, tx *fdcan.Tx) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-a.sendChan:
			err := a.transmit(ctx, tx, frame)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return nil
			case !fdcan.IsRecoverable(err), errors.Is(err, fdcan.ErrReleased):
				return err
			default:
				a.Error(fmt.Errorf("send %s: %w", frame.ID, err))
			}
		}
	}
}

func (a *FDCAN) transmit(ctx context.Context, tx *fdcan.Tx, frame *fdcan.Frame) error {
	return retry.Do(
		func() error {
			t, err := tx.TransmitFrame(frame)
			if errors.Is(err, fdcan.ErrWouldBlock) {
				return err
			}
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if t.Displaced {
				a.Warnf("%s displaced a pending frame from %s", frame.ID, t.Mailbox)
			}
			a.traceFrame(frame)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(a.cfg.SendAttempts),
		retry.Delay(a.cfg.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (a *FDCAN) recvManager(ctx context.Context, ct *fdcan.Control, rx0, rx1 *fdcan.Rx) error {
	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()
	var busOff bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		for _, rx := range []*fdcan.Rx{rx0, rx1} {
			if err := a.drain(rx); err != nil {
				return err
			}
		}
		ps, err := ct.ProtocolStatus()
		if err != nil {
			return err
		}
		if ps.BusOff != busOff {
			busOff = ps.BusOff
			if busOff {
				a.Warnf("bus off")
			} else {
				a.Infof("bus on")
			}
		}
	}
}

func (a *FDCAN) drain(rx *fdcan.Rx) error {
	for {
		frame, overrun, err := rx.ReceiveFrame()
		if errors.Is(err, fdcan.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
		if overrun {
			a.Warnf("rx fifo %d overrun, frames lost", rx.FIFO())
		}
		a.traceFrame(frame)
		select {
		case a.recvChan <- frame:
		default:
			a.Error(ErrDroppedFrame)
		}
	}
}

func (a *FDCAN) closeTransport() error {
	var err error
	a.closerOnce.Do(func() {
		if a.closer != nil {
			err = a.closer()
		}
	})
	return err
}

// Close stops the pumps, powers the peripheral down and closes the
// transport. It waits for the pumps to finish.
func (a *FDCAN) Close() error {
	a.BaseAdapter.Close()
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	var err error
	if done != nil {
		<-done
		err = a.teardownErr
	}
	if cerr := a.closeTransport(); err == nil {
		err = cerr
	}
	return err
}
