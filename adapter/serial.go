package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/roffe/fdcan"
	"github.com/roffe/fdcan/pkg/serialregs"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "serial",
		Description:        "FDCAN on a target board, registers reached over a serial line",
		RequiresSerialPort: true,
		New:                NewSerial,
	}); err != nil {
		panic(err)
	}
}

func NewSerial(cfg *AdapterConfig) (Adapter, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial: no port given")
	}
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = 115200
	}
	c, err := serialregs.Open(cfg.Port, cfg.PortBaudrate, serialregs.WithDebug(cfg.Debug))
	if err != nil {
		return nil, err
	}
	return newRemote("serial", c, cfg), nil
}

// newRemote wraps a register client. A transport failure is fatal for the
// adapter. Handshakes are bounded since a dead link reads as zero.
func newRemote(name string, c *serialregs.Client, cfg *AdapterConfig) *FDCAN {
	a := NewFDCAN(name, c, cfg, fdcan.WithWaitPolicy(fdcan.NewRetryWait(50, time.Millisecond)))
	a.closer = c.Close
	a.workers = append(a.workers, func(ctx context.Context) error {
		t := time.NewTicker(10 * cfg.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				if err := c.Err(); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
			}
		}
	})
	return a
}
