package adapter

import (
	"context"

	"github.com/roffe/fdcan/pkg/sim"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "sim",
		Description:        "Simulated FDCAN peripheral",
		RequiresSerialPort: false,
		New: func(cfg *AdapterConfig) (Adapter, error) {
			a, _ := NewSim(cfg)
			return a, nil
		},
	}); err != nil {
		panic(err)
	}
}

// NewSim returns an adapter on a fresh simulated peripheral. The peripheral
// sends its pending frames every poll interval while the adapter is open;
// in normal mode an ideal receiver acknowledges them.
func NewSim(cfg *AdapterConfig) (*FDCAN, *sim.Peripheral) {
	p := sim.New()
	a := NewFDCAN("sim", p, cfg)
	a.workers = append(a.workers, func(ctx context.Context) error {
		return p.Run(ctx, cfg.PollInterval)
	})
	return a, p
}
