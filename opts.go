package fdcan

import "fmt"

type Option func(c *core) error

// WithWaitPolicy replaces the default BusyWait for hardware handshakes.
func WithWaitPolicy(w WaitPolicy) Option {
	return func(c *core) error {
		if w == nil {
			return fmt.Errorf("nil wait policy")
		}
		c.wait = w
		return nil
	}
}

// WithConfig sets the configuration snapshot the driver starts from instead
// of DefaultConfig. It is written to the peripheral on the first transition
// out of ConfigMode.
func WithConfig(cfg Config) Option {
	return func(c *core) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.cfg = cfg
		return nil
	}
}
