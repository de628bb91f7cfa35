package fdcan

// Mode is the operating mode of the peripheral.
type Mode int

const (
	PoweredDown Mode = iota
	ConfigMode
	Normal
	InternalLoopback
	ExternalLoopback
	Restricted
	BusMonitoring
	TestMode
)

func (m Mode) String() string {
	switch m {
	case PoweredDown:
		return "powered down"
	case ConfigMode:
		return "config"
	case Normal:
		return "normal"
	case InternalLoopback:
		return "internal loopback"
	case ExternalLoopback:
		return "external loopback"
	case Restricted:
		return "restricted"
	case BusMonitoring:
		return "bus monitoring"
	case TestMode:
		return "test"
	default:
		return "unknown"
	}
}

// ParseMode returns the operating mode named s, as printed by String.
func ParseMode(s string) (Mode, bool) {
	for m := PoweredDown; m <= TestMode; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

// OperatingModes lists the modes reachable from ConfigMode, in the order
// the tooling presents them.
var OperatingModes = []Mode{Normal, InternalLoopback, ExternalLoopback, Restricted, BusMonitoring, TestMode}

// CanTransmit reports whether frames can be queued in mode m.
func (m Mode) CanTransmit() bool {
	switch m {
	case Normal, InternalLoopback, ExternalLoopback:
		return true
	}
	return false
}

// CanReceive reports whether the receive FIFOs can be read in mode m.
func (m Mode) CanReceive() bool {
	switch m {
	case Normal, InternalLoopback, ExternalLoopback, Restricted, BusMonitoring:
		return true
	}
	return false
}

func (m Mode) operating() bool {
	return m >= Normal && m <= TestMode
}
