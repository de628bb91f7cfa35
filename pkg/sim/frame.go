package sim

import (
	"fmt"
	"strings"
)

// Frame is a frame as seen on the simulated wire.
type Frame struct {
	ID       uint32
	Extended bool
	Remote   bool
	FD       bool
	BRS      bool
	ESI      bool
	Data     []byte
}

func (f Frame) String() string {
	var out strings.Builder
	if f.Extended {
		out.WriteString(fmt.Sprintf("%08X", f.ID))
	} else {
		out.WriteString(fmt.Sprintf("%03X", f.ID))
	}
	switch {
	case f.FD && f.BRS:
		out.WriteString(" fd+brs")
	case f.FD:
		out.WriteString(" fd")
	case f.Remote:
		out.WriteString(" rtr")
	}
	out.WriteString(fmt.Sprintf(" [%d]", len(f.Data)))
	for _, b := range f.Data {
		out.WriteString(fmt.Sprintf(" %02X", b))
	}
	return out.String()
}

// bitTimes is a rough length of the frame in nominal bit times, used to
// advance the timestamp counter.
func (f Frame) bitTimes() uint32 {
	n := uint32(47 + 8*len(f.Data))
	if f.Extended {
		n += 20
	}
	return n
}
