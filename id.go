package fdcan

import (
	"fmt"

	"github.com/roffe/fdcan/pkg/msgram"
)

const (
	MaxStandardID uint32 = 0x7FF
	MaxExtendedID uint32 = 0x1FFFFFFF
)

// Identifier is either an 11-bit standard or a 29-bit extended CAN
// identifier.
type Identifier struct {
	id       uint32
	extended bool
}

// StandardID returns a standard identifier. ok is false when id does not
// fit in 11 bits.
func StandardID(id uint32) (Identifier, bool) {
	if id > MaxStandardID {
		return Identifier{}, false
	}
	return Identifier{id: id}, true
}

// ExtendedID returns an extended identifier. ok is false when id does not
// fit in 29 bits.
func ExtendedID(id uint32) (Identifier, bool) {
	if id > MaxExtendedID {
		return Identifier{}, false
	}
	return Identifier{id: id, extended: true}, true
}

// MustStandardID is like StandardID but panics on an out of range id.
func MustStandardID(id uint32) Identifier {
	i, ok := StandardID(id)
	if !ok {
		panic(fmt.Sprintf("standard id %X out of range", id))
	}
	return i
}

// MustExtendedID is like ExtendedID but panics on an out of range id.
func MustExtendedID(id uint32) Identifier {
	i, ok := ExtendedID(id)
	if !ok {
		panic(fmt.Sprintf("extended id %X out of range", id))
	}
	return i
}

func (i Identifier) Raw() uint32 { return i.id }
func (i Identifier) IsExtended() bool { return i.extended }

// Priority returns the arbitration key of a data frame with this
// identifier. Lower keys win arbitration.
func (i Identifier) Priority() uint32 {
	return msgram.ArbitrationKey(i.id, i.extended, false)
}

// HigherPriorityThan reports whether a frame with identifier i wins
// arbitration against one with identifier o.
func (i Identifier) HigherPriorityThan(o Identifier) bool {
	return i.Priority() < o.Priority()
}

func (i Identifier) String() string {
	if i.extended {
		return fmt.Sprintf("0x%08X", i.id)
	}
	return fmt.Sprintf("0x%03X", i.id)
}
