package fdcan

import (
	"fmt"

	"github.com/roffe/fdcan/pkg/msgram"
)

const (
	StandardFilterSlots = msgram.StandardFilterCount
	ExtendedFilterSlots = msgram.ExtendedFilterCount
)

// FilterKind selects how ID1 and ID2 of a filter are interpreted.
type FilterKind uint8

const (
	// FilterRange matches identifiers from ID1 to ID2 inclusive.
	FilterRange FilterKind = iota
	// FilterDual matches exactly ID1 or ID2.
	FilterDual
	// FilterBitMask matches when the identifier equals ID1 in every bit
	// set in ID2.
	FilterBitMask
	FilterDisabled
)

func (k FilterKind) String() string {
	switch k {
	case FilterRange:
		return "range"
	case FilterDual:
		return "dual"
	case FilterBitMask:
		return "mask"
	case FilterDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// FilterAction is what happens to a frame a filter matches.
type FilterAction uint8

const (
	ActionDisable FilterAction = iota
	StoreInFIFO0
	StoreInFIFO1
	Reject
	FlagHighPriority
	FlagHighPriorityAndStoreInFIFO0
	FlagHighPriorityAndStoreInFIFO1
)

func (a FilterAction) String() string {
	switch a {
	case ActionDisable:
		return "disable"
	case StoreInFIFO0:
		return "fifo0"
	case StoreInFIFO1:
		return "fifo1"
	case Reject:
		return "reject"
	case FlagHighPriority:
		return "priority"
	case FlagHighPriorityAndStoreInFIFO0:
		return "priority+fifo0"
	case FlagHighPriorityAndStoreInFIFO1:
		return "priority+fifo1"
	default:
		return "unknown"
	}
}

// StandardFilter is an acceptance filter for 11-bit identifiers.
type StandardFilter struct {
	Kind   FilterKind
	ID1    uint32
	ID2    uint32
	Action FilterAction
}

// ExtendedFilter is an acceptance filter for 29-bit identifiers.
type ExtendedFilter struct {
	Kind   FilterKind
	ID1    uint32
	ID2    uint32
	Action FilterAction
}

// DisabledStandardFilter returns a filter that never matches.
func DisabledStandardFilter() StandardFilter {
	return StandardFilter{Kind: FilterDisabled, Action: ActionDisable}
}

// DisabledExtendedFilter returns a filter that never matches.
func DisabledExtendedFilter() ExtendedFilter {
	return ExtendedFilter{Kind: FilterDisabled, Action: ActionDisable}
}

// AcceptAllStandardInto returns a filter matching every standard identifier
// and storing the frame in fifo.
func AcceptAllStandardInto(fifo int) StandardFilter {
	return StandardFilter{Kind: FilterBitMask, ID1: 0, ID2: 0, Action: storeIn(fifo)}
}

// AcceptAllExtendedInto returns a filter matching every extended identifier
// and storing the frame in fifo.
func AcceptAllExtendedInto(fifo int) ExtendedFilter {
	return ExtendedFilter{Kind: FilterBitMask, ID1: 0, ID2: 0, Action: storeIn(fifo)}
}

// RejectAllStandard returns a filter rejecting every standard identifier.
func RejectAllStandard() StandardFilter {
	return StandardFilter{Kind: FilterBitMask, Action: Reject}
}

// RejectAllExtended returns a filter rejecting every extended identifier.
func RejectAllExtended() ExtendedFilter {
	return ExtendedFilter{Kind: FilterBitMask, Action: Reject}
}

// SingleStandard matches exactly one identifier.
func SingleStandard(id uint32, action FilterAction) StandardFilter {
	return StandardFilter{Kind: FilterDual, ID1: id, ID2: id, Action: action}
}

// SingleExtended matches exactly one identifier.
func SingleExtended(id uint32, action FilterAction) ExtendedFilter {
	return ExtendedFilter{Kind: FilterDual, ID1: id, ID2: id, Action: action}
}

func storeIn(fifo int) FilterAction {
	if fifo == 1 {
		return StoreInFIFO1
	}
	return StoreInFIFO0
}

func validateFilter(kind FilterKind, id1, id2, max uint32, action FilterAction) error {
	if kind > FilterDisabled {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidFilter, kind)
	}
	if action > FlagHighPriorityAndStoreInFIFO1 {
		return fmt.Errorf("%w: unknown action %d", ErrInvalidFilter, action)
	}
	if kind == FilterDisabled {
		return nil
	}
	if id1 > max || id2 > max {
		return fmt.Errorf("%w: identifier out of range (max %X)", ErrInvalidFilter, max)
	}
	if kind == FilterRange && id1 > id2 {
		return fmt.Errorf("%w: empty range %X-%X", ErrInvalidFilter, id1, id2)
	}
	return nil
}

func (f StandardFilter) Validate() error {
	return validateFilter(f.Kind, f.ID1, f.ID2, MaxStandardID, f.Action)
}

func (f ExtendedFilter) Validate() error {
	return validateFilter(f.Kind, f.ID1, f.ID2, MaxExtendedID, f.Action)
}

func (f StandardFilter) element() msgram.StandardFilter {
	if f.Kind == FilterDisabled || f.Action == ActionDisable {
		return msgram.StandardFilter{Type: msgram.FilterDisabled, Config: msgram.ConfigDisable}
	}
	return msgram.StandardFilter{
		Type:   uint8(f.Kind),
		Config: uint8(f.Action),
		ID1:    f.ID1,
		ID2:    f.ID2,
	}
}

func (f ExtendedFilter) element() msgram.ExtendedFilter {
	if f.Kind == FilterDisabled || f.Action == ActionDisable {
		return msgram.ExtendedFilter{Type: msgram.FilterDisabled, Config: msgram.ConfigDisable}
	}
	return msgram.ExtendedFilter{
		Type:   uint8(f.Kind),
		Config: uint8(f.Action),
		ID1:    f.ID1,
		ID2:    f.ID2,
	}
}

func standardFromElement(e msgram.StandardFilter) StandardFilter {
	if e.Type == msgram.FilterDisabled || e.Config == msgram.ConfigDisable {
		return DisabledStandardFilter()
	}
	return StandardFilter{Kind: FilterKind(e.Type), ID1: e.ID1, ID2: e.ID2, Action: FilterAction(e.Config)}
}

func extendedFromElement(e msgram.ExtendedFilter) ExtendedFilter {
	if e.Type == msgram.FilterDisabled {
		return DisabledExtendedFilter()
	}
	return ExtendedFilter{Kind: FilterKind(e.Type), ID1: e.ID1, ID2: e.ID2, Action: FilterAction(e.Config)}
}

// NonMatchingPolicy is what happens to frames no filter matched.
type NonMatchingPolicy uint8

const (
	AcceptNonMatchingIntoFIFO0 NonMatchingPolicy = iota
	AcceptNonMatchingIntoFIFO1
	RejectNonMatching
)

// GlobalFilter is the global acceptance configuration applied after the
// filter lists.
type GlobalFilter struct {
	NonMatchingStandard  NonMatchingPolicy
	NonMatchingExtended  NonMatchingPolicy
	RejectRemoteStandard bool
	RejectRemoteExtended bool
}
