package msgram

// Header is the two word header shared by RX elements, TX buffers and TX
// events. Word 0 carries the identifier, word 1 length and bookkeeping
// fields whose meaning depends on the element kind.
type Header struct {
	W0 uint32
	W1 uint32
}

const (
	idMask      = 0x1FFFFFFF
	stdIDShift  = 18
	stdIDMask   = 0x7FF
	w0RTR       = 1 << 29
	w0XTD       = 1 << 30
	w0ESI       = 1 << 31
	w1BRS       = 1 << 20
	w1FDF       = 1 << 21
	w1EFC       = 1 << 23
	w1ANMF      = 1 << 31
	dlcShift    = 16
	etShift     = 22
	fidxShift   = 24
	markerShift = 24
)

func setBit(w *uint32, bit uint32, on bool) {
	if on {
		*w |= bit
	} else {
		*w &^= bit
	}
}

// ID returns the identifier. Standard identifiers are stored in bits 28:18
// and returned right aligned.
func (h *Header) ID() uint32 {
	if h.XTD() {
		return h.W0 & idMask
	}
	return (h.W0 >> stdIDShift) & stdIDMask
}

// SetID stores id as an extended identifier when extended is set, as a
// standard identifier otherwise.
func (h *Header) SetID(id uint32, extended bool) {
	h.W0 &^= idMask
	if extended {
		h.W0 |= id & idMask
	} else {
		h.W0 |= (id & stdIDMask) << stdIDShift
	}
	setBit(&h.W0, w0XTD, extended)
}

func (h *Header) XTD() bool { return h.W0&w0XTD != 0 }
func (h *Header) RTR() bool { return h.W0&w0RTR != 0 }
func (h *Header) SetRTR(on bool) { setBit(&h.W0, w0RTR, on) }
func (h *Header) ESI() bool { return h.W0&w0ESI != 0 }
func (h *Header) SetESI(on bool) { setBit(&h.W0, w0ESI, on) }
func (h *Header) FDF() bool { return h.W1&w1FDF != 0 }
func (h *Header) SetFDF(on bool) { setBit(&h.W1, w1FDF, on) }
func (h *Header) BRS() bool { return h.W1&w1BRS != 0 }
func (h *Header) SetBRS(on bool) { setBit(&h.W1, w1BRS, on) }
func (h *Header) EFC() bool { return h.W1&w1EFC != 0 }
func (h *Header) SetEFC(on bool) { setBit(&h.W1, w1EFC, on) }
func (h *Header) ANMF() bool { return h.W1&w1ANMF != 0 }
func (h *Header) SetANMF(on bool) { setBit(&h.W1, w1ANMF, on) }
func (h *Header) Timestamp() uint16 { return uint16(h.W1) }
func (h *Header) DLC() uint8 { return uint8(h.W1>>dlcShift) & 0xF }
func (h *Header) FIDX() uint8 { return uint8(h.W1>>fidxShift) & 0x7F }
func (h *Header) MM() uint8 { return uint8(h.W1 >> markerShift) }
func (h *Header) EventType() uint8 { return uint8(h.W1>>etShift) & 0x3 }
func (h *Header) Len() int { return DLCToLen(h.DLC()) }
func (h *Header) SetTimestamp(ts uint16) { h.W1 = h.W1&^0xFFFF | uint32(ts) }

func (h *Header) SetDLC(dlc uint8) {
	h.W1 = h.W1&^(0xF<<dlcShift) | uint32(dlc&0xF)<<dlcShift
}

func (h *Header) SetFIDX(idx uint8) {
	h.W1 = h.W1&^(0x7F<<fidxShift) | uint32(idx&0x7F)<<fidxShift
}

// SetMM sets the message marker of a TX element. It shares bits with FIDX
// and ANMF of a RX element.
func (h *Header) SetMM(mm uint8) {
	h.W1 = h.W1&^(0xFF<<markerShift) | uint32(mm)<<markerShift
}

func (h *Header) SetEventType(et uint8) {
	h.W1 = h.W1&^(0x3<<etShift) | uint32(et&0x3)<<etShift
}

// TX event types stored in the ET field.
const (
	EventTransmitted       uint8 = 1
	EventSentDespiteCancel uint8 = 2
)

// Standard filter types (SFT).
const (
	FilterRange    uint8 = 0
	FilterDual     uint8 = 1
	FilterClassic  uint8 = 2
	FilterDisabled uint8 = 3
)

// Filter element configurations (SFEC/EFEC).
const (
	ConfigDisable       uint8 = 0
	ConfigFIFO0         uint8 = 1
	ConfigFIFO1         uint8 = 2
	ConfigReject        uint8 = 3
	ConfigPriority      uint8 = 4
	ConfigPriorityFIFO0 uint8 = 5
	ConfigPriorityFIFO1 uint8 = 6
	ConfigNotUsed       uint8 = 7
)

// StandardFilter is a decoded standard filter element.
type StandardFilter struct {
	Type   uint8
	Config uint8
	ID1    uint32
	ID2    uint32
}

func (f StandardFilter) Encode() uint32 {
	return uint32(f.Type&0x3)<<30 |
		uint32(f.Config&0x7)<<27 |
		(f.ID1&stdIDMask)<<16 |
		f.ID2&stdIDMask
}

func DecodeStandardFilter(w uint32) StandardFilter {
	return StandardFilter{
		Type:   uint8(w >> 30),
		Config: uint8(w>>27) & 0x7,
		ID1:    (w >> 16) & stdIDMask,
		ID2:    w & stdIDMask,
	}
}

// ExtendedFilter is a decoded extended filter element. Type uses the same
// numbering as the standard filter type; the hardware range-without-mask
// variant (EFT=3) is decoded as FilterRange with NoMask set.
type ExtendedFilter struct {
	Type   uint8
	Config uint8
	ID1    uint32
	ID2    uint32
	NoMask bool
}

// Encode returns words F0 and F1 of the element. A disabled extended filter
// is expressed by Config == ConfigDisable; the EFT field has no disabled
// value.
func (f ExtendedFilter) Encode() (uint32, uint32) {
	f0 := uint32(f.Config&0x7)<<29 | f.ID1&idMask
	eft := uint32(f.Type & 0x3)
	if f.Type == FilterDisabled {
		eft = uint32(FilterClassic)
	}
	if f.Type == FilterRange && f.NoMask {
		eft = 3
	}
	f1 := eft<<30 | f.ID2&idMask
	return f0, f1
}

func DecodeExtendedFilter(f0, f1 uint32) ExtendedFilter {
	f := ExtendedFilter{
		Config: uint8(f0 >> 29),
		ID1:    f0 & idMask,
		ID2:    f1 & idMask,
		Type:   uint8(f1 >> 30),
	}
	if f.Type == 3 {
		f.Type = FilterRange
		f.NoMask = true
	}
	if f.Config == ConfigDisable {
		f.Type = FilterDisabled
	}
	return f
}

// ArbitrationKey orders frames the way the bus arbitrates them: the frame
// with the lower key wins. The key lays out the arbitration field bit for bit
// (base identifier, RTR or SRR, IDE, identifier extension, RTR), so a
// standard data frame beats an extended frame with the same base identifier.
func ArbitrationKey(id uint32, extended, remote bool) uint32 {
	var rtr uint32
	if remote {
		rtr = 1
	}
	if !extended {
		return (id&stdIDMask)<<21 | rtr<<20
	}
	base := (id >> 18) & stdIDMask
	ext := id & 0x3FFFF
	return base<<21 | 1<<20 | 1<<19 | ext<<1 | rtr
}

// ArbitrationKey returns the arbitration key of the frame the header
// describes.
func (h *Header) ArbitrationKey() uint32 {
	return ArbitrationKey(h.ID(), h.XTD(), h.RTR())
}
