package fdcan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/roffe/fdcan/pkg/msgram"
)

// FrameFormat is the wire format of a frame.
type FrameFormat int

const (
	Classic FrameFormat = iota
	FD
)

func (f FrameFormat) String() string {
	if f == FD {
		return "fd"
	}
	return "classic"
}

// TxFrameHeader describes a frame handed to Transmit.
type TxFrameHeader struct {
	Len              int
	ID               Identifier
	FrameFormat      FrameFormat
	BitRateSwitching bool
	// Remote requests a remote frame. Only classic frames can be remote.
	Remote bool
	// Marker is copied into the TX event FIFO entry when StoreTxEvent is
	// set, so the caller can match events to frames.
	Marker       uint8
	StoreTxEvent bool
}

// Validate checks the header against the frame format rules.
func (h TxFrameHeader) Validate() error {
	if !msgram.ValidLen(h.Len) {
		return &FrameError{Reason: fmt.Sprintf("length %d is not a valid data length", h.Len)}
	}
	switch h.FrameFormat {
	case Classic:
		if h.Len > 8 {
			return &FrameError{Reason: fmt.Sprintf("classic frame cannot carry %d bytes", h.Len)}
		}
		if h.BitRateSwitching {
			return &FrameError{Reason: "bit rate switching requires fd format"}
		}
	case FD:
		if h.Remote {
			return &FrameError{Reason: "fd frames cannot be remote frames"}
		}
	default:
		return &FrameError{Reason: fmt.Sprintf("unknown frame format %d", h.FrameFormat)}
	}
	if h.ID.extended && h.ID.id > MaxExtendedID || !h.ID.extended && h.ID.id > MaxStandardID {
		return &FrameError{Reason: "identifier out of range"}
	}
	return nil
}

func (h TxFrameHeader) element() msgram.Header {
	var e msgram.Header
	e.SetID(h.ID.id, h.ID.extended)
	e.SetRTR(h.Remote)
	dlc, _ := msgram.LenToDLC(h.Len)
	e.SetDLC(dlc)
	e.SetFDF(h.FrameFormat == FD)
	e.SetBRS(h.BitRateSwitching)
	e.SetEFC(h.StoreTxEvent)
	e.SetMM(h.Marker)
	return e
}

func txHeaderFromElement(e msgram.Header) TxFrameHeader {
	h := TxFrameHeader{
		Len:              e.Len(),
		ID:               Identifier{id: e.ID(), extended: e.XTD()},
		BitRateSwitching: e.BRS(),
		Remote:           e.RTR(),
		Marker:           e.MM(),
		StoreTxEvent:     e.EFC(),
	}
	if e.FDF() {
		h.FrameFormat = FD
	}
	return h
}

// RxFrameInfo describes a frame read from a receive FIFO.
type RxFrameInfo struct {
	ID Identifier
	// Len is the payload length. For remote frames it is the requested
	// length and no payload is delivered.
	Len                 int
	RTR                 bool
	FrameFormat         FrameFormat
	BitRateSwitching    bool
	ErrorStateIndicator bool
	Timestamp           uint16
	// FilterIndex is the filter slot that accepted the frame. It is only
	// meaningful when FilterMatched is set; otherwise the frame was
	// accepted by the global non-matching policy.
	FilterIndex   uint8
	FilterMatched bool
}

func rxInfoFromElement(e msgram.Header) RxFrameInfo {
	info := RxFrameInfo{
		ID:                  Identifier{id: e.ID(), extended: e.XTD()},
		Len:                 e.Len(),
		RTR:                 e.RTR(),
		BitRateSwitching:    e.BRS(),
		ErrorStateIndicator: e.ESI(),
		Timestamp:           e.Timestamp(),
		FilterMatched:       !e.ANMF(),
	}
	if e.FDF() {
		info.FrameFormat = FD
	} else {
		// classic frames may carry DLC 9-15, the payload is still 8 bytes
		info.Len = min(info.Len, 8)
	}
	if info.FilterMatched {
		info.FilterIndex = e.FIDX()
	}
	return info
}

// TxEvent is an entry of the TX event FIFO.
type TxEvent struct {
	ID               Identifier
	Len              int
	FrameFormat      FrameFormat
	BitRateSwitching bool
	Marker           uint8
	Timestamp        uint16
	// Cancelled is set when the frame went out although a cancellation had
	// been requested.
	Cancelled bool
}

// Frame is a complete frame with its payload, used by the convenience
// helpers and the tooling.
type Frame struct {
	ID               Identifier
	FrameFormat      FrameFormat
	BitRateSwitching bool
	Remote           bool
	Data             []byte
	Timestamp        uint16
	Outgoing         bool
}

// NewFrame creates a classic frame and copies the data slice
func NewFrame(id Identifier, data []byte) *Frame {
	d := make([]byte, len(data))
	copy(d, data)
	return &Frame{ID: id, Data: d}
}

// NewFDFrame creates an fd frame and copies the data slice
func NewFDFrame(id Identifier, data []byte, brs bool) *Frame {
	f := NewFrame(id, data)
	f.FrameFormat = FD
	f.BitRateSwitching = brs
	return f
}

// Header returns the transmit header for the frame.
func (f *Frame) Header() TxFrameHeader {
	return TxFrameHeader{
		Len:              len(f.Data),
		ID:               f.ID,
		FrameFormat:      f.FrameFormat,
		BitRateSwitching: f.BitRateSwitching,
		Remote:           f.Remote,
	}
}

func frameFromInfo(info RxFrameInfo, data []byte) *Frame {
	f := &Frame{
		ID:               info.ID,
		FrameFormat:      info.FrameFormat,
		BitRateSwitching: info.BitRateSwitching,
		Remote:           info.RTR,
		Timestamp:        info.Timestamp,
	}
	if !info.RTR {
		f.Data = make([]byte, len(data))
		copy(f.Data, data)
	}
	return f
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *Frame) direction() string {
	if f.Outgoing {
		return "<o> || "
	}
	return "<i> || "
}

func (f *Frame) flags() string {
	switch {
	case f.Remote:
		return "rtr"
	case f.FrameFormat == FD && f.BitRateSwitching:
		return "brs"
	case f.FrameFormat == FD:
		return "fd "
	}
	return "   "
}

func (f *Frame) hexView() string {
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	return hexView.String()
}

func (f *Frame) String() string {
	var out strings.Builder
	out.WriteString(f.direction())
	out.WriteString(f.ID.String() + " || ")
	out.WriteString(f.flags() + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", f.hexView()))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f *Frame) ColorString() string {
	var out strings.Builder
	out.WriteString(f.direction())
	out.WriteString(green("%s", f.ID.String()) + " || ")
	out.WriteString(f.flags() + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(red("%-23s", f.hexView()))
	out.WriteString(" || ")
	out.WriteString(yellow("%s", onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
