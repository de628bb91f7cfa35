// Package msgram knows the fixed layout of the FDCAN message RAM and how the
// elements stored in it are encoded.
//
// The layout is not configurable on this peripheral: 28 standard filters,
// 8 extended filters, two receive FIFOs of 3 elements, a 3 element TX event
// FIFO and 3 TX buffers, 212 words in total.
package msgram

const (
	StandardFilterCount = 28
	ExtendedFilterCount = 8
	RxFIFODepth         = 3
	TxEventDepth        = 3
	TxBufferCount       = 3

	// ElementSize is the size of a RX or TX element in bytes: two header
	// words and 64 bytes of data.
	ElementSize = 72
	// EventElementSize is the size of a TX event element in bytes.
	EventElementSize = 8
	// DataWords is the maximum number of data words in an element.
	DataWords = 16

	StandardFilterOffset uint32 = 0x000
	ExtendedFilterOffset uint32 = 0x070
	RxFIFO0Offset        uint32 = 0x0B0
	RxFIFO1Offset        uint32 = 0x188
	TxEventOffset        uint32 = 0x260
	TxBufferOffset       uint32 = 0x278

	// Size of the message RAM in bytes.
	Size uint32 = 0x350
)

func StandardFilterAddr(slot int) uint32 {
	return StandardFilterOffset + uint32(slot)*4
}

func ExtendedFilterAddr(slot int) uint32 {
	return ExtendedFilterOffset + uint32(slot)*8
}

// RxElementAddr returns the address of element idx of receive FIFO fifo.
func RxElementAddr(fifo, idx int) uint32 {
	base := RxFIFO0Offset
	if fifo == 1 {
		base = RxFIFO1Offset
	}
	return base + uint32(idx)*ElementSize
}

func TxBufferAddr(idx int) uint32 {
	return TxBufferOffset + uint32(idx)*ElementSize
}

func TxEventAddr(idx int) uint32 {
	return TxEventOffset + uint32(idx)*EventElementSize
}

var dlcToLen = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLCToLen converts a data length code to a byte count.
func DLCToLen(dlc uint8) int {
	return dlcToLen[dlc&0xF]
}

// LenToDLC converts a byte count to a data length code. ok is false when n
// is not one of the lengths a CAN-FD frame can carry.
func LenToDLC(n int) (dlc uint8, ok bool) {
	if n >= 0 && n <= 8 {
		return uint8(n), true
	}
	switch n {
	case 12:
		return 9, true
	case 16:
		return 10, true
	case 20:
		return 11, true
	case 24:
		return 12, true
	case 32:
		return 13, true
	case 48:
		return 14, true
	case 64:
		return 15, true
	default:
		return 0, false
	}
}

// ValidLen reports whether n is a valid CAN-FD payload length.
func ValidLen(n int) bool {
	_, ok := LenToDLC(n)
	return ok
}

// Words returns the number of 32-bit words needed to hold n bytes.
func Words(n int) int {
	return (n + 3) / 4
}

// PutBytes packs data little endian into words. words must hold at least
// Words(len(data)) entries.
func PutBytes(words []uint32, data []byte) {
	for i := 0; i < Words(len(data)); i++ {
		var w uint32
		for b := 0; b < 4; b++ {
			if j := i*4 + b; j < len(data) {
				w |= uint32(data[j]) << (8 * b)
			}
		}
		words[i] = w
	}
}

// Bytes unpacks the first n bytes from little endian words into dst and
// returns dst[:n].
func Bytes(dst []byte, words []uint32, n int) []byte {
	dst = dst[:n]
	for i := range dst {
		dst[i] = byte(words[i/4] >> (8 * (i % 4)))
	}
	return dst
}
