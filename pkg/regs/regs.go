// Package regs describes the register block and message RAM of an FDCAN
// (Bosch M_CAN compatible) peripheral as an addressable capability.
//
// The driver never touches memory directly. Everything goes through a Bus,
// which makes it possible to run the driver against real memory-mapped
// registers, a remote target reached over a serial link or a simulated
// peripheral.
package regs

// Bus is a 32-bit wide register space addressed by byte offset.
//
// Offsets are always word aligned. A Bus is owned by exactly one driver
// handle; implementations are not required to be safe for concurrent use
// unless they say so.
type Bus interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}

// Instance is the raw peripheral capability handed to the driver: the
// control/status register block plus the message RAM region.
type Instance interface {
	Registers() Bus
	MessageRAM() Bus
}

// Enabler is implemented by instances that need their bus clock switched on
// before the registers can be read.
type Enabler interface {
	Enable()
}

// Peripheral is the plain Instance implementation composed of two buses.
type Peripheral struct {
	Regs Bus
	RAM  Bus
}

func (p *Peripheral) Registers() Bus  { return p.Regs }
func (p *Peripheral) MessageRAM() Bus { return p.RAM }

// Modify performs a read-modify-write of the bits selected by mask.
func Modify(b Bus, offset, mask, value uint32) {
	v := b.Read32(offset)
	b.Write32(offset, (v&^mask)|(value&mask))
}

// SetBits sets or clears all bits in mask.
func SetBits(b Bus, offset, mask uint32, on bool) {
	if on {
		Modify(b, offset, mask, mask)
		return
	}
	Modify(b, offset, mask, 0)
}

// Window exposes a sub range of a larger address space as a Bus starting at
// offset zero.
func Window(b Bus, base uint32) Bus {
	return &window{bus: b, base: base}
}

type window struct {
	bus  Bus
	base uint32
}

func (w *window) Read32(offset uint32) uint32 {
	return w.bus.Read32(w.base + offset)
}

func (w *window) Write32(offset uint32, value uint32) {
	w.bus.Write32(w.base+offset, value)
}

// Memory is a plain word array implementing Bus. It has no side effects and
// is used for message RAM backing store.
type Memory []uint32

func NewMemory(bytes uint32) Memory {
	return make(Memory, bytes/4)
}

func (m Memory) Read32(offset uint32) uint32 {
	return m[offset/4]
}

func (m Memory) Write32(offset uint32, value uint32) {
	m[offset/4] = value
}
