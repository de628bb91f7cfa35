package serialregs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/roffe/fdcan/pkg/regs"
	"go.bug.st/serial"
)

// Server answers protocol requests against a local regs.Instance.
type Server struct {
	inst  regs.Instance
	reg   regs.Bus
	ram   regs.Bus
	Debug bool
}

func NewServer(inst regs.Instance) *Server {
	return &Server{
		inst: inst,
		reg:  inst.Registers(),
		ram:  inst.MessageRAM(),
	}
}

// ListenAndServe opens a serial port and serves requests on it until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string, baudrate int) error {
	mode := &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q : %v", port, err)
	}
	defer p.Close()
	if err := p.SetReadTimeout(10 * time.Millisecond); err != nil {
		return err
	}
	p.ResetInputBuffer()
	return s.Serve(ctx, p)
}

// Serve handles one command per CR terminated line until the connection is
// closed or ctx is cancelled. A closed connection is not an error.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) error {
	buff := bytes.NewBuffer(nil)
	readBuffer := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := rw.Read(readBuffer)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("failed to read: %w", err)
		}
		for _, b := range readBuffer[:n] {
			if b != '\r' {
				buff.WriteByte(b)
				continue
			}
			reply := s.handle(buff.Bytes())
			if s.Debug {
				log.Printf("<< %q >> %q", buff.String(), reply)
			}
			buff.Reset()
			if _, err := io.WriteString(rw, reply+"\r"); err != nil {
				return fmt.Errorf("failed to write: %w", err)
			}
		}
	}
}

func (s *Server) handle(line []byte) string {
	if len(line) == 0 {
		return "\a"
	}
	switch line[0] {
	case 'E':
		if e, ok := s.inst.(regs.Enabler); ok {
			e.Enable()
		}
		return "K"
	case 'r':
		if len(line) != 10 {
			return "!bad length"
		}
		bus, off, err := s.target(line[1], line[2:10])
		if err != nil {
			return "!" + err.Error()
		}
		return fmt.Sprintf("=%08X", bus.Read32(off))
	case 'w':
		if len(line) != 18 {
			return "!bad length"
		}
		bus, off, err := s.target(line[1], line[2:10])
		if err != nil {
			return "!" + err.Error()
		}
		v, err := strconv.ParseUint(string(line[10:18]), 16, 32)
		if err != nil {
			return "!bad value"
		}
		bus.Write32(off, uint32(v))
		return "K"
	}
	return "\a"
}

func (s *Server) target(space byte, offset []byte) (regs.Bus, uint32, error) {
	off, err := strconv.ParseUint(string(offset), 16, 32)
	if err != nil {
		return nil, 0, errors.New("bad offset")
	}
	if off%4 != 0 {
		return nil, 0, errors.New("unaligned offset")
	}
	switch space {
	case SpaceRegisters:
		return s.reg, uint32(off), nil
	case SpaceRAM:
		return s.ram, uint32(off), nil
	}
	return nil, 0, fmt.Errorf("unknown space %q", space)
}
