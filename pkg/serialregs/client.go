// Package serialregs reaches the registers of a remote FDCAN over a serial
// line, so the driver can run on a host while the peripheral lives on a
// target board.
//
// The protocol is line based ASCII, every line terminated by CR:
//
//	E                     switch on the peripheral clock, reply K
//	r<s><offset>          read, reply =<value>
//	w<s><offset><value>   write, reply K
//
// <s> is c for the register block and m for the message RAM, offset and
// value are 8 hex digits. Errors are replied as !<message>, unknown commands
// as BEL.
package serialregs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/fdcan/pkg/regs"
	"go.bug.st/serial"
)

var (
	ErrRemote         = errors.New("remote error")
	ErrUnknownCommand = errors.New("unknown command")
	ErrTimeout        = errors.New("timeout waiting for reply")
	ErrBadReply       = errors.New("malformed reply")
)

const (
	SpaceRegisters byte = 'c'
	SpaceRAM       byte = 'm'
)

// Client is a regs.Instance backed by a remote target.
//
// regs.Bus has no way to return errors, so a failed transaction reads as
// zero and the first failure is kept for Err.
type Client struct {
	mu sync.Mutex
	rw io.ReadWriter

	buf   bytes.Buffer
	rbuf  []byte
	first error

	attempts uint
	delay    time.Duration
	timeout  time.Duration
	debug    bool
}

type Option func(c *Client)

// WithAttempts sets how often a transaction is tried before giving up.
func WithAttempts(n uint) Option {
	return func(c *Client) {
		c.attempts = n
	}
}

// WithTimeout sets how long to wait for a reply line.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.delay = d
	}
}

func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// NewClient speaks the protocol over rw.
func NewClient(rw io.ReadWriter, opts ...Option) *Client {
	c := &Client{
		rw:       rw,
		rbuf:     make([]byte, 64),
		attempts: 3,
		delay:    5 * time.Millisecond,
		timeout:  250 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open opens a serial port and returns a client using it.
func Open(port string, baudrate int, opts ...Option) (*Client, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open com port %q : %v", port, err)
	}
	if err := p.SetReadTimeout(10 * time.Millisecond); err != nil {
		p.Close()
		return nil, err
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()
	return NewClient(p, opts...), nil
}

// Close closes the underlying connection when it can be closed.
func (c *Client) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Err returns the first transaction error, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.first == nil {
		c.first = err
	}
	if c.debug {
		log.Println("!! " + err.Error())
	}
}

// Enable switches on the peripheral clock on the target.
func (c *Client) Enable() {
	if _, err := c.Do("E"); err != nil {
		c.fail(err)
	}
}

func (c *Client) Registers() regs.Bus {
	return &space{c: c, id: SpaceRegisters}
}

func (c *Client) MessageRAM() regs.Bus {
	return &space{c: c, id: SpaceRAM}
}

// Do sends one command line and returns the reply line. Transport errors and
// timeouts are retried; error replies from the target are not.
func (c *Client) Do(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var reply string
	err := retry.Do(
		func() error {
			c.buf.Reset()
			if c.debug {
				log.Println(">> " + cmd)
			}
			if _, err := io.WriteString(c.rw, cmd+"\r"); err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to write: %w", err))
			}
			line, err := c.readLine()
			if err != nil {
				return err
			}
			if c.debug {
				log.Println("<< " + line)
			}
			switch {
			case line == "\a":
				return retry.Unrecoverable(fmt.Errorf("%w: %q", ErrUnknownCommand, cmd))
			case strings.HasPrefix(line, "!"):
				return retry.Unrecoverable(fmt.Errorf("%w: %s", ErrRemote, line[1:]))
			}
			reply = line
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return reply, err
}

type deadliner interface {
	SetReadDeadline(time.Time) error
}

func (c *Client) readLine() (string, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := c.rw.(deadliner); ok {
		d.SetReadDeadline(deadline)
		defer d.SetReadDeadline(time.Time{})
	}
	for {
		if i := bytes.IndexByte(c.buf.Bytes(), '\r'); i >= 0 {
			line := string(c.buf.Next(i + 1)[:i])
			return line, nil
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		n, err := c.rw.Read(c.rbuf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return "", ErrTimeout
			}
			return "", retry.Unrecoverable(fmt.Errorf("failed to read: %w", err))
		}
		c.buf.Write(c.rbuf[:n])
	}
}

type space struct {
	c  *Client
	id byte
}

func (s *space) Read32(offset uint32) uint32 {
	reply, err := s.c.Do(fmt.Sprintf("r%c%08X", s.id, offset))
	if err != nil {
		s.c.fail(fmt.Errorf("read %c%08X: %w", s.id, offset, err))
		return 0
	}
	if len(reply) != 9 || reply[0] != '=' {
		s.c.fail(fmt.Errorf("read %c%08X: %w: %q", s.id, offset, ErrBadReply, reply))
		return 0
	}
	v, err := strconv.ParseUint(reply[1:], 16, 32)
	if err != nil {
		s.c.fail(fmt.Errorf("read %c%08X: %w: %v", s.id, offset, ErrBadReply, err))
		return 0
	}
	return uint32(v)
}

func (s *space) Write32(offset uint32, value uint32) {
	reply, err := s.c.Do(fmt.Sprintf("w%c%08X%08X", s.id, offset, value))
	if err != nil {
		s.c.fail(fmt.Errorf("write %c%08X: %w", s.id, offset, err))
		return
	}
	if reply != "K" {
		s.c.fail(fmt.Errorf("write %c%08X: %w: %q", s.id, offset, ErrBadReply, reply))
	}
}
