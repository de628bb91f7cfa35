// Package adapter exposes an FDCAN peripheral through channels, the way host
// side CAN tooling talks to a bus: frames go in on Send, come out on Recv,
// and the adapter reports problems on Event and Err.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roffe/fdcan"
)

type Adapter interface {
	Name() string
	Open(context.Context) error
	Close() error
	Send() chan<- *fdcan.Frame
	Recv() <-chan *fdcan.Frame
	Err() <-chan error
	Event() <-chan Event
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	port := "no"
	if a.RequiresSerialPort {
		port = "yes"
	}
	return fmt.Sprintf("%-8s %-45s serial port: %s", a.Name, a.Description, port)
}

type AdapterConfig struct {
	Debug        bool
	Port         string
	PortBaudrate int

	// Clock is the peripheral kernel clock in Hz.
	Clock uint32
	// Bitrate is the nominal bitrate; DataBitrate enables FD with bit rate
	// switching when non zero.
	Bitrate     uint32
	DataBitrate uint32
	SamplePoint float64
	// Mode is the operating mode entered on Open, Normal when unset.
	Mode fdcan.Mode
	// CANFilter lists the standard identifiers to receive, everything is
	// received when empty.
	CANFilter []uint32

	// PollInterval is how often the receive FIFOs are drained.
	PollInterval time.Duration
	// SendAttempts bounds how often a frame is retried while every mailbox
	// is busy.
	SendAttempts uint

	// Trace logs every register access when set.
	Trace *slog.Logger
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*AdapterInfo)
)

// NewAdapter creates the adapter registered under name, ignoring case.
func NewAdapter(name string, cfg *AdapterConfig) (Adapter, error) {
	registryMu.RLock()
	info, found := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
	return info.New(cfg)
}

func RegisterAdapter(info *AdapterInfo) error {
	key := strings.ToLower(info.Name)
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[key]; found {
		return fmt.Errorf("adapter %s already registered", info.Name)
	}
	registry[key] = info
	return nil
}

func ListAdapterNames() []string {
	var out []string
	for _, info := range ListAdapters() {
		out = append(out, info.Name)
	}
	return out
}

// ListAdapters returns the registered adapters sorted by name.
func ListAdapters() []AdapterInfo {
	registryMu.RLock()
	out := make([]AdapterInfo, 0, len(registry))
	for _, info := range registry {
		out = append(out, *info)
	}
	registryMu.RUnlock()
	slices.SortFunc(out, func(a, b AdapterInfo) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out
}
