package adapter

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roffe/fdcan"
)

var ErrDroppedFrame = errors.New("incoming buffer full, dropped frame")

const (
	sendQueueSize  = 40
	recvQueueSize  = 1024
	eventQueueSize = 100
)

// BaseAdapter holds the channels every adapter exposes. Implementations
// embed it and feed the channels from their pumps.
type BaseAdapter struct {
	name string
	cfg  *AdapterConfig

	sendChan chan *fdcan.Frame
	recvChan chan *fdcan.Frame
	evtChan  chan Event

	errOnce sync.Once
	errChan chan error

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	return &BaseAdapter{
		name:      name,
		cfg:       cfg,
		sendChan:  make(chan *fdcan.Frame, sendQueueSize),
		recvChan:  make(chan *fdcan.Frame, recvQueueSize),
		evtChan:   make(chan Event, eventQueueSize),
		errChan:   make(chan error, 1),
		closeChan: make(chan struct{}),
	}
}

func (base *BaseAdapter) Name() string {
	return base.name
}

// Send returns the channel frames to transmit are written to.
func (base *BaseAdapter) Send() chan<- *fdcan.Frame {
	return base.sendChan
}

// Recv returns the channel received frames are delivered on.
func (base *BaseAdapter) Recv() <-chan *fdcan.Frame {
	return base.recvChan
}

// Err delivers one value: the fatal error that stopped the adapter, or nil
// after Close.
func (base *BaseAdapter) Err() <-chan error {
	return base.errChan
}

func (base *BaseAdapter) Event() <-chan Event {
	return base.evtChan
}

// Close signals the pumps to stop. It is safe to call more than once.
func (base *BaseAdapter) Close() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
		base.report(nil)
	})
}

// Fatal reports an error that stopped the adapter. Only the first report
// is delivered.
func (base *BaseAdapter) Fatal(err error) {
	base.report(fmt.Errorf("%s: %w", base.name, err))
}

func (base *BaseAdapter) report(err error) {
	base.errOnce.Do(func() {
		select {
		case base.errChan <- err:
		default:
			log.Printf("%s: error channel full, dropped %v", base.name, err)
		}
	})
}

func (base *BaseAdapter) emit(e Event) {
	e.Time = time.Now()
	e.Adapter = base.name
	select {
	case base.evtChan <- e:
	default:
		log.Printf("%s: event channel full, dropped %s", base.name, e.Details)
	}
}

func (base *BaseAdapter) Error(err error) {
	base.emit(Event{Type: EventTypeError, Details: err.Error(), Err: err})
}

func (base *BaseAdapter) Warnf(format string, args ...interface{}) {
	base.emit(Event{Type: EventTypeWarning, Details: fmt.Sprintf(format, args...)})
}

func (base *BaseAdapter) Infof(format string, args ...interface{}) {
	base.emit(Event{Type: EventTypeInfo, Details: fmt.Sprintf(format, args...)})
}

// traceFrame emits a debug event for f when the adapter runs with Debug.
func (base *BaseAdapter) traceFrame(f *fdcan.Frame) {
	if !base.cfg.Debug {
		return
	}
	base.emit(Event{Type: EventTypeDebug, Details: f.String(), Frame: f})
}
