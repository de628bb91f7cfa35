package adapter

import (
	"fmt"
	"time"

	"github.com/roffe/fdcan"
)

type EventType int

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

var eventTypeNames = [...]string{
	EventTypeError:   "ERROR",
	EventTypeWarning: "WARN",
	EventTypeInfo:    "INFO",
	EventTypeDebug:   "DEBUG",
}

func (et EventType) String() string {
	if et < 0 || int(et) >= len(eventTypeNames) {
		return "UNKNOWN"
	}
	return eventTypeNames[et]
}

// Event is something the pumps want the user to know about that does not
// stop the adapter. Fatal problems go to Err instead.
type Event struct {
	Type    EventType
	Time    time.Time
	Adapter string
	Details string
	// Err is set for error events.
	Err error
	// Frame is set for debug events tracing a frame through the pumps.
	Frame *fdcan.Frame
}

func (e Event) String() string {
	return fmt.Sprintf("%s [%s] %s: %s", e.Time.Format("15:04:05.000"), e.Type, e.Adapter, e.Details)
}
