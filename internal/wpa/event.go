package wpa

import (
	"errors"
	"strings"
)

// Strings used by the control interfaces for unsolicited events. More info:
// https://w1.fi/wpa_supplicant/devel/ctrl_iface_page.html
const (
	eventScanResults = "CTRL-EVENT-SCAN-RESULTS"
	eventScanFailed  = "CTRL-EVENT-SCAN-FAILED"
	eventTerminating = "CTRL-EVENT-TERMINATING"
)

// Event is an unsolicited message received from a control interface.
type Event interface {
	// Raw returns the string used by the control interface
	// to represent this event.
	Raw() string
}

// parseEvent parses the received msg into an Event.
func parseEvent(msg string) (Event, error) {
	if len(msg) == 0 {
		return nil, errors.New("empty message")
	}

	raw := msg

	// Events may be prefixed with a priority level, e.g. '<3>'.
	if msg[0] == '<' && len(msg) >= 3 && msg[2] == '>' {
		msg = msg[3:]
	}

	switch {
	case strings.HasPrefix(msg, eventScanResults):
		return EventScanResults(raw), nil
	case strings.HasPrefix(msg, eventScanFailed):
		return EventScanFailed(raw), nil
	case msg == eventTerminating:
		return EventTerminating(raw), nil
	default:
		return EventUnrecognized(raw), nil
	}
}

// EventScanResults is sent when a requested scan has completed and
// fresh results are available.
type EventScanResults string

// Raw satisfies the Event interface.
func (e EventScanResults) Raw() string { return string(e) }

// EventScanFailed is sent when a requested scan could not be performed.
type EventScanFailed string

// Raw satisfies the Event interface.
func (e EventScanFailed) Raw() string { return string(e) }

// EventTerminating is received when the daemon is exiting.
type EventTerminating string

// Raw satisfies the Event interface.
func (e EventTerminating) Raw() string { return string(e) }

// EventUnrecognized is a catch-all event for unrecognized
// events. Its Raw method returns the contents of the message.
type EventUnrecognized string

// Raw satisfies the Event interface.
func (e EventUnrecognized) Raw() string { return string(e) }
