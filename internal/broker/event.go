package broker

import "fmt"

// EventKind identifies an inbound event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventConnectionLost
	EventReconnecting
	EventMessage
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectionLost:
		return "connection lost"
	case EventReconnecting:
		return "reconnecting"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a connection lifecycle change or an inbound message.
type Event struct {
	Kind    EventKind
	Topic   string // EventMessage only.
	Payload []byte // EventMessage only.
	Err     error  // EventConnectionLost and EventError only.
}
