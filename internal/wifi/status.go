package wifi

import (
	"fmt"
	"net"
)

// ClientState is the station role's sub-state.
type ClientState int

// Client states. Starting, Connecting and WaitingIP are transitional.
const (
	ClientStopped ClientState = iota
	ClientStarting
	ClientDisconnected
	ClientConnecting
	ClientWaitingIP
	ClientNoIP
	ClientConnected
)

func (s ClientState) String() string {
	switch s {
	case ClientStopped:
		return "Stopped"
	case ClientStarting:
		return "Starting"
	case ClientDisconnected:
		return "Disconnected"
	case ClientConnecting:
		return "Connecting"
	case ClientWaitingIP:
		return "WaitingIP"
	case ClientNoIP:
		return "NoIP"
	case ClientConnected:
		return "Connected"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

// Transitional reports whether the state is expected to change
// without further action.
func (s ClientState) Transitional() bool {
	switch s {
	case ClientStarting, ClientConnecting, ClientWaitingIP:
		return true
	}
	return false
}

// APState is the local access point role's sub-state.
type APState int

// Access point states. Starting and WaitingIP are transitional.
const (
	APStopped APState = iota
	APStarting
	APWaitingIP
	APNoIP
	APReady
)

func (s APState) String() string {
	switch s {
	case APStopped:
		return "Stopped"
	case APStarting:
		return "Starting"
	case APWaitingIP:
		return "WaitingIP"
	case APNoIP:
		return "NoIP"
	case APReady:
		return "Ready"
	default:
		return fmt.Sprintf("APState(%d)", int(s))
	}
}

// Transitional reports whether the state is expected to change
// without further action.
func (s APState) Transitional() bool {
	return s == APStarting || s == APWaitingIP
}

// Status is a snapshot of both roles of the wireless interface.
type Status struct {
	Client ClientState
	IP     net.IP // Client address, set once Connected.
	AP     APState
}

// Transitional is true if either role is transitional.
func (s Status) Transitional() bool {
	return s.Client.Transitional() || s.AP.Transitional()
}

// connected is the only status accepted after the link settles.
func (s Status) connected() bool {
	return s.Client == ClientConnected && s.AP == APReady
}

func (s Status) String() string {
	client := s.Client.String()
	if s.Client == ClientConnected && s.IP != nil {
		client = fmt.Sprintf("%s(%s)", client, s.IP)
	}
	return fmt.Sprintf("client=%s ap=%s", client, s.AP)
}
