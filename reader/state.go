package reader

import "tradedash/models"

// input enumerates what can drive a connection state transition.
type input int

const (
	inputConnect    input = iota // explicit connect or scheduled reconnect
	inputOpened                  // handshake completed
	inputClosed                  // dial failed, read failed or peer closed
	inputDisconnect              // caller asked to tear down
)

func (i input) String() string {
	switch i {
	case inputConnect:
		return "connect"
	case inputOpened:
		return "opened"
	case inputClosed:
		return "closed"
	case inputDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// next is the connection state machine:
//
//	Disconnected --connect--> Connecting --opened--> Connected
//	Connecting   --closed---> Disconnected
//	Connected    --closed---> Disconnected
//	any          --disconnect-> Disconnected
//
// ok is false when the input does not change the state.
func next(s models.ConnectionState, in input) (models.ConnectionState, bool) {
	switch in {
	case inputConnect:
		if s == models.Disconnected {
			return models.Connecting, true
		}
	case inputOpened:
		if s == models.Connecting {
			return models.Connected, true
		}
	case inputClosed:
		if s == models.Connecting || s == models.Connected {
			return models.Disconnected, true
		}
	case inputDisconnect:
		if s != models.Disconnected {
			return models.Disconnected, true
		}
	}
	return s, false
}
