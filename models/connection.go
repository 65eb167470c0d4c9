package models

import "encoding/json"

// ConnectionState is the lifecycle state of the push channel.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Public collapses the internal state onto the two values shown to users.
// A connection that is still being established is not connected.
func (s ConnectionState) Public() ConnectionState {
	if s == Connected {
		return Connected
	}
	return Disconnected
}

func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
