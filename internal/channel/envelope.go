// Package channel owns the single persistent event connection to the
// server. It serializes typed envelopes, fans inbound messages out to
// subscribers, and reconnects with exponential backoff after unexpected
// disconnects.
package channel

import "encoding/json"

// Envelope is the {event, data} message unit exchanged over the channel.
// Event is a dot-namespaced name ("call.invite", "message.receive", …);
// Data is left raw so each consumer decodes only the payloads it knows.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// State is the connection state of the channel.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}
