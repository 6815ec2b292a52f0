// Package hub implements the SessionHub and Dispatcher: the fan-out event
// bus and verb table that sit between bound network clients and a
// controller session (spec §4.9/§4.10).
package hub

// Message is the wire shape for the bidirectional Socket API: every
// message, in either direction, is {event, args}.
type Message struct {
	Event string `json:"event"`
	Args  []any  `json:"args,omitempty"`
}

// ErrorMessage is what an unrecognized or unauthorized inbound message (or
// a failed operation) gets back instead of a state mutation.
type ErrorMessage struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
