// Package session implements the controller session: the line-flow
// streamer, protocol runner, feeder/MDI queue, workflow state machine, jog
// loop, and machine-status aggregator that sit between a serial byte stream
// and a client's high-level intents.
package session

import "github.com/rsteckler/cncd/internal/protocol"

// windowEntry is one sent-but-unacknowledged line in the OutstandingWindow.
type windowEntry struct {
	length int // byte length including terminator, counted toward capacity
}

// outstandingWindow is the bounded FIFO of in-flight commands described in
// the data model: CharacterCounting bounds total bytes against the
// firmware's RX buffer, SendResponse allows exactly one entry.
type outstandingWindow struct {
	proto    protocol.StreamProtocol
	capacity int
	entries  []windowEntry
	used     int
}

func newOutstandingWindow(variant protocol.ControllerVariant) *outstandingWindow {
	return &outstandingWindow{
		proto:    variant.StreamProtocol(),
		capacity: variant.RXBufferCapacity(),
	}
}

// fits reports whether an entry of the given byte length can be pushed
// without exceeding capacity.
func (w *outstandingWindow) fits(length int) bool {
	if w.proto == protocol.SendResponse {
		return len(w.entries) == 0
	}
	return w.used+length <= w.capacity
}

// push records a newly-sent line. Caller must have checked fits first; push
// commits the length atomically with the send per the data model's ordering
// guarantee (push happens-before the corresponding pop).
func (w *outstandingWindow) push(length int) {
	w.entries = append(w.entries, windowEntry{length: length})
	w.used += length
}

// pop removes the oldest outstanding entry, on a terminal Ok or Error reply.
func (w *outstandingWindow) pop() bool {
	if len(w.entries) == 0 {
		return false
	}
	head := w.entries[0]
	w.entries = w.entries[1:]
	w.used -= head.length
	return true
}

// lineCount is the number of entries currently outstanding.
func (w *outstandingWindow) lineCount() int { return len(w.entries) }

// clear empties the window, used on rewind (cancel, alarm, reset).
func (w *outstandingWindow) clear() {
	w.entries = nil
	w.used = 0
}
