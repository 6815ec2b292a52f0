package session

import "github.com/rsteckler/cncd/internal/protocol"

// FeedItem is a single one-off command queued outside of job streaming
// (MDI, dispatcher-issued G-code, event-trigger commands).
type FeedItem struct {
	Text    string
	Context string
}

// Feeder is the FIFO of one-off commands drained into the serial write
// path when the Workflow is not Running (§4.4). It never contends with
// Sender for the ack stream: Runner routes each terminal reply to whichever
// of {Sender, Feeder, JogLoop} owns the oldest in-flight write.
type Feeder struct {
	port   string
	writer lineWriter
	sink   Sink

	queue   []FeedItem
	waiting bool // a feeder line is outstanding, awaiting ack
}

func newFeeder(port string, w lineWriter, sink Sink) *Feeder {
	return &Feeder{port: port, writer: w, sink: sink}
}

// Feed appends items to the queue.
func (f *Feeder) Feed(items ...FeedItem) {
	f.queue = append(f.queue, items...)
	f.emitStatus()
}

// Next dispatches the single head item iff nothing is currently awaiting
// ack. Returns true if a line was written.
func (f *Feeder) Next() (bool, error) {
	if f.waiting || len(f.queue) == 0 {
		return false, nil
	}
	item := f.queue[0]
	if err := f.writer.WriteLine(item.Text); err != nil {
		return false, err
	}
	f.waiting = true
	f.sink.Emit(Event{Kind: EventSerialWrite, Port: f.port, Write: []byte(item.Text), WriteCtx: "mdi"})
	return true, nil
}

// Ack pops the head item on a terminal reply, consuming one slot.
func (f *Feeder) Ack(reply protocol.Reply) {
	if !f.waiting {
		return
	}
	if len(f.queue) > 0 {
		f.queue = f.queue[1:]
	}
	f.waiting = false
	f.emitStatus()
}

// Waiting reports whether the Feeder currently owns the in-flight write.
func (f *Feeder) Waiting() bool { return f.waiting }

// Len is the current queue depth, used for feeder:status.
func (f *Feeder) Len() int { return len(f.queue) }

func (f *Feeder) emitStatus() {
	f.sink.Emit(Event{Kind: EventFeederStatus, Port: f.port, FeederLen: len(f.queue)})
}
