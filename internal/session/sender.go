package session

import (
	"fmt"
	"strings"

	"github.com/rsteckler/cncd/internal/cncerr"
	"github.com/rsteckler/cncd/internal/protocol"
)

// lineWriter is the minimum a streamer needs to push a framed line to the
// wire; ControllerSession supplies this backed by serialport.Link.
type lineWriter interface {
	WriteLine(text string) error
}

// Sender is the line-flow streamer (§4.3): it never hands the firmware more
// than the variant's RX buffer capacity of unacknowledged payload, and
// pushes the next line as soon as room exists.
type Sender struct {
	port            string
	variant         protocol.ControllerVariant
	writer          lineWriter
	sink            Sink
	continueOnError bool
	stripBlank      bool

	window *outstandingWindow
	job    *jobContext
	held   bool
}

func newSender(port string, variant protocol.ControllerVariant, w lineWriter, sink Sink, continueOnError, stripBlank bool) *Sender {
	return &Sender{
		port:            port,
		variant:         variant,
		writer:          w,
		sink:            sink,
		continueOnError: continueOnError,
		stripBlank:      stripBlank,
		window:          newOutstandingWindow(variant),
	}
}

// Running reports whether a job is loaded (Workflow consults this only
// indirectly; the authoritative Running state lives in Workflow itself).
func (s *Sender) hasJob() bool { return s.job != nil }

// Load splits gcode into lines (optionally stripping blank-only lines),
// zeroes counters, and retains the line vector. Fails with SessionBusy if a
// job is already loaded and not finished (lines left to send, or sent lines
// not yet acknowledged).
func (s *Sender) Load(name, gcode string) error {
	if s.job != nil && (!s.job.done() || s.window.lineCount() > 0) {
		return cncerr.SessionBusy(s.port)
	}
	lines := strings.Split(gcode, "\n")
	if s.stripBlank {
		filtered := lines[:0]
		for _, l := range lines {
			if strings.TrimSpace(l) != "" {
				filtered = append(filtered, l)
			}
		}
		lines = filtered
	}
	s.job = newJobContext(name, lines)
	s.window.clear()
	s.held = false
	return nil
}

// Unload clears the job; fails if it is mid-flight (lines outstanding).
func (s *Sender) Unload() error {
	if s.job != nil && s.window.lineCount() > 0 {
		return cncerr.SessionBusy(s.port)
	}
	s.job = nil
	s.window.clear()
	return nil
}

// Next advances as many lines as the window allows, writing each over the
// wire and pushing a window entry per line, in lockstep per the data
// model's ordering guarantee. Returns the number of lines dispatched.
func (s *Sender) Next() (int, error) {
	if s.job == nil || s.held || s.job.hold {
		return 0, nil
	}
	dispatched := 0
	for s.job.linesSent < s.job.linesTotal {
		raw := s.job.lines[s.job.linesSent]
		payload := raw + "\n"
		length := len(payload)

		if length > s.window.capacity {
			s.job.linesSent++
			s.job.linesReceived++
			s.sink.Emit(Event{Kind: EventError, Port: s.port, ErrKind: string(cncerr.KindErrorLineTooLong),
				Message: fmt.Sprintf("line %d exceeds RX buffer, skipped", s.job.linesSent)})
			continue
		}
		if !s.window.fits(length) {
			break
		}

		if err := s.writer.WriteLine(raw); err != nil {
			return dispatched, cncerr.IoError(s.port, err)
		}
		s.window.push(length)
		s.job.linesSent++
		dispatched++
		s.sink.Emit(Event{Kind: EventSerialWrite, Port: s.port, Write: []byte(raw), WriteCtx: "job"})
	}
	s.emitStatus()
	return dispatched, nil
}

// Ack pops the head window entry on a terminal Ok/Error reply. A partial
// terminal (nothing outstanding) is a protocol violation.
func (s *Sender) Ack(reply protocol.Reply) error {
	if s.job == nil {
		return nil
	}
	if s.window.lineCount() == 0 {
		return cncerr.ProtocolDesync(s.port, "terminal reply with nothing outstanding in Sender")
	}
	s.window.pop()
	switch reply.Kind {
	case protocol.ReplyOk:
		s.job.linesReceived++
	case protocol.ReplyError:
		s.job.linesReceived++
		if !s.continueOnError {
			s.job.hold = true
			s.job.holdReason = fmt.Sprintf("error:%d", reply.Code)
		}
	}
	s.emitStatus()
	return nil
}

// Rewind resets the window and rewinds lines_sent to lines_received, per
// the data model's "outstanding window lifecycle" so a resumed job replays
// from the true last-acknowledged line. Invoked by Workflow on cancel.
func (s *Sender) Rewind() {
	if s.job != nil {
		s.job.linesSent = s.job.linesReceived
	}
	s.window.clear()
}

// SetContinueOnError changes whether a future error:NN reply pauses the
// job. It never touches an already-set hold — resuming is always an
// explicit client action (Workflow.Resume), never an implicit side effect
// of flipping this toggle.
func (s *Sender) SetContinueOnError(v bool) { s.continueOnError = v }

// Hold pauses dispatch without touching the window.
func (s *Sender) Hold() { s.held = true }

// Unhold resumes dispatch.
func (s *Sender) Unhold() { s.held = false }

// JobHeld reports whether the loaded job is held (e.g. on an unrecovered
// firmware error).
func (s *Sender) JobHeld() (bool, string) {
	if s.job == nil {
		return false, ""
	}
	return s.job.hold, s.job.holdReason
}

// ClearHold lifts a job-level error hold (distinct from the interactive
// pause Hold/Unhold pair), letting the job resume streaming.
func (s *Sender) ClearHold() {
	if s.job != nil {
		s.job.hold = false
		s.job.holdReason = ""
	}
}

// Done reports whether every line of the loaded job has been sent.
func (s *Sender) Done() bool { return s.job != nil && s.job.done() }

// Status returns the current sender:status snapshot.
func (s *Sender) Status() JobStatus {
	if s.job == nil {
		return JobStatus{}
	}
	return JobStatus{
		Name:          s.job.name,
		LinesTotal:    s.job.linesTotal,
		LinesSent:     s.job.linesSent,
		LinesReceived: s.job.linesReceived,
		Hold:          s.job.hold,
		HoldReason:    s.job.holdReason,
	}
}

func (s *Sender) emitStatus() {
	s.sink.Emit(Event{Kind: EventSenderStatus, Port: s.port, Job: s.Status()})
}

// windowLineCount exposes the outstanding line count for invariant checks
// and tests.
func (s *Sender) windowLineCount() int { return s.window.lineCount() }
