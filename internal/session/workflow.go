package session

import "github.com/rsteckler/cncd/internal/protocol"

// WorkflowState is the 4-state machine governing job execution (§4.5).
type WorkflowState int

const (
	Idle WorkflowState = iota
	Running
	Paused
	Cancelling
)

func (s WorkflowState) String() string {
	switch s {
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Cancelling:
		return "Cancelling"
	default:
		return "Idle"
	}
}

// realtimeWriter sends a single realtime byte outside the line-framed
// write path (spec §4.1/§6).
type realtimeWriter interface {
	WriteRealtime(b byte) error
}

// Workflow drives Idle/Running/Paused/Cancelling per the transition table
// in §4.5, coordinating Sender on start/pause/resume/stop and watching for
// the firmware's own Idle report to close out a cancel.
type Workflow struct {
	port    string
	variant protocol.ControllerVariant
	sender  *Sender
	rt      realtimeWriter
	sink    Sink

	state WorkflowState
}

func newWorkflow(port string, variant protocol.ControllerVariant, sender *Sender, rt realtimeWriter, sink Sink) *Workflow {
	return &Workflow{port: port, variant: variant, sender: sender, rt: rt, sink: sink, state: Idle}
}

func (w *Workflow) State() WorkflowState { return w.state }

func (w *Workflow) setState(s WorkflowState) {
	if w.state == s {
		return
	}
	w.state = s
	w.sink.Emit(Event{Kind: EventWorkflowState, Port: w.port, Workflow: s})
}

// Start transitions Idle -> Running and fills the Sender's window.
func (w *Workflow) Start() error {
	if w.state != Idle {
		return nil
	}
	w.setState(Running)
	_, err := w.sender.Next()
	return err
}

// Pause transitions Running -> Paused: feedhold byte, then Sender.Hold().
func (w *Workflow) Pause() error {
	if w.state != Running {
		return nil
	}
	if err := w.rt.WriteRealtime(w.variant.RealtimeBytes().FeedHold); err != nil {
		return err
	}
	w.sender.Hold()
	w.setState(Paused)
	return nil
}

// Resume transitions Paused -> Running: cycle-start byte, unhold, refill.
func (w *Workflow) Resume() error {
	if w.state != Paused {
		return nil
	}
	if err := w.rt.WriteRealtime(w.variant.RealtimeBytes().CycleStart); err != nil {
		return err
	}
	w.sender.Unhold()
	w.sender.ClearHold()
	w.setState(Running)
	_, err := w.sender.Next()
	return err
}

// Stop issues a soft reset and rewinds the Sender. From Running this enters
// Cancelling, which is a terminal-awaiting state closed out by ObserveIdle
// once the firmware itself reports Idle (guarding against soft-stop
// latency). From Paused it goes directly to Idle since nothing is in
// flight to wait out.
func (w *Workflow) Stop() error {
	switch w.state {
	case Running:
		if err := w.rt.WriteRealtime(w.variant.RealtimeBytes().SoftReset); err != nil {
			return err
		}
		w.sender.Rewind()
		w.setState(Cancelling)
	case Paused:
		if err := w.rt.WriteRealtime(w.variant.RealtimeBytes().SoftReset); err != nil {
			return err
		}
		w.sender.Rewind()
		w.setState(Idle)
	}
	return nil
}

// OnSenderError transitions Running -> Paused when the Sender halts a job on
// an unrecovered firmware error (continueOnError=false); the firmware isn't
// issued a feedhold byte since it already stopped acking on its own.
func (w *Workflow) OnSenderError() {
	if w.state == Running {
		w.setState(Paused)
	}
}

// ObserveIdle is called by Runner when CachedState.ActiveState transitions
// to "Idle"; it closes out a pending Cancelling, and closes out a Running
// job that has finished draining (every loaded line sent and acked) by
// falling back to Idle and announcing the job's completion.
func (w *Workflow) ObserveIdle() {
	switch w.state {
	case Cancelling:
		w.setState(Idle)
	case Running:
		if w.sender.Done() && w.sender.windowLineCount() == 0 {
			name := w.sender.Status().Name
			w.setState(Idle)
			w.sink.Emit(Event{Kind: EventTaskFinish, Port: w.port, TaskID: name, Code: 0})
		}
	}
}

// OnAlarm handles the "any -> alarm observed -> Idle" transition: clear
// homed is the caller's (StatusAggregator's) responsibility, Workflow just
// rewinds and drops to Idle.
func (w *Workflow) OnAlarm() {
	w.sender.Rewind()
	w.setState(Idle)
}

// OnPortClosed is the same transition as OnAlarm plus session teardown,
// which the ControllerSession owner performs after calling this.
func (w *Workflow) OnPortClosed() {
	w.sender.Rewind()
	w.setState(Idle)
}

// ForceIdle is used by the Cancelling->Idle watchdog (2s budget, §5) when
// the firmware never reports Idle in time.
func (w *Workflow) ForceIdle() {
	if w.state == Cancelling {
		w.setState(Idle)
		w.sink.Emit(Event{Kind: EventWarn, Port: w.port, Message: "workflow stop timed out, forced Idle"})
	}
}
