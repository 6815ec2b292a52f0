package session

import (
	"time"

	"github.com/rsteckler/cncd/internal/cncerr"
	"github.com/rsteckler/cncd/internal/protocol"
)

// Runner consumes classified LineParser output and drives CachedState,
// Workflow, StatusAggregator, and whichever of {Sender, Feeder, JogLoop}
// owns the oldest in-flight write (§4.6).
type Runner struct {
	port    string
	sink    Sink
	state   CachedState
	sender  *Sender
	feeder  *Feeder
	jog     *JogLoop
	wf      *Workflow
	agg     *StatusAggregator
}

func newRunner(port string, sink Sink, sender *Sender, feeder *Feeder, jog *JogLoop, wf *Workflow, agg *StatusAggregator) *Runner {
	return &Runner{port: port, sink: sink, state: newCachedState(), sender: sender, feeder: feeder, jog: jog, wf: wf, agg: agg}
}

// Consume handles one classified reply.
func (r *Runner) Consume(reply protocol.Reply) error {
	switch reply.Kind {
	case protocol.ReplyOk, protocol.ReplyError:
		return r.routeTerminal(reply)
	case protocol.ReplyAlarm:
		r.state.ActiveState = "Alarm"
		r.agg.SetHomed(false)
		r.wf.OnAlarm()
		r.sink.Emit(Event{Kind: EventAlarm, Port: r.port, AlarmCode: reply.Code})
		r.sink.Emit(Event{Kind: EventControllerState, Port: r.port, CachedState: r.state.clone()})
		r.agg.Refresh(r.state, r.wf.State(), false)
		return nil
	case protocol.ReplyStatus:
		return r.consumeStatus(reply.Status)
	case protocol.ReplyFeedback:
		switch reply.FeedbackKind {
		case protocol.FeedbackParserState:
			r.state.ParserState = reply.Body
		}
		r.sink.Emit(Event{Kind: EventControllerState, Port: r.port, CachedState: r.state.clone()})
		return nil
	case protocol.ReplySetting:
		if r.state.Settings == nil {
			r.state.Settings = make(map[int]float64)
		}
		r.state.Settings[reply.SettingIndex] = reply.SettingValue
		return nil
	case protocol.ReplyStartup:
		return nil
	case protocol.ReplyEcho:
		return nil
	default:
		return nil
	}
}

// routeTerminal sends an Ok/Error to exactly one owner: JogLoop if it has
// an outstanding write (including the cancellation fence), else Sender if
// a job is mid-flight, else Feeder. A terminal with no owner at all is a
// protocol desync.
func (r *Runner) routeTerminal(reply protocol.Reply) error {
	switch {
	case r.jog.Active():
		r.jog.Ack(reply)
		return nil
	case r.sender.windowLineCount() > 0:
		err := r.sender.Ack(reply)
		if held, _ := r.sender.JobHeld(); held {
			r.wf.OnSenderError()
		}
		return err
	case r.feeder.Waiting():
		r.feeder.Ack(reply)
		return nil
	default:
		r.agg.SetHealthy(false)
		r.agg.Refresh(r.state, r.wf.State(), r.wf.State() == Running)
		return cncerr.ProtocolDesync(r.port, "Ok/Error with nothing outstanding")
	}
}

func (r *Runner) consumeStatus(st protocol.Status) error {
	prevState := r.state.ActiveState
	r.state.ActiveState = st.ActiveState
	if st.MPos != nil {
		r.state.MPos = st.MPos
	}
	if st.WPos != nil {
		r.state.WPos = st.WPos
	}
	if st.FeedRate != nil {
		r.state.FeedRate = st.FeedRate
	}
	if st.SpindleSpeed != nil {
		r.state.SpindleSpeed = st.SpindleSpeed
	}
	if st.FeedOverride != nil {
		r.state.FeedOverride = st.FeedOverride
	}
	if st.RapidOverride != nil {
		r.state.RapidOverride = st.RapidOverride
	}
	if st.SpindleOverride != nil {
		r.state.SpindleOverride = st.SpindleOverride
	}

	// Home -> Idle with no intervening Alarm sets homed.
	if prevState == "Home" && st.ActiveState == "Idle" {
		r.agg.SetHomed(true)
	}
	if st.ActiveState == "Idle" {
		// Closes out Cancelling, and closes out a Running job whose lines
		// are all sent and acked — see Workflow.ObserveIdle, which also
		// fires task:finish on the latter.
		r.wf.ObserveIdle()
	}

	r.sink.Emit(Event{Kind: EventControllerState, Port: r.port, CachedState: r.state.clone()})
	jobRunning := r.wf.State() == Running
	r.agg.Refresh(r.state, r.wf.State(), jobRunning)
	return nil
}

// State returns a copy of the current CachedState for status queries.
func (r *Runner) State() CachedState { return r.state.clone() }

// WatchdogTick is called periodically by the session executor; it checks
// the inbound-activity watchdog (no inbound activity for 10s with a write
// outstanding -> flagged unhealthy, no auto-reset).
func (r *Runner) WatchdogTick(lastInbound time.Time, now time.Time, outstanding bool) bool {
	return outstanding && now.Sub(lastInbound) >= 10*time.Second
}
