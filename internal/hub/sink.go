package hub

import (
	"sync"

	"github.com/rsteckler/cncd/internal/session"
)

// hubSink adapts a session's event stream to the hub's fan-out: every
// event is relayed to clients bound to that port as a {event, args}
// message, and workflow transitions are translated into the named
// lifecycle events EventTrigger rules match against (§4.11).
type hubSink struct {
	hub    *SessionHub
	port   string
	handle *sessionHandle

	mu     sync.Mutex
	prevWF session.WorkflowState // zero value is Idle, Workflow's initial state
}

func (s *hubSink) Emit(e session.Event) {
	s.broadcast(eventToMessage(e))
	s.maybeFireLifecycle(e)
}

func (s *hubSink) broadcast(msg Message) {
	s.handle.mu.Lock()
	clients := make([]*Client, 0, len(s.handle.clients))
	for _, c := range s.handle.clients {
		clients = append(clients, c)
	}
	s.handle.mu.Unlock()
	for _, c := range clients {
		c.Enqueue(msg)
	}
}

func (s *hubSink) maybeFireLifecycle(e session.Event) {
	if s.hub.trig == nil {
		return
	}
	// Emit runs on the session's own executor goroutine, so the Feeder is
	// called directly; the session dispatches the queued items once its
	// Workflow is Idle or Paused.
	feed := func(items ...session.FeedItem) {
		if sess, ok := s.hub.Session(s.port); ok {
			sess.FeederRef().Feed(items...)
		}
	}

	switch e.Kind {
	case session.EventWorkflowState:
		s.mu.Lock()
		prev := s.prevWF
		s.prevWF = e.Workflow
		s.mu.Unlock()
		switch {
		case prev == session.Idle && e.Workflow == session.Running:
			s.hub.trig.Fire("job:start", feed)
		case prev == session.Running && e.Workflow == session.Paused:
			s.hub.trig.Fire("job:pause", feed)
		case prev == session.Paused && e.Workflow == session.Running:
			s.hub.trig.Fire("job:resume", feed)
		case (prev == session.Running || prev == session.Cancelling) && e.Workflow == session.Idle:
			s.hub.trig.Fire("job:end", feed)
		}
	case session.EventAlarm:
		s.hub.trig.Fire("alarm", feed)
	case session.EventSenderStatus:
		if e.Job.Hold && e.Job.HoldReason != "" {
			s.hub.trig.Fire("job:error", feed)
		}
	case session.EventControllerState:
		// tool-change feedback only surfaces through EventControllerState's
		// ParserState; "tool:change" is not fired from here.
	}
}

func eventToMessage(e session.Event) Message {
	switch e.Kind {
	case session.EventSerialRead:
		return Message{Event: string(e.Kind), Args: []any{string(e.Raw)}}
	case session.EventSerialWrite:
		return Message{Event: string(e.Kind), Args: []any{string(e.Write), e.WriteCtx}}
	case session.EventControllerState:
		return Message{Event: string(e.Kind), Args: []any{e.CachedState}}
	case session.EventWorkflowState:
		return Message{Event: string(e.Kind), Args: []any{e.Workflow.String()}}
	case session.EventSenderStatus:
		return Message{Event: string(e.Kind), Args: []any{e.Job}}
	case session.EventFeederStatus:
		return Message{Event: string(e.Kind), Args: []any{e.FeederLen}}
	case session.EventMachineStatus:
		return Message{Event: string(e.Kind), Args: []any{e.Status}}
	case session.EventTaskFinish:
		return Message{Event: string(e.Kind), Args: []any{e.TaskID, e.Code}}
	case session.EventAlarm:
		return Message{Event: string(e.Kind), Args: []any{e.AlarmCode}}
	case session.EventWarn, session.EventError:
		return Message{Event: string(e.Kind), Args: []any{e.ErrKind, e.Message}}
	default:
		return Message{Event: string(e.Kind)}
	}
}
