package session

import "time"

// MachineStatus is the computed, priority-ordered enum described in §3.
// Never written directly; StatusAggregator derives it from CachedState,
// Workflow, and the homed flag.
type MachineStatus int

const (
	NotConnected MachineStatus = iota
	Alarm
	MRunning
	Hold
	Jogging
	Homing
	ReadyHomed
	ReadyUnhomed
)

func (m MachineStatus) String() string {
	switch m {
	case NotConnected:
		return "NotConnected"
	case Alarm:
		return "Alarm"
	case MRunning:
		return "Running"
	case Hold:
		return "Hold"
	case Jogging:
		return "Jogging"
	case Homing:
		return "Homing"
	case ReadyHomed:
		return "ReadyHomed"
	default:
		return "ReadyUnhomed"
	}
}

// MachineStatusSnapshot is the record returned by getStatus/getAllStatuses.
type MachineStatusSnapshot struct {
	Port             string
	Connected        bool
	ControllerType   string
	MachineStatus    MachineStatus
	Homed            bool
	JobRunning       bool
	HomingInProgress bool
	ControllerState  string
	WorkflowState    WorkflowState
	Healthy          bool
	LastUpdate       time.Time
}

// StatusAggregator is the single source of truth for a session's public
// machine status (§4.8). It's updated by SerialLink open/close, Workflow
// transitions, Runner active-state transitions, and explicit reset/unlock.
type StatusAggregator struct {
	port           string
	variant        string
	sink           Sink
	connected      bool
	homed          bool
	healthy        bool
	lastSnapshot   MachineStatusSnapshot
	nowFn          func() time.Time
}

func newStatusAggregator(port, variant string, sink Sink) *StatusAggregator {
	return &StatusAggregator{port: port, variant: variant, sink: sink, nowFn: time.Now, healthy: true}
}

func (a *StatusAggregator) SetConnected(connected bool) {
	a.connected = connected
	if !connected {
		a.homed = false
	}
	if connected {
		a.healthy = true
	}
}

func (a *StatusAggregator) Homed() bool     { return a.homed }
func (a *StatusAggregator) SetHomed(v bool) { a.homed = v }

// Healthy reports whether the session's ack stream is still trustworthy.
// Cleared by a ProtocolDesync or the inbound-activity watchdog, restored
// only by a fresh successful Open (via SetConnected(true)) — this lets a
// reconnecting client (S6) tell a desynced session from a clean one instead
// of inferring it from the enum alone.
func (a *StatusAggregator) Healthy() bool     { return a.healthy }
func (a *StatusAggregator) SetHealthy(v bool) { a.healthy = v }

// Compute derives the current MachineStatus from the three inputs named in
// §3's priority order.
func (a *StatusAggregator) compute(activeState string, wf WorkflowState) MachineStatus {
	if !a.connected {
		return NotConnected
	}
	if activeState == "Alarm" {
		return Alarm
	}
	if wf == Running {
		return MRunning
	}
	if wf == Paused || activeState == "Hold" {
		return Hold
	}
	if activeState == "Jog" {
		return Jogging
	}
	if activeState == "Home" {
		return Homing
	}
	if a.homed {
		return ReadyHomed
	}
	return ReadyUnhomed
}

// Refresh recomputes the snapshot from the given inputs and emits
// machine:status if anything changed.
func (a *StatusAggregator) Refresh(cs CachedState, wf WorkflowState, jobRunning bool) MachineStatusSnapshot {
	computed := a.compute(cs.ActiveState, wf)
	snap := MachineStatusSnapshot{
		Port:             a.port,
		Connected:        a.connected,
		ControllerType:   a.variant,
		MachineStatus:    computed,
		Homed:            a.homed,
		JobRunning:       jobRunning,
		HomingInProgress: cs.ActiveState == "Home",
		ControllerState:  cs.ActiveState,
		WorkflowState:    wf,
		Healthy:          a.healthy,
		LastUpdate:       a.nowFn(),
	}
	if snap.MachineStatus != a.lastSnapshot.MachineStatus ||
		snap.Connected != a.lastSnapshot.Connected ||
		snap.Homed != a.lastSnapshot.Homed ||
		snap.JobRunning != a.lastSnapshot.JobRunning ||
		snap.ControllerState != a.lastSnapshot.ControllerState ||
		snap.Healthy != a.lastSnapshot.Healthy ||
		snap.WorkflowState != a.lastSnapshot.WorkflowState {
		a.lastSnapshot = snap
		a.sink.Emit(Event{Kind: EventMachineStatus, Port: a.port, Status: snap})
	} else {
		a.lastSnapshot = snap
	}
	return snap
}

// Snapshot returns the last computed status without recomputing.
func (a *StatusAggregator) Snapshot() MachineStatusSnapshot { return a.lastSnapshot }
