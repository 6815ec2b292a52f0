package session

import (
	"time"

	"github.com/rsteckler/cncd/internal/cncerr"
	"github.com/rsteckler/cncd/internal/protocol"
	"github.com/rsteckler/cncd/internal/serialport"
)

// Config is the per-session tunables a ControllerSession is built with,
// sourced from config.ControllerConfig (avoiding an import cycle by being
// a plain struct the caller fills in).
type Config struct {
	ContinueOnError  bool
	StripBlankLines  bool
	Jog              JogConfig
	StatusPollIdle   time.Duration
	StatusPollActive time.Duration
	WatchdogIdle     time.Duration
	CancelBudget     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Jog:              JogConfig{Deadzone: 0.08, Sensitivity: 1, MaxFeedXY: 3000, MaxFeedZ: 600, PlannerBlocks: 15},
		StatusPollIdle:   250 * time.Millisecond,
		StatusPollActive: 100 * time.Millisecond,
		WatchdogIdle:     10 * time.Second,
		CancelBudget:     2 * time.Second,
	}
}

// ControllerSession is the one-per-open-port owner of a SerialLink,
// LineParser/ControllerVariant, Sender, Feeder, Workflow, Runner, JogLoop,
// and StatusAggregator (data model "ControllerSession"). All mutation
// happens on a single goroutine (the "executor"); every public method
// enqueues a closure and waits for it to run, so callers on other
// goroutines never touch session state directly.
type ControllerSession struct {
	Port    string
	variant protocol.ControllerVariant
	link    serialport.Link
	sink    Sink
	cfg     Config

	sender *Sender
	feeder *Feeder
	wf     *Workflow
	jog    *JogLoop
	runner *Runner
	agg    *StatusAggregator

	cmds chan func()
	stop chan struct{}
	done chan struct{}

	lastInbound     time.Time
	cancelDeadline  time.Time
	unhealthy       bool
}

// New builds a session around an already-open link. The caller starts its
// executor with Run.
func New(port string, variant protocol.ControllerVariant, link serialport.Link, sink Sink, cfg Config) *ControllerSession {
	if sink == nil {
		sink = nopSink{}
	}
	w := &linkWriter{link: link}
	s := &ControllerSession{
		Port: port, variant: variant, link: link, sink: sink, cfg: cfg,
		cmds: make(chan func(), 32),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.sender = newSender(port, variant, w, sink, cfg.ContinueOnError, cfg.StripBlankLines)
	s.feeder = newFeeder(port, w, sink)
	s.wf = newWorkflow(port, variant, s.sender, w, sink)
	s.jog = newJogLoop(port, variant, w, w, sink, cfg.Jog)
	s.agg = newStatusAggregator(port, variant.Name(), sink)
	s.agg.SetConnected(true)
	s.runner = newRunner(port, sink, s.sender, s.feeder, s.jog, s.wf, s.agg)
	return s
}

// Run is the executor's select loop; call it in its own goroutine. It
// returns when Close is called or the link fails unrecoverably.
func (s *ControllerSession) Run() {
	defer close(s.done)

	statusPoll := time.NewTicker(s.cfg.StatusPollIdle)
	defer statusPoll.Stop()
	jogTick := time.NewTicker(16 * time.Millisecond)
	defer jogTick.Stop()
	watchdog := time.NewTicker(time.Second)
	defer watchdog.Stop()

	s.lastInbound = time.Now()

	for {
		select {
		case <-s.stop:
			return

		case fn := <-s.cmds:
			fn()

		case line, ok := <-s.link.Lines():
			if !ok {
				s.onLinkClosed()
				return
			}
			s.lastInbound = time.Now()
			reply := s.variant.ParseLine(line)
			s.sink.Emit(Event{Kind: EventSerialRead, Port: s.Port, Raw: line})
			s.runner.Consume(reply)
			s.afterConsume()
			s.retunePoll(statusPoll)

		case <-statusPoll.C:
			s.link.Write(realtimeStatusRequest(s.variant))

		case <-jogTick.C:
			s.jog.Tick(s.runner.State())

		case <-watchdog.C:
			now := time.Now()
			if s.jog.FenceExpired(now) {
				s.sink.Emit(Event{Kind: EventError, Port: s.Port, ErrKind: "JogCancelTimeout", Message: "jog cancel fence timed out"})
				s.link.Write([]byte{s.variant.RealtimeBytes().SoftReset})
				s.unhealthy = true
			}
			if s.wf.State() == Cancelling && !s.cancelDeadline.IsZero() && now.After(s.cancelDeadline) {
				s.wf.ForceIdle()
				s.cancelDeadline = time.Time{}
			}
			if s.runner.WatchdogTick(s.lastInbound, now, s.sender.windowLineCount() > 0 || s.feeder.Waiting()) {
				if !s.unhealthy {
					s.unhealthy = true
					s.agg.SetHealthy(false)
					s.agg.Refresh(s.runner.State(), s.wf.State(), s.wf.State() == Running)
					s.sink.Emit(Event{Kind: EventWarn, Port: s.Port, Message: "no inbound activity for 10s with a write outstanding"})
				}
			}
		}
	}
}

func realtimeStatusRequest(v protocol.ControllerVariant) []byte {
	return []byte{v.RealtimeBytes().StatusRequest}
}

// afterConsume keeps JogLoop's gate and Workflow's cancel deadline current
// after every inbound reply.
func (s *ControllerSession) afterConsume() {
	snap := s.agg.Snapshot()
	s.jog.SetGateOpen(snap.MachineStatus == ReadyHomed || snap.MachineStatus == ReadyUnhomed || snap.MachineStatus == Jogging)
	if s.wf.State() == Cancelling && s.cancelDeadline.IsZero() {
		s.cancelDeadline = time.Now().Add(s.cfg.CancelBudget)
	}
	if s.wf.State() != Cancelling {
		s.cancelDeadline = time.Time{}
	}
	if s.wf.State() == Running {
		s.sender.Next()
	}
	if s.wf.State() == Idle || s.wf.State() == Paused {
		s.feeder.Next()
	}
}

// retunePoll switches the status-poll cadence to the active rate while
// Jogging/Running, and back to idle otherwise (§6).
func (s *ControllerSession) retunePoll(t *time.Ticker) {
	active := s.wf.State() == Running || s.jog.State() == JoggingState
	if active {
		t.Reset(s.cfg.StatusPollActive)
	} else {
		t.Reset(s.cfg.StatusPollIdle)
	}
}

func (s *ControllerSession) onLinkClosed() {
	s.wf.OnPortClosed()
	s.agg.SetConnected(false)
	s.sink.Emit(Event{Kind: EventError, Port: s.Port, ErrKind: "IoError", Message: "serial link closed"})
}

// do runs fn on the executor goroutine and blocks until it completes.
func (s *ControllerSession) do(fn func()) {
	reply := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(reply) }:
		<-reply
	case <-s.done:
	}
}

// Close stops the executor and closes the underlying link.
func (s *ControllerSession) Close() error {
	close(s.stop)
	<-s.done
	return s.link.Close()
}

// --- public operations, each marshaled onto the executor ---

func (s *ControllerSession) LoadJob(name, gcode string) error {
	var err error
	s.do(func() { err = s.sender.Load(name, gcode) })
	return err
}

func (s *ControllerSession) UnloadJob() error {
	var err error
	s.do(func() { err = s.sender.Unload() })
	return err
}

func (s *ControllerSession) Start() error {
	var err error
	s.do(func() { err = s.wf.Start() })
	return err
}

func (s *ControllerSession) Pause() error {
	var err error
	s.do(func() { err = s.wf.Pause() })
	return err
}

func (s *ControllerSession) Resume() error {
	var err error
	s.do(func() { err = s.wf.Resume() })
	return err
}

func (s *ControllerSession) StopJob() error {
	var err error
	s.do(func() { err = s.wf.Stop() })
	return err
}

// Write enqueues a one-off command via the Feeder, rejecting with
// SessionBusy if Workflow is Running (§4.9).
func (s *ControllerSession) Write(text string) error {
	var err error
	s.do(func() {
		if s.wf.State() == Running {
			err = cncerr.SessionBusy(s.Port)
			return
		}
		s.feeder.Feed(FeedItem{Text: text})
		s.feeder.Next()
	})
	return err
}

// WriteRealtime sends a single realtime byte immediately, bypassing the
// Feeder/Sender entirely — allowed regardless of Workflow state.
func (s *ControllerSession) WriteRealtime(b byte) error {
	var err error
	s.do(func() { _, err = s.link.Write([]byte{b}) })
	return err
}

func (s *ControllerSession) JogAnalog(vx, vy, vz float64) {
	s.do(func() { s.jog.SetInput(vx, vy, vz) })
}

// Status recomputes and returns the current machine-status snapshot.
func (s *ControllerSession) Status() MachineStatusSnapshot {
	var snap MachineStatusSnapshot
	s.do(func() { snap = s.agg.Refresh(s.runner.State(), s.wf.State(), s.wf.State() == Running) })
	return snap
}

// WorkflowState returns the current Workflow state.
func (s *ControllerSession) WorkflowState() WorkflowState {
	var state WorkflowState
	s.do(func() { state = s.wf.State() })
	return state
}

// SetContinueOnError toggles whether a future error:NN reply pauses the
// loaded job, without affecting any hold already in effect.
func (s *ControllerSession) SetContinueOnError(v bool) {
	s.do(func() { s.sender.SetContinueOnError(v) })
}

// SenderStatus returns the current job's sender:status snapshot.
func (s *ControllerSession) SenderStatus() JobStatus {
	var js JobStatus
	s.do(func() { js = s.sender.Status() })
	return js
}

// Variant exposes the configured ControllerVariant, used by Dispatcher.
func (s *ControllerSession) Variant() protocol.ControllerVariant { return s.variant }

// Do exposes the executor marshaling primitive to collaborators (e.g.
// Dispatcher) that need to run several session operations atomically.
func (s *ControllerSession) Do(fn func()) { s.do(fn) }

// Sender/Workflow/Jog accessors for Dispatcher, guarded to only be called
// from within a Do closure.
func (s *ControllerSession) SenderRef() *Sender           { return s.sender }
func (s *ControllerSession) FeederRef() *Feeder           { return s.feeder }
func (s *ControllerSession) WorkflowRef() *Workflow       { return s.wf }
func (s *ControllerSession) JogRef() *JogLoop             { return s.jog }
func (s *ControllerSession) AggregatorRef() *StatusAggregator { return s.agg }
func (s *ControllerSession) LinkRef() serialport.Link     { return s.link }
