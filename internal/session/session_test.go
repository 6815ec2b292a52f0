package session

import (
	"testing"

	"github.com/rsteckler/cncd/internal/protocol"
	"github.com/rsteckler/cncd/internal/serialport"
)

func newTestSender(t *testing.T) (*Sender, *serialport.FakeLink, *recordingSink) {
	t.Helper()
	fl := serialport.NewFakeLink()
	sink := &recordingSink{}
	variant := protocol.NewGrbl()
	w := &linkWriter{link: fl}
	s := newSender("/dev/ttyTEST", variant, w, sink, false, true)
	return s, fl, sink
}

// Property 1: buffer invariant — used never exceeds capacity, and
// lines_sent - lines_received always equals window.line_count.
func TestBufferInvariant(t *testing.T) {
	s, _, _ := newTestSender(t)
	gcode := "G0 X0\nG0 X1\nG0 X2\nG0 X3\nG0 X4\nG0 X5\n"
	if err := s.Load("job", gcode); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(); err != nil {
		t.Fatal(err)
	}
	if s.window.used > s.window.capacity {
		t.Fatalf("window used %d exceeds capacity %d", s.window.used, s.window.capacity)
	}
	if s.job.linesSent-s.job.linesReceived != s.window.lineCount() {
		t.Fatalf("sent-received=%d != window line count=%d", s.job.linesSent-s.job.linesReceived, s.window.lineCount())
	}

	for s.job.linesReceived < s.job.linesSent {
		if err := s.Ack(protocol.Reply{Kind: protocol.ReplyOk}); err != nil {
			t.Fatal(err)
		}
		if s.window.used > s.window.capacity {
			t.Fatalf("window used %d exceeds capacity %d", s.window.used, s.window.capacity)
		}
		if s.job.linesSent-s.job.linesReceived != s.window.lineCount() {
			t.Fatalf("sent-received mismatch after ack")
		}
		s.Next()
	}
}

// Property 2: ack determinism — an Ok for every sent line drains the job
// completely with no Alarm/reset in between.
func TestAckDeterminism(t *testing.T) {
	s, _, _ := newTestSender(t)
	if err := s.Load("job", "G0 X0\nG0 X1\nG0 X2\n"); err != nil {
		t.Fatal(err)
	}
	for !s.Done() || s.job.linesReceived < s.job.linesTotal {
		s.Next()
		if s.window.lineCount() == 0 {
			break
		}
		if err := s.Ack(protocol.Reply{Kind: protocol.ReplyOk}); err != nil {
			t.Fatal(err)
		}
	}
	if s.job.linesReceived != s.job.linesTotal || s.job.linesSent != s.job.linesTotal {
		t.Fatalf("job did not drain: sent=%d received=%d total=%d", s.job.linesSent, s.job.linesReceived, s.job.linesTotal)
	}
}

// Property 3: cancel correctness — Stop from Running writes the soft-reset
// byte, rewinds the window, and lines_sent == lines_received afterward.
func TestCancelCorrectness(t *testing.T) {
	fl := serialport.NewFakeLink()
	sink := &recordingSink{}
	variant := protocol.NewGrbl()
	w := &linkWriter{link: fl}
	sender := newSender("/dev/ttyTEST", variant, w, sink, false, true)
	wf := newWorkflow("/dev/ttyTEST", variant, sender, w, sink)

	if err := sender.Load("job", "G0 X0\nG0 X1\nG0 X2\n"); err != nil {
		t.Fatal(err)
	}
	if err := wf.Start(); err != nil {
		t.Fatal(err)
	}
	if err := wf.Stop(); err != nil {
		t.Fatal(err)
	}
	if wf.State() != Cancelling {
		t.Fatalf("state = %v, want Cancelling", wf.State())
	}
	if sender.job.linesSent != sender.job.linesReceived {
		t.Fatalf("sent=%d received=%d, want equal after rewind", sender.job.linesSent, sender.job.linesReceived)
	}
	written := fl.Written()
	if len(written) == 0 {
		t.Fatal("expected at least the soft reset byte written")
	}
	last := written[len(written)-1]
	if len(last) != 1 || last[0] != variant.RealtimeBytes().SoftReset {
		t.Fatalf("last write = %v, want soft reset byte", last)
	}

	wf.ObserveIdle()
	if wf.State() != Idle {
		t.Fatalf("state = %v, want Idle after observed Idle status", wf.State())
	}
}

// Property 4: jog fence — releasing input ends with 0x85 then "G4P0", and
// the jog window is empty once IdleJ is re-entered.
func TestJogFence(t *testing.T) {
	fl := serialport.NewFakeLink()
	sink := &recordingSink{}
	variant := protocol.NewGrbl()
	w := &linkWriter{link: fl}
	jog := newJogLoop("/dev/ttyTEST", variant, w, w, sink, JogConfig{
		Sensitivity: 1, MaxFeedXY: 3000, MaxFeedZ: 600, PlannerBlocks: 15,
	})
	jog.SetGateOpen(true)
	jog.SetInput(1, 0, 0)
	if jog.State() != JoggingState {
		t.Fatalf("state = %v, want JoggingState", jog.State())
	}
	cs := newCachedState()
	jog.Tick(cs)
	if !jog.Active() {
		t.Fatal("expected jog active after tick emitted a command")
	}

	jog.SetInput(0, 0, 0)
	if jog.State() != CancellingJog {
		t.Fatalf("state = %v, want CancellingJog", jog.State())
	}

	written := fl.Written()
	if len(written) < 2 {
		t.Fatalf("expected at least 2 writes, got %d", len(written))
	}
	cancelByte := written[len(written)-2]
	fence := written[len(written)-1]
	if len(cancelByte) != 1 || cancelByte[0] != 0x85 {
		t.Errorf("second-to-last write = %v, want [0x85]", cancelByte)
	}
	if string(fence) != "G4P0\n" {
		t.Errorf("last write = %q, want \"G4P0\\n\"", fence)
	}

	jog.Ack(protocol.Reply{Kind: protocol.ReplyOk})
	if jog.State() != IdleJ {
		t.Fatalf("state = %v, want IdleJ after fence ack", jog.State())
	}
	if jog.windowDepth != 0 {
		t.Errorf("windowDepth = %d, want 0", jog.windowDepth)
	}
}

// Property 5: homed semantics.
func TestHomedSemantics(t *testing.T) {
	sink := &recordingSink{}
	agg := newStatusAggregator("/dev/ttyTEST", "grbl", sink)
	agg.SetConnected(true)

	cs := newCachedState()
	cs.ActiveState = "Home"
	agg.Refresh(cs, Idle, false)
	if agg.Homed() {
		t.Fatal("should not be homed yet, still in Home state")
	}

	// Simulate the Home -> Idle edge the way Runner does it.
	agg.SetHomed(true)
	cs.ActiveState = "Idle"
	agg.Refresh(cs, Idle, false)
	if !agg.Homed() {
		t.Fatal("expected homed after Home -> Idle edge")
	}

	agg.SetHomed(false) // Alarm clears it
	if agg.Homed() {
		t.Fatal("expected homed cleared by alarm")
	}
}

// The healthy bit clears on a protocol desync and is restored only by a
// fresh successful connect, never by the passage of time alone.
func TestHealthyBit(t *testing.T) {
	sink := &recordingSink{}
	agg := newStatusAggregator("/dev/ttyTEST", "grbl", sink)
	agg.SetConnected(true)
	if !agg.Healthy() {
		t.Fatal("expected healthy immediately after connect")
	}
	agg.SetHealthy(false)
	if agg.Healthy() {
		t.Fatal("expected unhealthy after SetHealthy(false)")
	}
	agg.Refresh(newCachedState(), Idle, false)
	if agg.Healthy() {
		t.Fatal("refresh alone must not restore healthy")
	}
	agg.SetConnected(true)
	if !agg.Healthy() {
		t.Fatal("expected a fresh successful connect to restore healthy")
	}
}

// Property 6: priority order of machine status.
func TestMachineStatusPriority(t *testing.T) {
	sink := &recordingSink{}
	agg := newStatusAggregator("/dev/ttyTEST", "grbl", sink)

	cases := []struct {
		connected bool
		active    string
		wf        WorkflowState
		homed     bool
		want      MachineStatus
	}{
		{false, "Idle", Idle, true, NotConnected},
		{true, "Alarm", Running, true, Alarm},
		{true, "Run", Running, true, MRunning},
		{true, "Idle", Paused, true, Hold},
		{true, "Jog", Idle, true, Jogging},
		{true, "Home", Idle, true, Homing},
		{true, "Idle", Idle, true, ReadyHomed},
		{true, "Idle", Idle, false, ReadyUnhomed},
	}
	for _, c := range cases {
		agg.connected = c.connected
		agg.homed = c.homed
		got := agg.compute(c.active, c.wf)
		if got != c.want {
			t.Errorf("compute(connected=%v active=%q wf=%v homed=%v) = %v, want %v",
				c.connected, c.active, c.wf, c.homed, got, c.want)
		}
	}
}

func TestSenderLineTooLongSkipsAndAdvances(t *testing.T) {
	s, _, sink := newTestSender(t)
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'X'
	}
	if err := s.Load("job", string(long)+"\nG0 X1\n"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Next(); err != nil {
		t.Fatal(err)
	}
	if s.job.linesReceived != 1 {
		t.Fatalf("expected the too-long line auto-advanced, linesReceived=%d", s.job.linesReceived)
	}
	errs := sink.ofKind(EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one ErrorLineTooLong event, got %d", len(errs))
	}
}

func TestSenderRoutesBusyOnLoadWhileRunning(t *testing.T) {
	s, _, _ := newTestSender(t)
	if err := s.Load("job", "G0 X0\n"); err != nil {
		t.Fatal(err)
	}
	s.Next()
	if err := s.Load("other", "G0 X1\n"); err == nil {
		t.Fatal("expected Busy error loading over an in-flight job")
	}
}

// An unrecovered error (continueOnError=false) must both stop the Sender
// from advancing further lines and drive Workflow Running -> Paused.
func TestSenderErrorHoldPausesWorkflow(t *testing.T) {
	fl := serialport.NewFakeLink()
	sink := &recordingSink{}
	variant := protocol.NewGrbl()
	w := &linkWriter{link: fl}
	sender := newSender("/dev/ttyTEST", variant, w, sink, false, true)
	wf := newWorkflow("/dev/ttyTEST", variant, sender, w, sink)

	if err := sender.Load("job", "G0 X0\nG99 bad\nG0 X1\n"); err != nil {
		t.Fatal(err)
	}
	if err := wf.Start(); err != nil {
		t.Fatal(err)
	}
	if err := sender.Ack(protocol.Reply{Kind: protocol.ReplyOk}); err != nil {
		t.Fatal(err)
	}
	if err := sender.Ack(protocol.Reply{Kind: protocol.ReplyError, Code: 20}); err != nil {
		t.Fatal(err)
	}
	if held, reason := sender.JobHeld(); !held || reason != "error:20" {
		t.Fatalf("expected held with reason error:20, got held=%v reason=%q", held, reason)
	}
	wf.OnSenderError()
	if wf.State() != Paused {
		t.Fatalf("state = %v, want Paused", wf.State())
	}
	sender.Next()
	if sender.job.linesSent != 2 {
		t.Fatalf("third line must not be sent while job is held, linesSent=%d", sender.job.linesSent)
	}
}

// Toggling continueOnError while a job is error-paused must not itself
// resume it; only an explicit Workflow.Resume clears a hold.
func TestContinueOnErrorToggleDoesNotAutoResume(t *testing.T) {
	fl := serialport.NewFakeLink()
	sink := &recordingSink{}
	variant := protocol.NewGrbl()
	w := &linkWriter{link: fl}
	sender := newSender("/dev/ttyTEST", variant, w, sink, false, true)
	wf := newWorkflow("/dev/ttyTEST", variant, sender, w, sink)

	sender.Load("job", "G0 X0\nG99 bad\nG0 X1\n")
	wf.Start()
	sender.Ack(protocol.Reply{Kind: protocol.ReplyOk})
	sender.Ack(protocol.Reply{Kind: protocol.ReplyError, Code: 20})
	wf.OnSenderError()

	sender.SetContinueOnError(true)
	if held, _ := sender.JobHeld(); !held {
		t.Fatal("flipping continueOnError must not clear an existing hold")
	}
	if wf.State() != Paused {
		t.Fatalf("state = %v, want Paused (still waiting for an explicit resume)", wf.State())
	}

	if err := wf.Resume(); err != nil {
		t.Fatal(err)
	}
	if held, _ := sender.JobHeld(); held {
		t.Fatal("expected Resume to clear the hold")
	}
	if wf.State() != Running {
		t.Fatalf("state = %v, want Running after resume", wf.State())
	}
}

func TestFeederDisjointFromSender(t *testing.T) {
	fl := serialport.NewFakeLink()
	sink := &recordingSink{}
	w := &linkWriter{link: fl}
	feeder := newFeeder("/dev/ttyTEST", w, sink)
	feeder.Feed(FeedItem{Text: "M3 S1000"})
	dispatched, err := feeder.Next()
	if err != nil || !dispatched {
		t.Fatalf("expected feeder to dispatch, got %v %v", dispatched, err)
	}
	if !feeder.Waiting() {
		t.Fatal("expected feeder waiting for ack")
	}
	dispatched, _ = feeder.Next()
	if dispatched {
		t.Fatal("feeder must not dispatch a second item while one is outstanding")
	}
	feeder.Ack(protocol.Reply{Kind: protocol.ReplyOk})
	if feeder.Waiting() {
		t.Fatal("expected feeder idle after ack")
	}
}
