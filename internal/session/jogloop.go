package session

import (
	"math"
	"time"

	"github.com/rsteckler/cncd/internal/protocol"
)

// JogState is JogLoop's own 3-state machine (§4.7), independent of Workflow.
type JogState int

const (
	IdleJ JogState = iota
	JoggingState
	CancellingJog
)

const (
	jogMinDt        = 25 * time.Millisecond
	jogFenceTimeout = 500 * time.Millisecond
	jogMaxWindow    = 4
)

// JogLoop converts a mapped 3-axis analog vector into a rate-limited stream
// of incremental jog commands, with correct cancellation (§4.7). Every
// input source (gamepad, browser-forwarded state, on-screen controls) is
// unified upstream into this one vector before reaching JogLoop.
type JogLoop struct {
	port    string
	variant protocol.ControllerVariant
	writer  lineWriter
	rt      realtimeWriter
	sink    Sink
	cfg     JogConfig

	state JogState

	vx, vy, vz float64 // latest mapped input, post deadzone/curve/inversion
	bufferedInput          bool // a nonzero input arrived during Cancelling
	rawX, rawY, rawZ       float64 // raw input buffered during Cancelling

	windowDepth   int
	fencePending  bool
	fenceDeadline time.Time

	gateOpen bool

	baseFeedXY float64 // cfg.MaxFeedXY before any speed preset scaling
	baseFeedZ  float64
}

// JogConfig mirrors the configuration surface named in §4.7.
type JogConfig struct {
	Deadzone      float64
	Sensitivity   float64
	InvertX       bool
	InvertY       bool
	InvertZ       bool
	MaxFeedXY     float64
	MaxFeedZ      float64
	PlannerBlocks int
	Imperial      bool
}

func newJogLoop(port string, variant protocol.ControllerVariant, w lineWriter, rt realtimeWriter, sink Sink, cfg JogConfig) *JogLoop {
	if cfg.PlannerBlocks < 2 {
		cfg.PlannerBlocks = 15
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = 1
	}
	return &JogLoop{port: port, variant: variant, writer: w, rt: rt, sink: sink, cfg: cfg, state: IdleJ,
		baseFeedXY: cfg.MaxFeedXY, baseFeedZ: cfg.MaxFeedZ}
}

func (j *JogLoop) State() JogState { return j.state }

// SetSpeedPreset scales the feed ceiling (not input magnitude — the analog
// stick already carries its own proportionality, see speed_slow/medium/fast
// in the dispatcher verb table) by mult against the configured base feed,
// never compounding across repeated calls.
func (j *JogLoop) SetSpeedPreset(mult float64) {
	j.cfg.MaxFeedXY = j.baseFeedXY * mult
	j.cfg.MaxFeedZ = j.baseFeedZ * mult
}

// SetGateOpen reflects whether machineStatus is currently in
// {ReadyHomed, ReadyUnhomed, Jogging} — JogLoop may only be active then.
func (j *JogLoop) SetGateOpen(open bool) {
	j.gateOpen = open
	if !open && j.state == JoggingState {
		j.beginCancel()
	}
}

func mapAxis(raw float64, deadzone, sensitivity float64, invert bool) float64 {
	if math.Abs(raw) < deadzone {
		raw = 0
	}
	sign := 1.0
	if raw < 0 {
		sign = -1
	}
	mag := math.Min(math.Abs(raw), 1)
	mag = math.Pow(mag, 1/sensitivity)
	v := sign * mag
	if invert {
		v = -v
	}
	return v
}

// SetInput updates the latest raw analog vector (each axis in [-1, 1]),
// applying dead-zone, sensitivity curve, and inversion per §4.7. Dropping
// to zero magnitude while Jogging begins cancellation; an input arriving
// while Cancelling is buffered, not acted on, until the fence completes.
func (j *JogLoop) SetInput(rawX, rawY, rawZ float64) {
	vx := mapAxis(rawX, j.cfg.Deadzone, j.cfg.Sensitivity, j.cfg.InvertX)
	vy := mapAxis(rawY, j.cfg.Deadzone, j.cfg.Sensitivity, j.cfg.InvertY)
	vz := mapAxis(rawZ, j.cfg.Deadzone, j.cfg.Sensitivity, j.cfg.InvertZ)

	if j.state == CancellingJog {
		if vx != 0 || vy != 0 || vz != 0 {
			j.bufferedInput = true
			j.rawX, j.rawY, j.rawZ = rawX, rawY, rawZ
		}
		return
	}

	j.vx, j.vy, j.vz = vx, vy, vz
	zero := vx == 0 && vy == 0 && vz == 0

	switch j.state {
	case IdleJ:
		if !zero && j.gateOpen {
			j.state = JoggingState
		}
	case JoggingState:
		if zero {
			j.beginCancel()
		}
	}
}

// beginCancel starts the cancellation protocol: realtime jog-cancel byte,
// then a G4P0 fence the caller acks through Ack.
func (j *JogLoop) beginCancel() {
	j.state = CancellingJog
	j.rt.WriteRealtime(j.variant.RealtimeBytes().JogCancel)
	j.writer.WriteLine("G4P0")
	j.fencePending = true
	j.fenceDeadline = time.Now().Add(jogFenceTimeout)
	j.sink.Emit(Event{Kind: EventSerialWrite, Port: j.port, Write: []byte("G4P0"), WriteCtx: "jog-fence"})
}

// Tick is driven by the session executor at >=60Hz while Jogging; it emits
// the next incremental jog command if the outstanding window has room.
func (j *JogLoop) Tick(cs CachedState) {
	if j.state != JoggingState {
		return
	}
	if j.windowDepth >= jogMaxWindow {
		return
	}
	if j.vx == 0 && j.vy == 0 && j.vz == 0 {
		return
	}

	feedXY := j.cfg.MaxFeedXY
	feedZ := j.cfg.MaxFeedZ
	fx := math.Abs(j.vx) * feedXY
	fy := math.Abs(j.vy) * feedXY
	fz := math.Abs(j.vz) * feedZ
	feed := math.Max(fx, math.Max(fy, fz))
	if feed == 0 {
		return
	}

	minAccel := math.Inf(1)
	if j.vx != 0 {
		minAccel = math.Min(minAccel, cs.axisAcceleration("x"))
	}
	if j.vy != 0 {
		minAccel = math.Min(minAccel, cs.axisAcceleration("y"))
	}
	if j.vz != 0 {
		minAccel = math.Min(minAccel, cs.axisAcceleration("z"))
	}
	if math.IsInf(minAccel, 1) {
		minAccel = 500
	}

	vMmPerSec := feed / 60
	dtFloor := jogMinDt.Seconds()
	dtAccel := (vMmPerSec * vMmPerSec) / (2 * minAccel * float64(j.cfg.PlannerBlocks-1))
	dt := math.Max(dtFloor, dtAccel)

	velX := j.vx * feedXY / 60
	velY := j.vy * feedXY / 60
	velZ := j.vz * feedZ / 60

	dx := velX * dt
	dy := velY * dt
	dz := velZ * dt

	cmd := j.variant.FormatJog(dx, dy, dz, feed, !j.cfg.Imperial)
	if err := j.writer.WriteLine(cmd); err != nil {
		return
	}
	j.windowDepth++
	j.sink.Emit(Event{Kind: EventSerialWrite, Port: j.port, Write: []byte(cmd), WriteCtx: "jog"})
}

// Ack consumes one jog-owned terminal reply. A late Ok/Error from a
// canceled jog (arriving after windowDepth already hit zero from an
// external clear) is ignored per the cancellation protocol's final step.
// error:15 ("jog not possible") is treated the same as Ok for window
// accounting purposes.
func (j *JogLoop) Ack(reply protocol.Reply) {
	if j.fencePending {
		if reply.Kind == protocol.ReplyOk {
			j.fencePending = false
			j.windowDepth = 0
			j.state = IdleJ
			if j.bufferedInput {
				j.bufferedInput = false
				j.SetInput(j.rawX, j.rawY, j.rawZ)
			}
		}
		return
	}
	if j.windowDepth > 0 {
		j.windowDepth--
	}
}

// FenceExpired reports whether the Cancelling fence has blown its 500ms
// budget; the session owner responds with JogCancelTimeout + soft reset.
func (j *JogLoop) FenceExpired(now time.Time) bool {
	return j.fencePending && now.After(j.fenceDeadline)
}

// Active reports whether JogLoop currently owns the oldest in-flight write
// (Runner uses this to route Ok/Error when Sender and Feeder are both
// idle-for-writes).
func (j *JogLoop) Active() bool {
	return j.windowDepth > 0 || j.fencePending
}
