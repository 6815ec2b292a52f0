package hub

import (
	"fmt"

	"github.com/rsteckler/cncd/internal/cncerr"
	"github.com/rsteckler/cncd/internal/session"
)

// Dispatcher maps abstract actions (homing, zero_x, spindle_off, …) to
// controller-specific byte/line emissions, gated by state (§4.10).
type Dispatcher struct {
	hub *SessionHub
}

func NewDispatcher(h *SessionHub) *Dispatcher { return &Dispatcher{hub: h} }

// Dispatch realizes verb against port's open session. args carries the
// verb-specific payload (rpm, direction, override step, axis letters).
func (d *Dispatcher) Dispatch(port, verb string, args map[string]any) error {
	sess, ok := d.hub.Session(port)
	if !ok {
		return fmt.Errorf("port %s not open", port)
	}
	status := sess.Status()
	rt := sess.Variant().RealtimeBytes()

	switch verb {
	case "homing":
		if !in(status.MachineStatus, session.ReadyUnhomed, session.ReadyHomed, session.Alarm) {
			return cncerr.IllegalState(port, verb, status.MachineStatus.String())
		}
		return sess.Write(sess.Variant().FormatHome())

	case "unlock":
		if status.MachineStatus != session.Alarm {
			return cncerr.IllegalState(port, verb, status.MachineStatus.String())
		}
		return sess.Write(sess.Variant().FormatUnlock())

	case "reset", "emergency_stop":
		return sess.WriteRealtime(rt.SoftReset)

	case "feedhold":
		if status.WorkflowState != session.Running {
			return cncerr.IllegalState(port, verb, status.WorkflowState.String())
		}
		return sess.WriteRealtime(rt.FeedHold)

	case "cyclestart":
		if status.WorkflowState != session.Paused {
			return cncerr.IllegalState(port, verb, status.WorkflowState.String())
		}
		return sess.WriteRealtime(rt.CycleStart)

	case "jogCancel":
		return sess.WriteRealtime(rt.JogCancel)

	case "feedOverride":
		b, err := overrideByte(args, rt.FeedOverride100, rt.FeedOverrideInc, rt.FeedOverrideDec)
		if err != nil {
			return err
		}
		if !status.Connected {
			return cncerr.IllegalState(port, verb, "disconnected")
		}
		return sess.WriteRealtime(b)

	case "spindleOverride":
		b, err := overrideByte(args, rt.SpindleOverride100, rt.SpindleOverrideInc, rt.SpindleOverrideDec)
		if err != nil {
			return err
		}
		if !status.Connected {
			return cncerr.IllegalState(port, verb, "disconnected")
		}
		return sess.WriteRealtime(b)

	case "rapidOverride":
		step, _ := args["step"].(float64)
		if !status.Connected {
			return cncerr.IllegalState(port, verb, "disconnected")
		}
		switch int(step) {
		case 25:
			return sess.WriteRealtime(rt.RapidOverride25)
		case 50:
			return sess.WriteRealtime(rt.RapidOverride50)
		default:
			return sess.WriteRealtime(rt.RapidOverride100)
		}

	case "spindle_on":
		if status.WorkflowState == session.Running {
			return cncerr.IllegalState(port, verb, status.WorkflowState.String())
		}
		rpm, _ := args["rpm"].(float64)
		cw := true
		if v, ok := args["cw"].(bool); ok {
			cw = v
		}
		cmd := "M3"
		if !cw {
			cmd = "M4"
		}
		if rpm > 0 {
			cmd = fmt.Sprintf("%s S%d", cmd, int(rpm))
		}
		return sess.Write(cmd)

	case "spindle_off":
		return sess.Write("M5")

	case "zero_all":
		if status.WorkflowState == session.Running || !status.Homed {
			return cncerr.IllegalState(port, verb, status.MachineStatus.String())
		}
		return sess.Write(sess.Variant().FormatZero("X0 Y0 Z0"))

	case "speed_slow", "speed_medium", "speed_fast":
		mult := map[string]float64{"speed_slow": 0.4, "speed_medium": 0.7, "speed_fast": 1.0}[verb]
		sess.Do(func() { sess.JogRef().SetSpeedPreset(mult) })
		return nil

	case "zero_x", "zero_y", "zero_z":
		if status.WorkflowState == session.Running {
			return cncerr.IllegalState(port, verb, status.WorkflowState.String())
		}
		axis := verb[len("zero_"):]
		return sess.Write(sess.Variant().FormatZero(axis + "0"))

	default:
		return cncerr.IllegalState(port, verb, "unknown verb")
	}
}

func overrideByte(args map[string]any, b100, bInc, bDec byte) (byte, error) {
	step, _ := args["step"].(string)
	switch step {
	case "+":
		return bInc, nil
	case "-":
		return bDec, nil
	case "100", "":
		return b100, nil
	default:
		return 0, fmt.Errorf("unrecognized override step %q", step)
	}
}

func in(v session.MachineStatus, set ...session.MachineStatus) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
