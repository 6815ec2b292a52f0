package protocol

import (
	"encoding/json"
	"strings"
)

// TinyG replies in single-line JSON rather than Grbl's bracket/dollar
// grammar, e.g. {"r":{"sr":{"posx":10,"posy":0,"posz":5,"stat":3}}}. This
// variant still reports StreamProtocol CharacterCounting: TinyG's RX buffer
// is also advertised in bytes and drained the same way Grbl's is.
type TinyG struct {
	rxCapacity int
}

func NewTinyG() *TinyG {
	return &TinyG{rxCapacity: 255}
}

func (t *TinyG) Name() string { return "tinyg" }

func (t *TinyG) StreamProtocol() StreamProtocol { return CharacterCounting }

func (t *TinyG) RXBufferCapacity() int { return t.rxCapacity }

func (t *TinyG) RealtimeBytes() RealtimeTable {
	return RealtimeTable{
		StatusRequest: '?',
		FeedHold:      '!',
		CycleStart:    '~',
		SoftReset:     0x18,
		JogCancel:     0x85,
	}
}

type tinygEnvelope struct {
	R *tinygBody `json:"r"`
	F []int      `json:"f,omitempty"`
}

type tinygBody struct {
	SR  *tinygStatus `json:"sr,omitempty"`
	Fv  string       `json:"fv,omitempty"`
	Msg string       `json:"msg,omitempty"`
}

type tinygStatus struct {
	PosX *float64 `json:"posx,omitempty"`
	PosY *float64 `json:"posy,omitempty"`
	PosZ *float64 `json:"posz,omitempty"`
	Vel  *float64 `json:"vel,omitempty"`
	Stat *int     `json:"stat,omitempty"`
}

// tinygStateNames maps TinyG's numeric machine-state codes onto the
// Grbl-style ActiveState strings the rest of the daemon matches on (Idle,
// Run, Hold, Alarm, Home). Codes not listed (0, init) parse as "Unknown".
var tinygStateNames = map[int]string{
	1: "Idle", // ready
	2: "Alarm",
	3: "Idle", // program stop
	4: "Idle", // program end
	5: "Run",
	6: "Hold",
	7: "Run", // probe
	8: "Run", // cycle
	9: "Home",
}

func (t *TinyG) ParseLine(raw []byte) Reply {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return Reply{Kind: ReplyOther, Raw: ""}
	}
	if line == "ok" {
		return Reply{Kind: ReplyOk}
	}
	if !strings.HasPrefix(line, "{") {
		return Reply{Kind: ReplyOther, Raw: line}
	}

	var env tinygEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return Reply{Kind: ReplyOther, Raw: line}
	}
	if env.R == nil {
		return Reply{Kind: ReplyOther, Raw: line}
	}
	if env.R.Fv != "" {
		return Reply{Kind: ReplyStartup, Version: env.R.Fv, Variant: "tinyg"}
	}
	if env.R.SR != nil {
		st := Status{ActiveState: "Unknown"}
		if env.R.SR.Stat != nil {
			if name, ok := tinygStateNames[*env.R.SR.Stat]; ok {
				st.ActiveState = name
			}
		}
		if env.R.SR.PosX != nil && env.R.SR.PosY != nil && env.R.SR.PosZ != nil {
			pos := Vec3{X: *env.R.SR.PosX, Y: *env.R.SR.PosY, Z: *env.R.SR.PosZ}
			st.MPos = &pos
		}
		if env.R.SR.Vel != nil {
			st.FeedRate = env.R.SR.Vel
		}
		return Reply{Kind: ReplyStatus, Status: st}
	}
	if env.R.Msg != "" {
		return Reply{Kind: ReplyFeedback, FeedbackKind: FeedbackUnknown, Body: env.R.Msg}
	}
	return Reply{Kind: ReplyOk}
}

func (t *TinyG) FormatJog(dx, dy, dz, feed float64, metric bool) string {
	g := NewGrbl()
	return g.FormatJog(dx, dy, dz, feed, metric)
}

func (t *TinyG) FormatHome() string   { return "$H" }
func (t *TinyG) FormatUnlock() string { return "$X" }
func (t *TinyG) FormatZero(axes string) string {
	return "G28.3 " + axes
}
