package protocol

import (
	"strconv"
	"strings"
)

// Marlin implements the send-response dialect: one line outstanding at a
// time, acknowledged by a bare "ok" (sometimes "ok N" echoing a line number),
// no $J= jogging syntax (Marlin jogs via ordinary G1 moves), and "echo:"
// feedback lines instead of Grbl's bracketed forms.
type Marlin struct{}

func NewMarlin() *Marlin { return &Marlin{} }

func (m *Marlin) Name() string { return "marlin" }

func (m *Marlin) StreamProtocol() StreamProtocol { return SendResponse }

func (m *Marlin) RXBufferCapacity() int { return 1 }

func (m *Marlin) RealtimeBytes() RealtimeTable {
	// Marlin has no character-counting realtime channel; M-code equivalents
	// (M108, M410, M112) are sent as ordinary lines by the session layer, so
	// the byte table is left zeroed.
	return RealtimeTable{}
}

func (m *Marlin) ParseLine(raw []byte) Reply {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return Reply{Kind: ReplyOther, Raw: ""}
	}

	switch {
	case line == "ok" || strings.HasPrefix(line, "ok "):
		return Reply{Kind: ReplyOk}
	case strings.HasPrefix(line, "Error:") || strings.HasPrefix(line, "error:"):
		return Reply{Kind: ReplyError, Code: 0, Body: strings.TrimSpace(line[strings.IndexByte(line, ':')+1:])}
	case strings.HasPrefix(line, "!!"):
		return Reply{Kind: ReplyAlarm, Body: strings.TrimPrefix(line, "!!")}
	case strings.HasPrefix(line, "X:") && strings.Contains(line, "Y:") && strings.Contains(line, "Z:"):
		st, ok := parseMarlinStatus(line)
		if !ok {
			return Reply{Kind: ReplyOther, Raw: line}
		}
		return Reply{Kind: ReplyStatus, Status: st}
	case strings.HasPrefix(line, "echo:"):
		return Reply{Kind: ReplyFeedback, FeedbackKind: FeedbackUnknown, Body: strings.TrimPrefix(line, "echo:")}
	case strings.HasPrefix(line, "Marlin"):
		return Reply{Kind: ReplyStartup, Version: line, Variant: "marlin"}
	default:
		return Reply{Kind: ReplyOther, Raw: line}
	}
}

// parseMarlinStatus parses an M114-style position report, e.g.
// "X:10.00 Y:0.00 Z:5.00 E:0.00 Count X:800 Y:0 Z:400".
func parseMarlinStatus(line string) (Status, bool) {
	fields := strings.Fields(line)
	var x, y, z float64
	var haveX, haveY, haveZ bool
	for _, f := range fields {
		key, val, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		switch key {
		case "X":
			if !haveX {
				x, haveX = v, true
			}
		case "Y":
			if !haveY {
				y, haveY = v, true
			}
		case "Z":
			if !haveZ {
				z, haveZ = v, true
			}
		}
	}
	if !haveX || !haveY || !haveZ {
		return Status{}, false
	}
	pos := Vec3{X: x, Y: y, Z: z}
	return Status{ActiveState: "Run", MPos: &pos}, true
}

// FormatJog has no native $J= equivalent on Marlin; the session layer
// degrades jogging to relative G1 moves (G91/G90 bracketed), so this just
// returns that move for completeness and symmetry with the other variants.
func (m *Marlin) FormatJog(dx, dy, dz, feed float64, metric bool) string {
	var b strings.Builder
	b.WriteString("G91 G1")
	if metric {
		b.WriteString(" ")
	}
	if dx != 0 {
		b.WriteString(" X")
		b.WriteString(strconv.FormatFloat(dx, 'f', 3, 64))
	}
	if dy != 0 {
		b.WriteString(" Y")
		b.WriteString(strconv.FormatFloat(dy, 'f', 3, 64))
	}
	if dz != 0 {
		b.WriteString(" Z")
		b.WriteString(strconv.FormatFloat(dz, 'f', 3, 64))
	}
	b.WriteString(" F")
	b.WriteString(strconv.FormatFloat(feed, 'f', 0, 64))
	return b.String()
}

func (m *Marlin) FormatHome() string   { return "G28" }
func (m *Marlin) FormatUnlock() string { return "M999" }
func (m *Marlin) FormatZero(axes string) string {
	return "G92 " + axes
}
