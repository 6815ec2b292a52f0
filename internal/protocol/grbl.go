package protocol

import (
	"strconv"
	"strings"
)

// Grbl implements the reference ControllerVariant described in spec §4.2:
// a bracket-delimited status report, $NN=VAL settings, error:/ALARM: codes,
// and an `ok` terminal.
type Grbl struct {
	rxCapacity int
}

func NewGrbl() *Grbl {
	return &Grbl{rxCapacity: 128}
}

func (g *Grbl) Name() string { return "grbl" }

func (g *Grbl) StreamProtocol() StreamProtocol { return CharacterCounting }

func (g *Grbl) RXBufferCapacity() int { return g.rxCapacity }

func (g *Grbl) RealtimeBytes() RealtimeTable {
	return RealtimeTable{
		StatusRequest:      '?',
		FeedHold:           '!',
		CycleStart:         '~',
		SoftReset:          0x18,
		JogCancel:          0x85,
		FeedOverrideInc:    0x91,
		FeedOverrideDec:    0x92,
		FeedOverride100:    0x90,
		RapidOverride25:    0x97,
		RapidOverride50:    0x96,
		RapidOverride100:   0x95,
		SpindleOverrideInc: 0x9B,
		SpindleOverrideDec: 0x9C,
		SpindleOverride100: 0x99,
	}
}

// ParseLine classifies a single trimmed protocol line per spec §4.2. It
// never panics: malformed numerics degrade to Other, an empty line is
// ignored (returned as Other with an empty Raw), and a trailing CRC/checksum
// suffix (`*NN`, some firmwares) is stripped before classification.
func (g *Grbl) ParseLine(raw []byte) Reply {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return Reply{Kind: ReplyOther, Raw: ""}
	}
	if i := strings.LastIndexByte(line, '*'); i > 0 && isAllDigits(line[i+1:]) {
		line = line[:i]
	}

	switch {
	case line == "ok":
		return Reply{Kind: ReplyOk}
	case strings.HasPrefix(line, "error:"):
		code, ok := parseIntSuffix(line, "error:")
		if !ok {
			return Reply{Kind: ReplyOther, Raw: line}
		}
		return Reply{Kind: ReplyError, Code: code}
	case strings.HasPrefix(line, "ALARM:"):
		code, ok := parseIntSuffix(line, "ALARM:")
		if !ok {
			return Reply{Kind: ReplyOther, Raw: line}
		}
		return Reply{Kind: ReplyAlarm, Code: code}
	case strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">"):
		st, ok := parseGrblStatus(line)
		if !ok {
			return Reply{Kind: ReplyOther, Raw: line}
		}
		return Reply{Kind: ReplyStatus, Status: st}
	case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
		return parseFeedback(line)
	case strings.HasPrefix(line, "$") && strings.Contains(line, "="):
		idx, val, ok := parseSetting(line)
		if !ok {
			return Reply{Kind: ReplyOther, Raw: line}
		}
		return Reply{Kind: ReplySetting, SettingIndex: idx, SettingValue: val}
	case strings.HasPrefix(line, "Grbl") || strings.HasPrefix(line, "GrblHAL"):
		return Reply{Kind: ReplyStartup, Version: line, Variant: "grbl"}
	case strings.HasPrefix(line, ">"):
		text, ln, ok := parseEcho(line)
		if !ok {
			return Reply{Kind: ReplyOther, Raw: line}
		}
		return Reply{Kind: ReplyEcho, Text: text, LineNumber: ln}
	default:
		return Reply{Kind: ReplyOther, Raw: line}
	}
}

// FormatJog emits `$J=G91 G21 X{dx} Y{dy} Z{dz} F{feed}` per spec §6/§4.7,
// omitting axes with zero displacement and using G20 when imperial.
func (g *Grbl) FormatJog(dx, dy, dz, feed float64, metric bool) string {
	var b strings.Builder
	b.WriteString("$J=G91 ")
	if metric {
		b.WriteString("G21")
	} else {
		b.WriteString("G20")
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

func (g *Grbl) FormatHome() string   { return "$H" }
func (g *Grbl) FormatUnlock() string { return "$X" }
func (g *Grbl) FormatZero(axes string) string {
	return "G10 L20 P1 " + axes
}

// --- parsing helpers ---

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseIntSuffix(line, prefix string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, prefix)))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseGrblStatus(line string) (Status, bool) {
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "<"), ">")
	parts := strings.Split(inner, "|")
	if len(parts) == 0 || parts[0] == "" {
		return Status{}, false
	}
	st := Status{ActiveState: parts[0]}
	for _, field := range parts[1:] {
		key, val, hasVal := strings.Cut(field, ":")
		switch key {
		case "MPos":
			if v, ok := parseVec3(val); ok {
				st.MPos = &v
			}
		case "WPos":
			if v, ok := parseVec3(val); ok {
				st.WPos = &v
			}
		case "F":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				st.FeedRate = &f
			}
		case "FS":
			vals := strings.Split(val, ",")
			if len(vals) >= 1 {
				if f, err := strconv.ParseFloat(vals[0], 64); err == nil {
					st.FeedRate = &f
				}
			}
			if len(vals) >= 2 {
				if s, err := strconv.ParseFloat(vals[1], 64); err == nil {
					st.SpindleSpeed = &s
				}
			}
		case "Bf":
			vals := strings.Split(val, ",")
			if len(vals) >= 1 {
				if n, err := strconv.Atoi(vals[0]); err == nil {
					st.BufferPlanner = &n
				}
			}
			if len(vals) >= 2 {
				if n, err := strconv.Atoi(vals[1]); err == nil {
					st.BufferRX = &n
				}
			}
		case "Ov":
			vals := strings.Split(val, ",")
			if len(vals) >= 3 {
				fo, e1 := strconv.Atoi(vals[0])
				ro, e2 := strconv.Atoi(vals[1])
				so, e3 := strconv.Atoi(vals[2])
				if e1 == nil {
					st.FeedOverride = &fo
				}
				if e2 == nil {
					st.RapidOverride = &ro
				}
				if e3 == nil {
					st.SpindleOverride = &so
				}
			}
		case "Pn":
			st.PinState = val
		default:
			_ = hasVal // unrecognized field: ignore per "unknown bracket content" policy
		}
	}
	return st, true
}

func parseVec3(s string) (Vec3, bool) {
	parts := strings.Split(s, ",")
	if len(parts) < 3 {
		return Vec3{}, false
	}
	x, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	y, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	z, err3 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Vec3{}, false
	}
	return Vec3{X: x, Y: y, Z: z}, true
}

func parseFeedback(line string) Reply {
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
	switch {
	case strings.HasPrefix(inner, "GC:"):
		return Reply{Kind: ReplyFeedback, FeedbackKind: FeedbackParserState, Body: strings.TrimPrefix(inner, "GC:")}
	case strings.HasPrefix(inner, "MSG:"):
		return Reply{Kind: ReplyFeedback, FeedbackKind: FeedbackStartupMessage, Body: strings.TrimPrefix(inner, "MSG:")}
	case strings.HasPrefix(inner, "TOOL:") || strings.HasPrefix(inner, "TLO:"):
		return Reply{Kind: ReplyFeedback, FeedbackKind: FeedbackToolChange, Body: inner}
	default:
		return Reply{Kind: ReplyFeedback, FeedbackKind: FeedbackUnknown, Body: inner}
	}
}

func parseSetting(line string) (int, float64, bool) {
	body := strings.TrimPrefix(line, "$")
	key, val, ok := strings.Cut(body, "=")
	if !ok {
		return 0, 0, false
	}
	idx, err := strconv.Atoi(key)
	if err != nil {
		return 0, 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, 0, false
	}
	return idx, f, true
}

// parseEcho handles `> line (ln=N)`.
func parseEcho(line string) (string, int, bool) {
	rest := strings.TrimPrefix(line, ">")
	rest = strings.TrimSpace(rest)
	openIdx := strings.LastIndex(rest, "(ln=")
	if openIdx < 0 {
		return rest, 0, true
	}
	text := strings.TrimSpace(rest[:openIdx])
	tail := rest[openIdx+len("(ln="):]
	closeIdx := strings.IndexByte(tail, ')')
	if closeIdx < 0 {
		return text, 0, true
	}
	n, err := strconv.Atoi(tail[:closeIdx])
	if err != nil {
		return text, 0, true
	}
	return text, n, true
}
