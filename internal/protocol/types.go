// Package protocol classifies raw firmware reply lines into a closed set of
// tagged variants and formats outbound commands for each supported
// controller dialect (Grbl, Marlin, Smoothie, TinyG). This is the "natural
// seam" for controller-specific behavior: one ControllerVariant
// implementation per firmware family, never a type switch scattered across
// the session package.
package protocol

import "fmt"

// ReplyKind is the closed set of things a single firmware line can be.
type ReplyKind int

const (
	ReplyOk ReplyKind = iota
	ReplyError
	ReplyAlarm
	ReplyStatus
	ReplyFeedback
	ReplySetting
	ReplyStartup
	ReplyEcho
	ReplyOther
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyOk:
		return "Ok"
	case ReplyError:
		return "Error"
	case ReplyAlarm:
		return "Alarm"
	case ReplyStatus:
		return "Status"
	case ReplyFeedback:
		return "Feedback"
	case ReplySetting:
		return "Setting"
	case ReplyStartup:
		return "Startup"
	case ReplyEcho:
		return "Echo"
	default:
		return "Other"
	}
}

// FeedbackKind distinguishes the several bracket-feedback shapes.
type FeedbackKind int

const (
	FeedbackParserState FeedbackKind = iota
	FeedbackStartupMessage
	FeedbackToolChange
	FeedbackUnknown
)

// Status is the parsed body of a `<...>` status report.
type Status struct {
	ActiveState string
	MPos        *Vec3
	WPos        *Vec3
	FeedRate    *float64
	SpindleSpeed *float64
	BufferPlanner *int
	BufferRX      *int
	FeedOverride    *int
	RapidOverride   *int
	SpindleOverride *int
	PinState        string
}

// Vec3 is a 3-axis coordinate triple (machine or work position).
type Vec3 struct{ X, Y, Z float64 }

// Reply is the single tagged-variant type every LineParser returns. Exactly
// one payload field is meaningful, selected by Kind; this mirrors the
// "tagged variant instead of a property bag" design note.
type Reply struct {
	Kind ReplyKind

	// ReplyError / ReplyAlarm
	Code int

	// ReplyStatus
	Status Status

	// ReplyFeedback
	FeedbackKind FeedbackKind
	Body         string

	// ReplySetting
	SettingIndex int
	SettingValue float64

	// ReplyStartup
	Version string
	Variant string

	// ReplyEcho
	Text       string
	LineNumber int

	// ReplyOther
	Raw string
}

func (r Reply) String() string {
	switch r.Kind {
	case ReplyError:
		return fmt.Sprintf("Error(%d)", r.Code)
	case ReplyAlarm:
		return fmt.Sprintf("Alarm(%d)", r.Code)
	case ReplyStatus:
		return fmt.Sprintf("Status(%s)", r.Status.ActiveState)
	default:
		return r.Kind.String()
	}
}

// StreamProtocol selects the Sender's outstanding-window shape (spec §3).
type StreamProtocol int

const (
	CharacterCounting StreamProtocol = iota
	SendResponse
)

// RealtimeTable is the single-byte realtime command set (spec §6), sent
// outside the normal line-framed write path.
type RealtimeTable struct {
	StatusRequest   byte
	FeedHold        byte
	CycleStart      byte
	SoftReset       byte
	JogCancel       byte
	FeedOverrideInc byte
	FeedOverrideDec byte
	FeedOverride100 byte
	RapidOverride25  byte
	RapidOverride50  byte
	RapidOverride100 byte
	SpindleOverrideInc byte
	SpindleOverrideDec byte
	SpindleOverride100 byte
}

// ControllerVariant is implemented once per firmware family. It owns line
// classification, the realtime byte table, and outbound command formatting
// — the seam the design notes call for instead of inheritance.
type ControllerVariant interface {
	Name() string
	ParseLine(raw []byte) Reply
	RealtimeBytes() RealtimeTable
	FormatJog(dx, dy, dz, feed float64, metric bool) string
	FormatHome() string
	FormatUnlock() string
	FormatZero(axes string) string
	StreamProtocol() StreamProtocol
	RXBufferCapacity() int
}

// ByName resolves a configured variant name ("grbl", "marlin", "smoothie",
// "tinyg") to its ControllerVariant, defaulting to Grbl for unknown/empty
// names since it's the reference target (spec §1).
func ByName(name string) ControllerVariant {
	switch name {
	case "marlin":
		return NewMarlin()
	case "smoothie":
		return NewSmoothie()
	case "tinyg":
		return NewTinyG()
	default:
		return NewGrbl()
	}
}
