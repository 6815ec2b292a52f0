package protocol

import "strings"

// Smoothie speaks Grbl's character-counting wire protocol and status report
// verbatim; the only practical difference callers observe is the startup
// banner, so this embeds Grbl and only overrides Name/ParseLine's startup
// branch and the version string reported back.
type Smoothie struct {
	*Grbl
}

func NewSmoothie() *Smoothie {
	return &Smoothie{Grbl: NewGrbl()}
}

func (s *Smoothie) Name() string { return "smoothie" }

func (s *Smoothie) ParseLine(raw []byte) Reply {
	line := strings.TrimSpace(string(raw))
	if strings.HasPrefix(line, "Smoothie") {
		return Reply{Kind: ReplyStartup, Version: line, Variant: "smoothie"}
	}
	r := s.Grbl.ParseLine(raw)
	if r.Kind == ReplyStartup {
		r.Variant = "smoothie"
	}
	return r
}
