package session

import "github.com/rsteckler/cncd/internal/protocol"

// CachedState is the per-session latest-observed snapshot populated by
// Runner and read by StatusAggregator and status queries (data model
// "CachedState"). It is copied on read, never shared by reference.
type CachedState struct {
	ActiveState string
	MPos        *protocol.Vec3
	WPos        *protocol.Vec3

	FeedRate        *float64
	SpindleSpeed    *float64
	FeedOverride    *int
	RapidOverride   *int
	SpindleOverride *int

	ParserState string

	// Settings is the firmware's register table, index -> value (e.g.
	// $120/$121/$122 axis accelerations consumed by JogLoop).
	Settings map[int]float64
}

func newCachedState() CachedState {
	return CachedState{Settings: make(map[int]float64)}
}

// clone returns a deep-enough copy safe to hand to a reader outside the
// session's single-writer executor.
func (c CachedState) clone() CachedState {
	out := c
	if c.MPos != nil {
		v := *c.MPos
		out.MPos = &v
	}
	if c.WPos != nil {
		v := *c.WPos
		out.WPos = &v
	}
	if c.FeedRate != nil {
		v := *c.FeedRate
		out.FeedRate = &v
	}
	if c.SpindleSpeed != nil {
		v := *c.SpindleSpeed
		out.SpindleSpeed = &v
	}
	if c.FeedOverride != nil {
		v := *c.FeedOverride
		out.FeedOverride = &v
	}
	if c.RapidOverride != nil {
		v := *c.RapidOverride
		out.RapidOverride = &v
	}
	if c.SpindleOverride != nil {
		v := *c.SpindleOverride
		out.SpindleOverride = &v
	}
	out.Settings = make(map[int]float64, len(c.Settings))
	for k, v := range c.Settings {
		out.Settings[k] = v
	}
	return out
}

// axisAcceleration returns the firmware's configured acceleration for axis
// ("x","y","z" -> $120/$121/$122), falling back to 500 mm/s^2 per §4.7.
func (c CachedState) axisAcceleration(axis string) float64 {
	idx := map[string]int{"x": 120, "y": 121, "z": 122}[axis]
	if v, ok := c.Settings[idx]; ok {
		return v
	}
	return 500
}
