package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// JogConfig mirrors the JogLoop configuration fields from the component
// design: dead-zone filtering, sensitivity curve, per-axis feed ceilings,
// inversion, and the firmware's planner lookahead depth.
type JogConfig struct {
	Deadzone      float64 `yaml:"deadzone"`
	Sensitivity   float64 `yaml:"sensitivity"`
	InvertX       bool    `yaml:"invert_x,omitempty"`
	InvertY       bool    `yaml:"invert_y,omitempty"`
	InvertZ       bool    `yaml:"invert_z,omitempty"`
	MaxFeedXY     float64 `yaml:"max_feed_xy"`
	MaxFeedZ      float64 `yaml:"max_feed_z"`
	PlannerBlocks int     `yaml:"planner_blocks"`
}

// DefaultJogConfig matches the values named in the spec (planner_blocks=15
// is Grbl's own default lookahead depth).
func DefaultJogConfig() JogConfig {
	return JogConfig{
		Deadzone:      0.08,
		Sensitivity:   1.0,
		MaxFeedXY:     3000,
		MaxFeedZ:      600,
		PlannerBlocks: 15,
	}
}

// PortProfile is the per-port configuration: which firmware variant to
// speak, the baud rate, and streaming policy flags.
type PortProfile struct {
	Port             string `yaml:"port"`
	Variant          string `yaml:"variant"` // "grbl", "marlin", "smoothie", "tinyg"
	Baud             int    `yaml:"baud"`
	ContinueOnError  bool   `yaml:"continue_on_error,omitempty"`
	StripBlankLines  bool   `yaml:"strip_blank_lines"`
	Imperial         bool   `yaml:"imperial,omitempty"`
}

// EventRule is one user-configured EventTrigger rule.
type EventRule struct {
	Event       string   `yaml:"event"`
	TriggerKind string   `yaml:"trigger_kind"` // "gcode" | "system"
	Commands    []string `yaml:"commands"`
	Enabled     bool     `yaml:"enabled"`
}

// ControllerConfig is the daemon's YAML-file configuration (cncd.yaml):
// per-port defaults, jog defaults, and the event-trigger rule table.
type ControllerConfig struct {
	Ports []PortProfile `yaml:"ports,omitempty"`
	Jog   JogConfig     `yaml:"jog"`
	Rules []EventRule   `yaml:"rules,omitempty"`

	// StatusPollInterval is the idle poll period (spec default 250ms);
	// StatusPollIntervalActive is used while Jogging/Running (spec
	// default 100ms).
	StatusPollInterval       time.Duration `yaml:"status_poll_interval"`
	StatusPollIntervalActive time.Duration `yaml:"status_poll_interval_active"`

	// WatchdogIdleTimeout is copied into session.Config.WatchdogIdle. The
	// session's inbound-activity watchdog does not read it: it flags the
	// session unhealthy after a fixed 10s without inbound activity while a
	// write is outstanding.
	WatchdogIdleTimeout time.Duration `yaml:"watchdog_idle_timeout"`
}

// DefaultControllerConfig returns the configuration used when no cncd.yaml
// is present, or as the base merged under whatever the file supplies.
func DefaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		Jog:                      DefaultJogConfig(),
		StatusPollInterval:       250 * time.Millisecond,
		StatusPollIntervalActive: 100 * time.Millisecond,
		WatchdogIdleTimeout:      10 * time.Second,
	}
}

// LoadControllerConfig reads path and overlays it onto the defaults. A
// missing file is not an error — the daemon runs fine off defaults alone,
// same as the teacher's LoadWingConfig treats a missing wing.yaml.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	cfg := DefaultControllerConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// Decode into a fresh struct so zero-valued fields in the file don't
	// stomp the defaults computed above (a duration of 0 in the YAML is
	// indistinguishable from "not set").
	var fromFile ControllerConfig
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, err
	}

	if len(fromFile.Ports) > 0 {
		cfg.Ports = fromFile.Ports
	}
	if fromFile.Jog.MaxFeedXY > 0 {
		cfg.Jog = fromFile.Jog
	}
	if len(fromFile.Rules) > 0 {
		cfg.Rules = fromFile.Rules
	}
	if fromFile.StatusPollInterval > 0 {
		cfg.StatusPollInterval = fromFile.StatusPollInterval
	}
	if fromFile.StatusPollIntervalActive > 0 {
		cfg.StatusPollIntervalActive = fromFile.StatusPollIntervalActive
	}
	if fromFile.WatchdogIdleTimeout > 0 {
		cfg.WatchdogIdleTimeout = fromFile.WatchdogIdleTimeout
	}
	return cfg, nil
}

// ProfileFor returns the configured profile for port, or a default profile
// (Grbl, 115200 baud) if none is configured.
func (c *ControllerConfig) ProfileFor(port string) PortProfile {
	for _, p := range c.Ports {
		if p.Port == port {
			return p
		}
	}
	return PortProfile{Port: port, Variant: "grbl", Baud: 115200, StripBlankLines: true}
}

// Save writes cfg to path as YAML, creating parent directories as needed —
// mirrors the teacher's SaveWingConfig.
func Save(path string, cfg *ControllerConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
