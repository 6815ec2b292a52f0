package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadControllerConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadControllerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Jog.PlannerBlocks != 15 {
		t.Errorf("planner_blocks = %d, want 15", cfg.Jog.PlannerBlocks)
	}
	if cfg.StatusPollInterval.Milliseconds() != 250 {
		t.Errorf("status poll interval = %v, want 250ms", cfg.StatusPollInterval)
	}
}

func TestLoadControllerConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cncd.yaml")
	yamlText := `
jog:
  deadzone: 0.1
  sensitivity: 1.5
  max_feed_xy: 4000
  max_feed_z: 800
  planner_blocks: 20
rules:
  - event: job:start
    trigger_kind: gcode
    commands: ["M3 S1000"]
    enabled: true
`
	if err := os.WriteFile(path, []byte(yamlText), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadControllerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Jog.MaxFeedXY != 4000 {
		t.Errorf("max_feed_xy = %v, want 4000", cfg.Jog.MaxFeedXY)
	}
	if cfg.Jog.PlannerBlocks != 20 {
		t.Errorf("planner_blocks = %d, want 20", cfg.Jog.PlannerBlocks)
	}
	// Unset fields retain the hardcoded default.
	if cfg.StatusPollIntervalActive.Milliseconds() != 100 {
		t.Errorf("status poll interval active = %v, want 100ms", cfg.StatusPollIntervalActive)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Event != "job:start" {
		t.Fatalf("rules = %+v", cfg.Rules)
	}
}

func TestProfileForDefault(t *testing.T) {
	cfg := DefaultControllerConfig()
	p := cfg.ProfileFor("/dev/ttyUSB0")
	if p.Variant != "grbl" || p.Baud != 115200 {
		t.Errorf("default profile = %+v", p)
	}
}

func TestProfileForConfigured(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.Ports = []PortProfile{{Port: "/dev/ttyACM0", Variant: "marlin", Baud: 250000}}
	p := cfg.ProfileFor("/dev/ttyACM0")
	if p.Variant != "marlin" || p.Baud != 250000 {
		t.Errorf("configured profile = %+v", p)
	}
}
