// Package config holds the daemon's two configuration layers: DaemonConfig
// (CLI flags, not persisted) and ControllerConfig (a YAML file describing
// per-port defaults, jog defaults, and event-trigger rules; see
// controller.go).
package config

import "fmt"

// DaemonConfig is populated directly from CLI flags in cmd/cncd.
type DaemonConfig struct {
	Host           string
	Port           int
	WatchDirectory string
	ConfigPath     string
	LogLevel       string
	LogFile        string
}

// Addr is the TCP bind address derived from Host/Port, e.g. "0.0.0.0:8000".
func (c *DaemonConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
