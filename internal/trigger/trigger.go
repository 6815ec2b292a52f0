// Package trigger implements EventTrigger: matching lifecycle events fired
// by a controller session against user-configured rules and submitting
// their commands back into the session (spec §4.11).
package trigger

import (
	"log/slog"

	"github.com/rsteckler/cncd/internal/config"
	"github.com/rsteckler/cncd/internal/session"
)

// TaskRunner is the external collaborator a system-kind rule hands off to.
// Out of scope beyond the handoff itself, per spec §4.11.
type TaskRunner interface {
	Submit(commands []string) error
}

// EventTrigger matches named lifecycle events against ControllerConfig.Rules
// and either feeds gcode commands into the session or hands system commands
// off to a TaskRunner.
type EventTrigger struct {
	rules  []config.EventRule
	runner TaskRunner
	log    *slog.Logger
}

func New(rules []config.EventRule, runner TaskRunner, log *slog.Logger) *EventTrigger {
	return &EventTrigger{rules: rules, runner: runner, log: log}
}

// Fire looks up every enabled rule matching event and realizes its
// commands: gcode rules feed through feed, system rules hand off to the
// TaskRunner. feed is the calling session's Feeder.Feed, passed in as a
// closure so EventTrigger never needs to know about SessionHub directly.
func (t *EventTrigger) Fire(event string, feed func(items ...session.FeedItem)) {
	for _, rule := range t.rules {
		if !rule.Enabled || rule.Event != event {
			continue
		}
		switch rule.TriggerKind {
		case "gcode":
			items := make([]session.FeedItem, 0, len(rule.Commands))
			for _, cmd := range rule.Commands {
				items = append(items, session.FeedItem{Text: cmd, Context: "trigger:" + event})
			}
			feed(items...)
		case "system":
			if t.runner == nil {
				t.log.Warn("system trigger rule with no task runner configured", "event", event)
				continue
			}
			if err := t.runner.Submit(rule.Commands); err != nil {
				t.log.Error("system trigger submit failed", "event", event, "error", err)
			}
		default:
			t.log.Warn("unrecognized trigger_kind", "event", event, "kind", rule.TriggerKind)
		}
	}
}
