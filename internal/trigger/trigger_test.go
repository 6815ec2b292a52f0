package trigger

import (
	"log/slog"
	"testing"

	"github.com/rsteckler/cncd/internal/config"
	"github.com/rsteckler/cncd/internal/session"
)

type fakeRunner struct {
	submitted [][]string
}

func (f *fakeRunner) Submit(commands []string) error {
	f.submitted = append(f.submitted, commands)
	return nil
}

func TestFireGcodeRule(t *testing.T) {
	rules := []config.EventRule{
		{Event: "job:start", TriggerKind: "gcode", Commands: []string{"M8"}, Enabled: true},
		{Event: "job:start", TriggerKind: "gcode", Commands: []string{"M9"}, Enabled: false},
	}
	tr := New(rules, nil, slog.Default())

	var fed []session.FeedItem
	tr.Fire("job:start", func(items ...session.FeedItem) { fed = append(fed, items...) })

	if len(fed) != 1 || fed[0].Text != "M8" {
		t.Fatalf("expected only the enabled rule's command fed, got %+v", fed)
	}
}

func TestFireSystemRule(t *testing.T) {
	runner := &fakeRunner{}
	rules := []config.EventRule{
		{Event: "alarm", TriggerKind: "system", Commands: []string{"notify-operator"}, Enabled: true},
	}
	tr := New(rules, runner, slog.Default())

	tr.Fire("alarm", func(items ...session.FeedItem) {})

	if len(runner.submitted) != 1 || runner.submitted[0][0] != "notify-operator" {
		t.Fatalf("expected system rule handed off to runner, got %+v", runner.submitted)
	}
}

func TestFireIgnoresNonMatchingEvent(t *testing.T) {
	rules := []config.EventRule{
		{Event: "job:end", TriggerKind: "gcode", Commands: []string{"M5"}, Enabled: true},
	}
	tr := New(rules, nil, slog.Default())

	var fed []session.FeedItem
	tr.Fire("job:start", func(items ...session.FeedItem) { fed = append(fed, items...) })
	if len(fed) != 0 {
		t.Fatalf("expected no commands fed for a non-matching event, got %+v", fed)
	}
}
