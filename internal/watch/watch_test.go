package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherFiresOnNewGcodeFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	events := make(chan Event, 8)
	go w.Run(events)

	path := filepath.Join(dir, "part.nc")
	if err := os.WriteFile(path, []byte("G21\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Name != "part.nc" {
			t.Fatalf("expected part.nc, got %q", ev.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file:new event")
	}
}

func TestWatcherIgnoresNonGcodeFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	events := make(chan Event, 8)
	go w.Run(events)

	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case ev := <-events:
		t.Fatalf("expected no event for a non-gcode file, got %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}
