// Package watch implements the --watch-directory supplement: a
// non-recursive fsnotify watch over one directory that fires a file:new
// event for each new G-code file, leaving loading it to the client (spec
// §6, supplemented per SPEC_FULL.md §11).
package watch

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// gcodeExts is the set of file extensions that count as a new job file.
var gcodeExts = map[string]bool{".nc": true, ".gcode": true, ".tap": true}

// Event is a single file:new notification.
type Event struct {
	Name string
	Path string
}

// Watcher wraps fsnotify over a single directory.
type Watcher struct {
	fsw *fsnotify.Watcher
	log *slog.Logger
}

// New starts watching dir non-recursively. Callers must call Close when
// done.
func New(dir string, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, log: log}, nil
}

// Run delivers a file:new Event on events for every Create/Write of a
// recognized G-code extension, until Close is called. Intended to run in
// its own goroutine.
func (w *Watcher) Run(events chan<- Event) {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !gcodeExts[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			events <- Event{Name: filepath.Base(ev.Name), Path: ev.Name}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil && w.log != nil {
				w.log.Warn("watch directory error", "error", err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }
