package serialport

import (
	"errors"
	"sync"
)

// FakeLink is an in-memory Link double: writes go to a recorded log the
// test can inspect, and injected firmware lines are delivered through the
// same framer every real backing uses, so framing bugs show up in unit
// tests without an actual port.
type FakeLink struct {
	mu      sync.Mutex
	closed  bool
	readErr error
	written [][]byte

	lines  chan []byte
	framer lineFramer
}

func NewFakeLink() *FakeLink {
	return &FakeLink{
		lines: make(chan []byte, 256),
	}
}

func (f *FakeLink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("serialport: write on closed fake link")
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.written = append(f.written, cp)
	return len(p), nil
}

// Written returns every byte slice passed to Write, in order, for test
// assertions.
func (f *FakeLink) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// Inject feeds raw bytes as if they'd arrived over the wire — a test can
// split a single firmware line across multiple Inject calls to exercise the
// framer's reassembly.
func (f *FakeLink) Inject(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, line := range f.framer.feed(p) {
		f.lines <- line
	}
}

// InjectLine is a convenience wrapper around Inject that appends the
// newline itself.
func (f *FakeLink) InjectLine(s string) {
	f.Inject(append([]byte(s), '\n'))
}

func (f *FakeLink) Lines() <-chan []byte { return f.lines }

func (f *FakeLink) ReadErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readErr
}

// FailRead simulates an unrecoverable read error, closing Lines the same
// way a disconnected real port would.
func (f *FakeLink) FailRead(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.readErr = err
	f.closed = true
	close(f.lines)
}

func (f *FakeLink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.lines)
	return nil
}
