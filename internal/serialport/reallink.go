package serialport

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"
)

// RealLink opens an actual serial device through go.bug.st/serial and feeds
// every read through a lineFramer, mirroring the read-goroutine-plus-channel
// shape the reference grblhal controller uses for its own port.
type RealLink struct {
	port   serial.Port
	lines  chan []byte
	log    *slog.Logger
	portID string

	mu      sync.Mutex
	closed  bool
	readErr error
}

// Open opens portID at baud 8N1, the framing Grbl-class firmware expects on
// connect. No read timeout is set.
func Open(portID string, baud int, log *slog.Logger) (*RealLink, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portID, mode)
	if err != nil {
		return nil, err
	}

	l := &RealLink{
		port:   port,
		lines:  make(chan []byte, 64),
		log:    log,
		portID: portID,
	}
	go l.readLoop()
	return l, nil
}

func (l *RealLink) readLoop() {
	defer close(l.lines)
	framer := &lineFramer{}
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			for _, line := range framer.feed(buf[:n]) {
				l.lines <- line
			}
		}
		if err != nil {
			l.mu.Lock()
			already := l.closed
			if !already {
				l.readErr = err
			}
			l.mu.Unlock()
			if !already {
				l.log.Warn("serial read error", "port", l.portID, "error", err)
			}
			return
		}
		if n == 0 && err == nil {
			// go.bug.st/serial returns (0, nil) on a read timeout with no
			// data; loop again rather than treating it as EOF.
			continue
		}
	}
}

func (l *RealLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, errors.New("serialport: write on closed link")
	}
	l.mu.Unlock()
	return l.port.Write(p)
}

func (l *RealLink) Lines() <-chan []byte { return l.lines }

func (l *RealLink) ReadErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readErr
}

func (l *RealLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *RealLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.port.Close()
}

var _ io.Closer = (*RealLink)(nil)
