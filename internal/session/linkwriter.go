package session

import "github.com/rsteckler/cncd/internal/serialport"

// linkWriter adapts a serialport.Link to the lineWriter/realtimeWriter
// interfaces Sender, Feeder, Workflow, and JogLoop depend on, keeping those
// components decoupled from the transport package.
type linkWriter struct {
	link serialport.Link
}

func (w *linkWriter) WriteLine(text string) error {
	_, err := w.link.Write([]byte(text + "\n"))
	return err
}

func (w *linkWriter) WriteRealtime(b byte) error {
	_, err := w.link.Write([]byte{b})
	return err
}
