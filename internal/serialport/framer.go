package serialport

import "bytes"

// lineFramer accumulates bytes from successive reads and emits whole lines
// delimited by '\n' (a preceding '\r' is stripped). Firmware never promises
// a line lands in a single read, so every Link backing funnels its raw
// reads through one of these rather than assuming read == line.
type lineFramer struct {
	buf bytes.Buffer
}

// feed appends newly read bytes and returns zero or more complete lines
// extracted from the accumulated buffer, in order.
func (f *lineFramer) feed(p []byte) [][]byte {
	f.buf.Write(p)
	var lines [][]byte
	for {
		raw := f.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, raw[:idx])
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, line)
		f.buf.Next(idx + 1)
	}
	return lines
}
