package serialport

import (
	"errors"
	"testing"
	"time"
)

func TestLineFramerSplitAcrossFeeds(t *testing.T) {
	f := &lineFramer{}
	if lines := f.feed([]byte("<Idle|MP")); len(lines) != 0 {
		t.Fatalf("expected no complete lines yet, got %v", lines)
	}
	lines := f.feed([]byte("os:0,0,0>\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one complete line, got %d", len(lines))
	}
	if string(lines[0]) != "<Idle|MPos:0,0,0>" {
		t.Errorf("line = %q", lines[0])
	}
}

func TestLineFramerMultipleLinesOneFeed(t *testing.T) {
	f := &lineFramer{}
	lines := f.feed([]byte("ok\nok\n"))
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
}

func TestLineFramerStripsCR(t *testing.T) {
	f := &lineFramer{}
	lines := f.feed([]byte("ok\r\n"))
	if len(lines) != 1 || string(lines[0]) != "ok" {
		t.Errorf("lines = %v", lines)
	}
}

func TestFakeLinkInjectAndRead(t *testing.T) {
	fl := NewFakeLink()
	fl.InjectLine("ok")
	select {
	case line := <-fl.Lines():
		if string(line) != "ok" {
			t.Errorf("line = %q, want ok", line)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
	}
}

func TestFakeLinkWrittenRecordsWrites(t *testing.T) {
	fl := NewFakeLink()
	fl.Write([]byte("G0 X10\n"))
	fl.Write([]byte("?"))
	w := fl.Written()
	if len(w) != 2 || string(w[0]) != "G0 X10\n" || string(w[1]) != "?" {
		t.Errorf("Written = %v", w)
	}
}

func TestFakeLinkFailReadClosesLines(t *testing.T) {
	fl := NewFakeLink()
	wantErr := errors.New("device vanished")
	fl.FailRead(wantErr)
	if _, ok := <-fl.Lines(); ok {
		t.Fatal("expected Lines channel closed")
	}
	if fl.ReadErr() != wantErr {
		t.Errorf("ReadErr = %v, want %v", fl.ReadErr(), wantErr)
	}
	if !fl.Closed() {
		t.Error("expected Closed() true")
	}
}

func TestFakeLinkWriteAfterCloseErrors(t *testing.T) {
	fl := NewFakeLink()
	fl.Close()
	if _, err := fl.Write([]byte("x")); err == nil {
		t.Error("expected error writing to closed link")
	}
}
