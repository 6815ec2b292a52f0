package protocol

import "testing"

func TestGrblParseLineBasic(t *testing.T) {
	g := NewGrbl()
	cases := []struct {
		in   string
		kind ReplyKind
	}{
		{"ok", ReplyOk},
		{"error:9", ReplyError},
		{"ALARM:1", ReplyAlarm},
		{"<Idle|MPos:0.000,0.000,0.000|FS:0,0>", ReplyStatus},
		{"[GC:G0 G54 G17]", ReplyFeedback},
		{"$110=3000.000", ReplySetting},
		{"Grbl 1.1h ['$' for help]", ReplyStartup},
		{"> G1X10(ln=3)", ReplyEcho},
		{"", ReplyOther},
		{"garbage input that matches nothing", ReplyOther},
	}
	for _, c := range cases {
		got := g.ParseLine([]byte(c.in))
		if got.Kind != c.kind {
			t.Errorf("ParseLine(%q).Kind = %v, want %v", c.in, got.Kind, c.kind)
		}
	}
}

func TestGrblParseLineError(t *testing.T) {
	g := NewGrbl()
	r := g.ParseLine([]byte("error:9"))
	if r.Code != 9 {
		t.Errorf("Code = %d, want 9", r.Code)
	}
}

func TestGrblParseLineErrorMalformedDegradesToOther(t *testing.T) {
	g := NewGrbl()
	r := g.ParseLine([]byte("error:abc"))
	if r.Kind != ReplyOther {
		t.Errorf("Kind = %v, want Other for malformed error code", r.Kind)
	}
}

func TestGrblParseStatusFields(t *testing.T) {
	g := NewGrbl()
	r := g.ParseLine([]byte("<Run|MPos:1.000,2.000,3.000|FS:500,1000|Ov:100,100,100|Bf:14,127>"))
	if r.Kind != ReplyStatus {
		t.Fatalf("Kind = %v, want Status", r.Kind)
	}
	st := r.Status
	if st.ActiveState != "Run" {
		t.Errorf("ActiveState = %q, want Run", st.ActiveState)
	}
	if st.MPos == nil || st.MPos.X != 1 || st.MPos.Y != 2 || st.MPos.Z != 3 {
		t.Errorf("MPos = %+v", st.MPos)
	}
	if st.FeedRate == nil || *st.FeedRate != 500 {
		t.Errorf("FeedRate = %v, want 500", st.FeedRate)
	}
	if st.SpindleSpeed == nil || *st.SpindleSpeed != 1000 {
		t.Errorf("SpindleSpeed = %v, want 1000", st.SpindleSpeed)
	}
	if st.FeedOverride == nil || *st.FeedOverride != 100 {
		t.Errorf("FeedOverride = %v", st.FeedOverride)
	}
	if st.BufferRX == nil || *st.BufferRX != 127 {
		t.Errorf("BufferRX = %v, want 127", st.BufferRX)
	}
}

func TestGrblParseStatusMalformedBracketDegradesToOther(t *testing.T) {
	g := NewGrbl()
	r := g.ParseLine([]byte("<>"))
	if r.Kind != ReplyOther {
		t.Errorf("Kind = %v, want Other for empty bracket", r.Kind)
	}
}

func TestGrblChecksumStripped(t *testing.T) {
	g := NewGrbl()
	r := g.ParseLine([]byte("ok*42"))
	if r.Kind != ReplyOk {
		t.Errorf("Kind = %v, want Ok after checksum strip", r.Kind)
	}
}

func TestGrblFormatJogOmitsZeroAxes(t *testing.T) {
	g := NewGrbl()
	out := g.FormatJog(1.5, 0, 0, 800, true)
	want := "$J=G91 G21 X1.500 F800"
	if out != want {
		t.Errorf("FormatJog = %q, want %q", out, want)
	}
}

func TestGrblFormatJogImperial(t *testing.T) {
	g := NewGrbl()
	out := g.FormatJog(0, 2, 0, 100, false)
	want := "$J=G91 G20 Y2.000 F100"
	if out != want {
		t.Errorf("FormatJog = %q, want %q", out, want)
	}
}

func TestGrblRealtimeBytes(t *testing.T) {
	g := NewGrbl()
	rt := g.RealtimeBytes()
	if rt.StatusRequest != '?' || rt.FeedHold != '!' || rt.CycleStart != '~' {
		t.Errorf("RealtimeBytes = %+v", rt)
	}
	if rt.SoftReset != 0x18 || rt.JogCancel != 0x85 {
		t.Errorf("RealtimeBytes = %+v", rt)
	}
}

func TestByNameDefaultsToGrbl(t *testing.T) {
	v := ByName("")
	if v.Name() != "grbl" {
		t.Errorf("ByName(\"\").Name() = %q, want grbl", v.Name())
	}
	if ByName("marlin").Name() != "marlin" {
		t.Errorf("ByName(marlin) wrong variant")
	}
	if ByName("smoothie").Name() != "smoothie" {
		t.Errorf("ByName(smoothie) wrong variant")
	}
	if ByName("tinyg").Name() != "tinyg" {
		t.Errorf("ByName(tinyg) wrong variant")
	}
}

func TestMarlinParseLine(t *testing.T) {
	m := NewMarlin()
	r := m.ParseLine([]byte("ok"))
	if r.Kind != ReplyOk {
		t.Errorf("Kind = %v, want Ok", r.Kind)
	}
	r = m.ParseLine([]byte("X:10.00 Y:0.00 Z:5.00 E:0.00 Count X:800 Y:0 Z:400"))
	if r.Kind != ReplyStatus {
		t.Fatalf("Kind = %v, want Status", r.Kind)
	}
	if r.Status.MPos == nil || r.Status.MPos.X != 10 || r.Status.MPos.Z != 5 {
		t.Errorf("MPos = %+v", r.Status.MPos)
	}
}

func TestMarlinStreamProtocolIsSendResponse(t *testing.T) {
	m := NewMarlin()
	if m.StreamProtocol() != SendResponse {
		t.Errorf("StreamProtocol = %v, want SendResponse", m.StreamProtocol())
	}
	if m.RXBufferCapacity() != 1 {
		t.Errorf("RXBufferCapacity = %d, want 1", m.RXBufferCapacity())
	}
}

func TestSmoothieStartupBanner(t *testing.T) {
	s := NewSmoothie()
	r := s.ParseLine([]byte("Smoothie"))
	if r.Kind != ReplyStartup || r.Variant != "smoothie" {
		t.Errorf("got %+v", r)
	}
	// Grbl-compatible status parsing still works through embedding.
	r = s.ParseLine([]byte("<Idle|MPos:0.000,0.000,0.000>"))
	if r.Kind != ReplyStatus {
		t.Errorf("Kind = %v, want Status", r.Kind)
	}
}

func TestTinyGParsesJSONStatus(t *testing.T) {
	tg := NewTinyG()
	r := tg.ParseLine([]byte(`{"r":{"sr":{"posx":1.5,"posy":2.5,"posz":0,"stat":5}}}`))
	if r.Kind != ReplyStatus {
		t.Fatalf("Kind = %v, want Status", r.Kind)
	}
	if r.Status.ActiveState != "Run" {
		t.Errorf("ActiveState = %q, want Run", r.Status.ActiveState)
	}
	if r.Status.MPos == nil || r.Status.MPos.X != 1.5 {
		t.Errorf("MPos = %+v", r.Status.MPos)
	}
}

func TestTinyGMalformedJSONDegradesToOther(t *testing.T) {
	tg := NewTinyG()
	r := tg.ParseLine([]byte("{not json"))
	if r.Kind != ReplyOther {
		t.Errorf("Kind = %v, want Other", r.Kind)
	}
}
