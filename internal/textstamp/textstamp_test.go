package textstamp

import "testing"

type recordingSink struct {
	width, height uint16
	writes        map[[2]int32]uint32
}

func newRecordingSink(w, h uint16) *recordingSink {
	return &recordingSink{width: w, height: h, writes: make(map[[2]int32]uint32)}
}

func (s *recordingSink) Dimensions() (uint16, uint16) { return s.width, s.height }

func (s *recordingSink) SetUnchecked(x, y int32, rgb uint32) {
	s.writes[[2]int32{x, y}] = rgb
}

func TestStampEmptyTextIsNoop(t *testing.T) {
	sink := newRecordingSink(100, 100)
	if err := Stamp(sink, "/nonexistent/font.ttf", "", 0, 0); err != nil {
		t.Fatalf("Stamp with empty text should not even open the font file: %v", err)
	}
	if len(sink.writes) != 0 {
		t.Fatalf("expected no writes for empty text")
	}
}

func TestStampMissingFontReturnsError(t *testing.T) {
	sink := newRecordingSink(100, 100)
	err := Stamp(sink, "/nonexistent/font.ttf", "hello", 0, 0)
	if err == nil {
		t.Fatal("expected an error for a missing font file")
	}
}
