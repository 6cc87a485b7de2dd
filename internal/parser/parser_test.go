package parser

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pixelflut/goflut/internal/framebuffer"
)

// withPadding returns a buffer holding s followed by Lookahead zero bytes,
// and the length of the real data, matching the contract Parse requires.
func withPadding(s string) ([]byte, int) {
	buf := make([]byte, len(s)+Lookahead)
	copy(buf, s)
	return buf, len(s)
}

func TestPXSetAndGet(t *testing.T) {
	fb := framebuffer.New(100, 100)
	st := NewState(0)
	var reply bytes.Buffer

	buf, n := withPadding("PX 10 10 ff0000\n")
	consumed := Parse(st, fb, buf, n, &reply)
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}
	if got := fb.Get(10, 10); got != 0xff0000 {
		t.Fatalf("pixel = %#x, want %#x", got, 0xff0000)
	}

	reply.Reset()
	buf, n = withPadding("PX 10 10\n")
	Parse(st, fb, buf, n, &reply)
	if reply.String() != "PX 10 10 ff0000\n" {
		t.Fatalf("reply = %q", reply.String())
	}
}

// TestByteOrdering is spec testable property 2: a pixel set via "ff0000"
// (pure red) must, viewed as a little-endian 32-bit word, have blue in
// byte 0 and red in byte 2.
func TestByteOrdering(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("PX 0 0 ff0000\n")
	Parse(st, fb, buf, n, &reply)

	word := fb.Get(0, 0)
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], word)
	if raw[0] != 0x00 {
		t.Fatalf("byte 0 (blue) = %#x, want 0x00", raw[0])
	}
	if raw[2] != 0xff {
		t.Fatalf("byte 2 (red) = %#x, want 0xff", raw[2])
	}
}

func TestGrayscaleColor(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("PX 1 1 80\n")
	Parse(st, fb, buf, n, &reply)
	if got := fb.Get(1, 1); got != 0x808080 {
		t.Fatalf("pixel = %#x, want %#x", got, 0x808080)
	}
}

func TestAlphaColorIgnoredOnReply(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("PX 2 2 ff00007f\n")
	Parse(st, fb, buf, n, &reply)

	reply.Reset()
	buf, n = withPadding("PX 2 2\n")
	Parse(st, fb, buf, n, &reply)
	if reply.String() != "PX 2 2 ff0000\n" {
		t.Fatalf("reply = %q, want alpha stripped", reply.String())
	}
}

func TestSizeReply(t *testing.T) {
	fb := framebuffer.New(1920, 1080)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("SIZE\n")
	Parse(st, fb, buf, n, &reply)
	if reply.String() != "SIZE 1920 1080\n" {
		t.Fatalf("reply = %q", reply.String())
	}
}

// TestHelpThrottling is spec testable property 5: five HELPs in one batch
// produce exactly two full help texts, one "stop spamming" notice, and
// nothing further.
func TestHelpThrottling(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("HELP\nHELP\nHELP\nHELP\nHELP\n")
	consumed := Parse(st, fb, buf, n, &reply)
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}

	full := bytes.Count(reply.Bytes(), []byte("Commands:\n"))
	if full != 2 {
		t.Fatalf("full help count = %d, want 2", full)
	}
	if bytes.Count(reply.Bytes(), []byte("stop spamming")) != 1 {
		t.Fatalf("expected exactly one stop-spamming notice")
	}
}

// TestHelpThrottleResetsPerBatch ensures the counter is per parse batch,
// not per connection lifetime: a fresh call gets two full replies again.
func TestHelpThrottleResetsPerBatch(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("HELP\nHELP\nHELP\n")
	Parse(st, fb, buf, n, &reply)

	reply.Reset()
	buf, n = withPadding("HELP\n")
	Parse(st, fb, buf, n, &reply)
	if bytes.Count(reply.Bytes(), []byte("Commands:\n")) != 1 {
		t.Fatalf("expected a full help reply in the new batch")
	}
}

// TestOffsetAppliesAndEchoesOriginalCoords is spec scenario E5: OFFSET
// shifts where PX writes/reads land, but replies echo the client's
// original (pre-offset) coordinates.
func TestOffsetAppliesAndEchoesOriginalCoords(t *testing.T) {
	fb := framebuffer.New(2000, 2000)
	st := NewState(0)
	var reply bytes.Buffer

	buf, n := withPadding("OFFSET 1000 500\nPX 0 0 00ff00\n")
	Parse(st, fb, buf, n, &reply)
	if got := fb.Get(1000, 500); got != 0x00ff00 {
		t.Fatalf("pixel at offset target = %#x, want %#x", got, 0x00ff00)
	}
	if fb.Get(0, 0) != 0 {
		t.Fatalf("pixel at unshifted origin should be untouched")
	}

	reply.Reset()
	buf, n = withPadding("PX 0 0\n")
	Parse(st, fb, buf, n, &reply)
	if reply.String() != "PX 0 0 00ff00\n" {
		t.Fatalf("reply = %q, want original coordinates echoed", reply.String())
	}
}

// TestNegativeOffsetWrapsAndFailsBounds covers Open Question (a): an
// effective coordinate that goes negative wraps to a huge unsigned value
// and fails the bounds check rather than being clamped or wrapped visibly.
func TestNegativeOffsetWrapsAndFailsBounds(t *testing.T) {
	fb := framebuffer.New(100, 100)
	st := NewState(0)
	var reply bytes.Buffer

	buf, n := withPadding("OFFSET -50 0\nPX 10 10 ff0000\n")
	Parse(st, fb, buf, n, &reply)

	for y := int32(0); y < 100; y++ {
		for x := int32(0); x < 100; x++ {
			if fb.Get(x, y) != 0 {
				t.Fatalf("unexpected write at (%d,%d)", x, y)
			}
		}
	}
}

// TestResyncSkipsGarbage is spec testable property 6: noise
// before a valid command is skipped without corrupting the command.
func TestResyncSkipsGarbage(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("garbage...\nPX 0 0 112233\n")
	consumed := Parse(st, fb, buf, n, &reply)
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}
	if got := fb.Get(0, 0); got != 0x112233 {
		t.Fatalf("pixel = %#x, want %#x", got, 0x112233)
	}
}

// TestKnownPrefixMalformedArgsResyncs is spec testable property 7: a known
// prefix ("PX") followed by malformed arguments is skipped, and parsing
// resumes at the next valid command rather than stalling forever.
func TestKnownPrefixMalformedArgsResyncs(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("PX abc\nPX 1 1 ff0000\n")
	consumed := Parse(st, fb, buf, n, &reply)
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}
	if got := fb.Get(1, 1); got != 0xff0000 {
		t.Fatalf("pixel = %#x, want %#x", got, 0xff0000)
	}
}

// TestPartialCommandCarry is spec testable property 8: a stream split into
// two reads mid-command produces identical state to the same bytes read in
// one go, because an incomplete command is left unconsumed for the caller
// to re-present whole.
func TestPartialCommandCarry(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer

	full := "PX 2 2 00ff00\n"
	split := len("PX 2") // split mid-number

	buf := make([]byte, len(full)+Lookahead)
	copy(buf, full[:split])
	consumed := Parse(st, fb, buf, split, &reply)
	if consumed != 0 {
		t.Fatalf("consumed = %d, want 0 (command incomplete)", consumed)
	}

	copy(buf, full[consumed:])
	n := len(full) - consumed
	consumed = Parse(st, fb, buf, n, &reply)
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}
	if got := fb.Get(2, 2); got != 0x00ff00 {
		t.Fatalf("pixel = %#x, want %#x", got, 0x00ff00)
	}
}

func TestOutOfBoundsPXIsSilentlyDropped(t *testing.T) {
	fb := framebuffer.New(10, 10)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("PX 9999 9999 ff0000\n")
	consumed := Parse(st, fb, buf, n, &reply)
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}
	if reply.Len() != 0 {
		t.Fatalf("expected no reply for out-of-bounds set, got %q", reply.String())
	}
}

func TestCarriageReturnTolerated(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer
	buf, n := withPadding("PX 0 0 ff0000\r\n")
	consumed := Parse(st, fb, buf, n, &reply)
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}
	if got := fb.Get(0, 0); got != 0xff0000 {
		t.Fatalf("pixel = %#x, want %#x", got, 0xff0000)
	}
}

func TestBinarySetPixel(t *testing.T) {
	fb := framebuffer.New(10, 10)
	st := NewState(FlagBinarySetPixel)
	var reply bytes.Buffer

	record := []byte{'P', 'B', 3, 0, 4, 0, 0x11, 0x22, 0x33, 0xff}
	buf := make([]byte, len(record)+Lookahead)
	copy(buf, record)
	consumed := Parse(st, fb, buf, len(record), &reply)
	if consumed != len(record) {
		t.Fatalf("consumed = %d, want %d", consumed, len(record))
	}
	if got := fb.Get(3, 4); got != 0xff112233 {
		t.Fatalf("pixel = %#x, want %#x", got, 0xff112233)
	}
}

func TestBinarySetPixelDisabledByDefault(t *testing.T) {
	fb := framebuffer.New(10, 10)
	st := NewState(0)
	var reply bytes.Buffer

	record := []byte{'P', 'B', 3, 0, 4, 0, 0x11, 0x22, 0x33, 0xff}
	buf := make([]byte, len(record)+Lookahead)
	copy(buf, record)
	Parse(st, fb, buf, len(record), &reply)
	if fb.Get(3, 4) != 0 {
		t.Fatalf("binary-set-pixel must not execute when its flag is unset")
	}
}

func TestBinarySyncPixelsSingleCall(t *testing.T) {
	fb := framebuffer.New(10, 10)
	st := NewState(FlagBinarySyncPixels)
	var reply bytes.Buffer

	var msg bytes.Buffer
	msg.WriteByte('P')
	msg.WriteByte('S')
	binary.Write(&msg, binary.LittleEndian, int16(1)) // x
	binary.Write(&msg, binary.LittleEndian, int16(1)) // y
	binary.Write(&msg, binary.LittleEndian, uint16(2))
	binary.Write(&msg, binary.LittleEndian, uint16(2))
	pixels := []uint32{0x010101, 0x020202, 0x030303, 0x040404}
	for _, p := range pixels {
		binary.Write(&msg, binary.LittleEndian, p)
	}

	buf := make([]byte, msg.Len()+Lookahead)
	copy(buf, msg.Bytes())
	consumed := Parse(st, fb, buf, msg.Len(), &reply)
	if consumed != msg.Len() {
		t.Fatalf("consumed = %d, want %d", consumed, msg.Len())
	}

	want := [][3]int32{{1, 1, 0}, {2, 1, 1}, {1, 2, 2}, {2, 2, 3}}
	for _, w := range want {
		if got := fb.Get(w[0], w[1]); got != pixels[w[2]] {
			t.Fatalf("pixel (%d,%d) = %#x, want %#x", w[0], w[1], got, pixels[w[2]])
		}
	}
}

// TestBinarySyncPixelsSpansMultipleCalls ensures a sync rectangle whose
// payload does not fully arrive in one read is completed across
// subsequent Parse calls rather than requiring it to all be resident at
// once.
func TestBinarySyncPixelsSpansMultipleCalls(t *testing.T) {
	fb := framebuffer.New(10, 10)
	st := NewState(FlagBinarySyncPixels)
	var reply bytes.Buffer

	var msg bytes.Buffer
	msg.WriteByte('P')
	msg.WriteByte('S')
	binary.Write(&msg, binary.LittleEndian, int16(0))
	binary.Write(&msg, binary.LittleEndian, int16(0))
	binary.Write(&msg, binary.LittleEndian, uint16(2))
	binary.Write(&msg, binary.LittleEndian, uint16(1))
	binary.Write(&msg, binary.LittleEndian, uint32(0xaaaaaa))
	binary.Write(&msg, binary.LittleEndian, uint32(0xbbbbbb))

	full := msg.Bytes()
	split := 14 // header (10) + one full pixel (4), short of the second pixel

	buf := make([]byte, len(full)+Lookahead)
	copy(buf, full[:split])
	consumed := Parse(st, fb, buf, split, &reply)
	if consumed != split {
		t.Fatalf("consumed = %d, want %d (blit should consume all available whole pixels)", consumed, split)
	}
	if fb.Get(0, 0) != 0xaaaaaa {
		t.Fatalf("first pixel should already be written")
	}
	if st.blit == nil {
		t.Fatalf("blit should still be pending after a partial payload")
	}

	copy(buf, full[split:])
	n := len(full) - split
	consumed = Parse(st, fb, buf, n, &reply)
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}
	if fb.Get(1, 0) != 0xbbbbbb {
		t.Fatalf("second pixel should be written after completion")
	}
	if st.blit != nil {
		t.Fatalf("blit should be cleared once complete")
	}
}

// TestBinarySyncPixelsClipsOutOfRange covers Open Question (b): a
// rectangle extending past the framebuffer edge is clipped row-by-row; the
// in-bounds pixels still land correctly.
func TestBinarySyncPixelsClipsOutOfRange(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(FlagBinarySyncPixels)
	var reply bytes.Buffer

	var msg bytes.Buffer
	msg.WriteByte('P')
	msg.WriteByte('S')
	binary.Write(&msg, binary.LittleEndian, int16(3))
	binary.Write(&msg, binary.LittleEndian, int16(3))
	binary.Write(&msg, binary.LittleEndian, uint16(2))
	binary.Write(&msg, binary.LittleEndian, uint16(2))
	pixels := []uint32{0x111111, 0x222222, 0x333333, 0x444444}
	for _, p := range pixels {
		binary.Write(&msg, binary.LittleEndian, p)
	}

	buf := make([]byte, msg.Len()+Lookahead)
	copy(buf, msg.Bytes())
	Parse(st, fb, buf, msg.Len(), &reply)

	if fb.Get(3, 3) != 0x111111 {
		t.Fatalf("in-bounds corner pixel not written")
	}
}

// TestCommandAfterBlitCompletesInSameCall ensures trailing bytes after a
// completed blit are still parsed as ordinary commands in the same call.
func TestCommandAfterBlitCompletesInSameCall(t *testing.T) {
	fb := framebuffer.New(10, 10)
	st := NewState(FlagBinarySyncPixels)
	var reply bytes.Buffer

	var msg bytes.Buffer
	msg.WriteByte('P')
	msg.WriteByte('S')
	binary.Write(&msg, binary.LittleEndian, int16(0))
	binary.Write(&msg, binary.LittleEndian, int16(0))
	binary.Write(&msg, binary.LittleEndian, uint16(1))
	binary.Write(&msg, binary.LittleEndian, uint16(1))
	binary.Write(&msg, binary.LittleEndian, uint32(0x123456))
	msg.WriteString("PX 1 1 654321\n")

	buf := make([]byte, msg.Len()+Lookahead)
	copy(buf, msg.Bytes())
	consumed := Parse(st, fb, buf, msg.Len(), &reply)
	if consumed != msg.Len() {
		t.Fatalf("consumed = %d, want %d", consumed, msg.Len())
	}
	if fb.Get(0, 0) != 0x123456 {
		t.Fatalf("blit pixel missing")
	}
	if fb.Get(1, 1) != 0x654321 {
		t.Fatalf("trailing PX command not parsed")
	}
}

func TestCommandsParsedAndPixelsSetCounters(t *testing.T) {
	fb := framebuffer.New(10, 10)
	st := NewState(0)
	var reply bytes.Buffer

	buf, n := withPadding("PX 1 1 ff0000\nPX 2 2\nSIZE\n")
	Parse(st, fb, buf, n, &reply)

	if st.CommandsParsed != 3 {
		t.Fatalf("CommandsParsed = %d, want 3", st.CommandsParsed)
	}
	if st.PixelsSet != 1 {
		t.Fatalf("PixelsSet = %d, want 1 (only the set PX writes a pixel)", st.PixelsSet)
	}
}

func TestCountersResetEachParseCall(t *testing.T) {
	fb := framebuffer.New(10, 10)
	st := NewState(0)
	var reply bytes.Buffer

	buf, n := withPadding("PX 1 1 ff0000\n")
	Parse(st, fb, buf, n, &reply)
	if st.CommandsParsed != 1 || st.PixelsSet != 1 {
		t.Fatalf("first call: CommandsParsed=%d PixelsSet=%d, want 1,1", st.CommandsParsed, st.PixelsSet)
	}

	buf, n = withPadding("SIZE\n")
	Parse(st, fb, buf, n, &reply)
	if st.CommandsParsed != 1 || st.PixelsSet != 0 {
		t.Fatalf("second call: CommandsParsed=%d PixelsSet=%d, want 1,0 (not cumulative)", st.CommandsParsed, st.PixelsSet)
	}
}

func TestBinarySyncPixelsCountsOneCommandOnCompletion(t *testing.T) {
	fb := framebuffer.New(10, 10)
	st := NewState(FlagBinarySyncPixels)
	var reply bytes.Buffer

	var msg bytes.Buffer
	msg.WriteByte('P')
	msg.WriteByte('S')
	binary.Write(&msg, binary.LittleEndian, int16(0))
	binary.Write(&msg, binary.LittleEndian, int16(0))
	binary.Write(&msg, binary.LittleEndian, uint16(2))
	binary.Write(&msg, binary.LittleEndian, uint16(1))
	binary.Write(&msg, binary.LittleEndian, uint32(0x111111))

	full := msg.Bytes()
	split := 14 // header plus one whole pixel, short of the second

	buf := make([]byte, len(full)+Lookahead)
	copy(buf, full[:split])
	Parse(st, fb, buf, split, &reply)
	if st.CommandsParsed != 0 {
		t.Fatalf("CommandsParsed = %d, want 0 before the rectangle completes", st.CommandsParsed)
	}
	if st.PixelsSet != 1 {
		t.Fatalf("PixelsSet = %d, want 1 for the pixel already written", st.PixelsSet)
	}

	binary.Write(&msg, binary.LittleEndian, uint32(0x222222))
	full = msg.Bytes()
	copy(buf, full[split:])
	n := len(full) - split
	Parse(st, fb, buf, n, &reply)
	if st.CommandsParsed != 1 {
		t.Fatalf("CommandsParsed = %d, want 1 once the rectangle completes", st.CommandsParsed)
	}
	if st.PixelsSet != 1 {
		t.Fatalf("PixelsSet = %d, want 1 for this call's single remaining pixel", st.PixelsSet)
	}
}

func TestOverlongLineIsMalformedNotStalled(t *testing.T) {
	fb := framebuffer.New(4, 4)
	st := NewState(0)
	var reply bytes.Buffer

	// A keyword-prefixed line with no terminator anywhere within Lookahead
	// bytes must resync rather than wait forever.
	line := "OFFSET " + string(bytes.Repeat([]byte{'9'}, Lookahead+5))
	buf, n := withPadding(line + "\nPX 0 0 010203\n")
	consumed := Parse(st, fb, buf, n, &reply)
	if consumed != n {
		t.Fatalf("consumed = %d, want %d", consumed, n)
	}
	if got := fb.Get(0, 0); got != 0x010203 {
		t.Fatalf("pixel = %#x, want %#x, parser appears stalled on overlong line", got, 0x010203)
	}
}
