// Package parser implements the Pixelflut wire protocol: a single forward
// scan over a connection's read buffer that mutates a framebuffer and
// appends reply bytes, with no tokenization and no suspension points of its
// own. The only heap allocation is one row buffer per binary-sync-pixels
// rectangle.
//
// The dispatch loop peeks at the byte under the cursor, tests it against a
// small set of known command prefixes with fixed-width compares, and
// either executes the command, advances past it, or gives up and asks the
// caller for more bytes. Malformed input never produces an error — it is
// either skipped one byte at a time (true garbage) or, once a known
// keyword has matched, skipped past that keyword (known-prefix-but-bad-args)
// so a later read can resynchronize on the next valid command.
package parser

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pixelflut/goflut/internal/framebuffer"
)

// Lookahead is the number of valid padding bytes the caller guarantees
// follow the real data in every buffer passed to Parse. It must cover the
// longest possible ASCII command line including its terminator. The
// longest line is not PX (max "PX 99999 99999 rrggbbaa\n" = 24 bytes) but
// OFFSET, whose two signed 32-bit arguments can each be up to 11 characters
// ("-2147483648"): "OFFSET -2147483648 -2147483648\n" = 31 bytes. Lookahead
// is rounded up from that to a clean power of two.
const Lookahead = 32

// BinarySetPixelSize is the fixed wire size of a binary-set-pixel record:
// 2 magic bytes, 2 coordinate words, and an r/g/b/a byte quad.
const BinarySetPixelSize = 10

// BinarySyncHeaderSize is the fixed wire size of a binary-sync-pixels
// header that precedes its variable-length pixel payload.
const BinarySyncHeaderSize = 10

// Flags selects which binary wire extensions a State recognizes. Ascii
// commands are always recognized.
type Flags uint8

const (
	// FlagBinarySetPixel enables the 0x50 0x42 ("PB") fixed-record binary
	// set-pixel command.
	FlagBinarySetPixel Flags = 1 << iota
	// FlagBinarySyncPixels enables the 0x50 0x53 ("PS") header-plus-payload
	// rectangle blit command.
	FlagBinarySyncPixels
)

// State is the per-connection parser state: the OFFSET applied to every
// subsequent PX, the HELP-throttling counter for the current batch, and,
// while a binary-sync-pixels rectangle payload is still arriving, the
// in-progress blit. Besides these it holds only the enabled binary-extension
// Flags and the per-call counters below; the parser is otherwise pure over
// (input, framebuffer).
type State struct {
	OffsetX, OffsetY int32
	Flags            Flags

	// CommandsParsed and PixelsSet count, respectively, the number of
	// complete commands recognized and the number of pixels actually
	// written to the framebuffer during the most recent Parse call. Both
	// are reset to zero at the start of every Parse call; callers that
	// want a running total accumulate them themselves.
	CommandsParsed int64
	PixelsSet      int64

	helpCount int
	blit      *pendingBlit
}

type pendingBlit struct {
	x, y int32
	w, h uint16
	idx  int
	// row is a reusable scratch buffer sized to w, decoded from the wire
	// and handed to Framebuffer.BlitRect a row (or row fragment) at a
	// time, so a rectangle spanning many Parse calls allocates once per
	// binary-sync-pixels command rather than once per call.
	row []uint32
}

// NewState returns a fresh per-connection parser state with the given
// binary-extension flags enabled.
func NewState(flags Flags) *State {
	return &State{Flags: flags}
}

// SetOffset sets the connection's (x, y) offset, as the OFFSET command
// does.
func (s *State) SetOffset(x, y int32) {
	s.OffsetX = x
	s.OffsetY = y
}

const helpText = "Commands:\n" +
	"PX x y rrggbb\n" +
	"PX x y rrggbbaa\n" +
	"PX x y gg\n" +
	"PX x y\n" +
	"SIZE\n" +
	"OFFSET x y\n" +
	"HELP\n"

// Parse consumes as many complete commands as possible from buf[:length],
// mutating fb and appending reply bytes to reply, and returns the number
// of bytes consumed from the front of buf. The caller must copy
// buf[consumed:length] to the front of buf before the next read; buf must
// have at least Lookahead valid (zero-filled) bytes beyond length, which
// Parse may read but will never treat as real data (every byte it is
// confident it has consumed lies at or before length).
//
// Parse never suspends and never fails: every byte it sees is either part
// of a recognized command, skipped as noise, or left for the next call.
func Parse(state *State, fb *framebuffer.Framebuffer, buf []byte, length int, reply *bytes.Buffer) int {
	state.helpCount = 0
	state.CommandsParsed = 0
	state.PixelsSet = 0
	i := 0

	for {
		if state.blit != nil {
			i = continueBlit(state, fb, buf, length, i)
			if state.blit != nil {
				return i
			}
		}
		if i >= length {
			break
		}
		next, needMore := step(state, fb, buf, i, length, reply)
		if needMore {
			break
		}
		i = next
	}
	return i
}

func step(state *State, fb *framebuffer.Framebuffer, buf []byte, i, length int, reply *bytes.Buffer) (int, bool) {
	switch buf[i] {
	case 'H':
		return matchLine(buf, i, length, "HELP", func(line []byte) {
			handleHelp(state, reply)
		})
	case 'S':
		return matchLine(buf, i, length, "SIZE", func(line []byte) {
			handleSize(state, fb, reply)
		})
	case 'O':
		return matchLine(buf, i, length, "OFFSET", func(line []byte) {
			handleOffset(state, line)
		})
	case 'P':
		if length-i < 2 {
			return i, true
		}
		switch buf[i+1] {
		case 'X':
			return matchLine(buf, i, length, "PX", func(line []byte) {
				handlePX(state, fb, line, reply)
			})
		case 'B':
			if state.Flags&FlagBinarySetPixel == 0 {
				return i + 1, false
			}
			return matchBinarySetPixel(state, fb, buf, i, length)
		case 'S':
			if state.Flags&FlagBinarySyncPixels == 0 {
				return i + 1, false
			}
			return startBinarySync(state, buf, i, length)
		default:
			return i + 1, false
		}
	default:
		return i + 1, false
	}
}

// matchLine matches a fixed ascii keyword at buf[i:], then finds the line's
// terminating '\n' within Lookahead bytes of the keyword start. If the
// keyword itself does not match, it advances one byte (pure resync). If
// the keyword matches but no terminator is found, the command is either
// still arriving (ask for more) or exceeds the maximum line length
// (malformed — resync past the keyword). On a complete line, handler is
// invoked with the bytes after the keyword, up to (but excluding) the
// terminator and any trailing '\r'.
func matchLine(buf []byte, i, length int, keyword string, handler func(line []byte)) (int, bool) {
	klen := len(keyword)
	if length-i < klen {
		return i, true
	}
	if string(buf[i:i+klen]) != keyword {
		return i + 1, false
	}

	windowEnd := i + Lookahead
	if windowEnd > len(buf) {
		windowEnd = len(buf)
	}
	nl := -1
	for j := i + klen; j < windowEnd; j++ {
		if buf[j] == '\n' {
			nl = j
			break
		}
	}
	if nl == -1 {
		if length-i >= Lookahead {
			return i + klen, false
		}
		return i, true
	}
	if nl >= length {
		return i, true
	}

	line := buf[i+klen : nl]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	handler(line)
	return nl + 1, false
}

func handleHelp(state *State, reply *bytes.Buffer) {
	state.CommandsParsed++
	state.helpCount++
	switch {
	case state.helpCount <= 2:
		reply.WriteString(helpText)
	case state.helpCount == 3:
		reply.WriteString("stop spamming HELP!\n")
	}
}

func handleSize(state *State, fb *framebuffer.Framebuffer, reply *bytes.Buffer) {
	state.CommandsParsed++
	w, h := fb.Dimensions()
	reply.WriteString("SIZE ")
	appendUint(reply, uint32(w))
	reply.WriteByte(' ')
	appendUint(reply, uint32(h))
	reply.WriteByte('\n')
}

func handleOffset(state *State, line []byte) {
	state.CommandsParsed++
	pos := 0
	if pos >= len(line) || line[pos] != ' ' {
		return
	}
	pos++
	x, pos, ok := parseSignedInt(line, pos)
	if !ok {
		return
	}
	if pos >= len(line) || line[pos] != ' ' {
		return
	}
	pos++
	y, _, ok := parseSignedInt(line, pos)
	if !ok {
		return
	}
	state.SetOffset(x, y)
}

func handlePX(state *State, fb *framebuffer.Framebuffer, line []byte, reply *bytes.Buffer) {
	state.CommandsParsed++
	pos := 0
	if pos >= len(line) || line[pos] != ' ' {
		return
	}
	pos++
	x, pos, ok := parseUnsignedInt(line, pos, 5)
	if !ok {
		return
	}
	if pos >= len(line) || line[pos] != ' ' {
		return
	}
	pos++
	y, pos, ok := parseUnsignedInt(line, pos, 5)
	if !ok {
		return
	}

	// Offset arithmetic wraps (two's complement); a negative effective
	// coordinate becomes a huge unsigned value and simply fails the bounds
	// check below, rather than being clamped. This is intentional: it
	// mirrors the reference server's behavior rather than "fixing" it.
	ex := int32(x) + state.OffsetX
	ey := int32(y) + state.OffsetY

	if pos == len(line) {
		if !fb.InBounds(ex, ey) {
			return
		}
		rgb := fb.Get(ex, ey)
		reply.WriteString("PX ")
		appendUint(reply, x)
		reply.WriteByte(' ')
		appendUint(reply, y)
		reply.WriteByte(' ')
		appendHexRGB(reply, rgb)
		reply.WriteByte('\n')
		return
	}

	if line[pos] != ' ' {
		return
	}
	pos++
	rgb, ok := parseColor(line[pos:])
	if !ok {
		return
	}
	if fb.InBounds(ex, ey) {
		state.PixelsSet++
	}
	fb.Set(ex, ey, rgb)
}

func matchBinarySetPixel(state *State, fb *framebuffer.Framebuffer, buf []byte, i, length int) (int, bool) {
	if length-i < BinarySetPixelSize {
		return i, true
	}
	state.CommandsParsed++
	x := int32(binary.LittleEndian.Uint16(buf[i+2 : i+4]))
	y := int32(binary.LittleEndian.Uint16(buf[i+4 : i+6]))
	r, g, b, a := buf[i+6], buf[i+7], buf[i+8], buf[i+9]
	rgb := uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
	if fb.InBounds(x, y) {
		state.PixelsSet++
	}
	fb.Set(x, y, rgb)
	return i + BinarySetPixelSize, false
}

func startBinarySync(state *State, buf []byte, i, length int) (int, bool) {
	if length-i < BinarySyncHeaderSize {
		return i, true
	}
	x := int32(int16(binary.LittleEndian.Uint16(buf[i+2 : i+4])))
	y := int32(int16(binary.LittleEndian.Uint16(buf[i+4 : i+6])))
	w := binary.LittleEndian.Uint16(buf[i+6 : i+8])
	h := binary.LittleEndian.Uint16(buf[i+8 : i+10])
	state.blit = &pendingBlit{x: x, y: y, w: w, h: h}
	if w > 0 {
		state.blit.row = make([]uint32, w)
	}
	return i + BinarySyncHeaderSize, false
}

// continueBlit decodes as many complete pixel words of a pending
// binary-sync-pixels rectangle as are available starting at buf[i:length]
// into the pending blit's reusable row buffer, handing each full (or
// final, partial) row off to Framebuffer.BlitRect as soon as it is ready.
// It never requires the whole payload to be buffered at once: a rectangle
// larger than the connection's receive buffer is filled a read at a time
// across repeated Parse calls. The command itself is counted once, when
// the rectangle completes, not once per row or pixel.
func continueBlit(state *State, fb *framebuffer.Framebuffer, buf []byte, length, i int) int {
	b := state.blit
	total := int(b.w) * int(b.h)
	for b.idx < total && length-i >= 4 {
		row := b.idx / int(b.w)
		col := b.idx % int(b.w)

		avail := (length - i) / 4
		n := int(b.w) - col
		if avail < n {
			n = avail
		}
		if remaining := total - b.idx; n > remaining {
			n = remaining
		}

		for k := 0; k < n; k++ {
			b.row[col+k] = binary.LittleEndian.Uint32(buf[i+k*4 : i+k*4+4])
		}
		written := fb.BlitRect(b.x+int32(col), b.y+int32(row), uint16(n), 1, b.row[col:col+n])
		state.PixelsSet += int64(written)

		i += n * 4
		b.idx += n
	}
	if b.idx >= total {
		state.CommandsParsed++
		state.blit = nil
	}
	return i
}

func parseUnsignedInt(line []byte, pos, maxDigits int) (uint32, int, bool) {
	start := pos
	var v uint32
	for pos < len(line) && pos-start < maxDigits && isDigit(line[pos]) {
		v = v*10 + uint32(line[pos]-'0')
		pos++
	}
	if pos == start {
		return 0, pos, false
	}
	if pos-start == maxDigits && pos < len(line) && isDigit(line[pos]) {
		return 0, pos, false
	}
	return v, pos, true
}

func parseSignedInt(line []byte, pos int) (int32, int, bool) {
	neg := false
	if pos < len(line) && line[pos] == '-' {
		neg = true
		pos++
	}
	start := pos
	var v int64
	for pos < len(line) && pos-start < 10 && isDigit(line[pos]) {
		v = v*10 + int64(line[pos]-'0')
		pos++
	}
	if pos == start {
		return 0, pos, false
	}
	if neg {
		v = -v
	}
	if v > math.MaxInt32 {
		v = math.MaxInt32
	} else if v < math.MinInt32 {
		v = math.MinInt32
	}
	return int32(v), pos, true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func parseHexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

func parseHexByte(hi, lo byte) (byte, bool) {
	h, ok1 := parseHexNibble(hi)
	l, ok2 := parseHexNibble(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

// parseColor parses a grayscale (2 hex chars), rrggbb (6), or rrggbbaa (8)
// color, returning a 0xAARRGGBB-packed word (alpha 0 if not provided).
func parseColor(hex []byte) (uint32, bool) {
	switch len(hex) {
	case 2:
		g, ok := parseHexByte(hex[0], hex[1])
		if !ok {
			return 0, false
		}
		v := uint32(g)
		return v<<16 | v<<8 | v, true
	case 6:
		r, ok1 := parseHexByte(hex[0], hex[1])
		g, ok2 := parseHexByte(hex[2], hex[3])
		b, ok3 := parseHexByte(hex[4], hex[5])
		if !ok1 || !ok2 || !ok3 {
			return 0, false
		}
		return uint32(r)<<16 | uint32(g)<<8 | uint32(b), true
	case 8:
		r, ok1 := parseHexByte(hex[0], hex[1])
		g, ok2 := parseHexByte(hex[2], hex[3])
		b, ok3 := parseHexByte(hex[4], hex[5])
		a, ok4 := parseHexByte(hex[6], hex[7])
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return 0, false
		}
		return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b), true
	default:
		return 0, false
	}
}

func appendUint(buf *bytes.Buffer, v uint32) {
	if v == 0 {
		buf.WriteByte('0')
		return
	}
	var tmp [10]byte
	n := len(tmp)
	for v > 0 {
		n--
		tmp[n] = byte('0' + v%10)
		v /= 10
	}
	buf.Write(tmp[n:])
}

const hexDigits = "0123456789abcdef"

func appendHexRGB(buf *bytes.Buffer, rgb uint32) {
	r := byte(rgb >> 16)
	g := byte(rgb >> 8)
	b := byte(rgb)
	var tmp [6]byte
	tmp[0] = hexDigits[r>>4]
	tmp[1] = hexDigits[r&0xf]
	tmp[2] = hexDigits[g>>4]
	tmp[3] = hexDigits[g&0xf]
	tmp[4] = hexDigits[b>>4]
	tmp[5] = hexDigits[b&0xf]
	buf.Write(tmp[:])
}
