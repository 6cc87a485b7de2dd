// Package framebuffer implements the lock-free pixel grid that every parser
// goroutine mutates and every display sink reads.
//
// Pixels are stored as plain uint32 words and touched only through
// sync/atomic's word-level Load/Store. There is deliberately no mutex: the
// whole point of Pixelflut is many writers racing for the same pixel, and
// last-writer-wins is an accepted outcome, not a bug. What must never happen
// is a torn read — a reader observing half of one writer's word and half of
// another's — which atomic word access rules out on every platform Go
// supports.
package framebuffer

import "sync/atomic"

// Framebuffer is a fixed-size W×H grid of 0x00RRGGBB pixel words. On a
// little-endian host each word's bytes lie in memory as blue, green, red,
// alpha (blue first), matching the layout VNC and Wayland sinks expect.
type Framebuffer struct {
	width, height uint16
	pixels        []uint32

	// shm is non-nil when the pixel storage is backed by a shared-memory
	// mapping instead of a plain heap allocation; it keeps the mapping and
	// its backing file descriptor alive for the Framebuffer's lifetime.
	shm *sharedRegion
}

// New allocates a private (non-shared-memory) framebuffer of the given
// dimensions. Every pixel starts at 0.
func New(width, height uint16) *Framebuffer {
	return &Framebuffer{
		width:  width,
		height: height,
		pixels: make([]uint32, int(width)*int(height)),
	}
}

// Dimensions returns the immutable width and height of the framebuffer.
func (f *Framebuffer) Dimensions() (width, height uint16) {
	return f.width, f.height
}

// InBounds reports whether (x, y) addresses a real pixel.
func (f *Framebuffer) InBounds(x, y int32) bool {
	return x >= 0 && y >= 0 && uint32(x) < uint32(f.width) && uint32(y) < uint32(f.height)
}

func (f *Framebuffer) index(x, y int32) int {
	return int(uint32(y))*int(f.width) + int(uint32(x))
}

// Get returns the last value written to (x, y). Callers must ensure the
// coordinates are in bounds; Get does not bounds-check, matching the
// contract used by the parser's fast path once it has already validated the
// coordinates itself.
func (f *Framebuffer) Get(x, y int32) uint32 {
	return atomic.LoadUint32(&f.pixels[f.index(x, y)])
}

// Set writes rgb to (x, y) if the coordinates are in bounds; out-of-range
// writes are silently dropped, per the wire protocol's tolerant-client
// design.
func (f *Framebuffer) Set(x, y int32, rgb uint32) {
	if !f.InBounds(x, y) {
		return
	}
	f.SetUnchecked(x, y, rgb)
}

// SetUnchecked writes rgb to (x, y) without a bounds check, for callers
// (the parser's hot path, text stamping) that have already validated the
// coordinates.
func (f *Framebuffer) SetUnchecked(x, y int32, rgb uint32) {
	atomic.StoreUint32(&f.pixels[f.index(x, y)], rgb)
}

// AsPixels returns the read-only snapshot handle display sinks consume: a
// slice that is stable in address and length for the framebuffer's
// lifetime. Individual word reads through it are tear-free; there is no
// ordering guarantee between it and concurrent writers.
func (f *Framebuffer) AsPixels() []uint32 {
	return f.pixels
}

// BlitRect copies a row-major rectangle of pixels into the framebuffer at
// (x, y), clipping row-by-row and silently dropping any pixel that falls
// outside the framebuffer, matching the binary-sync-pixels wire command. It
// returns the number of pixels actually written, for callers that report a
// pixels-set counter.
func (f *Framebuffer) BlitRect(x, y int32, w, h uint16, pixels []uint32) int {
	written := 0
	for row := 0; row < int(h); row++ {
		py := y + int32(row)
		if py < 0 || uint32(py) >= uint32(f.height) {
			continue
		}
		rowPixels := pixels[row*int(w) : row*int(w)+int(w)]
		for col := 0; col < int(w); col++ {
			px := x + int32(col)
			if px < 0 || uint32(px) >= uint32(f.width) {
				continue
			}
			atomic.StoreUint32(&f.pixels[f.index(px, py)], rowPixels[col])
			written++
		}
	}
	return written
}

// Close releases any shared-memory mapping backing the framebuffer. It is a
// no-op for a privately allocated framebuffer.
func (f *Framebuffer) Close() error {
	if f.shm == nil {
		return nil
	}
	return f.shm.close()
}
