package framebuffer

import (
	"sync"
	"testing"
)

func TestGetSetRoundTrip(t *testing.T) {
	fb := New(1280, 720)
	fb.Set(10, 10, 0xff0000)
	if got := fb.Get(10, 10); got != 0xff0000 {
		t.Fatalf("Get(10,10) = %#x, want %#x", got, 0xff0000)
	}
}

func TestSetOutOfBoundsIsNoop(t *testing.T) {
	fb := New(1280, 720)
	fb.Set(99999, 99999, 0xffffff)
	fb.Set(-1, 0, 0xffffff)
	fb.Set(0, -1, 0xffffff)
	for y := int32(0); y < 720; y++ {
		for x := int32(0); x < 1280; x++ {
			if fb.Get(x, y) != 0 {
				t.Fatalf("unexpected write at (%d,%d)", x, y)
			}
		}
	}
}

func TestInBounds(t *testing.T) {
	fb := New(100, 50)
	cases := []struct {
		x, y int32
		want bool
	}{
		{0, 0, true},
		{99, 49, true},
		{100, 0, false},
		{0, 50, false},
		{-1, 0, false},
		{0, -1, false},
	}
	for _, c := range cases {
		if got := fb.InBounds(c.x, c.y); got != c.want {
			t.Errorf("InBounds(%d,%d) = %v, want %v", c.x, c.y, got, c.want)
		}
	}
}

func TestDimensions(t *testing.T) {
	fb := New(1920, 1080)
	w, h := fb.Dimensions()
	if w != 1920 || h != 1080 {
		t.Fatalf("Dimensions() = (%d,%d), want (1920,1080)", w, h)
	}
}

// TestConcurrentWritersLeaveOneWinner exercises property 9: N concurrent
// writers to distinct pixels always leave every pixel with a value written
// by exactly one of them.
func TestConcurrentWritersLeaveOneWinner(t *testing.T) {
	const n = 64
	fb := New(n, 1)

	var wg sync.WaitGroup
	for i := int32(0); i < n; i++ {
		wg.Add(1)
		go func(x int32) {
			defer wg.Done()
			fb.Set(x, 0, uint32(x)+1)
		}(i)
	}
	wg.Wait()

	for i := int32(0); i < n; i++ {
		if got := fb.Get(i, 0); got != uint32(i)+1 {
			t.Fatalf("pixel %d = %d, want %d", i, got, i+1)
		}
	}
}

// TestConcurrentWritersSamePixelNeverTears writes two distinct full words to
// the same pixel from many goroutines; the final value must always be one
// of the two written words, never a mix of their bytes.
func TestConcurrentWritersSamePixelNeverTears(t *testing.T) {
	fb := New(1, 1)
	const a, b = 0xff0000, 0x00ff00

	var wg sync.WaitGroup
	for i := 0; i < 256; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				fb.Set(0, 0, a)
			} else {
				fb.Set(0, 0, b)
			}
		}(i)
	}
	wg.Wait()

	got := fb.Get(0, 0)
	if got != a && got != b {
		t.Fatalf("torn pixel value %#x, want %#x or %#x", got, a, b)
	}
}

func TestBlitRectClipsOutOfBounds(t *testing.T) {
	fb := New(4, 4)
	pixels := []uint32{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}
	// rectangle at (2,2) sized 6x2 runs off the right edge.
	written := fb.BlitRect(2, 2, 6, 2, pixels)
	if written != 4 {
		t.Fatalf("written = %d, want 4 in-bounds pixels", written)
	}

	if fb.Get(2, 2) != 1 || fb.Get(3, 2) != 2 {
		t.Fatalf("in-bounds row 0 not written correctly: %#x %#x", fb.Get(2, 2), fb.Get(3, 2))
	}
	if fb.Get(2, 3) != 7 || fb.Get(3, 3) != 8 {
		t.Fatalf("in-bounds row 1 not written correctly: %#x %#x", fb.Get(2, 3), fb.Get(3, 3))
	}
}

func TestAsPixelsStableAddress(t *testing.T) {
	fb := New(8, 8)
	p1 := fb.AsPixels()
	fb.Set(0, 0, 0x112233)
	p2 := fb.AsPixels()
	if &p1[0] != &p2[0] {
		t.Fatal("AsPixels address changed across calls")
	}
	if p2[0] != 0x112233 {
		t.Fatalf("AsPixels does not observe writes: got %#x", p2[0])
	}
}
