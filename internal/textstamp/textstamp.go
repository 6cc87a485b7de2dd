// Package textstamp renders one line of status text into the
// framebuffer once at startup. There is no closer analog for TTF
// rasterization anywhere in the example pack (see DESIGN.md), so this
// is the one ambient concern in this repository built on the plain
// golang.org/x/image/font stack rather than a pack-grounded library —
// still the idiomatic Go ecosystem choice, not a hand-rolled rasterizer.
package textstamp

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Sink is the subset of framebuffer.Framebuffer that stamping needs.
type Sink interface {
	Dimensions() (width, height uint16)
	SetUnchecked(x, y int32, rgb uint32)
}

const pointSize = 24

// Stamp rasterizes text at (x, y) in fb using the TTF at fontPath,
// writing white glyph pixels directly with SetUnchecked. It is meant to
// run once at startup, not per frame: rasterization allocates a full
// coverage mask the size of the rendered string.
func Stamp(fb Sink, fontPath, text string, x, y int32) error {
	if text == "" {
		return nil
	}

	data, err := os.ReadFile(fontPath)
	if err != nil {
		return fmt.Errorf("read font %q: %w", fontPath, err)
	}

	parsed, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %q: %w", fontPath, err)
	}

	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    pointSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("build font face: %w", err)
	}
	defer face.Close()

	width, height := measure(face, text)
	if width <= 0 || height <= 0 {
		return nil
	}

	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	draw.Draw(mask, mask.Bounds(), image.Transparent, image.Point{}, draw.Src)

	drawer := font.Drawer{
		Dst:  mask,
		Src:  image.White,
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(height - height/4)},
	}
	drawer.DrawString(text)

	fbWidth, fbHeight := fb.Dimensions()
	bounds := mask.Bounds()
	for row := bounds.Min.Y; row < bounds.Max.Y; row++ {
		py := y + int32(row)
		if py < 0 || uint32(py) >= uint32(fbHeight) {
			continue
		}
		for col := bounds.Min.X; col < bounds.Max.X; col++ {
			if mask.AlphaAt(col, row).A == 0 {
				continue
			}
			px := x + int32(col)
			if px < 0 || uint32(px) >= uint32(fbWidth) {
				continue
			}
			fb.SetUnchecked(px, py, 0xffffff)
		}
	}

	return nil
}

func measure(face font.Face, text string) (width, height int) {
	d := font.Drawer{Face: face}
	adv := d.MeasureString(text)
	metrics := face.Metrics()
	return adv.Ceil(), (metrics.Ascent + metrics.Descent).Ceil()
}
