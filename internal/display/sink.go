// Package display implements output sinks that turn the framebuffer's
// live pixel grid into a feed a human can actually watch, grounded on
// bradfitz-rfbgo's toy RFB server.
package display

// Sink is whatever a display implementation reads pixels from. The
// framebuffer package's *Framebuffer satisfies this directly.
type Sink interface {
	Dimensions() (width, height uint16)
	AsPixels() []uint32
}

// FrameReporter receives one notification per full frame a sink pushes to
// a client, so the statistics aggregator's frames_rendered counter stays
// accurate without the sink importing the stats package directly.
type FrameReporter interface {
	FrameRendered()
}
