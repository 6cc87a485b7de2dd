//go:build !(linux || darwin)

package framebuffer

import (
	"fmt"
	"runtime"
)

type sharedRegion struct{}

// NewShared is unsupported outside Linux and Darwin, matching §7's "shared
// memory size mismatch" fatal-at-startup class of error.
func NewShared(name string, width, height uint16) (*Framebuffer, error) {
	return nil, fmt.Errorf("shared-memory framebuffer is unsupported on %s", runtime.GOOS)
}

func (s *sharedRegion) close() error {
	return nil
}
