//go:build linux || darwin

package connloop

import "golang.org/x/sys/unix"

// adviseSequential hints the kernel that buf will be accessed sequentially
// (read, mutate, discard, repeat), per §4.C's "advise the kernel that
// access is sequential where the platform supports it." A failure here is
// advisory only and never affects correctness, so it is silently ignored.
func adviseSequential(buf []byte) {
	if len(buf) == 0 {
		return
	}
	_ = unix.Madvise(buf, unix.MADV_SEQUENTIAL)
}
