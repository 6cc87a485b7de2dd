//go:build !linux && !darwin

package connloop

// adviseSequential is a no-op on platforms without POSIX madvise(2).
func adviseSequential(buf []byte) {}
