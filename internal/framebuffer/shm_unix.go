//go:build linux || darwin

package framebuffer

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// shmHeaderSize is the two little-endian u16 dimension words that precede
// the pixel array in the shared-memory layout (§6: "[u16 width][u16
// height][pixels...]").
const shmHeaderSize = 4

type sharedRegion struct {
	file *os.File
	data []byte
}

// NewShared creates (or attaches to) a POSIX shared-memory object named
// name, sized to hold the two-word dimension header plus width*height pixel
// words, and returns a Framebuffer whose pixel storage is that mapping.
//
// If the region already exists, its header is checked against the
// requested dimensions and attachment is refused on mismatch — a fresh
// region is never silently resized out from under another process that has
// it mapped.
func NewShared(name string, width, height uint16) (*Framebuffer, error) {
	size := shmHeaderSize + int(width)*int(height)*4

	path := shmPath(name)
	fresh := true
	if _, err := os.Stat(path); err == nil {
		fresh = false
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open shared memory %q: %w", name, err)
	}

	if fresh {
		if err := file.Truncate(int64(size)); err != nil {
			file.Close()
			os.Remove(path)
			return nil, fmt.Errorf("size shared memory %q: %w", name, err)
		}
	}

	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap shared memory %q: %w", name, err)
	}

	if fresh {
		binary.LittleEndian.PutUint16(data[0:2], width)
		binary.LittleEndian.PutUint16(data[2:4], height)
	} else {
		gotWidth := binary.LittleEndian.Uint16(data[0:2])
		gotHeight := binary.LittleEndian.Uint16(data[2:4])
		if gotWidth != width || gotHeight != height {
			unix.Munmap(data)
			file.Close()
			return nil, fmt.Errorf("shared memory %q header is %dx%d, configured for %dx%d", name, gotWidth, gotHeight, width, height)
		}
	}

	pixels := unsafeUint32Slice(data[shmHeaderSize:])

	return &Framebuffer{
		width:  width,
		height: height,
		pixels: pixels,
		shm: &sharedRegion{
			file: file,
			data: data,
		},
	}, nil
}

func (s *sharedRegion) close() error {
	if err := unix.Munmap(s.data); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func shmPath(name string) string {
	return "/dev/shm/" + name
}

// unsafeUint32Slice reinterprets a byte slice backed by a shared mapping as
// a []uint32 of the same length in words, without copying. The mapping
// outlives the Framebuffer (it is unmapped explicitly in Close), so the
// resulting slice's backing memory is valid for as long as it is reachable.
func unsafeUint32Slice(b []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}
