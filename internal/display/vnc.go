// Package display's VNC sink is a direct descendant of bradfitz-rfbgo's
// rfb.go: the same RFB 3.3 handshake (no security negotiation byte dance,
// no auth), the same read-command/write-response shape via bufio plus
// encoding/binary, and the same one-rectangle, raw-encoding-only
// FramebufferUpdate. Where the toy server draws into an image.RGBA and
// re-encodes it per client, this one writes straight from the
// framebuffer's []uint32 words, because they are already laid out in the
// 0x00RRGGBB shape a TrueColour PixelFormat with BigEndian=0,
// RedShift=16, GreenShift=8, BlueShift=0 decodes without any per-pixel
// reshuffling.
package display

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	rfbVersion3 = "RFB 003.003\n"

	cmdSetPixelFormat           = 0
	cmdSetEncodings             = 2
	cmdFramebufferUpdateRequest = 3
	cmdKeyEvent                 = 4
	cmdPointerEvent             = 5
	cmdClientCutText            = 6

	cmdFramebufferUpdate = 0
	encodingRaw          = 0
)

// VNCServer accepts RFB clients and streams sink's pixels to each at fps,
// or immediately on a client's FramebufferUpdateRequest.
type VNCServer struct {
	sink     Sink
	fps      int
	reporter FrameReporter
}

// NewVNCServer returns a server that reads pixels from sink and pushes
// frames at fps frames per second to every connected client.
func NewVNCServer(sink Sink, fps int, reporter FrameReporter) *VNCServer {
	if fps <= 0 {
		fps = 30
	}
	return &VNCServer{sink: sink, fps: fps, reporter: reporter}
}

// ListenAndServe binds addr and serves RFB clients until the listener is
// closed or an unrecoverable accept error occurs.
func (s *VNCServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("vnc listen on %s: %w", addr, err)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("vnc accept: %w", err)
		}
		go s.serve(conn)
	}
}

type vncConn struct {
	c    net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	sink Sink
}

func (s *VNCServer) serve(c net.Conn) {
	defer c.Close()

	v := &vncConn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c), sink: s.sink}
	if err := v.handshake(); err != nil {
		logrus.WithField("peer", c.RemoteAddr()).WithField("error", err).Info("vnc client disconnected during handshake")
		return
	}

	requests := make(chan struct{}, 8)
	// done is owned and closed exactly once by readLoop, the only
	// goroutine that knows when the client connection has gone away.
	done := make(chan struct{})

	go v.readLoop(requests, done)

	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := v.pushFrame(); err != nil {
				logrus.WithField("peer", c.RemoteAddr()).WithField("error", err).Info("vnc client disconnected")
				return
			}
			if s.reporter != nil {
				s.reporter.FrameRendered()
			}
		case <-requests:
			if err := v.pushFrame(); err != nil {
				logrus.WithField("peer", c.RemoteAddr()).WithField("error", err).Info("vnc client disconnected")
				return
			}
			if s.reporter != nil {
				s.reporter.FrameRendered()
			}
		}
	}
}

func (v *vncConn) readByte() (byte, error) {
	b, err := v.br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read byte: %w", err)
	}
	return b, nil
}

func (v *vncConn) read(dst interface{}) error {
	if err := binary.Read(v.br, binary.BigEndian, dst); err != nil {
		return fmt.Errorf("read %T: %w", dst, err)
	}
	return nil
}

func (v *vncConn) write(src interface{}) error {
	return binary.Write(v.bw, binary.BigEndian, src)
}

func (v *vncConn) flush() error {
	return v.bw.Flush()
}

// handshake implements the RFB 3.3 ProtocolVersion/Authentication/
// ClientInit/ServerInit exchange: this server always picks version 3.3
// and no-auth, as bradfitz-rfbgo does for its toy clients.
func (v *vncConn) handshake() error {
	v.bw.WriteString(rfbVersion3)
	if err := v.flush(); err != nil {
		return fmt.Errorf("write server protocol version: %w", err)
	}

	if _, err := v.br.ReadSlice('\n'); err != nil {
		return fmt.Errorf("read client protocol version: %w", err)
	}

	// RFB 3.3 Authentication: server unilaterally picks a scheme.
	// 1 = None.
	v.write(uint32(1))
	if err := v.flush(); err != nil {
		return fmt.Errorf("write auth scheme: %w", err)
	}

	// ClientInit: one byte, shared-flag. We ignore it — every viewer
	// gets the same framebuffer.
	if _, err := v.readByte(); err != nil {
		return fmt.Errorf("read ClientInit: %w", err)
	}

	width, height := v.sink.Dimensions()

	// ServerInit: framebuffer dimensions, PixelFormat, then name.
	v.write(width)
	v.write(height)
	v.write(uint8(32)) // bits-per-pixel
	v.write(uint8(24)) // depth
	v.write(uint8(0))  // big-endian-flag: wire bytes are little-endian
	v.write(uint8(1))  // true-colour-flag
	v.write(uint16(255))
	v.write(uint16(255))
	v.write(uint16(255))
	v.write(uint8(16)) // red-shift
	v.write(uint8(8))  // green-shift
	v.write(uint8(0))  // blue-shift
	v.write(uint8(0))  // padding
	v.write(uint8(0))
	v.write(uint8(0))
	name := "pixelflut"
	v.write(int32(len(name)))
	v.bw.WriteString(name)
	if err := v.flush(); err != nil {
		return fmt.Errorf("write ServerInit: %w", err)
	}
	return nil
}

// readLoop consumes every client-to-server message. SetPixelFormat and
// SetEncodings are read and discarded (this server always serves raw,
// 32bpp true-colour regardless of what the client asks for, matching
// spec.md's description of the sink as read-only). KeyEvent and
// PointerEvent are read and discarded too: pixelflut's framebuffer is
// written over the pixel protocol, never over VNC input.
func (v *vncConn) readLoop(requests chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		if err := v.readOneCommand(requests); err != nil {
			logrus.WithField("peer", v.c.RemoteAddr()).WithField("error", err).Debug("vnc read loop stopping")
			return
		}
	}
}

func (v *vncConn) readOneCommand(requests chan<- struct{}) error {
	cmd, err := v.readByte()
	if err != nil {
		return err
	}
	switch cmd {
	case cmdSetPixelFormat:
		if _, err := v.readByte(); err != nil {
			return err
		}
		if _, err := v.readByte(); err != nil {
			return err
		}
		if _, err := v.readByte(); err != nil {
			return err
		}
		var discard [16]byte
		return v.read(&discard)
	case cmdSetEncodings:
		if _, err := v.readByte(); err != nil {
			return err
		}
		var count uint16
		if err := v.read(&count); err != nil {
			return err
		}
		for i := uint16(0); i < count; i++ {
			var enc int32
			if err := v.read(&enc); err != nil {
				return err
			}
		}
		return nil
	case cmdFramebufferUpdateRequest:
		var discard [9]byte
		if err := v.read(&discard); err != nil {
			return err
		}
		select {
		case requests <- struct{}{}:
		default:
		}
		return nil
	case cmdPointerEvent:
		var discard [5]byte
		return v.read(&discard)
	case cmdKeyEvent:
		var discard [7]byte
		return v.read(&discard)
	case cmdClientCutText:
		var discard [3]byte
		if err := v.read(&discard); err != nil {
			return err
		}
		var length uint32
		if err := v.read(&length); err != nil {
			return err
		}
		for i := uint32(0); i < length; i++ {
			if _, err := v.readByte(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported client command %d", int(cmd))
	}
}

// pushFrame writes one full-framebuffer FramebufferUpdate in raw
// encoding. Pixel words are written as-is in little-endian order: the
// framebuffer's 0x00RRGGBB value, written little-endian, lands on the
// wire exactly as ServerInit's RedShift=16/GreenShift=8/BlueShift=0,
// BigEndian=0 PixelFormat describes it, so no per-pixel repacking is
// needed the way bradfitz-rfbgo's image.RGBA path requires.
func (v *vncConn) pushFrame() error {
	width, height := v.sink.Dimensions()
	pixels := v.sink.AsPixels()

	v.write(uint8(cmdFramebufferUpdate))
	v.write(uint8(0))  // padding
	v.write(uint16(1)) // one rectangle
	v.write(uint16(0)) // x
	v.write(uint16(0)) // y
	v.write(width)
	v.write(height)
	v.write(int32(encodingRaw))

	for _, px := range pixels {
		if err := binary.Write(v.bw, binary.LittleEndian, px); err != nil {
			return fmt.Errorf("write pixel: %w", err)
		}
	}
	if err := v.flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}
