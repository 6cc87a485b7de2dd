// Package connloop drives a single accepted connection through its
// read → parse → write lifecycle: Accepted → Serving → Closing.
package connloop

import (
	"bytes"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pixelflut/goflut/internal/framebuffer"
	"github.com/pixelflut/goflut/internal/parser"
)

// MinBufferSize is the smallest receive buffer the connection loop will
// allocate: 2*L, per the lookahead-padded-buffer contract.
const MinBufferSize = 2 * parser.Lookahead

// DefaultBufferSize is the receive buffer size used unless configured
// otherwise: large enough to amortize syscalls at sustained high pixel
// rates.
const DefaultBufferSize = 1 << 20 // 1 MiB

// ReportEveryCommands and ReportEveryDuration set how often accumulated local counters are flushed to
// the aggregator, by command count or wall-clock tick, whichever comes
// first.
const (
	ReportEveryCommands = 4096
	ReportEveryDuration = 250 * time.Millisecond
)

// Counters is what a connection loop reports to its aggregator
// periodically and once more on close.
type Counters struct {
	BytesIn   int64
	Commands  int64
	PixelsSet int64
}

// Reporter receives periodic counter snapshots from a running connection.
// Implementations must not block meaningfully — the aggregator is just
// atomics and a map lookup.
type Reporter interface {
	Report(peer net.Addr, delta Counters)
}

// Options configures a single connection's loop.
type Options struct {
	BufferSize int
	Flags      parser.Flags
	Reporter   Reporter
	// Done is closed when the server is shutting down; the loop exits
	// promptly on its next I/O boundary once this fires, per §5's
	// cooperative-cancellation contract.
	Done <-chan struct{}
}

// Run drives conn's lifecycle to completion, returning only once the
// connection has been closed (by either side, or by an I/O error). It
// never returns an error: per §4.C/§7, socket errors simply end the
// connection and are logged at debug.
func Run(conn net.Conn, fb *framebuffer.Framebuffer, opts Options) {
	defer conn.Close()

	bufSize := opts.BufferSize
	if bufSize < MinBufferSize {
		bufSize = DefaultBufferSize
	}
	buf := make([]byte, bufSize+parser.Lookahead)
	adviseSequential(buf)

	st := parser.NewState(opts.Flags)
	var reply bytes.Buffer

	var pending Counters
	lastReport := time.Now()
	residue := 0

	log := logrus.WithField("peer", conn.RemoteAddr())
	log.Debug("connection serving")

	// Reads block indefinitely (no per-connection deadline, per §5); the
	// only way to make a shutdown signal land promptly is to close the
	// connection out from under a pending Read from another goroutine,
	// which turns it into an ordinary read error on the next line below.
	if opts.Done != nil {
		stopWatch := make(chan struct{})
		defer close(stopWatch)
		go func() {
			select {
			case <-opts.Done:
				conn.Close()
			case <-stopWatch:
			}
		}()
	}

	for {
		n, err := conn.Read(buf[residue:bufSize])
		if n == 0 && err != nil {
			log.WithError(err).Debug("connection closing on read error")
			flushReport(opts.Reporter, conn, &pending)
			return
		}
		if n == 0 {
			// Zero bytes with no error: treat as EOF/closing per §4.C step 2.
			flushReport(opts.Reporter, conn, &pending)
			return
		}

		available := residue + n
		// The lookahead padding past `available` must be zero on every
		// call — it may hold stale command bytes from an earlier, longer
		// read at this same buffer position.
		clear(buf[available : available+parser.Lookahead])
		reply.Reset()
		consumed := parser.Parse(st, fb, buf, available, &reply)
		pending.BytesIn += int64(n)
		pending.Commands += st.CommandsParsed
		pending.PixelsSet += st.PixelsSet

		if reply.Len() > 0 {
			if _, werr := conn.Write(reply.Bytes()); werr != nil {
				log.WithError(werr).Debug("connection closing on write error")
				flushReport(opts.Reporter, conn, &pending)
				return
			}
		}

		leftover := available - consumed
		if leftover > 0 {
			copy(buf[:leftover], buf[consumed:available])
		}
		residue = leftover

		if pending.Commands >= ReportEveryCommands || time.Since(lastReport) >= ReportEveryDuration {
			flushReport(opts.Reporter, conn, &pending)
			lastReport = time.Now()
		}

		if err != nil {
			log.WithError(err).Debug("connection closing on read error after final batch")
			flushReport(opts.Reporter, conn, &pending)
			return
		}
	}
}

func flushReport(r Reporter, conn net.Conn, pending *Counters) {
	if r == nil || (pending.BytesIn == 0 && pending.Commands == 0) {
		*pending = Counters{}
		return
	}
	r.Report(conn.RemoteAddr(), *pending)
	*pending = Counters{}
}
