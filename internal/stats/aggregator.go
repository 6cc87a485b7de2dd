// Package stats implements the statistics aggregator (component E):
// atomic global counters fed by every connection loop, a per-IP byte
// breakdown behind a single lock taken on connect and on every periodic
// report (never per packet), and
// periodic JSON snapshotting so restarts do not zero out leaderboards.
package stats

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pixelflut/goflut/internal/connloop"
)

// Aggregator is the single coordinator every connection loop reports to.
// All counters it exposes are either plain atomics or guarded by one
// mutex. The mutex is taken by Connected and by every Report call (once
// per periodic flush from a connection loop, never per packet); it is not
// limited to connect/disconnect, and Disconnected does not take it.
type Aggregator struct {
	bytesInTotal int64
	bytesInV4    int64
	bytesInV6    int64

	connectionsTotal  int64
	activeConnections int64
	deniedConnections int64
	framesRendered    int64
	commandsParsed    int64
	pixelsSet         int64

	mu    sync.Mutex
	perIP map[string]*perIPCounters
}

type perIPCounters struct {
	bytesIn        int64
	connections    int64
	commandsParsed int64
	pixelsSet      int64
}

// New returns an empty Aggregator. Callers that want to restore counters
// from a prior run should call Load immediately after.
func New() *Aggregator {
	return &Aggregator{perIP: make(map[string]*perIPCounters)}
}

// Report implements connloop.Reporter: it folds one connection's periodic
// delta into the global and per-IP counters.
func (a *Aggregator) Report(peer net.Addr, delta connloop.Counters) {
	atomic.AddInt64(&a.bytesInTotal, delta.BytesIn)
	atomic.AddInt64(&a.commandsParsed, delta.Commands)
	atomic.AddInt64(&a.pixelsSet, delta.PixelsSet)

	host := hostOf(peer)
	if strings.Contains(host, ":") {
		atomic.AddInt64(&a.bytesInV6, delta.BytesIn)
	} else {
		atomic.AddInt64(&a.bytesInV4, delta.BytesIn)
	}

	a.mu.Lock()
	c, ok := a.perIP[host]
	if !ok {
		c = &perIPCounters{}
		a.perIP[host] = c
	}
	c.bytesIn += delta.BytesIn
	c.commandsParsed += delta.Commands
	c.pixelsSet += delta.PixelsSet
	a.mu.Unlock()
}

// Connected records one newly admitted connection from peer.
func (a *Aggregator) Connected(peer net.Addr) {
	atomic.AddInt64(&a.connectionsTotal, 1)
	atomic.AddInt64(&a.activeConnections, 1)

	host := hostOf(peer)
	a.mu.Lock()
	c, ok := a.perIP[host]
	if !ok {
		c = &perIPCounters{}
		a.perIP[host] = c
	}
	c.connections++
	a.mu.Unlock()
}

// Disconnected records one connection's teardown.
func (a *Aggregator) Disconnected() {
	atomic.AddInt64(&a.activeConnections, -1)
}

// Denied records one admission rejection.
func (a *Aggregator) Denied() {
	atomic.AddInt64(&a.deniedConnections, 1)
}

// FrameRendered records one display-sink frame push (Component F reports
// this; the parser path never does).
func (a *Aggregator) FrameRendered() {
	atomic.AddInt64(&a.framesRendered, 1)
}

// Snapshot is the current counter state, suitable for JSON
// serialization and for exporting as Prometheus metrics.
type Snapshot struct {
	BytesInTotal      int64
	BytesInV4         int64
	BytesInV6         int64
	ConnectionsTotal  int64
	ActiveConnections int64
	DeniedConnections int64
	FramesRendered    int64
	CommandsParsed    int64
	PixelsSet         int64
	PerIP             map[string]PerIPSnapshot
}

// PerIPSnapshot is one source address's counters.
type PerIPSnapshot struct {
	BytesIn        int64
	Connections    int64
	CommandsParsed int64
	PixelsSet      int64
}

// Snapshot returns a point-in-time copy of every counter.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		BytesInTotal:      atomic.LoadInt64(&a.bytesInTotal),
		BytesInV4:         atomic.LoadInt64(&a.bytesInV4),
		BytesInV6:         atomic.LoadInt64(&a.bytesInV6),
		ConnectionsTotal:  atomic.LoadInt64(&a.connectionsTotal),
		ActiveConnections: atomic.LoadInt64(&a.activeConnections),
		DeniedConnections: atomic.LoadInt64(&a.deniedConnections),
		FramesRendered:    atomic.LoadInt64(&a.framesRendered),
		CommandsParsed:    atomic.LoadInt64(&a.commandsParsed),
		PixelsSet:         atomic.LoadInt64(&a.pixelsSet),
		PerIP:             make(map[string]PerIPSnapshot),
	}

	a.mu.Lock()
	for ip, c := range a.perIP {
		s.PerIP[ip] = PerIPSnapshot{
			BytesIn:        c.bytesIn,
			Connections:    c.connections,
			CommandsParsed: c.commandsParsed,
			PixelsSet:      c.pixelsSet,
		}
	}
	a.mu.Unlock()

	return s
}

// restore sets every counter from a loaded snapshot, used once at
// startup before any connection has reported in.
func (a *Aggregator) restore(s Snapshot) {
	atomic.StoreInt64(&a.bytesInTotal, s.BytesInTotal)
	atomic.StoreInt64(&a.bytesInV4, s.BytesInV4)
	atomic.StoreInt64(&a.bytesInV6, s.BytesInV6)
	atomic.StoreInt64(&a.connectionsTotal, s.ConnectionsTotal)
	atomic.StoreInt64(&a.deniedConnections, s.DeniedConnections)
	atomic.StoreInt64(&a.framesRendered, s.FramesRendered)
	atomic.StoreInt64(&a.commandsParsed, s.CommandsParsed)
	atomic.StoreInt64(&a.pixelsSet, s.PixelsSet)
	// ActiveConnections is not restored: a fresh process has none yet.

	a.mu.Lock()
	for ip, c := range s.PerIP {
		a.perIP[ip] = &perIPCounters{
			bytesIn:        c.BytesIn,
			connections:    c.Connections,
			commandsParsed: c.CommandsParsed,
			pixelsSet:      c.PixelsSet,
		}
	}
	a.mu.Unlock()
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
