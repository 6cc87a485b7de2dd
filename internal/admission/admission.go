// Package admission implements the listener/admission component: one TCP
// listener per configured address, a per-source-IP connection cap, and a
// denied-connection counter, grounded on the teacher's pattern of wrapping
// every accepted net.Conn before handing it off to a worker.
package admission

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Limiter enforces a per-IP connection cap across however many listeners
// are bound. A Limiter with Limit == 0 admits unlimited connections per
// IP, matching the spec's default.
type Limiter struct {
	Limit int64

	mu      sync.Mutex
	active  map[string]int64
	denied  int64
	admitT  int64
	current int64
}

// NewLimiter returns a Limiter with the given per-IP cap. limit <= 0
// means unlimited.
func NewLimiter(limit int64) *Limiter {
	return &Limiter{
		Limit:  limit,
		active: make(map[string]int64),
	}
}

// normalize maps an IPv4-mapped IPv6 address to its IPv4 form, so
// "::ffff:203.0.113.5" and "203.0.113.5" share one counter, per §4.D.
func normalize(addr net.Addr) string {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	if v4 := tcpAddr.IP.To4(); v4 != nil {
		return v4.String()
	}
	return tcpAddr.IP.String()
}

// Admit attempts to admit a connection from addr. On success it returns a
// release function the caller must call exactly once, on task exit, to
// decrement the count (the "guaranteed by scoped teardown" contract in
// §4.D). On rejection it returns ok == false; the caller must close the
// socket immediately without spawning a task.
func (l *Limiter) Admit(addr net.Addr) (release func(), ok bool) {
	key := normalize(addr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.Limit > 0 && l.active[key] >= l.Limit {
		l.denied++
		return nil, false
	}

	l.active[key]++
	l.admitT++
	l.current++

	var once sync.Once
	release = func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.active[key]--
			if l.active[key] <= 0 {
				delete(l.active, key)
			}
			l.current--
		})
	}
	return release, true
}

// Denied returns the running count of rejected admission attempts.
func (l *Limiter) Denied() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.denied
}

// Total returns the lifetime count of admitted connections.
func (l *Limiter) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admitT
}

// Active returns the current number of admitted, not-yet-released
// connections across all source IPs.
func (l *Limiter) Active() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Handler is invoked once per admitted connection, on its own goroutine.
// release has already been deferred by Serve; handlers do not call it.
type Handler func(conn net.Conn)

// Reporter receives admission events for the statistics aggregator.
// stats.Aggregator satisfies this directly. A nil Reporter is valid and
// simply means nothing is reported (used by tests that only care about
// the Limiter's own bookkeeping).
type Reporter interface {
	Connected(peer net.Addr)
	Disconnected()
	Denied()
}

// Serve accepts connections on ln until it is closed (typically by a
// shutdown signal closing every bound listener), admitting each through
// limiter and spawning handle on its own goroutine. Rejected connections
// are closed immediately without spawning a task, and logged at info per
// §7. reporter, if non-nil, is told about every admit/release/denial.
func Serve(ln net.Listener, limiter *Limiter, reporter Reporter, handle Handler) {
	log := logrus.WithField("listen_addr", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Debug("listener stopped accepting")
			return
		}

		release, ok := limiter.Admit(conn.RemoteAddr())
		if !ok {
			log.WithField("peer", conn.RemoteAddr()).Info("admission denied: per-IP connection cap reached")
			if reporter != nil {
				reporter.Denied()
			}
			conn.Close()
			continue
		}

		if reporter != nil {
			reporter.Connected(conn.RemoteAddr())
		}

		go func() {
			defer release()
			defer func() {
				if reporter != nil {
					reporter.Disconnected()
				}
			}()
			handle(conn)
		}()
	}
}
