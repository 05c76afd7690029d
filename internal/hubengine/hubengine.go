// Package hubengine wires the hub-side pipeline: a Receiver that reads
// probes off the listening socket, a Handler that builds the pong reply and
// fans it out to the Responder and the Analyzer, a Responder that writes
// replies back, and an Analyzer that owns the per-session map and its
// periodic hole/session sweep.
package hubengine

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/varesa/metronome2/internal/clock"
	"github.com/varesa/metronome2/internal/clocktower"
	"github.com/varesa/metronome2/internal/session"
	"github.com/varesa/metronome2/internal/udpconn"
	"github.com/varesa/metronome2/internal/wire"
)

// holeTimeout and sessionTimeout are the hub's sweep constants (spec.md
// §6 "Constants").
const (
	holeTimeout    = 1 * time.Second
	sessionTimeout = 7 * 24 * time.Hour
)

// sendFailureLogInterval bounds how often a repeating responder failure is
// logged, per spec.md §4.5/§7.
const sendFailureLogInterval = 10 * time.Second

// Config holds everything an Engine needs that would otherwise come from
// CLI flags.
type Config struct {
	Key           string
	StatsInterval time.Duration
}

type acceptedMessage struct {
	addr      *net.UDPAddr
	timestamp float64
	msg       *wire.Message
	size      int
}

type replyJob struct {
	addr *net.UDPAddr
	buf  []byte
}

// Engine owns the hub's listening socket, its per-session map, and the
// clocktower publisher, and runs the four worker goroutines described in
// spec.md §4.2-§4.5.
type Engine struct {
	cfg Config
	log *slog.Logger

	conn      *net.UDPConn
	publisher *clocktower.Publisher

	sessionsMu sync.Mutex
	sessions   map[string]*session.HubContainer

	receiverCh chan acceptedMessage
	responderCh chan replyJob
	analyzerCh chan acceptedMessage
}

// New binds the hub's listening socket and builds the engine.
func New(cfg Config, log *slog.Logger, local *net.UDPAddr, publisher *clocktower.Publisher) (*Engine, error) {
	conn, err := udpconn.Listen(local)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:         cfg,
		log:         log,
		conn:        conn,
		publisher:   publisher,
		sessions:    make(map[string]*session.HubContainer),
		receiverCh:  make(chan acceptedMessage, 1024),
		responderCh: make(chan replyJob, 1024),
		analyzerCh:  make(chan acceptedMessage, 1024),
	}, nil
}

// LocalAddr returns the address the hub's socket is bound to.
func (e *Engine) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Snapshots returns a consistent-enough point-in-time copy of every live
// session, for the Prometheus collector.
func (e *Engine) Snapshots() map[string]session.HubSnapshot {
	e.sessionsMu.Lock()
	defer e.sessionsMu.Unlock()

	out := make(map[string]session.HubSnapshot, len(e.sessions))
	for sid, c := range e.sessions {
		out[sid] = c.Snapshot()
	}
	return out
}

// Run starts the receiver, handler, responder, and analyzer (inserter +
// sweeper) and blocks until ctx is cancelled and all have returned.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(5)

	go func() { defer wg.Done(); e.receive(ctx) }()
	go func() { defer wg.Done(); e.handle(ctx) }()
	go func() { defer wg.Done(); e.respond(ctx) }()
	go func() { defer wg.Done(); e.analyzeInsert(ctx) }()
	go func() { defer wg.Done(); e.analyzeSweep(ctx) }()

	wg.Wait()
	e.conn.Close()
}

// receive implements spec.md §4.2 for the hub side: bounded-timeout reads
// on the shared listening socket, parse and key filtering, attaching the
// source address.
func (e *Engine) receive(ctx context.Context) {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := udpconn.RefreshReadDeadline(e.conn); err != nil {
			e.log.Error("failed to refresh read deadline", "error", err)
			return
		}

		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if udpconn.IsTimeout(err) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			e.log.Debug("receive failed", "error", err)
			continue
		}
		timestamp := clock.Now()

		msg, err := wire.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		if msg.Key != e.cfg.Key {
			continue
		}

		select {
		case e.receiverCh <- acceptedMessage{addr: addr, timestamp: timestamp, msg: msg, size: n}:
		case <-ctx.Done():
			return
		}
	}
}

// handle implements spec.md §4.3: only pings are reflected, per the
// resolution of §4.3 against §9's design note (non-ping messages never
// reach the analyzer either, since they are dropped here before fan-out).
// The reply is dispatched to the Responder before the fan-out to the
// Analyzer is attempted, so a momentarily-full analyzer queue never delays
// the reply.
func (e *Engine) handle(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case am := <-e.receiverCh:
			if am.msg.Mode != wire.ModePing {
				continue
			}

			reply := am.msg.Pong()
			buf, err := wire.Marshal(reply)
			if err != nil {
				e.log.Error("failed to serialize reply", "sid", am.msg.Sid, "seq", am.msg.Seq, "error", err)
			} else {
				select {
				case e.responderCh <- replyJob{addr: am.addr, buf: buf}:
				case <-ctx.Done():
					return
				}
			}

			select {
			case e.analyzerCh <- am:
			case <-ctx.Done():
				return
			}
		}
	}
}

// respond implements spec.md §4.5: blocking sender, retries a failed send
// in a tight loop, logging at most once per 10s.
func (e *Engine) respond(ctx context.Context) {
	var lastFailureLog float64

	for {
		select {
		case <-ctx.Done():
			return

		case job := <-e.responderCh:
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				if _, err := e.conn.WriteToUDP(job.buf, job.addr); err != nil {
					now := clock.Now()
					if now-lastFailureLog > sendFailureLogInterval.Seconds() {
						e.log.Error("failed to send reply", "addr", job.addr, "error", err)
						lastFailureLog = now
					}
					continue
				}
				break
			}
		}
	}
}

// analyzeInsert implements the hub analyzer's inserter half of spec.md
// §4.4: one producer creating or updating the sid -> SessionContainer map.
func (e *Engine) analyzeInsert(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case am := <-e.analyzerCh:
			e.sessionsMu.Lock()
			c, ok := e.sessions[am.msg.Sid]
			if !ok {
				e.sessions[am.msg.Sid] = session.NewHubContainer(am.msg.Seq, am.timestamp, am.size)
			} else {
				c.SeqAnalyze(am.msg.Seq, am.timestamp, am.size)
			}
			e.sessionsMu.Unlock()
		}
	}
}

// analyzeSweep implements the hub analyzer's sweeper half of spec.md §4.4:
// every min(TIMEOUT, stats_interval, HOLE_TIMEOUT), prune stale holes,
// retire sessions past SESSION_TIMEOUT, and publish sessions due for
// stats. The session map is locked for the full sweep pass; clocktower
// publishing happens after it is released, so the lock is never held
// across I/O.
func (e *Engine) analyzeSweep(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			now := clock.Now()

			var toPublish []clocktower.HubSessionStatistics
			var toRemove []string

			e.sessionsMu.Lock()
			for sid, c := range e.sessions {
				c.PruneHoles(now - holeTimeout.Seconds())

				switch {
				case c.LastRx() < now-sessionTimeout.Seconds():
					toPublish = append(toPublish, clocktower.HubSnapshotToStatistics(sid, now, c.Snapshot()))
					toRemove = append(toRemove, sid)
				case c.DueForPublish(now, e.cfg.StatsInterval.Seconds()):
					toPublish = append(toPublish, clocktower.HubSnapshotToStatistics(sid, now, c.Snapshot()))
				}
			}
			for _, sid := range toRemove {
				delete(e.sessions, sid)
			}
			e.sessionsMu.Unlock()

			for _, doc := range toPublish {
				e.publisher.Publish(doc)
			}
		}
	}
}

// sweepInterval returns min(TIMEOUT, stats_interval, HOLE_TIMEOUT); in
// practice SESSION_TIMEOUT (7 days) never governs this.
func (e *Engine) sweepInterval() time.Duration {
	interval := e.cfg.StatsInterval
	if holeTimeout < interval {
		interval = holeTimeout
	}
	if sessionTimeout < interval {
		interval = sessionTimeout
	}
	return interval
}
