// Package clientengine wires the client-side pipeline: a Transmitter that
// paces outgoing probes, a Receiver that reads replies off the hub socket,
// and an Analyzer that owns the SessionTracker and periodically publishes
// to the clocktowers.
package clientengine

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/varesa/metronome2/internal/clock"
	"github.com/varesa/metronome2/internal/clocktower"
	"github.com/varesa/metronome2/internal/rate"
	"github.com/varesa/metronome2/internal/session"
	"github.com/varesa/metronome2/internal/udpconn"
	"github.com/varesa/metronome2/internal/wire"
)

// rttTimeout is the client's RTT sweep deadline (spec.md §6 "Constants").
const rttTimeout = 5 * time.Second

// sendFailureLogInterval bounds how often a repeating send failure is
// logged, per spec.md §4.1/§7.
const sendFailureLogInterval = 10 * time.Second

// Config holds everything an Engine needs that would otherwise come from
// CLI flags.
type Config struct {
	Sid           string
	Key           string
	PPSMax        uint64
	UseSleep      bool
	PayloadSize   int
	Balance       float64
	StatsInterval time.Duration
}

type rttObservation struct {
	seq       uint64
	timestamp float64
}

type receivedMessage struct {
	timestamp float64
	msg       *wire.Message
	size      int
}

// Engine owns the client's socket, tracker, rate control, and clocktower
// publisher, and runs the three worker goroutines described in spec.md
// §4.1/§4.2/§4.4.
type Engine struct {
	cfg Config
	log *slog.Logger

	conn      *net.UDPConn
	tracker   *session.ClientTracker
	pps       *rate.PPS
	publisher *clocktower.Publisher

	rttCh chan rttObservation
	rxCh  chan receivedMessage
}

// New dials the hub socket and builds the engine. The clocktower publisher
// is opened separately and handed in, mirroring how twamp-sender wires its
// sender and its reporting sink independently of each other.
func New(cfg Config, log *slog.Logger, remote *net.UDPAddr, publisher *clocktower.Publisher) (*Engine, error) {
	conn, err := udpconn.Connect(remote)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		conn:      conn,
		tracker:   session.NewClientTracker(),
		pps:       rate.New(cfg.PPSMax),
		publisher: publisher,
		rttCh:     make(chan rttObservation, 1024),
		rxCh:      make(chan receivedMessage, 1024),
	}, nil
}

// SetRate overwrites the transmitter's target packets-per-second, latest
// value wins, never blocks.
func (e *Engine) SetRate(pps uint64) {
	e.pps.Set(pps)
}

// Tracker exposes the live tracker for the metrics collector.
func (e *Engine) Tracker() *session.ClientTracker {
	return e.tracker
}

// Run starts the transmitter, receiver, and analyzer and blocks until ctx
// is cancelled and all three have returned.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() { defer wg.Done(); e.transmit(ctx) }()
	go func() { defer wg.Done(); e.receive(ctx) }()
	go func() { defer wg.Done(); e.analyze(ctx) }()

	wg.Wait()
	e.conn.Close()
}

// transmit implements spec.md §4.1: pace emissions against a runtime-
// adjustable target rate, catch-up clamped to one second, publishing the
// RTT observation synchronously after every successful send.
func (e *Engine) transmit(ctx context.Context) {
	payload := make([]byte, e.cfg.PayloadSize)
	nextTxAt := clock.Now()
	var seq uint64
	var lastSendFailureLog float64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pps := e.pps.Get()
		if pps == 0 {
			pps = 1
		}
		period := 1.0 / float64(pps)

		now := clock.Now()
		if now >= nextTxAt {
			if nextTxAt < now-1.0 {
				nextTxAt = now - 1.0
			}
			for nextTxAt <= now {
				msg := &wire.Message{
					Mode:    wire.ModePing,
					Payload: payload,
					Mul:     e.cfg.Balance,
					Seq:     seq,
					Key:     e.cfg.Key,
					Sid:     e.cfg.Sid,
				}
				buf, err := wire.Marshal(msg)
				if err != nil {
					e.log.Error("failed to serialize probe", "seq", seq, "error", err)
					nextTxAt += period
					continue
				}

				sendTs := clock.Now()
				if _, err := e.conn.Write(buf); err != nil {
					if sendTs-lastSendFailureLog > sendFailureLogInterval.Seconds() {
						e.log.Error("failed to send probe", "error", err)
						lastSendFailureLog = sendTs
					}
					nextTxAt += period
					continue
				}

				select {
				case e.rttCh <- rttObservation{seq: seq, timestamp: sendTs}:
				case <-ctx.Done():
					return
				}

				seq++
				nextTxAt += period
			}
		}

		if e.cfg.UseSleep {
			time.Sleep(100 * time.Microsecond)
		}
	}
}

// receive implements spec.md §4.2 for the client side: bounded-timeout
// reads, parse and key filtering, handing accepted messages to the
// analyzer.
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

		n, err := e.conn.Read(buf)
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
		if msg.Key != e.cfg.Key || msg.Sid != e.cfg.Sid {
			continue
		}

		select {
		case e.rxCh <- receivedMessage{timestamp: timestamp, msg: msg, size: n}:
		case <-ctx.Done():
			return
		}
	}
}

// analyze implements spec.md §4.4 client side: a single logical actor
// consuming both streams plus a periodic sweep/publish tick.
func (e *Engine) analyze(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case obs := <-e.rttCh:
			e.tracker.Outgoing(obs.seq, obs.timestamp)

		case rm := <-e.rxCh:
			e.tracker.Incoming(rm.msg.Seq, rm.timestamp, rm.size)

		case <-ticker.C:
			now := clock.Now()
			e.tracker.SweepRTTTimeouts(now - rttTimeout.Seconds())
			snap := e.tracker.Snapshot()
			doc := clocktower.ClientSnapshotToStatistics(e.cfg.Sid, now, snap)
			e.publisher.Publish(doc)
		}
	}
}
