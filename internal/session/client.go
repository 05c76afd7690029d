// Package session holds the per-session state machines shared by the
// client and hub analyzers: sequence-gap ("hole") tracking, RTT
// correlation, inter-message gap, byte/message counters, and sub-second
// arrival bucketing.
package session

import (
	"sync"
)

// receiveTimeWindows is the fixed length of the sub-second arrival
// histogram (index = floor(frac(timestamp) * receiveTimeWindows)).
const receiveTimeWindows = 10

// rttOutstanding maps a sent sequence number to the wall-clock timestamp it
// was sent at, awaiting either a matching reply or a timeout sweep.
type rttOutstanding map[uint64]float64

// ClientTracker is the client-side per-session state machine. It is safe
// for concurrent use; in the canonical wiring it is driven by a single
// analyzer goroutine consuming two channels (RTT observations from the
// transmitter, received messages from the receiver), but the mutex makes
// it safe to drive from tests or alternative wirings too.
type ClientTracker struct {
	mu sync.Mutex

	lastRx    *float64
	lastTx    *float64
	lastRxSeq *uint64

	nextExpectedSeq uint64
	maxSeq          uint64

	sentMessages           uint64
	receivedMessages       uint64
	timelyReceivedMessages uint64
	lostMessages           uint64
	inflightMessages       uint64
	seqUnexpectedIncrement uint64
	seqUnexpectedDecrement uint64
	receivedBytes          uint64

	rttWorst *float64
	rttBest  *float64
	rttMavg  *float64

	intermessageGapMavg *float64
	receiveWindows      [receiveTimeWindows]uint64

	outstanding rttOutstanding
}

// NewClientTracker returns a fresh, empty client session tracker.
func NewClientTracker() *ClientTracker {
	return &ClientTracker{
		outstanding: make(rttOutstanding),
	}
}

// Outgoing records a probe sent at timestamp with the given sequence
// number. Called once per successful transmit, before the reply has any
// chance of being processed (see spec.md §5 ordering guarantees).
func (t *ClientTracker) Outgoing(seq uint64, timestamp float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastTx = &timestamp
	t.sentMessages++
	t.inflightMessages++
	t.outstanding[seq] = timestamp
}

// Incoming records a received reply: sequence classification, gap moving
// average, sub-second bucketing, and RTT correlation against the
// outstanding map.
func (t *ClientTracker) Incoming(seq uint64, timestamp float64, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastRx != nil && timestamp > *t.lastRx {
		delta := timestamp - *t.lastRx
		t.intermessageGapMavg = movingAverage(t.intermessageGapMavg, delta)
	}

	if t.lastRxSeq == nil {
		t.lastRxSeq = &seq
	} else {
		switch {
		case seq == t.nextExpectedSeq:
			// In order, nothing to count.
		case seq > t.nextExpectedSeq && seq <= t.maxSeq:
			t.seqUnexpectedIncrement++
		case seq < t.nextExpectedSeq:
			t.seqUnexpectedDecrement++
		}
	}
	t.lastRxSeq = &seq
	t.nextExpectedSeq = seq + 1
	if seq > t.maxSeq {
		t.maxSeq = seq
	}

	t.lastRx = &timestamp
	t.receivedBytes += uint64(size)
	t.receivedMessages++

	bucket := int(fracPart(timestamp) * float64(receiveTimeWindows))
	if bucket >= 0 && bucket < receiveTimeWindows {
		t.receiveWindows[bucket]++
	}

	if sendTs, ok := t.outstanding[seq]; ok {
		delete(t.outstanding, seq)
		rtt := timestamp - sendTs
		t.timelyReceivedMessages++
		t.inflightMessages--

		t.rttWorst = maxPtr(t.rttWorst, rtt)
		t.rttBest = minPtr(t.rttBest, rtt)
		t.rttMavg = movingAverage(t.rttMavg, rtt)
	}
}

// SweepRTTTimeouts removes outstanding entries sent before deadline,
// counting each as a lost message. Called periodically by the analyzer's
// sweep (every stats interval).
func (t *ClientTracker) SweepRTTTimeouts(deadline float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for seq, sentAt := range t.outstanding {
		if sentAt < deadline {
			delete(t.outstanding, seq)
			t.lostMessages++
			t.inflightMessages--
		}
	}
}

// ClientSnapshot is a point-in-time, immutable copy of the tracker's
// counters, suitable for publishing.
type ClientSnapshot struct {
	SeqUnexpectedIncrement uint64
	SeqUnexpectedDecrement uint64
	SentMessages           uint64
	ReceivedMessages       uint64
	TimelyReceivedMessages uint64
	LostMessages           uint64
	InflightMessages       uint64
	ReceivedBytes          uint64
	RTTWorst               *float64
	RTTBest                *float64
	RTTMavg                *float64
	IntermessageGapMavg    *float64
	ReceiveTimeWindows     [receiveTimeWindows]uint64
}

// Snapshot returns a consistent copy of the tracker's current counters.
func (t *ClientTracker) Snapshot() ClientSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return ClientSnapshot{
		SeqUnexpectedIncrement: t.seqUnexpectedIncrement,
		SeqUnexpectedDecrement: t.seqUnexpectedDecrement,
		SentMessages:           t.sentMessages,
		ReceivedMessages:       t.receivedMessages,
		TimelyReceivedMessages: t.timelyReceivedMessages,
		LostMessages:           t.lostMessages,
		InflightMessages:       t.inflightMessages,
		ReceivedBytes:          t.receivedBytes,
		RTTWorst:               copyPtr(t.rttWorst),
		RTTBest:                copyPtr(t.rttBest),
		RTTMavg:                copyPtr(t.rttMavg),
		IntermessageGapMavg:    copyPtr(t.intermessageGapMavg),
		ReceiveTimeWindows:     t.receiveWindows,
	}
}

func movingAverage(cur *float64, sample float64) *float64 {
	if cur == nil {
		return &sample
	}
	v := (*cur*9.0 + sample) / 10.0
	return &v
}

func maxPtr(cur *float64, v float64) *float64 {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}

func minPtr(cur *float64, v float64) *float64 {
	if cur == nil || v < *cur {
		return &v
	}
	return cur
}

func copyPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func fracPart(f float64) float64 {
	return f - float64(int64(f))
}
