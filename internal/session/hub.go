package session

import "sync"

// Hole is a sequence number the hub expected but has not yet observed.
type Hole struct {
	Created float64
}

// HubContainer is the hub-side per-session state machine: hole
// create/close/timeout, byte and message counters, inter-message gap, and
// sub-second arrival bucketing. Safe for concurrent use; in the canonical
// wiring it is held in a `sid -> *HubContainer` map shared between the
// analyzer's inserter and its periodic sweeper, each holding the map's lock
// only for the duration of one insert-or-update or one sweep pass (see
// spec.md §5).
type HubContainer struct {
	mu sync.Mutex

	lastStats float64
	lastRx    float64
	lastSeq   uint64

	receivedMessages uint64
	receivedBytes    uint64

	holesCreated   uint64
	holesClosed    uint64
	holesTimedOut  uint64
	holes          map[uint64]Hole

	intermessageGapMavg *float64
	receiveWindows      [receiveTimeWindows]uint64
}

// NewHubContainer creates a session container seeded by the first received
// datagram: that reception counts as message #1 and creates no holes,
// matching the original implementation's session-construction semantics
// (see DESIGN.md).
func NewHubContainer(seq uint64, timestamp float64, size int) *HubContainer {
	c := &HubContainer{
		lastRx:           timestamp,
		lastSeq:          seq,
		receivedMessages: 1,
		receivedBytes:    uint64(size),
		holes:            make(map[uint64]Hole),
	}
	bucket := int(fracPart(timestamp) * float64(receiveTimeWindows))
	if bucket >= 0 && bucket < receiveTimeWindows {
		c.receiveWindows[bucket]++
	}
	return c
}

// SeqAnalyze processes one received datagram: updates counters, gap
// moving average, sub-second bucket, and hole bookkeeping.
func (c *HubContainer) SeqAnalyze(seq uint64, timestamp float64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timestamp > c.lastRx {
		delta := timestamp - c.lastRx
		c.intermessageGapMavg = movingAverage(c.intermessageGapMavg, delta)
	}

	c.receivedMessages++
	c.lastRx = timestamp
	c.receivedBytes += uint64(size)

	bucket := int(fracPart(timestamp) * float64(receiveTimeWindows))
	if bucket >= 0 && bucket < receiveTimeWindows {
		c.receiveWindows[bucket]++
	}

	switch {
	case seq == c.lastSeq+1 || seq == 0:
		c.lastSeq = seq
	case c.isHole(seq):
		delete(c.holes, seq)
		c.holesClosed++
	case seq > c.lastSeq:
		for i := c.lastSeq + 1; i < seq; i++ {
			if !c.isHole(i) {
				c.holes[i] = Hole{Created: timestamp}
				c.holesCreated++
			}
		}
		c.lastSeq = seq
	default:
		// seq <= lastSeq and not a known hole: late duplicate, ignored for
		// hole accounting.
	}
}

func (c *HubContainer) isHole(seq uint64) bool {
	_, ok := c.holes[seq]
	return ok
}

// PruneHoles removes holes created before deadline, counting each into
// HolesTimedOut.
func (c *HubContainer) PruneHoles(deadline float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for seq, h := range c.holes {
		if h.Created < deadline {
			delete(c.holes, seq)
			c.holesTimedOut++
		}
	}
}

// LastRx returns the timestamp of the most recent reception.
func (c *HubContainer) LastRx() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRx
}

// DueForPublish reports whether last_stats is stale relative to interval,
// and if so marks it published at now.
func (c *HubContainer) DueForPublish(now, interval float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastStats < now-interval {
		c.lastStats = now
		return true
	}
	return false
}

// HubSnapshot is a point-in-time, immutable copy of the container's
// counters, suitable for publishing.
type HubSnapshot struct {
	LastRx              float64
	LastSeq             uint64
	ReceivedMessages    uint64
	ReceivedBytes       uint64
	HolesCreated        uint64
	HolesClosed         uint64
	HolesTimedOut       uint64
	HolesCurrent        uint64
	IntermessageGapMavg *float64
	ReceiveTimeWindows  [receiveTimeWindows]uint64
}

// Snapshot returns a consistent copy of the container's current counters.
func (c *HubContainer) Snapshot() HubSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return HubSnapshot{
		LastRx:              c.lastRx,
		LastSeq:             c.lastSeq,
		ReceivedMessages:    c.receivedMessages,
		ReceivedBytes:       c.receivedBytes,
		HolesCreated:        c.holesCreated,
		HolesClosed:         c.holesClosed,
		HolesTimedOut:       c.holesTimedOut,
		HolesCurrent:        uint64(len(c.holes)),
		IntermessageGapMavg: copyPtr(c.intermessageGapMavg),
		ReceiveTimeWindows:  c.receiveWindows,
	}
}
