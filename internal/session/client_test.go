package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/varesa/metronome2/internal/session"
)

// scenario 1: ordered delivery.
func TestClientTracker_OrderedDelivery(t *testing.T) {
	t.Parallel()

	tr := session.NewClientTracker()
	base := 1000.0
	for seq := uint64(0); seq < 5; seq++ {
		tr.Outgoing(seq, base+float64(seq))
		tr.Incoming(seq, base+float64(seq)+0.01, 64)
	}

	snap := tr.Snapshot()
	require.Equal(t, uint64(5), snap.SentMessages)
	require.Equal(t, uint64(5), snap.ReceivedMessages)
	require.Equal(t, uint64(5), snap.TimelyReceivedMessages)
	require.Equal(t, uint64(0), snap.LostMessages)
	require.Equal(t, uint64(0), snap.InflightMessages)
	require.Equal(t, uint64(0), snap.SeqUnexpectedIncrement)
	require.Equal(t, uint64(0), snap.SeqUnexpectedDecrement)
}

// scenario 2: loss, with a timeout sweep.
func TestClientTracker_Loss(t *testing.T) {
	t.Parallel()

	tr := session.NewClientTracker()
	base := 1000.0
	for seq := uint64(0); seq < 10; seq++ {
		tr.Outgoing(seq, base+float64(seq))
	}
	// Replies for seq 3 and 4 are dropped; everything else arrives.
	for seq := uint64(0); seq < 10; seq++ {
		if seq == 3 || seq == 4 {
			continue
		}
		tr.Incoming(seq, base+float64(seq)+0.01, 64)
	}

	// Sweep well past the RTT timeout.
	tr.SweepRTTTimeouts(base + 100)

	snap := tr.Snapshot()
	require.Equal(t, uint64(8), snap.TimelyReceivedMessages)
	require.Equal(t, uint64(2), snap.LostMessages)
	require.Equal(t, uint64(0), snap.InflightMessages)
}

// scenario 3: reorder above expected.
func TestClientTracker_ReorderAbove(t *testing.T) {
	t.Parallel()

	tr := session.NewClientTracker()
	base := 1000.0
	for seq := uint64(0); seq < 5; seq++ {
		tr.Outgoing(seq, base+float64(seq))
	}
	order := []uint64{0, 1, 3, 2, 4}
	for i, seq := range order {
		tr.Incoming(seq, base+float64(i)+0.01, 64)
	}

	snap := tr.Snapshot()
	require.Equal(t, uint64(1), snap.SeqUnexpectedIncrement)
	require.Equal(t, uint64(0), snap.SeqUnexpectedDecrement)
	require.Equal(t, uint64(5), snap.ReceivedMessages)
}

// scenario 6: sub-second bucketing.
func TestClientTracker_Bucketing(t *testing.T) {
	t.Parallel()

	tr := session.NewClientTracker()
	fracs := []float64{0.05, 0.15, 0.95, 0.95}
	for i, f := range fracs {
		tr.Incoming(uint64(i), 1000.0+f, 1)
	}

	snap := tr.Snapshot()
	require.Equal(t, uint64(1), snap.ReceiveTimeWindows[0])
	require.Equal(t, uint64(1), snap.ReceiveTimeWindows[1])
	require.Equal(t, uint64(2), snap.ReceiveTimeWindows[9])
	var sum uint64
	for _, v := range snap.ReceiveTimeWindows {
		sum += v
	}
	require.Equal(t, uint64(4), sum)
}

func TestClientTracker_RTTStats(t *testing.T) {
	t.Parallel()

	tr := session.NewClientTracker()
	tr.Outgoing(0, 100.0)
	tr.Incoming(0, 100.1, 1)

	snap := tr.Snapshot()
	require.NotNil(t, snap.RTTWorst)
	require.NotNil(t, snap.RTTBest)
	require.NotNil(t, snap.RTTMavg)
	require.InDelta(t, 0.1, *snap.RTTWorst, 1e-9)
	require.InDelta(t, 0.1, *snap.RTTBest, 1e-9)
	require.InDelta(t, 0.1, *snap.RTTMavg, 1e-9)
}

func TestClientTracker_InflightInvariant(t *testing.T) {
	t.Parallel()

	tr := session.NewClientTracker()
	for seq := uint64(0); seq < 20; seq++ {
		tr.Outgoing(seq, 1000.0+float64(seq))
		if seq%3 == 0 {
			tr.Incoming(seq, 1000.0+float64(seq)+0.01, 1)
		}
	}
	tr.SweepRTTTimeouts(2000.0)

	snap := tr.Snapshot()
	require.Equal(t, snap.InflightMessages, snap.SentMessages-snap.TimelyReceivedMessages-snap.LostMessages)
}
