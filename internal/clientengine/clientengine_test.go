package clientengine_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/varesa/metronome2/internal/clientengine"
	"github.com/varesa/metronome2/internal/clocktower"
	"github.com/varesa/metronome2/internal/logging"
	"github.com/varesa/metronome2/internal/wire"
)

// echoHub is a minimal stand-in for the real hub engine: it echoes back
// every ping it receives as a pong, unmodified, so clientengine tests stay
// focused on the client's own pipeline.
func echoHub(t *testing.T, ctx context.Context, key string) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, wire.MaxDatagramSize)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				continue
			}
			msg, err := wire.Unmarshal(buf[:n])
			if err != nil || msg.Key != key {
				continue
			}
			reply := msg.Pong()
			out, err := wire.Marshal(reply)
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(out, addr)
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

func TestClientEngine_SendsAndTracksReplies(t *testing.T) {
	t.Parallel()

	log := logging.New(true, false)

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	hubAddr := echoHub(t, ctx, "shared")

	publisher := clocktower.New(log, nil)
	t.Cleanup(publisher.Close)

	engine, err := clientengine.New(clientengine.Config{
		Sid:           "sess-1",
		Key:           "shared",
		PPSMax:        50,
		PayloadSize:   4,
		Balance:       1.0,
		StatsInterval: 50 * time.Millisecond,
	}, log, hubAddr, publisher)
	require.NoError(t, err)

	go engine.Run(ctx)

	require.Eventually(t, func() bool {
		snap := engine.Tracker().Snapshot()
		return snap.SentMessages > 0 && snap.TimelyReceivedMessages > 0
	}, 2*time.Second, 20*time.Millisecond)

	snap := engine.Tracker().Snapshot()
	require.Equal(t, snap.SentMessages-snap.TimelyReceivedMessages-snap.LostMessages, snap.InflightMessages)
	require.NotNil(t, snap.RTTMavg)
}

func TestClientEngine_RateIsAdjustable(t *testing.T) {
	t.Parallel()

	log := logging.New(true, false)

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	hubAddr := echoHub(t, ctx, "shared")

	publisher := clocktower.New(log, nil)
	t.Cleanup(publisher.Close)

	engine, err := clientengine.New(clientengine.Config{
		Sid:           "sess-1",
		Key:           "shared",
		PPSMax:        1,
		PayloadSize:   1,
		Balance:       1.0,
		StatsInterval: time.Second,
	}, log, hubAddr, publisher)
	require.NoError(t, err)

	go engine.Run(ctx)

	engine.SetRate(200)

	require.Eventually(t, func() bool {
		return engine.Tracker().Snapshot().SentMessages > 20
	}, 2*time.Second, 20*time.Millisecond)
}
