package hubengine_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/varesa/metronome2/internal/clocktower"
	"github.com/varesa/metronome2/internal/hubengine"
	"github.com/varesa/metronome2/internal/logging"
	"github.com/varesa/metronome2/internal/wire"
)

func TestHubEngine_ReflectsPing(t *testing.T) {
	t.Parallel()

	log := logging.New(true, false)
	publisher := clocktower.New(log, nil)
	t.Cleanup(publisher.Close)

	engine, err := hubengine.New(hubengine.Config{
		Key:           "shared",
		StatsInterval: time.Second,
	}, log, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, publisher)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	go engine.Run(ctx)

	hubAddr := localAddr(t, engine)

	client, err := net.DialUDP("udp", nil, hubAddr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	msg := &wire.Message{
		Mode:    wire.ModePing,
		Payload: []byte("AAAA"),
		Mul:     2.5,
		Seq:     7,
		Key:     "shared",
		Sid:     "sess-1",
	}
	buf, err := wire.Marshal(msg)
	require.NoError(t, err)

	_, err = client.Write(buf)
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply := make([]byte, wire.MaxDatagramSize)
	n, err := client.Read(reply)
	require.NoError(t, err)

	got, err := wire.Unmarshal(reply[:n])
	require.NoError(t, err)

	require.Equal(t, wire.ModePong, got.Mode)
	require.Equal(t, uint64(7), got.Seq)
	require.Equal(t, "shared", got.Key)
	require.Equal(t, "sess-1", got.Sid)
	require.Equal(t, []byte("AAAAAAAAAA"), got.Payload)
}

func TestHubEngine_KeyMismatchDropped(t *testing.T) {
	t.Parallel()

	log := logging.New(true, false)
	publisher := clocktower.New(log, nil)
	t.Cleanup(publisher.Close)

	engine, err := hubengine.New(hubengine.Config{
		Key:           "expected",
		StatsInterval: time.Second,
	}, log, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, publisher)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	go engine.Run(ctx)

	hubAddr := localAddr(t, engine)

	client, err := net.DialUDP("udp", nil, hubAddr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	buf, err := wire.Marshal(&wire.Message{Mode: wire.ModePing, Seq: 1, Key: "wrong", Sid: "sess-1"})
	require.NoError(t, err)
	_, err = client.Write(buf)
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	reply := make([]byte, wire.MaxDatagramSize)
	_, err = client.Read(reply)
	require.Error(t, err)
}

func localAddr(t *testing.T, engine *hubengine.Engine) *net.UDPAddr {
	t.Helper()
	addr := engine.LocalAddr()
	require.NotNil(t, addr)
	return addr
}
