// Package udpconn prepares the UDP sockets used by the client and hub:
// a bounded read deadline so shutdown is observed promptly, and (for the
// client) a connected socket to a single remote peer.
package udpconn

import (
	"fmt"
	"net"
	"time"
)

// ReadTimeout bounds every blocking socket read so a cancelled context (or
// cleared running flag) is observed within one timeout window, per
// spec.md §5/§6 (SLEEP_TIME = 100ms).
const ReadTimeout = 100 * time.Millisecond

// Connect binds an ephemeral local UDP socket and connects it to remote,
// so that Write sends only to remote and Read only accepts from it. Used
// by the client for the hub socket; the clocktower publisher dials its own
// sockets without this helper.
func Connect(remote *net.UDPAddr) (*net.UDPConn, error) {
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", remote, err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	return conn, nil
}

// Listen binds a UDP socket on local for the hub to receive probes and
// send replies from.
func Listen(local *net.UDPAddr) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", local, err)
	}
	return conn, nil
}

// RefreshReadDeadline re-arms the read deadline ahead of the next blocking
// read. Socket read deadlines are absolute, so this must be called before
// every read.
func RefreshReadDeadline(conn *net.UDPConn) error {
	return conn.SetReadDeadline(time.Now().Add(ReadTimeout))
}

// IsTimeout reports whether err is a network timeout, i.e. an expected
// "no datagram within SLEEP_TIME" condition rather than a real failure.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
