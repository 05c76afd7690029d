// Package clocktower publishes JSON session-statistics snapshots to one or
// more out-of-band UDP collectors ("clocktowers"). Publishing is
// fire-and-forget: failures are logged and otherwise ignored.
package clocktower

import (
	"encoding/json"
	"log/slog"
	"net"

	"github.com/varesa/metronome2/internal/session"
)

// ClientSessionStatistics is the JSON document published by the client,
// field names per spec.md §6.
type ClientSessionStatistics struct {
	ClocktowerType string `json:"clocktower_type"`

	Sid       string  `json:"sid"`
	Timestamp float64 `json:"timestamp"`

	SeqUnexpectedIncrement uint64 `json:"seq_unexpected_increment"`
	SeqUnexpectedDecrement uint64 `json:"seq_unexpected_decrement"`

	SentMessages           uint64 `json:"sent_messages"`
	ReceivedMessages       uint64 `json:"received_messages"`
	TimelyReceivedMessages uint64 `json:"timely_received_messages"`
	LostMessages           uint64 `json:"lost_messages"`
	InflightMessages       uint64 `json:"inflight_messages"`

	ReceivedBytes uint64 `json:"received_bytes"`

	RTTWorst            *float64 `json:"rtt_worst,omitempty"`
	RTTBest             *float64 `json:"rtt_best,omitempty"`
	RTTMavg             *float64 `json:"rtt_mavg,omitempty"`
	IntermessageGapMavg *float64 `json:"intermessage_gap_mavg,omitempty"`

	ReceiveTimeWindows [10]uint64 `json:"receive_time_windows"`
}

// ClientSnapshotToStatistics builds the publishable document from a
// tracker snapshot.
func ClientSnapshotToStatistics(sid string, timestamp float64, s session.ClientSnapshot) ClientSessionStatistics {
	return ClientSessionStatistics{
		ClocktowerType:         "client_session_statistics",
		Sid:                    sid,
		Timestamp:              timestamp,
		SeqUnexpectedIncrement: s.SeqUnexpectedIncrement,
		SeqUnexpectedDecrement: s.SeqUnexpectedDecrement,
		SentMessages:           s.SentMessages,
		ReceivedMessages:       s.ReceivedMessages,
		TimelyReceivedMessages: s.TimelyReceivedMessages,
		LostMessages:           s.LostMessages,
		InflightMessages:       s.InflightMessages,
		ReceivedBytes:          s.ReceivedBytes,
		RTTWorst:               s.RTTWorst,
		RTTBest:                s.RTTBest,
		RTTMavg:                s.RTTMavg,
		IntermessageGapMavg:    s.IntermessageGapMavg,
		ReceiveTimeWindows:     s.ReceiveTimeWindows,
	}
}

// HubSessionStatistics is the JSON document published by the hub, field
// names per spec.md §6.
type HubSessionStatistics struct {
	ClocktowerType string `json:"clocktower_type"`

	Sid       string  `json:"sid"`
	Timestamp float64 `json:"timestamp"`

	ReceivedMessages uint64 `json:"received_messages"`
	HolesCreated     uint64 `json:"holes_created"`
	HolesClosed      uint64 `json:"holes_closed"`
	HolesTimedOut    uint64 `json:"holes_timed_out"`
	HolesCurrent     uint64 `json:"holes_current"`
	ReceivedBytes    uint64 `json:"received_bytes"`

	IntermessageGapMavg *float64 `json:"intermessage_gap_mavg,omitempty"`

	ReceiveTimeWindows [10]uint64 `json:"receive_time_windows"`
}

// HubSnapshotToStatistics builds the publishable document from a
// container snapshot.
func HubSnapshotToStatistics(sid string, timestamp float64, s session.HubSnapshot) HubSessionStatistics {
	return HubSessionStatistics{
		ClocktowerType:      "hub_session_statistics",
		Sid:                 sid,
		Timestamp:           timestamp,
		ReceivedMessages:    s.ReceivedMessages,
		HolesCreated:        s.HolesCreated,
		HolesClosed:         s.HolesClosed,
		HolesTimedOut:       s.HolesTimedOut,
		HolesCurrent:        s.HolesCurrent,
		ReceivedBytes:       s.ReceivedBytes,
		IntermessageGapMavg: s.IntermessageGapMavg,
		ReceiveTimeWindows:  s.ReceiveTimeWindows,
	}
}

// Publisher sends JSON telemetry datagrams to a fixed set of clocktower
// addresses. Each address gets its own connected UDP socket, opened once
// at construction.
type Publisher struct {
	log   *slog.Logger
	conns []*net.UDPConn
}

// New dials one UDP socket per clocktower address. Dial failures are
// logged and that clocktower is skipped; a clocktower that never comes up
// must not prevent the rest of the system from running.
func New(log *slog.Logger, addrs []*net.UDPAddr) *Publisher {
	p := &Publisher{log: log}
	for _, addr := range addrs {
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			log.Error("failed to dial clocktower", "addr", addr, "error", err)
			continue
		}
		p.conns = append(p.conns, conn)
	}
	return p
}

// Publish serializes doc to JSON and fire-and-forgets it to every
// configured clocktower. Errors are logged and otherwise ignored.
func (p *Publisher) Publish(doc any) {
	body, err := json.Marshal(doc)
	if err != nil {
		p.log.Error("failed to marshal telemetry", "error", err)
		return
	}
	for _, conn := range p.conns {
		if _, err := conn.Write(body); err != nil {
			p.log.Debug("failed to publish telemetry", "addr", conn.RemoteAddr(), "error", err)
		}
	}
}

// Close releases the clocktower sockets.
func (p *Publisher) Close() {
	for _, conn := range p.conns {
		conn.Close()
	}
}
