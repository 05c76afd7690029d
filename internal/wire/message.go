// Package wire defines the probe message exchanged between client and hub,
// and its on-the-wire encoding.
package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Mode values for Message.Mode.
const (
	ModePing = "ping"
	ModePong = "pong"
)

// MaxDatagramSize is the largest UDP datagram this package will attempt to
// read or write.
const MaxDatagramSize = 65536

// Message is the probe/reply datagram shared by client and hub. Field names
// match the wire encoding and the JSON telemetry vocabulary.
type Message struct {
	Mode    string  `msgpack:"mode"`
	Payload []byte  `msgpack:"payload,omitempty"`
	Mul     float64 `msgpack:"mul"`
	Seq     uint64  `msgpack:"seq"`
	Key     string  `msgpack:"key"`
	Sid     string  `msgpack:"sid"`
}

// Marshal encodes m using the wire codec.
func Marshal(m *Message) ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a wire-encoded message. It returns an error for any
// malformed buffer; callers on the receive path treat that as "silently
// drop", per spec.
func Unmarshal(buf []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &m, nil
}

// Pong builds the hub's reply to a ping, implementing the amplification
// rule: if payload is present and Mul != 1.0, the reply payload is the
// first byte of the input payload repeated floor(len(payload)*Mul) times.
// An empty payload amplifies to an empty payload, never a panic. A
// negative (or otherwise degenerate) Mul clamps the repeat count to 0
// rather than panicking on a negative make([]byte, n) length.
func (m *Message) Pong() *Message {
	reply := &Message{
		Mode: ModePong,
		Mul:  m.Mul,
		Seq:  m.Seq,
		Key:  m.Key,
		Sid:  m.Sid,
	}

	switch {
	case m.Payload == nil:
		// No payload: nothing to amplify.
	case len(m.Payload) == 0 || m.Mul == 1.0:
		reply.Payload = m.Payload
	default:
		n := int(float64(len(m.Payload)) * m.Mul)
		if n < 0 {
			n = 0
		}
		out := make([]byte, n)
		for i := range out {
			out[i] = m.Payload[0]
		}
		reply.Payload = out
	}

	return reply
}
