package pubsub

import (
	"encoding/binary"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Envelope is a published message: the application payload plus enough
// routing metadata for duplicate suppression and FIFO-per-sender
// ordering. It is the unit encoded onto the wire.
type Envelope struct {
	Topic    string
	Payload  []byte
	Sender   peer.ID
	Sequence uint64
}

// Encode serializes the envelope to bytes. The wire format is a length
// -prefixed sender ID, an 8-byte big-endian sequence, and the raw
// payload — deliberately simple since the topic name and size bound are
// already known from the pubsub transport framing that carries it.
func Encode(e Envelope) []byte {
	senderBytes := []byte(e.Sender)
	buf := make([]byte, 2+len(senderBytes)+8+len(e.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(senderBytes)))
	off := 2
	copy(buf[off:], senderBytes)
	off += len(senderBytes)
	binary.BigEndian.PutUint64(buf[off:off+8], e.Sequence)
	off += 8
	copy(buf[off:], e.Payload)
	return buf
}

// Decode parses bytes produced by Encode back into an Envelope. Topic is
// not recoverable from the wire bytes alone (it is supplied by the
// pubsub transport that delivered the message) and must be set by the
// caller.
func Decode(data []byte) (Envelope, error) {
	if len(data) < 2 {
		return Envelope{}, fmt.Errorf("pubsub: envelope too short")
	}
	senderLen := int(binary.BigEndian.Uint16(data[0:2]))
	off := 2
	if len(data) < off+senderLen+8 {
		return Envelope{}, fmt.Errorf("pubsub: envelope truncated")
	}
	sender := peer.ID(data[off : off+senderLen])
	off += senderLen
	seq := binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	payload := append([]byte(nil), data[off:]...)

	return Envelope{
		Payload:  payload,
		Sender:   sender,
		Sequence: seq,
	}, nil
}
