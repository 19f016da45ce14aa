package pubsub

import (
	"bytes"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/crypto"
)

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("derive peer id: %v", err)
	}
	return id
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	sender := testPeerID(t)
	want := Envelope{
		Payload:  []byte("hello"),
		Sender:   sender,
		Sequence: 42,
	}

	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Sender != want.Sender || got.Sequence != want.Sequence || !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestDecode_RejectsTruncated(t *testing.T) {
	if _, err := Decode([]byte{0x00}); err == nil {
		t.Fatal("Decode() should reject truncated input")
	}
}

func TestSeenSet_SuppressesDuplicates(t *testing.T) {
	s := newSeenSet()
	sender := testPeerID(t)

	if s.seen(sender, 1) {
		t.Fatal("first (sender, 1) should not be seen")
	}
	if !s.seen(sender, 1) {
		t.Fatal("repeated (sender, 1) should be suppressed")
	}
	if s.seen(sender, 2) {
		t.Fatal("(sender, 2) is a different sequence, should not be suppressed")
	}
}

func TestSeenSet_DistinctSendersSameSequence(t *testing.T) {
	s := newSeenSet()
	a := testPeerID(t)
	b := testPeerID(t)

	if s.seen(a, 1) {
		t.Fatal("(a, 1) should not be seen")
	}
	if s.seen(b, 1) {
		t.Fatal("(b, 1) has a different sender, should not be suppressed by (a, 1)")
	}
}
