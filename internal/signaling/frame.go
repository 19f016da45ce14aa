package signaling

import (
	"encoding/json"
	"fmt"
)

// FrameType tags a SignalingFrame's payload shape.
type FrameType string

const (
	TypeRegister     FrameType = "Register"
	TypeOffer        FrameType = "Offer"
	TypeAnswer       FrameType = "Answer"
	TypeIceCandidate FrameType = "IceCandidate"
)

// Frame is the decoded form of a SignalingFrame (spec §3): a tagged
// union over Register/Offer/Answer/IceCandidate. SDP and ICE candidate
// strings are carried opaquely — the hub never parses them (spec §9:
// "WebRTC signaling is not WebRTC").
type Frame struct {
	Type FrameType

	// Register
	PeerID string

	// Offer, Answer, IceCandidate
	From string
	To   string
	SDP       string // Offer, Answer
	Candidate string // IceCandidate
}

type wireFrame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type registerPayload struct {
	PeerID string `json:"peer_id"`
}

type sdpPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Candidate string `json:"candidate"`
}

// DecodeFrame parses a single text-frame WebSocket message into a Frame.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("signaling: decode frame: %w", err)
	}

	switch w.Type {
	case TypeRegister:
		var p registerPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Frame{}, fmt.Errorf("signaling: decode Register payload: %w", err)
		}
		return Frame{Type: TypeRegister, PeerID: p.PeerID}, nil

	case TypeOffer, TypeAnswer:
		var p sdpPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Frame{}, fmt.Errorf("signaling: decode %s payload: %w", w.Type, err)
		}
		return Frame{Type: w.Type, From: p.From, To: p.To, SDP: p.SDP}, nil

	case TypeIceCandidate:
		var p icePayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Frame{}, fmt.Errorf("signaling: decode IceCandidate payload: %w", err)
		}
		return Frame{Type: TypeIceCandidate, From: p.From, To: p.To, Candidate: p.Candidate}, nil

	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrameType, w.Type)
	}
}

// EncodeFrame serializes f back into the self-describing type/payload
// wire shape.
func EncodeFrame(f Frame) ([]byte, error) {
	var payload any
	switch f.Type {
	case TypeRegister:
		payload = registerPayload{PeerID: f.PeerID}
	case TypeOffer, TypeAnswer:
		payload = sdpPayload{From: f.From, To: f.To, SDP: f.SDP}
	case TypeIceCandidate:
		payload = icePayload{From: f.From, To: f.To, Candidate: f.Candidate}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Type)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signaling: encode %s payload: %w", f.Type, err)
	}
	return json.Marshal(wireFrame{Type: f.Type, Payload: raw})
}
