package signaling

import "errors"

// Close codes sent to a WebSocket client when the hub terminates its
// connection for a reason other than a normal, client-initiated close.
const (
	CloseNormal             = 1000
	CloseProtocolViolation  = 4001
	CloseDuplicateConnection = 4002
	CloseSlowConsumer       = 4003
	CloseImpersonationAttempt = 4004
)

var (
	// ErrProtocolViolation names a CONNECTED (not yet registered) client
	// sending anything but a Register frame. The hub does not return it;
	// it closes such a client with CloseProtocolViolation.
	ErrProtocolViolation = errors.New("signaling: protocol violation")

	// ErrImpersonationAttempt names a frame whose "from" field does not
	// match the sender's own registered label. The hub does not return
	// it; it closes such a client with CloseImpersonationAttempt.
	ErrImpersonationAttempt = errors.New("signaling: impersonation attempt")

	// ErrUnknownFrameType is raised when a frame's type discriminator
	// does not match any known SignalingFrame variant.
	ErrUnknownFrameType = errors.New("signaling: unknown frame type")
)
