package pubsub

import "errors"

var (
	// ErrTopicUnknown names an operation on a topic the engine has never
	// joined. No Engine method returns it: Create, Subscribe and Publish
	// join an unknown topic on first use, and Unsubscribe of an unknown
	// topic is a no-op.
	ErrTopicUnknown = errors.New("pubsub: topic unknown")

	// ErrNoSubscribers is returned by Publish when the topic has no
	// local subscription and no mesh peers to forward to.
	ErrNoSubscribers = errors.New("pubsub: no subscribers")

	// ErrPayloadTooLarge is returned by Publish when payload exceeds the
	// configured maximum message size.
	ErrPayloadTooLarge = errors.New("pubsub: payload too large")
)
