package pubsub

import (
	"sync"

	ps "github.com/libp2p/go-libp2p-pubsub"
)

// topicState tracks the local handle to a joined topic plus whether the
// engine itself holds a live local subscription. A topic may still be a
// forwarding participant with zero local subscriptions (spec §3).
type topicState struct {
	mu     sync.Mutex
	handle *ps.Topic
	sub    *ps.Subscription
	cancel func() // stops the subscription's read loop; nil if unsubscribed

	subscribed bool
}
