package transport

import "sync"

// DialGate enforces that a given multiaddress is dialed at most once
// concurrently, matching the Multiaddress invariant in spec §3.
type DialGate struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewDialGate returns an empty DialGate.
func NewDialGate() *DialGate {
	return &DialGate{inFlight: make(map[string]struct{})}
}

// TryDial reserves addr for the duration of a dial attempt. It returns
// ok=false if addr already has a dial in flight; callers must not dial in
// that case. On ok=true, the caller must invoke release once the dial
// attempt completes (success or failure).
func (g *DialGate) TryDial(addr string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[addr]; busy {
		return nil, false
	}
	g.inFlight[addr] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.inFlight, addr)
		g.mu.Unlock()
	}, true
}
