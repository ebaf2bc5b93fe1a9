package gossip

import "go.uber.org/atomic"

// seedAddrs is an atomic-pointer-backed live view of the addresses used to
// join the cluster. It's refreshed whenever Join is called with a new
// address list, and read on demand - without blocking - by the underlying
// scuttle.ClusterState via its SeedAddrsFunc seam.
type seedAddrs struct {
	addrs atomic.Pointer[[]string]
}

func newSeedAddrs() *seedAddrs {
	s := &seedAddrs{}
	empty := []string{}
	s.addrs.Store(&empty)
	return s
}

// set replaces the live view with a copy of addrs.
func (s *seedAddrs) set(addrs []string) {
	cp := make([]string, len(addrs))
	copy(cp, addrs)
	s.addrs.Store(&cp)
}

// get satisfies scuttle.SeedAddrsFunc.
func (s *seedAddrs) get() []string {
	return *s.addrs.Load()
}
