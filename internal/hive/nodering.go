package hive

import "sync"

// NodeRing is a cyclic sequence of RPC endpoints with a current cursor.
// Advance may be called concurrently from publishing paths; the cursor is
// eventually rotating rather than strictly monotone per caller.
type NodeRing struct {
	mu     sync.Mutex
	nodes  []string
	cursor int
}

// NewNodeRing creates a ring over the given endpoints. The first endpoint
// is the initial current node.
func NewNodeRing(nodes []string) *NodeRing {
	r := &NodeRing{}
	r.Replace(nodes)
	return r
}

// Current returns the endpoint under the cursor.
func (r *NodeRing) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.nodes) == 0 {
		return ""
	}
	return r.nodes[r.cursor]
}

// Advance moves the cursor to the next endpoint, wrapping around, and
// returns the new current endpoint.
func (r *NodeRing) Advance() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.nodes) == 0 {
		return ""
	}
	r.cursor = (r.cursor + 1) % len(r.nodes)
	return r.nodes[r.cursor]
}

// Replace swaps in a new endpoint order and resets the cursor to the head.
// Used by ranking, which sorts endpoints by responsiveness.
func (r *NodeRing) Replace(nodes []string) {
	cp := make([]string, len(nodes))
	copy(cp, nodes)
	r.mu.Lock()
	r.nodes = cp
	r.cursor = 0
	r.mu.Unlock()
}

// Nodes returns a copy of the current endpoint order.
func (r *NodeRing) Nodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]string, len(r.nodes))
	copy(cp, r.nodes)
	return cp
}

// Len returns the number of endpoints in the ring.
func (r *NodeRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}
