package graph

// Pool serializes edges assigned to it: at most Depth edges from the pool
// may run concurrently. Depth 0 means the default, unbounded pool —
// concurrency for it is gated only by global parallelism and the jobserver.
type Pool struct {
	Name  string
	Depth int

	currentUse int
	delayed    []*Edge
}

// DefaultPool returns the unnamed, unbounded pool every edge uses unless it
// sets `pool = NAME`.
func DefaultPool() *Pool { return &Pool{Name: "", Depth: 0} }

func NewPool(name string, depth int) *Pool { return &Pool{Name: name, Depth: depth} }

// IsValid reports whether another edge can currently be admitted.
func (p *Pool) IsValid(e *Edge) bool {
	if p == nil || p.Depth == 0 {
		return true
	}
	return p.currentUse < p.Depth
}

// EdgeScheduled records that e has started running out of this pool.
func (p *Pool) EdgeScheduled(e *Edge) {
	if p != nil && p.Depth != 0 {
		p.currentUse++
	}
}

// EdgeFinished releases e's slot in the pool.
func (p *Pool) EdgeFinished(e *Edge) {
	if p != nil && p.Depth != 0 {
		p.currentUse--
	}
}

// ShouldDelayEdge reports whether the pool is at capacity and a newly
// ready edge from it must wait rather than enter the ready queue now.
func (p *Pool) ShouldDelayEdge() bool {
	return p != nil && p.Depth != 0 && p.currentUse >= p.Depth
}

// DelayEdge queues e to be retried once the pool has a free slot.
func (p *Pool) DelayEdge(e *Edge) { p.delayed = append(p.delayed, e) }

// RetrieveReadyEdges moves as many delayed edges as now fit into the
// pool's capacity, calling add for each (which is expected to admit the
// edge into the build's ready queue).
func (p *Pool) RetrieveReadyEdges(add func(*Edge)) {
	if p == nil {
		return
	}
	for len(p.delayed) > 0 && p.IsValid(nil) {
		e := p.delayed[0]
		p.delayed = p.delayed[1:]
		p.EdgeScheduled(e)
		add(e)
	}
}
