package jobs

// pendingSet is the insertion-ordered set of job ids a single wait call is
// still polling. It is never shared between calls.
type pendingSet struct {
	order   []int64
	members map[int64]struct{}
}

func newPendingSet(ids []int64) *pendingSet {
	p := &pendingSet{
		order:   make([]int64, 0, len(ids)),
		members: make(map[int64]struct{}, len(ids)),
	}
	for _, id := range ids {
		if _, ok := p.members[id]; ok {
			continue
		}
		p.members[id] = struct{}{}
		p.order = append(p.order, id)
	}
	return p
}

func (p *pendingSet) has(id int64) bool {
	_, ok := p.members[id]
	return ok
}

func (p *pendingSet) remove(id int64) {
	if _, ok := p.members[id]; !ok {
		return
	}
	delete(p.members, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

func (p *pendingSet) empty() bool { return len(p.order) == 0 }

func (p *pendingSet) len() int { return len(p.order) }

// first returns the oldest pending id. The set must not be empty.
func (p *pendingSet) first() int64 { return p.order[0] }

// ids returns a copy of the pending ids in insertion order.
func (p *pendingSet) ids() []int64 {
	out := make([]int64, len(p.order))
	copy(out, p.order)
	return out
}
