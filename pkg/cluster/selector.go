// Package cluster implements MemberSelector: the iterator ClientConnection
// uses to pick which server to try next.
package cluster

import (
	"sync"

	"github.com/cuemby/raftsession/pkg/ids"
)

// Selector iterates over cluster members biased toward a hinted leader. If
// a leader hint is set it is yielded first; the remaining members follow in
// the order they were supplied, skipping the leader. It is reset to the
// start of the sequence either in place (Reset) or with a brand new
// membership view (ResetView).
type Selector struct {
	mu      sync.RWMutex
	leader  ids.MemberID
	servers []ids.MemberID
	order   []ids.MemberID
	cursor  int
}

// New creates a Selector with an initial membership view and leader hint.
// leader may be the zero value if no leader is known yet.
func New(leader ids.MemberID, servers []ids.MemberID) *Selector {
	s := &Selector{}
	s.ResetView(leader, servers)
	return s
}

// Leader returns the current leader hint, which may be the zero value.
func (s *Selector) Leader() ids.MemberID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leader
}

// Servers returns a copy of the current membership view.
func (s *Selector) Servers() []ids.MemberID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.MemberID, len(s.servers))
	copy(out, s.servers)
	return out
}

// HasNext reports whether Next would return another candidate without a
// Reset/ResetView in between.
func (s *Selector) HasNext() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor < len(s.order)
}

// Next returns the next candidate member, biased toward the leader hint
// first. ok is false once the sequence is exhausted.
func (s *Selector) Next() (member ids.MemberID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.order) {
		return "", false
	}
	member = s.order[s.cursor]
	s.cursor++
	return member, true
}

// Reset returns the iteration to the start of the current sequence without
// changing the membership view or leader hint.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}

// ResetView atomically adopts a new membership view and leader hint and
// starts iteration over from the beginning. Any iteration in progress is
// discarded.
func (s *Selector) ResetView(leader ids.MemberID, servers []ids.MemberID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = leader
	s.servers = make([]ids.MemberID, len(servers))
	copy(s.servers, servers)
	s.order = buildOrder(leader, s.servers)
	s.cursor = 0
}

func buildOrder(leader ids.MemberID, servers []ids.MemberID) []ids.MemberID {
	order := make([]ids.MemberID, 0, len(servers)+1)
	if leader != "" {
		order = append(order, leader)
	}
	for _, m := range servers {
		if m == leader {
			continue
		}
		order = append(order, m)
	}
	return order
}
