package feed

import (
	"sync"

	kit "scoutbot/internal/transport"
)

// Subscribers is the set of chats receiving new-movie notifications.
// Iteration order is subscription order.
type Subscribers struct {
	mu    sync.Mutex
	order []kit.ChatTarget
	index map[kit.ChatTarget]struct{}
}

func NewSubscribers() *Subscribers {
	return &Subscribers{index: map[kit.ChatTarget]struct{}{}}
}

// Add inserts to and reports whether it was absent.
func (s *Subscribers) Add(to kit.ChatTarget) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[to]; ok {
		return false
	}
	s.index[to] = struct{}{}
	s.order = append(s.order, to)
	return true
}

// Remove deletes to. It reports whether it was present and how many remain.
func (s *Subscribers) Remove(to kit.ChatTarget) (removed bool, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[to]; !ok {
		return false, len(s.order)
	}
	delete(s.index, to)
	for i, t := range s.order {
		if t == to {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, len(s.order)
}

func (s *Subscribers) Contains(to kit.ChatTarget) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[to]
	return ok
}

func (s *Subscribers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Snapshot returns a point-in-time copy safe to iterate without holding the lock.
func (s *Subscribers) Snapshot() []kit.ChatTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]kit.ChatTarget(nil), s.order...)
}
