package capture

import "sync"

// Signal is a broadcast fan-out. Emit never blocks: a subscriber whose queue is full misses the value.
type Signal[T any] struct {
	mu   sync.RWMutex
	subs map[int]chan T
	next int
	size int
}

// NewSignal returns a signal whose subscribers buffer up to size values.
func NewSignal[T any](size int) *Signal[T] {
	if size <= 0 {
		size = 16
	}
	return &Signal[T]{subs: make(map[int]chan T), size: size}
}

// Subscribe registers a new subscriber. The returned cancel func closes the channel.
func (s *Signal[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, s.size)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Emit delivers v to every subscriber with room in its queue.
func (s *Signal[T]) Emit(v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}
