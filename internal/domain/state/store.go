package state

import "sync"

// Store owns the current State. All mutations go through Dispatch, which
// applies Reduce under a lock and then wakes subscribers.
type Store struct {
	mu      sync.RWMutex
	current State

	subsMu sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// NewStore creates a store holding Initial().
func NewStore() *Store {
	return &Store{
		current: Initial(),
		subs:    make(map[int]chan struct{}),
	}
}

// State returns the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Dispatch applies a single action and returns the resulting state.
func (s *Store) Dispatch(action Action) State {
	return s.DispatchAll(action)
}

// DispatchAll applies the actions in order as one logical update: readers
// never observe an intermediate state and subscribers are notified once.
func (s *Store) DispatchAll(actions ...Action) State {
	s.mu.Lock()
	next := s.current
	for _, action := range actions {
		next = Reduce(next, action)
	}
	s.current = next
	s.mu.Unlock()

	s.notify()
	return next
}

// Subscribe returns a channel that receives a signal after every dispatch.
// Signals coalesce: a slow reader sees one pending signal and should read
// State() to get the latest value. The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
