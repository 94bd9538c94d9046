package docstore

import "sync"

// Subscription is a latest-value-wins stream of snapshots for one standing
// query. It buffers a single snapshot: a newer one replaces an unconsumed
// older one, so a slow reader always sees the most recent full result set.
type Subscription struct {
	mu     sync.Mutex
	ch     chan Snapshot
	closed bool
	err    error
	once   sync.Once
	stop   func()
}

func newSubscription(stop func()) *Subscription {
	if stop == nil {
		stop = func() {}
	}
	return &Subscription{ch: make(chan Snapshot, 1), stop: stop}
}

// Snapshots returns the stream. It is closed after Close or a backend failure.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.ch
}

// Err returns the failure that ended the stream, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the backend listener. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeWith(nil)
}

func (s *Subscription) fail(err error) {
	s.closeWith(err)
}

func (s *Subscription) closeWith(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = err
		close(s.ch)
		s.mu.Unlock()
		s.stop()
	})
}

// push offers snap, displacing any unread snapshot. Reports false once closed.
func (s *Subscription) push(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- snap:
			return true
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}
