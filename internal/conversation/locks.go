package conversation

import "sync"

// Locks provides a per-conversation exclusive section. Two turns against the
// same conversation id serialize for the whole rewrite-through-persist span;
// turns on different ids run fully in parallel.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until the exclusive section for id is held and returns the
// release func. Entries are dropped once the last holder releases.
func (l *Locks) Acquire(id string) func() {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}
