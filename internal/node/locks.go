package node

import "sync"

// Locks hands out one exclusive region per node id. A region exists only
// while somebody holds or waits for it, so the table never grows beyond the
// number of nodes currently in use.
type Locks struct {
	mu      sync.Mutex
	regions map[string]*region
}

type region struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{regions: make(map[string]*region)}
}

// Lock acquires the exclusive region for id and returns its release func.
// Regions for different ids never contend.
func (l *Locks) Lock(id string) (unlock func()) {
	l.mu.Lock()
	r, ok := l.regions[id]
	if !ok {
		r = &region{}
		l.regions[id] = r
	}
	r.refs++
	l.mu.Unlock()

	r.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Unlock()
			l.mu.Lock()
			r.refs--
			if r.refs == 0 {
				delete(l.regions, id)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of live regions.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.regions)
}
