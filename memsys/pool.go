package memsys

import "sync"

// Pool is a bounded, generic object arena with free-list reuse: it grows to
// Max live objects and never shrinks under load, and PeekInUse lets the
// endpoint manager's flush path walk every in-flight object (work requests,
// payload states) when tearing resources down during Reset/Shutdown.
type Pool[T any] struct {
	mu     sync.Mutex
	free   []*T
	inUse  map[*T]struct{}
	newFn  func() *T
	max    int
}

func NewPool[T any](max int, newFn func() *T) *Pool[T] {
	return &Pool[T]{
		inUse: make(map[*T]struct{}, max),
		newFn: newFn,
		max:   max,
	}
}

// Get returns a reused or freshly constructed object; ok is false once the
// pool has Max objects in use, signalling the caller to treat this as
// QueueFull/"not ready" and retry later.
func (p *Pool[T]) Get() (v *T, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		v = p.free[n-1]
		p.free = p.free[:n-1]
	} else if len(p.inUse) < p.max {
		v = p.newFn()
	} else {
		return nil, false
	}
	p.inUse[v] = struct{}{}
	return v, true
}

func (p *Pool[T]) Put(v *T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inUse[v]; !ok {
		return
	}
	delete(p.inUse, v)
	p.free = append(p.free, v)
}

// PeekInUse invokes f for every object currently checked out, in no
// particular order; f must not call Get/Put on this pool.
func (p *Pool[T]) PeekInUse(f func(*T)) {
	p.mu.Lock()
	live := make([]*T, 0, len(p.inUse))
	for v := range p.inUse {
		live = append(live, v)
	}
	p.mu.Unlock()
	for _, v := range live {
		f(v)
	}
}

func (p *Pool[T]) InUseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

func (p *Pool[T]) Cap() int { return p.max }
