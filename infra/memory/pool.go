package memory

import "sync"

// Pool is a typed object pool. Objects handed back through Put are
// cleared by the reset hook before reuse.
type Pool[T any] struct {
	p     *sync.Pool
	reset func(*T)
}

func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}
