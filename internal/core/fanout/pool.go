// Package fanout bounds the number of simultaneously open handles in a streaming
// fan-out. Handles are kept in an LRU; the least recently used one is released
// through the close callback before a new one is opened, and reopened on its next use
package fanout

import (
	"errors"
	"sync"

	perr "extractrelay/internal/platform/errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// OpenFunc opens the handle for key. reopen is true when key was opened and
// evicted before, in which case the handle must continue rather than restart
type OpenFunc[K comparable, V any] func(key K, reopen bool) (V, error)

// CloseFunc flushes and releases a handle
type CloseFunc[K comparable, V any] func(key K, v V) error

// Pool is a bounded set of open handles keyed by K
type Pool[K comparable, V any] struct {
	mu      sync.Mutex
	cache   *lru.Cache[K, V]
	size    int
	open    OpenFunc[K, V]
	closeFn CloseFunc[K, V]

	seen    map[K]struct{}
	order   []K
	live    int
	maxLive int
	opens   int
	errs    []error
}

// New returns a pool holding at most size open handles
func New[K comparable, V any](size int, open OpenFunc[K, V], closeFn CloseFunc[K, V]) (*Pool[K, V], error) {
	if size < 1 {
		return nil, perr.InvalidArgf("fanout: size must be positive, got %d", size)
	}
	p := &Pool[K, V]{
		size:    size,
		open:    open,
		closeFn: closeFn,
		seen:    make(map[K]struct{}),
	}
	c, err := lru.NewWithEvict[K, V](size, p.onEvict)
	if err != nil {
		return nil, err
	}
	p.cache = c
	return p, nil
}

func (p *Pool[K, V]) onEvict(k K, v V) {
	p.live--
	if err := p.closeFn(k, v); err != nil {
		p.errs = append(p.errs, err)
	}
}

// Get returns the open handle for key, opening or reopening it as needed
func (p *Pool[K, V]) Get(key K) (V, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.cache.Get(key); ok {
		return v, nil
	}
	if err := p.firstErr(); err != nil {
		var zero V
		return zero, err
	}
	if p.cache.Len() >= p.size {
		p.cache.RemoveOldest()
		if err := p.firstErr(); err != nil {
			var zero V
			return zero, err
		}
	}

	_, reopen := p.seen[key]
	v, err := p.open(key, reopen)
	if err != nil {
		var zero V
		return zero, err
	}
	if !reopen {
		p.seen[key] = struct{}{}
		p.order = append(p.order, key)
	}
	p.opens++
	p.live++
	p.maxLive = max(p.maxLive, p.live)
	p.cache.Add(key, v)
	return v, nil
}

func (p *Pool[K, V]) firstErr() error {
	if len(p.errs) == 0 {
		return nil
	}
	return p.errs[0]
}

// Close releases every open handle and reports any close failure seen over the pool's life
func (p *Pool[K, V]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
	return errors.Join(p.errs...)
}

// Keys returns every key ever opened, in first-use order
func (p *Pool[K, V]) Keys() []K {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]K, len(p.order))
	copy(out, p.order)
	return out
}

// Stats reports handle usage
type Stats struct {
	Size    int // configured ceiling
	Open    int // currently open
	MaxOpen int // high-water mark
	Opens   int // total opens including reopens
	Keys    int // distinct keys
}

// Stats returns a snapshot of handle usage
func (p *Pool[K, V]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Size: p.size, Open: p.live, MaxOpen: p.maxLive, Opens: p.opens, Keys: len(p.order)}
}
