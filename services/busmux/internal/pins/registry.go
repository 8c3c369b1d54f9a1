// Package pins tracks exclusive GPIO ownership across all bus controllers.
package pins

import (
	"math/bits"
	"sync"
)

// Registry hands out pins by mask. A reservation is all-or-nothing: if any
// pin in the mask is held, nothing is taken.
type Registry struct {
	mu     sync.Mutex
	used   uint64
	owners map[uint8]string // pin -> owner tag
	limit  uint64           // pins that exist on this board
}

// New returns a registry for GPIOs 0..count-1 (count <= 64).
func New(count int) *Registry {
	var limit uint64
	if count >= 64 {
		limit = ^uint64(0)
	} else if count > 0 {
		limit = (uint64(1) << uint(count)) - 1
	}
	return &Registry{owners: make(map[uint8]string), limit: limit}
}

func (r *Registry) Reserve(mask uint64, owner string) bool {
	if mask == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if mask&^r.limit != 0 || mask&r.used != 0 {
		return false
	}
	r.used |= mask
	for m := mask; m != 0; m &= m - 1 {
		r.owners[uint8(bits.TrailingZeros64(m))] = owner
	}
	return true
}

func (r *Registry) Release(mask uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for m := mask & r.used; m != 0; m &= m - 1 {
		delete(r.owners, uint8(bits.TrailingZeros64(m)))
	}
	r.used &^= mask
}

// Used returns the mask of reserved pins.
func (r *Registry) Used() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Owner reports who holds pin n.
func (r *Registry) Owner(n uint8) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.owners[n]
	return o, ok
}

// ByOwner groups reserved pins per owner tag.
func (r *Registry) ByOwner() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, 3)
	for n, o := range r.owners {
		out[o] |= 1 << n
	}
	return out
}
