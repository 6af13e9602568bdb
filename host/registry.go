package host

import "fmt"

// VolumeHandle names a mounted volume. A handle outlives its volume: once the
// volume is torn down every lookup with the handle fails.
type VolumeHandle struct {
	Index      int
	Generation uint32
}

// IsZero reports whether h was never issued.
func (h VolumeHandle) IsZero() bool { return h.Generation == 0 }

// String returns the handle in index.generation form.
func (h VolumeHandle) String() string {
	return fmt.Sprintf("%d.%d", h.Index, h.Generation)
}

// slot is one entry of a registry.
type slot[T any] struct {
	value      *T
	generation uint32 // Bumped on every insert and removal
	next       int    // Next free slot index (-1 if none)
}

// registry is a fixed-capacity slot map. Indices are stable for the lifetime
// of an entry and generations make stale handles detectable after a slot is
// reused. It is not safe for concurrent use.
type registry[T any] struct {
	slots    []slot[T]
	freeHead int
	live     int
}

func newRegistry[T any](capacity int) *registry[T] {
	r := &registry[T]{slots: make([]slot[T], capacity)}
	for i := range r.slots {
		r.slots[i].next = i + 1
	}
	if capacity > 0 {
		r.slots[capacity-1].next = -1
	} else {
		r.freeHead = -1
	}
	return r
}

// insert stores v in a free slot. Returns false when the registry is full.
func (r *registry[T]) insert(v *T) (VolumeHandle, bool) {
	if r.freeHead < 0 {
		return VolumeHandle{}, false
	}
	idx := r.freeHead
	s := &r.slots[idx]
	r.freeHead = s.next

	s.value = v
	s.generation++
	s.next = -1
	r.live++
	return VolumeHandle{Index: idx, Generation: s.generation}, true
}

// get returns the value stored under h, or nil if h is stale.
func (r *registry[T]) get(h VolumeHandle) *T {
	if h.Index < 0 || h.Index >= len(r.slots) {
		return nil
	}
	s := &r.slots[h.Index]
	if s.value == nil || s.generation != h.Generation {
		return nil
	}
	return s.value
}

// remove frees the slot of h. Returns false if h is stale.
func (r *registry[T]) remove(h VolumeHandle) bool {
	if r.get(h) == nil {
		return false
	}
	s := &r.slots[h.Index]
	s.value = nil
	s.generation++
	s.next = r.freeHead
	r.freeHead = h.Index
	r.live--
	return true
}

// len returns the number of live entries.
func (r *registry[T]) len() int { return r.live }

// each calls fn for every live entry in index order until fn returns false.
func (r *registry[T]) each(fn func(VolumeHandle, *T) bool) {
	for i := range r.slots {
		s := &r.slots[i]
		if s.value == nil {
			continue
		}
		if !fn(VolumeHandle{Index: i, Generation: s.generation}, s.value) {
			return
		}
	}
}
