package stats

// Ring is a fixed-capacity circular buffer. When full, Push overwrites the
// oldest entry. Ring is not safe for concurrent use; callers hold their own
// lock.
type Ring[T any] struct {
	entries []T
	head    int // index of the next write
	size    int
}

// NewRing returns a ring holding at most capacity entries. A capacity below 1
// is raised to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{entries: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry if the ring is full.
func (r *Ring[T]) Push(v T) {
	r.entries[r.head] = v
	r.head = (r.head + 1) % len(r.entries)
	if r.size < len(r.entries) {
		r.size++
	}
}

// ReplaceLast overwrites the newest entry. On an empty ring it pushes.
func (r *Ring[T]) ReplaceLast(v T) {
	if r.size == 0 {
		r.Push(v)
		return
	}
	r.entries[r.lastIndex()] = v
}

// Last returns the newest entry.
func (r *Ring[T]) Last() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.entries[r.lastIndex()], true
}

func (r *Ring[T]) lastIndex() int {
	return (r.head - 1 + len(r.entries)) % len(r.entries)
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.entries) }

// Items returns a copy of the entries ordered oldest to newest.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.size)
	start := (r.head - r.size + len(r.entries)) % len(r.entries)
	for i := 0; i < r.size; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}
