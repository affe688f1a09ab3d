package scenecache

import "github.com/google/uuid"

// ExclusionRing is a per-job fixed-size ring of recently reused entry ids,
// enforcing the no-repeat window so consecutive segments don't render with
// the identical cached image. A size of 0 disables exclusion entirely.
type ExclusionRing struct {
	window []uuid.UUID
	size   int
}

// NewExclusionRing creates a ring of the given window size.
func NewExclusionRing(size int) *ExclusionRing {
	if size < 0 {
		size = 0
	}
	return &ExclusionRing{size: size}
}

// Add records a reused entry id, evicting the oldest when the window is
// full.
func (r *ExclusionRing) Add(id uuid.UUID) {
	if r == nil || r.size == 0 {
		return
	}
	r.window = append(r.window, id)
	if len(r.window) > r.size {
		r.window = r.window[len(r.window)-r.size:]
	}
}

// Contains reports whether id is inside the current window.
func (r *ExclusionRing) Contains(id uuid.UUID) bool {
	if r == nil || r.size == 0 {
		return false
	}
	for _, w := range r.window {
		if w == id {
			return true
		}
	}
	return false
}

// IDs returns the current window contents, oldest first.
func (r *ExclusionRing) IDs() []uuid.UUID {
	if r == nil {
		return nil
	}
	out := make([]uuid.UUID, len(r.window))
	copy(out, r.window)
	return out
}
