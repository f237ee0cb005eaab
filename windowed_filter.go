// Windowed filter tracking a single best value.
//
// Unlike the three-estimate Kathleen Nichols filter used by BBRv1, this
// keeps only the current best and its timestamp: a new sample replaces
// the best when it supersedes it or when the window has expired.

package bbr

import "golang.org/x/exp/constraints"

// WindowedFilter retains the best value seen over a sliding window.
// T is the timestamp type; expiry uses the type's own subtraction, so
// unsigned timestamp types get well defined wraparound behavior.
type WindowedFilter[V any, T constraints.Integer] struct {
	supersedes   func(newValue, current V) bool
	windowLength T
	currentValue V
	lastUpdated  T
	valid        bool
}

// NewWindowedFilter creates a filter with a custom supersedes predicate.
func NewWindowedFilter[V any, T constraints.Integer](windowLength T, supersedes func(newValue, current V) bool) *WindowedFilter[V, T] {
	return &WindowedFilter[V, T]{
		supersedes:   supersedes,
		windowLength: windowLength,
	}
}

// NewWindowedMaxFilter creates a filter retaining the window maximum.
// Equal samples supersede, refreshing the timestamp.
func NewWindowedMaxFilter[V constraints.Ordered, T constraints.Integer](windowLength T) *WindowedFilter[V, T] {
	return NewWindowedFilter[V, T](windowLength, func(newValue, current V) bool {
		return newValue >= current
	})
}

// NewWindowedMinFilter creates a filter retaining the window minimum.
// Equal samples supersede, refreshing the timestamp.
func NewWindowedMinFilter[V constraints.Ordered, T constraints.Integer](windowLength T) *WindowedFilter[V, T] {
	return NewWindowedFilter[V, T](windowLength, func(newValue, current V) bool {
		return newValue <= current
	})
}

// Update records a new sample taken at now.
func (f *WindowedFilter[V, T]) Update(value V, now T) {
	if !f.valid || f.expiredAt(now) || f.supersedes(value, f.currentValue) {
		f.set(value, now)
	}
}

// Value returns the retained value, if any.
func (f *WindowedFilter[V, T]) Value() (V, bool) {
	return f.currentValue, f.valid
}

// LastUpdated returns the timestamp of the retained value, if any.
func (f *WindowedFilter[V, T]) LastUpdated() (T, bool) {
	return f.lastUpdated, f.valid
}

// WindowExpired reports whether the retained value has aged out.
// An empty filter has nothing to expire.
func (f *WindowedFilter[V, T]) WindowExpired(now T) bool {
	return f.valid && f.expiredAt(now)
}

// Reset discards the retained value.
func (f *WindowedFilter[V, T]) Reset() {
	var zeroV V
	var zeroT T
	f.currentValue = zeroV
	f.lastUpdated = zeroT
	f.valid = false
}

func (f *WindowedFilter[V, T]) expiredAt(now T) bool {
	return now-f.lastUpdated >= f.windowLength
}

func (f *WindowedFilter[V, T]) set(value V, now T) {
	f.currentValue = value
	f.lastUpdated = now
	f.valid = true
}

// touch refreshes the timestamp without changing the value.
func (f *WindowedFilter[V, T]) touch(now T) {
	if f.valid {
		f.lastUpdated = now
	}
}
