// Package ids provides a monotone ID allocator used to hand out dense,
// never-recycled identifiers for sections and symbols within an Object, and
// again (from a fresh allocator) for the final ELF AST's own ID namespace.
package ids

// Integer is any integer-like ID type an Allocator can hand out.
type Integer interface {
	~int | ~int32 | ~int64
}

// Allocator is a monotone counter. It never reuses an ID, even after the
// object it named is removed, so stale references are easy to spot as bugs
// rather than silently aliasing a new object.
type Allocator[T Integer] struct {
	next T
}

// New creates an Allocator whose first Next() returns zero.
func New[T Integer]() *Allocator[T] {
	return &Allocator[T]{}
}

// Next returns the next unused ID and advances the counter.
func (a *Allocator[T]) Next() T {
	id := a.next
	a.next++
	return id
}

// Len returns the number of IDs handed out so far.
func (a *Allocator[T]) Len() T {
	return a.next
}
