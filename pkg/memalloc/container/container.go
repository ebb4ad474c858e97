// Package container implements the std-container adapter (spec
// component C11): a value-typed, generic allocator handle that gives a
// raw allocator the allocate(n)/deallocate(p,n) surface a container
// expects, plus the propagation and equality rules containers consult
// on copy/move/swap.
package container

import (
	"reflect"
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/storage"
)

// CopyPropagator is implemented by raw allocators (such as the joint
// allocator) that must reject propagation on container copy
// construction: SelectOnContainerCopyConstruction returns the allocator
// a freshly copy-constructed container should use instead of this one.
type CopyPropagator interface {
	SelectOnContainerCopyConstruction() memalloc.Allocator
}

// Allocator adapts Raw for use by a generic container of T: Allocate/
// Deallocate take an element count, not a byte size, the way a
// standard-library-style allocator does.
type Allocator[T any] struct {
	Raw memalloc.Allocator

	// Propagation traits. New sets all three to true; they are not
	// derived from Raw, whether or not it implements CopyPropagator.
	PropagateOnCopyAssignment bool
	PropagateOnMoveAssignment bool
	PropagateOnSwap           bool
}

// New wraps raw as a container allocator for element type T, with every
// propagation trait defaulted to true.
func New[T any](raw memalloc.Allocator) *Allocator[T] {
	return &Allocator[T]{
		Raw:                       raw,
		PropagateOnCopyAssignment: true,
		PropagateOnMoveAssignment: true,
		PropagateOnSwap:           true,
	}
}

func elemLayout[T any]() (size, alignment int) {
	var zero T
	return int(unsafe.Sizeof(zero)), int(unsafe.Alignof(zero))
}

// Allocate returns storage for n contiguous elements: n == 1 routes to
// AllocateNode, anything else to AllocateArray.
func (a *Allocator[T]) Allocate(n int) *T {
	size, alignment := elemLayout[T]()

	var p unsafe.Pointer
	if n == 1 {
		p = a.Raw.AllocateNode(size, alignment)
	} else {
		p = a.Raw.AllocateArray(n, size, alignment)
	}

	return (*T)(p)
}

// Deallocate returns storage previously obtained from Allocate(n).
func (a *Allocator[T]) Deallocate(p *T, n int) {
	size, alignment := elemLayout[T]()

	if n == 1 {
		a.Raw.DeallocateNode(unsafe.Pointer(p), size, alignment)
		return
	}
	a.Raw.DeallocateArray(unsafe.Pointer(p), n, size, alignment)
}

func pointerIdentity(a memalloc.Allocator) (uintptr, bool) {
	v := reflect.ValueOf(a)
	if v.Kind() == reflect.Ptr {
		return v.Pointer(), true
	}
	return 0, false
}

// Equal implements the spec's allocator equality rule: always true for
// a stateless Raw, address comparison for a stateful-and-addressable
// Raw, and a delegated comparable-value check otherwise (the "shared"
// reference shape).
func (a *Allocator[T]) Equal(other *Allocator[T]) bool {
	if storage.IsStateless(a.Raw) && storage.IsStateless(other.Raw) {
		return true
	}

	pa, oka := pointerIdentity(a.Raw)
	pb, okb := pointerIdentity(other.Raw)
	if oka && okb {
		return pa == pb
	}

	return reflect.DeepEqual(a.Raw, other.Raw)
}

// SelectOnContainerCopyConstruction returns the allocator a freshly
// copy-constructed container should adopt: Raw's own choice if it
// implements CopyPropagator (the joint allocator uses this to refuse
// propagation), else this same allocator.
func (a *Allocator[T]) SelectOnContainerCopyConstruction() *Allocator[T] {
	cp, ok := a.Raw.(CopyPropagator)
	if !ok {
		return a
	}

	return &Allocator[T]{
		Raw:                       cp.SelectOnContainerCopyConstruction(),
		PropagateOnCopyAssignment: a.PropagateOnCopyAssignment,
		PropagateOnMoveAssignment: a.PropagateOnMoveAssignment,
		PropagateOnSwap:           a.PropagateOnSwap,
	}
}
