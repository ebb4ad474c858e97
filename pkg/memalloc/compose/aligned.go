// Package compose implements the composition adapters (spec component
// C10): small allocator-wrapping allocators that each change one
// dimension of behavior — minimum alignment, fallback routing,
// size-based segregation, tracking, or thread safety — while forwarding
// everything else to the wrapped allocator.
package compose

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
)

// Aligned forwards every call to its wrapped allocator, raising the
// requested alignment to at least MinAlignment.
type Aligned struct {
	Alloc        memalloc.Composable
	MinAlignment int
}

var _ memalloc.Composable = Aligned{}

func (a Aligned) bump(alignment int) int {
	if alignment < a.MinAlignment {
		return a.MinAlignment
	}
	return alignment
}

func (a Aligned) AllocateNode(size, alignment int) unsafe.Pointer {
	return a.Alloc.AllocateNode(size, a.bump(alignment))
}

func (a Aligned) AllocateArray(count, size, alignment int) unsafe.Pointer {
	return a.Alloc.AllocateArray(count, size, a.bump(alignment))
}

func (a Aligned) DeallocateNode(p unsafe.Pointer, size, alignment int) {
	a.Alloc.DeallocateNode(p, size, a.bump(alignment))
}

func (a Aligned) DeallocateArray(p unsafe.Pointer, count, size, alignment int) {
	a.Alloc.DeallocateArray(p, count, size, a.bump(alignment))
}

func (a Aligned) TryAllocateNode(size, alignment int) unsafe.Pointer {
	return a.Alloc.TryAllocateNode(size, a.bump(alignment))
}

func (a Aligned) TryAllocateArray(count, size, alignment int) unsafe.Pointer {
	return a.Alloc.TryAllocateArray(count, size, a.bump(alignment))
}

func (a Aligned) TryDeallocateNode(p unsafe.Pointer, size, alignment int) bool {
	return a.Alloc.TryDeallocateNode(p, size, a.bump(alignment))
}

func (a Aligned) TryDeallocateArray(p unsafe.Pointer, count, size, alignment int) bool {
	return a.Alloc.TryDeallocateArray(p, count, size, a.bump(alignment))
}

func (a Aligned) MaxNodeSize() int  { return a.Alloc.MaxNodeSize() }
func (a Aligned) MaxArraySize() int { return a.Alloc.MaxArraySize() }

func (a Aligned) MaxAlignment() int {
	if m := a.Alloc.MaxAlignment(); m > a.MinAlignment {
		return m
	}
	return a.MinAlignment
}
