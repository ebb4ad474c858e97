package compose

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
)

// Segregatable is a raw allocator plus the predicates a BinarySegregator
// consults to decide whether a request belongs to it.
type Segregatable interface {
	memalloc.Allocator
	UseAllocateNode(size, alignment int) bool
	UseAllocateArray(count, size, alignment int) bool
}

// ThresholdSegregatable routes node requests of size <= Limit and array
// requests of count*size <= Limit to the embedded allocator; everything
// else is declined. Embedding memalloc.Allocator promotes its methods,
// so only the two predicates need writing.
type ThresholdSegregatable struct {
	memalloc.Allocator
	Limit int
}

var _ Segregatable = ThresholdSegregatable{}

// NewThresholdSegregatable builds a ThresholdSegregatable routing
// requests at or under limit bytes to a.
func NewThresholdSegregatable(limit int, a memalloc.Allocator) ThresholdSegregatable {
	return ThresholdSegregatable{Allocator: a, Limit: limit}
}

func (t ThresholdSegregatable) UseAllocateNode(size, alignment int) bool { return size <= t.Limit }

func (t ThresholdSegregatable) UseAllocateArray(count, size, alignment int) bool {
	return count*size <= t.Limit
}

// BinarySegregator routes a request to Head if Head.UseAllocate*
// accepts it, else to Tail — which may itself be another
// BinarySegregator, forming a chain, or a terminal allocator such as
// NullAllocator.
type BinarySegregator struct {
	Head Segregatable
	Tail memalloc.Allocator
}

var _ memalloc.Allocator = BinarySegregator{}

func (s BinarySegregator) AllocateNode(size, alignment int) unsafe.Pointer {
	if s.Head.UseAllocateNode(size, alignment) {
		return s.Head.AllocateNode(size, alignment)
	}
	return s.Tail.AllocateNode(size, alignment)
}

func (s BinarySegregator) AllocateArray(count, size, alignment int) unsafe.Pointer {
	if s.Head.UseAllocateArray(count, size, alignment) {
		return s.Head.AllocateArray(count, size, alignment)
	}
	return s.Tail.AllocateArray(count, size, alignment)
}

func (s BinarySegregator) DeallocateNode(p unsafe.Pointer, size, alignment int) {
	if s.Head.UseAllocateNode(size, alignment) {
		s.Head.DeallocateNode(p, size, alignment)
		return
	}
	s.Tail.DeallocateNode(p, size, alignment)
}

func (s BinarySegregator) DeallocateArray(p unsafe.Pointer, count, size, alignment int) {
	if s.Head.UseAllocateArray(count, size, alignment) {
		s.Head.DeallocateArray(p, count, size, alignment)
		return
	}
	s.Tail.DeallocateArray(p, count, size, alignment)
}

func (s BinarySegregator) MaxNodeSize() int {
	return max(s.Head.MaxNodeSize(), s.Tail.MaxNodeSize())
}

func (s BinarySegregator) MaxArraySize() int {
	return max(s.Head.MaxArraySize(), s.Tail.MaxArraySize())
}

func (s BinarySegregator) MaxAlignment() int {
	return max(s.Head.MaxAlignment(), s.Tail.MaxAlignment())
}

// NullAllocator always fails allocation with OutOfMemory; it is the
// conventional terminal tail of a segregator chain that should never be
// reached in practice.
type NullAllocator struct{}

var _ memalloc.Allocator = NullAllocator{}

func (NullAllocator) AllocateNode(size, alignment int) unsafe.Pointer {
	panic(&memalloc.OutOfMemory{Info: memalloc.Info{Name: "null_allocator"}, Requested: size})
}

func (NullAllocator) AllocateArray(count, size, alignment int) unsafe.Pointer {
	panic(&memalloc.OutOfMemory{Info: memalloc.Info{Name: "null_allocator"}, Requested: count * size})
}

func (NullAllocator) DeallocateNode(p unsafe.Pointer, size, alignment int) {}

func (NullAllocator) DeallocateArray(p unsafe.Pointer, count, size, alignment int) {}

func (NullAllocator) MaxNodeSize() int  { return 0 }
func (NullAllocator) MaxArraySize() int { return 0 }
func (NullAllocator) MaxAlignment() int { return 1 }
