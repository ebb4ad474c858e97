// Package joint implements the joint allocator (spec component C12): a
// single block sized to hold one object of type T plus a fixed amount
// of extra space that object is allowed to carve allocations out of.
//
// Go has no placement-construction, so the header the spec lays out as
// "[object slot | bump stack][additional bytes]" inside the raw block
// keeps only the object slot and the additional bytes in that block;
// the bump-stack bookkeeping (top/end) lives in the JointAllocator
// value itself, not inside the block.
package joint

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/provider"
	"github.com/flier/memalloc/pkg/xunsafe"
	"github.com/flier/memalloc/pkg/xunsafe/layout"
)

// JointAllocator services exactly one object's internal allocation
// requests out of the additional bytes following that object in its
// joint block. AllocateNode and AllocateArray between them may succeed
// exactly once, total; every later call, and any call whose size does
// not fit what's left, raises OutOfFixedMemory.
type JointAllocator struct {
	top, end xunsafe.Addr[byte]
	calls    int
	info     memalloc.Info
}

var _ memalloc.Allocator = (*JointAllocator)(nil)

func (a *JointAllocator) reserve(size, alignment int) xunsafe.Addr[byte] {
	a.calls++
	if a.calls > 1 {
		panic(&memalloc.OutOfFixedMemory{Info: a.info, Requested: size})
	}

	offset := a.top.Padding(alignment)
	need := offset + size
	if need > a.end.Sub(a.top) {
		panic(&memalloc.OutOfFixedMemory{Info: a.info, Requested: size})
	}

	p := a.top.ByteAdd(offset)
	a.top = p.ByteAdd(size)
	return p
}

func (a *JointAllocator) AllocateNode(size, alignment int) unsafe.Pointer {
	return unsafe.Pointer(a.reserve(size, alignment).AssertValid())
}

func (a *JointAllocator) AllocateArray(count, size, alignment int) unsafe.Pointer {
	return unsafe.Pointer(a.reserve(count*size, alignment).AssertValid())
}

// DeallocateNode is a no-op: the whole joint block is freed at once
// when its owning Ptr is closed.
func (a *JointAllocator) DeallocateNode(p unsafe.Pointer, size, alignment int) {}

// DeallocateArray is a no-op, for the same reason as DeallocateNode.
func (a *JointAllocator) DeallocateArray(p unsafe.Pointer, count, size, alignment int) {}

func (a *JointAllocator) MaxNodeSize() int {
	if a.calls > 0 {
		return 0
	}
	return a.end.Sub(a.top)
}

func (a *JointAllocator) MaxArraySize() int { return a.MaxNodeSize() }
func (a *JointAllocator) MaxAlignment() int { return memalloc.MaxAlign }

func (a *JointAllocator) Info() memalloc.Info { return a.info }

// SelectOnContainerCopyConstruction always panics: a joint allocator is
// bound to the one object it was constructed for, and a container using
// one as its allocator must never be propagated by copy. Constructing a
// fresh joint object is the only way to get an independent copy.
func (a *JointAllocator) SelectOnContainerCopyConstruction() memalloc.Allocator {
	panic("joint: allocator cannot be propagated by copy; construct a new joint object instead")
}

// Ptr owns a single heap block holding one T plus extraSize additional
// bytes that T's construction may carve allocations out of via the
// JointAllocator passed to build.
type Ptr[T any] struct {
	provider  provider.Provider
	block     unsafe.Pointer
	blockSize int
	alignment int
	obj       *T
	allocator *JointAllocator
}

// New allocates a block sized for one T plus extraSize bytes from p,
// then calls build with a JointAllocator scoped to those extra bytes to
// produce the value placed into the object slot.
func New[T any](p provider.Provider, extraSize int, build func(*JointAllocator) T) (*Ptr[T], error) {
	var zero T
	objSize := int(unsafe.Sizeof(zero))
	objAlign := int(unsafe.Alignof(zero))

	alignment := objAlign
	if memalloc.MaxAlign > alignment {
		alignment = memalloc.MaxAlign
	}

	objRegion := layout.RoundUp(objSize, alignment)
	total := objRegion + extraSize

	mem, ok := p.Allocate(total, alignment)
	if !ok {
		return nil, &memalloc.OutOfMemory{Info: memalloc.NameOf(p), Requested: total}
	}

	base := xunsafe.AddrOf((*byte)(mem))
	alloc := &JointAllocator{
		top:  base.ByteAdd(objRegion),
		end:  base.ByteAdd(total),
		info: memalloc.Info{Name: "joint_allocator", Address: mem},
	}

	obj := (*T)(mem)
	*obj = build(alloc)

	return &Ptr[T]{
		provider:  p,
		block:     mem,
		blockSize: total,
		alignment: alignment,
		obj:       obj,
		allocator: alloc,
	}, nil
}

// Get returns the joint object.
func (jp *Ptr[T]) Get() *T { return jp.obj }

// Allocator returns the allocator that serviced this object's
// construction-time internal allocation.
func (jp *Ptr[T]) Allocator() *JointAllocator { return jp.allocator }

// CapacityUsed reports how many bytes of the joint block have been
// claimed so far, the object's own aligned region included; Clone sizes
// a copy's block to this figure.
func (jp *Ptr[T]) CapacityUsed() int {
	return jp.allocator.top.Sub(xunsafe.AddrOf((*byte)(jp.block)))
}

// Close releases the entire joint block. The object and anything it
// allocated through its JointAllocator become invalid.
func (jp *Ptr[T]) Close() {
	if jp.block == nil {
		return
	}
	jp.provider.Deallocate(jp.block, jp.blockSize, jp.alignment)
	jp.block = nil
}

// Clone builds a new joint object of the same type, sizing its block to
// exactly src's CapacityUsed instead of src's original extraSize, and
// running build again to copy-construct the clone's internals.
func Clone[T any](src *Ptr[T], p provider.Provider, build func(*JointAllocator) T) (*Ptr[T], error) {
	objSize := int(unsafe.Sizeof(*src.obj))
	extra := src.CapacityUsed() - layout.RoundUp(objSize, src.alignment)
	if extra < 0 {
		extra = 0
	}
	return New[T](p, extra, build)
}
