package provider

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
)

// Raw adapts a Provider into a full memalloc.Composable, the way a
// std::allocator adapts malloc: AllocateArray is just
// AllocateNode(count*size), and every Deallocate* is a plain forward.
type Raw struct {
	Provider Provider
}

var _ memalloc.Composable = Raw{}

// NewHeapAllocator is a convenience Raw wrapping Heap, the most common
// terminal allocator at the bottom of a composition chain.
func NewHeapAllocator() Raw { return Raw{Provider: Heap{}} }

func (r Raw) AllocateNode(size, alignment int) unsafe.Pointer {
	p, ok := r.Provider.Allocate(size, alignment)
	if !ok {
		panic(&memalloc.OutOfMemory{Info: memalloc.NameOf(r.Provider), Requested: size})
	}
	return p
}

func (r Raw) AllocateArray(count, size, alignment int) unsafe.Pointer {
	return r.AllocateNode(count*size, alignment)
}

func (r Raw) DeallocateNode(p unsafe.Pointer, size, alignment int) {
	r.Provider.Deallocate(p, size, alignment)
}

func (r Raw) DeallocateArray(p unsafe.Pointer, count, size, alignment int) {
	r.Provider.Deallocate(p, count*size, alignment)
}

func (r Raw) TryAllocateNode(size, alignment int) unsafe.Pointer {
	p, ok := r.Provider.Allocate(size, alignment)
	if !ok {
		return nil
	}
	return p
}

func (r Raw) TryAllocateArray(count, size, alignment int) unsafe.Pointer {
	return r.TryAllocateNode(count*size, alignment)
}

func (r Raw) TryDeallocateNode(p unsafe.Pointer, size, alignment int) bool {
	r.Provider.Deallocate(p, size, alignment)
	return true
}

func (r Raw) TryDeallocateArray(p unsafe.Pointer, count, size, alignment int) bool {
	r.Provider.Deallocate(p, count*size, alignment)
	return true
}

func (r Raw) MaxNodeSize() int  { return r.Provider.MaxNodeSize() }
func (r Raw) MaxArraySize() int { return r.Provider.MaxNodeSize() }
func (r Raw) MaxAlignment() int { return memalloc.MaxAlign }
