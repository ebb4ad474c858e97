package compose

import "unsafe"

import "github.com/flier/memalloc/pkg/memalloc"

// Fallback routes through Primary's try-path first, falling back to
// Secondary on failure. Deallocation is symmetric: Primary's
// try-deallocate is offered the pointer first, and only forwarded to
// Secondary if Primary denies ownership.
type Fallback struct {
	Primary   memalloc.Composable
	Secondary memalloc.Allocator
}

var _ memalloc.Allocator = Fallback{}

func (f Fallback) AllocateNode(size, alignment int) unsafe.Pointer {
	if p := f.Primary.TryAllocateNode(size, alignment); p != nil {
		return p
	}
	return f.Secondary.AllocateNode(size, alignment)
}

func (f Fallback) AllocateArray(count, size, alignment int) unsafe.Pointer {
	if p := f.Primary.TryAllocateArray(count, size, alignment); p != nil {
		return p
	}
	return f.Secondary.AllocateArray(count, size, alignment)
}

func (f Fallback) DeallocateNode(p unsafe.Pointer, size, alignment int) {
	if f.Primary.TryDeallocateNode(p, size, alignment) {
		return
	}
	f.Secondary.DeallocateNode(p, size, alignment)
}

func (f Fallback) DeallocateArray(p unsafe.Pointer, count, size, alignment int) {
	if f.Primary.TryDeallocateArray(p, count, size, alignment) {
		return
	}
	f.Secondary.DeallocateArray(p, count, size, alignment)
}

func (f Fallback) MaxNodeSize() int {
	return max(f.Primary.MaxNodeSize(), f.Secondary.MaxNodeSize())
}

func (f Fallback) MaxArraySize() int {
	return max(f.Primary.MaxArraySize(), f.Secondary.MaxArraySize())
}

func (f Fallback) MaxAlignment() int {
	return max(f.Primary.MaxAlignment(), f.Secondary.MaxAlignment())
}
