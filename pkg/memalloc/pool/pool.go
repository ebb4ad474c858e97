// Package pool implements the memory pool (spec component C6): an arena
// plus exactly one free-list variant, parameterized by "pool tag" the
// way the spec names it — NodePool (single-linked), ArrayPool (ordered,
// array-capable) and SmallNodePool (chunked).
package pool

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/arena"
	"github.com/flier/memalloc/pkg/memalloc/freelist"
)

// Pool is a raw allocator backed by one arena and one free list. The
// free-list variant fixes whether arrays are supported at all.
type Pool struct {
	Options memalloc.Options

	arena     *arena.Arena
	list      freelist.FreeList
	nodeSize  int
	alignment int
	info      memalloc.Info
}

var _ memalloc.Composable = (*Pool)(nil)

func newPool(name string, a *arena.Arena, list freelist.FreeList, nodeSize, alignment int) *Pool {
	p := &Pool{arena: a, list: list, nodeSize: nodeSize, alignment: alignment, Options: memalloc.Default}
	p.info = memalloc.Info{Name: name, Address: unsafe.Pointer(p)}
	return p
}

// checkOwner reports an invalid-pointer deallocation when
// Options.DebugPointerCheck is set and ptr was not issued by this
// pool's arena. Returns true if the deallocation should proceed.
func (p *Pool) checkOwner(ptr unsafe.Pointer) bool {
	if !p.Options.DebugPointerCheck {
		return true
	}
	if p.arena.Owns(ptr) {
		return true
	}
	memalloc.ReportInvalidPointer(p.info, ptr)
	return false
}

// NewNodePool builds a pool over a single-linked free list: the fastest
// variant, but with no array support and an undefined free order.
func NewNodePool(a *arena.Arena, nodeSize, alignment int) *Pool {
	return newPool("node_pool", a, freelist.NewSimple(nodeSize, alignment), nodeSize, alignment)
}

// NewArrayPool builds a pool over an address-ordered free list, the only
// variant able to satisfy AllocateArray requests.
func NewArrayPool(a *arena.Arena, nodeSize, alignment int) *Pool {
	return newPool("array_pool", a, freelist.NewOrdered(nodeSize, alignment), nodeSize, alignment)
}

// NewSmallNodePool builds a pool over a chunked free list: supports node
// sizes as small as 1 byte, but no arrays and alignment fixed at 1.
func NewSmallNodePool(a *arena.Arena, nodeSize int) *Pool {
	return newPool("small_node_pool", a, freelist.NewChunked(nodeSize), nodeSize, 1)
}

// Alignment returns the largest power of two dividing the node size —
// what the pool can actually promise per spec §4.6, independent of
// whatever alignment its free list was constructed with.
func (p *Pool) Alignment() int {
	n := p.nodeSize
	if n <= 0 {
		return 1
	}
	return n & (-n)
}

func (p *Pool) checkSize(size int) {
	if size > p.nodeSize {
		panic(&memalloc.BadNodeSize{Info: p.info, Passed: size, Supported: p.nodeSize})
	}
}

func (p *Pool) checkAlign(alignment int) {
	if alignment > p.Alignment() {
		panic(&memalloc.BadAlignment{Info: p.info, Passed: alignment, Supported: p.Alignment()})
	}
}

func (p *Pool) arrayList() (freelist.ArrayFreeList, bool) {
	arr, ok := p.list.(freelist.ArrayFreeList)
	return arr, ok
}

// AllocateNode pulls a new arena block into the free list if it is
// empty, then pops one slot.
func (p *Pool) AllocateNode(size, alignment int) unsafe.Pointer {
	p.checkSize(size)
	p.checkAlign(alignment)

	if p.list.Capacity() == 0 {
		b, err := p.arena.AllocateBlock()
		if err != nil {
			panic(err)
		}
		p.list.Insert(b.Memory, b.Size)
	}

	if ptr := p.list.Allocate(); ptr != nil {
		return ptr
	}

	panic(&memalloc.OutOfMemory{Info: p.info, Requested: size})
}

// TryAllocateNode never grows the arena; it returns nil instead of
// panicking.
func (p *Pool) TryAllocateNode(size, alignment int) unsafe.Pointer {
	if size > p.nodeSize || alignment > p.Alignment() {
		return nil
	}
	if p.list.Capacity() == 0 {
		return nil
	}
	return p.list.Allocate()
}

// AllocateArray requires the ordered free list. If the current list (or
// a freshly drawn block) has no run of count consecutive slots, the call
// fails with BadArraySize.
func (p *Pool) AllocateArray(count, size, alignment int) unsafe.Pointer {
	p.checkSize(size)
	p.checkAlign(alignment)

	arr, ok := p.arrayList()
	if !ok {
		panic(&memalloc.BadArraySize{Info: p.info, Passed: count, Supported: 1})
	}

	if ptr := arr.AllocateArray(count); ptr != nil {
		return ptr
	}

	b, err := p.arena.AllocateBlock()
	if err != nil {
		panic(err)
	}
	arr.Insert(b.Memory, b.Size)

	if ptr := arr.AllocateArray(count); ptr != nil {
		return ptr
	}

	panic(&memalloc.BadArraySize{Info: p.info, Passed: count, Supported: p.MaxArraySize()})
}

// TryAllocateArray never grows the arena.
func (p *Pool) TryAllocateArray(count, size, alignment int) unsafe.Pointer {
	if size > p.nodeSize || alignment > p.Alignment() {
		return nil
	}
	arr, ok := p.arrayList()
	if !ok {
		return nil
	}
	return arr.AllocateArray(count)
}

// DeallocateNode pushes p back onto the free list. With
// Options.DebugPointerCheck set, a ptr this pool's arena never handed
// out is reported instead of corrupting the free list.
func (p *Pool) DeallocateNode(ptr unsafe.Pointer, size, alignment int) {
	if !p.checkOwner(ptr) {
		return
	}
	p.list.Deallocate(ptr)
}

// DeallocateArray pushes a run of count slots back onto the free list.
func (p *Pool) DeallocateArray(ptr unsafe.Pointer, count, size, alignment int) {
	if !p.checkOwner(ptr) {
		return
	}
	if arr, ok := p.arrayList(); ok {
		arr.DeallocateArray(ptr, count)
		return
	}
	p.list.Deallocate(ptr)
}

// TryDeallocateNode only succeeds if the arena owns ptr.
func (p *Pool) TryDeallocateNode(ptr unsafe.Pointer, size, alignment int) bool {
	if !p.arena.Owns(ptr) {
		return false
	}
	p.list.Deallocate(ptr)
	return true
}

// TryDeallocateArray only succeeds if the arena owns ptr.
func (p *Pool) TryDeallocateArray(ptr unsafe.Pointer, count, size, alignment int) bool {
	if !p.arena.Owns(ptr) {
		return false
	}
	p.DeallocateArray(ptr, count, size, alignment)
	return true
}

func (p *Pool) MaxNodeSize() int { return p.nodeSize }

// MaxArraySize is 0 for variants whose free list does not support
// arrays: every AllocateArray call on them fails, by construction.
func (p *Pool) MaxArraySize() int {
	if _, ok := p.arrayList(); ok {
		return int(^uint(0) >> 1)
	}
	return 0
}

func (p *Pool) MaxAlignment() int { return p.Alignment() }

func (p *Pool) Info() memalloc.Info { return p.info }

// Capacity returns the number of free slots currently cached by the pool.
func (p *Pool) Capacity() int { return p.list.Capacity() }

// Close tears down the pool's arena. It reports no leak, whatever
// Options.DebugLeakCheck says.
func (p *Pool) Close() { p.arena.Close() }
