package freelist

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/xunsafe"
)

// Simple is the single-linked free list (spec §4.4.1): the fastest of
// the three variants, at the cost of no array support and an undefined
// free order. Each free slot's first machine word holds the address of
// the next free slot, exactly the way the teacher package's [Recycled]
// threads its per-size-class free lists.
type Simple struct {
	nodeSize  int
	alignment int
	slot      int
	head      xunsafe.Addr[byte]
	capacity  int
}

var _ FreeList = (*Simple)(nil)

// NewSimple constructs a Simple free list whose slots are nodeSize bytes,
// aligned to alignment.
func NewSimple(nodeSize, alignment int) *Simple {
	return &Simple{
		nodeSize:  nodeSize,
		alignment: alignment,
		slot:      slotSize(nodeSize, alignment),
	}
}

// Insert subdivides mem[0:size) into aligned slots, threading each onto
// the head of the free list. Leading bytes needed to reach alignment are
// skipped and not issued.
func (f *Simple) Insert(mem unsafe.Pointer, size int) {
	addr := xunsafe.AddrOf((*byte)(mem))
	aligned := addr.RoundUpTo(f.alignment)
	pad := aligned.Sub(addr)
	if pad >= size {
		return
	}

	n := (size - pad) / f.slot
	for i := 0; i < n; i++ {
		slot := aligned.ByteAdd(i * f.slot)
		p := slot.AssertValid()
		*(*uintptr)(unsafe.Pointer(p)) = uintptr(f.head)
		f.head = xunsafe.AddrOf(p)
		f.capacity++
	}
}

// Allocate pops the head slot.
func (f *Simple) Allocate() unsafe.Pointer {
	if f.head == 0 {
		return nil
	}

	p := f.head.AssertValid()
	f.head = xunsafe.Addr[byte](*(*uintptr)(unsafe.Pointer(p)))
	f.capacity--

	return unsafe.Pointer(p)
}

// Deallocate pushes p back onto the head of the free list.
func (f *Simple) Deallocate(p unsafe.Pointer) {
	*(*uintptr)(p) = uintptr(f.head)
	f.head = xunsafe.AddrOf((*byte)(p))
	f.capacity++
}

func (f *Simple) Capacity() int  { return f.capacity }
func (f *Simple) NodeSize() int  { return f.nodeSize }
func (f *Simple) Alignment() int { return f.alignment }
