package freelist

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/xunsafe"
)

// Ordered is the address-sorted single-linked free list (spec §4.4.2).
// Keeping the free set sorted by address lets AllocateArray find n
// consecutive slots by scanning for a run of addresses exactly slotSize
// apart. A "last deallocation" hint speeds up the common case of
// locally-ordered free patterns, matching the spec's
// last_dealloc/last_dealloc_prev cache.
type Ordered struct {
	nodeSize  int
	alignment int
	slot      int

	head     xunsafe.Addr[byte]
	capacity int

	lastDealloc     xunsafe.Addr[byte]
	lastDeallocPrev xunsafe.Addr[byte]
}

var _ ArrayFreeList = (*Ordered)(nil)

// NewOrdered constructs an Ordered free list whose slots are nodeSize
// bytes, aligned to alignment.
func NewOrdered(nodeSize, alignment int) *Ordered {
	return &Ordered{
		nodeSize:  nodeSize,
		alignment: alignment,
		slot:      slotSize(nodeSize, alignment),
	}
}

func (f *Ordered) nextOf(a xunsafe.Addr[byte]) xunsafe.Addr[byte] {
	return xunsafe.Addr[byte](*(*uintptr)(unsafe.Pointer(a.AssertValid())))
}

func (f *Ordered) setNext(a, next xunsafe.Addr[byte]) {
	*(*uintptr)(unsafe.Pointer(a.AssertValid())) = uintptr(next)
}

// insertOne splices addr into the sorted free list, maintaining the
// last-deallocation hint used to accelerate the next insertion.
func (f *Ordered) insertOne(addr xunsafe.Addr[byte]) {
	var prev xunsafe.Addr[byte]
	cur := f.head

	if f.lastDealloc != 0 && f.lastDealloc <= addr {
		prev, cur = f.lastDeallocPrev, f.lastDealloc
	}

	for cur != 0 && cur < addr {
		prev = cur
		cur = f.nextOf(cur)
	}

	f.setNext(addr, 0)
	if cur != 0 {
		f.setNext(addr, cur)
	}
	if prev == 0 {
		f.head = addr
	} else {
		f.setNext(prev, addr)
	}

	f.capacity++
	f.lastDealloc, f.lastDeallocPrev = addr, prev
}

// Insert subdivides mem[0:size) into aligned slots and merges each into
// the sorted free list in address order.
func (f *Ordered) Insert(mem unsafe.Pointer, size int) {
	addr := xunsafe.AddrOf((*byte)(mem))
	aligned := addr.RoundUpTo(f.alignment)
	pad := aligned.Sub(addr)
	if pad >= size {
		return
	}

	n := (size - pad) / f.slot
	for i := 0; i < n; i++ {
		f.insertOne(aligned.ByteAdd(i * f.slot))
	}
}

// Allocate pops the lowest-addressed free slot.
func (f *Ordered) Allocate() unsafe.Pointer {
	if f.head == 0 {
		return nil
	}

	p := f.head
	f.head = f.nextOf(p)
	f.capacity--
	if f.lastDealloc == p {
		f.lastDealloc, f.lastDeallocPrev = 0, 0
	}

	return unsafe.Pointer(p.AssertValid())
}

// AllocateArray scans the sorted free list for a run of n slots whose
// addresses are exactly slotSize apart, splices the whole run out, and
// returns the first slot's address.
func (f *Ordered) AllocateArray(n int) unsafe.Pointer {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return f.Allocate()
	}

	var prev xunsafe.Addr[byte]
	cur := f.head

	for cur != 0 {
		end := cur
		ok := true

		for i := 1; i < n; i++ {
			next := f.nextOf(end)
			if next != end.ByteAdd(f.slot) {
				ok = false
				break
			}
			end = next
		}

		if ok {
			after := f.nextOf(end)
			if prev == 0 {
				f.head = after
			} else {
				f.setNext(prev, after)
			}

			f.capacity -= n

			if f.lastDealloc >= cur && f.lastDealloc <= end {
				f.lastDealloc, f.lastDeallocPrev = 0, 0
			}

			return unsafe.Pointer(cur.AssertValid())
		}

		prev = cur
		cur = f.nextOf(cur)
	}

	return nil
}

// Deallocate re-inserts p as a single free slot.
func (f *Ordered) Deallocate(p unsafe.Pointer) {
	f.insertOne(xunsafe.AddrOf((*byte)(p)))
}

// DeallocateArray re-inserts n consecutive slots starting at p.
func (f *Ordered) DeallocateArray(p unsafe.Pointer, n int) {
	base := xunsafe.AddrOf((*byte)(p))
	for i := 0; i < n; i++ {
		f.insertOne(base.ByteAdd(i * f.slot))
	}
}

func (f *Ordered) Capacity() int  { return f.capacity }
func (f *Ordered) NodeSize() int  { return f.nodeSize }
func (f *Ordered) Alignment() int { return f.alignment }
