package freelist

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/xunsafe"
)

// maxChunkSlots is the largest number of slots a single chunk can hold;
// slot positions within a chunk are addressed by an 8-bit index.
const maxChunkSlots = 255

// chunkHeader precedes a chunk's slot storage. firstFree/capacity/noNodes
// are the three 8-bit fields spec §4.4.3 names; prev/next thread the
// chunk into a ring.
type chunkHeader struct {
	firstFree uint8
	capacity  uint8
	noNodes   uint8
	_         uint8

	prev, next xunsafe.Addr[chunkHeader]
}

var chunkHeaderSize = int(unsafe.Sizeof(chunkHeader{}))

// Chunked is the small-node (chunk-based) free list (spec §4.4.3). It
// trades the single-linked list's speed for a node size as small as 1
// byte, alignment 1, by threading free slots within a chunk via 8-bit
// indices instead of in-slot pointers.
type Chunked struct {
	nodeSize int

	allocChunk   xunsafe.Addr[chunkHeader]
	deallocChunk xunsafe.Addr[chunkHeader]
	capacity     int
}

var _ FreeList = (*Chunked)(nil)

// NewChunked constructs a Chunked free list of nodeSize-byte slots.
// Alignment is always 1.
func NewChunked(nodeSize int) *Chunked {
	return &Chunked{nodeSize: nodeSize}
}

func (f *Chunked) header(a xunsafe.Addr[chunkHeader]) *chunkHeader { return a.AssertValid() }

func (f *Chunked) nodeAddr(h *chunkHeader, idx uint8) xunsafe.Addr[byte] {
	base := xunsafe.AddrOf((*byte)(unsafe.Pointer(h))).ByteAdd(chunkHeaderSize)
	return base.ByteAdd(int(idx) * f.nodeSize)
}

// Insert carves mem[0:size) into a single new chunk of up to
// maxChunkSlots slots, with every slot initially free, and links it into
// the ring.
func (f *Chunked) Insert(mem unsafe.Pointer, size int) {
	if size <= chunkHeaderSize+f.nodeSize {
		return
	}

	n := (size - chunkHeaderSize) / f.nodeSize
	if n > maxChunkSlots {
		n = maxChunkSlots
	}

	h := (*chunkHeader)(mem)
	h.noNodes = uint8(n)
	h.capacity = uint8(n)
	h.firstFree = 0

	for i := 0; i < n; i++ {
		next := uint8(i + 1)
		*f.nodeAddr(h, uint8(i)).AssertValid() = next
	}

	addr := xunsafe.AddrOf(h)

	if f.allocChunk == 0 {
		h.prev, h.next = addr, addr
		f.allocChunk, f.deallocChunk = addr, addr
	} else {
		tail := f.header(f.allocChunk).prev
		f.header(tail).next = addr
		h.prev = tail
		h.next = f.allocChunk
		f.header(f.allocChunk).prev = addr
	}

	f.capacity += n
}

// Allocate pops a free slot from allocChunk, or walks the ring looking
// for a chunk with free slots if allocChunk is exhausted.
func (f *Chunked) Allocate() unsafe.Pointer {
	if f.allocChunk == 0 {
		return nil
	}

	h := f.header(f.allocChunk)
	if h.capacity == 0 {
		start := f.allocChunk
		cur := f.header(start).next

		for cur != start {
			if f.header(cur).capacity > 0 {
				f.allocChunk = cur
				h = f.header(cur)
				break
			}
			cur = f.header(cur).next
		}

		if h.capacity == 0 {
			return nil
		}
	}

	idx := h.firstFree
	p := f.nodeAddr(h, idx)
	h.firstFree = *p.AssertValid()
	h.capacity--
	f.capacity--

	return unsafe.Pointer(p.AssertValid())
}

func (f *Chunked) owns(h *chunkHeader, p unsafe.Pointer) (uint8, bool) {
	base := xunsafe.AddrOf((*byte)(unsafe.Pointer(h))).ByteAdd(chunkHeaderSize)
	addr := xunsafe.AddrOf((*byte)(p))
	end := base.ByteAdd(int(h.noNodes) * f.nodeSize)

	if addr < base || addr >= end {
		return 0, false
	}

	off := addr.Sub(base)
	if off%f.nodeSize != 0 {
		return 0, false
	}

	return uint8(off / f.nodeSize), true
}

// Deallocate returns p to the chunk that owns it: dealloc_chunk if it
// owns p directly, otherwise the ring is walked outward from
// dealloc_chunk (alternating directions) until the owner is found.
func (f *Chunked) Deallocate(p unsafe.Pointer) {
	if f.deallocChunk == 0 {
		return
	}

	h := f.header(f.deallocChunk)
	if idx, ok := f.owns(h, p); ok {
		f.free(h, idx)
		return
	}

	fwd, back := f.header(f.deallocChunk).next, f.header(f.deallocChunk).prev

	for fwd != f.deallocChunk {
		if idx, ok := f.owns(f.header(fwd), p); ok {
			f.deallocChunk = fwd
			f.free(f.header(fwd), idx)
			return
		}
		if idx, ok := f.owns(f.header(back), p); ok {
			f.deallocChunk = back
			f.free(f.header(back), idx)
			return
		}

		fwd = f.header(fwd).next
		back = f.header(back).prev
	}
}

func (f *Chunked) free(h *chunkHeader, idx uint8) {
	*f.nodeAddr(h, idx).AssertValid() = h.firstFree
	h.firstFree = idx
	h.capacity++
	f.capacity++
}

func (f *Chunked) Capacity() int  { return f.capacity }
func (f *Chunked) NodeSize() int  { return f.nodeSize }
func (f *Chunked) Alignment() int { return 1 }
