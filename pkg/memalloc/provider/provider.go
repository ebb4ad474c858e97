// Package provider implements the low-level, byte-granularity memory
// providers that block allocators are built on top of (spec component C1).
//
// All providers are stateless except [Static], which owns an inline byte
// array and a bump cursor.
package provider

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/xunsafe"
	"github.com/flier/memalloc/pkg/xunsafe/layout"
)

// Provider is the surface every low-level memory source exposes.
type Provider interface {
	// Allocate returns size bytes aligned to alignment, or (nil, false) on
	// failure. It never panics.
	Allocate(size, alignment int) (unsafe.Pointer, bool)

	// Deallocate returns memory previously returned by Allocate. size and
	// alignment must match the original request exactly.
	Deallocate(p unsafe.Pointer, size, alignment int)

	// MaxNodeSize is the largest single allocation this provider can
	// satisfy.
	MaxNodeSize() int
}

const maxNodeSize = 1 << 40

// alignedAlloc over-allocates a Go byte slice so that an interior pointer
// can be handed out at the requested alignment. The whole slice stays
// reachable (and thus alive) as long as the returned pointer is: a Go
// pointer into the middle of a heap object keeps the entire object live.
func alignedAlloc(size, alignment int) unsafe.Pointer {
	if alignment < 1 {
		alignment = 1
	}

	buf := make([]byte, size+alignment)
	base := xunsafe.AddrOf(unsafe.SliceData(buf))
	return base.RoundUpTo(alignment).AssertValid()
}

// Heap is the Go-heap-backed provider: the analogue of a `heap_alloc`
// collaborator, allocating directly from the garbage collector.
//
// Deallocate is a no-op; the memory is reclaimed once unreachable, the same
// way [arena.Arena] leans on GC-traced chunks.
type Heap struct{}

var _ Provider = Heap{}

func (Heap) Allocate(size, alignment int) (unsafe.Pointer, bool) {
	if size == 0 {
		return nil, true
	}
	return alignedAlloc(size, alignment), true
}

func (Heap) Deallocate(unsafe.Pointer, int, int) {}

func (Heap) MaxNodeSize() int { return maxNodeSize }

func (Heap) Info() memalloc.Info { return memalloc.Info{Name: "heap"} }

// New models a provider backed by per-object `new`-expressions rather than
// bulk heap allocation: each call rounds size up to alignment and makes
// one fresh Go byte slice for it, the same way [Heap] does.
type New struct{}

var _ Provider = New{}

func (New) Allocate(size, alignment int) (unsafe.Pointer, bool) {
	if size == 0 {
		return nil, true
	}
	size = layout.RoundUp(size, alignment)
	return alignedAlloc(size, alignment), true
}

func (New) Deallocate(unsafe.Pointer, int, int) {}

func (New) MaxNodeSize() int { return maxNodeSize }

func (New) Info() memalloc.Info { return memalloc.Info{Name: "new"} }

// Malloc models a foreign/manual allocator contract (e.g. a C `malloc`
// collaborator). This module has no cgo dependency, so it is implemented
// atop [Heap]; it is kept as a distinct type because callers (block
// allocators, tests) address it by its own [memalloc.Info] name.
type Malloc struct{ Heap }

var _ Provider = Malloc{}

func (Malloc) Info() memalloc.Info { return memalloc.Info{Name: "malloc"} }

// Static slices a fixed, user-supplied byte array by bump-allocating from
// the front. It is the only C1 provider that carries state.
type Static struct {
	buf    []byte
	cursor int
}

var _ Provider = (*Static)(nil)

// NewStatic wraps buf as a bump-allocated static storage provider.
func NewStatic(buf []byte) *Static {
	return &Static{buf: buf}
}

func (s *Static) Allocate(size, alignment int) (unsafe.Pointer, bool) {
	if len(s.buf) == 0 {
		return nil, false
	}

	base := xunsafe.AddrOf(unsafe.SliceData(s.buf)).Add(s.cursor)
	aligned := base.RoundUpTo(alignment)
	padding := aligned.Sub(base)

	if s.cursor+padding+size > len(s.buf) {
		return nil, false
	}

	s.cursor += padding + size
	return aligned.AssertValid(), true
}

// Deallocate only succeeds in LIFO order; any other call is ignored.
func (s *Static) Deallocate(p unsafe.Pointer, size, _ int) {
	end := xunsafe.AddrOf(unsafe.SliceData(s.buf)).Add(s.cursor)
	if xunsafe.AddrOf((*byte)(p)).Add(size) == end {
		s.cursor -= size
	}
}

func (s *Static) MaxNodeSize() int { return len(s.buf) }

func (s *Static) Remaining() int { return len(s.buf) - s.cursor }

func (s *Static) Info() memalloc.Info {
	return memalloc.Info{Name: "static", Address: unsafe.Pointer(s)}
}
