// Package stack implements the memory stack (spec component C5): an
// arena-backed bump allocator whose only deallocation primitive is
// unwinding to a previously captured marker.
package stack

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/arena"
	"github.com/flier/memalloc/pkg/xunsafe"
)

// Marker is a totally-ordered (within the same Stack) snapshot of the
// stack's bump frame, returned by Top and consumed by Unwind.
type Marker struct {
	blockIndex int
	top, end   xunsafe.Addr[byte]
}

// Stack is a bump-pointer allocator drawing blocks from an Arena. Options
// controls the debug fence/fill behavior; the zero value disables all of
// it.
type Stack struct {
	Arena   *arena.Arena
	Options memalloc.Options

	// OnGrow, if set, is called with the size of the block about to be
	// pulled from Arena before every single block growth (not just the
	// first). Returning an error aborts the growth, and that error is
	// returned from the Allocate call that triggered it.
	OnGrow func(size int) error

	blockIndex int
	top, end   xunsafe.Addr[byte]
	info       memalloc.Info
}

// New constructs a Stack over the given arena, using memalloc.Default.
func New(a *arena.Arena) *Stack {
	s := &Stack{Arena: a, Options: memalloc.Default}
	s.info = memalloc.Info{Name: "memory_stack", Address: unsafe.Pointer(s)}
	return s
}

func (s *Stack) fence() int {
	if s.Options.DebugFill {
		return s.Options.DebugFence
	}
	return 0
}

func (s *Stack) grow(need int) error {
	if s.OnGrow != nil {
		if err := s.OnGrow(s.Arena.NextBlockSize()); err != nil {
			return err
		}
	}

	b, err := s.Arena.AllocateBlock()
	if err != nil {
		return err
	}

	s.blockIndex++
	s.top = xunsafe.AddrOf((*byte)(b.Memory))
	s.end = s.top.ByteAdd(b.Size)

	if need > s.end.Sub(s.top) {
		return &memalloc.OutOfMemory{Info: s.info, Requested: need}
	}

	return nil
}

// Allocate returns size bytes aligned to alignment, growing the arena by
// a new block if the current one cannot satisfy the request.
func (s *Stack) Allocate(size, alignment int) (unsafe.Pointer, error) {
	fence := s.fence()

	offset := 0
	if s.top != 0 {
		offset = s.top.ByteAdd(fence).Padding(alignment)
	}
	need := fence + offset + size + fence

	if s.top == 0 || need > s.end.Sub(s.top) {
		if err := s.grow(need); err != nil {
			return nil, err
		}
		offset = s.top.ByteAdd(fence).Padding(alignment)
	}

	start := s.top
	if fence > 0 {
		memalloc.FillFenceBytes(unsafe.Pointer(start.AssertValid()), fence)
	}
	if offset > 0 && s.Options.DebugFill {
		memalloc.FillBytes(unsafe.Pointer(start.ByteAdd(fence).AssertValid()), offset, memalloc.FillAlignPadding)
	}

	p := start.ByteAdd(fence + offset)
	if s.Options.DebugFill {
		memalloc.FillBytes(unsafe.Pointer(p.AssertValid()), size, memalloc.FillNewMemory)
	}

	end := p.ByteAdd(size)
	if fence > 0 {
		memalloc.FillFenceBytes(unsafe.Pointer(end.AssertValid()), fence)
	}

	s.top = end.ByteAdd(fence)

	return unsafe.Pointer(p.AssertValid()), nil
}

// TryAllocate behaves like Allocate but never grows the arena, returning
// nil if the current block cannot satisfy the request.
func (s *Stack) TryAllocate(size, alignment int) unsafe.Pointer {
	if s.top == 0 {
		return nil
	}

	fence := s.fence()
	offset := s.top.ByteAdd(fence).Padding(alignment)
	need := fence + offset + size + fence

	if need > s.end.Sub(s.top) {
		return nil
	}

	p := s.top.ByteAdd(fence + offset)
	if fence > 0 {
		memalloc.FillFenceBytes(unsafe.Pointer(s.top.AssertValid()), fence)
		memalloc.FillFenceBytes(unsafe.Pointer(p.ByteAdd(size).AssertValid()), fence)
	}
	if s.Options.DebugFill {
		memalloc.FillBytes(unsafe.Pointer(p.AssertValid()), size, memalloc.FillNewMemory)
	}

	s.top = p.ByteAdd(size + fence)

	return unsafe.Pointer(p.AssertValid())
}

// Top captures the current bump frame as a Marker.
func (s *Stack) Top() Marker {
	return Marker{blockIndex: s.blockIndex, top: s.top, end: s.end}
}

// Unwind rewinds the stack to a previously captured marker. If the
// marker's block is still the current one, the bump pointer simply
// rewinds; otherwise, blocks allocated after the marker are returned to
// the arena, LIFO, before rewinding within the marker's block. With a
// fence configured, the trailing fence of the most recent allocation is
// checked on both paths before anything is released.
func (s *Stack) Unwind(m Marker) {
	if fence := s.fence(); fence > 0 && s.top != 0 && (m.blockIndex != s.blockIndex || m.top < s.top) {
		b, ok := s.Arena.CurrentBlock()
		if ok && s.top.Sub(xunsafe.AddrOf((*byte)(b.Memory))) >= 2*fence {
			fencePos := unsafe.Pointer(s.top.ByteAdd(-fence).AssertValid())
			if !memalloc.FenceOk(fencePos, fence) {
				memalloc.ReportOverflow(b, fence, fencePos)
			}
		}
	}

	if m.blockIndex == s.blockIndex {
		if s.Options.DebugFill && m.top < s.top {
			memalloc.FillBytes(unsafe.Pointer(m.top.AssertValid()), s.top.Sub(m.top), memalloc.FillFreedMemory)
		}
		s.top = m.top
		return
	}

	for s.blockIndex > m.blockIndex {
		s.Arena.DeallocateBlock()
		s.blockIndex--
	}

	s.top, s.end = m.top, m.end
}

// ShrinkToFit forwards to the underlying arena.
func (s *Stack) ShrinkToFit() { s.Arena.ShrinkToFit() }

// Close unwinds the stack to empty, which returns every block to the
// arena, and then tears the arena down. It reports no leak.
func (s *Stack) Close() {
	s.Unwind(Marker{})
	s.Arena.Close()
}

func (s *Stack) Info() memalloc.Info { return s.info }
