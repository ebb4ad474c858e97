// Package memalloc defines the raw-allocator contract shared by every
// allocation strategy in this module: arenas, stacks, pools, pool
// collections, the composition adapters, and the joint allocator.
//
// A raw allocator traffics in byte regions, not typed objects. It hands out
// uninitialized memory with an explicit size and alignment, and expects the
// caller to give the size and alignment back at deallocation time.
package memalloc

import (
	"fmt"
	"unsafe"

	"github.com/flier/memalloc/pkg/xunsafe/layout"
)

// MaxAlign is the alignment guaranteed by a provider that makes no
// stronger promise, i.e. the maximum fundamental alignment on this
// platform.
const MaxAlign = 16

// MemoryBlock is an immutable (address, size) pair returned by a block
// allocator. The address is aligned to at least the block allocator's
// declared alignment.
type MemoryBlock struct {
	Memory unsafe.Pointer
	Size   int
}

// IsZero reports whether b is the zero MemoryBlock (no memory).
func (b MemoryBlock) IsZero() bool { return b.Memory == nil }

// Info identifies an allocator in error reports and debug handlers.
//
// It has no behavioral role: two allocators with equal Info are not
// necessarily the same allocator.
type Info struct {
	Name    string
	Address unsafe.Pointer
}

func (i Info) String() string {
	return fmt.Sprintf("%s@%p", i.Name, i.Address)
}

// Allocator is the contract every core allocator in this module conforms
// to (spec §6).
type Allocator interface {
	AllocateNode(size, alignment int) unsafe.Pointer
	AllocateArray(count, size, alignment int) unsafe.Pointer
	DeallocateNode(p unsafe.Pointer, size, alignment int)
	DeallocateArray(p unsafe.Pointer, count, size, alignment int)

	MaxNodeSize() int
	MaxArraySize() int
	MaxAlignment() int
}

// Composable is a raw allocator that additionally exposes non-throwing
// try-paths, used by the composition adapters in pkg/memalloc/compose.
//
// A failure returns nil/false and must never panic.
type Composable interface {
	Allocator

	TryAllocateNode(size, alignment int) unsafe.Pointer
	TryAllocateArray(count, size, alignment int) unsafe.Pointer
	TryDeallocateNode(p unsafe.Pointer, size, alignment int) bool
	TryDeallocateArray(p unsafe.Pointer, count, size, alignment int) bool
}

// Named is implemented by allocators that carry an identity for
// diagnostics.
type Named interface {
	Info() Info
}

// NameOf returns a's Info if it implements Named, or a generic Info
// derived from its type name otherwise.
func NameOf(a any) Info {
	if n, ok := a.(Named); ok {
		return n.Info()
	}
	return Info{Name: fmt.Sprintf("%T", a)}
}

// AlignOk reports whether requested is satisfied by an allocator that can
// only guarantee supported alignment.
func AlignOk(requested, supported int) bool { return requested <= supported }

// NodeSize rounds size up to the given alignment, matching the node-size
// bookkeeping shared by the free lists and pools.
func NodeSize(size, alignment int) int {
	return layout.RoundUp(size, alignment)
}
