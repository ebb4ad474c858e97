package compose

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/arena"
	"github.com/flier/memalloc/pkg/memalloc/block"
	"github.com/flier/memalloc/pkg/memalloc/pool"
)

// Tracker receives the six hooks a Tracked allocator fires around every
// allocation-relevant event.
type Tracker interface {
	OnNodeAllocation(p unsafe.Pointer, size, alignment int)
	OnArrayAllocation(p unsafe.Pointer, count, size, alignment int)
	OnNodeDeallocation(p unsafe.Pointer, size, alignment int)
	OnArrayDeallocation(p unsafe.Pointer, count, size, alignment int)
	OnAllocatorGrowth(size int)
	OnAllocatorShrinking()
}

// Tracked wraps a raw allocator, firing Track's node/array
// allocation/deallocation hooks around every call.
type Tracked struct {
	Alloc memalloc.Allocator
	Track Tracker
}

var _ memalloc.Allocator = Tracked{}

func (t Tracked) AllocateNode(size, alignment int) unsafe.Pointer {
	p := t.Alloc.AllocateNode(size, alignment)
	t.Track.OnNodeAllocation(p, size, alignment)
	return p
}

func (t Tracked) AllocateArray(count, size, alignment int) unsafe.Pointer {
	p := t.Alloc.AllocateArray(count, size, alignment)
	t.Track.OnArrayAllocation(p, count, size, alignment)
	return p
}

func (t Tracked) DeallocateNode(p unsafe.Pointer, size, alignment int) {
	t.Track.OnNodeDeallocation(p, size, alignment)
	t.Alloc.DeallocateNode(p, size, alignment)
}

func (t Tracked) DeallocateArray(p unsafe.Pointer, count, size, alignment int) {
	t.Track.OnArrayDeallocation(p, count, size, alignment)
	t.Alloc.DeallocateArray(p, count, size, alignment)
}

func (t Tracked) MaxNodeSize() int  { return t.Alloc.MaxNodeSize() }
func (t Tracked) MaxArraySize() int { return t.Alloc.MaxArraySize() }
func (t Tracked) MaxAlignment() int { return t.Alloc.MaxAlignment() }

// trackingBlockAllocator rebinds a block.Allocator so that every block
// grown/shrunk also fires the tracker's growth/shrinking hooks — the
// Go shape of "rebinding the wrapped allocator's block-allocator
// template parameter" the spec describes for deep tracking.
type trackingBlockAllocator struct {
	block.Allocator
	track Tracker
}

func (t trackingBlockAllocator) AllocateBlock() (memalloc.MemoryBlock, error) {
	b, err := t.Allocator.AllocateBlock()
	if err == nil {
		t.track.OnAllocatorGrowth(b.Size)
	}
	return b, err
}

func (t trackingBlockAllocator) DeallocateBlock(b memalloc.MemoryBlock) {
	t.track.OnAllocatorShrinking()
	t.Allocator.DeallocateBlock(b)
}

// NewDeeplyTrackedNodePool builds a node pool whose arena pulls blocks
// through a tracking block allocator, so that arena growth/shrinkage
// also reaches track, and wraps the whole pool in Tracked.
func NewDeeplyTrackedNodePool(blocks block.Allocator, track Tracker, nodeSize, alignment int) Tracked {
	tb := trackingBlockAllocator{Allocator: blocks, track: track}
	a := arena.New(tb, false)
	p := pool.NewNodePool(a, nodeSize, alignment)
	return Tracked{Alloc: p, Track: track}
}
