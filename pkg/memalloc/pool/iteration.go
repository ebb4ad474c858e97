package pool

import (
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/xunsafe"
)

// partition is one of an IterationAllocator's equal-sized bump regions.
type partition struct {
	start, cur, end xunsafe.Addr[byte]
}

// IterationAllocator splits a single upfront allocation into a fixed
// number of equal partitions and cycles through them, resetting a
// partition's bump pointer only when iteration advances onto it again.
// This gives double (or N-way) buffering for free: allocations made
// maxIterations-1 cycles ago are still valid when the caller rotates
// back around to their partition, which is exactly when they get
// reclaimed.
//
// This is not named by the distilled spec; it supplements C6 with the
// scenario original_source's iteration_allocator test exercises.
type IterationAllocator struct {
	raw           memalloc.Allocator
	block         unsafe.Pointer
	totalSize     int
	maxIterations int
	cur           int
	partitions    []partition
	info          memalloc.Info
}

// NewIterationAllocator allocates one totalSize block from raw, up
// front, and divides it into maxIterations equal partitions. The first
// partition is already active; call NextIteration to rotate.
func NewIterationAllocator(maxIterations int, raw memalloc.Allocator, totalSize int) *IterationAllocator {
	if maxIterations < 1 {
		maxIterations = 1
	}

	align := raw.MaxAlignment()
	mem := raw.AllocateNode(totalSize, align)

	ia := &IterationAllocator{
		raw:           raw,
		block:         mem,
		totalSize:     totalSize,
		maxIterations: maxIterations,
		partitions:    make([]partition, maxIterations),
	}
	ia.info = memalloc.Info{Name: "iteration_allocator", Address: unsafe.Pointer(ia)}

	base := xunsafe.AddrOf((*byte)(mem))
	per := totalSize / maxIterations
	for i := range ia.partitions {
		start := base.ByteAdd(i * per)
		ia.partitions[i] = partition{start: start, cur: start, end: start.ByteAdd(per)}
	}

	return ia
}

// MaxIterations returns the number of partitions the allocator rotates
// through.
func (ia *IterationAllocator) MaxIterations() int { return ia.maxIterations }

// CurIteration returns the index of the currently active partition.
func (ia *IterationAllocator) CurIteration() int { return ia.cur }

// CapacityLeft returns the bytes still free in the currently active
// partition. With an explicit iteration index, it reports that
// partition's remaining bytes instead.
func (ia *IterationAllocator) CapacityLeft(iteration ...int) int {
	i := ia.cur
	if len(iteration) > 0 {
		i = iteration[0]
	}
	p := ia.partitions[i]
	return p.end.Sub(p.cur)
}

// Allocate returns size bytes aligned to alignment from the currently
// active partition, panicking with OutOfMemory if it lacks room.
func (ia *IterationAllocator) Allocate(size, alignment int) unsafe.Pointer {
	p := &ia.partitions[ia.cur]

	offset := p.cur.Padding(alignment)
	if p.cur.ByteAdd(offset+size) > p.end {
		panic(&memalloc.OutOfMemory{Info: ia.info, Requested: size})
	}

	res := p.cur.ByteAdd(offset)
	p.cur = res.ByteAdd(size)

	return unsafe.Pointer(res.AssertValid())
}

// NextIteration rotates to the next partition, resetting its bump
// pointer so it is fully available again. Anything previously allocated
// from it is invalidated — callers must have stopped reading it
// maxIterations-1 rotations earlier.
func (ia *IterationAllocator) NextIteration() {
	ia.cur = (ia.cur + 1) % ia.maxIterations
	p := &ia.partitions[ia.cur]
	p.cur = p.start
}

func (ia *IterationAllocator) Info() memalloc.Info { return ia.info }
