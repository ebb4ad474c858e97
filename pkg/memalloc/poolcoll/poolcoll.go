// Package poolcoll implements the pool collection (spec component C7):
// a single arena backing many differently-sized node pools, routed
// through a bucket policy and fed from a shared reservoir instead of
// giving every bucket its own arena.
package poolcoll

import (
	"math/bits"
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/arena"
	"github.com/flier/memalloc/pkg/memalloc/freelist"
)

// BucketPolicy maps a requested node size to a bucket index and back to
// that bucket's node size.
type BucketPolicy interface {
	// NumBuckets returns how many buckets exist for sizes up to
	// maxNodeSize.
	NumBuckets(maxNodeSize int) int

	// Bucket returns the bucket index serving size.
	Bucket(size int) int

	// NodeSize returns the node size every allocation from bucket i is
	// rounded up to.
	NodeSize(i int) int
}

// IdentityBuckets assigns one free list per distinct size in
// [1, maxNodeSize] — O(maxNodeSize) lists, exact-fit allocation.
type IdentityBuckets struct{}

func (IdentityBuckets) NumBuckets(maxNodeSize int) int { return maxNodeSize }
func (IdentityBuckets) Bucket(size int) int {
	if size < 1 {
		size = 1
	}
	return size - 1
}
func (IdentityBuckets) NodeSize(i int) int { return i + 1 }

// Log2Buckets assigns one free list per power-of-two size ceiling —
// about log2(maxNodeSize) lists, at the cost of up to 2x internal
// fragmentation.
type Log2Buckets struct{}

func (Log2Buckets) NumBuckets(maxNodeSize int) int {
	if maxNodeSize < 1 {
		return 1
	}
	return bits.Len(uint(maxNodeSize-1)) + 1
}
func (Log2Buckets) Bucket(size int) int {
	if size < 1 {
		size = 1
	}
	return bits.Len(uint(size - 1))
}
func (Log2Buckets) NodeSize(i int) int { return 1 << i }

// Collection is a pool collection: one arena, a reservoir cursor over
// the arena's current block, and an array of free lists indexed by
// Policy. Whether those lists support AllocateArray is fixed by which
// constructor built the Collection, the way pool.Pool's Node/Array/
// SmallNode tag fixes it for a single pool.
type Collection struct {
	Policy  BucketPolicy
	Options memalloc.Options

	arena       *arena.Arena
	maxNodeSize int
	alignment   int

	lists         []freelist.FreeList
	reservoirCur  unsafe.Pointer
	reservoirLeft int

	info memalloc.Info
}

var _ memalloc.Composable = (*Collection)(nil)

func newCollection(name string, a *arena.Arena, policy BucketPolicy, maxNodeSize, alignment int, newList func(nodeSize, alignment int) freelist.FreeList) *Collection {
	n := policy.NumBuckets(maxNodeSize)
	c := &Collection{
		Policy:      policy,
		Options:     memalloc.Default,
		arena:       a,
		maxNodeSize: maxNodeSize,
		alignment:   alignment,
		lists:       make([]freelist.FreeList, n),
	}
	c.info = memalloc.Info{Name: name, Address: unsafe.Pointer(c)}

	for i := range c.lists {
		c.lists[i] = newList(policy.NodeSize(i), alignment)
	}

	return c
}

// New builds a pool collection over a single-linked free list per
// bucket: the fastest variant, but with no array support, matching
// pool.NewNodePool's tradeoff.
func New(a *arena.Arena, policy BucketPolicy, maxNodeSize, alignment int) *Collection {
	return newCollection("node_pool_collection", a, policy, maxNodeSize, alignment, func(nodeSize, alignment int) freelist.FreeList {
		return freelist.NewSimple(nodeSize, alignment)
	})
}

// NewArrayCollection builds a pool collection over an address-ordered
// free list per bucket, the only variant able to satisfy AllocateArray
// requests, matching pool.NewArrayPool's tradeoff.
func NewArrayCollection(a *arena.Arena, policy BucketPolicy, maxNodeSize, alignment int) *Collection {
	return newCollection("array_pool_collection", a, policy, maxNodeSize, alignment, func(nodeSize, alignment int) freelist.FreeList {
		return freelist.NewOrdered(nodeSize, alignment)
	})
}

func (c *Collection) checkSize(size int) {
	if size > c.maxNodeSize {
		panic(&memalloc.BadNodeSize{Info: c.info, Passed: size, Supported: c.maxNodeSize})
	}
}

func (c *Collection) arrayList(i int) (freelist.ArrayFreeList, bool) {
	arr, ok := c.lists[i].(freelist.ArrayFreeList)
	return arr, ok
}

// checkOwner reports an invalid-pointer deallocation when
// Options.DebugPointerCheck is set and ptr was not issued by this
// collection's arena. Returns true if the deallocation should proceed.
func (c *Collection) checkOwner(ptr unsafe.Pointer) bool {
	if !c.Options.DebugPointerCheck {
		return true
	}
	if c.arena.Owns(ptr) {
		return true
	}
	memalloc.ReportInvalidPointer(c.info, ptr)
	return false
}

// fill pulls a fresh block from the arena (or uses the
// remaining reservoir bytes, flushed into the requested list first) and
// carves def_capacity bytes for the requesting bucket.
func (c *Collection) fill(list freelist.FreeList) error {
	if c.reservoirLeft < list.NodeSize() {
		if c.reservoirLeft > 0 {
			list.Insert(c.reservoirCur, c.reservoirLeft)
			c.reservoirLeft = 0
		}

		b, err := c.arena.AllocateBlock()
		if err != nil {
			return err
		}

		c.reservoirCur = b.Memory
		c.reservoirLeft = b.Size
	}

	defCapacity := c.arena.NextBlockSize() / len(c.lists)
	if defCapacity < list.NodeSize() {
		defCapacity = list.NodeSize()
	}
	if defCapacity > c.reservoirLeft {
		defCapacity = c.reservoirLeft
	}

	list.Insert(c.reservoirCur, defCapacity)

	base := uintptr(c.reservoirCur) + uintptr(defCapacity)
	c.reservoirCur = unsafe.Pointer(base)
	c.reservoirLeft -= defCapacity

	return nil
}

// AllocateNode routes size to its bucket, drawing from the shared
// reservoir if that bucket's list is empty.
func (c *Collection) AllocateNode(size, alignment int) unsafe.Pointer {
	c.checkSize(size)

	list := c.lists[c.Policy.Bucket(size)]
	if list.Capacity() == 0 {
		if err := c.fill(list); err != nil {
			panic(err)
		}
	}

	if ptr := list.Allocate(); ptr != nil {
		return ptr
	}

	panic(&memalloc.OutOfMemory{Info: c.info, Requested: size})
}

// TryAllocateNode never draws from the arena.
func (c *Collection) TryAllocateNode(size, alignment int) unsafe.Pointer {
	if size > c.maxNodeSize {
		return nil
	}
	return c.lists[c.Policy.Bucket(size)].Allocate()
}

// AllocateArray delegates to the bucket's list, drawing from the shared
// reservoir if the first attempt fails — array allocation is only
// possible at all when the Collection was built with
// NewArrayCollection, whose lists implement freelist.ArrayFreeList.
func (c *Collection) AllocateArray(count, size, alignment int) unsafe.Pointer {
	c.checkSize(size)

	idx := c.Policy.Bucket(size)
	arr, ok := c.arrayList(idx)
	if !ok {
		panic(&memalloc.BadArraySize{Info: c.info, Passed: count, Supported: 1})
	}

	if ptr := arr.AllocateArray(count); ptr != nil {
		return ptr
	}

	if err := c.fill(c.lists[idx]); err != nil {
		panic(err)
	}

	if ptr := arr.AllocateArray(count); ptr != nil {
		return ptr
	}

	panic(&memalloc.BadArraySize{Info: c.info, Passed: count, Supported: c.MaxArraySize()})
}

// TryAllocateArray never draws from the reservoir.
func (c *Collection) TryAllocateArray(count, size, alignment int) unsafe.Pointer {
	if size > c.maxNodeSize {
		return nil
	}
	arr, ok := c.arrayList(c.Policy.Bucket(size))
	if !ok {
		return nil
	}
	return arr.AllocateArray(count)
}

func (c *Collection) DeallocateNode(ptr unsafe.Pointer, size, alignment int) {
	if !c.checkOwner(ptr) {
		return
	}
	c.lists[c.Policy.Bucket(size)].Deallocate(ptr)
}

// DeallocateArray delegates to the bucket's array list, falling back to
// a plain node deallocation when the Collection carries no array
// support at all — mirroring pool.Pool.DeallocateArray rather than
// silently dropping the request.
func (c *Collection) DeallocateArray(ptr unsafe.Pointer, count, size, alignment int) {
	if !c.checkOwner(ptr) {
		return
	}
	idx := c.Policy.Bucket(size)
	if arr, ok := c.arrayList(idx); ok {
		arr.DeallocateArray(ptr, count)
		return
	}
	c.DeallocateNode(ptr, size, alignment)
}

func (c *Collection) TryDeallocateNode(ptr unsafe.Pointer, size, alignment int) bool {
	if !c.arena.Owns(ptr) {
		return false
	}
	c.DeallocateNode(ptr, size, alignment)
	return true
}

func (c *Collection) TryDeallocateArray(ptr unsafe.Pointer, count, size, alignment int) bool {
	if !c.arena.Owns(ptr) {
		return false
	}
	c.DeallocateArray(ptr, count, size, alignment)
	return true
}

func (c *Collection) MaxNodeSize() int { return c.maxNodeSize }

// MaxArraySize is 0 unless the Collection was built with
// NewArrayCollection, in which case every bucket supports arrays.
func (c *Collection) MaxArraySize() int {
	if _, ok := c.arrayList(0); ok {
		return int(^uint(0) >> 1)
	}
	return 0
}

// MaxAlignment is always the max fundamental alignment: no node is ever
// over-aligned.
func (c *Collection) MaxAlignment() int { return memalloc.MaxAlign }

func (c *Collection) Info() memalloc.Info { return c.info }

// Close tears down the collection's arena. It reports no leak, whatever
// Options.DebugLeakCheck says.
func (c *Collection) Close() { c.arena.Close() }
