// Package arena implements the memory arena (spec component C3): an
// ordered sequence of blocks obtained from a [block.Allocator], with an
// optional cache of freed blocks kept around for reuse.
//
// This generalizes the teacher package's [Arena]/[Recycled] pair: rather
// than pulling chunks straight from the Go heap via reflection tricks, the
// arena here pulls [memalloc.MemoryBlock]s from an injected
// [block.Allocator] — the teacher's block-growth policy becomes the
// arena's *cache* policy, not its *source*.
package arena

import (
	"runtime"
	"unsafe"

	"github.com/flier/memalloc/internal/debug"
	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/block"
	"github.com/flier/memalloc/pkg/xunsafe"
)

type node struct {
	block memalloc.MemoryBlock
	next  *node
}

// Arena holds a block allocator and two intrusive singly-linked stacks:
// used (blocks currently in play) and cached (blocks freed but kept
// around for reuse). Deallocation is strictly LIFO relative to
// allocation.
type Arena struct {
	Options memalloc.Options

	blocks block.Allocator
	cache  bool

	used      *node
	cached    *node
	numUsed   int
	numCached int
	freeNodes *node // recycled node headers, so growth doesn't re-allocate them.
	info      memalloc.Info
	closed    bool
}

// New constructs an Arena over the given block allocator. If cached is
// false, a deallocated block is returned to the block allocator
// immediately instead of being kept in the arena's cache.
//
// A finalizer is always installed; it is a no-op unless Options.
// DebugLeakCheck is set and the arena is collected without Close ever
// having been called while blocks were still in use.
func New(blocks block.Allocator, cached bool) *Arena {
	a := &Arena{blocks: blocks, cache: cached, Options: memalloc.Default}
	a.info = memalloc.Info{Name: "arena", Address: unsafe.Pointer(a)}
	runtime.SetFinalizer(a, (*Arena).reportLeakIfOpen)
	return a
}

// reportLeakIfOpen runs as a's finalizer: an arena collected with blocks
// still in use and Close never called leaked whatever those blocks held,
// since nothing will ever return them now.
func (a *Arena) reportLeakIfOpen() {
	if a.closed || !a.Options.DebugLeakCheck || a.used == nil {
		return
	}

	leaked := 0
	for n := a.used; n != nil; n = n.next {
		leaked += n.block.Size
	}
	memalloc.ReportLeak(a.info, leaked)
}

func (a *Arena) newNode(b memalloc.MemoryBlock) *node {
	if n := a.freeNodes; n != nil {
		a.freeNodes = n.next
		n.block, n.next = b, nil
		return n
	}
	return &node{block: b}
}

// AllocateBlock pops a block from the cache if one is available, else
// asks the block allocator for a fresh one, and pushes it onto used.
func (a *Arena) AllocateBlock() (memalloc.MemoryBlock, error) {
	if a.cached != nil {
		n := a.cached
		a.cached = n.next
		a.numCached--

		n.next = a.used
		a.used = n
		a.numUsed++

		debug.Log(nil, "allocate_block", "reused %p:%d", n.block.Memory, n.block.Size)
		return n.block, nil
	}

	b, err := a.blocks.AllocateBlock()
	if err != nil {
		return memalloc.MemoryBlock{}, err
	}

	n := a.newNode(b)
	n.next = a.used
	a.used = n
	a.numUsed++

	debug.Log(nil, "allocate_block", "fresh %p:%d", b.Memory, b.Size)
	return b, nil
}

// DeallocateBlock pops the top-of-stack used block and either caches it
// or returns it to the block allocator, in strict LIFO order.
func (a *Arena) DeallocateBlock() {
	debug.Assert(a.used != nil, "deallocate_block called on an empty arena")

	n := a.used
	a.used = n.next
	a.numUsed--

	if a.cache {
		n.next = a.cached
		a.cached = n
		a.numCached++
		debug.Log(nil, "deallocate_block", "cached %p:%d", n.block.Memory, n.block.Size)
		return
	}

	a.blocks.DeallocateBlock(n.block)
	n.next = a.freeNodes
	a.freeNodes = n
	debug.Log(nil, "deallocate_block", "returned %p:%d", n.block.Memory, n.block.Size)
}

// CurrentBlock returns the top-of-stack block, or false if the arena has
// no blocks in use.
func (a *Arena) CurrentBlock() (memalloc.MemoryBlock, bool) {
	if a.used == nil {
		return memalloc.MemoryBlock{}, false
	}
	return a.used.block, true
}

// Size returns the number of blocks currently in use.
func (a *Arena) Size() int { return a.numUsed }

// CachedSize returns the number of blocks held in the freed-block cache.
func (a *Arena) CachedSize() int { return a.numCached }

// Owns reports whether p lies within some block currently in use. This is
// a linear scan, O(blocks in use).
func (a *Arena) Owns(p unsafe.Pointer) bool {
	addr := xunsafe.AddrOf((*byte)(p))
	for n := a.used; n != nil; n = n.next {
		base := xunsafe.AddrOf((*byte)(n.block.Memory))
		if addr >= base && addr < base.Add(n.block.Size) {
			return true
		}
	}
	return false
}

// ShrinkToFit drains the freed-block cache back to the block allocator,
// in the reverse of the order the blocks were cached in.
func (a *Arena) ShrinkToFit() {
	for a.cached != nil {
		n := a.cached
		a.cached = n.next
		a.numCached--

		a.blocks.DeallocateBlock(n.block)

		n.next = a.freeNodes
		a.freeNodes = n
	}
}

// NextBlockSize previews the size of the next block the arena would pull
// from its block allocator (ignoring the cache).
func (a *Arena) NextBlockSize() int { return a.blocks.NextBlockSize() }

// Close is the arena's deliberate teardown: every block, used and
// cached, is handed back to the block allocator. Calling Close marks
// the teardown as clean, so the leak finalizer never fires for it —
// leak detection exists for the case where an arena is abandoned
// (garbage collected) without ever being closed.
func (a *Arena) Close() {
	if a.closed {
		return
	}
	a.closed = true
	runtime.SetFinalizer(a, nil)

	for a.used != nil {
		n := a.used
		a.used = n.next
		a.numUsed--
		a.blocks.DeallocateBlock(n.block)
	}

	a.ShrinkToFit()
}

func (a *Arena) Info() memalloc.Info { return a.info }
