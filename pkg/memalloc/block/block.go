// Package block implements the block-allocator contract (spec component
// C2): producing and returning whole-lifetime [memalloc.MemoryBlock]s.
package block

import (
	"unsafe"

	"github.com/flier/memalloc/internal/debug"
	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/provider"
	"github.com/flier/memalloc/pkg/xunsafe"
)

// Allocator produces and reclaims whole blocks of memory for an arena to
// subdivide.
type Allocator interface {
	// AllocateBlock returns a new block, or an error (typically
	// [memalloc.OutOfMemory] or [memalloc.OutOfFixedMemory]).
	AllocateBlock() (memalloc.MemoryBlock, error)

	// DeallocateBlock returns a block previously obtained from
	// AllocateBlock. Callers must deallocate in LIFO order relative to
	// allocation.
	DeallocateBlock(b memalloc.MemoryBlock)

	// NextBlockSize previews the size AllocateBlock would return right
	// now, without allocating.
	NextBlockSize() int
}

// Growing allocates blocks of geometrically increasing size (spec §4.2).
//
// Each call returns CurrentSize bytes, then multiplies CurrentSize by a
// rational growth factor (default 2/1).
type Growing struct {
	Provider provider.Provider
	Align    int

	// GrowthNum/GrowthDen form the rational growth factor; default 2/1.
	GrowthNum, GrowthDen int

	currentSize int
	info        memalloc.Info
}

var _ Allocator = (*Growing)(nil)

// NewGrowing constructs a Growing block allocator seeded at initialSize,
// doubling by default.
func NewGrowing(p provider.Provider, initialSize, align int) *Growing {
	g := &Growing{Provider: p, Align: align, GrowthNum: 2, GrowthDen: 1, currentSize: initialSize}
	g.info = memalloc.Info{Name: "growing_block_allocator", Address: unsafe.Pointer(g)}
	return g
}

func (g *Growing) NextBlockSize() int { return g.currentSize }

func (g *Growing) AllocateBlock() (memalloc.MemoryBlock, error) {
	size := g.currentSize
	p, ok := g.Provider.Allocate(size, g.Align)
	if !ok {
		return memalloc.MemoryBlock{}, &memalloc.OutOfMemory{Info: g.info, Requested: size}
	}

	debug.Log(nil, "allocate_block", "%p:%d", p, size)

	if g.GrowthNum == 0 {
		g.GrowthNum, g.GrowthDen = 2, 1
	}
	g.currentSize = size * g.GrowthNum / g.GrowthDen

	return memalloc.MemoryBlock{Memory: p, Size: size}, nil
}

func (g *Growing) DeallocateBlock(b memalloc.MemoryBlock) {
	g.Provider.Deallocate(b.Memory, b.Size, g.Align)
}

func (g *Growing) Info() memalloc.Info { return g.info }

// Fixed allocates blocks of a constant size, and fails once a fixed count
// of blocks has been handed out (spec §4.2).
type Fixed struct {
	Provider  provider.Provider
	BlockSize int
	Align     int

	remaining int
	info      memalloc.Info
}

var _ Allocator = (*Fixed)(nil)

// NewFixed constructs a Fixed block allocator that will serve exactly
// count blocks of blockSize bytes before failing.
func NewFixed(p provider.Provider, blockSize, align, count int) *Fixed {
	f := &Fixed{Provider: p, BlockSize: blockSize, Align: align, remaining: count}
	f.info = memalloc.Info{Name: "fixed_block_allocator", Address: unsafe.Pointer(f)}
	return f
}

func (f *Fixed) NextBlockSize() int { return f.BlockSize }

func (f *Fixed) AllocateBlock() (memalloc.MemoryBlock, error) {
	if f.remaining == 0 {
		return memalloc.MemoryBlock{}, &memalloc.OutOfFixedMemory{Info: f.info, Requested: f.BlockSize}
	}

	p, ok := f.Provider.Allocate(f.BlockSize, f.Align)
	if !ok {
		return memalloc.MemoryBlock{}, &memalloc.OutOfMemory{Info: f.info, Requested: f.BlockSize}
	}

	f.remaining--
	return memalloc.MemoryBlock{Memory: p, Size: f.BlockSize}, nil
}

func (f *Fixed) DeallocateBlock(b memalloc.MemoryBlock) {
	f.Provider.Deallocate(b.Memory, b.Size, f.Align)
	f.remaining++
}

func (f *Fixed) Remaining() int { return f.remaining }

func (f *Fixed) Info() memalloc.Info { return f.info }

// StaticBlock slices a single user-provided byte array into equal blocks.
// Allocation fails once the array is exhausted; deallocation only succeeds
// in LIFO order (spec §4.2).
type StaticBlock struct {
	buf       []byte
	blockSize int
	issued    int // number of blocks currently handed out, all from the front.
	info      memalloc.Info
}

var _ Allocator = (*StaticBlock)(nil)

// NewStaticBlock partitions buf into blocks of blockSize bytes.
func NewStaticBlock(buf []byte, blockSize int) *StaticBlock {
	s := &StaticBlock{buf: buf, blockSize: blockSize}
	s.info = memalloc.Info{Name: "static_block_allocator", Address: unsafe.Pointer(s)}
	return s
}

func (s *StaticBlock) NextBlockSize() int { return s.blockSize }

func (s *StaticBlock) AllocateBlock() (memalloc.MemoryBlock, error) {
	offset := s.issued * s.blockSize
	if offset+s.blockSize > len(s.buf) {
		return memalloc.MemoryBlock{}, &memalloc.OutOfFixedMemory{Info: s.info, Requested: s.blockSize}
	}

	p := unsafe.Pointer(&s.buf[offset])
	s.issued++
	return memalloc.MemoryBlock{Memory: p, Size: s.blockSize}, nil
}

// DeallocateBlock only succeeds if b is the most recently issued block;
// any other call is a precondition violation caught by debug.Assert.
func (s *StaticBlock) DeallocateBlock(b memalloc.MemoryBlock) {
	lastOffset := (s.issued - 1) * s.blockSize
	debug.Assert(s.issued > 0 && xunsafe.AddrOf((*byte)(b.Memory)) == xunsafe.AddrOf(&s.buf[lastOffset]),
		"static block allocator requires LIFO deallocation")
	s.issued--
}

func (s *StaticBlock) Info() memalloc.Info { return s.info }

// Virtual pre-reserves blockSize*blockCount pages of virtual address space
// and commits one block's worth of pages per AllocateBlock call (spec
// §4.2, §4.1).
type Virtual struct {
	VM        provider.VirtualMemory
	blockSize int // in pages
	reserved  provider.Reservation
	committed int // pages committed so far, from the front.
	info      memalloc.Info
}

var _ Allocator = (*Virtual)(nil)

// NewVirtual reserves blockPages*blockCount pages up front.
func NewVirtual(vm provider.VirtualMemory, blockPages, blockCount int) (*Virtual, error) {
	r, err := vm.Reserve(blockPages * blockCount)
	if err != nil {
		return nil, err
	}

	v := &Virtual{VM: vm, blockSize: blockPages, reserved: r}
	v.info = memalloc.Info{Name: "virtual_block_allocator", Address: unsafe.Pointer(v)}
	return v, nil
}

func (v *Virtual) NextBlockSize() int { return v.blockSize * v.VM.PageSize() }

func (v *Virtual) AllocateBlock() (memalloc.MemoryBlock, error) {
	if v.committed+v.blockSize > v.reserved.Pages() {
		return memalloc.MemoryBlock{}, &memalloc.OutOfFixedMemory{Info: v.info, Requested: v.NextBlockSize()}
	}

	if err := v.VM.Commit(v.reserved, v.committed, v.blockSize); err != nil {
		return memalloc.MemoryBlock{}, &memalloc.OutOfMemory{Info: v.info, Requested: v.NextBlockSize()}
	}

	p := v.reserved.Base(v.committed, v.VM.PageSize())
	v.committed += v.blockSize
	return memalloc.MemoryBlock{Memory: p, Size: v.blockSize * v.VM.PageSize()}, nil
}

func (v *Virtual) DeallocateBlock(b memalloc.MemoryBlock) {
	pages := b.Size / v.VM.PageSize()
	offset := v.committed - pages
	_ = v.VM.Decommit(v.reserved, offset, pages)
	v.committed = offset
}

func (v *Virtual) Info() memalloc.Info { return v.info }

// FromRaw adapts any raw [memalloc.Allocator] into a block allocator by
// routing block requests through AllocateArray(blockSize, 1, maxAlignment).
type FromRaw struct {
	Raw       memalloc.Allocator
	BlockSize int
}

var _ Allocator = FromRaw{}

func (r FromRaw) NextBlockSize() int { return r.BlockSize }

func (r FromRaw) AllocateBlock() (memalloc.MemoryBlock, error) {
	align := r.Raw.MaxAlignment()
	p := r.Raw.AllocateArray(r.BlockSize, 1, align)
	if p == nil {
		return memalloc.MemoryBlock{}, &memalloc.OutOfMemory{Info: memalloc.NameOf(r.Raw), Requested: r.BlockSize}
	}
	return memalloc.MemoryBlock{Memory: p, Size: r.BlockSize}, nil
}

func (r FromRaw) DeallocateBlock(b memalloc.MemoryBlock) {
	r.Raw.DeallocateArray(b.Memory, b.Size, 1, r.Raw.MaxAlignment())
}
