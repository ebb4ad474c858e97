package memalloc

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// LeakHandler is invoked by an arena's finalizer when, with
// Options.DebugLeakCheck set, the arena is collected without Close while
// blocks are still in use; the count is the total size of those blocks.
// No other allocator reports leaks, and no allocated-minus-freed byte
// balance is kept. It never aborts the process by default.
type LeakHandler func(info Info, amount int)

// InvalidPointerHandler is invoked when a deallocation is handed a pointer
// this allocator did not issue. Requires debug_pointer_check.
type InvalidPointerHandler func(info Info, ptr unsafe.Pointer)

// OverflowHandler is invoked when fence bytes around an allocation have
// been corrupted. Requires debug_fill with a non-zero fence.
type OverflowHandler func(block MemoryBlock, size int, writePtr unsafe.Pointer)

var (
	leakHandler     atomic.Pointer[LeakHandler]
	ptrHandler      atomic.Pointer[InvalidPointerHandler]
	overflowHandler atomic.Pointer[OverflowHandler]
)

func init() {
	def := LeakHandler(defaultLeakHandler)
	leakHandler.Store(&def)

	ptr := InvalidPointerHandler(defaultInvalidPointerHandler)
	ptrHandler.Store(&ptr)

	overflow := OverflowHandler(defaultOverflowHandler)
	overflowHandler.Store(&overflow)
}

// SetLeakHandler atomically swaps the process-wide leak handler, returning
// the previous one.
func SetLeakHandler(h LeakHandler) LeakHandler {
	old := leakHandler.Swap(&h)
	return *old
}

// SetInvalidPointerHandler atomically swaps the process-wide
// invalid-pointer handler, returning the previous one.
func SetInvalidPointerHandler(h InvalidPointerHandler) InvalidPointerHandler {
	old := ptrHandler.Swap(&h)
	return *old
}

// SetOverflowHandler atomically swaps the process-wide buffer-overflow
// handler, returning the previous one.
func SetOverflowHandler(h OverflowHandler) OverflowHandler {
	old := overflowHandler.Swap(&h)
	return *old
}

// ReportLeak invokes the current leak handler. Never aborts.
func ReportLeak(info Info, amount int) {
	if amount == 0 {
		return
	}
	(*leakHandler.Load())(info, amount)
}

// ReportInvalidPointer invokes the current invalid-pointer handler.
func ReportInvalidPointer(info Info, ptr unsafe.Pointer) {
	(*ptrHandler.Load())(info, ptr)
}

// ReportOverflow invokes the current buffer-overflow handler.
func ReportOverflow(block MemoryBlock, size int, writePtr unsafe.Pointer) {
	(*overflowHandler.Load())(block, size, writePtr)
}

func defaultLeakHandler(info Info, amount int) {
	fmt.Fprintf(os.Stderr, "memalloc: leak detected in %v: %d bytes never deallocated\n", info, amount)
}

func defaultInvalidPointerHandler(info Info, ptr unsafe.Pointer) {
	fmt.Fprintf(os.Stderr, "memalloc: invalid pointer %p passed to %v\n", ptr, info)
	os.Exit(2)
}

func defaultOverflowHandler(block MemoryBlock, size int, writePtr unsafe.Pointer) {
	fmt.Fprintf(os.Stderr, "memalloc: buffer overflow detected: block %p/%d, write at %p\n",
		block.Memory, size, writePtr)
	os.Exit(2)
}
