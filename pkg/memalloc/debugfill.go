package memalloc

import "unsafe"

// Fill bytes, one per semantic category (spec §6). An allocation path that
// claims to fill must fill exactly these patterns.
const (
	FillInternalAlloc byte = 0xAB
	FillInternalFreed byte = 0xFB
	FillNewMemory     byte = 0xCD
	FillFreedMemory   byte = 0xDD
	FillAlignPadding  byte = 0xED
	FillFence         byte = 0xFD
)

// Options is the compile-time/global configuration table from spec §6.
// Code in this module reads Default unless a caller threads its own
// Options through; there is no compile-time specialization in Go, so the
// knobs that the spec calls "compile-time" are just struct fields here.
type Options struct {
	// CheckAllocationSize raises BadNodeSize/BadArraySize/BadAlignment
	// instead of leaving size/alignment violations as undefined behavior.
	CheckAllocationSize bool

	// DebugFill enables writing the byte-pattern table on every
	// allocation-relevant state change.
	DebugFill bool

	// DebugFence is the byte count placed before and after every
	// allocation when DebugFill is set.
	DebugFence int

	// DebugLeakCheck, set on an arena, makes the arena's finalizer fire
	// the leak handler with the total size of the blocks still in use if
	// the arena is collected without Close. No per-allocator byte
	// balance is kept, and Close itself reports nothing.
	DebugLeakCheck bool

	// DebugPointerCheck validates that a deallocated pointer was issued
	// by this allocator.
	DebugPointerCheck bool

	// DebugDoubleDeallocCheck validates that a slot is currently owned by
	// the caller before it is freed again. Requires an ordered free list.
	DebugDoubleDeallocCheck bool
}

// Default is the configuration used when callers don't supply their own
// Options: all debug_* knobs off except CheckAllocationSize, matching a
// release build that still rejects obviously-wrong requests.
var Default = Options{CheckAllocationSize: true}

// FillFenceBytes writes n fence bytes starting at p.
func FillFenceBytes(p unsafe.Pointer, n int) {
	if n <= 0 {
		return
	}
	s := unsafe.Slice((*byte)(p), n)
	for i := range s {
		s[i] = FillFence
	}
}

// FillBytes writes pattern n times starting at p.
func FillBytes(p unsafe.Pointer, n int, pattern byte) {
	if n <= 0 {
		return
	}
	s := unsafe.Slice((*byte)(p), n)
	for i := range s {
		s[i] = pattern
	}
}

// FenceOk reports whether the n bytes at p are all still the fence
// pattern, i.e. that nothing wrote past the allocation they guard.
func FenceOk(p unsafe.Pointer, n int) bool {
	if n <= 0 {
		return true
	}
	s := unsafe.Slice((*byte)(p), n)
	for _, b := range s {
		if b != FillFence {
			return false
		}
	}
	return true
}
