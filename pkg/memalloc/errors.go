package memalloc

import "fmt"

// OutOfMemory is raised when a primary block allocation fails.
//
// Upstream callers may catch it to try a fallback, but must never retry the
// same path: a fallback allocator only ever routes on a Composable's
// try-path failure, not on this error.
type OutOfMemory struct {
	Info      Info
	Requested int
}

func (e *OutOfMemory) Error() string {
	return fmt.Sprintf("%v: out of memory allocating %d bytes", e.Info, e.Requested)
}

// OutOfFixedMemory is raised when an arena cannot grow because its block
// allocator is fixed, static, or virtual and has been exhausted.
type OutOfFixedMemory struct {
	Info      Info
	Requested int
}

func (e *OutOfFixedMemory) Error() string {
	return fmt.Sprintf("%v: out of fixed memory allocating %d bytes", e.Info, e.Requested)
}

// BadNodeSize is raised when a raw request exceeds an allocator's
// MaxNodeSize. This is a programming error: it bypasses any fallback.
type BadNodeSize struct {
	Info      Info
	Passed    int
	Supported int
}

func (e *BadNodeSize) Error() string {
	return fmt.Sprintf("%v: node size %d exceeds supported size %d", e.Info, e.Passed, e.Supported)
}

// BadArraySize is raised when an array request exceeds an allocator's
// MaxArraySize or an arena's remaining capacity. A programming error.
type BadArraySize struct {
	Info      Info
	Passed    int
	Supported int
}

func (e *BadArraySize) Error() string {
	return fmt.Sprintf("%v: array size %d exceeds supported size %d", e.Info, e.Passed, e.Supported)
}

// BadAlignment is raised when a request's alignment exceeds what the
// allocator can supply. A programming error.
type BadAlignment struct {
	Info      Info
	Passed    int
	Supported int
}

func (e *BadAlignment) Error() string {
	return fmt.Sprintf("%v: alignment %d exceeds supported alignment %d", e.Info, e.Passed, e.Supported)
}
