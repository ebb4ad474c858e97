package stack

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/timandy/routine"

	"github.com/flier/memalloc/internal/debug"
	"github.com/flier/memalloc/internal/xsync"
	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/arena"
	"github.com/flier/memalloc/pkg/memalloc/block"
	"github.com/flier/memalloc/pkg/memalloc/provider"
)

// GrowthTracker is invoked whenever a TemporaryStack pulls a new block
// from its arena. Returning an error prevents the growth; that error
// propagates out of the Allocate call that triggered it.
type GrowthTracker func(initialSize int) error

// registry is the process-wide goroutine-id -> *TemporaryStack table,
// the Go analogue of the spec's nifty-counter thread-local.
var registry xsync.Map[int64, *TemporaryStack]

var trackerMu sync.Mutex
var tracker GrowthTracker

// SetGrowthTracker installs a callback invoked whenever any
// TemporaryStack grows. Passing nil clears it.
func SetGrowthTracker(f GrowthTracker) {
	trackerMu.Lock()
	tracker = f
	trackerMu.Unlock()
}

// runGrowthTracker invokes the installed tracker, if any. It is wired
// into every TemporaryStack's Stack.OnGrow, so it fires on every block
// the stack pulls from its arena, not just the first.
func runGrowthTracker(size int) error {
	trackerMu.Lock()
	f := tracker
	trackerMu.Unlock()
	if f != nil {
		return f(size)
	}
	return nil
}

// TemporaryStack is a Stack owned by a single goroutine, recycled
// across its lifetime by goroutine id the way the spec's nifty-counter
// keeps one stack per thread alive for the process's duration.
type TemporaryStack struct {
	Stack
	goid int
}

// GetTemporaryStack returns the calling goroutine's stack, creating one
// seeded at initialSize on first call. Subsequent calls from the same
// goroutine ignore initialSize and return the existing stack.
func GetTemporaryStack(initialSize int) *TemporaryStack {
	goid := routine.Goid()

	if s, ok := registry.Load(goid); ok {
		return s
	}

	s, _ := registry.LoadOrStore(goid, func() *TemporaryStack {
		a := arena.New(block.NewGrowing(provider.Heap{}, initialSize, memalloc.MaxAlign), true)
		ts := &TemporaryStack{goid: int(goid)}
		ts.Arena = a
		ts.Options = memalloc.Default
		ts.OnGrow = runGrowthTracker
		debug.Log(nil, "get_temporary_stack", "created for goroutine %d, initial size %d", goid, initialSize)
		return ts
	})

	return s
}

// TemporaryStackInitializer is a scoped guard for callers that cannot
// rely on the registry's own lifecycle: its Close clears (but does not
// remove) the calling goroutine's stack.
type TemporaryStackInitializer struct {
	stack *TemporaryStack
}

// NewTemporaryStackInitializer ensures the calling goroutine's stack
// exists, creating it at initialSize if needed.
func NewTemporaryStackInitializer(initialSize int) *TemporaryStackInitializer {
	return &TemporaryStackInitializer{stack: GetTemporaryStack(initialSize)}
}

// Close unwinds the stack to empty. The stack object itself stays in
// the registry for reuse by the same goroutine.
func (t *TemporaryStackInitializer) Close() {
	t.stack.Unwind(Marker{})
}

var activeAllocators xsync.Map[int64, *TemporaryAllocator]

// TemporaryAllocator is a scoped raw allocator over the calling
// goroutine's TemporaryStack: it records the stack's top at construction
// and unwinds to it at Close. Only the innermost live TemporaryAllocator
// for a goroutine may allocate — nesting is enforced like a stack of
// active allocators, matching spec §4.8.
type TemporaryAllocator struct {
	stack       *TemporaryStack
	marker      Marker
	prev        *TemporaryAllocator
	shrinkToFit bool
	closed      bool
}

// NewTemporaryAllocator pushes a new scope onto the calling goroutine's
// active-allocator stack. If shrinkToFit is true, Close also releases
// unused arena blocks.
func NewTemporaryAllocator(shrinkToFit bool) *TemporaryAllocator {
	goid := routine.Goid()
	s := GetTemporaryStack(4096)

	a := &TemporaryAllocator{stack: s, marker: s.Top(), shrinkToFit: shrinkToFit}
	if prev, ok := activeAllocators.Load(goid); ok {
		a.prev = prev
	}
	activeAllocators.Store(goid, a)

	if s.Options.DebugLeakCheck {
		runtime.SetFinalizer(a, (*TemporaryAllocator).reportLeakIfOpen)
	}

	return a
}

// reportLeakIfOpen runs as a's finalizer when DebugLeakCheck is set: a
// scope collected without ever calling Close leaked whatever it bumped
// the stack by, since nothing will ever unwind past its marker now.
func (a *TemporaryAllocator) reportLeakIfOpen() {
	if a.closed {
		return
	}

	amount := 1
	if a.stack.blockIndex == a.marker.blockIndex {
		amount = a.stack.top.Sub(a.marker.top)
	}
	memalloc.ReportLeak(a.stack.Info(), amount)
}

func (a *TemporaryAllocator) assertTop() {
	goid := routine.Goid()
	top, _ := activeAllocators.Load(goid)
	debug.Assert(top == a, "temporary_allocator used out of nesting order")
}

// Allocate requests size bytes aligned to alignment from the underlying
// temporary stack. Only the innermost active TemporaryAllocator for the
// calling goroutine may call this. Every block the stack grows into
// along the way runs through the installed GrowthTracker, via the
// stack's own OnGrow hook.
func (a *TemporaryAllocator) Allocate(size, alignment int) (p any, err error) {
	a.assertTop()

	ptr, err := a.stack.Allocate(size, alignment)
	if err != nil {
		return nil, fmt.Errorf("memalloc: temporary allocator growth rejected: %w", err)
	}
	return ptr, nil
}

// Close unwinds the stack to this scope's marker and pops it from the
// goroutine's active-allocator stack.
func (a *TemporaryAllocator) Close() {
	if a.closed {
		return
	}
	a.closed = true
	runtime.SetFinalizer(a, nil)

	a.stack.Unwind(a.marker)
	if a.shrinkToFit {
		a.stack.ShrinkToFit()
	}

	goid := routine.Goid()
	if a.prev != nil {
		activeAllocators.Store(goid, a.prev)
	} else {
		activeAllocators.Store(goid, nil)
	}
}
