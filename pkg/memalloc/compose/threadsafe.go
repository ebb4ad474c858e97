package compose

import (
	"sync"
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
)

// ThreadSafe wraps a raw allocator behind a real mutex: every call
// acquires it for the call's duration, unlike storage.AllocatorStorage's
// NoopMutex choice for stateless allocators.
type ThreadSafe struct {
	mu    sync.Mutex
	Alloc memalloc.Allocator
}

var _ memalloc.Allocator = (*ThreadSafe)(nil)

// NewThreadSafe wraps a behind a mutex.
func NewThreadSafe(a memalloc.Allocator) *ThreadSafe { return &ThreadSafe{Alloc: a} }

func (t *ThreadSafe) AllocateNode(size, alignment int) unsafe.Pointer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Alloc.AllocateNode(size, alignment)
}

func (t *ThreadSafe) AllocateArray(count, size, alignment int) unsafe.Pointer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Alloc.AllocateArray(count, size, alignment)
}

func (t *ThreadSafe) DeallocateNode(p unsafe.Pointer, size, alignment int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Alloc.DeallocateNode(p, size, alignment)
}

func (t *ThreadSafe) DeallocateArray(p unsafe.Pointer, count, size, alignment int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Alloc.DeallocateArray(p, count, size, alignment)
}

func (t *ThreadSafe) MaxNodeSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Alloc.MaxNodeSize()
}

func (t *ThreadSafe) MaxArraySize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Alloc.MaxArraySize()
}

func (t *ThreadSafe) MaxAlignment() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Alloc.MaxAlignment()
}
