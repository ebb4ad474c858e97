// Package storage implements storage policies and allocator storage
// (spec component C9): the several ways a raw allocator can be held by
// a higher-level adapter, plus the scoped lock handle used to reach it
// safely from multiple goroutines.
package storage

import (
	"reflect"
	"sync"
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
)

// Storage exposes the allocator a storage policy holds, erased to the
// common raw-allocator interface.
type Storage interface {
	Allocator() memalloc.Allocator
}

// Direct owns its allocator by value: the common case, zero indirection.
type Direct[A memalloc.Allocator] struct {
	alloc A
}

// NewDirect stores a by value.
func NewDirect[A memalloc.Allocator](a A) *Direct[A] { return &Direct[A]{alloc: a} }

func (d *Direct[A]) Get() A                      { return d.alloc }
func (d *Direct[A]) Allocator() memalloc.Allocator { return d.alloc }

// Reference is a non-owning handle to an allocator that outlives it. A
// stateless Reference holds nothing and default-constructs A on demand,
// matching the spec's "stateless -> empty, reconstruct on demand" shape.
type Reference[A memalloc.Allocator] struct {
	ptr       *A
	stateless bool
}

// NewReference stores a non-owning pointer to a stateful allocator.
func NewReference[A memalloc.Allocator](a *A) *Reference[A] { return &Reference[A]{ptr: a} }

// NewStatelessReference builds a reference that holds nothing and
// zero-constructs A every time it is dereferenced.
func NewStatelessReference[A memalloc.Allocator]() *Reference[A] { return &Reference[A]{stateless: true} }

func (r *Reference[A]) Get() A {
	if r.stateless || r.ptr == nil {
		var zero A
		return zero
	}
	return *r.ptr
}

func (r *Reference[A]) Allocator() memalloc.Allocator { return r.Get() }

// Shared stores its allocator by value, the same as Direct, but
// documents that A is itself a reference-like handle (e.g. already wraps
// a pointer or shared ownership), matching the spec's third reference
// shape.
type Shared[A memalloc.Allocator] struct {
	alloc A
}

// NewShared stores a by value.
func NewShared[A memalloc.Allocator](a A) *Shared[A] { return &Shared[A]{alloc: a} }

func (s *Shared[A]) Get() A                      { return s.alloc }
func (s *Shared[A]) Allocator() memalloc.Allocator { return s.alloc }

// AnyReference type-erases any memalloc.Composable behind a fixed
// interface dispatch ("vtable"), so heterogeneous allocators can share
// one storage slot. Count == 1 dispatches to the node primitives; any
// other count dispatches to the array primitives, exactly as the spec's
// any_reference_storage describes.
type AnyReference struct {
	alloc memalloc.Composable
}

// NewAnyReference wraps a for type-erased storage.
func NewAnyReference(a memalloc.Composable) AnyReference { return AnyReference{alloc: a} }

// Allocate dispatches to AllocateNode when count == 1, else AllocateArray.
func (r AnyReference) Allocate(count, size, alignment int) unsafe.Pointer {
	if count == 1 {
		return r.alloc.AllocateNode(size, alignment)
	}
	return r.alloc.AllocateArray(count, size, alignment)
}

// Deallocate dispatches to DeallocateNode when count == 1, else
// DeallocateArray.
func (r AnyReference) Deallocate(p unsafe.Pointer, count, size, alignment int) {
	if count == 1 {
		r.alloc.DeallocateNode(p, size, alignment)
		return
	}
	r.alloc.DeallocateArray(p, count, size, alignment)
}

// TryAllocate dispatches to TryAllocateNode when count == 1, else
// TryAllocateArray.
func (r AnyReference) TryAllocate(count, size, alignment int) unsafe.Pointer {
	if count == 1 {
		return r.alloc.TryAllocateNode(size, alignment)
	}
	return r.alloc.TryAllocateArray(count, size, alignment)
}

// TryDeallocate dispatches to TryDeallocateNode when count == 1, else
// TryDeallocateArray.
func (r AnyReference) TryDeallocate(p unsafe.Pointer, count, size, alignment int) bool {
	if count == 1 {
		return r.alloc.TryDeallocateNode(p, size, alignment)
	}
	return r.alloc.TryDeallocateArray(p, count, size, alignment)
}

func (r AnyReference) IsComposable() bool { return r.alloc != nil }

// Clone returns a copy of this reference. AnyReference holds its
// allocator by interface value, so cloning is a plain copy; if alloc is
// itself a pointer-identity allocator, the clone shares it.
func (r AnyReference) Clone() AnyReference { return r }

func (r AnyReference) Allocator() memalloc.Allocator { return r.alloc }

func (r AnyReference) MaxNodeSize() int  { return r.alloc.MaxNodeSize() }
func (r AnyReference) MaxArraySize() int { return r.alloc.MaxArraySize() }
func (r AnyReference) MaxAlignment() int { return r.alloc.MaxAlignment() }

// Mutex is the minimal surface AllocatorStorage needs; *sync.Mutex and
// NoopMutex both satisfy it.
type Mutex interface {
	Lock()
	Unlock()
}

// NoopMutex is used for stateless (and therefore trivially thread-safe)
// allocators, avoiding pointless synchronization.
type NoopMutex struct{}

func (NoopMutex) Lock()   {}
func (NoopMutex) Unlock() {}

// IsStateless reports whether a's dynamic type carries no data — the
// spec's is_thread_safe_allocator trait, approximated at runtime since
// Go has no compile-time emptiness trait.
func IsStateless(a memalloc.Allocator) bool {
	v := reflect.ValueOf(a)
	if !v.IsValid() {
		return true
	}
	if v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		return false
	}
	return v.Type().Size() == 0
}

// AllocatorStorage composes a Storage with a mutex selected by whether
// its allocator is stateless.
type AllocatorStorage struct {
	storage Storage
	mutex   Mutex
}

// NewAllocatorStorage wraps s, picking a NoopMutex if s's allocator is
// stateless and a real mutex otherwise.
func NewAllocatorStorage(s Storage) *AllocatorStorage {
	as := &AllocatorStorage{storage: s}
	if IsStateless(s.Allocator()) {
		as.mutex = NoopMutex{}
	} else {
		as.mutex = &sync.Mutex{}
	}
	return as
}

// Handle is returned by AllocatorStorage.Lock: it holds the storage's
// mutex until Unlock is called, and dereferences to the underlying
// allocator.
type Handle struct {
	storage *AllocatorStorage
}

// Lock acquires the storage's mutex and returns a scoped handle. The
// caller must call Unlock exactly once.
func (s *AllocatorStorage) Lock() *Handle {
	s.mutex.Lock()
	return &Handle{storage: s}
}

// Allocator dereferences the handle to the underlying allocator.
func (h *Handle) Allocator() memalloc.Allocator { return h.storage.storage.Allocator() }

// Unlock releases the storage's mutex.
func (h *Handle) Unlock() { h.storage.mutex.Unlock() }
