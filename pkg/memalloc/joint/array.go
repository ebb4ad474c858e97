package joint

import (
	"fmt"
	"unsafe"

	"github.com/flier/memalloc/pkg/memalloc"
)

// Array is a fixed-capacity sequence of T bump-allocated out of a
// JointAllocator's remaining region. Once built its capacity never
// grows again; Close on the owning Ptr frees it along with everything
// else in the joint block.
type Array[T any] struct {
	data                unsafe.Pointer
	len, cap            int
	elemSize, elemAlign int
}

func newArray[T any](a *JointAllocator, capacity int) *Array[T] {
	var zero T
	size := int(unsafe.Sizeof(zero))
	align := int(unsafe.Alignof(zero))

	var p unsafe.Pointer
	if capacity > 0 {
		p = a.AllocateArray(capacity, size, align)
	}

	return &Array[T]{data: p, cap: capacity, elemSize: size, elemAlign: align}
}

// NewArray reserves a fixed-capacity array of capacity elements out of
// a's remaining region, all at once, up front.
func NewArray[T any](a *JointAllocator, capacity int) *Array[T] {
	return newArray[T](a, capacity)
}

// BuildArrayFromSeq builds an array of unknown final length: it claims
// every byte a has left as the array's capacity, then calls build with
// an append callback that bump-allocates one element at a time. If
// build (or the element constructor behind append) panics partway
// through, destroy is called, in reverse order, on every element
// already appended, and the panic is converted into an error — the
// exception-safe partial-construction rollback the spec calls for.
func BuildArrayFromSeq[T any](a *JointAllocator, build func(append func(T)), destroy func(*T)) (arr *Array[T], err error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 {
		size = 1
	}

	maxCount := a.end.Sub(a.top) / size
	arr = newArray[T](a, maxCount)

	defer func() {
		if r := recover(); r != nil {
			if destroy != nil {
				for i := arr.len - 1; i >= 0; i-- {
					destroy(arr.At(i))
				}
			}
			arr.len = 0
			err = fmt.Errorf("joint array construction failed: %v", r)
		}
	}()

	build(func(v T) { arr.bump(v) })
	return arr, nil
}

func (arr *Array[T]) slot(i int) *T {
	return (*T)(unsafe.Pointer(uintptr(arr.data) + uintptr(i*arr.elemSize)))
}

func (arr *Array[T]) bump(v T) *T {
	if arr.len >= arr.cap {
		panic(&memalloc.OutOfFixedMemory{Requested: arr.elemSize})
	}
	p := arr.slot(arr.len)
	*p = v
	arr.len++
	return p
}

// Len reports how many elements have been appended so far.
func (arr *Array[T]) Len() int { return arr.len }

// Cap reports the array's fixed capacity.
func (arr *Array[T]) Cap() int { return arr.cap }

// At returns a pointer to the i'th constructed element.
func (arr *Array[T]) At(i int) *T {
	if i < 0 || i >= arr.len {
		panic("joint: array index out of range")
	}
	return arr.slot(i)
}

// Slice views the constructed elements as a Go slice backed by the
// joint block; it stays valid only as long as the owning Ptr is open.
func (arr *Array[T]) Slice() []T {
	if arr.len == 0 {
		return nil
	}
	return unsafe.Slice((*T)(arr.data), arr.len)
}
