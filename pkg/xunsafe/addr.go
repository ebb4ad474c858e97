//go:build go1.20

package xunsafe

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/flier/memalloc/pkg/xunsafe/layout"
)

// Addr is an untyped address, scaled by the size of E.
//
// It behaves like a *E, except that it is comparable, can be zero without
// being a nil pointer dereference hazard, and supports arithmetic that a raw
// Go pointer does not.
type Addr[E any] uintptr

// AddrOf returns the address of p.
func AddrOf[P ~*E, E any](p P) Addr[E] {
	return Addr[E](unsafe.Pointer(p))
}

// EndOf returns the address just past the end of s.
func EndOf[S ~[]E, E any](s S) Addr[E] {
	return AddrOf(unsafe.SliceData(s)).Add(len(s))
}

// AssertValid converts this address back into a pointer.
//
// Returns nil if the address is zero.
func (a Addr[E]) AssertValid() *E {
	return (*E)(unsafe.Pointer(uintptr(a)))
}

// Add adds n elements worth of offset to a.
func (a Addr[E]) Add(n int) Addr[E] {
	return a + Addr[E](n*layout.Size[E]())
}

// ByteAdd adds n bytes of offset to a.
func (a Addr[E]) ByteAdd(n int) Addr[E] {
	return a + Addr[E](n)
}

// Sub computes the difference between a and b, in units of E.
func (a Addr[E]) Sub(b Addr[E]) int {
	return int(a-b) / layout.Size[E]()
}

// Padding returns the number of bytes needed to round a up to align.
func (a Addr[E]) Padding(align int) int {
	return layout.Padding(int(a), align)
}

// RoundUpTo rounds a up to the given alignment.
func (a Addr[E]) RoundUpTo(align int) Addr[E] {
	return Addr[E](layout.RoundUp(int(a), align))
}

// SignBit returns whether the top bit of a is set.
func (a Addr[E]) SignBit() bool {
	return bits.UintSize == 64 && int64(a) < 0 || bits.UintSize == 32 && int32(a) < 0
}

// SignBitMask returns an address that is all-ones if SignBit is set, and
// all-zeros otherwise.
func (a Addr[E]) SignBitMask() Addr[E] {
	if a.SignBit() {
		return ^Addr[E](0)
	}
	return 0
}

// ClearSignBit returns a with its top bit cleared.
func (a Addr[E]) ClearSignBit() Addr[E] {
	return a &^ (Addr[E](1) << (bits.UintSize - 1))
}

// Format implements fmt.Formatter, printing the address in hexadecimal.
func (a Addr[E]) Format(s fmt.State, verb rune) {
	switch verb {
	case 'x':
		fmt.Fprintf(s, "%x", uintptr(a))
	default:
		fmt.Fprintf(s, "0x%x", uintptr(a))
	}
}
