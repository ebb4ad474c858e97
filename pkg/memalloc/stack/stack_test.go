package stack_test

import (
	"testing"
	"unsafe"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/arena"
	"github.com/flier/memalloc/pkg/memalloc/block"
	"github.com/flier/memalloc/pkg/memalloc/provider"
	"github.com/flier/memalloc/pkg/memalloc/stack"
)

func TestStack(t *testing.T) {
	Convey("Given a Stack over a 256-byte Growing arena", t, func() {
		a := arena.New(block.NewGrowing(provider.Heap{}, 256, 8), false)
		s := stack.New(a)

		Convey("When allocating 32 bytes", func() {
			p, err := s.Allocate(32, 8)
			So(err, ShouldBeNil)
			So(p, ShouldNotBeNil)

			Convey("Then a marker captured before it unwinds correctly", func() {
				m := s.Top()

				p1, err := s.Allocate(32, 8)
				So(err, ShouldBeNil)

				s.Unwind(m)
				p2, err := s.Allocate(32, 8)
				So(err, ShouldBeNil)
				So(p2, ShouldEqual, p1)
			})
		})

		Convey("When allocating more than the current block holds", func() {
			_, err := s.Allocate(512, 8)

			Convey("Then it grows the arena and succeeds", func() {
				So(err, ShouldBeNil)
				So(a.Size(), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When a marker spans a block boundary", func() {
			m := s.Top()
			_, err := s.Allocate(512, 8)
			So(err, ShouldBeNil)
			blocksAfterGrowth := a.Size()

			Convey("Then unwinding to it deallocates the grown block", func() {
				s.Unwind(m)
				So(a.Size(), ShouldBeLessThan, blocksAfterGrowth)
			})
		})

		Convey("When using TryAllocate on an empty stack", func() {
			fresh := stack.New(arena.New(block.NewGrowing(provider.Heap{}, 16, 8), false))

			Convey("Then it returns nil instead of growing", func() {
				So(fresh.TryAllocate(8, 8), ShouldBeNil)
			})
		})
	})

	Convey("Given a Stack with an OnGrow hook installed", t, func() {
		a := arena.New(block.NewGrowing(provider.Heap{}, 64, 8), false)
		s := stack.New(a)

		var grown []int
		s.OnGrow = func(size int) error {
			grown = append(grown, size)
			return nil
		}

		Convey("When the stack outgrows its first, second, and third block", func() {
			_, err := s.Allocate(64, 8)
			So(err, ShouldBeNil)
			_, err = s.Allocate(128, 8)
			So(err, ShouldBeNil)
			_, err = s.Allocate(256, 8)
			So(err, ShouldBeNil)

			Convey("Then OnGrow fired once per block, not just the first", func() {
				So(grown, ShouldResemble, []int{64, 128, 256})
			})
		})

		Convey("When OnGrow rejects the growth", func() {
			s.OnGrow = func(size int) error { return assertErr }

			Convey("Then Allocate propagates the rejection instead of growing", func() {
				_, err := s.Allocate(64, 8)
				So(err, ShouldEqual, assertErr)
				So(a.Size(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a Stack with DebugFill and a non-zero fence", t, func() {
		a := arena.New(block.NewGrowing(provider.Heap{}, 256, 8), false)
		s := stack.New(a)
		s.Options = memalloc.Options{DebugFill: true, DebugFence: 8}

		var overflowed bool
		prev := memalloc.SetOverflowHandler(func(block memalloc.MemoryBlock, size int, writePtr unsafe.Pointer) {
			overflowed = true
		})
		defer memalloc.SetOverflowHandler(prev)

		Convey("When an allocation's trailing fence is left intact", func() {
			m := s.Top()
			_, err := s.Allocate(16, 8)
			So(err, ShouldBeNil)

			s.Unwind(m)

			Convey("Then no overflow is reported", func() {
				So(overflowed, ShouldBeFalse)
			})
		})

		Convey("When something writes past an allocation into its trailing fence", func() {
			m := s.Top()
			p, err := s.Allocate(16, 8)
			So(err, ShouldBeNil)

			end := (*byte)(unsafe.Add(p, 16))
			*end = 0x41

			s.Unwind(m)

			Convey("Then the overflow handler fires", func() {
				So(overflowed, ShouldBeTrue)
			})
		})
	})

	Convey("Given a Stack built over a caching Arena with DebugLeakCheck", t, func() {
		a := arena.New(block.NewGrowing(provider.Heap{}, 64, 8), true)
		a.Options.DebugLeakCheck = true
		s := stack.New(a)

		leaked := false
		prev := memalloc.SetLeakHandler(func(info memalloc.Info, amount int) {
			leaked = amount > 0
		})
		defer memalloc.SetLeakHandler(prev)

		Convey("When Close runs after every allocation has been unwound", func() {
			_, err := s.Allocate(32, 8)
			So(err, ShouldBeNil)
			s.Unwind(stack.Marker{})

			s.Close()

			Convey("Then nothing is reported leaked", func() {
				So(leaked, ShouldBeFalse)
			})
		})
	})
}

var assertErr = errAssert{}

type errAssert struct{}

func (errAssert) Error() string { return "stack_test: growth rejected" }
