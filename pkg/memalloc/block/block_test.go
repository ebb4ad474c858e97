package block_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/block"
	"github.com/flier/memalloc/pkg/memalloc/provider"
	"github.com/flier/memalloc/pkg/xerrors"
)

func TestGrowing(t *testing.T) {
	Convey("Given a Growing block allocator seeded at 64 bytes", t, func() {
		g := block.NewGrowing(provider.Heap{}, 64, 8)

		Convey("When allocating the first block", func() {
			b, err := g.AllocateBlock()

			Convey("Then it is 64 bytes", func() {
				So(err, ShouldBeNil)
				So(b.Size, ShouldEqual, 64)
			})

			Convey("Then the next block doubles", func() {
				So(g.NextBlockSize(), ShouldEqual, 128)
			})
		})
	})
}

func TestFixed(t *testing.T) {
	Convey("Given a Fixed block allocator with 2 blocks of 32 bytes", t, func() {
		f := block.NewFixed(provider.Heap{}, 32, 8, 2)

		Convey("When allocating all blocks", func() {
			b1, err1 := f.AllocateBlock()
			b2, err2 := f.AllocateBlock()

			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(b1.Size, ShouldEqual, 32)
			So(b2.Size, ShouldEqual, 32)

			Convey("Then a third allocation fails with OutOfFixedMemory", func() {
				_, err := f.AllocateBlock()
				So(err, ShouldNotBeNil)

				_, ok := xerrors.AsA[*memalloc.OutOfFixedMemory](err)
				So(ok, ShouldBeTrue)
			})

			Convey("Then deallocating restores capacity", func() {
				f.DeallocateBlock(b1)
				So(f.Remaining(), ShouldEqual, 1)
			})
		})
	})
}

func TestStaticBlock(t *testing.T) {
	Convey("Given a StaticBlock allocator over a 3-block buffer", t, func() {
		buf := make([]byte, 3*16)
		s := block.NewStaticBlock(buf, 16)

		Convey("When allocating all 3 blocks", func() {
			b1, err1 := s.AllocateBlock()
			b2, err2 := s.AllocateBlock()
			b3, err3 := s.AllocateBlock()

			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(err3, ShouldBeNil)

			Convey("Then a 4th allocation fails", func() {
				_, err := s.AllocateBlock()
				So(err, ShouldNotBeNil)
			})

			Convey("Then LIFO deallocation succeeds", func() {
				So(func() { s.DeallocateBlock(b3) }, ShouldNotPanic)
				So(func() { s.DeallocateBlock(b2) }, ShouldNotPanic)
				So(func() { s.DeallocateBlock(b1) }, ShouldNotPanic)
			})
		})
	})
}
