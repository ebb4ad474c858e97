package joint_test

import (
	"testing"
	"unsafe"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/memalloc/pkg/memalloc"
	"github.com/flier/memalloc/pkg/memalloc/joint"
	"github.com/flier/memalloc/pkg/memalloc/provider"
)

type widget struct {
	tag   int
	extra unsafe.Pointer
}

func TestJointPtr(t *testing.T) {
	Convey("Given a joint object with 64 extra bytes", t, func() {
		jp, err := joint.New[widget](provider.Heap{}, 64, func(a *joint.JointAllocator) widget {
			p := a.AllocateNode(32, 8)
			return widget{tag: 7, extra: p}
		})
		So(err, ShouldBeNil)
		defer jp.Close()

		Convey("Then the object is reachable and carries its internal allocation", func() {
			So(jp.Get().tag, ShouldEqual, 7)
			So(jp.Get().extra, ShouldNotBeNil)
		})

		Convey("And a second AllocateNode on the same allocator panics", func() {
			So(func() { jp.Allocator().AllocateNode(1, 1) }, ShouldPanic)
		})
	})

	Convey("Given a joint object whose build requests more than its extra region holds", t, func() {
		Convey("Then the oversized AllocateNode panics inside build", func() {
			So(func() {
				_, _ = joint.New[widget](provider.Heap{}, 8, func(a *joint.JointAllocator) widget {
					p := a.AllocateNode(64, 8)
					return widget{extra: p}
				})
			}, ShouldPanic)
		})
	})
}

func TestJointArrayFixedCapacity(t *testing.T) {
	Convey("Given a joint object building a fixed-capacity array of ints", t, func() {
		jp, err := joint.New[joint.Array[int]](provider.Heap{}, 4*8, func(a *joint.JointAllocator) joint.Array[int] {
			return *joint.NewArray[int](a, 4)
		})
		So(err, ShouldBeNil)
		defer jp.Close()

		arr := jp.Get()
		Convey("Then its capacity is fixed at 4 and starts empty", func() {
			So(arr.Cap(), ShouldEqual, 4)
			So(arr.Len(), ShouldEqual, 0)
		})
	})
}

func TestJointArrayFromSeq(t *testing.T) {
	Convey("Given a joint object building an array from a sequence of unknown length", t, func() {
		jp, err := joint.New[joint.Array[int]](provider.Heap{}, 256, func(a *joint.JointAllocator) joint.Array[int] {
			arr, buildErr := joint.BuildArrayFromSeq[int](a, func(appendOne func(int)) {
				for i := 0; i < 5; i++ {
					appendOne(i * i)
				}
			}, nil)
			if buildErr != nil {
				panic(buildErr)
			}
			return *arr
		})
		So(err, ShouldBeNil)
		defer jp.Close()

		Convey("Then every element was appended in order", func() {
			arr := jp.Get()
			So(arr.Len(), ShouldEqual, 5)
			So(*arr.At(4), ShouldEqual, 16)
			So(arr.Slice(), ShouldResemble, []int{0, 1, 4, 9, 16})
		})
	})
}

func TestJointArrayRollbackOnFailure(t *testing.T) {
	Convey("Given a sequence build that panics partway through", t, func() {
		jp, err := joint.New[joint.JointAllocator](provider.Heap{}, 256, func(a *joint.JointAllocator) joint.JointAllocator {
			return *a
		})
		So(err, ShouldBeNil)
		defer jp.Close()

		var destroyed []int
		_, buildErr := joint.BuildArrayFromSeq[int](jp.Get(), func(appendOne func(int)) {
			appendOne(1)
			appendOne(2)
			panic("boom")
		}, func(p *int) { destroyed = append(destroyed, *p) })

		Convey("Then every already-appended element is rolled back, in reverse order", func() {
			So(buildErr, ShouldNotBeNil)
			So(destroyed, ShouldResemble, []int{2, 1})
		})
	})
}

func TestCloneJoint(t *testing.T) {
	Convey("Given a joint widget that used 16 of its 64 extra bytes", t, func() {
		src, err := joint.New[widget](provider.Heap{}, 64, func(a *joint.JointAllocator) widget {
			p := a.AllocateNode(16, 8)
			return widget{tag: 9, extra: p}
		})
		So(err, ShouldBeNil)
		defer src.Close()

		Convey("When cloning it", func() {
			dst, err := joint.Clone[widget](src, provider.Heap{}, func(a *joint.JointAllocator) widget {
				p := a.AllocateNode(16, 8)
				return widget{tag: src.Get().tag, extra: p}
			})
			So(err, ShouldBeNil)
			defer dst.Close()

			Convey("Then the clone carries the same tag over a freshly sized block", func() {
				So(dst.Get().tag, ShouldEqual, 9)
			})
		})
	})
}

var _ memalloc.Allocator = (*joint.JointAllocator)(nil)
