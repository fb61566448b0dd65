// Package dmanode implements a fixed-capacity buffer whose storage never moves, so that its address can be handed
// to an external transfer mechanism (a DMA engine, a driver, a kernel interface) which writes into it directly.
//
// A Node tracks how many leading elements of its storage are valid independently of the storage capacity.
// Data gets in either by copying (WriteSlice), by exposing the whole storage and trimming afterwards
// (Expose + Commit), or by letting someone else write into the storage (WriteWith, Lease).
//
// A Node is not safe for concurrent use. While a Lease is outstanding the owner must not mutate the node,
// the node enforces this by panicking with ErrInFlight.
package dmanode

import (
	"fmt"
	"iter"
	"unsafe"

	"github.com/pkg/errors"
)

// Node is a fixed-capacity buffer of elements of type W. The zero value is not usable, use New.
type Node[W any] struct {
	buf     []W
	len     int
	fill    func() W
	release func(*W)

	lease  *Lease[W]
	closed bool
}

// Option configures a Node.
type Option[W any] func(*Node[W])

// WithFill sets the function used by Expose to initialise the slots past the current length.
// By default the zero value of W is used.
func WithFill[W any](fill func() W) Option[W] {
	return func(n *Node[W]) {
		n.fill = fill
	}
}

// WithRelease sets the function called for every element the node abandons. It overrides the
// Releaser implementation of W, if any.
func WithRelease[W any](release func(*W)) Option[W] {
	return func(n *Node[W]) {
		n.release = release
	}
}

// New creates an empty node able to hold capacity elements. It panics if capacity is not positive.
func New[W any](capacity int, opts ...Option[W]) *Node[W] {
	n := &Node[W]{}
	n.init(capacity, opts)
	return n
}

func (n *Node[W]) init(capacity int, opts []Option[W]) {
	if capacity <= 0 {
		panic(errors.Errorf("dmanode: invalid capacity %d", capacity))
	}
	n.buf = make([]W, capacity)
	n.release = releaserFor[W]()
	for _, opt := range opts {
		opt(n)
	}
}

func (n *Node[W]) mustOwn() {
	if n.closed {
		panic(ErrClosed)
	}
	if n.lease != nil {
		panic(ErrInFlight)
	}
}

// Expose initialises every slot past the current length, sets the length to the capacity and returns the
// whole storage so that it can be written into directly. Use Commit afterwards to declare how much of it
// is actually valid.
func (n *Node[W]) Expose() []W {
	n.mustOwn()
	if n.fill != nil {
		for i := n.len; i < len(n.buf); i++ {
			n.buf[i] = n.fill()
		}
	} else {
		clear(n.buf[n.len:])
	}
	n.len = len(n.buf)
	return n.buf
}

// Commit shrinks the length to shrinkTo. It never grows the node: a value not smaller than the current
// length is ignored. The abandoned elements are released.
func (n *Node[W]) Commit(shrinkTo int) {
	n.mustOwn()
	if shrinkTo < 0 {
		shrinkTo = 0
	}
	if shrinkTo < n.len {
		n.releaseRange(shrinkTo, n.len)
		n.len = shrinkTo
	}
}

// WriteSlice appends as much of buf as fits into the free space and returns the number of elements copied.
func (n *Node[W]) WriteSlice(buf []W) int {
	n.mustOwn()
	count := copy(n.buf[n.len:], buf)
	n.len += count
	return count
}

// Clear releases all elements and makes the node empty.
func (n *Node[W]) Clear() {
	n.mustOwn()
	n.releaseRange(0, n.len)
	n.len = 0
}

func (n *Node[W]) Len() int {
	return n.len
}

func (n *Node[W]) IsEmpty() bool {
	return n.len == 0
}

// MaxLen returns the capacity of the node.
func (n *Node[W]) MaxLen() int {
	return len(n.buf)
}

// Free returns the number of elements that can still be appended.
func (n *Node[W]) Free() int {
	return len(n.buf) - n.len
}

// SetLen sets the length without initialising or releasing anything.
//
// The caller guarantees that the slots [0, length) hold the values it wants to expose, typically because
// something outside of the node wrote them through BufferAddress. Slots that were never written hold
// zero values or stale data. It panics if length is out of [0, MaxLen()].
func (n *Node[W]) SetLen(length int) {
	n.mustOwn()
	if length < 0 || length > len(n.buf) {
		panic(errors.Errorf("dmanode: SetLen(%d) out of range [0, %d]", length, len(n.buf)))
	}
	n.len = length
}

// WriteWith gives f the whole storage along with the current length. f returns how many elements it has
// written starting at length, the node length is advanced by that count, clamped to the capacity.
//
// The caller guarantees that the returned count does not exceed what f actually wrote, otherwise stale
// or zero values become part of the node. A negative count panics.
func (n *Node[W]) WriteWith(f func(storage []W, length int) int) {
	n.mustOwn()
	count := f(n.buf, n.len)
	if count < 0 {
		panic(errors.Errorf("dmanode: WriteWith callback returned %d", count))
	}
	n.len += min(count, len(n.buf)-n.len)
}

// BufferAddress returns the address of the first slot of the storage. The address is stable for the
// lifetime of the node. Use Lease to make the node refuse owner mutations while something writes there.
func (n *Node[W]) BufferAddress() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(n.buf)))
}

// InFlight reports whether a lease is outstanding.
func (n *Node[W]) InFlight() bool {
	return n.lease != nil
}

func (n *Node[W]) Closed() bool {
	return n.closed
}

// Slice returns the valid elements. The returned slice aliases the storage.
func (n *Node[W]) Slice() []W {
	return n.buf[:n.len:n.len]
}

// At returns the i-th valid element. It panics if i is out of [0, Len()).
func (n *Node[W]) At(i int) W {
	return n.Slice()[i]
}

// All iterates over the valid elements.
func (n *Node[W]) All() iter.Seq2[int, W] {
	return func(yield func(int, W) bool) {
		for i := 0; i < n.len; i++ {
			if !yield(i, n.buf[i]) {
				return
			}
		}
	}
}

func (n *Node[W]) String() string {
	return fmt.Sprint(n.Slice())
}

// Close releases the valid elements and closes the node. Further mutations panic with ErrClosed.
// Closing a node with a lease outstanding returns ErrInFlight and leaves the node untouched.
func (n *Node[W]) Close() error {
	if n.closed {
		return nil
	}
	if n.lease != nil {
		return ErrInFlight
	}
	n.releaseRange(0, n.len)
	n.len = 0
	n.closed = true
	return nil
}
