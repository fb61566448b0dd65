package dmanode

import (
	"unsafe"
)

// Lease marks a node as being accessed by an external writer or reader. It must be ended with Complete or
// Release before the owner can mutate the node again.
type Lease[W any] struct {
	n      *Node[W]
	offset int
	ended  bool
}

// Lease hands the node storage out to an external transfer. It fails with ErrInFlight if a lease is
// already outstanding and with ErrClosed if the node is closed.
func (n *Node[W]) Lease() (*Lease[W], error) {
	if n.closed {
		return nil, ErrClosed
	}
	if n.lease != nil {
		return nil, ErrInFlight
	}
	l := &Lease[W]{
		n:      n,
		offset: n.len,
	}
	n.lease = l
	return l, nil
}

// Addr returns the base address of the node storage.
func (l *Lease[W]) Addr() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(l.n.buf)))
}

// Offset returns the length of the node at the time the lease was taken.
func (l *Lease[W]) Offset() int {
	return l.offset
}

// Target returns the free part of the storage, for transfers into the node.
func (l *Lease[W]) Target() []W {
	return l.n.buf[l.offset:]
}

// Data returns the valid elements, for transfers out of the node.
func (l *Lease[W]) Data() []W {
	return l.n.buf[:l.offset:l.offset]
}

// Complete ends the lease and advances the node length by count, clamped to the free space the lease
// started with.
func (l *Lease[W]) Complete(count int) error {
	if l.ended {
		return ErrLeaseEnded
	}
	n := l.n
	n.lease = nil
	l.ended = true
	if count > 0 {
		n.len = l.offset + min(count, len(n.buf)-l.offset)
	}
	return nil
}

// Release ends the lease without changing the node.
func (l *Lease[W]) Release() error {
	return l.Complete(0)
}
