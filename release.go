package dmanode

import (
	"reflect"
)

// Releaser is implemented by element types that hold resources which must be freed when the element is
// abandoned by the node (see Clear, Commit and Close).
type Releaser interface {
	Release()
}

var releaserType = reflect.TypeFor[Releaser]()

// releaserFor returns the release hook derived from W's method set, or nil if W is not a Releaser.
// Nil pointers and nil interfaces are skipped, they are what Expose fills with.
func releaserFor[W any]() func(*W) {
	t := reflect.TypeFor[W]()
	switch {
	case t.Implements(releaserType):
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return func(e *W) {
				if v := reflect.ValueOf(e).Elem(); v.IsNil() {
					return
				}
				any(*e).(Releaser).Release()
			}
		}
		return func(e *W) {
			any(*e).(Releaser).Release()
		}
	case reflect.PointerTo(t).Implements(releaserType):
		return func(e *W) {
			any(e).(Releaser).Release()
		}
	}
	return nil
}

// releaseRange releases the elements in [lo, hi) and zeroes their slots.
func (n *Node[W]) releaseRange(lo, hi int) {
	if lo >= hi {
		return
	}
	if n.release != nil {
		for i := lo; i < hi; i++ {
			n.release(&n.buf[i])
		}
	}
	clear(n.buf[lo:hi])
}
