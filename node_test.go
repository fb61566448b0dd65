package dmanode

import (
	"math/rand"
	"strings"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

var testData = []byte{1, 2, 3, 4, 5, 6, 7, 8}

type counted struct {
	drops *int
	id    int
}

func (c *counted) Release() {
	*c.drops++
}

func checkInvariant[W any](t *testing.T, n *Node[W]) {
	t.Helper()
	if n.Free()+n.Len() != n.MaxLen() {
		t.Fatalf("free %d + len %d != max len %d", n.Free(), n.Len(), n.MaxLen())
	}
	if n.Len() < 0 || n.Len() > n.MaxLen() {
		t.Fatalf("len %d out of range", n.Len())
	}
	if len(n.Slice()) != n.Len() {
		t.Fatalf("view length %d != len %d", len(n.Slice()), n.Len())
	}
}

func TestWriteRead(t *testing.T) {
	n := New[byte](8)
	written := n.WriteSlice(testData)
	if written != len(testData) {
		t.Fatalf("written: %d", written)
	}
	if n.Len() != len(testData) {
		t.Fatalf("len: %d", n.Len())
	}
	if diff := cmp.Diff(testData, n.Slice()); diff != "" {
		t.Fatalf("contents (-want +got):\n%s", diff)
	}
	if n.MaxLen() != 8 {
		t.Fatalf("max len: %d", n.MaxLen())
	}
	checkInvariant(t, n)
}

func TestExposeCommit(t *testing.T) {
	n := New[byte](9)
	inner := n.Expose()
	if len(inner) != 9 || n.Len() != 9 {
		t.Fatalf("exposed %d, len %d", len(inner), n.Len())
	}
	copy(inner, testData)
	n.Commit(len(testData))
	if diff := cmp.Diff(testData, n.Slice()); diff != "" {
		t.Fatalf("contents (-want +got):\n%s", diff)
	}
	checkInvariant(t, n)
}

func TestExposeKeepsPrefix(t *testing.T) {
	n := New(6, WithFill(func() int { return -1 }))
	n.WriteSlice([]int{10, 20})
	got := n.Expose()
	if diff := cmp.Diff([]int{10, 20, -1, -1, -1, -1}, got); diff != "" {
		t.Fatalf("exposed (-want +got):\n%s", diff)
	}
}

func TestExposeHidesStaleData(t *testing.T) {
	n := New[byte](4)
	n.WriteWith(func(storage []byte, length int) int {
		copy(storage[length:], []byte{9, 9, 9, 9})
		return 1
	})
	got := n.Expose()
	if diff := cmp.Diff([]byte{9, 0, 0, 0}, got); diff != "" {
		t.Fatalf("exposed (-want +got):\n%s", diff)
	}
}

func TestCommitNeverGrows(t *testing.T) {
	n := New[byte](8)
	n.WriteSlice(testData[:3])
	n.Commit(5)
	if n.Len() != 3 {
		t.Fatalf("commit grew the node: %d", n.Len())
	}
	n.Commit(3)
	if n.Len() != 3 {
		t.Fatalf("len: %d", n.Len())
	}
	n.Commit(1)
	if n.Len() != 1 {
		t.Fatalf("len: %d", n.Len())
	}
	n.Commit(-1)
	if n.Len() != 0 {
		t.Fatalf("len: %d", n.Len())
	}
	checkInvariant(t, n)
}

func TestWriteSliceSequence(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for iter := 0; iter < 100; iter++ {
		n := New[byte](1 + r.Intn(64))
		total := 0
		for i := 0; i < 10; i++ {
			buf := make([]byte, r.Intn(20))
			r.Read(buf)
			before := n.Free()
			w := n.WriteSlice(buf)
			if w != min(len(buf), before) {
				t.Fatalf("wrote %d of %d with %d free", w, len(buf), before)
			}
			total += w
			if n.Len() != total {
				t.Fatalf("len %d, accepted %d", n.Len(), total)
			}
			checkInvariant(t, n)
		}
		if total > n.MaxLen() {
			t.Fatalf("accepted %d, capacity %d", total, n.MaxLen())
		}
	}
}

func TestClear(t *testing.T) {
	n := New[byte](8)
	n.WriteSlice(testData)
	n.Clear()
	if !n.IsEmpty() || n.Free() != 8 {
		t.Fatalf("len %d free %d", n.Len(), n.Free())
	}
	n.WriteSlice([]byte("ab"))
	if string(n.Slice()) != "ab" {
		t.Fatalf("contents: %v", n.Slice())
	}
}

func TestSetLen(t *testing.T) {
	n := New[byte](8)
	n.WriteWith(func(storage []byte, length int) int {
		copy(storage, testData)
		return 0
	})
	if n.Len() != 0 {
		t.Fatalf("len: %d", n.Len())
	}
	n.SetLen(8)
	if diff := cmp.Diff(testData, n.Slice()); diff != "" {
		t.Fatalf("contents (-want +got):\n%s", diff)
	}

	defer func() {
		if x := recover(); x == nil {
			t.Fatal("expected panic")
		}
	}()
	n.SetLen(9)
}

func TestWriteWithClamps(t *testing.T) {
	n := New[byte](8)
	n.WriteSlice(testData[:6])
	var gotLen, gotCap int
	n.WriteWith(func(storage []byte, length int) int {
		gotLen, gotCap = length, len(storage)
		storage[6], storage[7] = 7, 8
		return 5
	})
	if gotLen != 6 || gotCap != 8 {
		t.Fatalf("callback got length %d, storage %d", gotLen, gotCap)
	}
	if n.Len() != 8 {
		t.Fatalf("len: %d", n.Len())
	}
	if diff := cmp.Diff(testData, n.Slice()); diff != "" {
		t.Fatalf("contents (-want +got):\n%s", diff)
	}
}

func TestBufferAddressStable(t *testing.T) {
	n := New[uint32](16)
	addr := n.BufferAddress()
	if addr == 0 {
		t.Fatal("zero address")
	}
	n.WriteSlice([]uint32{1, 2, 3})
	n.Expose()
	n.Commit(1)
	n.Clear()
	if n.BufferAddress() != addr {
		t.Fatal("address moved")
	}
	if uintptr(unsafe.Pointer(&n.Expose()[0])) != addr {
		t.Fatal("address does not point at the storage")
	}
}

func TestReadView(t *testing.T) {
	n := New[int](4)
	n.WriteSlice([]int{3, 4, 5})
	n.Slice()[1] = 40
	if n.At(1) != 40 {
		t.Fatalf("At(1) = %d", n.At(1))
	}
	var seen []int
	for i, v := range n.All() {
		if i != len(seen) {
			t.Fatalf("index %d", i)
		}
		seen = append(seen, v)
	}
	if diff := cmp.Diff([]int{3, 40, 5}, seen); diff != "" {
		t.Fatalf("iteration (-want +got):\n%s", diff)
	}
	if s := n.String(); s != "[3 40 5]" {
		t.Fatalf("String() = %q", s)
	}
	if v := n.Slice(); cap(v) != 3 {
		t.Fatalf("view capacity %d exposes slots past len", cap(v))
	}
}

func TestCloseReleasesValidElements(t *testing.T) {
	drops := 0
	n := New[counted](8)
	n.WriteSlice([]counted{{&drops, 1}, {&drops, 2}, {&drops, 3}})
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if drops != 3 {
		t.Fatalf("released %d elements, want 3", drops)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if drops != 3 {
		t.Fatalf("second Close released again: %d", drops)
	}
	if !n.Closed() {
		t.Fatal("not closed")
	}
}

func TestAbandonedElementsReleased(t *testing.T) {
	drops := 0
	items := make([]counted, 6)
	for i := range items {
		items[i] = counted{&drops, i}
	}
	n := New[counted](8)
	n.WriteSlice(items)
	n.Commit(4)
	if drops != 2 {
		t.Fatalf("commit released %d, want 2", drops)
	}
	n.Commit(6)
	if drops != 2 {
		t.Fatalf("no-op commit released: %d", drops)
	}
	n.Clear()
	if drops != 6 {
		t.Fatalf("clear released %d, want 6", drops)
	}
	n.Close()
	if drops != 6 {
		t.Fatalf("close of empty node released: %d", drops)
	}
}

type handle struct {
	closed *[]int
	id     int
}

func (h *handle) Release() {
	*h.closed = append(*h.closed, h.id)
}

func TestPointerElementsReleased(t *testing.T) {
	var closed []int
	n := New[*handle](4)
	n.WriteSlice([]*handle{{&closed, 1}, {&closed, 2}})
	n.Expose()
	n.Commit(3)
	n.Close()
	if diff := cmp.Diff([]int{1, 2}, closed); diff != "" {
		t.Fatalf("released (-want +got):\n%s", diff)
	}
}

func TestWithRelease(t *testing.T) {
	var released []string
	n := New(4, WithRelease(func(s *string) {
		released = append(released, *s)
	}))
	n.WriteSlice([]string{"a", "b", "c"})
	n.Commit(1)
	n.Close()
	if diff := cmp.Diff([]string{"b", "c", "a"}, released); diff != "" {
		t.Fatalf("released (-want +got):\n%s", diff)
	}
}

func expectPanic(t *testing.T, want error, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		x := recover()
		if x == nil {
			t.Fatal("expected panic")
		}
		if err, ok := x.(error); !ok || err != want {
			t.Fatalf("panic value %v, want %v", x, want)
		}
	}()
	f()
}

func TestMutationAfterClose(t *testing.T) {
	n := New[byte](4)
	n.Close()
	expectPanic(t, ErrClosed, func() { n.WriteSlice(testData) })
	if _, err := n.Lease(); err != ErrClosed {
		t.Fatalf("Lease() after close: %v", err)
	}
}

func TestInvalidCapacity(t *testing.T) {
	defer func() {
		x := recover()
		if x == nil || !strings.Contains(x.(error).Error(), "invalid capacity") {
			t.Fatalf("unexpected panic value: %v", x)
		}
	}()
	New[byte](0)
}
