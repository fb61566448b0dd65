package dmanode

import (
	"fmt"
	"io"
)

const maxEmptyReads = 100

// ByteNode is a Node of bytes which can also be used as an io.Writer. Writes are all or nothing: data that
// does not fit into the free space is rejected with ErrNoSpace and the node is left unchanged.
type ByteNode struct {
	Node[byte]
}

// NewBytes creates an empty byte node able to hold capacity bytes.
func NewBytes(capacity int, opts ...Option[byte]) *ByteNode {
	b := &ByteNode{}
	b.init(capacity, opts)
	return b
}

func (b *ByteNode) Write(p []byte) (int, error) {
	b.mustOwn()
	if len(p) > b.Free() {
		return 0, ErrNoSpace
	}
	return b.WriteSlice(p), nil
}

func (b *ByteNode) WriteString(s string) (int, error) {
	b.mustOwn()
	if len(s) > b.Free() {
		return 0, ErrNoSpace
	}
	n := copy(b.buf[b.len:], s)
	b.len += n
	return n, nil
}

// Printf appends the formatted text. If the text does not fit, nothing is appended and ErrNoSpace is
// returned.
func (b *ByteNode) Printf(format string, args ...any) error {
	_, err := fmt.Fprintf(b, format, args...)
	return err
}

// Fill reads from r directly into the free space until the node is full or r returns an error.
// It returns the number of bytes added. A nil error means the node is full; io.EOF is returned as is.
func (b *ByteNode) Fill(r io.Reader) (int, error) {
	b.mustOwn()
	total, empty := 0, 0
	for b.len < len(b.buf) {
		n, err := r.Read(b.buf[b.len:])
		b.len += n
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return total, io.ErrNoProgress
			}
		}
	}
	return total, nil
}

// WriteTo writes the valid bytes to w.
func (b *ByteNode) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.Slice())
	return int64(n), err
}

func (b *ByteNode) String() string {
	return fmt.Sprintf("%q", b.Slice())
}
