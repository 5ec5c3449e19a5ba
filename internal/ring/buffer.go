// Package ring implements the fixed-capacity circular byte store that sits
// between a sequential source (usually a file) and the elementary-stream
// parser. Bytes are pulled from the source in large chunks by Fetch and then
// inspected in place with the Peek methods, so disk reads are decoupled from
// the one-unit-at-a-time cadence of the consumer.
//
// Read and write positions are free-running logical offsets. They are reduced
// modulo the capacity only when indexing the backing store; the unread byte
// count is always write-read.
package ring

import (
	"errors"
	"fmt"
	"io"
)

// DefaultCapacity is the ring size used when the caller does not pick one.
const DefaultCapacity = 16 << 20

// ErrFull is returned by Fetch when every byte in the ring is unread and no
// further data can be accepted until the reader advances.
var ErrFull = errors.New("ring: buffer full")

// Buffer is a single-reader circular byte buffer filled from an io.Reader.
// It is not safe for concurrent use.
type Buffer struct {
	src  io.Reader
	data []byte
	rd   int64
	wr   int64
	eof  bool
}

// New creates a Buffer of the given capacity that pulls bytes from src. A
// capacity below one selects DefaultCapacity.
func New(src io.Reader, capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		src:  src,
		data: make([]byte, capacity),
	}
}

// Cap returns the fixed capacity of the buffer.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of buffered bytes not yet consumed by Advance.
func (b *Buffer) Len() int { return int(b.wr - b.rd) }

// Free returns how many bytes the next Fetch may read.
func (b *Buffer) Free() int { return len(b.data) - b.Len() }

// EOF reports whether the source has signalled end of file. Buffered bytes
// may still be pending.
func (b *Buffer) EOF() bool { return b.eof }

// Consumed returns the total number of bytes consumed so far, which is the
// source offset of the current read position.
func (b *Buffer) Consumed() int64 { return b.rd }

// Fetch reads up to Free() bytes from the source and returns the number of
// bytes read. Once the source reports EOF, Fetch returns (0, nil) and never
// touches the source again. A full buffer yields ErrFull.
func (b *Buffer) Fetch() (int, error) {
	if b.eof {
		return 0, nil
	}
	free := b.Free()
	if free == 0 {
		return 0, ErrFull
	}

	first, second := b.span(b.wr, free)
	total := 0
	for _, seg := range [2][]byte{first, second} {
		if len(seg) == 0 {
			continue
		}
		n, err := io.ReadFull(b.src, seg)
		total += n
		b.wr += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				b.eof = true
				return total, nil
			}
			return total, fmt.Errorf("ring: fetch: %w", err)
		}
	}
	return total, nil
}

// PeekByte returns the unread byte at off without consuming it. It reports
// false when off is outside the buffered range; the caller is expected to
// Fetch and retry.
func (b *Buffer) PeekByte(off int) (byte, bool) {
	if off < 0 || off >= b.Len() {
		return 0, false
	}
	return b.data[(b.rd+int64(off))%int64(len(b.data))], true
}

// Peek copies len(dst) unread bytes starting at off into dst without
// consuming them. It reports false, leaving dst untouched, when the range is
// not fully buffered.
func (b *Buffer) Peek(off int, dst []byte) bool {
	if !b.has(off, len(dst)) {
		return false
	}
	first, second := b.span(b.rd+int64(off), len(dst))
	n := copy(dst, first)
	copy(dst[n:], second)
	return true
}

// AppendTo appends n unread bytes starting at off to dst and returns the
// extended slice. It reports false, returning dst unchanged, when the range
// is not fully buffered.
func (b *Buffer) AppendTo(dst []byte, off, n int) ([]byte, bool) {
	if !b.has(off, n) {
		return dst, false
	}
	first, second := b.span(b.rd+int64(off), n)
	dst = append(dst, first...)
	dst = append(dst, second...)
	return dst, true
}

// Advance consumes n bytes, making their space available to Fetch.
func (b *Buffer) Advance(n int) {
	if n < 0 || n > b.Len() {
		panic(fmt.Sprintf("ring: advance %d with %d bytes buffered", n, b.Len()))
	}
	b.rd += int64(n)
}

func (b *Buffer) has(off, n int) bool {
	return off >= 0 && n >= 0 && off+n <= b.Len()
}

// span maps the logical range [pos, pos+n) onto the backing store. The
// second slice is non-empty only when the range crosses the physical end.
func (b *Buffer) span(pos int64, n int) (first, second []byte) {
	if n == 0 {
		return nil, nil
	}
	size := len(b.data)
	start := int(pos % int64(size))
	if start+n <= size {
		return b.data[start : start+n], nil
	}
	return b.data[start:], b.data[:n-(size-start)]
}
