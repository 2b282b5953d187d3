// File: pool/bytebuffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reference-counted byte buffer with independent reader and writer cursors.

package pool

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
)

// DefaultMaxCapacity caps growth when the caller does not supply a limit.
const DefaultMaxCapacity = 1 << 30

// ByteBuffer implements api.Buffer. The cursors are not safe for concurrent
// mutation; ownership moves with the buffer. The reference count is atomic so
// release may happen on any goroutine.
type ByteBuffer struct {
	data   []byte // len(data) is the capacity
	r, w   int
	maxCap int
	refCnt atomic.Int32
	alloc  *Allocator // nil for unpooled buffers
}

var _ api.Buffer = (*ByteBuffer)(nil)

func newByteBuffer(data []byte, maxCap int, alloc *Allocator) *ByteBuffer {
	if maxCap <= 0 {
		maxCap = DefaultMaxCapacity
	}
	if maxCap < len(data) {
		maxCap = len(data)
	}
	b := &ByteBuffer{data: data, maxCap: maxCap, alloc: alloc}
	b.refCnt.Store(1)
	return b
}

// Unpooled returns a buffer whose storage is not recycled.
func Unpooled(initial, maxCapacity int) *ByteBuffer {
	if initial < 0 {
		initial = 0
	}
	return newByteBuffer(make([]byte, initial), maxCapacity, nil)
}

// Wrap returns an unpooled buffer whose readable window is p. p is not copied.
func Wrap(p []byte) *ByteBuffer {
	b := newByteBuffer(p, len(p), nil)
	b.w = len(p)
	return b
}

// Copied returns an unpooled buffer holding a copy of p.
func Copied(p []byte) *ByteBuffer {
	dst := make([]byte, len(p))
	copy(dst, p)
	return Wrap(dst)
}

func (b *ByteBuffer) ensureAccessible() error {
	if b.refCnt.Load() <= 0 {
		return api.NewError(api.ErrCodeIllegalRefCount, "buffer access")
	}
	return nil
}

// Capacity returns the current storage size.
func (b *ByteBuffer) Capacity() int { return len(b.data) }

// MaxCapacity returns the growth ceiling.
func (b *ByteBuffer) MaxCapacity() int { return b.maxCap }

func (b *ByteBuffer) ReaderIndex() int   { return b.r }
func (b *ByteBuffer) WriterIndex() int   { return b.w }
func (b *ByteBuffer) ReadableBytes() int { return b.w - b.r }
func (b *ByteBuffer) WritableBytes() int { return len(b.data) - b.w }
func (b *ByteBuffer) IsReadable() bool   { return b.w > b.r }

// SetReaderIndex moves the reader cursor within [0, WriterIndex].
func (b *ByteBuffer) SetReaderIndex(i int) error {
	if i < 0 || i > b.w {
		return api.NewError(api.ErrCodeInvalidArgument, "set reader index").
			WithContext("index", i).WithContext("writerIndex", b.w)
	}
	b.r = i
	return nil
}

// SetWriterIndex moves the writer cursor within [ReaderIndex, Capacity].
func (b *ByteBuffer) SetWriterIndex(i int) error {
	if i < b.r || i > len(b.data) {
		return api.NewError(api.ErrCodeInvalidArgument, "set writer index").
			WithContext("index", i).WithContext("capacity", len(b.data))
	}
	b.w = i
	return nil
}

func (b *ByteBuffer) checkReadable(op string, n int) error {
	if err := b.ensureAccessible(); err != nil {
		return err
	}
	if n < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, op)
	}
	if b.w-b.r < n {
		return api.NewError(api.ErrCodeUnderflow, op).
			WithContext("requested", n).WithContext("readable", b.w-b.r)
	}
	return nil
}

// ReadByte consumes one byte.
func (b *ByteBuffer) ReadByte() (byte, error) {
	if err := b.checkReadable("read byte", 1); err != nil {
		return 0, err
	}
	c := b.data[b.r]
	b.r++
	return c, nil
}

// ReadBytes consumes n bytes and returns a copy.
func (b *ByteBuffer) ReadBytes(n int) ([]byte, error) {
	if err := b.checkReadable("read bytes", n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.r:b.r+n])
	b.r += n
	return out, nil
}

// ReadUint32 consumes a big-endian uint32.
func (b *ByteBuffer) ReadUint32() (uint32, error) {
	if err := b.checkReadable("read uint32", 4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.r:])
	b.r += 4
	return v, nil
}

// Skip advances the reader cursor by n.
func (b *ByteBuffer) Skip(n int) error {
	if err := b.checkReadable("skip", n); err != nil {
		return err
	}
	b.r += n
	return nil
}

// Read implements io.Reader. It returns io.EOF when nothing is readable.
func (b *ByteBuffer) Read(p []byte) (int, error) {
	if err := b.ensureAccessible(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.r == b.w {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.r:b.w])
	b.r += n
	return n, nil
}

// ensureWritable grows storage so that n more bytes fit after the writer
// cursor. Capacity doubles until sufficient and never exceeds maxCap.
func (b *ByteBuffer) ensureWritable(op string, n int) error {
	if err := b.ensureAccessible(); err != nil {
		return err
	}
	if n < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, op)
	}
	need := b.w + n
	if need <= len(b.data) {
		return nil
	}
	if need > b.maxCap {
		return api.NewError(api.ErrCodeCapacityExceeded, op).
			WithContext("required", need).WithContext("maxCapacity", b.maxCap)
	}
	newCap := len(b.data)
	if newCap == 0 {
		newCap = minClassSize
	}
	for newCap < need {
		newCap <<= 1
	}
	if newCap > b.maxCap {
		newCap = b.maxCap
	}
	var next []byte
	if b.alloc != nil {
		next = b.alloc.acquire(newCap)
	} else {
		next = make([]byte, newCap)
	}
	copy(next, b.data[:b.w])
	old := b.data
	b.data = next
	if b.alloc != nil {
		b.alloc.recycle(old)
	}
	return nil
}

// WriteByte appends one byte.
func (b *ByteBuffer) WriteByte(c byte) error {
	if err := b.ensureWritable("write byte", 1); err != nil {
		return err
	}
	b.data[b.w] = c
	b.w++
	return nil
}

// WriteBytes appends p.
func (b *ByteBuffer) WriteBytes(p []byte) error {
	if err := b.ensureWritable("write bytes", len(p)); err != nil {
		return err
	}
	b.w += copy(b.data[b.w:], p)
	return nil
}

// WriteString appends s.
func (b *ByteBuffer) WriteString(s string) error {
	if err := b.ensureWritable("write string", len(s)); err != nil {
		return err
	}
	b.w += copy(b.data[b.w:], s)
	return nil
}

// WriteUint32 appends v in big-endian order.
func (b *ByteBuffer) WriteUint32(v uint32) error {
	if err := b.ensureWritable("write uint32", 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[b.w:], v)
	b.w += 4
	return nil
}

// Write implements io.Writer.
func (b *ByteBuffer) Write(p []byte) (int, error) {
	if err := b.WriteBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteFrom reads once from r into the writable region.
func (b *ByteBuffer) WriteFrom(r io.Reader, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	if free := len(b.data) - b.w; free < n {
		// Grow only as far as the ceiling allows; a partial window is fine.
		want := n
		if b.w+want > b.maxCap {
			want = b.maxCap - b.w
		}
		if want <= 0 {
			return 0, api.NewError(api.ErrCodeCapacityExceeded, "write from")
		}
		if err := b.ensureWritable("write from", want); err != nil {
			return 0, err
		}
		n = want
	} else if err := b.ensureAccessible(); err != nil {
		return 0, err
	}
	read, err := r.Read(b.data[b.w : b.w+n])
	if read > 0 {
		b.w += read
	}
	return read, err
}

// Bytes returns the readable window.
func (b *ByteBuffer) Bytes() []byte {
	if b.refCnt.Load() <= 0 {
		return nil
	}
	return b.data[b.r:b.w]
}

// Copy returns a copy of the readable window.
func (b *ByteBuffer) Copy() []byte {
	out := make([]byte, b.w-b.r)
	copy(out, b.Bytes())
	return out
}

// String renders the buffer cursors, not its contents.
func (b *ByteBuffer) String() string {
	return fmt.Sprintf("ByteBuffer(ridx: %d, widx: %d, cap: %d/%d, refCnt: %d)",
		b.r, b.w, len(b.data), b.maxCap, b.refCnt.Load())
}

// DiscardReadBytes moves the readable window to index 0.
func (b *ByteBuffer) DiscardReadBytes() {
	if b.r == 0 || b.refCnt.Load() <= 0 {
		return
	}
	n := copy(b.data, b.data[b.r:b.w])
	b.r, b.w = 0, n
}

// Clear resets both cursors without touching storage.
func (b *ByteBuffer) Clear() {
	b.r, b.w = 0, 0
}

// RefCnt returns the current reference count.
func (b *ByteBuffer) RefCnt() int32 { return b.refCnt.Load() }

// Retain increments the reference count. It panics on a released buffer.
func (b *ByteBuffer) Retain() api.ReferenceCounted {
	for {
		cur := b.refCnt.Load()
		if cur <= 0 {
			panic(api.NewError(api.ErrCodeIllegalRefCount, "retain").WithContext("refCnt", cur))
		}
		if b.refCnt.CompareAndSwap(cur, cur+1) {
			return b
		}
	}
}

// Release decrements the reference count. Storage goes back to the
// allocator exactly once, on the transition to zero. Releasing a buffer that
// is already at zero panics.
func (b *ByteBuffer) Release() bool {
	for {
		cur := b.refCnt.Load()
		if cur <= 0 {
			panic(api.NewError(api.ErrCodeIllegalRefCount, "release").WithContext("refCnt", cur))
		}
		if !b.refCnt.CompareAndSwap(cur, cur-1) {
			continue
		}
		if cur != 1 {
			return false
		}
		data := b.data
		b.data = nil
		b.r, b.w = 0, 0
		if b.alloc != nil {
			b.alloc.free(data)
		}
		return true
	}
}
