// Package api
// Author: momentics
//
// Byte buffer contract with independent reader/writer cursors and explicit,
// reference-counted lifetime.

package api

import "io"

// ReferenceCounted is implemented by messages whose storage is released
// deterministically instead of by the garbage collector.
type ReferenceCounted interface {
	// RefCnt returns the current reference count; 0 means released.
	RefCnt() int32

	// Retain increments the reference count.
	Retain() ReferenceCounted

	// Release decrements the reference count and frees storage when it
	// reaches zero. Returns true if this call freed the storage.
	Release() bool
}

// Buffer is a growable byte container with two cursors:
//
//	0 <= ReaderIndex <= WriterIndex <= Capacity <= MaxCapacity
//
// Writes advance WriterIndex, reads advance ReaderIndex. There is no flip.
type Buffer interface {
	ReferenceCounted
	io.Reader
	io.Writer
	io.ByteReader
	io.ByteWriter

	Capacity() int
	MaxCapacity() int
	ReaderIndex() int
	WriterIndex() int
	SetReaderIndex(i int) error
	SetWriterIndex(i int) error
	ReadableBytes() int
	WritableBytes() int
	IsReadable() bool

	// ReadBytes consumes n bytes and returns a copy of them.
	ReadBytes(n int) ([]byte, error)
	ReadUint32() (uint32, error)
	Skip(n int) error

	WriteBytes(p []byte) error
	WriteString(s string) error
	WriteUint32(v uint32) error

	// WriteFrom performs a single Read of up to n bytes from r directly into
	// the writable region, growing the buffer first if needed.
	WriteFrom(r io.Reader, n int) (int, error)

	// Bytes returns the readable window without copying. The slice is only
	// valid until the next mutation or release.
	Bytes() []byte
	Copy() []byte

	DiscardReadBytes()
	Clear()
}

// Allocator hands out buffers. One allocator serves one pool partition.
type Allocator interface {
	// Buffer returns a buffer with at least initial bytes of capacity.
	Buffer(initial int) Buffer

	// BufferMax is Buffer with an explicit growth ceiling.
	BufferMax(initial, maxCapacity int) Buffer

	Stats() BufferPoolStats
}

// BufferPoolStats aggregates buffer allocation/reuse stats.
type BufferPoolStats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
	Reused     int64
}

// SafeRelease releases msg if it is reference counted and still live.
func SafeRelease(msg any) {
	if rc, ok := msg.(ReferenceCounted); ok && rc.RefCnt() > 0 {
		rc.Release()
	}
}
