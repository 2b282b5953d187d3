// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer memory layer for hioload-nio.
// Provides the reference-counted ByteBuffer, a size-class Allocator that
// recycles backing arrays, and a per-loop partition manager.
// See bytebuffer.go, allocator.go, bufferpool.go for implementation details.
package pool
