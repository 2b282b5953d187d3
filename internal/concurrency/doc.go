// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-nio event loops: the closable
// multi-producer task queue, the deadline-ordered timer heap, and goroutine
// identity used to detect calls made on a loop goroutine.
package concurrency
