// Package eventloop
// Author: momentics <momentics@gmail.com>
//
// Single-threaded reactor loops and fixed-size loop groups.
//
// Each Loop owns one goroutine locked to an OS thread, one readiness poller,
// a FIFO task queue, a timer heap and a buffer allocator partition. Every
// channel registered on a loop has all of its I/O and handler callbacks run
// on that goroutine. Work from other goroutines is submitted with Execute or
// Schedule.
//
// An iteration polls for readiness (not blocking when tasks are pending,
// otherwise until the next timer), dispatches I/O callbacks, runs expired
// timers and then every task queued before the drain started.
package eventloop
