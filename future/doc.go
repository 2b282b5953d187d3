// Package future
// Author: momentics <momentics@gmail.com>
//
// Completion futures for asynchronous channel operations (connect, write,
// close, shutdown). A Promise is completed exactly once; listeners run in
// registration order on the event loop that owns the operation.
package future
