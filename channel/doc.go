// Package channel
// Author: momentics <momentics@gmail.com>
//
// Channels, pipelines and handler contexts. A channel is pinned to one event
// loop at registration; every handler callback and socket operation for it
// runs on that loop's goroutine, in order. Handlers declare what they handle
// by implementing small capability interfaces (ChannelReadHandler,
// WriteHandler, ...); the pipeline skips handlers lacking a capability.
package channel
