// Package bootstrap
// Author: momentics <momentics@gmail.com>
//
// Helpers that assemble channels: ServerBootstrap binds a listening channel
// on a boss group and hands accepted connections to a worker group;
// Bootstrap registers and connects client channels.
package bootstrap
