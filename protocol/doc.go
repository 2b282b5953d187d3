// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Ready-made handlers: discard, echo and RFC 868 time servers, a time
// client, plus logging, read-timeout and received-data helpers.
package protocol
