// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements the low-level non-blocking TCP socket calls used by
// channels: listen, accept4, connect with SO_ERROR completion, read, writev
// and socket options. Errno values are mapped onto the api error taxonomy.
package tcp
