// Package constants centralizes default values shared across the server so
// individual packages don't each invent their own copy.
package constants

import "time"

// Default configuration constants
const (
	// DefaultWidth is the canvas width used when no --width flag is given.
	DefaultWidth = 1280

	// DefaultHeight is the canvas height used when no --height flag is given.
	DefaultHeight = 720

	// DefaultPort is the TCP port the empress binds both listeners to.
	DefaultPort = 1337

	// DefaultConnectionBufferSize is the per-connection CommandRing capacity in bytes.
	DefaultConnectionBufferSize = 64 * 1024

	// DefaultIOURingSize is the submission/completion queue depth for every ring.
	DefaultIOURingSize = 1024

	// DefaultTCPAcceptBacklog is the listen(2) backlog passed to both sockets.
	DefaultTCPAcceptBacklog = 128

	// DefaultCanvasFileLink is the flink path the canvas shared memory region is published under.
	DefaultCanvasFileLink = "/tmp/wellenbrecher-canvas"

	// CancelSentinel is the reserved user_data value marking the teardown cancel
	// completion; it can never collide with a live cgo.Handle value.
	CancelSentinel = ^uint64(0)

	// EmptyUserData is the reserved value some completions (notably MsgRing's
	// own side-effect completion) carry; the dispatcher ignores it outright.
	EmptyUserData = uint64(0)

	// MaxBacklogDepth bounds the submitter's pending-SQE backlog before
	// submissions start failing loudly instead of queuing forever.
	MaxBacklogDepth = 4096
)

// Signal handling timing.
//
// A second exit-class signal (SIGINT/SIGQUIT/SIGTERM) within this window of
// the first is treated as "graceful shutdown is stuck, abort now".
const (
	SecondSignalAbortWindow = 10 * time.Second
)

// DefaultIPv4Mask is 255.255.255.255 — by default every IPv4 address is its own user.
var DefaultIPv4Mask = [4]byte{0xff, 0xff, 0xff, 0xff}

// DefaultIPv6Mask is ffff:ffff:ffff:ffff:: — a /64, the conventional residential
// delegation size, so an IPv6 user is identified by their routed prefix.
var DefaultIPv6Mask = [16]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}
