// Package lackey implements the per-ring connection handler: intake of
// connections dispatched by the empress, the read→parse→execute→reply
// loop, and egress-amplification mitigation for HELP/SIZE.
package lackey

import (
	"net"

	"github.com/wellenbrecher-go/wellenbrecher/internal/protocol"
	"github.com/wellenbrecher-go/wellenbrecher/internal/userstate"
)

// Connection is one accepted TCP socket, owned exclusively by the lackey
// ring it was dispatched to.
type Connection struct {
	ID          uint64
	Socket      int32
	PeerAddr    net.Addr
	UserID      uint32
	UserState   *userstate.State
	OffsetX     uint32
	OffsetY     uint32
	CommandRing *protocol.CommandRing

	// batch tracks HELP/SIZE requests seen during the current parse batch,
	// for the "reply at most once per batch" amplification mitigation.
	sizeRequests int
	helpRequests int
}

// NewConnection builds a Connection ready for its first Read submission.
func NewConnection(id uint64, socket int32, peer net.Addr, userID uint32, state *userstate.State, bufferSize int) *Connection {
	return &Connection{
		ID:          id,
		Socket:      socket,
		PeerAddr:    peer,
		UserID:      userID,
		UserState:   state,
		CommandRing: protocol.New(bufferSize),
	}
}

// TranslatedCoords applies this connection's OFFSET to raw protocol
// coordinates. Coordinates wrap modulo 2^32, matching the unsigned
// wraparound the wire protocol's uint32 fields already imply.
func (c *Connection) TranslatedCoords(x, y uint32) (uint32, uint32) {
	return x + c.OffsetX, y + c.OffsetY
}

// resetBatchCounters clears the per-batch HELP/SIZE dedup counters; called
// once at the start of each parse-execute pass over freshly-read bytes.
func (c *Connection) resetBatchCounters() {
	c.sizeRequests = 0
	c.helpRequests = 0
}

// ampLogThreshold is the per-batch HELP/SIZE count above which a possible
// amplification attempt is logged (still answered only once).
const ampLogThreshold = 8
