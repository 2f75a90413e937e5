package lackey

import (
	"net"
	"testing"

	"github.com/wellenbrecher-go/wellenbrecher/internal/userstate"
)

func TestTranslatedCoordsAppliesOffset(t *testing.T) {
	conn := NewConnection(1, 5, &net.TCPAddr{}, 3, &userstate.State{}, 32)
	conn.OffsetX, conn.OffsetY = 10, 20
	x, y := conn.TranslatedCoords(1, 2)
	if x != 11 || y != 22 {
		t.Fatalf("got (%d, %d), want (11, 22)", x, y)
	}
}

func TestTranslatedCoordsWrapsOnUint32Overflow(t *testing.T) {
	conn := NewConnection(1, 5, &net.TCPAddr{}, 3, &userstate.State{}, 32)
	conn.OffsetX = ^uint32(0)
	x, _ := conn.TranslatedCoords(1, 0)
	if x != 0 {
		t.Fatalf("got x=%d, want wraparound to 0", x)
	}
}

func TestResetBatchCountersClearsBoth(t *testing.T) {
	conn := NewConnection(1, 5, &net.TCPAddr{}, 3, &userstate.State{}, 32)
	conn.sizeRequests = 4
	conn.helpRequests = 2
	conn.resetBatchCounters()
	if conn.sizeRequests != 0 || conn.helpRequests != 0 {
		t.Fatalf("expected both counters reset, got size=%d help=%d", conn.sizeRequests, conn.helpRequests)
	}
}
