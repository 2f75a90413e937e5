package empress

import (
	"net"
	"testing"

	"github.com/wellenbrecher-go/wellenbrecher/internal/constants"
	"github.com/wellenbrecher-go/wellenbrecher/internal/ringrt"
	"github.com/wellenbrecher-go/wellenbrecher/internal/uring"
	"github.com/wellenbrecher-go/wellenbrecher/internal/userstate"
)

// cqeFMoreForTest mirrors uring's unexported IORING_CQE_F_MORE bit; tests
// live in a different package so they set it by its known numeric value.
const cqeFMoreForTest = 1 << 1

// fakeRing is a hand-rolled Ring test double, matching the style already
// used in internal/ringrt and internal/lackey's tests.
type fakeRing struct {
	acceptCalls  int
	msgRingCalls int
	lastMsgData  uint64
	readCalls    int
}

func (f *fakeRing) Fd() int32 { return 77 }
func (f *fakeRing) PrepareRead(fd int32, buf []byte, userData uint64) error {
	f.readCalls++
	return nil
}
func (f *fakeRing) PrepareWrite(fd int32, buf []byte, userData uint64) error { return nil }
func (f *fakeRing) PrepareWritev(fd int32, bufs [][]byte, userData uint64) error {
	return nil
}
func (f *fakeRing) PrepareAcceptMulti(fd int32, userData uint64) error {
	f.acceptCalls++
	return nil
}
func (f *fakeRing) PrepareMsgRing(targetRingFd int32, data, userData uint64) error {
	f.msgRingCalls++
	f.lastMsgData = data
	return nil
}
func (f *fakeRing) PrepareCancelAll(userData uint64) error { return nil }
func (f *fakeRing) SubmitAndWait(minComplete uint32) error { return nil }
func (f *fakeRing) PeekCompletions(out []uring.Result) int { return 0 }
func (f *fakeRing) Close() error                           { return nil }

func newTCPPair(t *testing.T) (serverFd int32, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback listen unavailable in this environment: %v", err)
	}
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		t.Skipf("loopback dial unavailable in this environment: %v", err)
	}
	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	f, err := server.(*net.TCPConn).File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	return int32(f.Fd()), func() {
		f.Close()
		server.Close()
		client.Close()
		ln.Close()
	}
}

func TestPickLackeyRoundRobins(t *testing.T) {
	h := &Handler{lackeyFds: []int32{10, 20, 30}}
	got := []int32{h.pickLackey(), h.pickLackey(), h.pickLackey(), h.pickLackey()}
	want := []int32{10, 20, 30, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pickLackey sequence = %v, want %v", got, want)
		}
	}
}

func TestAcceptOpDispatchesNewClientViaMsgRing(t *testing.T) {
	serverFd, cleanup := newTCPPair(t)
	defer cleanup()

	h := &Handler{
		cfg: Config{
			BufferSize: 64,
			IPv4Mask:   constants.DefaultIPv4Mask,
			IPv6Mask:   constants.DefaultIPv6Mask,
		},
		registry:  userstate.NewRegistry(),
		lackeyFds: []int32{7},
	}
	ring := &fakeRing{}
	sub := ringrt.NewSubmitter(ring)
	op := acceptOp{h}

	flow, _ := op.OnCompletion(uring.Result{Res: serverFd, Flags: cqeFMoreForTest}, int32(99), sub)
	if flow.Kind != ringrt.FlowContinue {
		t.Fatalf("expected Continue, got %+v", flow)
	}
	if ring.msgRingCalls != 1 {
		t.Fatalf("expected one MsgRing dispatch, got %d", ring.msgRingCalls)
	}
	if ring.acceptCalls != 0 {
		t.Fatalf("multishot completion with F_MORE set should not re-arm, got %d re-arms", ring.acceptCalls)
	}
	if h.registry.Len() != 1 {
		t.Fatalf("expected one UserState created, got %d", h.registry.Len())
	}
}

func TestAcceptOpRearmsWhenStreamEnds(t *testing.T) {
	serverFd, cleanup := newTCPPair(t)
	defer cleanup()

	h := &Handler{
		cfg:       Config{BufferSize: 64, IPv4Mask: constants.DefaultIPv4Mask, IPv6Mask: constants.DefaultIPv6Mask},
		registry:  userstate.NewRegistry(),
		lackeyFds: []int32{7},
	}
	ring := &fakeRing{}
	sub := ringrt.NewSubmitter(ring)
	op := acceptOp{h}

	// Flags=0 means no F_MORE: the accept stream ended and must be re-armed.
	op.OnCompletion(uring.Result{Res: serverFd, Flags: 0}, int32(99), sub)
	if ring.acceptCalls != 1 {
		t.Fatalf("expected one re-arm, got %d", ring.acceptCalls)
	}
}

func TestAcceptOpNegativeResultLogsAndRearms(t *testing.T) {
	h := &Handler{lackeyFds: []int32{7}, registry: userstate.NewRegistry()}
	ring := &fakeRing{}
	sub := ringrt.NewSubmitter(ring)
	op := acceptOp{h}

	flow, _ := op.OnCompletion(uring.Result{Res: -1}, int32(99), sub)
	if flow.Kind != ringrt.FlowContinue {
		t.Fatalf("expected Continue even on accept error, got %+v", flow)
	}
	if ring.acceptCalls != 1 {
		t.Fatalf("expected re-arm after error completion, got %d", ring.acceptCalls)
	}
	if ring.msgRingCalls != 0 {
		t.Fatalf("expected no dispatch on accept error, got %d", ring.msgRingCalls)
	}
}
