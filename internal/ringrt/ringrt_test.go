package ringrt

import (
	"errors"
	"testing"

	"github.com/wellenbrecher-go/wellenbrecher/internal/constants"
	"github.com/wellenbrecher-go/wellenbrecher/internal/uring"
)

// fakeRing is a hand-rolled Ring test double: no mocking framework, matching
// the rest of this codebase's test style. It records every Prepare* call and
// lets the test feed back arbitrary completions.
type fakeRing struct {
	fullUntil   int // PrepareRead calls before ErrRingFull stops being returned
	prepared    []uint64
	completions []uring.Result
	closed      bool
}

func (f *fakeRing) Fd() int32 { return 99 }

func (f *fakeRing) PrepareRead(fd int32, buf []byte, userData uint64) error {
	if f.fullUntil > 0 {
		f.fullUntil--
		return uring.ErrRingFull
	}
	f.prepared = append(f.prepared, userData)
	return nil
}
func (f *fakeRing) PrepareWrite(fd int32, buf []byte, userData uint64) error {
	f.prepared = append(f.prepared, userData)
	return nil
}
func (f *fakeRing) PrepareWritev(fd int32, bufs [][]byte, userData uint64) error {
	f.prepared = append(f.prepared, userData)
	return nil
}
func (f *fakeRing) PrepareAcceptMulti(fd int32, userData uint64) error {
	f.prepared = append(f.prepared, userData)
	return nil
}
func (f *fakeRing) PrepareMsgRing(targetRingFd int32, data uint64, userData uint64) error {
	f.prepared = append(f.prepared, data)
	return nil
}
func (f *fakeRing) PrepareCancelAll(userData uint64) error {
	f.prepared = append(f.prepared, userData)
	return nil
}
func (f *fakeRing) SubmitAndWait(minComplete uint32) error { return nil }
func (f *fakeRing) PeekCompletions(out []uring.Result) int {
	n := copy(out, f.completions)
	f.completions = f.completions[n:]
	return n
}
func (f *fakeRing) Close() error { f.closed = true; return nil }

// countingOp is a RingOperation test double counting how many times each
// method fires and returning Continue until exitAfter completions (if set).
type countingOp struct {
	setups      int
	completions int
	teardowns   int
	exitAfter   int
}

func (o *countingOp) Setup(sub *Submitter) error {
	o.setups++
	return sub.PrepareRead("read", 3, make([]byte, 16), "seed")
}

func (o *countingOp) OnCompletion(res uring.Result, payload any, sub *Submitter) (ControlFlow, any) {
	o.completions++
	if o.exitAfter > 0 && o.completions >= o.exitAfter {
		return Exit(), nil
	}
	return Continue(), nil
}

func (o *countingOp) OnTeardownCompletion(res uring.Result, payload any, sub *Submitter) {
	o.teardowns++
}

func TestDispatcherSetupStagesInitialSubmission(t *testing.T) {
	ring := &fakeRing{}
	op := &countingOp{}
	d := NewDispatcher("test", ring, map[string]RingOperation{"read": op})

	if err := op.Setup(d.sub); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if op.setups != 1 {
		t.Fatalf("setups = %d, want 1", op.setups)
	}
	if len(ring.prepared) != 1 {
		t.Fatalf("expected one staged submission, got %d", len(ring.prepared))
	}
}

func TestDispatcherBacklogsOnRingFull(t *testing.T) {
	ring := &fakeRing{fullUntil: 1}
	sub := NewSubmitter(ring)

	if err := sub.PrepareRead("read", 1, make([]byte, 8), "payload"); err != nil {
		t.Fatalf("PrepareRead: %v", err)
	}
	if len(ring.prepared) != 0 {
		t.Fatalf("expected no staged submission yet, got %d", len(ring.prepared))
	}
	if len(sub.backlog) != 1 {
		t.Fatalf("expected one backlogged submission, got %d", len(sub.backlog))
	}

	if err := sub.drainBacklog(); err != nil {
		t.Fatalf("drainBacklog: %v", err)
	}
	if len(ring.prepared) != 1 {
		t.Fatalf("expected backlog to drain into one submission, got %d", len(ring.prepared))
	}
	if len(sub.backlog) != 0 {
		t.Fatalf("expected backlog empty after drain, got %d", len(sub.backlog))
	}
}

func TestDispatcherIgnoresEmptyAndCancelUserData(t *testing.T) {
	ring := &fakeRing{}
	op := &countingOp{}
	d := NewDispatcher("test", ring, map[string]RingOperation{"read": op})

	if err := d.handleCompletion(uring.Result{UserData: constants.EmptyUserData}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.handleCompletion(uring.Result{UserData: constants.CancelSentinel}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.completions != 0 {
		t.Fatalf("expected no completions routed, got %d", op.completions)
	}
}

func TestDispatcherExitBeginsTeardown(t *testing.T) {
	ring := &fakeRing{}
	op := &countingOp{exitAfter: 1}
	d := NewDispatcher("test", ring, map[string]RingOperation{"read": op})

	if err := op.Setup(d.sub); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	// Setup staged one read; recover its handle to simulate a completion.
	if len(ring.prepared) != 1 {
		t.Fatalf("expected one staged submission from Setup, got %d", len(ring.prepared))
	}
	res := uring.Result{UserData: ring.prepared[0], Res: 4}

	if err := d.handleCompletion(res); err != nil {
		t.Fatalf("handleCompletion: %v", err)
	}
	if !d.tearingDown {
		t.Fatal("expected dispatcher to enter teardown after Exit flow")
	}
}

func TestControlFlowConstructors(t *testing.T) {
	if Continue().Kind != FlowContinue {
		t.Fatal("Continue() should carry FlowContinue")
	}
	if Exit().Kind != FlowExit {
		t.Fatal("Exit() should carry FlowExit")
	}
	err := errors.New("boom")
	if w := Warn(err); w.Kind != FlowWarn || w.Err != err {
		t.Fatal("Warn() should carry FlowWarn and the error")
	}
	if e := ErrorFlow(err); e.Kind != FlowError || e.Err != err {
		t.Fatal("ErrorFlow() should carry FlowError and the error")
	}
}
