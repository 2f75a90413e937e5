// Package ringrt is the dispatcher that multiplexes a single io_uring
// instance between a fixed set of cooperating operation kinds — accept,
// read, write, cross-ring message, cancel — each implementing
// RingOperation. It owns the submit/wait/complete loop, the submission
// backlog, teardown-on-exit, and the heap-pointer-as-user-data bookkeeping
// every kind relies on to recover its own payload from a completion.
package ringrt

import (
	"fmt"
	"runtime/cgo"

	"github.com/wellenbrecher-go/wellenbrecher/internal/constants"
	"github.com/wellenbrecher-go/wellenbrecher/internal/logging"
	"github.com/wellenbrecher-go/wellenbrecher/internal/uring"
)

// ControlFlowKind is the result an operation kind returns from handling one
// completion: keep going, begin shutdown, log and continue, or log and
// abort this ring entirely.
type ControlFlowKind int

const (
	FlowContinue ControlFlowKind = iota
	FlowExit
	FlowWarn
	FlowError
)

// ControlFlow is the return value of OnCompletion.
type ControlFlow struct {
	Kind ControlFlowKind
	Err  error
}

// Continue keeps the dispatcher loop running without incident.
func Continue() ControlFlow { return ControlFlow{Kind: FlowContinue} }

// Exit begins the ring's teardown phase.
func Exit() ControlFlow { return ControlFlow{Kind: FlowExit} }

// Warn logs err and keeps the dispatcher loop running.
func Warn(err error) ControlFlow { return ControlFlow{Kind: FlowWarn, Err: err} }

// ErrorFlow logs err and exits the ring with an error.
func ErrorFlow(err error) ControlFlow { return ControlFlow{Kind: FlowError, Err: err} }

// RingOperation is one cooperating operation kind sharing the ring: an
// empress has Accept and MsgRing-exit kinds; a lackey has NewClient,
// Read, Write and MsgRing-exit kinds.
type RingOperation interface {
	// Setup enqueues this kind's initial submissions (e.g. the multishot
	// accept, or nothing for a kind that only reacts to dispatched work).
	Setup(sub *Submitter) error

	// OnCompletion handles one completion tagged with this kind's payload.
	// The dispatcher does not use the returned nextPayload: an operation
	// that keeps running re-arms itself through sub (e.g. a Read completion
	// calls PrepareRead again), which stages its payload under a fresh
	// handle.
	OnCompletion(res uring.Result, payload any, sub *Submitter) (ControlFlow, any)

	// OnTeardownCompletion drains one completion during shutdown, e.g.
	// closing a socket or returning a buffer to its pool.
	OnTeardownCompletion(res uring.Result, payload any, sub *Submitter)
}

// payload is the tagged union every cgo.Handle value carries: which
// operation kind owns it, and that kind's own data.
type payload struct {
	kind string
	data any
}

// backlogEntry is one submission that couldn't be staged because the SQ
// was full; it is retried at the top of the next loop iteration.
type backlogEntry func(sub *Submitter) error

// Submitter wraps a Ring with a submission backlog: Prepare* calls that hit
// ErrRingFull are queued here instead of failing the caller outright.
type Submitter struct {
	ring    uring.Ring
	backlog []backlogEntry
}

// NewSubmitter wraps ring in a Submitter directly, for tests that want to
// drive a RingOperation's Setup/OnCompletion without a full Dispatcher loop.
func NewSubmitter(ring uring.Ring) *Submitter {
	return &Submitter{ring: ring}
}

// Fd returns the underlying ring's file descriptor.
func (s *Submitter) Fd() int32 { return s.ring.Fd() }

func (s *Submitter) stage(tag string, data any, prep func(userData uint64) error) error {
	h := cgo.NewHandle(payload{kind: tag, data: data})
	if err := prep(uint64(h)); err != nil {
		h.Delete()
		if err == uring.ErrRingFull {
			if len(s.backlog) >= constants.MaxBacklogDepth {
				return fmt.Errorf("ringrt: submission backlog full for kind %q", tag)
			}
			s.backlog = append(s.backlog, func(sub *Submitter) error {
				return sub.stage(tag, data, prep)
			})
			return nil
		}
		return err
	}
	return nil
}

// PrepareRead stages a Read for the given kind, carrying data as the
// completion payload.
func (s *Submitter) PrepareRead(kind string, fd int32, buf []byte, data any) error {
	return s.stage(kind, data, func(userData uint64) error {
		return s.ring.PrepareRead(fd, buf, userData)
	})
}

// PrepareWrite stages a Write for the given kind.
func (s *Submitter) PrepareWrite(kind string, fd int32, buf []byte, data any) error {
	return s.stage(kind, data, func(userData uint64) error {
		return s.ring.PrepareWrite(fd, buf, userData)
	})
}

// PrepareWritev stages a Writev for the given kind.
func (s *Submitter) PrepareWritev(kind string, fd int32, bufs [][]byte, data any) error {
	return s.stage(kind, data, func(userData uint64) error {
		return s.ring.PrepareWritev(fd, bufs, userData)
	})
}

// PrepareAcceptMulti stages a multishot accept for the given kind. Because
// it is multishot, the same payload/handle is reused across every
// completion it produces until IORING_CQE_F_MORE is unset.
func (s *Submitter) PrepareAcceptMulti(kind string, fd int32, data any) error {
	return s.stage(kind, data, func(userData uint64) error {
		return s.ring.PrepareAcceptMulti(fd, userData)
	})
}

// PrepareMsgRing stages a cross-ring message: a fresh cgo.Handle wrapping
// {kind, data} is posted as the *target* ring's completion data, so the
// target's dispatcher recovers and routes it exactly like a local
// completion. The source ring's own completion for this submission carries
// no payload (EmptyUserData) and is ignored by handleCompletion.
func (s *Submitter) PrepareMsgRing(kind string, targetRingFd int32, data any) error {
	h := cgo.NewHandle(payload{kind: kind, data: data})
	err := s.ring.PrepareMsgRing(targetRingFd, uint64(h), constants.EmptyUserData)
	if err != nil {
		h.Delete()
		if err == uring.ErrRingFull {
			if len(s.backlog) >= constants.MaxBacklogDepth {
				return fmt.Errorf("ringrt: submission backlog full for kind %q", kind)
			}
			s.backlog = append(s.backlog, func(sub *Submitter) error {
				return sub.PrepareMsgRing(kind, targetRingFd, data)
			})
			return nil
		}
		return err
	}
	return nil
}

// PrepareCancelAll stages the teardown AsyncCancel2(any), tagged with the
// reserved cancel sentinel user-data rather than a cgo.Handle.
func (s *Submitter) PrepareCancelAll() error {
	err := s.ring.PrepareCancelAll(constants.CancelSentinel)
	if err == uring.ErrRingFull {
		s.backlog = append(s.backlog, func(sub *Submitter) error {
			return sub.ring.PrepareCancelAll(constants.CancelSentinel)
		})
		return nil
	}
	return err
}

// drainBacklog retries every backlogged submission once. An entry that
// hits ErrRingFull again re-queues itself onto the (already-cleared)
// backlog via stage, so nothing here needs to track partial progress.
func (s *Submitter) drainBacklog() error {
	pending := s.backlog
	s.backlog = nil
	for _, entry := range pending {
		if err := entry(s); err != nil {
			return err
		}
	}
	return nil
}

// Dispatcher drives one ring's submit/wait/complete loop for a fixed set
// of cooperating RingOperation kinds.
type Dispatcher struct {
	name string
	ring uring.Ring
	ops  map[string]RingOperation
	sub  *Submitter

	tearingDown bool
}

// NewDispatcher creates a Dispatcher over ring with the given named
// operation kinds.
func NewDispatcher(name string, ring uring.Ring, ops map[string]RingOperation) *Dispatcher {
	return &Dispatcher{name: name, ring: ring, ops: ops, sub: NewSubmitter(ring)}
}

// Run executes Setup for every operation kind, then loops submit/wait/
// complete until a kind returns FlowExit or FlowError, then tears down and
// returns. A non-nil error means the ring exited on FlowError.
func (d *Dispatcher) Run() error {
	for kind, op := range d.ops {
		if err := op.Setup(d.sub); err != nil {
			return fmt.Errorf("ringrt: setup kind %q: %w", kind, err)
		}
	}

	completions := make([]uring.Result, 256)
	for !d.tearingDown {
		if err := d.sub.drainBacklog(); err != nil {
			return err
		}
		if err := d.ring.SubmitAndWait(1); err != nil {
			logging.Default().Warn("submit_and_wait failed", "ring", d.name, "err", err)
			continue
		}

		n := d.ring.PeekCompletions(completions)
		for i := 0; i < n; i++ {
			if err := d.handleCompletion(completions[i]); err != nil {
				return err
			}
		}
	}

	return d.teardown(completions)
}

func (d *Dispatcher) handleCompletion(res uring.Result) error {
	if res.UserData == constants.EmptyUserData {
		return nil
	}
	if res.UserData == constants.CancelSentinel {
		return nil
	}

	h := cgo.Handle(res.UserData)
	p := h.Value().(payload)
	if !res.MoreFlag() {
		h.Delete()
	}

	op, ok := d.ops[p.kind]
	if !ok {
		logging.Default().Warn("completion for unknown op kind", "ring", d.name, "kind", p.kind)
		return nil
	}

	// OnCompletion re-arms itself by calling back into d.sub (e.g.
	// PrepareRead) when it wants to keep running; the returned nextPayload
	// is informational only; the dispatcher keeps no state per kind
	// between completions beyond the cgo.Handle the re-arm call stages.
	flow, _ := op.OnCompletion(res, p.data, d.sub)

	switch flow.Kind {
	case FlowContinue:
		return nil
	case FlowWarn:
		logging.Default().Warn("ring operation warning", "ring", d.name, "kind", p.kind, "err", flow.Err)
		return nil
	case FlowExit:
		d.beginTeardown()
		return nil
	case FlowError:
		d.beginTeardown()
		return fmt.Errorf("ringrt: kind %q: %w", p.kind, flow.Err)
	}
	return nil
}

func (d *Dispatcher) beginTeardown() {
	if d.tearingDown {
		return
	}
	d.tearingDown = true
	_ = d.sub.PrepareCancelAll()
}

// teardown drains completions until the cancel sentinel itself completes,
// handing every other completion to OnTeardownCompletion so kinds can
// close sockets and free buffers.
func (d *Dispatcher) teardown(completions []uring.Result) error {
	for {
		if err := d.ring.SubmitAndWait(1); err != nil {
			return nil
		}
		n := d.ring.PeekCompletions(completions)
		sawCancel := false
		for i := 0; i < n; i++ {
			res := completions[i]
			if res.UserData == constants.CancelSentinel {
				sawCancel = true
				continue
			}
			if res.UserData == constants.EmptyUserData {
				continue
			}
			h := cgo.Handle(res.UserData)
			p := h.Value().(payload)
			h.Delete()
			if op, ok := d.ops[p.kind]; ok {
				op.OnTeardownCompletion(res, p.data, d.sub)
			}
		}
		if sawCancel && n < len(completions) {
			return nil
		}
	}
}
