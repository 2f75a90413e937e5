// Package uring wraps the io_uring primitives the ring runtime needs:
// accepting connections, reading/writing sockets, and cross-ring message
// posting, behind a small interface so the dispatcher in internal/ringrt
// never imports the underlying binding directly.
package uring

import "errors"

// ErrRingFull is returned by Prepare* when the submission queue has no free
// slot; the caller is expected to hold the entry in its own backlog and
// retry after the next Submit.
var ErrRingFull = errors.New("uring: submission queue full")

// Op names the operation classes the Ring interface prepares. Result does
// not carry an Op; completions are told apart by their user data.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpWritev
	OpAcceptMulti
	OpMsgRing
	OpCancel
)

// Result is one completion queue entry, stripped of whatever binding-
// specific bookkeeping giouring.CompletionQueueEntry carries beyond the
// three fields the ring runtime actually reads.
type Result struct {
	UserData uint64
	Res      int32  // >=0 success/bytes, <0 -errno
	Flags    uint32 // e.g. IORING_CQE_F_MORE for multishot completions
}

// MoreFlag reports whether the kernel will deliver further completions for
// the multishot operation this Result belongs to (IORING_CQE_F_MORE).
func (r Result) MoreFlag() bool {
	return r.Flags&cqeFMore != 0
}

const cqeFMore = 1 << 1

// Config describes how to build a Ring.
type Config struct {
	Entries uint32 // SQ/CQ depth

	// SingleIssuer, CoopTaskrun and DeferTaskrun request the kernel-side
	// submission-queue optimizations the spec calls out: only this thread
	// ever submits to this ring, and completion handlers run deferred,
	// batched to submission rather than eagerly on IRQ.
	SingleIssuer bool
	CoopTaskrun  bool
	DeferTaskrun bool
}

// Ring is the subset of io_uring operations the ring runtime drives.
// PrepareX calls stage an SQE without making it visible to the kernel;
// SubmitAndWait flushes staged SQEs with a single io_uring_enter and blocks
// until at least minComplete completions are ready.
type Ring interface {
	// Fd returns the ring's file descriptor, used as the MsgRing target by
	// other rings.
	Fd() int32

	PrepareRead(fd int32, buf []byte, userData uint64) error
	PrepareWrite(fd int32, buf []byte, userData uint64) error
	PrepareWritev(fd int32, iovecs [][]byte, userData uint64) error
	PrepareAcceptMulti(fd int32, userData uint64) error
	PrepareMsgRing(targetRingFd int32, data uint64, userData uint64) error
	PrepareCancelAll(userData uint64) error

	// SubmitAndWait submits every staged SQE and blocks until at least
	// minComplete completions are available (or a signal interrupts it).
	SubmitAndWait(minComplete uint32) error

	// PeekCompletions drains up to len(out) ready completions without
	// blocking, returning how many were filled.
	PeekCompletions(out []Result) int

	Close() error
}

// New builds a Ring using the platform-appropriate backend: giouring on
// Linux, an unsupported stub elsewhere.
func New(cfg Config) (Ring, error) {
	return newPlatformRing(cfg)
}
