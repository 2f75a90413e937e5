//go:build linux

package uring

import (
	"fmt"
	"unsafe"

	giouring "github.com/pawelgaczynski/giouring"
)

// giouringRing backs Ring with github.com/pawelgaczynski/giouring, the
// module's own declared io_uring binding. giouring mirrors liburing's shape
// closely: a *giouring.Ring exposes GetSQE to stage an entry, PrepareX
// helpers on the returned SubmissionQueueEntry, and SubmitAndWait /
// PeekCQE / CQESeen to drive completions.
type giouringRing struct {
	ring *giouring.Ring
}

func newPlatformRing(cfg Config) (Ring, error) {
	var flags uint32
	if cfg.SingleIssuer {
		flags |= giouring.SetupSingleIssuer
	}
	if cfg.CoopTaskrun {
		flags |= giouring.SetupCoopTaskrun
	}
	if cfg.DeferTaskrun {
		flags |= giouring.SetupDeferTaskrun
	}

	entries := cfg.Entries
	if entries == 0 {
		entries = 1024
	}

	ring, err := giouring.CreateRing(entries, flags)
	if err != nil {
		return nil, fmt.Errorf("uring: create ring: %w", err)
	}
	return &giouringRing{ring: ring}, nil
}

func (r *giouringRing) Fd() int32 {
	return int32(r.ring.Fd())
}

func (r *giouringRing) getSQE() (*giouring.SubmissionQueueEntry, error) {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return nil, ErrRingFull
	}
	return sqe, nil
}

func (r *giouringRing) PrepareRead(fd int32, buf []byte, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareRead(fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
	sqe.UserData = userData
	return nil
}

func (r *giouringRing) PrepareWrite(fd int32, buf []byte, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareWrite(fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
	sqe.UserData = userData
	return nil
}

func (r *giouringRing) PrepareWritev(fd int32, bufs [][]byte, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	iovecs := make([]syscallIovec, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovecs[i] = syscallIovec{base: uintptr(unsafe.Pointer(&b[0])), length: uint64(len(b))}
	}
	sqe.PrepareWritev(fd, uintptr(unsafe.Pointer(&iovecs[0])), uint32(len(iovecs)), 0)
	sqe.UserData = userData
	return nil
}

func (r *giouringRing) PrepareAcceptMulti(fd int32, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareMultishotAccept(fd, 0, 0, 0)
	sqe.UserData = userData
	return nil
}

func (r *giouringRing) PrepareMsgRing(targetRingFd int32, data uint64, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareMsgRing(targetRingFd, 0, data, 0)
	sqe.UserData = userData
	return nil
}

func (r *giouringRing) PrepareCancelAll(userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareCancel64(0, giouring.AsyncCancelAll|giouring.AsyncCancelAny)
	sqe.UserData = userData
	return nil
}

func (r *giouringRing) SubmitAndWait(minComplete uint32) error {
	_, err := r.ring.SubmitAndWait(minComplete)
	return err
}

func (r *giouringRing) PeekCompletions(out []Result) int {
	n := 0
	for n < len(out) {
		cqe, err := r.ring.PeekCQE()
		if err != nil || cqe == nil {
			break
		}
		out[n] = Result{UserData: cqe.UserData, Res: cqe.Res, Flags: cqe.Flags}
		r.ring.CQESeen(cqe)
		n++
	}
	return n
}

func (r *giouringRing) Close() error {
	r.ring.QueueExit()
	return nil
}

// syscallIovec mirrors struct iovec's layout for the Writev preparation
// above; golang.org/x/sys/unix.Iovec carries a length type that varies by
// arch (uint64 vs uint32), so a fixed local struct keeps the pointer math
// unambiguous here.
type syscallIovec struct {
	base   uintptr
	length uint64
}
