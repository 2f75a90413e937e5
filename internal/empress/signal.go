package empress

import (
	"time"

	"golang.org/x/sys/unix"
)

const exitSignals = "SIGINT|SIGQUIT|SIGTERM"

var watchedSignals = []int{unix.SIGINT, unix.SIGQUIT, unix.SIGTERM}

// openSignalfd blocks the watched signals from normal delivery and returns a
// file descriptor that becomes readable — yielding a SignalfdSiginfo per
// read — whenever one of them arrives, so the empress learns about shutdown
// requests through the same io_uring Read completion path as everything
// else instead of a separate os/signal channel.
func openSignalfd() (int32, error) {
	var set unix.Sigset_t
	for _, sig := range watchedSignals {
		sigsetAdd(&set, sig)
	}
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		return -1, err
	}
	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return int32(fd), nil
}

func sigsetAdd(set *unix.Sigset_t, sig int) {
	set.Val[(sig-1)/64] |= 1 << uint((sig-1)%64)
}

func isExitSignal(signo uint32) bool {
	for _, s := range watchedSignals {
		if uint32(s) == signo {
			return true
		}
	}
	return false
}

// decodeSiginfo extracts the ssi_signo field, the first 4 bytes of the
// kernel's signalfd_siginfo struct, out of a raw read buffer.
func decodeSiginfo(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// exitSignalTracker implements the "second signal within the abort window"
// escalation: an exit signal arriving less than SecondSignalAbortWindow
// after the first one reports isSecond, and the caller aborts the process
// outright. A later signal, outside the window, does not escalate.
type exitSignalTracker struct {
	firstSeen time.Time
}

func (t *exitSignalTracker) observe(now time.Time, window time.Duration) (isSecond bool) {
	if t.firstSeen.IsZero() {
		t.firstSeen = now
		return false
	}
	return now.Sub(t.firstSeen) < window
}
