package empress

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wellenbrecher-go/wellenbrecher/internal/constants"
	"github.com/wellenbrecher-go/wellenbrecher/internal/lackey"
	"github.com/wellenbrecher-go/wellenbrecher/internal/logging"
	"github.com/wellenbrecher-go/wellenbrecher/internal/ringrt"
	"github.com/wellenbrecher-go/wellenbrecher/internal/uring"
	"github.com/wellenbrecher-go/wellenbrecher/internal/userstate"
)

const (
	KindAccept = "accept"
	KindSignal = "signal"
	KindExit   = lackey.KindExit
)

// sizeofSiginfo is the kernel ABI size of struct signalfd_siginfo (128
// bytes on every architecture Linux defines it for); only the first field,
// ssi_signo, is read.
const sizeofSiginfo = 128

// Config holds the empress's accept/dispatch parameters, assembled from CLI
// flags by cmd/wellenbrecher.
type Config struct {
	Port          int
	AcceptBacklog int
	BufferSize    int
	IPv4Mask      [4]byte
	IPv6Mask      [16]byte
}

// exitProcess aborts the process on a stuck graceful shutdown; a package
// variable so tests can observe the decision without killing the test
// binary.
var exitProcess = os.Exit

// Handler implements ringrt.RingOperation for the empress ring's three
// kinds: Accept (dual-stack multishot accept plus dispatch), Signal
// (signalfd-driven shutdown trigger), and Exit (the empress's own copy of
// the broadcast it sends to every ring, including itself).
type Handler struct {
	cfg       Config
	registry  *userstate.Registry
	lackeyFds []int32

	ipv6Fd, ipv4Fd int32
	signalFd       int32
	sigBuf         []byte

	nextLackey atomic.Uint64
	connID     atomic.Uint64
	tracker    exitSignalTracker
}

// NewHandler opens the dual-stack listeners and the signalfd and returns a
// Handler ready to hand to ringrt.NewDispatcher. lackeyFds must already be
// populated with every lackey ring's fd before the empress dispatcher runs.
func NewHandler(registry *userstate.Registry, lackeyFds []int32, cfg Config) (*Handler, error) {
	ipv6Fd, ipv4Fd, err := openListeners(cfg.Port, cfg.AcceptBacklog)
	if err != nil {
		return nil, err
	}
	sigFd, err := openSignalfd()
	if err != nil {
		unix.Close(int(ipv6Fd))
		unix.Close(int(ipv4Fd))
		return nil, fmt.Errorf("empress: open signalfd: %w", err)
	}
	return &Handler{
		cfg:       cfg,
		registry:  registry,
		lackeyFds: lackeyFds,
		ipv6Fd:    ipv6Fd,
		ipv4Fd:    ipv4Fd,
		signalFd:  sigFd,
		sigBuf:    make([]byte, sizeofSiginfo),
	}, nil
}

// Kinds returns the ops map ready to hand to ringrt.NewDispatcher.
func (h *Handler) Kinds() map[string]ringrt.RingOperation {
	return map[string]ringrt.RingOperation{
		KindAccept: acceptOp{h},
		KindSignal: signalOp{h},
		KindExit:   exitOp{},
	}
}

// Close releases the listening sockets and the signalfd. Called once the
// dispatcher's Run loop returns.
func (h *Handler) Close() {
	unix.Close(int(h.ipv6Fd))
	unix.Close(int(h.ipv4Fd))
	unix.Close(int(h.signalFd))
}

func (h *Handler) pickLackey() int32 {
	n := h.nextLackey.Add(1) - 1
	return h.lackeyFds[n%uint64(len(h.lackeyFds))]
}

func peerAddr(fd int32) (net.Addr, error) {
	sa, err := unix.Getpeername(int(fd))
	if err != nil {
		return nil, fmt.Errorf("empress: getpeername: %w", err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}, nil
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}, nil
	default:
		return nil, fmt.Errorf("empress: unsupported sockaddr type %T", sa)
	}
}

func hostIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}

// acceptOp handles both listening sockets through the same kind, keyed
// apart only by which fd was armed — the fd itself is the completion
// payload so a stream that stops (no IORING_CQE_F_MORE) knows which
// socket to re-arm.
type acceptOp struct{ h *Handler }

func (op acceptOp) Setup(sub *ringrt.Submitter) error {
	if err := sub.PrepareAcceptMulti(KindAccept, op.h.ipv6Fd, op.h.ipv6Fd); err != nil {
		return err
	}
	return sub.PrepareAcceptMulti(KindAccept, op.h.ipv4Fd, op.h.ipv4Fd)
}

func (op acceptOp) OnCompletion(res uring.Result, payload any, sub *ringrt.Submitter) (ringrt.ControlFlow, any) {
	listenFd, _ := payload.(int32)

	if res.Res < 0 {
		logging.Default().Warn("accept failed", "errno", -res.Res)
		if !res.MoreFlag() {
			op.rearm(sub, listenFd)
		}
		return ringrt.Continue(), nil
	}

	connFd := int32(res.Res)
	if !res.MoreFlag() {
		op.rearm(sub, listenFd)
	}

	peer, err := peerAddr(connFd)
	if err != nil {
		logging.Default().Warn("peer address lookup failed, dropping connection", "err", err)
		unix.Close(int(connFd))
		return ringrt.Continue(), nil
	}

	masked := userstate.Mask(hostIP(peer), op.h.cfg.IPv4Mask, op.h.cfg.IPv6Mask)
	state, userID := op.h.registry.GetOrCreate(masked)
	state.Connections.Add(1)

	msg := lackey.NewClientMsg{
		ConnID:     op.h.connID.Add(1),
		Socket:     connFd,
		Peer:       peer,
		UserID:     userID,
		State:      state,
		BufferSize: op.h.cfg.BufferSize,
	}
	lackeyFd := op.h.pickLackey()
	if err := sub.PrepareMsgRing(lackey.KindNewClient, lackeyFd, msg); err != nil {
		logging.Default().Warn("dispatch new client failed", "err", err)
		state.Connections.Add(-1)
		unix.Close(int(connFd))
	}
	return ringrt.Continue(), nil
}

func (acceptOp) rearm(sub *ringrt.Submitter, listenFd int32) {
	if err := sub.PrepareAcceptMulti(KindAccept, listenFd, listenFd); err != nil {
		logging.Default().Warn("re-arm accept failed", "fd", listenFd, "err", err)
	}
}

func (acceptOp) OnTeardownCompletion(_ uring.Result, payload any, _ *ringrt.Submitter) {
	if connFd, ok := payload.(int32); ok {
		unix.Close(int(connFd))
	}
}

// signalOp reads signalfd_siginfo records off the blocked exit signals and
// drives the graceful shutdown broadcast.
type signalOp struct{ h *Handler }

func (op signalOp) Setup(sub *ringrt.Submitter) error {
	return sub.PrepareRead(KindSignal, op.h.signalFd, op.h.sigBuf, nil)
}

func (op signalOp) OnCompletion(res uring.Result, _ any, sub *ringrt.Submitter) (ringrt.ControlFlow, any) {
	if res.Res <= 0 {
		logging.Default().Warn("signalfd read failed", "errno", -res.Res)
		op.rearm(sub)
		return ringrt.Continue(), nil
	}

	signo := decodeSiginfo(op.h.sigBuf)
	if !isExitSignal(signo) {
		op.rearm(sub)
		return ringrt.Continue(), nil
	}

	if op.h.tracker.observe(time.Now(), constants.SecondSignalAbortWindow) {
		logging.Default().Error("second exit signal within abort window, aborting")
		exitProcess(-1)
		return ringrt.Continue(), nil
	}

	logging.Default().Info("exit signal received, broadcasting shutdown", "signo", signo)
	for _, fd := range op.h.lackeyFds {
		if err := sub.PrepareMsgRing(KindExit, fd, nil); err != nil {
			logging.Default().Warn("broadcast exit to lackey failed", "fd", fd, "err", err)
		}
	}
	if err := sub.PrepareMsgRing(KindExit, sub.Fd(), nil); err != nil {
		logging.Default().Warn("broadcast exit to self failed", "err", err)
	}

	op.rearm(sub)
	return ringrt.Continue(), nil
}

func (op signalOp) rearm(sub *ringrt.Submitter) {
	if err := sub.PrepareRead(KindSignal, op.h.signalFd, op.h.sigBuf, nil); err != nil {
		logging.Default().Warn("re-arm signalfd read failed", "err", err)
	}
}

func (signalOp) OnTeardownCompletion(_ uring.Result, _ any, _ *ringrt.Submitter) {}

// exitOp is the kind both the empress's own broadcast MsgRing and every
// lackey's copy arrive tagged with; any completion on it begins teardown.
type exitOp struct{}

func (exitOp) Setup(*ringrt.Submitter) error { return nil }
func (exitOp) OnCompletion(uring.Result, any, *ringrt.Submitter) (ringrt.ControlFlow, any) {
	return ringrt.Exit(), nil
}
func (exitOp) OnTeardownCompletion(uring.Result, any, *ringrt.Submitter) {}
