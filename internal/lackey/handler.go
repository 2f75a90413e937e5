package lackey

import (
	"errors"
	"fmt"
	"net"

	"github.com/wellenbrecher-go/wellenbrecher/internal/canvas"
	"github.com/wellenbrecher-go/wellenbrecher/internal/logging"
	"github.com/wellenbrecher-go/wellenbrecher/internal/metrics"
	"github.com/wellenbrecher-go/wellenbrecher/internal/protocol"
	"github.com/wellenbrecher-go/wellenbrecher/internal/queue"
	"github.com/wellenbrecher-go/wellenbrecher/internal/ringrt"
	"github.com/wellenbrecher-go/wellenbrecher/internal/uring"
	"github.com/wellenbrecher-go/wellenbrecher/internal/userstate"
)

const (
	KindNewClient = "newclient"
	KindRead      = "read"
	KindWrite     = "write"
	KindExit      = "exit"
)

// NewClientMsg is the payload the empress posts via MsgRing for every
// accepted connection.
type NewClientMsg struct {
	ConnID     uint64
	Socket     int32
	Peer       net.Addr
	UserID     uint32
	State      *userstate.State
	BufferSize int
}

// writePayload owns the pooled buffer backing one outstanding Write/Writev
// completion; OnCompletion for KindWrite returns it to the pool.
type writePayload struct {
	buf  []byte
	bufs [][]byte
}

// Handler implements ringrt.RingOperation for every operation kind a
// lackey ring multiplexes: NewClient intake, Read, and Write-buffer-drop.
type Handler struct {
	canvas  *canvas.Canvas
	metrics metrics.Observer
	syscall Syscalls
}

// Syscalls is the subset of socket operations the handler needs, kept as
// an interface so tests can substitute an in-memory fake instead of real
// file descriptors.
type Syscalls interface {
	Close(fd int32) error
}

// NewHandler builds the Handler for one lackey ring.
func NewHandler(cv *canvas.Canvas, obs metrics.Observer, sys Syscalls) *Handler {
	return &Handler{canvas: cv, metrics: obs, syscall: sys}
}

// Kinds returns the ops map ready to hand to ringrt.NewDispatcher.
func (h *Handler) Kinds() map[string]ringrt.RingOperation {
	return map[string]ringrt.RingOperation{
		KindNewClient: newClientOp{h},
		KindRead:      readOp{h},
		KindWrite:     writeOp{h},
		KindExit:      exitOp{},
	}
}

// exitOp handles the empress's broadcast MsgRing(Exit): any completion
// tagged with this kind, regardless of payload, begins teardown.
type exitOp struct{}

func (exitOp) Setup(sub *ringrt.Submitter) error { return nil }
func (exitOp) OnCompletion(_ uring.Result, _ any, _ *ringrt.Submitter) (ringrt.ControlFlow, any) {
	return ringrt.Exit(), nil
}
func (exitOp) OnTeardownCompletion(_ uring.Result, _ any, _ *ringrt.Submitter) {}

type newClientOp struct{ h *Handler }

func (newClientOp) Setup(sub *ringrt.Submitter) error { return nil }

func (op newClientOp) OnCompletion(_ uring.Result, payload any, sub *ringrt.Submitter) (ringrt.ControlFlow, any) {
	msg, ok := payload.(NewClientMsg)
	if !ok {
		return ringrt.Warn(fmt.Errorf("newclient: unexpected payload type %T", payload)), nil
	}

	conn := NewConnection(msg.ConnID, msg.Socket, msg.Peer, msg.UserID, msg.State, msg.BufferSize)
	op.h.metrics.ObserveConnectionOpened()

	buf := conn.CommandRing.WriteSpan(conn.CommandRing.Capacity())
	if err := sub.PrepareRead(KindRead, conn.Socket, buf, conn); err != nil {
		return ringrt.Warn(fmt.Errorf("newclient: arm initial read: %w", err)), nil
	}
	return ringrt.Continue(), nil
}

func (newClientOp) OnTeardownCompletion(_ uring.Result, payload any, sub *ringrt.Submitter) {}

type readOp struct{ h *Handler }

func (readOp) Setup(sub *ringrt.Submitter) error { return nil }

func (op readOp) OnCompletion(res uring.Result, payload any, sub *ringrt.Submitter) (ringrt.ControlFlow, any) {
	conn, ok := payload.(*Connection)
	if !ok {
		return ringrt.Warn(fmt.Errorf("read: unexpected payload type %T", payload)), nil
	}

	n := res.Res
	if n <= 0 {
		op.h.dropConnection(conn)
		return ringrt.Continue(), nil
	}

	op.h.metrics.ObserveBytesRead(uint64(n))
	conn.CommandRing.AdvanceWrite(int(n))

	if err := op.h.parseExecuteBatch(conn, sub); err != nil {
		op.h.dropConnection(conn)
		return ringrt.Continue(), nil
	}

	buf := conn.CommandRing.WriteSpan(conn.CommandRing.Capacity())
	if len(buf) == 0 {
		// ring is full and unconsumed; back-pressure: don't re-arm until
		// the connection has made room by being parsed down further. The
		// next completion that frees space comes from this same read
		// never re-arming, which would stall the connection, so instead
		// we drop it — a Pixelflut connection that floods faster than it
		// can be parsed one command at a time is misbehaving.
		op.h.dropConnection(conn)
		return ringrt.Continue(), nil
	}
	if err := sub.PrepareRead(KindRead, conn.Socket, buf, conn); err != nil {
		op.h.dropConnection(conn)
	}
	return ringrt.Continue(), nil
}

func (op readOp) OnTeardownCompletion(_ uring.Result, payload any, sub *ringrt.Submitter) {
	if conn, ok := payload.(*Connection); ok {
		op.h.dropConnection(conn)
	}
}

type writeOp struct{ h *Handler }

func (writeOp) Setup(sub *ringrt.Submitter) error { return nil }

func (writeOp) OnCompletion(res uring.Result, payload any, sub *ringrt.Submitter) (ringrt.ControlFlow, any) {
	dropWritePayload(payload)
	return ringrt.Continue(), nil
}

func (writeOp) OnTeardownCompletion(_ uring.Result, payload any, sub *ringrt.Submitter) {
	dropWritePayload(payload)
}

func dropWritePayload(payload any) {
	wp, ok := payload.(writePayload)
	if !ok {
		return
	}
	if wp.buf != nil {
		queue.PutBuffer(wp.buf)
	}
	for _, b := range wp.bufs {
		queue.PutBuffer(b)
	}
}

func (h *Handler) dropConnection(conn *Connection) {
	_ = h.syscall.Close(conn.Socket)
	conn.UserState.Connections.Add(-1)
	h.metrics.ObserveConnectionClosed()
}

// parseExecuteBatch drains every complete command currently in conn's
// ring, dispatching SetPixel/GetPixel/Offset immediately and deferring
// HELP/SIZE replies to a single coalesced Writev after the batch.
func (h *Handler) parseExecuteBatch(conn *Connection, sub *ringrt.Submitter) error {
	conn.resetBatchCounters()

	for {
		cmd, err := conn.CommandRing.ReadNextCommand()
		if errors.Is(err, protocol.ErrMoreDataRequired) {
			break
		}
		if err != nil {
			h.metrics.ObserveParseError()
			return err
		}

		if err := h.execute(conn, cmd, sub); err != nil {
			return err
		}
	}

	return h.flushBatchReplies(conn, sub)
}

func (h *Handler) execute(conn *Connection, cmd protocol.Command, sub *ringrt.Submitter) error {
	switch cmd.Kind {
	case protocol.SetPixel:
		x, y := conn.TranslatedCoords(cmd.X, cmd.Y)
		if err := h.canvas.SetPixel(x, y, cmd.Color, conn.UserID); err != nil {
			return err
		}
		h.metrics.ObservePixelSet()
		return nil

	case protocol.GetPixel:
		x, y := conn.TranslatedCoords(cmd.X, cmd.Y)
		px, err := h.canvas.Pixel(x, y)
		if err != nil {
			return err
		}
		reply := []byte(fmt.Sprintf("PX %d %d %s\n", x, y, px.RGBAHex()))
		buf := queue.GetBuffer(uint32(len(reply)))
		copy(buf, reply)
		h.metrics.ObservePixelRead(0)
		return sub.PrepareWrite(KindWrite, conn.Socket, buf, writePayload{buf: buf})

	case protocol.Offset:
		conn.OffsetX, conn.OffsetY = cmd.X, cmd.Y
		return nil

	case protocol.Size:
		conn.sizeRequests++
		return nil

	case protocol.Help:
		conn.helpRequests++
		return nil
	}
	return nil
}

func (h *Handler) flushBatchReplies(conn *Connection, sub *ringrt.Submitter) error {
	if conn.sizeRequests == 0 && conn.helpRequests == 0 {
		return nil
	}
	if conn.sizeRequests > ampLogThreshold {
		logging.Default().Warn("possible SIZE amplification", "conn", conn.ID, "count", conn.sizeRequests)
	}
	if conn.helpRequests > ampLogThreshold {
		logging.Default().Warn("possible HELP amplification", "conn", conn.ID, "count", conn.helpRequests)
	}

	var bufs [][]byte
	if conn.sizeRequests > 0 {
		w, hgt := h.canvas.Width(), h.canvas.Height()
		reply := []byte(fmt.Sprintf("SIZE %d %d\n", w, hgt))
		buf := queue.GetBuffer(uint32(len(reply)))
		copy(buf, reply)
		bufs = append(bufs, buf)
	}
	if conn.helpRequests > 0 {
		buf := queue.GetBuffer(uint32(len(protocol.HelpText)))
		copy(buf, protocol.HelpText)
		bufs = append(bufs, buf)
	}

	return sub.PrepareWritev(KindWrite, conn.Socket, bufs, writePayload{bufs: bufs})
}
