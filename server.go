// Package wellenbrecher provides the main API for serving a Pixelflut
// canvas over TCP: one empress ring owning the listening sockets and
// graceful shutdown, fanned out to N lackey rings each driving its own
// slice of connections against a shared canvas.
package wellenbrecher

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/wellenbrecher-go/wellenbrecher/internal/canvas"
	"github.com/wellenbrecher-go/wellenbrecher/internal/config"
	"github.com/wellenbrecher-go/wellenbrecher/internal/empress"
	"github.com/wellenbrecher-go/wellenbrecher/internal/firewall"
	"github.com/wellenbrecher-go/wellenbrecher/internal/lackey"
	"github.com/wellenbrecher-go/wellenbrecher/internal/logging"
	"github.com/wellenbrecher-go/wellenbrecher/internal/metrics"
	"github.com/wellenbrecher-go/wellenbrecher/internal/ringrt"
	"github.com/wellenbrecher-go/wellenbrecher/internal/uring"
	"github.com/wellenbrecher-go/wellenbrecher/internal/userstate"
)

// Options carries the pieces of a Server a caller might want to override or
// observe; a nil Options behaves like &Options{}.
type Options struct {
	// Logger receives structured events from every ring. Defaults to
	// logging.Default() if nil.
	Logger *logging.Logger

	// Observer receives per-operation metrics. Defaults to a fresh
	// metrics.Metrics wired through metrics.NewObserver if nil.
	Observer metrics.Observer

	// Metrics is the underlying metrics.Metrics instance backing the
	// default Observer; only meaningful when Observer is nil. Exposed so
	// callers that need Server.Metrics() to return real data don't have to
	// build their own Observer wrapper.
	Metrics *metrics.Metrics

	// PinThreads requests CPU affinity pinning for each lackey thread
	// (lackey i to CPU i), matching the spec's single-issuer-per-core
	// design. Best-effort: a failed SchedSetaffinity call is logged and
	// ignored rather than failing startup.
	PinThreads bool
}

// Server is a running Pixelflut server: one empress dispatcher plus N
// lackey dispatchers, each on its own locked OS thread, sharing one canvas.
type Server struct {
	cfg      config.Config
	canvas   *canvas.Canvas
	registry *userstate.Registry
	metrics  *metrics.Metrics

	empressDisp *ringrt.Dispatcher
	lackeyDisps []*ringrt.Dispatcher
	lackeyRings []uring.Ring

	metricsSrv metricsServer

	wg   sync.WaitGroup
	errs chan error
}

type metricsServer interface {
	Shutdown(ctx context.Context) error
}

type realSyscalls struct{}

func (realSyscalls) Close(fd int32) error { return unix.Close(int(fd)) }

// Serve opens the canvas, starts one lackey dispatcher per cfg.Threads plus
// the empress dispatcher, and returns once their goroutines are started;
// each ring runs its Setup inside its own goroutine, so Serve does not wait
// for it. The listening sockets are already bound when Serve returns. The
// returned Server runs in background goroutines until a graceful-shutdown
// signal arrives or Shutdown is called.
func Serve(ctx context.Context, cfg config.Config, opts *Options) (*Server, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger != nil {
		logging.SetDefault(opts.Logger)
	}

	if err := firewall.ApplyConnectionLimit(cfg.ConnectionsPerIP, cfg.Port); err != nil {
		return nil, &Error{Op: "APPLY_FIREWALL", Ring: -1, Code: ErrCodeNotImplemented, Msg: err.Error(), Inner: err}
	}

	cv, err := canvas.Open(cfg.CanvasFileLink, false, cfg.Width, cfg.Height, canvas.Bgra{})
	if err != nil {
		return nil, WrapError("OPEN_CANVAS", err)
	}

	var m *metrics.Metrics
	observer := opts.Observer
	if observer == nil {
		m = opts.Metrics
		if m == nil {
			m = metrics.New()
		}
		observer = metrics.NewObserver(m)
	}

	s := &Server{
		cfg:      cfg,
		canvas:   cv,
		registry: userstate.NewRegistry(),
		metrics:  m,
		errs:     make(chan error, cfg.Threads+1),
	}

	if err := s.startLackeys(cfg, observer, opts); err != nil {
		cv.Close()
		return nil, err
	}

	if err := s.startEmpress(cfg); err != nil {
		s.teardownLackeys()
		cv.Close()
		return nil, err
	}

	if cfg.MetricsAddr != "" && m != nil {
		s.metricsSrv = metrics.Serve(cfg.MetricsAddr, m)
	}

	return s, nil
}

func (s *Server) startLackeys(cfg config.Config, observer metrics.Observer, opts *Options) error {
	s.lackeyRings = make([]uring.Ring, cfg.Threads)
	s.lackeyDisps = make([]*ringrt.Dispatcher, cfg.Threads)

	for i := 0; i < cfg.Threads; i++ {
		ring, err := uring.New(uring.Config{Entries: cfg.IOURingSize, SingleIssuer: true, CoopTaskrun: true, DeferTaskrun: true})
		if err != nil {
			s.teardownRings(i)
			return WrapError("CREATE_LACKEY_RING", err)
		}
		s.lackeyRings[i] = ring

		h := lackey.NewHandler(s.canvas, observer, realSyscalls{})
		s.lackeyDisps[i] = ringrt.NewDispatcher(fmt.Sprintf("lackey-%d", i), ring, h.Kinds())
	}

	for i, d := range s.lackeyDisps {
		i, d := i, d
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if opts.PinThreads {
				pinToCPU(i)
			}
			if err := d.Run(); err != nil {
				s.errs <- fmt.Errorf("lackey %d: %w", i, err)
			}
		}()
	}

	return nil
}

func (s *Server) startEmpress(cfg config.Config) error {
	lackeyFds := make([]int32, len(s.lackeyRings))
	for i, r := range s.lackeyRings {
		lackeyFds[i] = r.Fd()
	}

	ring, err := uring.New(uring.Config{Entries: cfg.IOURingSize, SingleIssuer: true, CoopTaskrun: true, DeferTaskrun: true})
	if err != nil {
		return WrapError("CREATE_EMPRESS_RING", err)
	}

	h, err := empress.NewHandler(s.registry, lackeyFds, empress.Config{
		Port:          cfg.Port,
		AcceptBacklog: cfg.TCPAcceptBacklog,
		BufferSize:    cfg.BufferSize,
		IPv4Mask:      cfg.IPv4Mask,
		IPv6Mask:      cfg.IPv6Mask,
	})
	if err != nil {
		ring.Close()
		return err
	}

	disp := ringrt.NewDispatcher("empress", ring, h.Kinds())
	s.empressDisp = disp

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer h.Close()
		if err := disp.Run(); err != nil {
			s.errs <- fmt.Errorf("empress: %w", err)
		}
	}()

	return nil
}

func pinToCPU(cpu int) {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		logging.Default().Warn("cpu pin failed", "cpu", cpu, "err", err)
	}
}

func (s *Server) teardownRings(created int) {
	for i := 0; i < created; i++ {
		s.lackeyRings[i].Close()
	}
}

func (s *Server) teardownLackeys() {
	for _, r := range s.lackeyRings {
		r.Close()
	}
}

// Wait blocks until every dispatcher has returned (normally because the
// empress's signalfd received an exit-class signal and broadcast shutdown
// to every ring) and returns the first non-nil error encountered, if any.
func (s *Server) Wait() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var firstErr error
	for {
		select {
		case err := <-s.errs:
			if firstErr == nil {
				firstErr = err
			}
		case <-done:
			select {
			case err := <-s.errs:
				if firstErr == nil {
					firstErr = err
				}
			default:
			}
			return firstErr
		}
	}
}

// Shutdown requests a graceful shutdown by signaling the process with
// SIGTERM, driving the same signalfd-based broadcast path a real exit
// signal would, then waits for every ring to tear down or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := unix.Kill(os.Getpid(), unix.SIGTERM); err != nil {
		return WrapError("SHUTDOWN_SIGNAL", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()

	select {
	case err := <-done:
		s.closeMetricsServer(ctx)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) closeMetricsServer(ctx context.Context) {
	if s.metricsSrv == nil {
		return
	}
	_ = s.metricsSrv.Shutdown(ctx)
}

// Metrics returns the live metrics snapshot, or a zero Snapshot if a
// caller-supplied Observer was used instead of the built-in one.
func (s *Server) Metrics() metrics.Snapshot {
	if s.metrics == nil {
		return metrics.Snapshot{}
	}
	return s.metrics.Snapshot()
}

// Canvas returns the server's canvas handle, e.g. for an embedder that
// wants to inspect pixels directly.
func (s *Server) Canvas() *canvas.Canvas {
	return s.canvas
}
