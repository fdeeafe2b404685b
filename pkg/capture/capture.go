// Package capture runs the camera read loop and keeps only the newest
// frame. There is no queue: a slow consumer sees the freshest frame and
// older ones are overwritten.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// DefaultRetryInterval is the pause after a failed device read.
const DefaultRetryInterval = 50 * time.Millisecond

// ErrReadFailed is returned by devices when no frame could be grabbed.
var ErrReadFailed = errors.New("capture: read failed")

// Device is a video source. Read may block until a frame is available.
type Device interface {
	Read() (frame.Frame, error)
	Close() error
}

// Stats are the worker's counters.
type Stats struct {
	Session       string    `json:"session"`
	Running       bool      `json:"running"`
	FramesRead    int64     `json:"frames_read"`
	ReadFailures  int64     `json:"read_failures"`
	LastFrameTime time.Time `json:"last_frame_time"`
}

// Worker owns a Device and a single-slot frame buffer.
type Worker struct {
	dev    Device
	logger *slog.Logger
	retry  time.Duration

	// session identifies this camera session in logs and stats.
	session string

	mu      sync.Mutex
	current *frame.Frame

	running     atomic.Bool
	startOnce   sync.Once
	releaseOnce sync.Once
	cancel      context.CancelFunc
	cancelMu    sync.Mutex
	done        chan struct{}

	framesRead    atomic.Int64
	readFailures  atomic.Int64
	lastFrameTime atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithRetryInterval overrides the pause after a failed read.
func WithRetryInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.retry = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker wraps dev. Call Start to begin reading.
func NewWorker(dev Device, opts ...Option) *Worker {
	w := &Worker{
		dev:     dev,
		logger:  slog.Default(),
		retry:   DefaultRetryInterval,
		session: uuid.NewString(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "capture", "session", w.session)
	return w
}

// Start launches the read loop. It returns immediately. The loop stops
// when ctx is cancelled or Release is called. Only the first call has
// effect.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		w.cancelMu.Lock()
		w.cancel = cancel
		w.cancelMu.Unlock()

		w.running.Store(true)
		w.logger.Info("Capture started", "retry_interval", w.retry)
		go w.run(ctx)
	})
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.logger.Debug("Capture loop exited",
		"frames_read", w.framesRead.Load(),
		"read_failures", w.readFailures.Load())

	for w.running.Load() {
		if ctx.Err() != nil {
			return
		}

		f, err := w.dev.Read()
		if err != nil || f.Empty() {
			if w.readFailures.Add(1) == 1 {
				w.logger.Debug("Camera read failed, retrying", "error", err)
			}
			select {
			case <-time.After(w.retry):
			case <-ctx.Done():
				return
			}
			continue
		}

		w.mu.Lock()
		w.current = &f
		w.mu.Unlock()

		w.framesRead.Add(1)
		w.lastFrameTime.Store(time.Now().UnixNano())
	}
}

// GetFrame returns a copy of the newest frame, or false if nothing has
// been captured yet. It never waits on the device.
func (w *Worker) GetFrame() (frame.Frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return frame.Frame{}, false
	}
	return w.current.Clone(), true
}

// Running reports whether the read loop is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Release stops the loop and closes the device. Safe to call more than
// once; errors from the device are logged, not returned.
func (w *Worker) Release() {
	w.releaseOnce.Do(func() {
		w.running.Store(false)

		w.cancelMu.Lock()
		if w.cancel != nil {
			w.cancel()
		}
		w.cancelMu.Unlock()

		if err := w.dev.Close(); err != nil {
			w.logger.Warn("Camera release failed", "error", err)
		}
		w.logger.Info("Capture released", "frames_read", w.framesRead.Load())
	})
}

// Done is closed once the read loop has exited. It never closes if Start
// was not called.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	s := Stats{
		Session:      w.session,
		Running:      w.running.Load(),
		FramesRead:   w.framesRead.Load(),
		ReadFailures: w.readFailures.Load(),
	}
	if ns := w.lastFrameTime.Load(); ns != 0 {
		s.LastFrameTime = time.Unix(0, ns)
	}
	return s
}
