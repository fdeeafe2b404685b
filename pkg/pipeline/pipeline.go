// Package pipeline drives frame consumption: it pulls the newest frame,
// checks for an empty backdrop on every tick, classifies every Nth tick,
// gates the result and publishes it, then renders an annotated frame.
//
// The background check is cheap and runs at full rate so the warning
// reacts immediately. Classification is expensive and runs at 1/N rate
// so it never starves frame delivery. Between classifications the last
// result stays on screen ("sticky") unless the fresh background check
// overrides it.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-fingerscope/pkg/classify"
	"github.com/teslashibe/go-fingerscope/pkg/frame"
	"github.com/teslashibe/go-fingerscope/pkg/state"
)

// FrameSource yields the newest captured frame without blocking.
type FrameSource interface {
	GetFrame() (frame.Frame, bool)
}

// BackgroundDetector reports whether a frame shows no subject.
type BackgroundDetector interface {
	IsBackground(f frame.Frame) bool
}

// Classifier classifies a single frame.
type Classifier interface {
	Classify(f frame.Frame) (classify.Result, error)
}

// Renderer draws the overlay and encodes the frame.
type Renderer interface {
	Render(f frame.Frame, o Overlay) ([]byte, error)
}

// Config holds the gating parameters. Immutable once the loop is built.
type Config struct {
	// ConfidenceThreshold below which a classification is replaced by
	// the "place your finger" label (confidence kept).
	ConfidenceThreshold float64

	// InferEvery is the cadence N: classify when tick % N == 0.
	InferEvery int

	// IdleWait is the pause when no frame has been captured yet.
	IdleWait time.Duration

	// MinTickInterval paces ticks. Zero runs as fast as frames render.
	MinTickInterval time.Duration
}

// DefaultConfig returns the production gating parameters.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		InferEvery:          3,
		IdleWait:            50 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %v", c.ConfidenceThreshold)
	}
	if c.InferEvery < 1 {
		return fmt.Errorf("infer_every_n_frames must be >= 1, got %d", c.InferEvery)
	}
	if c.IdleWait <= 0 {
		return fmt.Errorf("idle_wait must be positive, got %v", c.IdleWait)
	}
	if c.MinTickInterval < 0 {
		return fmt.Errorf("min_tick_interval must not be negative, got %v", c.MinTickInterval)
	}
	return nil
}

// Loop wires the collaborators together. It holds no per-stream state;
// every Frames call starts a fresh Session.
type Loop struct {
	cfg        Config
	source     FrameSource
	background BackgroundDetector
	classifier Classifier
	renderer   Renderer
	published  *state.Prediction
	logger     *slog.Logger

	sessions atomic.Int64
}

// New builds a Loop.
func New(cfg Config, source FrameSource, bg BackgroundDetector, cls Classifier,
	r Renderer, published *state.Prediction, logger *slog.Logger) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:        cfg,
		source:     source,
		background: bg,
		classifier: cls,
		renderer:   r,
		published:  published,
		logger:     logger.With("component", "pipeline"),
	}, nil
}

// ActiveSessions returns the number of running frame sequences.
func (l *Loop) ActiveSessions() int64 {
	return l.sessions.Load()
}

// Session is one consumer's view of the loop: its own tick counter and
// sticky result.
type Session struct {
	loop   *Loop
	id     string
	logger *slog.Logger

	tick uint64
	last *classify.Result

	inferences     int64
	inferErrors    int64
	encodeFailures int64
}

// NewSession starts a session at tick 0 with no sticky result.
func (l *Loop) NewSession() *Session {
	id := uuid.NewString()
	return &Session{
		loop:   l,
		id:     id,
		logger: l.logger.With("stream", id),
	}
}

// Tick returns the number of ticks processed.
func (s *Session) Tick() uint64 { return s.tick }

// Step processes one frame and returns the overlay to draw on it.
func (s *Session) Step(f frame.Frame) Overlay {
	s.tick++
	bg := s.loop.background.IsBackground(f)

	if s.tick%uint64(s.loop.cfg.InferEvery) == 0 {
		s.infer(f, bg)
	}
	return s.overlay(bg)
}

// infer classifies f and publishes the gated result.
func (s *Session) infer(f frame.Frame, bg bool) {
	s.inferences++
	res, err := s.loop.classifier.Classify(f)
	if err != nil {
		s.inferErrors++
		s.last = nil
		s.loop.published.Set(state.LabelError, 0)
		s.logger.Warn("Inference failed", "tick", s.tick, "error", err)
		return
	}
	s.last = &res

	switch {
	case bg:
		s.loop.published.Set(state.LabelPlace, 0)
	case res.Confidence < s.loop.cfg.ConfidenceThreshold:
		s.loop.published.Set(state.LabelPlace, res.Confidence)
	default:
		s.loop.published.Set(res.Label, res.Confidence)
	}
}

// overlay combines the fresh background check with the sticky result.
func (s *Session) overlay(bg bool) Overlay {
	switch {
	case bg, s.last == nil:
		return warningOverlay()
	case s.last.Confidence < s.loop.cfg.ConfidenceThreshold:
		return warningOverlay()
	default:
		return labelOverlay(s.last.Label, s.last.Confidence)
	}
}

// Frames returns a lazy, unbounded sequence of annotated encoded frames.
// Each iteration runs its own Session; stopping the iteration or
// cancelling ctx ends it. A frame that fails to encode is skipped.
func (l *Loop) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		s := l.NewSession()
		l.sessions.Add(1)
		defer l.sessions.Add(-1)

		s.logger.Debug("Stream session started")
		defer func() {
			s.logger.Debug("Stream session ended",
				"ticks", s.tick,
				"inferences", s.inferences,
				"inference_errors", s.inferErrors,
				"encode_failures", s.encodeFailures)
		}()

		var lastTick time.Time
		for ctx.Err() == nil {
			f, ok := l.source.GetFrame()
			if !ok {
				if !sleep(ctx, l.cfg.IdleWait) {
					return
				}
				continue
			}

			if l.cfg.MinTickInterval > 0 && !lastTick.IsZero() {
				if wait := l.cfg.MinTickInterval - time.Since(lastTick); wait > 0 {
					if !sleep(ctx, wait) {
						return
					}
				}
			}
			lastTick = time.Now()

			ov := s.Step(f)
			buf, err := l.renderer.Render(f, ov)
			if err != nil {
				s.encodeFailures++
				s.logger.Debug("Frame encode failed, skipping", "tick", s.tick, "error", err)
				continue
			}
			if !yield(buf) {
				return
			}
		}
	}
}

// sleep waits for d or ctx; it reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
