// Package web serves the live annotated stream, upload classification,
// the polling status endpoints and the websocket feeds.
package web

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-fingerscope/pkg/capture"
	"github.com/teslashibe/go-fingerscope/pkg/classify"
	"github.com/teslashibe/go-fingerscope/pkg/hub"
	"github.com/teslashibe/go-fingerscope/pkg/state"
)

// Stream produces annotated JPEG frames, one independent session per call.
type Stream interface {
	Frames(ctx context.Context) iter.Seq[[]byte]
	ActiveSessions() int64
}

// Uploader classifies an uploaded still image without gating.
type Uploader interface {
	ClassifyUpload(data []byte) (classify.Result, error)
}

// StatusSource exposes the published prediction.
type StatusSource interface {
	Snapshot() state.Snapshot
}

// Camera is the capture side the server can stop and inspect.
type Camera interface {
	Release()
	Stats() capture.Stats
}

// Options tune the server. Zero values take defaults.
type Options struct {
	Addr           string
	FeedInterval   time.Duration // camera websocket pacing
	StatusInterval time.Duration // status change polling
	BodyLimit      int           // max upload size in bytes
	Logger         *slog.Logger
}

const (
	defaultFeedInterval   = 100 * time.Millisecond
	defaultStatusInterval = 200 * time.Millisecond
	defaultBodyLimit      = 16 * 1024 * 1024
	shutdownTimeout       = 5 * time.Second
)

// Server is the fingerscope HTTP surface.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	stream   Stream
	uploader Uploader
	status   StatusSource
	camera   Camera

	statusHub *hub.Hub
	cameraHub *hub.Hub

	feedInterval   time.Duration
	statusInterval time.Duration

	// streamCtx outlives requests; it ends every MJPEG stream on shutdown.
	streamCtx   context.Context
	stopStreams context.CancelFunc

	now func() time.Time

	// OnShutdown is called after POST /shutdown released the camera.
	OnShutdown func()
}

// NewServer wires routes over the given collaborators.
func NewServer(stream Stream, uploader Uploader, status StatusSource, camera Camera, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FeedInterval <= 0 {
		opts.FeedInterval = defaultFeedInterval
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = defaultStatusInterval
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = defaultBodyLimit
	}

	streamCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		addr:           opts.Addr,
		logger:         logger.With("component", "web"),
		stream:         stream,
		uploader:       uploader,
		status:         status,
		camera:         camera,
		statusHub:      hub.New("status", logger),
		cameraHub:      hub.New("camera", logger),
		feedInterval:   opts.FeedInterval,
		statusInterval: opts.StatusInterval,
		streamCtx:      streamCtx,
		stopStreams:    stop,
		now:            time.Now,
	}

	app := fiber.New(fiber.Config{
		AppName:               "fingerscope",
		DisableStartupMessage: true,
		BodyLimit:             opts.BodyLimit,
	})

	app.Use(cors.New())

	app.Get("/", s.handlePage("index.html"))
	app.Get("/mobile", s.handlePage("mobile.html"))
	app.Get("/video_feed", s.handleVideoFeed)
	app.Post("/predict_upload", s.handlePredictUpload)
	app.Get("/esp32_status", s.handleStatus)
	app.Post("/shutdown", s.handleShutdown)

	api := app.Group("/api")
	api.Get("/output", s.handleStatus)
	api.Get("/health", s.handleHealth)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Run serves until ctx is cancelled or the listener fails. Hubs and
// websocket feeds run alongside the listener.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { s.statusHub.Run(ctx); return nil })
	g.Go(func() error { s.cameraHub.Run(ctx); return nil })
	g.Go(func() error { s.runStatusFeed(ctx); return nil })
	g.Go(func() error { s.runCameraFeed(ctx); return nil })

	listening := make(chan struct{})
	served := make(chan struct{})
	s.app.Hooks().OnListen(func(fiber.ListenData) error {
		close(listening)
		return nil
	})

	g.Go(func() error {
		defer close(served)
		s.logger.Info("Web server listening", "addr", s.addr)
		if err := s.app.Listen(s.addr); err != nil {
			return fmt.Errorf("listen %s: %w", s.addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.stopStreams()
		select {
		case <-listening:
		case <-served:
			return nil
		}
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		s.logger.Info("Web server stopped")
		return nil
	})

	return g.Wait()
}
