// fingerscope - live finger classification from a camera feed
//
// Captures frames, classifies every Nth one and serves an annotated
// MJPEG stream plus a polling status endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-fingerscope/internal/config"
	"github.com/teslashibe/go-fingerscope/internal/log"
	"github.com/teslashibe/go-fingerscope/pkg/background"
	"github.com/teslashibe/go-fingerscope/pkg/capture"
	"github.com/teslashibe/go-fingerscope/pkg/classify"
	"github.com/teslashibe/go-fingerscope/pkg/opencv"
	"github.com/teslashibe/go-fingerscope/pkg/pipeline"
	"github.com/teslashibe/go-fingerscope/pkg/state"
	"github.com/teslashibe/go-fingerscope/pkg/web"
)

type flags struct {
	configPath string
	logLevel   string
	port       int
	camera     string
}

func main() {
	f := parseFlags()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error("Fatal", "error", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config (defaults are used when empty)")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config and LOG_LEVEL)")
	flag.IntVar(&f.port, "port", 0, "HTTP port (overrides config and PORT)")
	flag.StringVar(&f.camera, "camera", "", "Camera index or stream URL (overrides config and CAMERA_INDEX/CAMERA_URL)")
	flag.Parse()
	return f
}

// loadConfig layers defaults, file, environment and flags, then validates.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.camera != "" {
		cfg.Camera.Source = f.camera
	}
	return cfg, cfg.Validate()
}

// buildClassifier loads class names, the ONNX backbone and the optional
// head. Any mismatch between them is fatal.
func buildClassifier(cfg *config.Config) (*classify.Classifier, error) {
	classes, err := config.LoadClassNames(cfg.Model.ClassesPath)
	if err != nil {
		return nil, err
	}

	backbone, err := opencv.NewBackbone(opencv.BackboneConfig{
		ModelPath:  cfg.Model.BackbonePath,
		Backend:    cfg.Model.Backend,
		Target:     cfg.Model.Target,
		OutputName: cfg.Model.OutputName,
	})
	if err != nil {
		return nil, fmt.Errorf("load backbone: %w", err)
	}

	var head *classify.Head
	if cfg.Model.HeadPath != "" {
		weights, err := classify.LoadHead(cfg.Model.HeadPath)
		if err != nil {
			backbone.Close()
			return nil, fmt.Errorf("load head: %w", err)
		}
		if head, err = classify.NewHead(weights, len(classes), backbone.OutputSize()); err != nil {
			backbone.Close()
			return nil, err
		}
	}

	cls, err := classify.New(backbone, head, classes, log.L())
	if err != nil {
		backbone.Close()
		return nil, err
	}
	log.Info("Classifier ready",
		"classes", classes,
		"features", backbone.OutputSize(),
		"head", head != nil)
	return cls, nil
}

// openDevice picks the capture driver.
func openDevice(cfg config.CameraConfig) (capture.Device, error) {
	if cfg.Driver == config.DriverSnapshot {
		log.Info("Polling snapshots", "url", cfg.Source, "timeout", cfg.FetchTimeout)
		return capture.NewSnapshotDevice(cfg.Source, cfg.FetchTimeout), nil
	}
	cam, err := opencv.OpenCamera(opencv.CameraConfig{
		Source: cfg.Source,
		Width:  cfg.Width,
		Height: cfg.Height,
	})
	if err != nil {
		return nil, err
	}
	return cam, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log.Info("Starting fingerscope", "camera", cfg.Camera.Source, "addr", cfg.Addr())

	cls, err := buildClassifier(cfg)
	if err != nil {
		return err
	}
	defer cls.Close()

	cam, err := openDevice(cfg.Camera)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	worker := capture.NewWorker(cam,
		capture.WithRetryInterval(cfg.Camera.RetryInterval),
		capture.WithLogger(log.L()))
	defer worker.Release()

	published := state.New()

	loop, err := pipeline.New(pipeline.Config{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		InferEvery:          cfg.Pipeline.InferEvery,
		IdleWait:            cfg.Pipeline.IdleWait,
		MinTickInterval:     cfg.Pipeline.MinTickInterval,
	},
		worker,
		opencv.NewBackgroundDetector(background.NewDetector(
			uint8(cfg.Pipeline.BackgroundIntensity), cfg.Pipeline.BackgroundRatio)),
		cls,
		opencv.NewRenderer(cfg.Server.JPEGQuality),
		published,
		log.L())
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := web.NewServer(loop, cls, published, worker, web.Options{
		Addr:         cfg.Addr(),
		FeedInterval: cfg.Server.FeedInterval,
		Logger:       log.L(),
	})
	srv.OnShutdown = stop

	worker.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		worker.Release()
		<-worker.Done()
		return nil
	})

	err = g.Wait()
	log.Info("Shutdown complete", "capture", worker.Stats())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
