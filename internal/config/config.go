// Package config provides configuration for the fingerscope service:
// a YAML file, environment overrides and the class name list.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default server configuration.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 5000
)

// Camera drivers.
const (
	DriverOpenCV   = "opencv"   // gocv VideoCapture: device index or stream URL
	DriverSnapshot = "snapshot" // HTTP still-image polling, e.g. ESP32-CAM /capture
)

// CameraConfig describes the capture device.
type CameraConfig struct {
	Driver        string        `yaml:"driver"`
	Source        string        `yaml:"source"` // device index ("0") or URL
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"` // snapshot driver only
}

// ModelConfig locates the classifier files.
type ModelConfig struct {
	BackbonePath string `yaml:"backbone_path"`
	HeadPath     string `yaml:"head_path"` // empty: backbone emits class scores
	ClassesPath  string `yaml:"classes_path"`
	Backend      string `yaml:"backend"`
	Target       string `yaml:"target"`
	OutputName   string `yaml:"output_name"`
}

// PipelineConfig holds the gating parameters.
type PipelineConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	InferEvery          int           `yaml:"infer_every_n_frames"`
	BackgroundIntensity int           `yaml:"background_intensity"`
	BackgroundRatio     float64       `yaml:"background_ratio"`
	IdleWait            time.Duration `yaml:"idle_wait"`
	MinTickInterval     time.Duration `yaml:"min_tick_interval"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	JPEGQuality  int           `yaml:"jpeg_quality"`
	FeedInterval time.Duration `yaml:"feed_interval"` // websocket camera feed pacing
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Model    ModelConfig    `yaml:"model"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			Driver:        DriverOpenCV,
			Source:        "0",
			Width:         1600,
			Height:        1200,
			RetryInterval: 50 * time.Millisecond,
			FetchTimeout:  5 * time.Second,
		},
		Model: ModelConfig{
			BackbonePath: "models/resnet18_features.onnx",
			HeadPath:     "models/head.json",
			ClassesPath:  "classes.json",
			Backend:      "default",
			Target:       "cpu",
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: 0.6,
			InferEvery:          3,
			BackgroundIntensity: 200,
			BackgroundRatio:     0.7,
			IdleWait:            50 * time.Millisecond,
		},
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			JPEGQuality:  95,
			FeedInterval: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file
// keep their default value. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. CAMERA_URL wins over
// CAMERA_INDEX.
func (c *Config) ApplyEnv() error {
	if idx := os.Getenv("CAMERA_INDEX"); idx != "" {
		if _, err := strconv.Atoi(idx); err != nil {
			return fmt.Errorf("CAMERA_INDEX: %w", err)
		}
		c.Camera.Source = idx
	}
	if url := os.Getenv("CAMERA_URL"); url != "" {
		c.Camera.Source = url
	}
	c.Camera.Driver = envOr("CAMERA_DRIVER", c.Camera.Driver)
	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.Model.BackbonePath = envOr("MODEL_PATH", c.Model.BackbonePath)
	c.Model.HeadPath = envOr("HEAD_PATH", c.Model.HeadPath)
	c.Model.ClassesPath = envOr("CLASSES_JSON", c.Model.ClassesPath)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Camera.Driver == DriverOpenCV || c.Camera.Driver == DriverSnapshot,
		"camera.driver must be %s or %s, got %q", DriverOpenCV, DriverSnapshot, c.Camera.Driver)
	check(c.Camera.Source != "", "camera.source is required")
	check(c.Camera.Width > 0 && c.Camera.Height > 0,
		"camera.width and camera.height must be > 0, got %dx%d", c.Camera.Width, c.Camera.Height)
	check(c.Camera.RetryInterval > 0, "camera.retry_interval must be > 0, got %v", c.Camera.RetryInterval)
	check(c.Camera.Driver != DriverSnapshot || c.Camera.FetchTimeout > 0,
		"camera.fetch_timeout must be > 0 for the snapshot driver, got %v", c.Camera.FetchTimeout)

	check(c.Model.BackbonePath != "", "model.backbone_path is required")

	p := c.Pipeline
	check(p.ConfidenceThreshold >= 0 && p.ConfidenceThreshold <= 1,
		"pipeline.confidence_threshold must be between 0 and 1, got %v", p.ConfidenceThreshold)
	check(p.InferEvery >= 1, "pipeline.infer_every_n_frames must be >= 1, got %d", p.InferEvery)
	check(p.BackgroundIntensity >= 0 && p.BackgroundIntensity <= 255,
		"pipeline.background_intensity must be between 0 and 255, got %d", p.BackgroundIntensity)
	check(p.BackgroundRatio >= 0 && p.BackgroundRatio <= 1,
		"pipeline.background_ratio must be between 0 and 1, got %v", p.BackgroundRatio)
	check(p.IdleWait > 0, "pipeline.idle_wait must be > 0, got %v", p.IdleWait)
	check(p.MinTickInterval >= 0, "pipeline.min_tick_interval must not be negative, got %v", p.MinTickInterval)

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port out of range: %d", c.Server.Port)
	check(c.Server.JPEGQuality >= 1 && c.Server.JPEGQuality <= 100,
		"server.jpeg_quality must be between 1 and 100, got %d", c.Server.JPEGQuality)
	check(c.Server.FeedInterval > 0, "server.feed_interval must be > 0, got %v", c.Server.FeedInterval)

	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format must be text or json, got %q", c.Log.Format)

	return errors.Join(errs...)
}
