package opencv

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-fingerscope/pkg/capture"
	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// CameraConfig selects and sizes the capture device.
type CameraConfig struct {
	// Source is a device index ("0") or a stream URL.
	Source string
	Width  int
	Height int
}

// Camera implements capture.Device over a gocv VideoCapture.
type Camera struct {
	mu     sync.Mutex // serializes Read and Close
	vc     *gocv.VideoCapture
	img    gocv.Mat
	closed bool
}

// OpenCamera opens the device and requests the configured resolution.
// The driver may pick a different one.
func OpenCamera(cfg CameraConfig) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("open camera %q: %w", cfg.Source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera %q is not opened", cfg.Source)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	return &Camera{vc: vc, img: gocv.NewMat()}, nil
}

// Read grabs the next frame.
func (c *Camera) Read() (frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return frame.Frame{}, capture.ErrReadFailed
	}
	if ok := c.vc.Read(&c.img); !ok || c.img.Empty() {
		return frame.Frame{}, capture.ErrReadFailed
	}
	return fromMat(c.img), nil
}

// Close releases the device. A read in progress finishes first.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.img.Close()
	return c.vc.Close()
}
