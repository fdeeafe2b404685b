// Package opencv holds the gocv-backed implementations: the camera
// device, the ONNX backbone, the background check and the overlay
// renderer. Everything that
// needs cgo OpenCV lives here so the rest of the module builds and tests
// without it.
package opencv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// toMat wraps a frame's pixels in a Mat. The Mat references f.Pix; keep
// the frame alive until the Mat is closed.
func toMat(f frame.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.Mat{}, err
	}
	var mt gocv.MatType
	switch f.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	}
	m, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap frame: %w", err)
	}
	return m, nil
}

// fromMat copies an 8-bit Mat into a frame.
func fromMat(m gocv.Mat) frame.Frame {
	return frame.Frame{
		Width:    m.Cols(),
		Height:   m.Rows(),
		Channels: m.Channels(),
		Pix:      m.ToBytes(),
	}
}
