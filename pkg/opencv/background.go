package opencv

import (
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-fingerscope/pkg/background"
	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// BackgroundDetector is the OpenCV form of background.Detector: gray
// conversion, a binary threshold and CountNonZero.
type BackgroundDetector struct {
	background.Detector
}

// NewBackgroundDetector wraps the given thresholds.
func NewBackgroundDetector(d background.Detector) *BackgroundDetector {
	return &BackgroundDetector{Detector: d}
}

// IsBackground reports whether more than RatioThreshold of the pixels are
// brighter than IntensityThreshold. Frames OpenCV cannot wrap are not
// background.
func (d *BackgroundDetector) IsBackground(f frame.Frame) bool {
	return BrightRatio(f, d.IntensityThreshold) > d.RatioThreshold
}

// BrightRatio returns the fraction of pixels whose gray level exceeds
// threshold. An empty or invalid frame has ratio 0.
func BrightRatio(f frame.Frame, threshold uint8) float64 {
	if f.Empty() {
		return 0
	}
	src, err := toMat(f)
	if err != nil {
		return 0
	}
	defer src.Close()

	gray := src
	switch f.Channels {
	case 3, 4:
		code := gocv.ColorBGRToGray
		if f.Channels == 4 {
			code = gocv.ColorBGRAToGray
		}
		gray = gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(src, &gray, code)
	}

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(gray, &bin, float32(threshold), 255, gocv.ThresholdBinary)

	total := f.Width * f.Height
	return float64(gocv.CountNonZero(bin)) / float64(total)
}
