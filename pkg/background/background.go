// Package background decides whether a frame is blank, i.e. the camera
// sees the bright backdrop and no finger is in view.
package background

import "github.com/teslashibe/go-fingerscope/pkg/frame"

// Defaults match the lightbox rig: most of the frame is near white when
// nothing is placed on it.
const (
	DefaultIntensityThreshold = 200
	DefaultRatioThreshold     = 0.7
)

// Detector carries the thresholds. The zero value is not useful; use
// NewDetector or DefaultDetector.
type Detector struct {
	IntensityThreshold uint8
	RatioThreshold     float64
}

// DefaultDetector returns a Detector with the default thresholds.
func DefaultDetector() Detector {
	return Detector{
		IntensityThreshold: DefaultIntensityThreshold,
		RatioThreshold:     DefaultRatioThreshold,
	}
}

// NewDetector returns a Detector with the given thresholds.
func NewDetector(intensity uint8, ratio float64) Detector {
	return Detector{IntensityThreshold: intensity, RatioThreshold: ratio}
}

// IsBackground reports whether the fraction of pixels brighter than the
// intensity threshold exceeds the ratio threshold.
func (d Detector) IsBackground(f frame.Frame) bool {
	return IsBackground(f, d.IntensityThreshold, d.RatioThreshold)
}

// Ratio returns the fraction of pixels whose intensity exceeds threshold.
// An empty frame has ratio 0.
func Ratio(f frame.Frame, threshold uint8) float64 {
	if f.Empty() || f.Channels <= 0 {
		return 0
	}
	n := len(f.Pix) / f.Channels
	if n == 0 {
		return 0
	}

	bright := 0
	for i := 0; i < n; i++ {
		if f.Luma(i) > threshold {
			bright++
		}
	}
	return float64(bright) / float64(n)
}

// IsBackground is the stateless predicate behind Detector.
func IsBackground(f frame.Frame, intensity uint8, ratio float64) bool {
	return Ratio(f, intensity) > ratio
}
