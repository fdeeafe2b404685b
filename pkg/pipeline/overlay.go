package pipeline

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/teslashibe/go-fingerscope/pkg/state"
)

// Overlay colors (RGB).
var (
	ColorPositive = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	ColorClubbing = color.RGBA{R: 200, G: 200, B: 0, A: 255}
	ColorBlue     = color.RGBA{R: 0, G: 150, B: 255, A: 255}
	ColorAlert    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// clubbingPrefix matches "clubbing", "Clubbed", ...
const clubbingPrefix = "clubb"

// Overlay is what gets drawn on a frame.
type Overlay struct {
	Text    string
	Color   color.RGBA
	Warning bool
}

// ColorFor maps a displayed label to its overlay color.
func ColorFor(label string) color.RGBA {
	if state.IsWarning(label) {
		return ColorAlert
	}
	lower := strings.ToLower(label)
	switch {
	case strings.HasPrefix(lower, clubbingPrefix):
		return ColorClubbing
	case strings.Contains(lower, "blue"):
		return ColorBlue
	default:
		return ColorPositive
	}
}

// warningOverlay is shown whenever no confident classification is on screen.
func warningOverlay() Overlay {
	return Overlay{Text: state.LabelPlace, Color: ColorAlert, Warning: true}
}

// labelOverlay formats a confident classification.
func labelOverlay(label string, confidence float64) Overlay {
	return Overlay{
		Text:  fmt.Sprintf("%s (%.1f%%)", label, confidence*100),
		Color: ColorFor(label),
	}
}
