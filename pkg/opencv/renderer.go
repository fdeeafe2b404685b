package opencv

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-fingerscope/pkg/frame"
	"github.com/teslashibe/go-fingerscope/pkg/pipeline"
)

// DefaultJPEGQuality matches OpenCV's own default.
const DefaultJPEGQuality = 95

var (
	labelBox    = image.Rect(5, 5, 350, 45)
	labelOrigin = image.Pt(10, 30)
	boxColor    = color.RGBA{A: 255}
)

// Renderer draws the status banner and encodes JPEG.
type Renderer struct {
	quality int
}

// NewRenderer returns a renderer encoding at the given JPEG quality
// (1-100, anything else falls back to the default).
func NewRenderer(quality int) *Renderer {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Renderer{quality: quality}
}

// Render implements pipeline.Renderer. It draws on f in place.
func (r *Renderer) Render(f frame.Frame, o pipeline.Overlay) ([]byte, error) {
	img, err := toMat(f.BGR())
	if err != nil {
		return nil, err
	}
	defer img.Close()

	gocv.Rectangle(&img, labelBox, boxColor, -1)
	gocv.PutTextWithParams(&img, o.Text, labelOrigin, gocv.FontHersheySimplex, 0.9,
		o.Color, 2, gocv.LineAA, false)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, r.quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
