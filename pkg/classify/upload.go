package classify

import (
	"bytes"
	"fmt"
	"image"

	// Registered decoders for uploads.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// DecodeImage turns encoded image bytes into a BGR frame.
func DecodeImage(data []byte) (frame.Frame, error) {
	if len(data) == 0 {
		return frame.Frame{}, fmt.Errorf("%w: no data", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	f := frame.FromImage(img)
	if f.Empty() {
		return frame.Frame{}, fmt.Errorf("%w: %s image has no pixels", ErrDecode, format)
	}
	return f, nil
}

// ClassifyUpload decodes an uploaded image and classifies it. No
// background check or confidence gating is applied: the raw classifier
// output is returned.
func (c *Classifier) ClassifyUpload(data []byte) (Result, error) {
	f, err := DecodeImage(data)
	if err != nil {
		return Result{}, err
	}
	return c.Classify(f)
}
