package opencv

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-fingerscope/pkg/classify"
	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// BackboneConfig holds ONNX backbone configuration.
type BackboneConfig struct {
	ModelPath  string // Path to ONNX model
	Backend    string // "default", "opencv", "cuda", ...
	Target     string // "cpu", "cuda", "fp16", ...
	OutputName string // Output layer, empty for the last one
}

// DefaultBackboneConfig returns CPU defaults.
func DefaultBackboneConfig() BackboneConfig {
	return BackboneConfig{
		ModelPath: "models/resnet18_features.onnx",
		Backend:   "default",
		Target:    "cpu",
	}
}

// Backbone runs an ONNX network through OpenCV DNN. Not safe for
// concurrent use; classify.Classifier serializes calls.
type Backbone struct {
	net        gocv.Net
	outputName string
	size       int
}

// NewBackbone loads the model and measures its output size with a blank
// input, so a broken model fails here rather than on the first frame.
func NewBackbone(cfg BackboneConfig) (*Backbone, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.ParseNetBackend(cfg.Backend))
	net.SetPreferableTarget(gocv.ParseNetTarget(cfg.Target))

	b := &Backbone{net: net, outputName: cfg.OutputName}

	out, err := b.Forward(frame.Fill(classify.InputSize, classify.InputSize, 0, 0, 0))
	if err != nil {
		net.Close()
		return nil, fmt.Errorf("run blank input: %w", err)
	}
	if len(out) == 0 {
		net.Close()
		return nil, fmt.Errorf("model %s produced no output", cfg.ModelPath)
	}
	b.size = len(out)
	return b, nil
}

// OutputSize implements classify.Backbone.
func (b *Backbone) OutputSize() int { return b.size }

// Forward implements classify.Backbone.
func (b *Backbone) Forward(f frame.Frame) ([]float32, error) {
	blob, err := Preprocess(f)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	b.net.SetInput(blob, "")
	out := b.net.Forward(b.outputName)
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	res := make([]float32, len(data))
	copy(res, data)
	return res, nil
}

// Close releases the network.
func (b *Backbone) Close() error {
	return b.net.Close()
}

// Preprocess resizes to the square input, converts to RGB in [0,1] and
// normalizes each channel with the ImageNet mean and std. The returned
// NCHW blob must be closed by the caller.
func Preprocess(f frame.Frame) (gocv.Mat, error) {
	src, err := toMat(f.BGR())
	if err != nil {
		return gocv.Mat{}, err
	}
	defer src.Close()

	size := image.Pt(classify.InputSize, classify.InputSize)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, size, 0, 0, gocv.InterpolationLinear)

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB)

	scaled := gocv.NewMat()
	defer scaled.Close()
	rgb.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	channels := gocv.Split(scaled)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()
	for i := range channels {
		channels[i].SubtractFloat(classify.Mean[i])
		channels[i].DivideFloat(classify.Std[i])
	}

	normalized := gocv.NewMat()
	defer normalized.Close()
	gocv.Merge(channels, &normalized)

	return gocv.BlobFromImage(normalized, 1.0, size, gocv.NewScalar(0, 0, 0, 0), false, false), nil
}
