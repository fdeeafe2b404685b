// Package classify turns a frame into a class label, its probability and
// the full distribution over the configured classes.
//
// The network is split in two: a Backbone (an ONNX model run by OpenCV
// DNN, see pkg/opencv) that produces either a feature vector or class
// scores, and an optional linear Head loaded from exported weights.
// The engine is not reentrant, so every call goes through one mutex.
package classify

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// DefaultClasses is used when no class list is supplied.
var DefaultClasses = []string{"blue_finger", "clubbing", "healthy"}

// Preprocessing constants (ImageNet statistics, RGB order).
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// InputSize is the square side the frame is resized to.
const InputSize = 224

// Backbone runs the network on a frame. OutputSize is the length of the
// vector Forward returns.
type Backbone interface {
	Forward(f frame.Frame) ([]float32, error)
	OutputSize() int
	Close() error
}

// Result is one classification.
type Result struct {
	Label        string             `json:"label"`
	Confidence   float64            `json:"confidence"`
	Distribution map[string]float64 `json:"probs"`
}

// Classifier wraps a Backbone and optional Head.
type Classifier struct {
	backbone Backbone
	head     *Head
	classes  []string
	logger   *slog.Logger

	mu sync.Mutex // serializes inference
}

// New builds a Classifier. head may be nil when the backbone already
// emits one score per class. Any size mismatch is an error so a
// misconfigured model never serves predictions.
func New(backbone Backbone, head *Head, classes []string, logger *slog.Logger) (*Classifier, error) {
	if len(classes) == 0 {
		return nil, ErrNoClasses
	}
	seen := make(map[string]struct{}, len(classes))
	for _, name := range classes {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateClass, name)
		}
		seen[name] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	out := backbone.OutputSize()
	if head == nil {
		if out != len(classes) {
			return nil, fmt.Errorf("%w: model emits %d scores for %d classes",
				ErrShapeMismatch, out, len(classes))
		}
	} else {
		if head.Classes != len(classes) {
			return nil, fmt.Errorf("%w: head has %d outputs for %d classes",
				ErrShapeMismatch, head.Classes, len(classes))
		}
		if head.Inputs != out {
			return nil, fmt.Errorf("%w: head expects %d features, backbone emits %d",
				ErrShapeMismatch, head.Inputs, out)
		}
	}

	names := make([]string, len(classes))
	copy(names, classes)

	return &Classifier{
		backbone: backbone,
		head:     head,
		classes:  names,
		logger:   logger.With("component", "classifier"),
	}, nil
}

// Classes returns the configured class names in output order.
func (c *Classifier) Classes() []string {
	out := make([]string, len(c.classes))
	copy(out, c.classes)
	return out
}

// Classify runs one forward pass.
func (c *Classifier) Classify(f frame.Frame) (Result, error) {
	if f.Empty() {
		return Result{}, ErrEmptyFrame
	}
	if err := f.Validate(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	c.mu.Lock()
	scores, err := c.scores(f)
	c.mu.Unlock()
	if err != nil {
		return Result{}, err
	}

	probs := Softmax(scores)
	best := Argmax(probs)

	dist := make(map[string]float64, len(c.classes))
	for i, name := range c.classes {
		dist[name] = probs[i]
	}

	c.logger.Debug("Classified frame",
		"label", c.classes[best],
		"confidence", probs[best],
		"elapsed_ms", time.Since(start).Milliseconds())

	return Result{
		Label:        c.classes[best],
		Confidence:   probs[best],
		Distribution: dist,
	}, nil
}

func (c *Classifier) scores(f frame.Frame) ([]float64, error) {
	out, err := c.backbone.Forward(f)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	if c.head != nil {
		return c.head.Forward(out)
	}
	if len(out) != len(c.classes) {
		return nil, fmt.Errorf("%w: model emitted %d scores", ErrShapeMismatch, len(out))
	}
	scores := make([]float64, len(out))
	for i, v := range out {
		scores[i] = float64(v)
	}
	return scores, nil
}

// Close releases the backbone.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backbone.Close()
}

// Softmax normalizes scores into probabilities.
func Softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(s - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index of the largest value; the first one wins ties.
func Argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
