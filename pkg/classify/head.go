package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Tensor keys of the final linear layer in an exported state dict.
const (
	WeightKey = "fc.weight"
	BiasKey   = "fc.bias"
)

// distributedPrefix is prepended to every key by DataParallel training.
const distributedPrefix = "module."

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Tensor is a dense row-major float tensor as exported to JSON.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Head is the final linear layer: logits = W·x + b.
type Head struct {
	Weight  []float32 // [Classes x Inputs], row-major
	Bias    []float32 // [Classes]
	Classes int
	Inputs  int
}

// LoadHead reads a head weights file. Files may be plain JSON or
// zstd-compressed JSON.
func LoadHead(path string) (map[string]Tensor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read head weights: %w", err)
	}
	return DecodeHead(raw)
}

// DecodeHead parses head weights from raw (optionally zstd) JSON.
func DecodeHead(raw []byte) (map[string]Tensor, error) {
	var r io.Reader = bytes.NewReader(raw)
	if bytes.HasPrefix(raw, zstdMagic) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var state map[string]Tensor
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode head weights: %w", err)
	}
	return StripPrefix(state), nil
}

// StripPrefix removes every "module." segment from keys when any key
// carries one; nested DataParallel wrapping adds one per level.
func StripPrefix(state map[string]Tensor) map[string]Tensor {
	prefixed := false
	for k := range state {
		if strings.HasPrefix(k, distributedPrefix) {
			prefixed = true
			break
		}
	}
	if !prefixed {
		return state
	}

	out := make(map[string]Tensor, len(state))
	for k, v := range state {
		out[strings.ReplaceAll(k, distributedPrefix, "")] = v
	}
	return out
}

// NewHead builds a Head from a state dict, checking it against the class
// count and the backbone feature size.
func NewHead(state map[string]Tensor, classes, inputs int) (*Head, error) {
	w, ok := state[WeightKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingWeights, WeightKey)
	}
	b, ok := state[BiasKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingWeights, BiasKey)
	}

	if len(w.Shape) != 2 || w.Shape[0] != classes || w.Shape[1] != inputs {
		return nil, fmt.Errorf("%w: %s is %v, want [%d %d]",
			ErrShapeMismatch, WeightKey, w.Shape, classes, inputs)
	}
	if len(w.Data) != classes*inputs {
		return nil, fmt.Errorf("%w: %s has %d values, want %d",
			ErrShapeMismatch, WeightKey, len(w.Data), classes*inputs)
	}
	if len(b.Shape) != 1 || b.Shape[0] != classes || len(b.Data) != classes {
		return nil, fmt.Errorf("%w: %s is %v, want [%d]",
			ErrShapeMismatch, BiasKey, b.Shape, classes)
	}

	return &Head{
		Weight:  w.Data,
		Bias:    b.Data,
		Classes: classes,
		Inputs:  inputs,
	}, nil
}

// Forward computes the logits for one feature vector.
func (h *Head) Forward(features []float32) ([]float64, error) {
	if len(features) != h.Inputs {
		return nil, fmt.Errorf("%w: got %d features, head expects %d",
			ErrShapeMismatch, len(features), h.Inputs)
	}
	logits := make([]float64, h.Classes)
	for c := 0; c < h.Classes; c++ {
		row := h.Weight[c*h.Inputs : (c+1)*h.Inputs]
		sum := float64(h.Bias[c])
		for i, x := range features {
			sum += float64(row[i]) * float64(x)
		}
		logits[c] = sum
	}
	return logits, nil
}
