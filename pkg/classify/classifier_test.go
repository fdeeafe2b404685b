package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

func sumDist(d map[string]float64) float64 {
	var s float64
	for _, v := range d {
		s += v
	}
	return s
}

func TestSoftmax(t *testing.T) {
	p := Softmax([]float64{1, 2, 3})
	require.Len(t, p, 3)
	assert.InDelta(t, 1.0, p[0]+p[1]+p[2], 1e-12)
	assert.InDelta(t, 0.6652, p[2], 1e-4)

	// large scores must not overflow
	p = Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-12)

	assert.Nil(t, Softmax(nil))
}

func TestArgmax_FirstWinsTies(t *testing.T) {
	assert.Equal(t, 0, Argmax([]float64{0.5, 0.5}))
	assert.Equal(t, 2, Argmax([]float64{0.1, 0.2, 0.7}))
}

func TestNew_LogitsMode(t *testing.T) {
	_, err := New(NewMockBackbone(1, 2), nil, DefaultClasses, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = New(NewMockBackbone(1, 2, 3), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoClasses)

	c, err := New(NewMockBackbone(1, 2, 3), nil, DefaultClasses, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultClasses, c.Classes())
}

func TestClassify_Distribution(t *testing.T) {
	c, err := New(NewMockBackbone(0.1, 0.2, 3.0), nil, DefaultClasses, nil)
	require.NoError(t, err)

	res, err := c.Classify(frame.Fill(8, 8, 1, 2, 3))
	require.NoError(t, err)

	assert.Equal(t, "healthy", res.Label)
	assert.InDelta(t, 1.0, sumDist(res.Distribution), 1e-3)
	assert.Equal(t, res.Confidence, res.Distribution["healthy"])
	assert.ElementsMatch(t, DefaultClasses, keys(res.Distribution))
}

func TestClassify_Errors(t *testing.T) {
	bb := NewMockBackbone(1, 2, 3)
	c, err := New(bb, nil, DefaultClasses, nil)
	require.NoError(t, err)

	_, err = c.Classify(frame.Frame{})
	assert.ErrorIs(t, err, ErrEmptyFrame)

	boom := errors.New("cuda on fire")
	bb.ForwardFunc = func(frame.Frame) ([]float32, error) { return nil, boom }
	_, err = c.Classify(frame.Fill(2, 2, 0, 0, 0))
	assert.ErrorIs(t, err, boom)
}

func TestClassify_Serialized(t *testing.T) {
	bb := NewMockBackbone(1, 2, 3)
	inner := bb.ForwardFunc
	bb.ForwardFunc = func(f frame.Frame) ([]float32, error) {
		time.Sleep(2 * time.Millisecond)
		return inner(f)
	}
	c, err := New(bb, nil, DefaultClasses, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Classify(frame.Fill(2, 2, 0, 0, 0))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8), bb.Calls())
	assert.Equal(t, int32(1), bb.MaxConcurrent())
}

func headState(classes, inputs int) map[string]Tensor {
	w := make([]float32, classes*inputs)
	for c := 0; c < classes; c++ {
		w[c*inputs+c%inputs] = float32(c + 1)
	}
	return map[string]Tensor{
		WeightKey: {Shape: []int{classes, inputs}, Data: w},
		BiasKey:   {Shape: []int{classes}, Data: make([]float32, classes)},
	}
}

func TestNewHead_ShapeChecks(t *testing.T) {
	_, err := NewHead(headState(3, 4), 3, 4)
	require.NoError(t, err)

	_, err = NewHead(headState(2, 4), 3, 4)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewHead(headState(3, 5), 3, 4)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	st := headState(3, 4)
	delete(st, BiasKey)
	_, err = NewHead(st, 3, 4)
	assert.ErrorIs(t, err, ErrMissingWeights)
}

func TestNew_WithHead(t *testing.T) {
	head, err := NewHead(headState(3, 4), 3, 4)
	require.NoError(t, err)

	// features light up input 2, which only class 2 reads
	c, err := New(NewMockBackbone(0, 0, 5, 0), head, DefaultClasses, nil)
	require.NoError(t, err)

	res, err := c.Classify(frame.Fill(2, 2, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "healthy", res.Label)

	_, err = New(NewMockBackbone(0, 0, 0), head, DefaultClasses, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch, "feature size must match head inputs")

	_, err = New(NewMockBackbone(0, 0, 0, 0), head, []string{"a", "b"}, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch, "class count must match head outputs")
}

func TestNew_RejectsDuplicateClasses(t *testing.T) {
	tests := []struct {
		name    string
		classes []string
	}{
		{"repeated last", []string{"healthy", "clubbing", "healthy"}},
		{"adjacent", []string{"healthy", "healthy", "clubbing"}},
		{"empty names", []string{"", "", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(NewMockBackbone(1, 2, 3), nil, tt.classes, nil)
			assert.ErrorIs(t, err, ErrDuplicateClass)
			assert.Nil(t, c)
		})
	}
}

func TestStripPrefix(t *testing.T) {
	st := map[string]Tensor{
		"module.fc.weight": {Shape: []int{1, 1}, Data: []float32{1}},
		"module.fc.bias":   {Shape: []int{1}, Data: []float32{0}},
	}
	out := StripPrefix(st)
	assert.Contains(t, out, WeightKey)
	assert.Contains(t, out, BiasKey)

	plain := headState(1, 1)
	assert.Equal(t, plain, StripPrefix(plain))

	// nested DataParallel wrapping
	nested := StripPrefix(map[string]Tensor{
		"module.module.fc.weight": {Shape: []int{1, 1}, Data: []float32{1}},
		"module.module.fc.bias":   {Shape: []int{1}, Data: []float32{0}},
	})
	assert.Contains(t, nested, WeightKey)
	assert.Contains(t, nested, BiasKey)
	assert.Len(t, nested, 2)
}

func TestLoadHead_PlainAndZstd(t *testing.T) {
	st := map[string]Tensor{
		"module.fc.weight": {Shape: []int{3, 2}, Data: []float32{1, 0, 0, 1, 1, 1}},
		"module.fc.bias":   {Shape: []int{3}, Data: []float32{0, 0, 0}},
	}
	raw, err := json.Marshal(st)
	require.NoError(t, err)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(raw, nil)
	require.NoError(t, enc.Close())

	dir := t.TempDir()
	for name, data := range map[string][]byte{"head.json": raw, "head.json.zst": compressed} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, data, 0o644))

			loaded, err := LoadHead(path)
			require.NoError(t, err)

			head, err := NewHead(loaded, 3, 2)
			require.NoError(t, err)
			logits, err := head.Forward([]float32{2, 3})
			require.NoError(t, err)
			assert.Equal(t, []float64{2, 3, 5}, logits)
		})
	}

	_, err = LoadHead(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: 80, B: uint8(y * 10), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestClassifyUpload(t *testing.T) {
	bb := NewMockBackbone(2.0, 0.5, 0.1)
	c, err := New(bb, nil, DefaultClasses, nil)
	require.NoError(t, err)

	res, err := c.ClassifyUpload(pngBytes(t, 12, 7))
	require.NoError(t, err)

	assert.Equal(t, "blue_finger", res.Label)
	assert.InDelta(t, 1.0, sumDist(res.Distribution), 1e-3)
	assert.ElementsMatch(t, DefaultClasses, keys(res.Distribution))

	w, h := bb.LastSize()
	assert.Equal(t, 12, w)
	assert.Equal(t, 7, h)
}

func TestClassifyUpload_LowConfidenceNotGated(t *testing.T) {
	c, err := New(NewMockBackbone(0.01, 0, 0), nil, DefaultClasses, nil)
	require.NoError(t, err)

	res, err := c.ClassifyUpload(pngBytes(t, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, "blue_finger", res.Label)
	assert.Less(t, res.Confidence, 0.6)
}

func TestClassifyUpload_DecodeError(t *testing.T) {
	bb := NewMockBackbone(1, 2, 3)
	c, err := New(bb, nil, DefaultClasses, nil)
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not an image"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.ClassifyUpload(data)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
	assert.Zero(t, bb.Calls())
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
