package classify

import (
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// MockBackbone implements Backbone for testing.
type MockBackbone struct {
	// ForwardFunc is called when Forward is invoked.
	ForwardFunc func(f frame.Frame) ([]float32, error)

	// Size is returned by OutputSize.
	Size int

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	calls    atomic.Int64
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	mu       sync.Mutex
	lastSize [2]int
}

// NewMockBackbone returns a backbone that always emits scores.
func NewMockBackbone(scores ...float32) *MockBackbone {
	out := make([]float32, len(scores))
	copy(out, scores)
	return &MockBackbone{
		Size: len(out),
		ForwardFunc: func(frame.Frame) ([]float32, error) {
			v := make([]float32, len(out))
			copy(v, out)
			return v, nil
		},
	}
}

// Forward calls ForwardFunc and records the call.
func (m *MockBackbone) Forward(f frame.Frame) ([]float32, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	m.mu.Lock()
	m.lastSize = [2]int{f.Width, f.Height}
	m.mu.Unlock()

	return m.ForwardFunc(f)
}

// OutputSize implements Backbone.
func (m *MockBackbone) OutputSize() int { return m.Size }

// Close implements Backbone.
func (m *MockBackbone) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns the number of Forward invocations.
func (m *MockBackbone) Calls() int64 { return m.calls.Load() }

// MaxConcurrent returns the highest number of overlapping Forward calls.
func (m *MockBackbone) MaxConcurrent() int32 { return m.maxSeen.Load() }

// LastSize returns the width and height of the last frame seen.
func (m *MockBackbone) LastSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSize[0], m.lastSize[1]
}
