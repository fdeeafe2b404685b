package capture

import (
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// MockDevice is a scripted Device for tests and for running without a
// camera.
type MockDevice struct {
	// ReadFunc produces the next frame. Defaults to a mid-gray 64x48 frame.
	ReadFunc func() (frame.Frame, error)

	// CloseErr is returned from every Close call.
	CloseErr error

	reads  atomic.Int64
	closes atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewMockDevice returns a device that always yields a gray frame.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		ReadFunc: func() (frame.Frame, error) {
			return frame.Fill(64, 48, 128, 128, 128), nil
		},
	}
}

// Read implements Device.
func (m *MockDevice) Read() (frame.Frame, error) {
	m.reads.Add(1)
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return frame.Frame{}, ErrReadFailed
	}
	if m.ReadFunc == nil {
		return frame.Frame{}, ErrReadFailed
	}
	return m.ReadFunc()
}

// Close implements Device.
func (m *MockDevice) Close() error {
	m.closes.Add(1)
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.CloseErr
}

// Reads returns how many times Read was called.
func (m *MockDevice) Reads() int64 { return m.reads.Load() }

// Closes returns how many times Close was called.
func (m *MockDevice) Closes() int64 { return m.closes.Load() }
