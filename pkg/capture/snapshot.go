package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"sync"
	"time"

	"github.com/teslashibe/go-fingerscope/internal/httpc"
	"github.com/teslashibe/go-fingerscope/pkg/frame"
)

// SnapshotDevice polls a still-image URL, such as an ESP32-CAM
// /capture endpoint, and decodes each response as one frame.
type SnapshotDevice struct {
	url    string
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewSnapshotDevice returns a device fetching url with the given
// per-request timeout.
func NewSnapshotDevice(url string, timeout time.Duration) *SnapshotDevice {
	ctx, cancel := context.WithCancel(context.Background())
	return &SnapshotDevice{
		url:    url,
		client: httpc.NewClient(timeout),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Read implements Device.
func (d *SnapshotDevice) Read() (frame.Frame, error) {
	if d.ctx.Err() != nil {
		return frame.Frame{}, ErrReadFailed
	}
	body, err := httpc.Fetch(d.ctx, d.client, d.url, 0)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: decode snapshot: %v", ErrReadFailed, err)
	}
	return frame.FromImage(img), nil
}

// Close aborts an in-flight request and fails later reads.
func (d *SnapshotDevice) Close() error {
	d.once.Do(func() {
		d.cancel()
		d.client.CloseIdleConnections()
	})
	return nil
}
