package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-fingerscope/pkg/capture"
	"github.com/teslashibe/go-fingerscope/pkg/classify"
	"github.com/teslashibe/go-fingerscope/pkg/state"
)

type fakeStream struct {
	frames [][]byte
	calls  atomic.Int32
}

func (f *fakeStream) Frames(ctx context.Context) iter.Seq[[]byte] {
	f.calls.Add(1)
	return func(yield func([]byte) bool) {
		for _, fr := range f.frames {
			if ctx.Err() != nil || !yield(fr) {
				return
			}
		}
	}
}

func (f *fakeStream) ActiveSessions() int64 { return 2 }

type fakeUploader struct {
	res  classify.Result
	err  error
	got  []byte
	seen atomic.Bool
}

func (f *fakeUploader) ClassifyUpload(data []byte) (classify.Result, error) {
	f.seen.Store(true)
	f.got = data
	return f.res, f.err
}

type fakeCamera struct {
	released atomic.Int32
}

func (f *fakeCamera) Release() { f.released.Add(1) }

func (f *fakeCamera) Stats() capture.Stats {
	return capture.Stats{Session: "cam-1", Running: f.released.Load() == 0, FramesRead: 42}
}

type fixture struct {
	srv      *Server
	stream   *fakeStream
	uploader *fakeUploader
	status   *state.Prediction
	camera   *fakeCamera
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		stream:   &fakeStream{frames: [][]byte{[]byte("jpeg-1"), []byte("jpeg-2")}},
		uploader: &fakeUploader{},
		status:   state.New(),
		camera:   &fakeCamera{},
	}
	fx.srv = NewServer(fx.stream, fx.uploader, fx.status, fx.camera, Options{Addr: ":0"})
	fx.srv.now = func() time.Time { return time.Unix(1700000000, 500000000) }
	return fx
}

func (fx *fixture) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := fx.srv.App().Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func uploadRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "finger.jpg")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict_upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestPages(t *testing.T) {
	fx := newFixture(t)
	for _, path := range []string{"/", "/mobile"} {
		resp, body := fx.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html", path)
		assert.Contains(t, string(body), "/video_feed", path)
	}
}

func TestStatusEndpoints(t *testing.T) {
	fx := newFixture(t)
	fx.status.Set("healthy", 0.91)

	for _, path := range []string{"/api/output", "/esp32_status"} {
		resp, body := fx.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		var got StatusResponse
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "healthy", got.Prediction)
		assert.InDelta(t, 0.91, got.Confidence, 1e-9)
		assert.InDelta(t, 1700000000.5, got.Timestamp, 1e-3)
		assert.Equal(t, "active", got.Status)
		assert.False(t, got.UpdatedAt.IsZero())
	}
}

func TestStatus_InitialWaiting(t *testing.T) {
	fx := newFixture(t)
	_, body := fx.do(t, httptest.NewRequest(http.MethodGet, "/api/output", nil))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, state.LabelWaiting, got["prediction"])
	assert.Equal(t, 0.0, got["confidence"])
}

func TestPredictUpload(t *testing.T) {
	fx := newFixture(t)
	fx.uploader.res = classify.Result{
		Label:        "healthy",
		Confidence:   0.7,
		Distribution: map[string]float64{"blue_finger": 0.1, "clubbing": 0.2, "healthy": 0.7},
	}

	resp, body := fx.do(t, uploadRequest(t, "image", []byte("fake-jpeg")))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t,
		`{"label":"healthy","confidence":0.7,"probs":{"blue_finger":0.1,"clubbing":0.2,"healthy":0.7}}`,
		string(body))
	assert.Equal(t, []byte("fake-jpeg"), fx.uploader.got)
}

func TestPredictUpload_NoImage(t *testing.T) {
	fx := newFixture(t)
	resp, body := fx.do(t, uploadRequest(t, "file", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"No image"}`, string(body))
	assert.False(t, fx.uploader.seen.Load())

	req := httptest.NewRequest(http.MethodPost, "/predict_upload", nil)
	resp, _ = fx.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPredictUpload_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"undecodable", fmt.Errorf("%w: unknown format", classify.ErrDecode), http.StatusBadRequest},
		{"engine", errors.New("forward failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.uploader.err = tt.err
			resp, body := fx.do(t, uploadRequest(t, "image", []byte("garbage")))
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Contains(t, string(body), "error")
		})
	}
}

func TestVideoFeed_Multipart(t *testing.T) {
	fx := newFixture(t)
	resp, body := fx.do(t, httptest.NewRequest(http.MethodGet, "/video_feed", nil))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	want := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 6\r\n\r\njpeg-1\r\n" +
		"--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 6\r\n\r\njpeg-2\r\n"
	assert.Equal(t, want, string(body))
	assert.EqualValues(t, 1, fx.stream.calls.Load())
}

func TestShutdown(t *testing.T) {
	fx := newFixture(t)
	called := make(chan struct{})
	fx.srv.OnShutdown = func() { close(called) }

	resp, body := fx.do(t, httptest.NewRequest(http.MethodPost, "/shutdown", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "shutting down", string(body))
	assert.EqualValues(t, 1, fx.camera.released.Load())

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("OnShutdown not called")
	}
}

func TestHealth(t *testing.T) {
	fx := newFixture(t)
	resp, body := fx.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got HealthResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "cam-1", got.Capture.Session)
	assert.EqualValues(t, 42, got.Capture.FramesRead)
	assert.EqualValues(t, 2, got.Streams)
	assert.Equal(t, map[string]int{"camera": 0, "status": 0}, got.WSClients)
}

func TestWebsocket_RequiresUpgrade(t *testing.T) {
	fx := newFixture(t)
	for _, path := range []string{"/ws/camera", "/ws/status"} {
		resp, _ := fx.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode, path)
	}
}
