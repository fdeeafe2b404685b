package web

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-fingerscope/pkg/capture"
	"github.com/teslashibe/go-fingerscope/pkg/classify"
)

// MJPEGBoundary separates parts of /video_feed.
const MJPEGBoundary = "frame"

// StatusResponse is served by /api/output and /esp32_status.
type StatusResponse struct {
	Prediction string    `json:"prediction"`
	Confidence float64   `json:"confidence"`
	Timestamp  float64   `json:"timestamp"` // response time, unix seconds
	UpdatedAt  time.Time `json:"updated_at"`
	Status     string    `json:"status"`
}

// HealthResponse is served by /api/health.
type HealthResponse struct {
	Status    string         `json:"status"`
	Capture   capture.Stats  `json:"capture"`
	Streams   int64          `json:"streams"`
	WSClients map[string]int `json:"ws_clients"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) statusResponse() StatusResponse {
	snap := s.status.Snapshot()
	return StatusResponse{
		Prediction: snap.Label,
		Confidence: snap.Confidence,
		Timestamp:  float64(s.now().UnixNano()) / 1e9,
		UpdatedAt:  snap.UpdatedAt,
		Status:     "active",
	}
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.statusResponse())
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  "ok",
		Capture: s.camera.Stats(),
		Streams: s.stream.ActiveSessions(),
		WSClients: map[string]int{
			s.cameraHub.Name(): s.cameraHub.ClientCount(),
			s.statusHub.Name(): s.statusHub.ClientCount(),
		},
	})
}

func (s *Server) handlePage(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		page, err := staticFiles.ReadFile("static/" + name)
		if err != nil {
			return fiber.ErrNotFound
		}
		c.Type("html", "utf-8")
		return c.Send(page)
	}
}

// handleVideoFeed streams multipart JPEG until the client goes away or
// the server shuts down. Each request runs its own pipeline session.
//
// fasthttp reports a dropped connection only through a failed write, so
// a client that leaves while the camera has no frame keeps its session
// (and its ActiveSessions count) until the next frame or shutdown.
func (s *Server) handleVideoFeed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary="+MJPEGBoundary)
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")

	ctx := s.streamCtx
	logger := s.logger
	frames := s.stream.Frames

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		logger.Debug("Video feed client connected")
		sent := 0
		for jpg := range frames(ctx) {
			if err := writePart(w, jpg); err != nil {
				break
			}
			sent++
		}
		logger.Debug("Video feed client gone", "frames", sent)
	})
	return nil
}

// writePart writes one MJPEG part and flushes it to the client.
func writePart(w *bufio.Writer, jpg []byte) error {
	w.WriteString("--" + MJPEGBoundary + "\r\n")
	w.WriteString("Content-Type: image/jpeg\r\n")
	w.WriteString("Content-Length: " + strconv.Itoa(len(jpg)) + "\r\n\r\n")
	w.Write(jpg)
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) handlePredictUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "No image"})
	}

	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "No image"})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	res, err := s.uploader.ClassifyUpload(data)
	switch {
	case errors.Is(err, classify.ErrDecode):
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	case err != nil:
		s.logger.Error("Upload classification failed", "file", fh.Filename, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}

	s.logger.Info("Upload classified", "file", fh.Filename, "label", res.Label, "confidence", res.Confidence)
	return c.JSON(res)
}

// handleShutdown releases the camera, answers, then asks the process to stop.
func (s *Server) handleShutdown(c *fiber.Ctx) error {
	s.logger.Info("Shutdown requested", "remote", c.IP())
	s.camera.Release()
	if s.OnShutdown != nil {
		go s.OnShutdown()
	}
	return c.SendString("shutting down")
}
