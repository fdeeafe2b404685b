package web

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-fingerscope/pkg/hub"
)

func (s *Server) handleCameraWS(conn *websocket.Conn) {
	hub.NewClient(s.cameraHub, conn).Run()
}

// handleStatusWS sends the current status first, then every change.
func (s *Server) handleStatusWS(conn *websocket.Conn) {
	initial, err := hub.EncodeJSON(s.statusResponse())
	if err != nil {
		s.logger.Warn("Encode status failed", "error", err)
		hub.NewClient(s.statusHub, conn).Run()
		return
	}
	hub.NewClient(s.statusHub, conn, initial).Run()
}

// runCameraFeed runs a pipeline session while anyone watches /ws/camera
// and broadcasts at most one frame per feed interval.
func (s *Server) runCameraFeed(ctx context.Context) {
	ticker := time.NewTicker(s.feedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.cameraHub.ClientCount() == 0 {
			continue
		}

		s.logger.Debug("Camera feed started")
		var last time.Time
		for jpg := range s.stream.Frames(ctx) {
			if s.cameraHub.ClientCount() == 0 {
				break
			}
			if time.Since(last) < s.feedInterval {
				continue
			}
			last = time.Now()
			s.cameraHub.BroadcastBinary(jpg)
		}
		s.logger.Debug("Camera feed idle")
	}
}

// runStatusFeed broadcasts the status whenever a new prediction is published.
func (s *Server) runStatusFeed(ctx context.Context) {
	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		resp := s.statusResponse()
		if resp.UpdatedAt.Equal(last) {
			continue
		}
		last = resp.UpdatedAt
		if err := s.statusHub.BroadcastJSON(resp); err != nil {
			s.logger.Warn("Broadcast status failed", "error", err)
		}
	}
}
