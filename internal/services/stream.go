package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/gorilla/websocket"

	"github.com/dpup/locationbar/server/internal/lib/coords"
	"github.com/dpup/locationbar/server/internal/lib/geo"
	"github.com/dpup/locationbar/server/internal/lib/position"
	"github.com/dpup/locationbar/server/internal/metrics"
)

// Stream message types
const (
	MessagePick             = "pick"
	MessageFlat             = "flat"
	MessageToggleProjection = "toggle_projection"
	MessageRelease          = "release"
)

const writeTimeout = 5 * time.Second

// StreamMessage is a client message on the pointer stream. Pick fields are
// inlined for pick messages; lon/lat are used by flat messages.
type StreamMessage struct {
	Type string `json:"type"`
	Pick
	Longitude float64 `json:"lon"`
	Latitude  float64 `json:"lat"`
}

// HandleStream serves a pointer session over a WebSocket. Every display
// update of the session's controller is pushed to the client as JSON.
func (s *LocationService) HandleStream(w http.ResponseWriter, r *http.Request) {
	r = s.scoped(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw(r.Context(), "Stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	controller := s.NewController(ctx)
	updates, _ := controller.Subscribe(s.config.StreamBuffer)

	errs := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writeLoop(ctx, conn, updates, errs)
	}()

	s.readLoop(ctx, conn, controller, errs)

	// Closing the controller closes updates and ends the write loop
	controller.Close()
	<-done
}

func (s *LocationService) readLoop(ctx context.Context, conn *websocket.Conn, controller *position.Controller, errs chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Warnw(ctx, "Stream read failed", "error", err)
			}
			return
		}

		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			report(errs, fmt.Errorf("failed to decode message: %w", err))
			continue
		}
		if err := Dispatch(controller, msg); err != nil {
			logging.Debugw(ctx, "Rejected stream message", "type", msg.Type, "error", err)
			report(errs, err)
		}
	}
}

// Dispatch applies a stream message to a pointer controller
func Dispatch(controller *position.Controller, msg StreamMessage) error {
	switch msg.Type {
	case MessagePick:
		tri, err := msg.Pick.Triangle()
		if err != nil {
			metrics.Picks.WithLabelValues(metrics.PickError).Inc()
			return err
		}
		controller.HandlePick(tri)
	case MessageFlat:
		pos := geo.NewPosition(msg.Longitude, msg.Latitude)
		if err := pos.Validate(); err != nil {
			metrics.Picks.WithLabelValues(metrics.PickError).Inc()
			return err
		}
		controller.HandleFlatPosition(pos.Longitude, pos.Latitude)
	case MessageToggleProjection:
		controller.ToggleProjection()
	case MessageRelease:
		controller.FlushRefinement()
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

// report hands err to the write loop, dropping it if one is already queued
func report(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}

// writeLoop is the only writer on conn
func writeLoop(ctx context.Context, conn *websocket.Conn, updates <-chan coords.Display, errs <-chan error) {
	for {
		var payload interface{}
		select {
		case d, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				return
			}
			payload = d
		case err := <-errs:
			payload = errorResponse{Error: err.Error()}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(payload); err != nil {
			logging.Warnw(ctx, "Stream write failed", "error", err)
			// Unblock the reader so the session shuts down
			_ = conn.Close()
			return
		}
	}
}
