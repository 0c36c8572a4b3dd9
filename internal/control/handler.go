package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/delivery-tracker/internal/circuitbreaker"
	"github.com/jogardn/delivery-tracker/internal/orders"
	"github.com/jogardn/delivery-tracker/internal/session"
	"github.com/jogardn/delivery-tracker/internal/tracking"
	"github.com/jogardn/delivery-tracker/pkg/models"
	"github.com/sirupsen/logrus"
)

// Tracker is the part of the coordinator driven by user actions.
type Tracker interface {
	Snapshot() session.State
	Refresh(ctx context.Context) error
	FetchRequests(ctx context.Context) error
	RespondToAssignment(ctx context.Context, accept bool) error
	RespondToRequest(ctx context.Context, assignmentID string, accept bool) error
	GoOnline(ctx context.Context) error
	GoOffline(ctx context.Context) error
	MarkPickedUp(ctx context.Context) error
	MarkDelivered(ctx context.Context) error
	UpdateLocation(lat, lng float64) error
}

// MapSocket serves the map widget connection.
type MapSocket interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	Ready() bool
	GetClientCount() int
}

type Handler struct {
	tracker  Tracker
	socket   MapSocket
	breakers *circuitbreaker.Manager
	logger   *logrus.Logger
}

func NewHandler(tracker Tracker, socket MapSocket, breakers *circuitbreaker.Manager, logger *logrus.Logger) *Handler {
	return &Handler{
		tracker:  tracker,
		socket:   socket,
		breakers: breakers,
		logger:   logger,
	}
}

type respondRequest struct {
	Accepted bool `json:"accepted"`
}

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":     "healthy",
		"service":    "delivery-tracker",
		"last_check": time.Now().Format(time.RFC3339),
	}

	if h.socket != nil {
		health["map_ready"] = h.socket.Ready()
		health["map_clients"] = h.socket.GetClientCount()
	}

	if h.breakers != nil {
		breakers := make(map[string]string)
		for _, m := range h.breakers.AllMetrics() {
			breakers[m.Name] = m.State.String()
			if m.State == circuitbreaker.StateOpen {
				health["status"] = "degraded"
			}
		}
		health["circuit_breakers"] = breakers
	}

	if h.tracker.Snapshot().SessionExpired {
		health["status"] = "unauthorized"
	}

	h.respondWithJSON(w, http.StatusOK, health)
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Data:    h.tracker.Snapshot(),
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "refresh", func(ctx context.Context) error {
		return h.tracker.Refresh(ctx)
	})
}

func (h *Handler) FetchRequests(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "requests", func(ctx context.Context) error {
		return h.tracker.FetchRequests(ctx)
	})
}

func (h *Handler) RespondToAssignment(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Warn("Failed to decode respond request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.act(w, r, "respond", func(ctx context.Context) error {
		return h.tracker.RespondToAssignment(ctx, req.Accepted)
	})
}

func (h *Handler) RespondToRequest(w http.ResponseWriter, r *http.Request) {
	assignmentID := mux.Vars(r)["id"]

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).WithField("assignment_id", assignmentID).Warn("Failed to decode respond request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.act(w, r, "respond", func(ctx context.Context) error {
		return h.tracker.RespondToRequest(ctx, assignmentID, req.Accepted)
	})
}

func (h *Handler) GoOnline(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "go_online", h.tracker.GoOnline)
}

func (h *Handler) GoOffline(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "go_offline", h.tracker.GoOffline)
}

func (h *Handler) MarkPickedUp(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "picked_up", h.tracker.MarkPickedUp)
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "delivered", h.tracker.MarkDelivered)
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Lat == nil || req.Lng == nil {
		h.respondWithError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	if *req.Lat < -90 || *req.Lat > 90 || *req.Lng < -180 || *req.Lng > 180 {
		h.respondWithError(w, http.StatusBadRequest, "Coordinates out of range")
		return
	}

	h.act(w, r, "location", func(ctx context.Context) error {
		return h.tracker.UpdateLocation(*req.Lat, *req.Lng)
	})
}

// act runs one user action and answers with the resulting state.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context) error) {
	if err := fn(r.Context()); err != nil {
		code := statusFor(err)
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"status": code,
		}).Warn("Action failed")
		h.respondWithError(w, code, err.Error())
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: action,
		Data:    h.tracker.Snapshot(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tracking.ErrNotRider):
		return http.StatusForbidden
	case errors.Is(err, tracking.ErrNoIncomingRequest),
		errors.Is(err, tracking.ErrRequestNotFound),
		errors.Is(err, tracking.ErrNoActiveOrder),
		errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrAssignmentConflict):
		return http.StatusConflict
	case errors.Is(err, tracking.ErrLocationDenied):
		return http.StatusPreconditionFailed
	case errors.Is(err, orders.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen),
		errors.Is(err, tracking.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, models.APIResponse{
		Success: false,
		Message: message,
	})
}
