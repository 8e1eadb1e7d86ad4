package snapshot

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/qnbridge/feelfit-bridge/internal/feelfit"
)

// Handler serves the held snapshot over the local HTTP API. Consumers
// must treat any field of the payload as optionally absent.
type Handler struct {
	logger *zap.SugaredLogger
	svc    *Service
}

func NewHandler(logger *zap.SugaredLogger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Snapshot returns the full aggregate payload, 503 until the first
// cycle has succeeded.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	payload, st := h.svc.Current()
	if payload == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":  "no snapshot yet",
			"status": st,
		})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// Profiles returns only the per-profile section of the snapshot.
func (h *Handler) Profiles(w http.ResponseWriter, r *http.Request) {
	payload, _ := h.svc.Current()
	if payload == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no snapshot yet"})
		return
	}
	writeJSON(w, http.StatusOK, payload.Profiles)
}

// Devices returns the enriched device bindings and models.
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	payload, _ := h.svc.Current()
	if payload == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no snapshot yet"})
		return
	}
	writeJSON(w, http.StatusOK, payload.DeviceBinds)
}

// Status reports snapshot freshness without the payload itself.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	_, st := h.svc.Current()
	writeJSON(w, http.StatusOK, st)
}

// Refresh runs one fetch cycle on behalf of the external scheduler.
// A failed cycle answers 502 while the previous snapshot stays served.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cycleID, err := h.svc.RefreshNow(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		var authErr *feelfit.AuthError
		if errors.As(err, &authErr) {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle_id": cycleID})
}
