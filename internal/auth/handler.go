package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// HashSource supplies the stored local API password hash.
type HashSource interface {
	APIPasswordHash(ctx context.Context) (string, error)
}

// Handler exposes the token endpoint for the bridge's local API.
type Handler struct {
	logger *zap.SugaredLogger
	svc    *Service
	hashes HashSource
}

func NewHandler(logger *zap.SugaredLogger, svc *Service, hashes HashSource) *Handler {
	return &Handler{logger: logger, svc: svc, hashes: hashes}
}

type tokenRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Token verifies the local API password and issues a bearer token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	hash, err := h.hashes.APIPasswordHash(r.Context())
	if err != nil {
		h.logger.Errorw("failed to load api password hash", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := h.svc.Authenticate(hash, req.Password); err != nil {
		if errors.Is(err, ErrNoLocalPassword) {
			http.Error(w, "local api password not configured", http.StatusConflict)
			return
		}
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, expires, err := h.svc.IssueToken("local-api")
	if err != nil {
		h.logger.Errorw("failed to issue token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{Token: token, ExpiresAt: expires.Unix()})
}
