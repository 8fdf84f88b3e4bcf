package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/viralink-ai/viralink/internal/auth"
	"github.com/viralink-ai/viralink/internal/engine"
	"github.com/viralink-ai/viralink/internal/model"
	"github.com/viralink-ai/viralink/internal/storage"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	engine  *engine.Engine
	db      *storage.DB
	jwtMgr  *auth.JWTManager
	logger  *slog.Logger
	maxBody int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine, db *storage.DB, jwtMgr *auth.JWTManager, logger *slog.Logger, maxBody int64) *Handlers {
	return &Handlers{
		engine:  eng,
		db:      db,
		jwtMgr:  jwtMgr,
		logger:  logger,
		maxBody: maxBody,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]string{"status": status})
}

// HandleAuthToken handles POST /auth/token. It exchanges a key_id plus API
// key for a short-lived bearer token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.KeyID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "key_id and api_key are required")
		return
	}

	key, err := h.db.GetActiveAPIKey(r.Context(), req.KeyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn comparable time so unknown key_ids are not
			// distinguishable from bad keys.
			auth.DummyVerify()
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("api key lookup failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, key.KeyHash)
	if err != nil {
		h.logger.Error("api key verify failed", "key_id", req.KeyID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(key)
	if err != nil {
		h.logger.Error("token issuance failed", "key_id", req.KeyID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	h.logger.Info("token issued", "key_id", key.KeyID, "user_id", key.UserID, "role", key.Role)
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    key.UserID,
		Role:      key.Role,
	})
}

// SeedAdmin ensures a bootstrap admin API key exists. The raw key comes from
// configuration; only its hash is stored. Idempotent across restarts.
func SeedAdmin(ctx context.Context, db *storage.DB, rawKey string, logger *slog.Logger) error {
	const adminKeyID = "admin"

	if rawKey == "" {
		logger.Warn("no admin API key configured, skipping bootstrap")
		return nil
	}

	if _, err := db.GetActiveAPIKey(ctx, adminKeyID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("server: check admin key: %w", err)
	}

	hash, err := auth.HashAPIKey(rawKey)
	if err != nil {
		return fmt.Errorf("server: hash admin key: %w", err)
	}
	_, err = db.CreateAPIKey(ctx, model.APIKey{
		KeyID:   adminKeyID,
		KeyHash: hash,
		UserID:  "admin",
		Role:    model.RoleAdmin,
		Active:  true,
	})
	if err != nil {
		return fmt.Errorf("server: create admin key: %w", err)
	}
	logger.Info("bootstrap admin API key created", "key_id", adminKeyID)
	return nil
}
