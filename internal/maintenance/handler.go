package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"acero-store/internal/auth"
	"acero-store/internal/config"
	"acero-store/internal/observability"
)

type Cleaner interface {
	CleanupStaleAuthData(ctx context.Context, refreshRetention, verificationRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type CleanupHandler struct {
	cleaner    Cleaner
	logger     *observability.Logger
	cronSecret string
	cfg        config.CleanupConfig
}

func NewCleanupHandler(cleaner Cleaner, logger *observability.Logger, cronSecret string, cfg config.CleanupConfig) *CleanupHandler {
	return &CleanupHandler{
		cleaner:    cleaner,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		cfg:        cfg,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.cleaner.CleanupStaleAuthData(r.Context(), h.cfg.RefreshRetention, h.cfg.VerificationRetention, h.cfg.BatchSize)
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_refresh_tokens": result.DeletedRefreshTokens,
		"deleted_email_tokens":   result.DeletedEmailTokens,
		"deleted_phone_tokens":   result.DeletedPhoneTokens,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
