package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"authgate/internal/observability"
)

// TokenReaper revokes ledger entries whose refresh token has lapsed.
type TokenReaper interface {
	RevokeExpiredPairs(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

// CounterPurger drops rate-limit counters from closed windows.
type CounterPurger interface {
	Purge(ctx context.Context) (int64, error)
}

type CleanupResult struct {
	RevokedTokenPairs  int64 `json:"revoked_token_pairs"`
	PurgedRateCounters int64 `json:"purged_rate_counters"`
}

type CleanupHandler struct {
	tokens     TokenReaper
	counters   CounterPurger
	logger     *observability.Logger
	cronSecret string
	batchSize  int
	now        func() time.Time
}

func NewCleanupHandler(
	tokens TokenReaper,
	counters CounterPurger,
	logger *observability.Logger,
	cronSecret string,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		tokens:     tokens,
		counters:   counters,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
		now:        time.Now,
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

	result, err := h.Run(r.Context())
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		observability.CaptureError(err, map[string]string{"operation": "cleanup"})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

// Run revokes lapsed ledger entries (they are never deleted) and purges stale
// rate-limit counters.
func (h *CleanupHandler) Run(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult

	revoked, err := h.tokens.RevokeExpiredPairs(ctx, h.now().UTC(), h.batchSize)
	if err != nil {
		return result, err
	}
	result.RevokedTokenPairs = revoked

	if h.counters != nil {
		purged, err := h.counters.Purge(ctx)
		if err != nil {
			return result, err
		}
		result.PurgedRateCounters = purged
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"revoked_token_pairs":  result.RevokedTokenPairs,
		"purged_rate_counters": result.PurgedRateCounters,
	})
	return result, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
