package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"storefront-chat/internal/core/services"
)

// Sweeper drains the batching queue
type Sweeper interface {
	Sweep(ctx context.Context) (services.SweepResult, error)
}

// Housekeeper runs one purge pass
type Housekeeper interface {
	RunOnce(ctx context.Context) (services.WatchdogReport, error)
}

// CronHandler exposes the externally scheduled jobs
type CronHandler struct {
	sweeper     Sweeper
	housekeeper Housekeeper
	secret      string
	requireAuth bool
}

// NewCronHandler creates the cron endpoints.
// requireAuth (APP_ENV=production) enforces "Authorization: Bearer <secret>".
func NewCronHandler(sweeper Sweeper, housekeeper Housekeeper, secret string, requireAuth bool) *CronHandler {
	return &CronHandler{
		sweeper:     sweeper,
		housekeeper: housekeeper,
		secret:      secret,
		requireAuth: requireAuth,
	}
}

// ProcessMessages runs one batching sweep
// GET /api/cron/process-messages -> {processed, batches}
func (h *CronHandler) ProcessMessages(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, r, UnauthorizedResponse("Unauthorized"))
		return
	}

	result, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		slog.Error("Sweep failed", "error", err)
		writeJSON(w, r, InternalErrorResponse("Sweep failed"))
		return
	}
	writeJSON(w, r, NewSuccessResponse(result))
}

// PurgeResponse is the payload of the purge endpoint
type PurgeResponse struct {
	Purged        int64   `json:"purged"`
	HistoryPurged int64   `json:"history_purged"`
	DiskUsed      float64 `json:"disk_used_percent"`
}

// Purge garbage-collects processed pending messages
// GET /api/cron/purge -> {purged}
func (h *CronHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, r, UnauthorizedResponse("Unauthorized"))
		return
	}

	report, err := h.housekeeper.RunOnce(r.Context())
	if err != nil {
		slog.Error("Purge failed", "error", err)
		writeJSON(w, r, InternalErrorResponse("Purge failed"))
		return
	}
	writeJSON(w, r, NewSuccessResponse(PurgeResponse{
		Purged:        report.PendingPurged,
		HistoryPurged: report.HistoryPurged,
		DiskUsed:      report.DiskUsed,
	}))
}

func (h *CronHandler) authorized(r *http.Request) bool {
	if !h.requireAuth {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || h.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
