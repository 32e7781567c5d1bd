package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"storefront-chat/internal/adapters/metrics"
	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/services"
)

// Takeover pauses and resumes the AI for one customer
type Takeover interface {
	PauseAI(ctx context.Context, tenantID, customerID int64, until time.Time) error
	ResumeAI(ctx context.Context, tenantID, customerID int64) error
}

// OrderCanceller cancels orders on behalf of staff
type OrderCanceller interface {
	CancelOrder(ctx context.Context, tenantID int64, orderNumber, reason string) (*domain.Order, error)
}

// DashboardConfig holds ops API settings
type DashboardConfig struct {
	MeshSecret     string
	Version        string
	DiskPath       string
	PurgeThreshold float64
	// DefaultPause applies when a pause request omits minutes
	DefaultPause time.Duration
}

// DashboardHandler handles the ops API: host health, kill switch, staff
// takeover and order cancellation. Every route requires MESH_SECRET
type DashboardHandler struct {
	killSwitch *services.PanicMode
	takeover   Takeover
	orders     OrderCanceller
	probe      metrics.SystemProbe
	cfg        DashboardConfig
	startedAt  time.Time
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(killSwitch *services.PanicMode, takeover Takeover, orders OrderCanceller, cfg DashboardConfig) *DashboardHandler {
	if cfg.DefaultPause <= 0 {
		cfg.DefaultPause = 30 * time.Minute
	}
	return &DashboardHandler{
		killSwitch: killSwitch,
		takeover:   takeover,
		orders:     orders,
		cfg:        cfg,
		startedAt:  time.Now(),
	}
}

// RequireMesh wraps next with the MESH_SECRET check
// Accepts the X-Mesh-Secret header or ?secret_key=
func (h *DashboardHandler) RequireMesh(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Mesh-Secret")
		if key == "" {
			key = r.URL.Query().Get("secret_key")
		}
		if h.cfg.MeshSecret == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.MeshSecret)) != 1 {
			slog.Warn("Unauthorized ops request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeJSON(w, r, UnauthorizedResponse("Unauthorized"))
			return
		}
		next(w, r)
	}
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// GetSystemMetrics returns current host health
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	snap := h.probe.Snapshot(r.Context(), h.cfg.DiskPath, time.Second, h.cfg.PurgeThreshold)

	slog.Debug("System metrics retrieved",
		"cpu", snap.CPUPercent,
		"disk_percent", snap.DiskPercent,
		"disk_warning_level", snap.DiskWarningLevel,
	)
	writeJSON(w, r, NewSuccessResponse(snap))
}

// ============================================================================
// System Status
// ============================================================================

// SystemStatusResponse represents overall system status
type SystemStatusResponse struct {
	Online    bool                 `json:"online"`
	Uptime    string               `json:"uptime"`
	Version   string               `json:"version"`
	PanicMode services.PanicStatus `json:"panic_mode"`
}

// GetStatus returns system status
// GET /api/system/status
func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, NewSuccessResponse(SystemStatusResponse{
		Online:    true,
		Uptime:    formatDuration(time.Since(h.startedAt)),
		Version:   h.cfg.Version,
		PanicMode: h.killSwitch.Status(),
	}))
}

// ============================================================================
// Kill switch
// ============================================================================

// PanicRequest is the body of POST /api/system/panic
type PanicRequest struct {
	Reason      string `json:"reason"`
	ActivatedBy string `json:"activated_by"`
}

// EnablePanic disables the AI for every tenant
// POST /api/system/panic
func (h *DashboardHandler) EnablePanic(w http.ResponseWriter, r *http.Request) {
	var req PanicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, r, BadRequestResponse("Invalid JSON body"))
		return
	}
	if req.ActivatedBy == "" {
		req.ActivatedBy = "ops-api"
	}
	h.killSwitch.Enable(req.Reason, req.ActivatedBy)
	writeJSON(w, r, NewSuccessResponse(h.killSwitch.Status()))
}

// DisablePanic re-enables the AI
// DELETE /api/system/panic
func (h *DashboardHandler) DisablePanic(w http.ResponseWriter, r *http.Request) {
	by := r.URL.Query().Get("by")
	if by == "" {
		by = "ops-api"
	}
	h.killSwitch.Disable(by)
	writeJSON(w, r, NewSuccessResponse(h.killSwitch.Status()))
}

// ============================================================================
// Staff takeover
// ============================================================================

// PauseRequest is the body of POST .../pause
type PauseRequest struct {
	Minutes int `json:"minutes"`
}

// PauseCustomer hands a conversation to staff
// POST /api/tenants/{tenantID}/customers/{customerID}/pause
func (h *DashboardHandler) PauseCustomer(w http.ResponseWriter, r *http.Request) {
	tenantID, customerID, err := customerPath(r)
	if err != nil {
		writeJSON(w, r, BadRequestResponse(err.Error()))
		return
	}

	var req PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, r, BadRequestResponse("Invalid JSON body"))
		return
	}
	if req.Minutes < 0 {
		writeJSON(w, r, BadRequestResponse("minutes must be positive"))
		return
	}
	pause := h.cfg.DefaultPause
	if req.Minutes > 0 {
		pause = time.Duration(req.Minutes) * time.Minute
	}
	until := time.Now().Add(pause).UTC()

	if err := h.takeover.PauseAI(r.Context(), tenantID, customerID, until); err != nil {
		h.writeTakeoverError(w, r, err, tenantID, customerID)
		return
	}

	slog.Info("AI paused for customer",
		"tenant_id", tenantID,
		"customer_id", customerID,
		"until", until,
	)
	writeJSON(w, r, NewSuccessResponse(map[string]any{
		"tenant_id":       tenantID,
		"customer_id":     customerID,
		"ai_paused_until": until,
	}))
}

// ResumeCustomer gives the conversation back to the AI
// DELETE /api/tenants/{tenantID}/customers/{customerID}/pause
func (h *DashboardHandler) ResumeCustomer(w http.ResponseWriter, r *http.Request) {
	tenantID, customerID, err := customerPath(r)
	if err != nil {
		writeJSON(w, r, BadRequestResponse(err.Error()))
		return
	}
	if err := h.takeover.ResumeAI(r.Context(), tenantID, customerID); err != nil {
		h.writeTakeoverError(w, r, err, tenantID, customerID)
		return
	}

	slog.Info("AI resumed for customer", "tenant_id", tenantID, "customer_id", customerID)
	writeJSON(w, r, NewSuccessResponse(map[string]any{
		"tenant_id":   tenantID,
		"customer_id": customerID,
	}))
}

func (h *DashboardHandler) writeTakeoverError(w http.ResponseWriter, r *http.Request, err error, tenantID, customerID int64) {
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, r, NotFoundResponse("Customer not found"))
		return
	}
	slog.Error("Takeover update failed",
		"error", err,
		"tenant_id", tenantID,
		"customer_id", customerID,
	)
	writeJSON(w, r, InternalErrorResponse("Failed to update customer"))
}

// ============================================================================
// Orders
// ============================================================================

// CancelOrderRequest is the body of POST .../cancel
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder cancels a pending or confirmed order and restocks its items
// POST /api/tenants/{tenantID}/orders/{orderNumber}/cancel
func (h *DashboardHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(r.PathValue("tenantID"), 10, 64)
	if err != nil || tenantID <= 0 {
		writeJSON(w, r, BadRequestResponse("invalid tenant id"))
		return
	}
	orderNumber := r.PathValue("orderNumber")

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, r, BadRequestResponse("Invalid JSON body"))
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), tenantID, orderNumber, req.Reason)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, r, NotFoundResponse("Order not found"))
		return
	case errors.Is(err, domain.ErrOrderNotCancellable):
		writeJSON(w, r, NewErrorResponse(http.StatusConflict, "Order can no longer be cancelled"))
		return
	case err != nil:
		slog.Error("Order cancellation failed",
			"error", err,
			"tenant_id", tenantID,
			"order_number", orderNumber,
		)
		writeJSON(w, r, InternalErrorResponse("Failed to cancel order"))
		return
	}
	writeJSON(w, r, NewSuccessResponse(order))
}

// ============================================================================
// Helpers
// ============================================================================

func customerPath(r *http.Request) (tenantID, customerID int64, err error) {
	tenantID, err = strconv.ParseInt(r.PathValue("tenantID"), 10, 64)
	if err != nil || tenantID <= 0 {
		return 0, 0, fmt.Errorf("invalid tenant id")
	}
	customerID, err = strconv.ParseInt(r.PathValue("customerID"), 10, 64)
	if err != nil || customerID <= 0 {
		return 0, 0, fmt.Errorf("invalid customer id")
	}
	return tenantID, customerID, nil
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
