package handler

import (
	"net/http"

	"storefront-chat/internal/core/domain"
)

// Instrumenter wraps handlers with request metrics
type Instrumenter interface {
	Instrument(next http.Handler) http.Handler
	Handler() http.Handler
}

// Routes groups every handler mounted on the public server
type Routes struct {
	Webhook   *WebhookHandler
	Cron      *CronHandler
	Dashboard *DashboardHandler
	StaffWS   http.HandlerFunc
	Metrics   Instrumenter
}

// NewRouter mounts all endpoints on a standard library mux.
// The WebSocket route is left uninstrumented so the upgrade can hijack the connection.
func NewRouter(rt Routes) http.Handler {
	api := http.NewServeMux()

	// Health check
	api.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, APIResponse{Code: http.StatusOK, Message: "Storefront chat is running"})
	})

	// Platform webhooks
	for _, p := range []domain.Platform{domain.PlatformFacebook, domain.PlatformInstagram} {
		api.HandleFunc("GET /webhook/"+string(p), rt.Webhook.Verify(p))
		api.HandleFunc("POST /webhook/"+string(p), rt.Webhook.Event(p))
	}

	// Scheduled jobs
	api.HandleFunc("GET /api/cron/process-messages", rt.Cron.ProcessMessages)
	api.HandleFunc("GET /api/cron/purge", rt.Cron.Purge)

	// Ops API (MESH_SECRET)
	d := rt.Dashboard
	api.HandleFunc("GET /api/system/metrics", d.RequireMesh(d.GetSystemMetrics))
	api.HandleFunc("GET /api/system/status", d.RequireMesh(d.GetStatus))
	api.HandleFunc("POST /api/system/panic", d.RequireMesh(d.EnablePanic))
	api.HandleFunc("DELETE /api/system/panic", d.RequireMesh(d.DisablePanic))
	api.HandleFunc("POST /api/tenants/{tenantID}/customers/{customerID}/pause", d.RequireMesh(d.PauseCustomer))
	api.HandleFunc("DELETE /api/tenants/{tenantID}/customers/{customerID}/pause", d.RequireMesh(d.ResumeCustomer))
	api.HandleFunc("POST /api/tenants/{tenantID}/orders/{orderNumber}/cancel", d.RequireMesh(d.CancelOrder))

	root := http.NewServeMux()
	if rt.Metrics != nil {
		root.Handle("GET /metrics", rt.Metrics.Handler())
		root.Handle("/", rt.Metrics.Instrument(api))
	} else {
		root.Handle("/", api)
	}
	if rt.StaffWS != nil {
		root.HandleFunc("GET /ws/notifications", rt.StaffWS)
	}
	return root
}
