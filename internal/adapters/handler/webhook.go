// Package handler implements HTTP request handlers
// Following Hexagonal Architecture: Adapters translate HTTP to domain logic
package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"storefront-chat/internal/adapters/dto"
	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/services"
)

// maxWebhookBody caps the webhook payload read into memory
const maxWebhookBody = 1 << 20

// WebhookProcessor consumes a verified webhook body
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, platform domain.Platform, payload []byte) services.IntakeStats
}

// WebhookHandler handles Facebook and Instagram webhook verification and events
// Must answer within the platform deadline: processing happens after the 200
type WebhookHandler struct {
	processor   WebhookProcessor
	appSecret   string // For HMAC signature validation
	verifyToken string // For webhook verification
	wg          sync.WaitGroup
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor WebhookProcessor, appSecret, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		processor:   processor,
		appSecret:   appSecret,
		verifyToken: verifyToken,
	}
}

// Verify returns the verification handler for a platform
func (h *WebhookHandler) Verify(platform domain.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handleVerify(w, r, platform)
	}
}

// Event returns the event handler for a platform
func (h *WebhookHandler) Event(platform domain.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handleEvent(w, r, platform)
	}
}

// Wait blocks until in-flight async webhook processing finishes (shutdown and tests)
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}

// ============================================================================
// GET /webhook/{platform} - Webhook Verification
// ============================================================================

// handleVerify answers the subscription challenge
// Query: hub.mode=subscribe, hub.verify_token, hub.challenge
func (h *WebhookHandler) handleVerify(w http.ResponseWriter, r *http.Request, platform domain.Platform) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	tokenOK := h.verifyToken != "" && hmac.Equal([]byte(token), []byte(h.verifyToken))
	if mode == "subscribe" && tokenOK {
		slog.Info("Webhook verification successful", "platform", platform)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	slog.Warn("Webhook verification failed",
		"platform", platform,
		"mode", mode,
		"token_matches", tokenOK,
	)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// ============================================================================
// POST /webhook/{platform} - Webhook Events
// ============================================================================

// handleEvent validates the HMAC signature and object type, answers 200
// EVENT_RECEIVED and processes the payload asynchronously
func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request, platform domain.Platform) {
	// ========================================================================
	// Step 1: Read request body
	// ========================================================================
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Error("Failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// ========================================================================
	// Step 2: Validate HMAC signature; never process unsigned payloads
	// ========================================================================
	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		slog.Warn("Webhook received without signature header", "platform", platform)
		http.Error(w, "Forbidden - No signature", http.StatusForbidden)
		return
	}
	if !ValidateSignature(h.appSecret, body, signature) {
		slog.Warn("Webhook signature validation failed", "platform", platform)
		http.Error(w, "Forbidden - Invalid signature", http.StatusForbidden)
		return
	}

	// ========================================================================
	// Step 3: Object must match the endpoint platform
	// ========================================================================
	var head struct {
		Object string `json:"object"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&head); err != nil || head.Object != dto.ObjectFor(platform) {
		slog.Warn("Webhook object does not match platform",
			"platform", platform,
			"object", head.Object,
		)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// ========================================================================
	// Step 4: Return HTTP 200 OK IMMEDIATELY (Fire & Forget)
	// ========================================================================
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))

	// ========================================================================
	// Step 5: Process asynchronously; the request context dies with the response
	// ========================================================================
	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("PANIC in webhook processing goroutine",
					"panic", rec,
					"platform", platform,
				)
			}
		}()
		h.processor.ProcessWebhook(ctx, platform, body)
	}()

	slog.Debug("Webhook received and queued for processing",
		"platform", platform,
		"content_length", len(body),
	)
}

// ============================================================================
// HMAC Signature Validation
// ============================================================================

// ValidateSignature checks an X-Hub-Signature-256 header ("sha256=<hex>")
// against the HMAC SHA256 of payload keyed by appSecret
func ValidateSignature(appSecret string, payload []byte, signatureHeader string) bool {
	const prefix = "sha256="
	if appSecret == "" || !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(payload)

	// Constant-time comparison
	return hmac.Equal(mac.Sum(nil), expected)
}
