// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"storefront-chat/internal/core/domain"
)

// Custom errors for specific Facebook API failures
var (
	// ErrTokenExpired indicates the page access token is expired or invalid (code 190)
	// Caller should deactivate the tenant platform when this error is received
	ErrTokenExpired = fmt.Errorf("facebook access token expired or invalid: %w", domain.ErrTokenRejected)

	// ErrRateLimited indicates Facebook rate limit exceeded (code 4, 17, 32, 613)
	ErrRateLimited = errors.New("facebook rate limit exceeded")

	// ErrPermissionDenied indicates missing permissions (code 10, 200, 299)
	ErrPermissionDenied = errors.New("facebook permission denied")
)

// Send API limits
const (
	MaxQuickReplies     = 13
	MaxQuickReplyTitle  = 20 // runes
	MaxPayloadLength    = 1000
	MaxTextLength       = 2000
	MaxGenericElements  = 10
	maxElementTitle     = 80
	maxElementSubtitle  = 80
	maxRetries          = 3
	retryBackoffStep    = 500 * time.Millisecond
	defaultGraphBaseURL = "https://graph.facebook.com"
)

// FacebookClientConfig configures the Graph API client
type FacebookClientConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration

	// Outbound calls per second allowed per access token
	RatePerSecond float64
	Burst         int
}

// FacebookClient handles communication with Facebook Graph API
// Serves both Messenger and Instagram messaging (same Send API)
type FacebookClient struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string

	ratePerSecond rate.Limit
	burst         int
	mu            sync.Mutex
	limiters      map[string]*rate.Limiter
}

// NewFacebookClient creates a new Facebook API client
func NewFacebookClient(cfg FacebookClientConfig) *FacebookClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v19.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &FacebookClient{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		baseURL:       cfg.BaseURL,
		apiVersion:    cfg.APIVersion,
		ratePerSecond: rate.Limit(cfg.RatePerSecond),
		burst:         cfg.Burst,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// ============================================================================
// Send API payloads
// ============================================================================

type sendRecipient struct {
	ID        string `json:"id,omitempty"`
	CommentID string `json:"comment_id,omitempty"` // Private reply to a feed comment
}

type sendQuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type sendButton struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
}

type sendElement struct {
	Title    string       `json:"title"`
	Subtitle string       `json:"subtitle,omitempty"`
	ImageURL string       `json:"image_url,omitempty"`
	Buttons  []sendButton `json:"buttons,omitempty"`
}

type sendAttachmentPayload struct {
	URL          string        `json:"url,omitempty"`
	IsReusable   bool          `json:"is_reusable,omitempty"`
	TemplateType string        `json:"template_type,omitempty"`
	Elements     []sendElement `json:"elements,omitempty"`
}

type sendAttachment struct {
	Type    string                `json:"type"` // "image" or "template"
	Payload sendAttachmentPayload `json:"payload"`
}

type sendMessage struct {
	Text         string           `json:"text,omitempty"`
	QuickReplies []sendQuickReply `json:"quick_replies,omitempty"`
	Attachment   *sendAttachment  `json:"attachment,omitempty"`
}

// SendMessageRequest represents the Facebook Send API payload structure
type SendMessageRequest struct {
	Recipient     sendRecipient `json:"recipient"`
	Message       *sendMessage  `json:"message,omitempty"`
	SenderAction  string        `json:"sender_action,omitempty"`
	MessagingType string        `json:"messaging_type,omitempty"` // "RESPONSE" for replies
}

// SendMessageResponse represents Facebook's response
type SendMessageResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// FacebookError represents an error from Facebook API
type FacebookError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`
}

// ============================================================================
// Messenger port
// ============================================================================

// Send delivers one outbound message with the retry mechanism
//
// Returns specific errors:
// - ErrTokenExpired: Token invalid/expired (code 190) → Caller should deactivate the platform
// - ErrRateLimited: Rate limit exceeded → not retried here
// - ErrPermissionDenied: Missing permissions
func (c *FacebookClient) Send(ctx context.Context, accessToken string, target domain.SendTarget, msg domain.Outbound) error {
	payload := SendMessageRequest{
		Recipient:     sendRecipient{ID: target.RecipientID},
		Message:       buildMessage(msg),
		MessagingType: "RESPONSE",
	}
	if target.CommentID != "" {
		payload.Recipient = sendRecipient{CommentID: target.CommentID}
	}

	var resp SendMessageResponse
	if err := c.postWithRetry(ctx, accessToken, "/me/messages", payload, &resp); err != nil {
		return err
	}

	slog.Info("Message sent successfully",
		"recipient_id", target.RecipientID,
		"comment_id", target.CommentID,
		"message_id", resp.MessageID,
	)
	return nil
}

// SendAction sends a presence signal: mark_seen, typing_on, typing_off
// Single attempt, presence is best-effort
func (c *FacebookClient) SendAction(ctx context.Context, accessToken, recipientID string, action domain.SenderAction) error {
	payload := SendMessageRequest{
		Recipient:    sendRecipient{ID: recipientID},
		SenderAction: string(action),
	}
	if err := c.post(ctx, accessToken, "/me/messages", payload, nil); err != nil {
		return fmt.Errorf("sender action %s: %w", action, err)
	}
	return nil
}

// FetchProfile looks up the public name of a platform user
func (c *FacebookClient) FetchProfile(ctx context.Context, platform domain.Platform, accessToken, userID string) (*domain.Profile, error) {
	fields := "first_name,last_name"
	if platform == domain.PlatformInstagram {
		fields = "name,username"
	}

	var raw struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Name      string `json:"name"`
		Username  string `json:"username"`
	}
	query := url.Values{"fields": {fields}}
	if err := c.get(ctx, accessToken, "/"+url.PathEscape(userID), query, &raw); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	name := raw.Name
	if name == "" {
		name = joinNonEmpty(raw.FirstName, raw.LastName)
	}
	if name == "" {
		name = raw.Username
	}
	return &domain.Profile{Name: name}, nil
}

// buildMessage renders an outbound message into the Send API shape
// Quick-reply titles are truncated here, callers pass them untouched
func buildMessage(msg domain.Outbound) *sendMessage {
	switch {
	case len(msg.Gallery) > 0:
		return &sendMessage{Attachment: &sendAttachment{
			Type: "template",
			Payload: sendAttachmentPayload{
				TemplateType: "generic",
				Elements:     buildElements(msg.Gallery, msg.Confirm),
			},
		}}
	case msg.ImageURL != "":
		return &sendMessage{Attachment: &sendAttachment{
			Type:    "image",
			Payload: sendAttachmentPayload{URL: msg.ImageURL, IsReusable: true},
		}}
	}

	out := &sendMessage{Text: truncateRunes(msg.Text, MaxTextLength)}
	for i, qr := range msg.QuickReplies {
		if i == MaxQuickReplies {
			break
		}
		payload := qr.Payload
		if payload == "" {
			payload = qr.Title
		}
		out.QuickReplies = append(out.QuickReplies, sendQuickReply{
			ContentType: "text",
			Title:       TruncateTitle(qr.Title),
			Payload:     truncateRunes(payload, MaxPayloadLength),
		})
	}
	return out
}

func buildElements(cards []domain.ProductCard, confirm bool) []sendElement {
	elements := make([]sendElement, 0, len(cards))
	for i, card := range cards {
		if i == MaxGenericElements {
			break
		}
		subtitle := domain.FormatPrice(card.Price)
		if card.Description != "" {
			subtitle += " · " + card.Description
		}
		el := sendElement{
			Title:    truncateRunes(card.Name, maxElementTitle),
			Subtitle: truncateRunes(subtitle, maxElementSubtitle),
			ImageURL: card.ImageURL,
		}
		if confirm {
			el.Buttons = []sendButton{{
				Type:    "postback",
				Title:   "Сонгох",
				Payload: truncateRunes(card.Name+" авмаар байна", MaxPayloadLength),
			}}
		}
		elements = append(elements, el)
	}
	return elements
}

// TruncateTitle enforces the 20-character quick-reply title limit
func TruncateTitle(title string) string {
	return truncateRunes(title, MaxQuickReplyTitle)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// ============================================================================
// Transport
// ============================================================================

// postWithRetry retries network failures with linear back-off
// Platform errors (token, rate limit, permission) are returned immediately
func (c *FacebookClient) postWithRetry(ctx context.Context, accessToken, path string, payload, out any) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := c.post(ctx, accessToken, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		// Don't retry on these specific errors
		if errors.Is(err, ErrTokenExpired) ||
			errors.Is(err, ErrPermissionDenied) ||
			errors.Is(err, ErrRateLimited) ||
			errors.Is(err, errInvalidRequest) {
			return err
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt) * retryBackoffStep
			slog.Warn("Retrying Facebook API call",
				"attempt", attempt,
				"max_retries", maxRetries,
				"backoff_ms", backoff.Milliseconds(),
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

var errInvalidRequest = errors.New("facebook rejected request")

func (c *FacebookClient) post(ctx context.Context, accessToken, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, accessToken, out)
}

func (c *FacebookClient) get(ctx context.Context, accessToken, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, accessToken, out)
}

func (c *FacebookClient) endpoint(path string, query url.Values) string {
	u := fmt.Sprintf("%s/%s%s", c.baseURL, c.apiVersion, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *FacebookClient) do(req *http.Request, accessToken string, out any) error {
	if err := c.limiter(accessToken).Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	// Token goes in the query string, never in logs
	q := req.URL.Query()
	q.Set("access_token", accessToken)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("facebook api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseFacebookError(resp.StatusCode, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			// HTTP 200 means it worked
			slog.Warn("Failed to parse success response", "error", err)
		}
	}
	return nil
}

func parseFacebookError(status int, body []byte) error {
	var fbError struct {
		Error FacebookError `json:"error"`
	}
	if err := json.Unmarshal(body, &fbError); err != nil || fbError.Error.Code == 0 {
		slog.Error("Facebook API error (unparseable)",
			"status_code", status,
			"body", string(body),
		)
		if status >= 500 {
			return fmt.Errorf("facebook api error %d", status)
		}
		return fmt.Errorf("%w: status %d", errInvalidRequest, status)
	}

	slog.Error("Facebook API error",
		"status_code", status,
		"error_code", fbError.Error.Code,
		"error_message", fbError.Error.Message,
		"error_subcode", fbError.Error.ErrorSubcode,
		"fbtrace_id", fbError.Error.FBTraceID,
	)

	switch fbError.Error.Code {
	case 190:
		return ErrTokenExpired
	case 4, 17, 32, 613:
		return ErrRateLimited
	case 10, 200, 299:
		return ErrPermissionDenied
	case 100:
		return fmt.Errorf("%w: invalid parameter: %s", errInvalidRequest, fbError.Error.Message)
	}
	if status >= 500 {
		return fmt.Errorf("facebook api error (code %d): %s", fbError.Error.Code, fbError.Error.Message)
	}
	return fmt.Errorf("%w: code %d: %s", errInvalidRequest, fbError.Error.Code, fbError.Error.Message)
}

// limiter returns the per-token limiter, one per page token
func (c *FacebookClient) limiter(accessToken string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[accessToken]
	if !ok {
		l = rate.NewLimiter(c.ratePerSecond, c.burst)
		c.limiters[accessToken] = l
	}
	return l
}
