// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

// Webhook object values per platform
const (
	ObjectPage      = "page"
	ObjectInstagram = "instagram"
)

// ObjectFor returns the webhook "object" a platform must send
func ObjectFor(p domain.Platform) string {
	if p == domain.PlatformInstagram {
		return ObjectInstagram
	}
	return ObjectPage
}

// FacebookWebhookRequest is the top-level webhook payload from Facebook
// Instagram messaging webhooks share the same envelope with object "instagram"
// Ref: https://developers.facebook.com/docs/messenger-platform/webhooks
type FacebookWebhookRequest struct {
	Object string          `json:"object"` // "page" for Messenger, "instagram" for Instagram
	Entry  []FacebookEntry `json:"entry"`
}

// FacebookEntry represents a single page's (or IG account's) webhook events
type FacebookEntry struct {
	ID        string              `json:"id"`   // Page ID / Instagram business account ID
	Time      int64               `json:"time"` // Unix milliseconds
	Messaging []FacebookMessaging `json:"messaging"`
	Changes   []FacebookChange    `json:"changes"` // Feed / comments subscriptions
}

// FacebookMessaging represents a single messaging event
// Can be a message, postback, delivery receipt, read receipt, or echo
type FacebookMessaging struct {
	Sender    FacebookUser `json:"sender"`
	Recipient FacebookUser `json:"recipient"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds

	Message  *FacebookMessage  `json:"message,omitempty"`
	Postback *FacebookPostback `json:"postback,omitempty"`

	// Delivery and read receipts are never processed
	Delivery *FacebookDelivery `json:"delivery,omitempty"`
	Read     *FacebookRead     `json:"read,omitempty"`
}

// FacebookUser represents a sender or recipient (PSID / IGSID)
type FacebookUser struct {
	ID string `json:"id"`
}

// FacebookMessage represents the actual message content
type FacebookMessage struct {
	MID         string               `json:"mid"`
	Text        string               `json:"text"`
	Attachments []FacebookAttachment `json:"attachments,omitempty"`
	QuickReply  *FacebookQuickReply  `json:"quick_reply,omitempty"`

	// IsEcho marks a message sent BY the page
	IsEcho bool `json:"is_echo,omitempty"`
}

// FacebookQuickReply is set when the user tapped a quick-reply chip
type FacebookQuickReply struct {
	Payload string `json:"payload"`
}

// FacebookPostback is a button tap (generic template buttons, get started)
type FacebookPostback struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// FacebookAttachment represents media attachments
type FacebookAttachment struct {
	Type    string                    `json:"type"` // "image", "video", "audio", "file"
	Payload FacebookAttachmentPayload `json:"payload"`
}

// FacebookAttachmentPayload contains attachment URL and metadata
type FacebookAttachmentPayload struct {
	URL string `json:"url"`
}

// FacebookDelivery represents a delivery confirmation
type FacebookDelivery struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

// FacebookRead represents a read confirmation
type FacebookRead struct {
	Watermark int64 `json:"watermark"`
}

// FacebookChange is one feed/comments subscription change
type FacebookChange struct {
	Field string              `json:"field"` // "feed" (page) or "comments" (instagram)
	Value FacebookChangeValue `json:"value"`
}

// FacebookChangeValue covers both the page feed and Instagram comment shapes
type FacebookChangeValue struct {
	// Page feed
	Item        string `json:"item"` // "comment", "post", "reaction", ...
	Verb        string `json:"verb"` // "add", "edited", "remove"
	CommentID   string `json:"comment_id"`
	PostID      string `json:"post_id"`
	Message     string `json:"message"`
	CreatedTime int64  `json:"created_time"` // Unix seconds

	// Instagram comments
	ID   string `json:"id"`
	Text string `json:"text"`

	From FacebookCommentAuthor `json:"from"`
}

// FacebookCommentAuthor is the author of a feed comment
type FacebookCommentAuthor struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// IsUserMessage determines if this messaging event is an actual user message
// Returns false for: echo messages, delivery receipts, read receipts
func (m *FacebookMessaging) IsUserMessage() bool {
	if m.Delivery != nil || m.Read != nil {
		return false
	}
	if m.Postback != nil {
		return true
	}
	if m.Message == nil {
		return false
	}
	// Filter out echo messages (sent by the page itself)
	return !m.Message.IsEcho
}

// GetMessageID extracts the message ID for deduplication
func (m *FacebookMessaging) GetMessageID() string {
	switch {
	case m.Message != nil:
		return m.Message.MID
	case m.Postback != nil:
		return m.Postback.MID
	}
	return ""
}

// Normalize converts the webhook into platform-neutral inbound events.
// Echo, delivery and read events never produce an event.
func (r *FacebookWebhookRequest) Normalize(platform domain.Platform) []domain.InboundEvent {
	var events []domain.InboundEvent
	for _, entry := range r.Entry {
		for i := range entry.Messaging {
			events = append(events, entry.Messaging[i].normalize(platform, entry.ID)...)
		}
		for _, change := range entry.Changes {
			if ev, ok := change.normalize(platform, entry); ok {
				events = append(events, ev)
			}
		}
	}
	return events
}

func (m *FacebookMessaging) normalize(platform domain.Platform, entryID string) []domain.InboundEvent {
	if !m.IsUserMessage() {
		return nil
	}

	accountID := m.Recipient.ID
	if accountID == "" {
		accountID = entryID
	}
	base := domain.InboundEvent{
		Platform:  platform,
		AccountID: accountID,
		SenderID:  m.Sender.ID,
		MessageID: m.GetMessageID(),
		Timestamp: fromMillis(m.Timestamp),
	}

	if m.Postback != nil {
		ev := base
		ev.Kind = domain.EventKindPostback
		ev.Text = postbackText(m.Postback)
		if ev.Text == "" {
			return nil
		}
		return []domain.InboundEvent{ev}
	}

	var events []domain.InboundEvent
	// Quick-reply taps carry the chip title as message text
	if text := strings.TrimSpace(m.Message.Text); text != "" {
		ev := base
		ev.Kind = domain.EventKindText
		ev.Text = text
		events = append(events, ev)
	}
	for i, att := range m.Message.Attachments {
		if att.Type != "image" || att.Payload.URL == "" {
			continue
		}
		ev := base
		ev.Kind = domain.EventKindAttachment
		ev.AttachmentURL = att.Payload.URL
		ev.MessageID = fmt.Sprintf("%s#att%d", base.MessageID, i)
		events = append(events, ev)
	}
	return events
}

func (c *FacebookChange) normalize(platform domain.Platform, entry FacebookEntry) (domain.InboundEvent, bool) {
	v := c.Value
	ev := domain.InboundEvent{
		Platform:  platform,
		AccountID: entry.ID,
		SenderID:  v.From.ID,
		Kind:      domain.EventKindComment,
	}

	switch {
	case c.Field == "feed" && v.Item == "comment" && v.Verb == "add":
		ev.CommentID = v.CommentID
		ev.Text = strings.TrimSpace(v.Message)
		ev.Timestamp = time.Unix(v.CreatedTime, 0)
	case c.Field == "comments" && platform == domain.PlatformInstagram:
		ev.CommentID = v.ID
		ev.Text = strings.TrimSpace(v.Text)
		ev.Timestamp = fromMillis(entry.Time)
	default:
		return domain.InboundEvent{}, false
	}

	// Comments authored by the page itself are replies, not customers
	if ev.SenderID == "" || ev.SenderID == entry.ID || ev.CommentID == "" || ev.Text == "" {
		return domain.InboundEvent{}, false
	}
	return ev, true
}

// postbackText prefers a human-readable payload; machine payloads such as
// GET_STARTED fall back to the button title
func postbackText(p *FacebookPostback) string {
	payload := strings.TrimSpace(p.Payload)
	if payload == "" || isMachinePayload(payload) {
		return strings.TrimSpace(p.Title)
	}
	return payload
}

func isMachinePayload(s string) bool {
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '_' {
			return false
		}
	}
	return true
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// Decoder implements ports.WebhookDecoder for Graph API webhooks
type Decoder struct{}

var _ ports.WebhookDecoder = Decoder{}

// Decode parses the body and normalizes it
func (Decoder) Decode(platform domain.Platform, payload []byte) ([]domain.InboundEvent, error) {
	var req FacebookWebhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("parse webhook: %w", err)
	}
	return req.Normalize(platform), nil
}
