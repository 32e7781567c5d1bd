package domain

import "time"

// EventKind classifies a normalized inbound platform event
type EventKind string

const (
	EventKindText       EventKind = "text"
	EventKindAttachment EventKind = "attachment"
	EventKindPostback   EventKind = "postback"
	EventKindComment    EventKind = "comment"
)

// InboundEvent is a platform webhook event normalized by the transport adapter
type InboundEvent struct {
	Platform      Platform
	AccountID     string // Page ID / Instagram business account ID
	SenderID      string // PSID / IGSID / commenter ID
	Kind          EventKind
	Text          string
	AttachmentURL string
	MessageID     string // Platform message ID (used for deduplication)
	CommentID     string // Only for comment events (private reply target)
	Timestamp     time.Time
}

// IsImage reports whether the event carries an image attachment
func (e *InboundEvent) IsImage() bool {
	return e.Kind == EventKindAttachment && e.AttachmentURL != ""
}

// DedupKey returns a stable id for the event
func (e *InboundEvent) DedupKey() string {
	if e.MessageID != "" {
		return string(e.Platform) + ":" + e.MessageID
	}
	if e.CommentID != "" {
		return string(e.Platform) + ":comment:" + e.CommentID
	}
	return ""
}

// SendTarget addresses an outbound message
// CommentID set means a private reply to a feed comment
type SendTarget struct {
	RecipientID string
	CommentID   string
}

// SenderAction is a presence signal sent before a reply
type SenderAction string

const (
	SenderActionMarkSeen  SenderAction = "mark_seen"
	SenderActionTypingOn  SenderAction = "typing_on"
	SenderActionTypingOff SenderAction = "typing_off"
)

// QuickReply is one title/payload pair rendered as a chip
type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// ProductCard is one product rendered in an image or gallery reply
type ProductCard struct {
	ProductID   int64   `json:"product_id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	ImageURL    string  `json:"image_url"`
	Description string  `json:"description"`
}

// ImageActionType selects how product images are rendered
type ImageActionType string

const (
	ImageActionSingle  ImageActionType = "single"
	ImageActionGallery ImageActionType = "gallery"
	ImageActionConfirm ImageActionType = "confirm" // Disambiguation among near-matches
)

// ImageAction is produced by image tools and rendered by the dispatcher
type ImageAction struct {
	Type     ImageActionType `json:"type"`
	Products []ProductCard   `json:"products"`
}

// Reply is the outcome of one AI turn
type Reply struct {
	Text         string       `json:"text"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
	ImageAction  *ImageAction `json:"image_action,omitempty"`
	ToolsUsed    []string     `json:"tools_used,omitempty"`
}

// Outbound is one platform message to send
// Exactly one of Text, ImageURL or Gallery is set
type Outbound struct {
	Text         string
	QuickReplies []QuickReply
	ImageURL     string
	Gallery      []ProductCard
	Confirm      bool // Gallery cards get a select button
}

// Turn is one logical customer turn handed to the AI engine
// Text is the merged batch text; ImageURLs are collected in arrival order
type Turn struct {
	Tenant    *Tenant
	Customer  *Customer
	Platform  Platform
	Text      string
	ImageURLs []string
	Intent    Intent
}
