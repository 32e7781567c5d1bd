// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"strings"
	"time"
)

// Platform identifies the messaging platform a tenant account lives on
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// Emotion is the AI personality configured by the shop
type Emotion string

const (
	EmotionFriendly     Emotion = "friendly"
	EmotionProfessional Emotion = "professional"
	EmotionEnthusiastic Emotion = "enthusiastic"
	EmotionCalm         Emotion = "calm"
	EmotionPlayful      Emotion = "playful"
)

// Tenant represents a shop connected to Facebook and/or Instagram
// Soft-disabled via IsActive, never hard-deleted by the pipeline
type Tenant struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Platform credentials (per-platform account id + access token)
	FacebookPageID     *string `json:"facebook_page_id,omitempty" db:"facebook_page_id"`
	FacebookPageToken  *string `json:"-" db:"facebook_page_token"` // Never expose in JSON
	InstagramAccountID *string `json:"instagram_account_id,omitempty" db:"instagram_account_id"`
	InstagramToken     *string `json:"-" db:"instagram_token"`

	IsActive bool `json:"is_active" db:"is_active"`

	// AI configuration
	IsAIActive      bool              `json:"is_ai_active" db:"is_ai_active"`
	AIEmotion       Emotion           `json:"ai_emotion" db:"ai_emotion"`
	AIInstructions  string            `json:"ai_instructions" db:"ai_instructions"`
	CustomKnowledge map[string]string `json:"custom_knowledge,omitempty" db:"custom_knowledge"` // JSON field
	Policies        Policies          `json:"policies" db:"policies"`                           // JSON field

	Notifications NotificationPreferences `json:"notifications" db:"notification_settings"` // JSON field
	PlanCode      string                  `json:"plan" db:"plan"`                           // "free", "starter", "pro", "enterprise"
	CreatedAt     time.Time               `json:"created_at" db:"created_at"`
}

// AccountID returns the platform account id the tenant is connected with
func (t *Tenant) AccountID(p Platform) string {
	switch p {
	case PlatformFacebook:
		return deref(t.FacebookPageID)
	case PlatformInstagram:
		return deref(t.InstagramAccountID)
	}
	return ""
}

// AccessToken returns the token used to reply on the given platform.
// Instagram messaging goes through the linked page token when no
// dedicated Instagram token was stored.
func (t *Tenant) AccessToken(p Platform) string {
	switch p {
	case PlatformFacebook:
		return deref(t.FacebookPageToken)
	case PlatformInstagram:
		if tok := deref(t.InstagramToken); tok != "" {
			return tok
		}
		return deref(t.FacebookPageToken)
	}
	return ""
}

// Policies is the shop's policy set fed to the AI
type Policies struct {
	Shipping string `json:"shipping,omitempty"`
	Return   string `json:"return,omitempty"`
	Payment  string `json:"payment,omitempty"`
	Warranty string `json:"warranty,omitempty"`
}

// NotificationPreferences holds per-event-type staff notification switches
type NotificationPreferences struct {
	NewOrder        bool `json:"new_order"`
	ContactCaptured bool `json:"contact_captured"`
	HumanSupport    bool `json:"human_support"`
	OrderCancelled  bool `json:"order_cancelled"`
}

// Allows reports whether the tenant wants notifications of the given kind
func (p NotificationPreferences) Allows(kind NotificationKind) bool {
	switch kind {
	case NotificationNewOrder:
		return p.NewOrder
	case NotificationContactCaptured:
		return p.ContactCaptured
	case NotificationHumanSupport:
		return p.HumanSupport
	case NotificationOrderCancelled:
		return p.OrderCancelled
	}
	return false
}

// Plan is a resolved subscription tier
// Resolved per request: plans can change between requests
type Plan struct {
	Code            string `json:"code" yaml:"code"`
	ChatModel       string `json:"chat_model" yaml:"chat_model"`
	VisionModel     string `json:"vision_model" yaml:"vision_model"`
	MaxOutputTokens int    `json:"max_output_tokens" yaml:"max_output_tokens"`
	MonthlyMessages int64  `json:"monthly_messages" yaml:"monthly_messages"` // 0 = unlimited
	ImageMatching   bool   `json:"image_matching" yaml:"image_matching"`
}

// Customer represents an end customer talking to a shop
// Unique per (tenant_id, platform_user_id)
type Customer struct {
	ID             int64             `json:"id" db:"id"`
	TenantID       int64             `json:"tenant_id" db:"tenant_id"`
	Platform       Platform          `json:"platform" db:"platform"`
	PlatformUserID string            `json:"platform_user_id" db:"platform_user_id"` // PSID / IGSID
	Name           *string           `json:"name,omitempty" db:"name"`               // Backfilled lazily from profile
	Phone          *string           `json:"phone,omitempty" db:"phone"`             // Best-effort, parsed from text
	Address        *string           `json:"address,omitempty" db:"address"`
	AIPausedUntil  *time.Time        `json:"ai_paused_until,omitempty" db:"ai_paused_until"` // Staff takeover
	MessageCount   int               `json:"message_count" db:"message_count"`
	OrderCount     int               `json:"order_count" db:"order_count"`
	Tags           []string          `json:"tags,omitempty" db:"tags"` // JSON field
	IsVIP          bool              `json:"is_vip" db:"is_vip"`
	Memory         map[string]string `json:"memory,omitempty" db:"memory"` // JSON field, long-term preferences
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      *time.Time        `json:"updated_at,omitempty" db:"updated_at"`
}

// IsAIPaused reports whether staff currently holds the conversation
func (c *Customer) IsAIPaused(now time.Time) bool {
	return c.AIPausedUntil != nil && c.AIPausedUntil.After(now)
}

// DisplayName returns the customer name or an empty string
func (c *Customer) DisplayName() string {
	return deref(c.Name)
}

// MessageKind constants
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
)

// PendingMessage is one inbound message waiting for the batching sweep
// processed=true is terminal: never reprocessed, later garbage collected
type PendingMessage struct {
	ID           int64       `json:"id" db:"id"`
	TenantID     int64       `json:"tenant_id" db:"tenant_id"`
	CustomerID   int64       `json:"customer_id" db:"customer_id"`
	Platform     Platform    `json:"platform" db:"platform"`
	SenderID     string      `json:"sender_id" db:"sender_id"`
	Kind         MessageKind `json:"kind" db:"message_type"`
	Content      string      `json:"content" db:"content"`
	ImageURL     *string     `json:"image_url,omitempty" db:"image_url"`
	AccessToken  string      `json:"-" db:"access_token"` // Snapshot at intake time
	ExternalID   *string     `json:"external_id,omitempty" db:"external_msg_id"`
	Processed    bool        `json:"processed" db:"processed"`
	ProcessAfter time.Time   `json:"process_after" db:"process_after"` // Quiet-window deadline
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// SenderKey groups pending messages into one logical turn
type SenderKey struct {
	TenantID int64
	SenderID string
}

// Key returns the batching key of the message
func (m *PendingMessage) Key() SenderKey {
	return SenderKey{TenantID: m.TenantID, SenderID: m.SenderID}
}

// ChatHistoryEntry is one logical turn: merged user input and single AI output
// Append-only
type ChatHistoryEntry struct {
	ID          int64     `json:"id" db:"id"`
	TenantID    int64     `json:"tenant_id" db:"tenant_id"`
	CustomerID  int64     `json:"customer_id" db:"customer_id"`
	UserMessage string    `json:"user_message" db:"user_message"`
	AIResponse  string    `json:"ai_response" db:"ai_response"`
	Intent      Intent    `json:"intent" db:"intent"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ProductVariant carries its own stock (e.g. "M / Хар")
type ProductVariant struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

// Product is a tenant-scoped catalog entry
// available = stock - reserved_stock >= 0 at all times
type Product struct {
	ID              int64            `json:"id" db:"id"`
	TenantID        int64            `json:"tenant_id" db:"tenant_id"`
	Name            string           `json:"name" db:"name"`
	Description     *string          `json:"description,omitempty" db:"description"`
	Price           float64          `json:"price" db:"price"`
	Stock           int              `json:"stock" db:"stock"`
	ReservedStock   int              `json:"reserved_stock" db:"reserved_stock"`
	DiscountPercent *float64         `json:"discount_percent,omitempty" db:"discount_percent"`
	ImageURL        *string          `json:"image_url,omitempty" db:"image_url"`
	Category        *string          `json:"category,omitempty" db:"category"`
	Variants        []ProductVariant `json:"variants,omitempty" db:"variants"` // JSON field
	IsActive        bool             `json:"is_active" db:"is_active"`
}

// Available returns the quantity that can still be sold
func (p *Product) Available() int {
	if a := p.Stock - p.ReservedStock; a > 0 {
		return a
	}
	return 0
}

// EffectivePrice returns the unit price after discount
func (p *Product) EffectivePrice() float64 {
	if p.DiscountPercent == nil || *p.DiscountPercent <= 0 {
		return p.Price
	}
	return p.Price * (100 - *p.DiscountPercent) / 100
}

// Variant finds a variant by case-insensitive name
func (p *Product) Variant(name string) (*ProductVariant, bool) {
	for i := range p.Variants {
		if strings.EqualFold(p.Variants[i].Name, name) {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// Cart is the single active cart of a (tenant, customer)
// Removing the last item deletes the cart
type Cart struct {
	ID         int64      `json:"id" db:"id"`
	TenantID   int64      `json:"tenant_id" db:"tenant_id"`
	CustomerID int64      `json:"customer_id" db:"customer_id"`
	Items      []CartItem `json:"items"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Total returns the cart value with price snapshots
func (c *Cart) Total() float64 {
	var total float64
	for _, it := range c.Items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return total
}

// IsEmpty reports whether the cart has no items
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// CartItem quantity is always > 0
type CartItem struct {
	ID          int64   `json:"id" db:"id"`
	CartID      int64   `json:"cart_id" db:"cart_id"`
	ProductID   int64   `json:"product_id" db:"product_id"`
	ProductName string  `json:"product_name" db:"product_name"`
	Quantity    int     `json:"quantity" db:"quantity"`
	UnitPrice   float64 `json:"unit_price" db:"unit_price"` // Snapshot when added
	Variant     *string `json:"variant,omitempty" db:"variant"`
}

// OrderStatus lifecycle: pending -> confirmed -> processing -> shipped -> delivered, or cancelled
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Cancellable reports whether the order has not entered fulfilment yet
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed
}

// Order is created transactionally from a cart at checkout
// TotalAmount is fixed at creation and never recomputed
type Order struct {
	ID              int64       `json:"id" db:"id"`
	OrderNumber     string      `json:"order_number" db:"order_number"`
	TenantID        int64       `json:"tenant_id" db:"tenant_id"`
	CustomerID      int64       `json:"customer_id" db:"customer_id"`
	Status          OrderStatus `json:"status" db:"status"`
	TotalAmount     float64     `json:"total_amount" db:"total_amount"`
	Notes           *string     `json:"notes,omitempty" db:"notes"`
	Phone           *string     `json:"phone,omitempty" db:"phone"`
	ShippingAddress *string     `json:"shipping_address,omitempty" db:"shipping_address"`
	Items           []OrderItem `json:"items"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       *time.Time  `json:"updated_at,omitempty" db:"updated_at"`
}

// OrderItem carries the price at time of order (immutable)
type OrderItem struct {
	ID          int64   `json:"id" db:"id"`
	OrderID     int64   `json:"order_id" db:"order_id"`
	ProductID   int64   `json:"product_id" db:"product_id"`
	ProductName string  `json:"product_name" db:"product_name"`
	Quantity    int     `json:"quantity" db:"quantity"`
	UnitPrice   float64 `json:"unit_price" db:"unit_price"`
	Variant     *string `json:"variant,omitempty" db:"variant"`
}

// CheckoutDetails is what the customer supplied when confirming an order
type CheckoutDetails struct {
	OrderNumber string
	Phone       *string
	Address     *string
	Notes       *string
}

// FAQ is a shop-authored question/answer pair
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QuickReplyTrigger answers a keyword without calling the model
type QuickReplyTrigger struct {
	Keywords []string `json:"keywords"`
	Response string   `json:"response"`
}

// KnowledgeBase groups the shop-authored content fed to the AI
type KnowledgeBase struct {
	FAQs         []FAQ               `json:"faqs"`
	QuickReplies []QuickReplyTrigger `json:"quick_replies"`
	Slogans      []string            `json:"slogans"`
}

// Profile is the public platform profile of a customer
type Profile struct {
	Name string `json:"name"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to s, or nil when s is blank
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
