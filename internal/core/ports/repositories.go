// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"storefront-chat/internal/core/domain"
)

// TenantRepository resolves shops by their connected platform accounts
type TenantRepository interface {
	// GetByPlatformAccount returns the active tenant for (platform, account id)
	// Returns domain.ErrNotFound when missing or inactive
	GetByPlatformAccount(ctx context.Context, platform domain.Platform, accountID string) (*domain.Tenant, error)

	// GetByID returns a tenant regardless of platform
	GetByID(ctx context.Context, tenantID int64) (*domain.Tenant, error)

	// GetKnowledge returns FAQs, quick-reply triggers and slogans
	GetKnowledge(ctx context.Context, tenantID int64) (*domain.KnowledgeBase, error)

	// DeactivatePlatform clears a platform token after the platform rejected it
	DeactivatePlatform(ctx context.Context, tenantID int64, platform domain.Platform) error
}

// CustomerRepository handles per-tenant customer records
// Unique (tenant_id, platform_user_id)
type CustomerRepository interface {
	GetByPlatformUser(ctx context.Context, tenantID int64, platformUserID string) (*domain.Customer, error)
	GetByID(ctx context.Context, tenantID, customerID int64) (*domain.Customer, error)

	// Create inserts the customer or returns the existing row on a unique-key race
	Create(ctx context.Context, customer *domain.Customer) (*domain.Customer, error)

	UpdateName(ctx context.Context, tenantID, customerID int64, name string) error

	// SetPhoneIfEmpty never overwrites an existing phone
	SetPhoneIfEmpty(ctx context.Context, tenantID, customerID int64, phone string) (bool, error)

	UpdateContact(ctx context.Context, tenantID, customerID int64, phone, address *string) error
	SetAIPausedUntil(ctx context.Context, tenantID, customerID int64, until *time.Time) error
	IncrementMessageCount(ctx context.Context, tenantID, customerID int64) error
	IncrementOrderCount(ctx context.Context, tenantID, customerID int64) error
	SetMemory(ctx context.Context, tenantID, customerID int64, key, value string) error
}

// PendingMessageRepository is the durable batching queue
type PendingMessageRepository interface {
	// Enqueue persists an inbound message with its quiet-window deadline
	Enqueue(ctx context.Context, msg *domain.PendingMessage) error

	// ListDue returns unprocessed messages with process_after <= now, oldest first
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.PendingMessage, error)

	// ListWaitingSenders returns senders that still have a message inside its quiet window
	ListWaitingSenders(ctx context.Context, now time.Time) ([]domain.SenderKey, error)

	// Claim atomically flips processed=false->true for the given ids
	// Returns only the messages this call claimed, ordered by created_at
	Claim(ctx context.Context, ids []int64) ([]domain.PendingMessage, error)

	// PurgeProcessed deletes processed messages created before the cutoff
	PurgeProcessed(ctx context.Context, before time.Time, limit int) (int64, error)
}

// ChatHistoryRepository stores one row per logical turn
type ChatHistoryRepository interface {
	Append(ctx context.Context, entry *domain.ChatHistoryEntry) error

	// Recent returns the newest entries first
	Recent(ctx context.Context, tenantID, customerID int64, limit int) ([]domain.ChatHistoryEntry, error)

	PurgeOlderThan(ctx context.Context, before time.Time, limit int) (int64, error)
}

// ProductRepository reads the tenant catalog
type ProductRepository interface {
	ListActive(ctx context.Context, tenantID int64) ([]domain.Product, error)
	GetByID(ctx context.Context, tenantID, productID int64) (*domain.Product, error)
}

// CartRepository mutates the single active cart of a customer
// Stock re-checks happen inside the repository transaction
type CartRepository interface {
	// GetActive returns an empty cart (ID 0) when the customer has none
	GetActive(ctx context.Context, tenantID, customerID int64) (*domain.Cart, error)

	// AddItem re-reads product availability under lock and fails with
	// domain.ErrInsufficientStock rather than overselling
	AddItem(ctx context.Context, tenantID, customerID, productID int64, variant *string, quantity int) (*domain.Cart, error)

	// RemoveItem removes quantity (0 = all); removing the last item deletes the cart
	RemoveItem(ctx context.Context, tenantID, customerID, productID int64, variant *string, quantity int) (*domain.Cart, error)
}

// OrderRepository converts carts into orders
type OrderRepository interface {
	// Checkout creates the order, decrements stock and deletes the cart in one transaction
	// On any error the cart is left untouched
	Checkout(ctx context.Context, tenantID, customerID int64, details domain.CheckoutDetails) (*domain.Order, error)

	// Cancel marks a pending or confirmed order cancelled and returns its
	// items to stock in one transaction
	Cancel(ctx context.Context, tenantID int64, orderNumber string) (*domain.Order, error)
}

// DedupRepository handles deduplication of webhook events using cache
type DedupRepository interface {
	// MarkIfFirstSeen atomically records the event id (SET NX)
	// Returns false when the event was already seen
	MarkIfFirstSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// UsageRepository tracks per-tenant monthly AI usage
type UsageRepository interface {
	IncrementMonthly(ctx context.Context, tenantID int64, now time.Time) (int64, error)
	MonthlyCount(ctx context.Context, tenantID int64, now time.Time) (int64, error)
}
