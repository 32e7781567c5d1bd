package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

// Delivery is a finished turn ready to be sent
type Delivery struct {
	Tenant      *domain.Tenant
	Customer    *domain.Customer
	Platform    domain.Platform
	Target      domain.SendTarget
	AccessToken string
	UserText    string
	Intent      domain.Intent
	Reply       *domain.Reply

	// CountUsage is false for fallback replies: no AI message was consumed
	CountUsage bool
}

// Responder sends replies and records the turn
type Responder struct {
	messenger ports.Messenger
	tenants   ports.TenantRepository
	history   ports.ChatHistoryRepository
	customers ports.CustomerRepository
	usage     ports.UsageRepository
	now       func() time.Time
}

// NewResponder creates the response dispatcher
func NewResponder(
	messenger ports.Messenger,
	tenants ports.TenantRepository,
	history ports.ChatHistoryRepository,
	customers ports.CustomerRepository,
	usage ports.UsageRepository,
) *Responder {
	return &Responder{
		messenger: messenger,
		tenants:   tenants,
		history:   history,
		customers: customers,
		usage:     usage,
		now:       time.Now,
	}
}

// Deliver sends the image action (best-effort), then the text, then writes
// exactly one history row and bumps counters. Send failures never prevent
// the history write. Returns the text send error, if any.
func (r *Responder) Deliver(ctx context.Context, d Delivery) error {
	// Step 1: Image action first; comment private replies allow a single message
	if d.Reply.ImageAction != nil && d.Target.CommentID == "" {
		for _, msg := range imageMessages(d.Reply.ImageAction) {
			if err := r.send(ctx, d, msg); err != nil {
				slog.Warn("Failed to send image action",
					"error", err,
					"tenant_id", d.Tenant.ID,
					"type", d.Reply.ImageAction.Type,
				)
				break
			}
		}
	}

	// Step 2: Text, with quick replies when present
	textErr := r.send(ctx, d, domain.Outbound{Text: d.Reply.Text, QuickReplies: d.Reply.QuickReplies})
	if textErr != nil {
		slog.Error("Failed to send reply",
			"error", textErr,
			"tenant_id", d.Tenant.ID,
			"customer_id", d.Customer.ID,
		)
	}

	// Step 3: One history row per logical turn
	entry := &domain.ChatHistoryEntry{
		TenantID:    d.Tenant.ID,
		CustomerID:  d.Customer.ID,
		UserMessage: d.UserText,
		AIResponse:  d.Reply.Text,
		Intent:      d.Intent,
		CreatedAt:   r.now(),
	}
	if err := r.history.Append(ctx, entry); err != nil {
		slog.Error("Failed to save chat history", "error", err, "customer_id", d.Customer.ID)
	}

	// Step 4: Counters
	if err := r.customers.IncrementMessageCount(ctx, d.Tenant.ID, d.Customer.ID); err != nil {
		slog.Warn("Failed to increment message count", "error", err, "customer_id", d.Customer.ID)
	}
	if d.CountUsage {
		if _, err := r.usage.IncrementMonthly(ctx, d.Tenant.ID, r.now()); err != nil {
			slog.Warn("Failed to increment usage", "error", err, "tenant_id", d.Tenant.ID)
		}
	}
	return textErr
}

func (r *Responder) send(ctx context.Context, d Delivery, msg domain.Outbound) error {
	err := r.messenger.Send(ctx, d.AccessToken, d.Target, msg)
	if errors.Is(err, domain.ErrTokenRejected) {
		if dErr := r.tenants.DeactivatePlatform(ctx, d.Tenant.ID, d.Platform); dErr != nil {
			slog.Error("Failed to deactivate platform", "error", dErr, "tenant_id", d.Tenant.ID)
		}
	}
	return err
}

// imageMessages renders an image action: single → one image per card,
// gallery/confirm → one generic template
func imageMessages(action *domain.ImageAction) []domain.Outbound {
	switch action.Type {
	case domain.ImageActionGallery, domain.ImageActionConfirm:
		var cards []domain.ProductCard
		for _, c := range action.Products {
			if c.ImageURL != "" {
				cards = append(cards, c)
			}
		}
		if len(cards) == 0 {
			return nil
		}
		return []domain.Outbound{{Gallery: cards, Confirm: action.Type == domain.ImageActionConfirm}}
	default:
		var out []domain.Outbound
		for _, c := range action.Products {
			if c.ImageURL != "" {
				out = append(out, domain.Outbound{ImageURL: c.ImageURL})
			}
		}
		return out
	}
}
