// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

// dedupTTL is how long a webhook message id is remembered
const dedupTTL = 24 * time.Hour

// IntakeConfig controls the batching queue
type IntakeConfig struct {
	// BatchingEnabled=false processes every event immediately as its own turn
	BatchingEnabled bool

	// QuietWindow is how long a sender must stay silent before a sweep picks the batch up
	QuietWindow time.Duration
}

// Dispatcher orchestrates webhook intake: decode, dedup, resolve, then
// either enqueue for batching or run the turn directly.
// Fire & Forget: the HTTP handler has already answered 200.
type Dispatcher struct {
	decoder  ports.WebhookDecoder
	dedup    ports.DedupRepository
	resolver *Resolver
	pending  ports.PendingMessageRepository
	turns    TurnProcessor
	cfg      IntakeConfig
	now      func() time.Time
}

// NewDispatcher creates a new dispatcher instance with dependencies injected
func NewDispatcher(
	decoder ports.WebhookDecoder,
	dedup ports.DedupRepository,
	resolver *Resolver,
	pending ports.PendingMessageRepository,
	turns TurnProcessor,
	cfg IntakeConfig,
) *Dispatcher {
	return &Dispatcher{
		decoder:  decoder,
		dedup:    dedup,
		resolver: resolver,
		pending:  pending,
		turns:    turns,
		cfg:      cfg,
		now:      time.Now,
	}
}

// IntakeStats summarizes one webhook
type IntakeStats struct {
	Enqueued int
	Direct   int
	Skipped  int
	Failed   int
}

// ProcessWebhook processes an incoming platform webhook payload.
// Never panics: a failure in one event does not affect the others.
func (d *Dispatcher) ProcessWebhook(ctx context.Context, platform domain.Platform, payload []byte) (stats IntakeStats) {
	// ========================================================================
	// Panic recovery: one malformed payload must not take the process down
	// ========================================================================
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in ProcessWebhook",
				"panic", r,
				"platform", platform,
			)
		}
	}()

	// ========================================================================
	// Step 1: Decode and normalize (echo/delivery/read are dropped here)
	// ========================================================================
	events, err := d.decoder.Decode(platform, payload)
	if err != nil {
		slog.Error("Failed to parse webhook JSON",
			"error", err,
			"platform", platform,
		)
		return stats
	}

	// ========================================================================
	// Step 2: Process each event; the platform batches several per call
	// ========================================================================
	for i := range events {
		direct, err := d.processEvent(ctx, &events[i])
		switch {
		case errors.Is(err, errSkipped):
			stats.Skipped++
		case err != nil:
			stats.Failed++
			slog.Error("Failed to process event",
				"error", err,
				"platform", platform,
				"message_id", events[i].MessageID,
			)
		case direct:
			stats.Direct++
		default:
			stats.Enqueued++
		}
	}

	slog.Info("Webhook processing completed",
		"platform", platform,
		"enqueued", stats.Enqueued,
		"direct", stats.Direct,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats
}

// errSkipped marks events that are intentionally dropped (duplicates, unknown tenants)
var errSkipped = errors.New("event skipped")

// processEvent handles a single normalized event; direct reports whether
// the turn ran immediately instead of being queued
func (d *Dispatcher) processEvent(ctx context.Context, ev *domain.InboundEvent) (direct bool, err error) {
	// ========================================================================
	// Step 1: Deduplication (SET NX). Redis failure does not block intake.
	// ========================================================================
	if key := ev.DedupKey(); key != "" {
		first, err := d.dedup.MarkIfFirstSeen(ctx, key, dedupTTL)
		if err != nil {
			slog.Warn("Dedup unavailable, processing anyway", "error", err, "event_id", key)
		} else if !first {
			return false, errSkipped
		}
	}

	// ========================================================================
	// Step 2: Resolve tenant; unknown or inactive accounts are dropped
	// ========================================================================
	tenant, err := d.resolver.ResolveTenant(ctx, ev.Platform, ev.AccountID)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Warn("No active tenant for account, dropping event",
			"platform", ev.Platform,
			"account_id", ev.AccountID,
		)
		return false, errSkipped
	}
	if err != nil {
		return false, fmt.Errorf("resolve tenant: %w", err)
	}

	// ========================================================================
	// Step 3: Resolve customer and capture a phone number if present
	// ========================================================================
	customer, err := d.resolver.ResolveCustomer(ctx, tenant, ev.Platform, ev.SenderID)
	if err != nil {
		return false, fmt.Errorf("resolve customer: %w", err)
	}
	d.resolver.CapturePhone(ctx, customer, ev.Text)

	// ========================================================================
	// Step 4: Direct path (batching off, or a comment needing a private reply)
	// ========================================================================
	if !d.cfg.BatchingEnabled || ev.Kind == domain.EventKindComment {
		in := TurnInput{
			Tenant:   tenant,
			Customer: customer,
			Platform: ev.Platform,
			Target:   domain.SendTarget{RecipientID: ev.SenderID, CommentID: ev.CommentID},
			Text:     ev.Text,
		}
		if ev.IsImage() {
			in.ImageURLs = []string{ev.AttachmentURL}
		}
		d.turns.ProcessTurn(ctx, in)
		return true, nil
	}

	// ========================================================================
	// Step 5: Enqueue for the batching sweep
	// ========================================================================
	now := d.now()
	msg := &domain.PendingMessage{
		TenantID:     tenant.ID,
		CustomerID:   customer.ID,
		Platform:     ev.Platform,
		SenderID:     ev.SenderID,
		Kind:         domain.MessageKindText,
		Content:      ev.Text,
		AccessToken:  tenant.AccessToken(ev.Platform),
		ExternalID:   domain.StringPtr(ev.MessageID),
		ProcessAfter: now.Add(d.cfg.QuietWindow),
		CreatedAt:    now,
	}
	if ev.IsImage() {
		msg.Kind = domain.MessageKindImage
		msg.ImageURL = &ev.AttachmentURL
	}
	if err := d.pending.Enqueue(ctx, msg); err != nil {
		return false, fmt.Errorf("enqueue message: %w", err)
	}

	slog.Debug("Message enqueued",
		"tenant_id", tenant.ID,
		"customer_id", customer.ID,
		"kind", msg.Kind,
		"process_after", msg.ProcessAfter,
	)
	return false, nil
}
