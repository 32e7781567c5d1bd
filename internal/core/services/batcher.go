package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

// BatcherConfig tunes the sweep
type BatcherConfig struct {
	// MaxBatchWait defers no longer than this even while the sender keeps typing
	MaxBatchWait time.Duration

	// SweepLimit caps due messages loaded per sweep
	SweepLimit int

	// SweepConcurrency caps batches processed in parallel
	SweepConcurrency int

	// PendingRetention keeps processed rows this long before purge
	PendingRetention time.Duration

	// PurgeChunk is the row limit of one DELETE
	PurgeChunk int
}

// SweepResult is returned by the cron endpoint as {processed, batches}
type SweepResult struct {
	Processed int `json:"processed"`
	Batches   int `json:"batches"`
}

// Batcher drains the pending queue into logical turns
type Batcher struct {
	pending   ports.PendingMessageRepository
	tenants   ports.TenantRepository
	customers ports.CustomerRepository
	turns     TurnProcessor
	metrics   ports.Metrics
	cfg       BatcherConfig
	now       func() time.Time
}

// NewBatcher creates the sweep service
func NewBatcher(
	pending ports.PendingMessageRepository,
	tenants ports.TenantRepository,
	customers ports.CustomerRepository,
	turns TurnProcessor,
	metrics ports.Metrics,
	cfg BatcherConfig,
) *Batcher {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 500
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 4
	}
	if cfg.PurgeChunk <= 0 {
		cfg.PurgeChunk = 1000
	}
	return &Batcher{
		pending:   pending,
		tenants:   tenants,
		customers: customers,
		turns:     turns,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// pendingGroup is the due messages of one sender
type pendingGroup struct {
	key      domain.SenderKey
	messages []domain.PendingMessage
}

// Sweep processes every due sender batch once. Overlapping sweeps are
// safe: the claim decides which sweep owns a message.
func (b *Batcher) Sweep(ctx context.Context) (SweepResult, error) {
	now := b.now()

	// ========================================================================
	// Step 1: Load due messages and senders still inside their quiet window
	// ========================================================================
	due, err := b.pending.ListDue(ctx, now, b.cfg.SweepLimit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due: %w", err)
	}
	if len(due) == 0 {
		return SweepResult{}, nil
	}

	waiting, err := b.pending.ListWaitingSenders(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list waiting senders: %w", err)
	}
	stillTyping := make(map[domain.SenderKey]bool, len(waiting))
	for _, k := range waiting {
		stillTyping[k] = true
	}

	// ========================================================================
	// Step 2: Group by sender, defer groups whose sender is still typing
	// ========================================================================
	groups := groupBySender(due)
	ready := groups[:0]
	for _, g := range groups {
		if stillTyping[g.key] && now.Sub(g.messages[0].CreatedAt) < b.cfg.MaxBatchWait {
			slog.Debug("Sender still typing, deferring batch",
				"tenant_id", g.key.TenantID,
				"sender_id", g.key.SenderID,
				"messages", len(g.messages),
			)
			continue
		}
		ready = append(ready, g)
	}

	// ========================================================================
	// Step 3: Claim and process groups with bounded concurrency
	// ========================================================================
	claimed := make([]int, len(ready))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.cfg.SweepConcurrency)
	for i, g := range ready {
		eg.Go(func() error {
			claimed[i] = b.processGroup(egCtx, g)
			return nil
		})
	}
	_ = eg.Wait()

	var result SweepResult
	for _, n := range claimed {
		if n > 0 {
			result.Processed += n
			result.Batches++
		}
	}
	b.metrics.AddClaimed(result.Processed, result.Batches)

	slog.Info("Sweep completed",
		"due", len(due),
		"groups", len(groups),
		"processed", result.Processed,
		"batches", result.Batches,
	)
	return result, nil
}

// processGroup claims one sender batch and runs it as a turn.
// Returns the number of messages this call claimed.
func (b *Batcher) processGroup(ctx context.Context, g pendingGroup) (claimedCount int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in batch processing",
				"panic", r,
				"tenant_id", g.key.TenantID,
				"sender_id", g.key.SenderID,
			)
		}
	}()

	ids := make([]int64, len(g.messages))
	for i, m := range g.messages {
		ids[i] = m.ID
	}

	// Claim before any AI work; an empty claim means another sweep owns it
	claimed, err := b.pending.Claim(ctx, ids)
	if err != nil {
		slog.Error("Failed to claim batch", "error", err, "tenant_id", g.key.TenantID)
		return 0
	}
	if len(claimed) == 0 {
		return 0
	}
	claimedCount = len(claimed)

	first := claimed[0]
	tenant, err := b.tenants.GetByID(ctx, first.TenantID)
	if err != nil {
		slog.Error("Failed to load tenant for batch", "error", err, "tenant_id", first.TenantID)
		return claimedCount
	}
	if !tenant.IsActive {
		slog.Info("Tenant inactive, dropping claimed batch",
			"tenant_id", first.TenantID,
			"customer_id", first.CustomerID,
			"messages", claimedCount,
		)
		return claimedCount
	}
	customer, err := b.customers.GetByID(ctx, first.TenantID, first.CustomerID)
	if err != nil {
		slog.Error("Failed to load customer for batch", "error", err, "customer_id", first.CustomerID)
		return claimedCount
	}

	text, images := MergeBatch(claimed)
	b.turns.ProcessTurn(ctx, TurnInput{
		Tenant:    tenant,
		Customer:  customer,
		Platform:  first.Platform,
		Target:    domain.SendTarget{RecipientID: first.SenderID},
		Text:      text,
		ImageURLs: images,
	})
	return claimedCount
}

// Purge deletes processed messages older than PendingRetention in chunks
func (b *Batcher) Purge(ctx context.Context) (int64, error) {
	cutoff := b.now().Add(-b.cfg.PendingRetention)
	var total int64
	for {
		n, err := b.pending.PurgeProcessed(ctx, cutoff, b.cfg.PurgeChunk)
		total += n
		if err != nil {
			return total, fmt.Errorf("purge pending: %w", err)
		}
		if n < int64(b.cfg.PurgeChunk) {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	if total > 0 {
		slog.Info("Purged processed pending messages", "count", total, "cutoff", cutoff)
	}
	return total, nil
}

// groupBySender splits messages into per-sender groups, each ordered by
// created_at. Groups are ordered by their oldest message.
func groupBySender(messages []domain.PendingMessage) []pendingGroup {
	index := make(map[domain.SenderKey]int)
	var groups []pendingGroup
	for _, m := range messages {
		k := m.Key()
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, pendingGroup{key: k})
		}
		groups[i].messages = append(groups[i].messages, m)
	}
	for i := range groups {
		sortByCreated(groups[i].messages)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].messages[0].CreatedAt.Before(groups[j].messages[0].CreatedAt)
	})
	return groups
}

// MergeBatch joins text parts with a single space in created_at order and
// collects image URLs in the same order
func MergeBatch(messages []domain.PendingMessage) (string, []string) {
	ordered := make([]domain.PendingMessage, len(messages))
	copy(ordered, messages)
	sortByCreated(ordered)

	var parts, images []string
	for _, m := range ordered {
		if t := strings.TrimSpace(m.Content); t != "" {
			parts = append(parts, t)
		}
		if m.ImageURL != nil && *m.ImageURL != "" {
			images = append(images, *m.ImageURL)
		}
	}
	return strings.Join(parts, " "), images
}

func sortByCreated(messages []domain.PendingMessage) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}
