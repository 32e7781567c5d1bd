package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storefront-chat/internal/core/domain"
)

func newTestBatcher(pending *memPending, turns TurnProcessor, cfg BatcherConfig) *Batcher {
	customers := newMemCustomers(
		&domain.Customer{ID: 10, TenantID: 1, PlatformUserID: "PSID_1"},
		&domain.Customer{ID: 11, TenantID: 1, PlatformUserID: "PSID_2"},
		&domain.Customer{ID: 12, TenantID: 1, PlatformUserID: "PSID_3"},
	)
	return NewBatcher(pending, newMemTenants(testTenant()), customers, turns, nil, cfg)
}

func enqueue(t *testing.T, pending *memPending, customerID int64, sender, text string, created, processAfter time.Time) {
	t.Helper()
	require.NoError(t, pending.Enqueue(context.Background(), &domain.PendingMessage{
		TenantID:     1,
		CustomerID:   customerID,
		Platform:     domain.PlatformFacebook,
		SenderID:     sender,
		Kind:         domain.MessageKindText,
		Content:      text,
		AccessToken:  "snapshot-token",
		ProcessAfter: processAfter,
		CreatedAt:    created,
	}))
}

func TestSweep_MergesBurstIntoOneTurn(t *testing.T) {
	now := time.Now()
	pending := newMemPending()
	enqueue(t, pending, 10, "PSID_1", "Сайн байна уу", now.Add(-9*time.Second), now.Add(-4*time.Second))
	enqueue(t, pending, 10, "PSID_1", "цамц байгаа юу", now.Add(-8*time.Second), now.Add(-3*time.Second))
	enqueue(t, pending, 10, "PSID_1", "M размер", now.Add(-7*time.Second), now.Add(-2*time.Second))

	turns := &recordingTurns{}
	b := newTestBatcher(pending, turns, BatcherConfig{MaxBatchWait: time.Minute})

	result, err := b.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 3, Batches: 1}, result)
	got := turns.all()
	require.Len(t, got, 1)
	assert.Equal(t, "Сайн байна уу цамц байгаа юу M размер", got[0].Text)
	assert.Equal(t, domain.SendTarget{RecipientID: "PSID_1"}, got[0].Target)
	assert.Equal(t, "page-token", got[0].Tenant.AccessToken(domain.PlatformFacebook), "the tenant's current token wins over the snapshot")
	assert.Equal(t, int64(10), got[0].Customer.ID)
}

func TestSweep_DefersSenderStillTyping(t *testing.T) {
	now := time.Now()
	pending := newMemPending()
	enqueue(t, pending, 10, "PSID_1", "нэг", now.Add(-10*time.Second), now.Add(-5*time.Second))
	enqueue(t, pending, 10, "PSID_1", "хоёр", now.Add(-time.Second), now.Add(4*time.Second))
	enqueue(t, pending, 11, "PSID_2", "сайн уу", now.Add(-10*time.Second), now.Add(-5*time.Second))

	turns := &recordingTurns{}
	b := newTestBatcher(pending, turns, BatcherConfig{MaxBatchWait: time.Minute})

	result, err := b.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 1, Batches: 1}, result)
	got := turns.all()
	require.Len(t, got, 1)
	assert.Equal(t, "сайн уу", got[0].Text)
}

func TestSweep_MaxBatchWaitPreventsStarvation(t *testing.T) {
	now := time.Now()
	pending := newMemPending()
	enqueue(t, pending, 10, "PSID_1", "эхний", now.Add(-2*time.Minute), now.Add(-2*time.Minute+5*time.Second))
	enqueue(t, pending, 10, "PSID_1", "дараагийн", now.Add(-time.Second), now.Add(4*time.Second))

	turns := &recordingTurns{}
	b := newTestBatcher(pending, turns, BatcherConfig{MaxBatchWait: time.Minute})

	result, err := b.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	require.Len(t, turns.all(), 1)
	assert.Equal(t, "эхний", turns.all()[0].Text)
}

func TestSweep_InactiveTenantGetsNoReply(t *testing.T) {
	now := time.Now()
	routed := 0
	f := newPipelineFixture(func(context.Context, domain.Turn) (*domain.Reply, error) {
		routed++
		return &domain.Reply{Text: "should not be sent"}, nil
	}, PipelineConfig{})
	f.tenant.IsActive = false

	pending := newMemPending()
	enqueue(t, pending, 10, "PSID_1", "цамц байгаа юу", now.Add(-9*time.Second), now.Add(-4*time.Second))
	b := NewBatcher(pending, f.tenants, f.customers, f.pipeline, nil, BatcherConfig{MaxBatchWait: time.Minute})

	result, err := b.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, SweepResult{Processed: 1, Batches: 1}, result, "the batch is claimed and dropped")
	assert.Equal(t, 1, pending.processedCount())
	assert.Zero(t, routed, "AI must not be called for an inactive tenant")
	f.messenger.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.messenger.AssertNotCalled(t, "SendAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.history.all())
}

func TestSweep_NothingDue(t *testing.T) {
	b := newTestBatcher(newMemPending(), &recordingTurns{}, BatcherConfig{})

	result, err := b.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
}

func TestSweep_ConcurrentSweepsClaimEachMessageOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	now := time.Now()
	pending := newMemPending()
	for i, sender := range []string{"PSID_1", "PSID_2", "PSID_3"} {
		customerID := int64(10 + i)
		for j := 0; j < 4; j++ {
			created := now.Add(-time.Duration(30-j) * time.Second)
			enqueue(t, pending, customerID, sender, "msg", created, created.Add(5*time.Second))
		}
	}

	turns := &recordingTurns{}
	b := newTestBatcher(pending, turns, BatcherConfig{MaxBatchWait: time.Minute, SweepConcurrency: 2})

	const sweeps = 8
	results := make([]SweepResult, sweeps)
	var wg sync.WaitGroup
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := b.Sweep(context.Background())
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	var processed, batches int
	for _, r := range results {
		processed += r.Processed
		batches += r.Batches
	}
	assert.Equal(t, 12, processed, "every message is claimed exactly once")
	assert.Equal(t, 12, pending.processedCount())

	got := turns.all()
	assert.Equal(t, 3, batches)
	require.Len(t, got, 3, "one turn per sender")
	for _, turn := range got {
		assert.Equal(t, "msg msg msg msg", turn.Text)
	}

	// A second round finds nothing left
	result, err := b.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
}

func TestMergeBatch_OrdersByCreatedAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	img := "https://cdn.example.com/a.jpg"
	messages := []domain.PendingMessage{
		{ID: 3, Content: "гурав", CreatedAt: base.Add(2 * time.Second)},
		{ID: 1, Content: "  нэг ", CreatedAt: base},
		{ID: 4, Kind: domain.MessageKindImage, ImageURL: &img, CreatedAt: base.Add(3 * time.Second)},
		{ID: 2, Content: "хоёр", CreatedAt: base},
	}

	text, images := MergeBatch(messages)

	assert.Equal(t, "нэг хоёр гурав", text)
	assert.Equal(t, []string{img}, images)
	assert.Equal(t, int64(3), messages[0].ID, "input slice is left untouched")
}

func TestGroupBySender(t *testing.T) {
	base := time.Now()
	messages := []domain.PendingMessage{
		{ID: 1, TenantID: 1, SenderID: "B", CreatedAt: base.Add(time.Second)},
		{ID: 2, TenantID: 1, SenderID: "A", CreatedAt: base.Add(2 * time.Second)},
		{ID: 3, TenantID: 1, SenderID: "A", CreatedAt: base},
		{ID: 4, TenantID: 2, SenderID: "A", CreatedAt: base.Add(3 * time.Second)},
	}

	groups := groupBySender(messages)

	require.Len(t, groups, 3)
	assert.Equal(t, domain.SenderKey{TenantID: 1, SenderID: "A"}, groups[0].key)
	assert.Equal(t, int64(3), groups[0].messages[0].ID)
	assert.Equal(t, int64(2), groups[0].messages[1].ID)
	assert.Equal(t, domain.SenderKey{TenantID: 1, SenderID: "B"}, groups[1].key)
	assert.Equal(t, domain.SenderKey{TenantID: 2, SenderID: "A"}, groups[2].key)
}

func TestPurge_DeletesProcessedInChunks(t *testing.T) {
	now := time.Now()
	pending := newMemPending()
	for i := 0; i < 5; i++ {
		enqueue(t, pending, 10, "PSID_1", "old", now.Add(-2*time.Hour), now.Add(-2*time.Hour))
	}
	enqueue(t, pending, 10, "PSID_1", "recent", now.Add(-time.Minute), now.Add(-time.Minute))
	_, err := pending.Claim(context.Background(), []int64{1, 2, 3, 4, 6})
	require.NoError(t, err)

	b := newTestBatcher(pending, &recordingTurns{}, BatcherConfig{PendingRetention: time.Hour, PurgeChunk: 2})
	n, err := b.Purge(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "unprocessed and recent rows are kept")
	due, _ := pending.ListDue(context.Background(), now, 10)
	assert.Len(t, due, 1)
}
