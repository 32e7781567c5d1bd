package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"storefront-chat/internal/core/domain"
)

// ============================================================================
// Mock Gateways
// ============================================================================

// MockMessenger mocks ports.Messenger
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Send(ctx context.Context, accessToken string, target domain.SendTarget, msg domain.Outbound) error {
	args := m.Called(ctx, accessToken, target, msg)
	return args.Error(0)
}

func (m *MockMessenger) SendAction(ctx context.Context, accessToken, recipientID string, action domain.SenderAction) error {
	args := m.Called(ctx, accessToken, recipientID, action)
	return args.Error(0)
}

// sent returns every outbound message passed to Send, in call order
func (m *MockMessenger) sent() []domain.Outbound {
	var out []domain.Outbound
	for _, c := range m.Calls {
		if c.Method == "Send" {
			out = append(out, c.Arguments.Get(3).(domain.Outbound))
		}
	}
	return out
}

// MockDedupRepository mocks ports.DedupRepository
type MockDedupRepository struct {
	mock.Mock
}

func (m *MockDedupRepository) MarkIfFirstSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, eventID, ttl)
	return args.Bool(0), args.Error(1)
}

// stubDecoder returns canned events instead of parsing JSON
type stubDecoder struct {
	events []domain.InboundEvent
	err    error
}

func (d stubDecoder) Decode(domain.Platform, []byte) ([]domain.InboundEvent, error) {
	return d.events, d.err
}

// routerFunc adapts a function to ports.TurnRouter
type routerFunc func(ctx context.Context, turn domain.Turn) (*domain.Reply, error)

func (f routerFunc) Route(ctx context.Context, turn domain.Turn) (*domain.Reply, error) {
	return f(ctx, turn)
}

// recordingTurns captures every turn handed to the pipeline
type recordingTurns struct {
	mu    sync.Mutex
	turns []TurnInput
}

func (r *recordingTurns) ProcessTurn(_ context.Context, in TurnInput) TurnOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, in)
	return OutcomeReplied
}

func (r *recordingTurns) all() []TurnInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TurnInput(nil), r.turns...)
}

// ============================================================================
// In-memory Repositories
// ============================================================================

type memTenants struct {
	mu          sync.Mutex
	byID        map[int64]*domain.Tenant
	deactivated []domain.Platform
}

func newMemTenants(tenants ...*domain.Tenant) *memTenants {
	r := &memTenants{byID: make(map[int64]*domain.Tenant)}
	for _, t := range tenants {
		r.byID[t.ID] = t
	}
	return r
}

func (r *memTenants) GetByPlatformAccount(_ context.Context, platform domain.Platform, accountID string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.AccountID(platform) == accountID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memTenants) GetByID(_ context.Context, tenantID int64) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTenants) GetKnowledge(context.Context, int64) (*domain.KnowledgeBase, error) {
	return &domain.KnowledgeBase{}, nil
}

func (r *memTenants) DeactivatePlatform(_ context.Context, tenantID int64, platform domain.Platform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivated = append(r.deactivated, platform)
	if t, ok := r.byID[tenantID]; ok && platform == domain.PlatformFacebook {
		t.FacebookPageToken = nil
	}
	return nil
}

type memCustomers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*domain.Customer
}

func newMemCustomers(customers ...*domain.Customer) *memCustomers {
	r := &memCustomers{byID: make(map[int64]*domain.Customer)}
	for _, c := range customers {
		r.byID[c.ID] = c
		if c.ID > r.nextID {
			r.nextID = c.ID
		}
	}
	return r
}

func (r *memCustomers) GetByPlatformUser(_ context.Context, tenantID int64, platformUserID string) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.TenantID == tenantID && c.PlatformUserID == platformUserID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memCustomers) GetByID(_ context.Context, tenantID, customerID int64) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok || c.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memCustomers) Create(_ context.Context, customer *domain.Customer) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *customer
	cp.ID = r.nextID
	r.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memCustomers) with(customerID int64, fn func(c *domain.Customer)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok {
		return domain.ErrNotFound
	}
	fn(c)
	return nil
}

func (r *memCustomers) UpdateName(_ context.Context, _, customerID int64, name string) error {
	return r.with(customerID, func(c *domain.Customer) { c.Name = &name })
}

func (r *memCustomers) SetPhoneIfEmpty(_ context.Context, _, customerID int64, phone string) (bool, error) {
	stored := false
	err := r.with(customerID, func(c *domain.Customer) {
		if c.Phone == nil || *c.Phone == "" {
			c.Phone = &phone
			stored = true
		}
	})
	return stored, err
}

func (r *memCustomers) UpdateContact(_ context.Context, _, customerID int64, phone, address *string) error {
	return r.with(customerID, func(c *domain.Customer) {
		if phone != nil {
			c.Phone = phone
		}
		if address != nil {
			c.Address = address
		}
	})
}

func (r *memCustomers) SetAIPausedUntil(_ context.Context, _, customerID int64, until *time.Time) error {
	return r.with(customerID, func(c *domain.Customer) { c.AIPausedUntil = until })
}

func (r *memCustomers) IncrementMessageCount(_ context.Context, _, customerID int64) error {
	return r.with(customerID, func(c *domain.Customer) { c.MessageCount++ })
}

func (r *memCustomers) IncrementOrderCount(_ context.Context, _, customerID int64) error {
	return r.with(customerID, func(c *domain.Customer) { c.OrderCount++ })
}

func (r *memCustomers) SetMemory(_ context.Context, _, customerID int64, key, value string) error {
	return r.with(customerID, func(c *domain.Customer) {
		if c.Memory == nil {
			c.Memory = make(map[string]string)
		}
		c.Memory[key] = value
	})
}

func (r *memCustomers) get(customerID int64) domain.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.byID[customerID]
}

// memPending mirrors the SQL queue; Claim flips processed under one lock
type memPending struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]*domain.PendingMessage
}

func newMemPending() *memPending {
	return &memPending{messages: make(map[int64]*domain.PendingMessage)}
}

func (r *memPending) Enqueue(_ context.Context, msg *domain.PendingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	msg.ID = r.nextID
	cp := *msg
	r.messages[cp.ID] = &cp
	return nil
}

func (r *memPending) ListDue(_ context.Context, now time.Time, limit int) ([]domain.PendingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingMessage
	for _, m := range r.messages {
		if !m.Processed && !m.ProcessAfter.After(now) {
			out = append(out, *m)
		}
	}
	sortByCreated(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPending) ListWaitingSenders(_ context.Context, now time.Time) ([]domain.SenderKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[domain.SenderKey]bool)
	var out []domain.SenderKey
	for _, m := range r.messages {
		if !m.Processed && m.ProcessAfter.After(now) && !seen[m.Key()] {
			seen[m.Key()] = true
			out = append(out, m.Key())
		}
	}
	return out, nil
}

func (r *memPending) Claim(_ context.Context, ids []int64) ([]domain.PendingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingMessage
	for _, id := range ids {
		m, ok := r.messages[id]
		if !ok || m.Processed {
			continue
		}
		m.Processed = true
		out = append(out, *m)
	}
	sortByCreated(out)
	return out, nil
}

func (r *memPending) PurgeProcessed(_ context.Context, before time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.messages))
	for id := range r.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var n int64
	for _, id := range ids {
		if n == int64(limit) {
			break
		}
		m := r.messages[id]
		if m.Processed && m.CreatedAt.Before(before) {
			delete(r.messages, id)
			n++
		}
	}
	return n, nil
}

func (r *memPending) processedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.Processed {
			n++
		}
	}
	return n
}

type memHistory struct {
	mu      sync.Mutex
	entries []domain.ChatHistoryEntry
}

func (r *memHistory) Append(_ context.Context, entry *domain.ChatHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memHistory) Recent(_ context.Context, tenantID, customerID int64, limit int) ([]domain.ChatHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChatHistoryEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.entries[i]
		if e.TenantID == tenantID && e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memHistory) PurgeOlderThan(_ context.Context, before time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		kept []domain.ChatHistoryEntry
		n    int64
	)
	for _, e := range r.entries {
		if n < int64(limit) && e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

func (r *memHistory) all() []domain.ChatHistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChatHistoryEntry(nil), r.entries...)
}

type memUsage struct {
	mu    sync.Mutex
	count map[int64]int64
}

func (r *memUsage) IncrementMonthly(_ context.Context, tenantID int64, _ time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == nil {
		r.count = make(map[int64]int64)
	}
	r.count[tenantID]++
	return r.count[tenantID], nil
}

func (r *memUsage) MonthlyCount(_ context.Context, tenantID int64, _ time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[tenantID], nil
}

type memProducts struct {
	products []domain.Product
}

func (r memProducts) ListActive(context.Context, int64) ([]domain.Product, error) {
	return r.products, nil
}

func (r memProducts) GetByID(_ context.Context, _, productID int64) (*domain.Product, error) {
	for i := range r.products {
		if r.products[i].ID == productID {
			p := r.products[i]
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ============================================================================
// Fixtures
// ============================================================================

func testTenant() *domain.Tenant {
	return &domain.Tenant{
		ID:                 1,
		Name:               "Номин Стор",
		FacebookPageID:     domain.StringPtr("PAGE_1"),
		FacebookPageToken:  domain.StringPtr("page-token"),
		InstagramAccountID: domain.StringPtr("IG_1"),
		IsActive:           true,
		IsAIActive:         true,
		PlanCode:           "starter",
	}
}

func testCustomer() *domain.Customer {
	return &domain.Customer{
		ID:             10,
		TenantID:       1,
		Platform:       domain.PlatformFacebook,
		PlatformUserID: "PSID_1",
	}
}
