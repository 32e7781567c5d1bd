package agent

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"storefront-chat/internal/core/domain"
)

// ============================================================================
// Provider
// ============================================================================

// scriptedProvider replays chat responses in order and records requests
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*ChatResponse
	requests  []ChatRequest
	analysis  *ImageAnalysis
	imageReq  *ImageRequest
	err       error
}

func (p *scriptedProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &ChatResponse{}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) AnalyzeImage(_ context.Context, req ImageRequest) (*ImageAnalysis, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imageReq = &req
	if p.err != nil {
		return nil, p.err
	}
	return p.analysis, nil
}

type stubImages struct{ err error }

func (s stubImages) Fetch(context.Context, string) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return []byte{0xff, 0xd8, 0xff}, "image/jpeg", nil
}

type stubPlans struct{ plan domain.Plan }

func (s stubPlans) Resolve(string) domain.Plan { return s.plan }

// ============================================================================
// Repositories
// ============================================================================

type stubTenants struct{ kb domain.KnowledgeBase }

func (s stubTenants) GetByPlatformAccount(context.Context, domain.Platform, string) (*domain.Tenant, error) {
	return nil, domain.ErrNotFound
}
func (s stubTenants) GetByID(context.Context, int64) (*domain.Tenant, error) {
	return nil, domain.ErrNotFound
}
func (s stubTenants) GetKnowledge(context.Context, int64) (*domain.KnowledgeBase, error) {
	kb := s.kb
	return &kb, nil
}
func (s stubTenants) DeactivatePlatform(context.Context, int64, domain.Platform) error { return nil }

type stubProducts struct{ products []domain.Product }

func (s stubProducts) ListActive(context.Context, int64) ([]domain.Product, error) {
	return s.products, nil
}

func (s stubProducts) GetByID(_ context.Context, _, productID int64) (*domain.Product, error) {
	for i := range s.products {
		if s.products[i].ID == productID {
			p := s.products[i]
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

type stubHistory struct{ recent []domain.ChatHistoryEntry }

func (s stubHistory) Append(context.Context, *domain.ChatHistoryEntry) error { return nil }
func (s stubHistory) Recent(context.Context, int64, int64, int) ([]domain.ChatHistoryEntry, error) {
	return s.recent, nil
}
func (s stubHistory) PurgeOlderThan(context.Context, time.Time, int) (int64, error) { return 0, nil }

type stubUsage struct{ used int64 }

func (s stubUsage) IncrementMonthly(context.Context, int64, time.Time) (int64, error) {
	return s.used + 1, nil
}
func (s stubUsage) MonthlyCount(context.Context, int64, time.Time) (int64, error) { return s.used, nil }

// MockCartRepository mocks ports.CartRepository
type MockCartRepository struct {
	mock.Mock
}

func (m *MockCartRepository) GetActive(ctx context.Context, tenantID, customerID int64) (*domain.Cart, error) {
	args := m.Called(ctx, tenantID, customerID)
	if result := args.Get(0); result != nil {
		return result.(*domain.Cart), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCartRepository) AddItem(ctx context.Context, tenantID, customerID, productID int64, variant *string, quantity int) (*domain.Cart, error) {
	args := m.Called(ctx, tenantID, customerID, productID, variant, quantity)
	if result := args.Get(0); result != nil {
		return result.(*domain.Cart), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCartRepository) RemoveItem(ctx context.Context, tenantID, customerID, productID int64, variant *string, quantity int) (*domain.Cart, error) {
	args := m.Called(ctx, tenantID, customerID, productID, variant, quantity)
	if result := args.Get(0); result != nil {
		return result.(*domain.Cart), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockOrderRepository mocks ports.OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Checkout(ctx context.Context, tenantID, customerID int64, details domain.CheckoutDetails) (*domain.Order, error) {
	args := m.Called(ctx, tenantID, customerID, details)
	if result := args.Get(0); result != nil {
		return result.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderRepository) Cancel(ctx context.Context, tenantID int64, orderNumber string) (*domain.Order, error) {
	args := m.Called(ctx, tenantID, orderNumber)
	if result := args.Get(0); result != nil {
		return result.(*domain.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingCustomers captures customer mutations made by tools
type recordingCustomers struct {
	mu          sync.Mutex
	phone       *string
	address     *string
	name        string
	pausedUntil *time.Time
	orders      int
	memory      map[string]string
}

func (r *recordingCustomers) GetByPlatformUser(context.Context, int64, string) (*domain.Customer, error) {
	return nil, domain.ErrNotFound
}
func (r *recordingCustomers) GetByID(context.Context, int64, int64) (*domain.Customer, error) {
	return nil, domain.ErrNotFound
}
func (r *recordingCustomers) Create(_ context.Context, c *domain.Customer) (*domain.Customer, error) {
	return c, nil
}
func (r *recordingCustomers) UpdateName(_ context.Context, _, _ int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
	return nil
}
func (r *recordingCustomers) SetPhoneIfEmpty(context.Context, int64, int64, string) (bool, error) {
	return false, nil
}
func (r *recordingCustomers) UpdateContact(_ context.Context, _, _ int64, phone, address *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if phone != nil {
		r.phone = phone
	}
	if address != nil {
		r.address = address
	}
	return nil
}
func (r *recordingCustomers) SetAIPausedUntil(_ context.Context, _, _ int64, until *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pausedUntil = until
	return nil
}
func (r *recordingCustomers) IncrementMessageCount(context.Context, int64, int64) error { return nil }
func (r *recordingCustomers) IncrementOrderCount(context.Context, int64, int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders++
	return nil
}
func (r *recordingCustomers) SetMemory(_ context.Context, _, _ int64, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memory == nil {
		r.memory = make(map[string]string)
	}
	r.memory[key] = value
	return nil
}

// recordingStaff implements ports.StaffNotifier synchronously
type recordingStaff struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingStaff) NotifyStaff(_ context.Context, _ *domain.Tenant, n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// ============================================================================
// Fixtures
// ============================================================================

func strPtr(s string) *string { return &s }

func testCatalog() []domain.Product {
	discount := 20.0
	return []domain.Product{
		{
			ID: 1, TenantID: 1, Name: "Хар цамц", Price: 35000, Stock: 10, IsActive: true,
			ImageURL: strPtr("https://cdn.example.com/1.jpg"),
			Variants: []domain.ProductVariant{{Name: "M", Stock: 4}, {Name: "L", Stock: 6}},
		},
		{
			ID: 2, TenantID: 1, Name: "Цагаан цамц", Price: 30000, Stock: 3, IsActive: true,
			DiscountPercent: &discount, ImageURL: strPtr("https://cdn.example.com/2.jpg"),
		},
		{ID: 3, TenantID: 1, Name: "Малгай", Price: 15000, Stock: 0, IsActive: true},
	}
}

func testToolContext() *ToolContext {
	return &ToolContext{
		Tenant:   &domain.Tenant{ID: 1, Name: "Номин Стор"},
		Customer: &domain.Customer{ID: 10, TenantID: 1, Phone: strPtr("99112233")},
		Products: testCatalog(),
	}
}
