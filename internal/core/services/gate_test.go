package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"storefront-chat/internal/core/domain"
)

func TestEvaluateGate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(10 * time.Minute)
	earlier := now.Add(-time.Minute)
	empty := ""

	tests := []struct {
		name     string
		tenant   func(*domain.Tenant)
		platform domain.Platform
		customer *domain.Customer
		panic    bool
		expected GateDecision
	}{
		{"open", nil, domain.PlatformFacebook, &domain.Customer{}, false, GateOpen},
		{"tenant-only check", nil, domain.PlatformFacebook, nil, false, GateOpen},
		{"instagram uses page token", func(t *domain.Tenant) { t.InstagramToken = nil }, domain.PlatformInstagram, nil, false, GateOpen},
		{"tenant inactive", func(t *domain.Tenant) { t.IsActive = false }, domain.PlatformFacebook, &domain.Customer{}, false, GateTenantInactive},
		{"inactive beats missing token", func(t *domain.Tenant) { t.IsActive = false; t.FacebookPageToken = nil }, domain.PlatformFacebook, nil, false, GateTenantInactive},
		{"no token", func(t *domain.Tenant) { t.FacebookPageToken = &empty }, domain.PlatformFacebook, nil, false, GateNoToken},
		{"token beats disabled AI", func(t *domain.Tenant) { t.FacebookPageToken = nil; t.IsAIActive = false }, domain.PlatformFacebook, nil, false, GateNoToken},
		{"ai disabled", func(t *domain.Tenant) { t.IsAIActive = false }, domain.PlatformFacebook, nil, false, GateAIDisabled},
		{"kill switch", nil, domain.PlatformFacebook, &domain.Customer{}, true, GateAIDisabled},
		{"paused", nil, domain.PlatformFacebook, &domain.Customer{AIPausedUntil: &later}, false, GateCustomerPaused},
		{"pause expired", nil, domain.PlatformFacebook, &domain.Customer{AIPausedUntil: &earlier}, false, GateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant := testTenant()
			if tt.tenant != nil {
				tt.tenant(tenant)
			}
			killSwitch := NewPanicMode()
			if tt.panic {
				killSwitch.Enable("incident", "ops")
			}

			decision := EvaluateGate(tenant, tt.platform, tt.customer, now, killSwitch)

			assert.Equal(t, tt.expected, decision)
			assert.Equal(t, tt.expected == GateOpen, decision.Allowed())
		})
	}
}

func TestPanicMode(t *testing.T) {
	var nilSwitch *PanicMode
	assert.False(t, nilSwitch.IsActive())

	p := NewPanicMode()
	assert.False(t, p.IsActive())

	p.Enable("bad replies", "ops")
	status := p.Status()
	assert.True(t, status.Active)
	assert.Equal(t, "bad replies", status.Reason)
	assert.Equal(t, "ops", status.ActivatedBy)
	assert.False(t, status.ActivatedAt.IsZero())

	p.Disable("ops")
	assert.False(t, p.IsActive())
}
