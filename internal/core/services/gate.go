package services

import (
	"time"

	"storefront-chat/internal/core/domain"
)

// GateDecision is the outcome of gate evaluation
type GateDecision string

const (
	GateOpen           GateDecision = "open"
	GateTenantInactive GateDecision = "tenant_inactive"
	GateNoToken        GateDecision = "no_access_token"
	GateAIDisabled     GateDecision = "ai_disabled"
	GateCustomerPaused GateDecision = "customer_paused"
)

// Allowed reports whether the pipeline may call the AI
func (d GateDecision) Allowed() bool {
	return d == GateOpen
}

// EvaluateGate applies the short-circuit gates, first match wins:
// (0) tenant deactivated, (1) no usable access token, (2) tenant AI disabled
// or platform kill switch, (3) customer AI paused by staff takeover.
// None of the closed gates produce a user-visible reply.
// customer may be nil when only tenant-level gates are checked.
func EvaluateGate(tenant *domain.Tenant, platform domain.Platform, customer *domain.Customer, now time.Time, killSwitch *PanicMode) GateDecision {
	if !tenant.IsActive {
		return GateTenantInactive
	}
	if tenant.AccessToken(platform) == "" {
		return GateNoToken
	}
	if !tenant.IsAIActive || killSwitch.IsActive() {
		return GateAIDisabled
	}
	if customer != nil && customer.IsAIPaused(now) {
		return GateCustomerPaused
	}
	return GateOpen
}
