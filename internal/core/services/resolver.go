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

// Resolver maps platform identities to tenants and customers
type Resolver struct {
	tenants   ports.TenantRepository
	customers ports.CustomerRepository
	profiles  ports.ProfileFetcher
}

// NewResolver creates a tenant/customer resolver
func NewResolver(tenants ports.TenantRepository, customers ports.CustomerRepository, profiles ports.ProfileFetcher) *Resolver {
	return &Resolver{tenants: tenants, customers: customers, profiles: profiles}
}

// ResolveTenant returns the active tenant for the platform account.
// Missing or inactive tenants yield domain.ErrNotFound.
func (r *Resolver) ResolveTenant(ctx context.Context, platform domain.Platform, accountID string) (*domain.Tenant, error) {
	if accountID == "" {
		return nil, domain.ErrNotFound
	}
	tenant, err := r.tenants.GetByPlatformAccount(ctx, platform, accountID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, domain.ErrNotFound
	}
	return tenant, nil
}

// ResolveCustomer gets or creates the customer.
// A profile fetch is attempted on creation and again on every later
// message while the name is still unknown; failures leave the name null.
func (r *Resolver) ResolveCustomer(ctx context.Context, tenant *domain.Tenant, platform domain.Platform, senderID string) (*domain.Customer, error) {
	token := tenant.AccessToken(platform)

	customer, err := r.customers.GetByPlatformUser(ctx, tenant.ID, senderID)
	switch {
	case err == nil:
		if customer.Name == nil {
			if name := r.fetchName(ctx, platform, token, senderID); name != "" {
				if err := r.customers.UpdateName(ctx, tenant.ID, customer.ID, name); err != nil {
					slog.Warn("Failed to backfill customer name", "error", err, "customer_id", customer.ID)
				} else {
					customer.Name = &name
				}
			}
		}
		return customer, nil

	case errors.Is(err, domain.ErrNotFound):
		newCustomer := &domain.Customer{
			TenantID:       tenant.ID,
			Platform:       platform,
			PlatformUserID: senderID,
			Name:           domain.StringPtr(r.fetchName(ctx, platform, token, senderID)),
		}
		created, err := r.customers.Create(ctx, newCustomer)
		if err != nil {
			return nil, fmt.Errorf("create customer: %w", err)
		}
		return created, nil

	default:
		return nil, fmt.Errorf("get customer: %w", err)
	}
}

func (r *Resolver) fetchName(ctx context.Context, platform domain.Platform, token, userID string) string {
	if token == "" || r.profiles == nil {
		return ""
	}
	profile, err := r.profiles.FetchProfile(ctx, platform, token, userID)
	if err != nil {
		slog.Debug("Profile fetch failed", "error", err, "platform", platform)
		return ""
	}
	return profile.Name
}

// CapturePhone stores the first phone number found in text when the
// customer has none yet. Best-effort: errors are logged only.
func (r *Resolver) CapturePhone(ctx context.Context, customer *domain.Customer, text string) {
	if customer.Phone != nil && *customer.Phone != "" {
		return
	}
	phone, ok := ExtractPhone(text)
	if !ok {
		return
	}
	stored, err := r.customers.SetPhoneIfEmpty(ctx, customer.TenantID, customer.ID, phone)
	if err != nil {
		slog.Warn("Failed to save phone", "error", err, "customer_id", customer.ID)
		return
	}
	if stored {
		customer.Phone = &phone
		slog.Info("Customer phone captured", "customer_id", customer.ID)
	}
}

// PauseAI hands the conversation to staff until the given time
func (r *Resolver) PauseAI(ctx context.Context, tenantID, customerID int64, until time.Time) error {
	if _, err := r.customers.GetByID(ctx, tenantID, customerID); err != nil {
		return err
	}
	return r.customers.SetAIPausedUntil(ctx, tenantID, customerID, &until)
}

// ResumeAI clears a staff takeover
func (r *Resolver) ResumeAI(ctx context.Context, tenantID, customerID int64) error {
	if _, err := r.customers.GetByID(ctx, tenantID, customerID); err != nil {
		return err
	}
	return r.customers.SetAIPausedUntil(ctx, tenantID, customerID, nil)
}

// ExtractPhone finds a Mongolian mobile number: the first run of exactly
// eight digits that is not part of a longer digit run. A +976 country
// prefix directly attached to the number is accepted and stripped.
func ExtractPhone(text string) (string, bool) {
	runes := []rune(text)
	for i := 0; i < len(runes); {
		if !isASCIIDigit(runes[i]) {
			i++
			continue
		}
		start := i
		for i < len(runes) && isASCIIDigit(runes[i]) {
			i++
		}
		run := string(runes[start:i])

		switch {
		case len(run) == 8:
			return run, true
		case len(run) == 11 && run[:3] == "976":
			return run[3:], true
		}
	}
	return "", false
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
