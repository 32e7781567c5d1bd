package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

var _ ports.TenantRepository = (*TenantRepository)(nil)

// TenantRepository reads shops and their platform credentials
type TenantRepository struct {
	db *sql.DB
}

// NewTenantRepository creates a tenant repository
func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `
	id, name, facebook_page_id, facebook_page_token, instagram_account_id, instagram_token,
	is_active, is_ai_active, ai_emotion, COALESCE(ai_instructions, ''),
	custom_knowledge, policies, notification_settings, plan, created_at`

// GetByPlatformAccount returns the active tenant connected with the account
func (r *TenantRepository) GetByPlatformAccount(ctx context.Context, platform domain.Platform, accountID string) (*domain.Tenant, error) {
	var column string
	switch platform {
	case domain.PlatformFacebook:
		column = "facebook_page_id"
	case domain.PlatformInstagram:
		column = "instagram_account_id"
	default:
		return nil, fmt.Errorf("unknown platform %q: %w", platform, domain.ErrNotFound)
	}

	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE ` + column + ` = ? AND is_active = TRUE LIMIT 1`
	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, accountID))
	if err != nil {
		return nil, fmt.Errorf("get tenant by %s account: %w", platform, err)
	}
	return tenant, nil
}

// GetByID returns a tenant regardless of platform or active flag
func (r *TenantRepository) GetByID(ctx context.Context, tenantID int64) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = ?`
	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, tenantID))
	if err != nil {
		return nil, fmt.Errorf("get tenant %d: %w", tenantID, err)
	}
	return tenant, nil
}

// GetKnowledge returns FAQs, quick-reply triggers and slogans
func (r *TenantRepository) GetKnowledge(ctx context.Context, tenantID int64) (*domain.KnowledgeBase, error) {
	var faqs, quickReplies, slogans []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT faqs, quick_replies, slogans FROM tenants WHERE id = ?`, tenantID,
	).Scan(&faqs, &quickReplies, &slogans)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge: %w", err)
	}

	kb := &domain.KnowledgeBase{}
	if err := unmarshalJSON(faqs, &kb.FAQs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(quickReplies, &kb.QuickReplies); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(slogans, &kb.Slogans); err != nil {
		return nil, err
	}
	return kb, nil
}

// DeactivatePlatform clears the credential the platform rejected
// AUTO deactivate to prevent futile API calls; the shop must reconnect
func (r *TenantRepository) DeactivatePlatform(ctx context.Context, tenantID int64, platform domain.Platform) error {
	var query string
	switch platform {
	case domain.PlatformFacebook:
		query = `UPDATE tenants SET facebook_page_token = NULL WHERE id = ?`
	case domain.PlatformInstagram:
		query = `UPDATE tenants SET instagram_token = NULL WHERE id = ?`
	default:
		return fmt.Errorf("unknown platform %q", platform)
	}

	result, err := r.db.ExecContext(ctx, query, tenantID)
	if err != nil {
		slog.Error("Failed to deactivate platform",
			"error", err,
			"tenant_id", tenantID,
			"platform", platform,
		)
		return fmt.Errorf("deactivate platform: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		slog.Warn("🔴 PLATFORM DEACTIVATED - Token expired or invalid",
			"tenant_id", tenantID,
			"platform", platform,
			"action", "Shop must reconnect the account",
		)
	}
	return nil
}

func scanTenant(row *sql.Row) (*domain.Tenant, error) {
	var (
		t                                           domain.Tenant
		fbPage, fbToken, igAccount, igToken         sql.NullString
		emotion                                     string
		customKnowledge, policies, notificationPref []byte
	)
	err := row.Scan(
		&t.ID, &t.Name, &fbPage, &fbToken, &igAccount, &igToken,
		&t.IsActive, &t.IsAIActive, &emotion, &t.AIInstructions,
		&customKnowledge, &policies, &notificationPref, &t.PlanCode, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.FacebookPageID = stringPtr(fbPage)
	t.FacebookPageToken = stringPtr(fbToken)
	t.InstagramAccountID = stringPtr(igAccount)
	t.InstagramToken = stringPtr(igToken)
	t.AIEmotion = domain.Emotion(emotion)

	if err := unmarshalJSON(customKnowledge, &t.CustomKnowledge); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(policies, &t.Policies); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(notificationPref, &t.Notifications); err != nil {
		return nil, err
	}
	return &t, nil
}
