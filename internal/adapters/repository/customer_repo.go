package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

var _ ports.CustomerRepository = (*CustomerRepository)(nil)

// CustomerRepository persists per-tenant customers
type CustomerRepository struct {
	db *sql.DB
}

// NewCustomerRepository creates a customer repository
func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

const customerColumns = `
	id, tenant_id, platform, platform_user_id, name, phone, address, ai_paused_until,
	message_count, order_count, tags, is_vip, memory, created_at, updated_at`

// GetByPlatformUser returns domain.ErrNotFound when the customer is new
func (r *CustomerRepository) GetByPlatformUser(ctx context.Context, tenantID int64, platformUserID string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = ? AND platform_user_id = ?`
	return scanCustomer(r.db.QueryRowContext(ctx, query, tenantID, platformUserID))
}

// GetByID is tenant-scoped: a customer of another shop is never returned
func (r *CustomerRepository) GetByID(ctx context.Context, tenantID, customerID int64) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = ? AND id = ?`
	return scanCustomer(r.db.QueryRowContext(ctx, query, tenantID, customerID))
}

// Create inserts the customer; on a unique-key race the winner's row is returned
func (r *CustomerRepository) Create(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	tags, err := marshalJSON(emptyIfNil(c.Tags))
	if err != nil {
		return nil, err
	}
	memory, err := marshalJSON(c.Memory)
	if err != nil {
		return nil, err
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (tenant_id, platform, platform_user_id, name, phone, tags, memory, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TenantID, c.Platform, c.PlatformUserID, nullString(c.Name), nullString(c.Phone), tags, memory, time.Now().UTC(),
	)
	if isDuplicateEntry(err) {
		slog.Debug("Customer created concurrently, loading existing row",
			"tenant_id", c.TenantID,
			"platform_user_id", c.PlatformUserID,
		)
		return r.GetByPlatformUser(ctx, c.TenantID, c.PlatformUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	slog.Info("New customer created",
		"customer_id", id,
		"tenant_id", c.TenantID,
		"platform", c.Platform,
	)
	return r.GetByID(ctx, c.TenantID, id)
}

func (r *CustomerRepository) UpdateName(ctx context.Context, tenantID, customerID int64, name string) error {
	return r.exec(ctx, "update name",
		`UPDATE customers SET name = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		name, time.Now().UTC(), tenantID, customerID)
}

// SetPhoneIfEmpty reports whether the phone was stored
func (r *CustomerRepository) SetPhoneIfEmpty(ctx context.Context, tenantID, customerID int64, phone string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE customers SET phone = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND (phone IS NULL OR phone = '')`,
		phone, time.Now().UTC(), tenantID, customerID)
	if err != nil {
		return false, fmt.Errorf("set phone: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// UpdateContact overwrites only the fields that are given
func (r *CustomerRepository) UpdateContact(ctx context.Context, tenantID, customerID int64, phone, address *string) error {
	return r.exec(ctx, "update contact", `
		UPDATE customers
		SET phone = COALESCE(?, phone), address = COALESCE(?, address), updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		nullString(phone), nullString(address), time.Now().UTC(), tenantID, customerID)
}

// SetAIPausedUntil sets or (with nil) clears the staff takeover window
func (r *CustomerRepository) SetAIPausedUntil(ctx context.Context, tenantID, customerID int64, until *time.Time) error {
	var v sql.NullTime
	if until != nil {
		v = sql.NullTime{Time: until.UTC(), Valid: true}
	}
	return r.exec(ctx, "set ai pause",
		`UPDATE customers SET ai_paused_until = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		v, time.Now().UTC(), tenantID, customerID)
}

func (r *CustomerRepository) IncrementMessageCount(ctx context.Context, tenantID, customerID int64) error {
	return r.exec(ctx, "increment message count",
		`UPDATE customers SET message_count = message_count + 1 WHERE tenant_id = ? AND id = ?`,
		tenantID, customerID)
}

func (r *CustomerRepository) IncrementOrderCount(ctx context.Context, tenantID, customerID int64) error {
	return r.exec(ctx, "increment order count",
		`UPDATE customers SET order_count = order_count + 1 WHERE tenant_id = ? AND id = ?`,
		tenantID, customerID)
}

// SetMemory upserts one key of the customer's long-term memory
func (r *CustomerRepository) SetMemory(ctx context.Context, tenantID, customerID int64, key, value string) error {
	return r.exec(ctx, "set memory", `
		UPDATE customers
		SET memory = JSON_SET(COALESCE(memory, JSON_OBJECT()), CONCAT('$."', REPLACE(?, '"', ''), '"'), ?),
			updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		key, value, time.Now().UTC(), tenantID, customerID)
}

func (r *CustomerRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("Customer update failed", "op", op, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		slog.Debug("Customer update matched no row", "op", op)
	}
	return nil
}

func scanCustomer(row *sql.Row) (*domain.Customer, error) {
	var (
		c                    domain.Customer
		platform             string
		name, phone, address sql.NullString
		pausedUntil, updated sql.NullTime
		tags, memory         []byte
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &platform, &c.PlatformUserID, &name, &phone, &address, &pausedUntil,
		&c.MessageCount, &c.OrderCount, &tags, &c.IsVIP, &memory, &c.CreatedAt, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer: %w", err)
	}

	c.Platform = domain.Platform(platform)
	c.Name = stringPtr(name)
	c.Phone = stringPtr(phone)
	c.Address = stringPtr(address)
	c.AIPausedUntil = timePtr(pausedUntil)
	c.UpdatedAt = timePtr(updated)
	if err := unmarshalJSON(tags, &c.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(memory, &c.Memory); err != nil {
		return nil, err
	}
	return &c, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
