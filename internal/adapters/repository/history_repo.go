package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

var _ ports.ChatHistoryRepository = (*ChatHistoryRepository)(nil)

// ChatHistoryRepository stores one append-only row per logical turn
type ChatHistoryRepository struct {
	db *sql.DB
}

// NewChatHistoryRepository creates a history repository
func NewChatHistoryRepository(db *sql.DB) *ChatHistoryRepository {
	return &ChatHistoryRepository{db: db}
}

func (r *ChatHistoryRepository) Append(ctx context.Context, e *domain.ChatHistoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_history (tenant_id, customer_id, user_message, ai_response, intent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.TenantID, e.CustomerID, e.UserMessage, e.AIResponse, e.Intent, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	e.ID, _ = result.LastInsertId()
	return nil
}

// Recent returns the newest entries first
func (r *ChatHistoryRepository) Recent(ctx context.Context, tenantID, customerID int64, limit int) ([]domain.ChatHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, customer_id, user_message, ai_response, intent, created_at
		FROM chat_history
		WHERE tenant_id = ? AND customer_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		tenantID, customerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatHistoryEntry
	for rows.Next() {
		var (
			e      domain.ChatHistoryEntry
			intent string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.CustomerID, &e.UserMessage, &e.AIResponse, &intent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Intent = domain.Intent(intent)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeOlderThan is housekeeping for the disk watchdog
func (r *ChatHistoryRepository) PurgeOlderThan(ctx context.Context, before time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_history WHERE created_at < ? ORDER BY id LIMIT ?`,
		before.UTC(), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return result.RowsAffected()
}
