package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

var _ ports.PendingMessageRepository = (*PendingMessageRepository)(nil)

// PendingMessageRepository is the durable batching queue
type PendingMessageRepository struct {
	db *sql.DB
}

// NewPendingMessageRepository creates the queue repository
func NewPendingMessageRepository(db *sql.DB) *PendingMessageRepository {
	return &PendingMessageRepository{db: db}
}

const pendingColumns = `
	id, tenant_id, customer_id, platform, sender_id, message_type, content, image_url,
	access_token, external_msg_id, processed, process_after, created_at`

// Enqueue persists one inbound message
func (r *PendingMessageRepository) Enqueue(ctx context.Context, msg *domain.PendingMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_messages (
			tenant_id, customer_id, platform, sender_id, message_type, content, image_url,
			access_token, external_msg_id, processed, process_after, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?)`,
		msg.TenantID, msg.CustomerID, msg.Platform, msg.SenderID, msg.Kind, msg.Content,
		nullString(msg.ImageURL), msg.AccessToken, nullString(msg.ExternalID),
		msg.ProcessAfter.UTC(), msg.CreatedAt.UTC(),
	)
	if err != nil {
		slog.Error("Failed to enqueue message",
			"error", err,
			"tenant_id", msg.TenantID,
			"sender_id", msg.SenderID,
		)
		return fmt.Errorf("enqueue message: %w", err)
	}

	msg.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	return nil
}

// ListDue returns unprocessed messages whose quiet window has elapsed
func (r *PendingMessageRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.PendingMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_messages
		WHERE processed = FALSE AND process_after <= ?
		ORDER BY created_at, id
		LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	defer rows.Close()
	return scanPendingRows(rows)
}

// ListWaitingSenders returns senders with a message still inside its quiet window
func (r *PendingMessageRepository) ListWaitingSenders(ctx context.Context, now time.Time) ([]domain.SenderKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT tenant_id, sender_id
		FROM pending_messages
		WHERE processed = FALSE AND process_after > ?`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list waiting senders: %w", err)
	}
	defer rows.Close()

	var keys []domain.SenderKey
	for rows.Next() {
		var k domain.SenderKey
		if err := rows.Scan(&k.TenantID, &k.SenderID); err != nil {
			return nil, fmt.Errorf("scan sender: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Claim flips processed for the ids that are still unclaimed.
// Rows are locked first so two overlapping sweeps can never both
// return the same message.
func (r *PendingMessageRepository) Claim(ctx context.Context, ids []int64) ([]domain.PendingMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var claimed []domain.PendingMessage
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+pendingColumns+`
			FROM pending_messages
			WHERE id IN (`+placeholders(len(ids))+`) AND processed = FALSE
			ORDER BY created_at, id
			FOR UPDATE`,
			int64Args(ids)...,
		)
		if err != nil {
			return fmt.Errorf("lock pending messages: %w", err)
		}
		claimed, err = scanPendingRows(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		lockedIDs := make([]int64, len(claimed))
		for i := range claimed {
			lockedIDs[i] = claimed[i].ID
			claimed[i].Processed = true
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_messages SET processed = TRUE
			WHERE id IN (`+placeholders(len(lockedIDs))+`) AND processed = FALSE`,
			int64Args(lockedIDs)...,
		); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	return claimed, nil
}

// PurgeProcessed deletes at most limit processed rows created before the cutoff
func (r *PendingMessageRepository) PurgeProcessed(ctx context.Context, before time.Time, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_messages
		WHERE processed = TRUE AND created_at < ?
		ORDER BY id
		LIMIT ?`,
		before.UTC(), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("purge pending messages: %w", err)
	}
	return result.RowsAffected()
}

func scanPendingRows(rows *sql.Rows) ([]domain.PendingMessage, error) {
	var out []domain.PendingMessage
	for rows.Next() {
		var (
			m                    domain.PendingMessage
			platform, kind       string
			imageURL, externalID sql.NullString
		)
		if err := rows.Scan(
			&m.ID, &m.TenantID, &m.CustomerID, &platform, &m.SenderID, &kind, &m.Content, &imageURL,
			&m.AccessToken, &externalID, &m.Processed, &m.ProcessAfter, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending message: %w", err)
		}
		m.Platform = domain.Platform(platform)
		m.Kind = domain.MessageKind(kind)
		m.ImageURL = stringPtr(imageURL)
		m.ExternalID = stringPtr(externalID)
		out = append(out, m)
	}
	return out, rows.Err()
}
