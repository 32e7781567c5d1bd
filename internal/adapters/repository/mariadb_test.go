package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockDB returns a sqlmock-backed pool; expectations are checked on cleanup
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

// productRow builds a products row in productColumns order
func productRow(id int64, stock, reserved int, variants []byte) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "description", "price", "stock", "reserved_stock", "discount_percent",
		"image_url", "category", "variants", "is_active",
	}).AddRow(id, int64(1), "Цамц", nil, float64(35000), stock, reserved, nil, nil, nil, variants, true)
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Equal(t, []any{int64(4), int64(9)}, int64Args([]int64{4, 9}))
}
