package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"storefront-chat/internal/core/domain"
)

func TestAddItem_RejectsQuantityBeyondAvailable(t *testing.T) {
	tests := []struct {
		name     string
		stock    int
		reserved int
		inCart   int
		quantity int
	}{
		{"cart already holds most of the stock", 5, 1, 3, 2},
		{"reserved stock is not sellable", 5, 3, 0, 3},
		{"nothing left", 2, 0, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewCartRepository(db)

			mock.ExpectBegin()
			mock.ExpectQuery(`FROM products WHERE tenant_id = \? AND id = \? FOR UPDATE`).
				WithArgs(int64(1), int64(100)).
				WillReturnRows(productRow(100, tt.stock, tt.reserved, nil))
			mock.ExpectExec(`INSERT INTO carts`).
				WillReturnResult(sqlmock.NewResult(5, 1))
			mock.ExpectQuery(`SELECT COALESCE\(SUM\(quantity\), 0\)`).
				WithArgs("", int64(5), int64(100)).
				WillReturnRows(sqlmock.NewRows([]string{"total", "variant_total"}).AddRow(tt.inCart, 0))
			mock.ExpectRollback()

			cart, err := repo.AddItem(context.Background(), 1, 10, 100, nil, tt.quantity)

			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
			assert.Nil(t, cart)
		})
	}
}

func TestAddItem_InvalidQuantitySkipsDatabase(t *testing.T) {
	db, _ := newMockDB(t)

	_, err := NewCartRepository(db).AddItem(context.Background(), 1, 10, 100, nil, 0)

	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestVariantStockAdjustments(t *testing.T) {
	variants := []domain.ProductVariant{{Name: "M", Stock: 2}, {Name: "L", Stock: 0}}

	down, ok := decrementVariant(variants, "m", 2)
	assert.True(t, ok)
	assert.Equal(t, 0, down[0].Stock)
	assert.Equal(t, 2, variants[0].Stock, "input is not mutated")

	_, ok = decrementVariant(variants, "L", 1)
	assert.False(t, ok)

	up := incrementVariant(variants, "L", 3)
	assert.Equal(t, 3, up[1].Stock)
	assert.Equal(t, variants, incrementVariant(variants, "XL", 1))
}
