package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

var (
	_ ports.ProductRepository = (*CatalogRepository)(nil)
	_ ports.CartRepository    = (*CartRepository)(nil)
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ============================================================================
// Products
// ============================================================================

// CatalogRepository reads the tenant catalog
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a product repository
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const productColumns = `
	id, tenant_id, name, description, price, stock, reserved_stock, discount_percent,
	image_url, category, variants, is_active`

// ListActive returns the active catalog ordered by name
func (r *CatalogRepository) ListActive(ctx context.Context, tenantID int64) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE tenant_id = ? AND is_active = TRUE ORDER BY name, id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetByID is tenant-scoped
func (r *CatalogRepository) GetByID(ctx context.Context, tenantID, productID int64) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE tenant_id = ? AND id = ?`,
		tenantID, productID,
	))
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", productID, err)
	}
	return p, nil
}

// lockProduct reads a product with a row lock inside tx
func lockProduct(ctx context.Context, tx *sql.Tx, tenantID, productID int64) (*domain.Product, error) {
	return scanProduct(tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE tenant_id = ? AND id = ? FOR UPDATE`,
		tenantID, productID,
	))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p                               domain.Product
		description, imageURL, category sql.NullString
		discount                        sql.NullFloat64
		variants                        []byte
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &description, &p.Price, &p.Stock, &p.ReservedStock, &discount,
		&imageURL, &category, &variants, &p.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.Description = stringPtr(description)
	p.ImageURL = stringPtr(imageURL)
	p.Category = stringPtr(category)
	p.DiscountPercent = float64Ptr(discount)
	if err := unmarshalJSON(variants, &p.Variants); err != nil {
		return nil, err
	}
	return &p, nil
}

// ============================================================================
// Carts
// ============================================================================

// CartRepository mutates the single active cart of a customer
type CartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a cart repository
func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// GetActive returns an empty cart (ID 0) when the customer has none
func (r *CartRepository) GetActive(ctx context.Context, tenantID, customerID int64) (*domain.Cart, error) {
	return loadCart(ctx, r.db, tenantID, customerID)
}

// AddItem re-checks availability under the product row lock:
// stock - reserved - quantity already in cart must cover the request
func (r *CartRepository) AddItem(ctx context.Context, tenantID, customerID, productID int64, variant *string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	var cart *domain.Cart
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		product, err := lockProduct(ctx, tx, tenantID, productID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return domain.ErrNotFound
		}

		var chosen *domain.ProductVariant
		if len(product.Variants) == 0 {
			variant = nil
		} else if variant != nil {
			v, ok := product.Variant(*variant)
			if !ok {
				return domain.ErrVariantNotFound
			}
			chosen = v
			variant = &v.Name
		}

		cartID, err := ensureCart(ctx, tx, tenantID, customerID)
		if err != nil {
			return err
		}

		var inCart, inCartVariant int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(quantity), 0), COALESCE(SUM(CASE WHEN variant = ? THEN quantity ELSE 0 END), 0)
			FROM cart_items WHERE cart_id = ? AND product_id = ?`,
			variantColumn(variant), cartID, productID,
		).Scan(&inCart, &inCartVariant); err != nil {
			return fmt.Errorf("sum cart quantity: %w", err)
		}

		if product.Available()-inCart < quantity {
			return domain.ErrInsufficientStock
		}
		if chosen != nil && chosen.Stock-inCartVariant < quantity {
			return domain.ErrInsufficientStock
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, product_id, product_name, quantity, unit_price, variant)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity), unit_price = VALUES(unit_price)`,
			cartID, productID, product.Name, quantity, product.EffectivePrice(), variantColumn(variant),
		); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}

		cart, err = loadCart(ctx, tx, tenantID, customerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add to cart: %w", err)
	}
	return cart, nil
}

// RemoveItem removes quantity (0 = the whole line)
// Removing the last item deletes the cart row
func (r *CartRepository) RemoveItem(ctx context.Context, tenantID, customerID, productID int64, variant *string, quantity int) (*domain.Cart, error) {
	var cart *domain.Cart
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var cartID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM carts WHERE tenant_id = ? AND customer_id = ? FOR UPDATE`,
			tenantID, customerID,
		).Scan(&cartID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrCartItemNotFound
		}
		if err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}

		query := `SELECT id, quantity FROM cart_items WHERE cart_id = ? AND product_id = ?`
		args := []any{cartID, productID}
		if variant != nil {
			query += ` AND variant = ?`
			args = append(args, variantColumn(variant))
		}
		query += ` ORDER BY id LIMIT 1 FOR UPDATE`

		var itemID int64
		var current int
		err = tx.QueryRowContext(ctx, query, args...).Scan(&itemID, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrCartItemNotFound
		}
		if err != nil {
			return fmt.Errorf("lock cart item: %w", err)
		}

		if quantity <= 0 || quantity >= current {
			_, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ?`, itemID)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE cart_items SET quantity = quantity - ? WHERE id = ?`, quantity, itemID)
		}
		if err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}

		var remaining int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cart_items WHERE cart_id = ?`, cartID).Scan(&remaining); err != nil {
			return fmt.Errorf("count cart items: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = ?`, cartID); err != nil {
				return fmt.Errorf("delete empty cart: %w", err)
			}
		} else if _, err := tx.ExecContext(ctx, `UPDATE carts SET updated_at = ? WHERE id = ?`, time.Now().UTC(), cartID); err != nil {
			return fmt.Errorf("touch cart: %w", err)
		}

		cart, err = loadCart(ctx, tx, tenantID, customerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("remove from cart: %w", err)
	}
	return cart, nil
}

// ensureCart returns the customer's cart id, creating the row when missing
// LAST_INSERT_ID(id) makes the upsert report the existing id
func ensureCart(ctx context.Context, tx *sql.Tx, tenantID, customerID int64) (int64, error) {
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO carts (tenant_id, customer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id), updated_at = VALUES(updated_at)`,
		tenantID, customerID, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("ensure cart: %w", err)
	}
	return result.LastInsertId()
}

func loadCart(ctx context.Context, q queryer, tenantID, customerID int64) (*domain.Cart, error) {
	cart := &domain.Cart{TenantID: tenantID, CustomerID: customerID}
	var updated sql.NullTime
	err := q.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM carts WHERE tenant_id = ? AND customer_id = ?`,
		tenantID, customerID,
	).Scan(&cart.ID, &cart.CreatedAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return cart, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	cart.UpdatedAt = timePtr(updated)

	rows, err := q.QueryContext(ctx, `
		SELECT id, cart_id, product_id, product_name, quantity, unit_price, variant
		FROM cart_items WHERE cart_id = ? ORDER BY id`,
		cart.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it      domain.CartItem
			variant string
		)
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &variant); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		it.Variant = variantFromColumn(variant)
		cart.Items = append(cart.Items, it)
	}
	return cart, rows.Err()
}

// decrementVariant returns a copy with the named variant reduced by qty
func decrementVariant(variants []domain.ProductVariant, name string, qty int) ([]domain.ProductVariant, bool) {
	out := make([]domain.ProductVariant, len(variants))
	copy(out, variants)
	for i := range out {
		if strings.EqualFold(out[i].Name, name) {
			if out[i].Stock < qty {
				return nil, false
			}
			out[i].Stock -= qty
			return out, true
		}
	}
	return nil, false
}

// incrementVariant returns a copy with the named variant raised by qty
// A variant that no longer exists is left out of the restock
func incrementVariant(variants []domain.ProductVariant, name string, qty int) []domain.ProductVariant {
	out := make([]domain.ProductVariant, len(variants))
	copy(out, variants)
	for i := range out {
		if strings.EqualFold(out[i].Name, name) {
			out[i].Stock += qty
			break
		}
	}
	return out
}
