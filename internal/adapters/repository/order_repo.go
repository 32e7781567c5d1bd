package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

var _ ports.OrderRepository = (*OrderRepository)(nil)

// OrderRepository converts carts into orders
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates an order repository
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Checkout creates the order in one transaction:
// lock products, re-check availability, insert order and items with the
// current discounted price, decrement stock, delete the cart.
// Any failure rolls back and leaves the cart untouched.
func (r *OrderRepository) Checkout(ctx context.Context, tenantID, customerID int64, details domain.CheckoutDetails) (*domain.Order, error) {
	var order *domain.Order
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		// Step 1: Lock the cart
		var cartID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM carts WHERE tenant_id = ? AND customer_id = ? FOR UPDATE`,
			tenantID, customerID,
		).Scan(&cartID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrEmptyCart
		}
		if err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}

		cart, err := loadCart(ctx, tx, tenantID, customerID)
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return domain.ErrEmptyCart
		}

		// Step 2: Lock products in id order so concurrent checkouts cannot deadlock
		needed := make(map[int64]int)
		for _, it := range cart.Items {
			needed[it.ProductID] += it.Quantity
		}
		productIDs := make([]int64, 0, len(needed))
		for id := range needed {
			productIDs = append(productIDs, id)
		}
		sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

		products := make(map[int64]*domain.Product, len(productIDs))
		for _, id := range productIDs {
			p, err := lockProduct(ctx, tx, tenantID, id)
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrInsufficientStock
			}
			if err != nil {
				return err
			}
			if !p.IsActive || p.Available() < needed[id] {
				return domain.ErrInsufficientStock
			}
			products[id] = p
		}

		// Step 3: Price the order and compute variant stock
		now := time.Now().UTC()
		order = &domain.Order{
			OrderNumber:     details.OrderNumber,
			TenantID:        tenantID,
			CustomerID:      customerID,
			Status:          domain.OrderStatusPending,
			Notes:           details.Notes,
			Phone:           details.Phone,
			ShippingAddress: details.Address,
			CreatedAt:       now,
		}
		for _, it := range cart.Items {
			p := products[it.ProductID]
			if it.Variant != nil && len(p.Variants) > 0 {
				updated, ok := decrementVariant(p.Variants, *it.Variant, it.Quantity)
				if !ok {
					return domain.ErrInsufficientStock
				}
				p.Variants = updated
			}
			price := p.EffectivePrice()
			order.Items = append(order.Items, domain.OrderItem{
				ProductID:   it.ProductID,
				ProductName: p.Name,
				Quantity:    it.Quantity,
				UnitPrice:   price,
				Variant:     it.Variant,
			})
			order.TotalAmount += price * float64(it.Quantity)
		}

		// Step 4: Insert order and items
		result, err := tx.ExecContext(ctx, `
			INSERT INTO orders (order_number, tenant_id, customer_id, status, total_amount, notes, phone, shipping_address, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.OrderNumber, tenantID, customerID, order.Status, order.TotalAmount,
			nullString(order.Notes), nullString(order.Phone), nullString(order.ShippingAddress), now,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if order.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("get order id: %w", err)
		}

		for i := range order.Items {
			it := &order.Items[i]
			it.OrderID = order.ID
			res, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, variant)
				VALUES (?, ?, ?, ?, ?, ?)`,
				order.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, nullString(it.Variant),
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
			it.ID, _ = res.LastInsertId()
		}

		// Step 5: Conditional decrement never oversells
		for _, id := range productIDs {
			p := products[id]
			var variants any
			if len(p.Variants) > 0 {
				if variants, err = marshalJSON(p.Variants); err != nil {
					return err
				}
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE products SET stock = stock - ?, variants = COALESCE(?, variants)
				WHERE id = ? AND tenant_id = ? AND stock - reserved_stock >= ?`,
				needed[id], variants, id, tenantID, needed[id],
			)
			if err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
			if rows, _ := res.RowsAffected(); rows == 0 {
				return domain.ErrInsufficientStock
			}
		}

		// Step 6: Cart is consumed
		if _, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = ?`, cartID); err != nil {
			return fmt.Errorf("delete cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	slog.Info("Order created",
		"order_number", order.OrderNumber,
		"tenant_id", tenantID,
		"customer_id", customerID,
		"total", order.TotalAmount,
	)
	return order, nil
}

// Cancel locks the order, returns every item to stock (variant stock too)
// and flips the status to cancelled. Orders past confirmation are rejected.
func (r *OrderRepository) Cancel(ctx context.Context, tenantID int64, orderNumber string) (*domain.Order, error) {
	order := &domain.Order{OrderNumber: orderNumber, TenantID: tenantID}
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		// Step 1: Lock the order
		err := tx.QueryRowContext(ctx, `
			SELECT id, customer_id, status, total_amount, created_at
			FROM orders WHERE tenant_id = ? AND order_number = ? FOR UPDATE`,
			tenantID, orderNumber,
		).Scan(&order.ID, &order.CustomerID, &order.Status, &order.TotalAmount, &order.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if !order.Status.Cancellable() {
			return domain.ErrOrderNotCancellable
		}

		// Step 2: Load the line items
		rows, err := tx.QueryContext(ctx, `
			SELECT id, product_id, product_name, quantity, unit_price, variant
			FROM order_items WHERE order_id = ? ORDER BY id`,
			order.ID,
		)
		if err != nil {
			return fmt.Errorf("load order items: %w", err)
		}
		for rows.Next() {
			var (
				it      domain.OrderItem
				variant sql.NullString
			)
			if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &variant); err != nil {
				rows.Close()
				return fmt.Errorf("scan order item: %w", err)
			}
			it.OrderID = order.ID
			it.Variant = stringPtr(variant)
			order.Items = append(order.Items, it)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("load order items: %w", err)
		}

		// Step 3: Restock in product id order, same lock order as Checkout
		returned := make(map[int64]int)
		for _, it := range order.Items {
			returned[it.ProductID] += it.Quantity
		}
		productIDs := make([]int64, 0, len(returned))
		for id := range returned {
			productIDs = append(productIDs, id)
		}
		sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

		for _, id := range productIDs {
			p, err := lockProduct(ctx, tx, tenantID, id)
			if errors.Is(err, domain.ErrNotFound) {
				slog.Warn("Cancelled order references a deleted product", "product_id", id, "order_number", orderNumber)
				continue
			}
			if err != nil {
				return err
			}

			var variants any
			if len(p.Variants) > 0 {
				for _, it := range order.Items {
					if it.ProductID == id && it.Variant != nil {
						p.Variants = incrementVariant(p.Variants, *it.Variant, it.Quantity)
					}
				}
				if variants, err = marshalJSON(p.Variants); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE products SET stock = stock + ?, variants = COALESCE(?, variants)
				WHERE id = ? AND tenant_id = ?`,
				returned[id], variants, id, tenantID,
			); err != nil {
				return fmt.Errorf("restock product: %w", err)
			}
		}

		// Step 4: Status
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
			domain.OrderStatusCancelled, now, order.ID,
		); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderNumber, err)
	}

	slog.Info("Order cancelled",
		"order_number", orderNumber,
		"tenant_id", tenantID,
		"customer_id", order.CustomerID,
		"items", len(order.Items),
	)
	return order, nil
}
