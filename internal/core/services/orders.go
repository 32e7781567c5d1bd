package services

import (
	"context"
	"fmt"
	"log/slog"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

// OrderDesk applies staff-side order changes
type OrderDesk struct {
	orders   ports.OrderRepository
	tenants  ports.TenantRepository
	notifier ports.StaffNotifier
}

// NewOrderDesk creates the staff order service
func NewOrderDesk(orders ports.OrderRepository, tenants ports.TenantRepository, notifier ports.StaffNotifier) *OrderDesk {
	return &OrderDesk{orders: orders, tenants: tenants, notifier: notifier}
}

// CancelOrder cancels the order, restocks its items and emits the
// order_cancelled staff notification
func (d *OrderDesk) CancelOrder(ctx context.Context, tenantID int64, orderNumber, reason string) (*domain.Order, error) {
	tenant, err := d.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	order, err := d.orders.Cancel(ctx, tenantID, orderNumber)
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("%s захиалга цуцлагдлаа", order.OrderNumber)
	if reason != "" {
		body += ": " + reason
	}
	d.notifier.NotifyStaff(ctx, tenant, domain.Notification{
		TenantID:   tenantID,
		Kind:       domain.NotificationOrderCancelled,
		Title:      "Захиалга цуцлагдсан",
		Body:       body,
		CustomerID: order.CustomerID,
		Data:       map[string]any{"order_id": order.ID, "order_number": order.OrderNumber, "total": order.TotalAmount},
	})

	slog.Info("Staff cancelled order",
		"tenant_id", tenantID,
		"order_number", order.OrderNumber,
		"reason", reason,
	)
	return order, nil
}
