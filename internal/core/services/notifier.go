package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

// notifyTimeout bounds one channel delivery
const notifyTimeout = 5 * time.Second

// NotificationService fans staff notifications out to every channel
// after applying the tenant's preference flags.
// Fire-and-forget: delivery never blocks or fails the caller.
type NotificationService struct {
	channels []ports.Notifier
	wg       sync.WaitGroup
}

var _ ports.StaffNotifier = (*NotificationService)(nil)

// NewNotificationService creates the notifier with its delivery channels
func NewNotificationService(channels ...ports.Notifier) *NotificationService {
	return &NotificationService{channels: channels}
}

// NotifyStaff delivers n asynchronously when the tenant opted in
func (s *NotificationService) NotifyStaff(ctx context.Context, tenant *domain.Tenant, n domain.Notification) {
	if !tenant.Notifications.Allows(n.Kind) {
		slog.Debug("Notification suppressed by tenant preference",
			"tenant_id", tenant.ID,
			"kind", n.Kind,
		)
		return
	}
	n.TenantID = tenant.ID

	// Delivery outlives the request that triggered it
	base := context.WithoutCancel(ctx)
	for _, ch := range s.channels {
		s.wg.Add(1)
		go func(ch ports.Notifier) {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("PANIC recovered in notification delivery", "panic", r, "kind", n.Kind)
				}
			}()

			deliverCtx, cancel := context.WithTimeout(base, notifyTimeout)
			defer cancel()
			if err := ch.Notify(deliverCtx, n); err != nil {
				slog.Warn("Notification delivery failed",
					"error", err,
					"tenant_id", n.TenantID,
					"kind", n.Kind,
				)
			}
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish (shutdown and tests)
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

// LogNotifier records notifications as structured log lines
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n domain.Notification) error {
	slog.Info("Staff notification",
		"tenant_id", n.TenantID,
		"kind", n.Kind,
		"title", n.Title,
		"customer_id", n.CustomerID,
	)
	return nil
}
