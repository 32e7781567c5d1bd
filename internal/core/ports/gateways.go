package ports

import (
	"context"
	"time"

	"storefront-chat/internal/core/domain"
)

// Messenger is the outbound side of the platform transport adapter
type Messenger interface {
	// Send delivers one outbound message; quick-reply truncation is the adapter's job
	Send(ctx context.Context, accessToken string, target domain.SendTarget, msg domain.Outbound) error

	// SendAction issues a presence signal (mark_seen, typing_on)
	SendAction(ctx context.Context, accessToken, recipientID string, action domain.SenderAction) error
}

// ProfileFetcher looks up public profile data of a platform user
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, platform domain.Platform, accessToken, userID string) (*domain.Profile, error)
}

// Notifier is one staff notification channel (websocket hub, logs, ...)
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// StaffNotifier applies the tenant's preference flags before fanning out
// Fire-and-forget: never blocks or fails the customer-facing reply
type StaffNotifier interface {
	NotifyStaff(ctx context.Context, tenant *domain.Tenant, n domain.Notification)
}

// PlanResolver maps a tenant plan code to its tier limits
type PlanResolver interface {
	Resolve(code string) domain.Plan
}

// Metrics receives pipeline observations
type Metrics interface {
	ObserveTurn(outcome string, duration time.Duration)
	AddClaimed(messages, batches int)
	IncDropped(reason string)
	IncToolCall(tool string, success bool)
}

// NopMetrics discards all observations
type NopMetrics struct{}

func (NopMetrics) ObserveTurn(string, time.Duration) {}
func (NopMetrics) AddClaimed(int, int)               {}
func (NopMetrics) IncDropped(string)                 {}
func (NopMetrics) IncToolCall(string, bool)          {}

// TurnRouter produces the reply for one logical turn
// Any error means the caller must fall back to a canned reply
type TurnRouter interface {
	Route(ctx context.Context, turn domain.Turn) (*domain.Reply, error)
}

// WebhookDecoder parses a raw platform webhook body into normalized events
// Non-user events (echo, delivery, read) are dropped by the decoder
type WebhookDecoder interface {
	Decode(platform domain.Platform, payload []byte) ([]domain.InboundEvent, error)
}

// DiskProbe reports filesystem usage for housekeeping decisions
type DiskProbe interface {
	UsedPercent(ctx context.Context, path string) (float64, error)
}
