package domain

// Intent is the coarse label produced by the keyword classifier
type Intent string

const (
	IntentGreeting       Intent = "GREETING"
	IntentProductInquiry Intent = "PRODUCT_INQUIRY"
	IntentPriceCheck     Intent = "PRICE_CHECK"
	IntentStockCheck     Intent = "STOCK_CHECK"
	IntentOrderCreate    Intent = "ORDER_CREATE"
	IntentOrderStatus    Intent = "ORDER_STATUS"
	IntentComplaint      Intent = "COMPLAINT"
	IntentThankYou       Intent = "THANK_YOU"
	IntentOther          Intent = "OTHER"
)

// NotificationKind constants
type NotificationKind string

const (
	NotificationNewOrder        NotificationKind = "new_order"
	NotificationContactCaptured NotificationKind = "contact_captured"
	NotificationHumanSupport    NotificationKind = "human_support"
	NotificationOrderCancelled  NotificationKind = "order_cancelled"
)

// Notification is a staff-facing side-channel event
type Notification struct {
	TenantID   int64            `json:"tenant_id"`
	Kind       NotificationKind `json:"kind"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	CustomerID int64            `json:"customer_id,omitempty"`
	Data       map[string]any   `json:"data,omitempty"`
}
