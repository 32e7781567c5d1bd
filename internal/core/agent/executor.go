package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

// ToolResult is the structured outcome of one tool call
type ToolResult struct {
	Success     bool
	Message     string
	Error       string
	Data        map[string]any
	ImageAction *domain.ImageAction
}

// Payload is what the model sees as the function response
func (r ToolResult) Payload() map[string]any {
	out := map[string]any{"success": r.Success, "message": r.Message}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if len(r.Data) > 0 {
		out["data"] = r.Data
	}
	return out
}

func failure(format string, args ...any) ToolResult {
	msg := fmt.Sprintf(format, args...)
	return ToolResult{Success: false, Message: msg, Error: msg}
}

// ToolContext is the live tenant-scoped state a tool call runs against
type ToolContext struct {
	Tenant   *domain.Tenant
	Customer *domain.Customer
	Products []domain.Product
}

// Executor runs tool requests against carts, orders and customers
type Executor struct {
	carts     ports.CartRepository
	orders    ports.OrderRepository
	customers ports.CustomerRepository
	products  ports.ProductRepository
	notifier  ports.StaffNotifier
	metrics   ports.Metrics

	handoffPause   time.Duration
	now            func() time.Time
	newOrderNumber func() string
}

// NewExecutor wires the tool executor
func NewExecutor(
	carts ports.CartRepository,
	orders ports.OrderRepository,
	customers ports.CustomerRepository,
	products ports.ProductRepository,
	notifier ports.StaffNotifier,
	metrics ports.Metrics,
	handoffPause time.Duration,
) *Executor {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Executor{
		carts:          carts,
		orders:         orders,
		customers:      customers,
		products:       products,
		notifier:       notifier,
		metrics:        metrics,
		handoffPause:   handoffPause,
		now:            time.Now,
		newOrderNumber: func() string { return ulid.Make().String() },
	}
}

// unknownToolLabel bounds metric label cardinality for model-invented names
const unknownToolLabel = "unknown"

// ExecuteCall parses and executes a raw model tool call.
// Unknown tool names yield a failed result, never a panic.
func (e *Executor) ExecuteCall(ctx context.Context, name string, args map[string]any, tc *ToolContext) ToolResult {
	req, err := ParseToolCall(name, args)
	if err != nil {
		slog.Warn("Model requested unknown tool", "tool", name, "tenant_id", tc.Tenant.ID)
		e.metrics.IncToolCall(unknownToolLabel, false)
		return ToolResult{Success: false, Message: err.Error(), Error: err.Error()}
	}
	return e.Execute(ctx, req, tc)
}

// Execute runs one typed tool request
func (e *Executor) Execute(ctx context.Context, req ToolRequest, tc *ToolContext) ToolResult {
	var result ToolResult
	switch r := req.(type) {
	case AddToCart:
		result = e.addToCart(ctx, r, tc)
	case RemoveFromCart:
		result = e.removeFromCart(ctx, r, tc)
	case ViewCart:
		result = e.viewCart(ctx, tc)
	case Checkout:
		result = e.checkout(ctx, r, tc)
	case ShowProductImage:
		result = e.showProductImage(r, tc)
	case CollectContactInfo:
		result = e.collectContactInfo(ctx, r, tc)
	case RequestHumanSupport:
		result = e.requestHumanSupport(ctx, r, tc)
	case RememberPreference:
		result = e.rememberPreference(ctx, r, tc)
	default:
		result = failure("%s: %T", ErrUnknownTool, req)
	}

	e.metrics.IncToolCall(req.ToolName(), result.Success)
	slog.Info("Tool executed",
		"tool", req.ToolName(),
		"success", result.Success,
		"tenant_id", tc.Tenant.ID,
		"customer_id", tc.Customer.ID,
	)
	return result
}

func (e *Executor) addToCart(ctx context.Context, r AddToCart, tc *ToolContext) ToolResult {
	if r.Quantity <= 0 {
		return failure("quantity must be greater than zero")
	}
	product, ok := e.resolveProduct(ctx, r.Product, tc)
	if !ok {
		return failure("product not found: %s", describeRef(r.Product))
	}
	if r.Variant != nil {
		if _, ok := product.Variant(*r.Variant); !ok && len(product.Variants) > 0 {
			return failure("variant %q not available for %s", *r.Variant, product.Name)
		}
	}

	cart, err := e.carts.AddItem(ctx, tc.Tenant.ID, tc.Customer.ID, product.ID, r.Variant, r.Quantity)
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return failure("not enough stock for %s", product.Name)
	case errors.Is(err, domain.ErrVariantNotFound):
		return failure("variant not available for %s", product.Name)
	case err != nil:
		slog.Error("add_to_cart failed", "error", err, "product_id", product.ID)
		return failure("could not update cart")
	}

	return ToolResult{
		Success: true,
		Message: fmt.Sprintf("Added %d x %s. Cart total: %.0f", r.Quantity, product.Name, cart.Total()),
		Data:    cartData(cart),
	}
}

func (e *Executor) removeFromCart(ctx context.Context, r RemoveFromCart, tc *ToolContext) ToolResult {
	product, ok := e.resolveProduct(ctx, r.Product, tc)
	if !ok {
		return failure("product not found: %s", describeRef(r.Product))
	}
	cart, err := e.carts.RemoveItem(ctx, tc.Tenant.ID, tc.Customer.ID, product.ID, r.Variant, r.Quantity)
	switch {
	case errors.Is(err, domain.ErrCartItemNotFound):
		return failure("%s is not in the cart", product.Name)
	case err != nil:
		slog.Error("remove_from_cart failed", "error", err, "product_id", product.ID)
		return failure("could not update cart")
	}
	return ToolResult{Success: true, Message: fmt.Sprintf("Removed %s", product.Name), Data: cartData(cart)}
}

func (e *Executor) viewCart(ctx context.Context, tc *ToolContext) ToolResult {
	cart, err := e.carts.GetActive(ctx, tc.Tenant.ID, tc.Customer.ID)
	if err != nil {
		slog.Error("view_cart failed", "error", err)
		return failure("could not load cart")
	}
	if cart.IsEmpty() {
		return ToolResult{Success: true, Message: "Cart is empty", Data: cartData(cart)}
	}
	return ToolResult{Success: true, Message: fmt.Sprintf("Cart has %d items", len(cart.Items)), Data: cartData(cart)}
}

func (e *Executor) checkout(ctx context.Context, r Checkout, tc *ToolContext) ToolResult {
	details := domain.CheckoutDetails{
		OrderNumber: e.newOrderNumber(),
		Phone:       firstNonEmpty(r.Phone, tc.Customer.Phone),
		Address:     firstNonEmpty(r.Address, tc.Customer.Address),
		Notes:       r.Notes,
	}

	order, err := e.orders.Checkout(ctx, tc.Tenant.ID, tc.Customer.ID, details)
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return failure("cart is empty")
	case errors.Is(err, domain.ErrInsufficientStock):
		return failure("some items are no longer in stock")
	case err != nil:
		slog.Error("checkout failed", "error", err, "tenant_id", tc.Tenant.ID, "customer_id", tc.Customer.ID)
		return failure("could not create order")
	}

	if err := e.customers.IncrementOrderCount(ctx, tc.Tenant.ID, tc.Customer.ID); err != nil {
		slog.Warn("Failed to increment order count", "error", err, "customer_id", tc.Customer.ID)
	}
	if r.Phone != nil || r.Address != nil {
		if err := e.customers.UpdateContact(ctx, tc.Tenant.ID, tc.Customer.ID, r.Phone, r.Address); err != nil {
			slog.Warn("Failed to save checkout contact", "error", err, "customer_id", tc.Customer.ID)
		}
	}

	e.notifier.NotifyStaff(ctx, tc.Tenant, domain.Notification{
		TenantID:   tc.Tenant.ID,
		Kind:       domain.NotificationNewOrder,
		Title:      "Шинэ захиалга",
		Body:       fmt.Sprintf("%s захиалга, нийт %.0f₮", order.OrderNumber, order.TotalAmount),
		CustomerID: tc.Customer.ID,
		Data:       map[string]any{"order_id": order.ID, "order_number": order.OrderNumber, "total": order.TotalAmount},
	})

	return ToolResult{
		Success: true,
		Message: fmt.Sprintf("Order %s created. Total: %.0f", order.OrderNumber, order.TotalAmount),
		Data: map[string]any{
			"order_number": order.OrderNumber,
			"total":        order.TotalAmount,
			"items":        len(order.Items),
		},
	}
}

func (e *Executor) showProductImage(r ShowProductImage, tc *ToolContext) ToolResult {
	var cards []domain.ProductCard
	seen := make(map[int64]bool)
	for _, ref := range r.Products {
		p, ok := findProduct(ref, tc.Products)
		if !ok || seen[p.ID] || p.ImageURL == nil || *p.ImageURL == "" {
			continue
		}
		seen[p.ID] = true
		cards = append(cards, ToCard(p))
	}
	if len(cards) == 0 {
		return failure("no product images found")
	}

	action := &domain.ImageAction{Type: domain.ImageActionSingle, Products: cards}
	switch {
	case r.Confirm:
		action.Type = domain.ImageActionConfirm
	case len(cards) > 1:
		action.Type = domain.ImageActionGallery
	}
	return ToolResult{
		Success:     true,
		Message:     fmt.Sprintf("Showing %d product image(s)", len(cards)),
		ImageAction: action,
	}
}

func (e *Executor) collectContactInfo(ctx context.Context, r CollectContactInfo, tc *ToolContext) ToolResult {
	if r.Phone == nil && r.Address == nil && r.Name == nil {
		return failure("no contact information given")
	}
	if r.Phone != nil || r.Address != nil {
		if err := e.customers.UpdateContact(ctx, tc.Tenant.ID, tc.Customer.ID, r.Phone, r.Address); err != nil {
			slog.Error("collect_contact_info failed", "error", err)
			return failure("could not save contact information")
		}
	}
	if r.Name != nil {
		if err := e.customers.UpdateName(ctx, tc.Tenant.ID, tc.Customer.ID, *r.Name); err != nil {
			slog.Warn("Failed to save customer name", "error", err)
		}
	}

	e.notifier.NotifyStaff(ctx, tc.Tenant, domain.Notification{
		TenantID:   tc.Tenant.ID,
		Kind:       domain.NotificationContactCaptured,
		Title:      "Холбоо барих мэдээлэл",
		Body:       contactSummary(r),
		CustomerID: tc.Customer.ID,
	})
	return ToolResult{Success: true, Message: "Contact information saved"}
}

func (e *Executor) requestHumanSupport(ctx context.Context, r RequestHumanSupport, tc *ToolContext) ToolResult {
	until := e.now().Add(e.handoffPause)
	if err := e.customers.SetAIPausedUntil(ctx, tc.Tenant.ID, tc.Customer.ID, &until); err != nil {
		slog.Error("request_human_support failed", "error", err)
		return failure("could not reach staff")
	}

	e.notifier.NotifyStaff(ctx, tc.Tenant, domain.Notification{
		TenantID:   tc.Tenant.ID,
		Kind:       domain.NotificationHumanSupport,
		Title:      "Ажилтны тусламж хүссэн",
		Body:       r.Reason,
		CustomerID: tc.Customer.ID,
		Data:       map[string]any{"paused_until": until},
	})
	return ToolResult{Success: true, Message: "Staff has been notified and will reply shortly"}
}

func (e *Executor) rememberPreference(ctx context.Context, r RememberPreference, tc *ToolContext) ToolResult {
	if r.Key == "" || r.Value == "" {
		return failure("key and value are required")
	}
	if err := e.customers.SetMemory(ctx, tc.Tenant.ID, tc.Customer.ID, r.Key, r.Value); err != nil {
		slog.Error("remember_preference failed", "error", err)
		return failure("could not save preference")
	}
	return ToolResult{Success: true, Message: "Preference saved"}
}

// resolveProduct prefers the request's catalog snapshot, then reads the
// repository so a product added mid-conversation is still found
func (e *Executor) resolveProduct(ctx context.Context, ref ProductRef, tc *ToolContext) (*domain.Product, bool) {
	if ref.ID != 0 {
		p, err := e.products.GetByID(ctx, tc.Tenant.ID, ref.ID)
		if err == nil && p.IsActive {
			return p, true
		}
	}
	p, ok := findProduct(ref, tc.Products)
	if !ok {
		return nil, false
	}
	return p, true
}

func findProduct(ref ProductRef, products []domain.Product) (*domain.Product, bool) {
	if ref.ID != 0 {
		for i := range products {
			if products[i].ID == ref.ID {
				return &products[i], true
			}
		}
	}
	name := strings.ToLower(strings.TrimSpace(ref.Name))
	if name == "" {
		return nil, false
	}
	for i := range products {
		if strings.ToLower(products[i].Name) == name {
			return &products[i], true
		}
	}
	for i := range products {
		if strings.Contains(strings.ToLower(products[i].Name), name) {
			return &products[i], true
		}
	}
	return nil, false
}

// ToCard renders a product for image replies
func ToCard(p *domain.Product) domain.ProductCard {
	card := domain.ProductCard{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.EffectivePrice(),
		Stock:     p.Available(),
	}
	if p.ImageURL != nil {
		card.ImageURL = *p.ImageURL
	}
	if p.Description != nil {
		card.Description = *p.Description
	}
	return card
}

func cartData(cart *domain.Cart) map[string]any {
	items := make([]map[string]any, 0, len(cart.Items))
	for _, it := range cart.Items {
		item := map[string]any{
			"product_id": it.ProductID,
			"name":       it.ProductName,
			"quantity":   it.Quantity,
			"unit_price": it.UnitPrice,
		}
		if it.Variant != nil {
			item["variant"] = *it.Variant
		}
		items = append(items, item)
	}
	return map[string]any{"items": items, "total": cart.Total()}
}

func describeRef(ref ProductRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return fmt.Sprintf("#%d", ref.ID)
}

func contactSummary(r CollectContactInfo) string {
	var parts []string
	if r.Name != nil {
		parts = append(parts, "Нэр: "+*r.Name)
	}
	if r.Phone != nil {
		parts = append(parts, "Утас: "+*r.Phone)
	}
	if r.Address != nil {
		parts = append(parts, "Хаяг: "+*r.Address)
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(values ...*string) *string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return v
		}
	}
	return nil
}
