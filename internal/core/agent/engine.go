package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

// ImageFetcher downloads an inbound customer photo
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, mimeType string, err error)
}

// EngineConfig holds engine tunables
type EngineConfig struct {
	HistoryWindow int
	MaxToolRounds int
}

// Engine routes one logical turn to the model and runs requested tools
type Engine struct {
	provider Provider
	executor *Executor
	tenants  ports.TenantRepository
	products ports.ProductRepository
	history  ports.ChatHistoryRepository
	usage    ports.UsageRepository
	plans    ports.PlanResolver
	images   ImageFetcher
	cfg      EngineConfig
	now      func() time.Time
}

// NewEngine creates the AI routing engine
func NewEngine(
	provider Provider,
	executor *Executor,
	tenants ports.TenantRepository,
	products ports.ProductRepository,
	history ports.ChatHistoryRepository,
	usage ports.UsageRepository,
	plans ports.PlanResolver,
	images ImageFetcher,
	cfg EngineConfig,
) *Engine {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	return &Engine{
		provider: provider,
		executor: executor,
		tenants:  tenants,
		products: products,
		history:  history,
		usage:    usage,
		plans:    plans,
		images:   images,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Route produces the reply for one turn.
// Any returned error must be converted to the fallback reply by the caller.
func (e *Engine) Route(ctx context.Context, turn domain.Turn) (*domain.Reply, error) {
	tenant := turn.Tenant

	// Step 1: Resolve plan (never cached, plans change between requests)
	plan := e.plans.Resolve(tenant.PlanCode)

	// Step 2: Enforce monthly quota
	if plan.MonthlyMessages > 0 {
		used, err := e.usage.MonthlyCount(ctx, tenant.ID, e.now())
		if err != nil {
			slog.Warn("Usage lookup failed, allowing turn", "error", err, "tenant_id", tenant.ID)
		} else if used >= plan.MonthlyMessages {
			return nil, fmt.Errorf("tenant %d used %d/%d: %w", tenant.ID, used, plan.MonthlyMessages, domain.ErrQuotaExceeded)
		}
	}

	// Step 3: Assemble context
	products, err := e.products.ListActive(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	kb, err := e.tenants.GetKnowledge(ctx, tenant.ID)
	if err != nil {
		slog.Warn("Failed to load knowledge base", "error", err, "tenant_id", tenant.ID)
		kb = &domain.KnowledgeBase{}
	}
	shop := BuildShopContext(tenant, turn.Customer, products, kb)

	// Step 4: Image path is terminal
	if len(turn.ImageURLs) > 0 {
		return e.routeImage(ctx, turn, plan, shop, products)
	}

	// Step 5: Keyword triggers answer without a model call
	if answer, ok := MatchQuickReply(kb.QuickReplies, turn.Text); ok {
		slog.Info("Quick-reply trigger matched", "tenant_id", tenant.ID)
		return &domain.Reply{Text: answer}, nil
	}

	// Step 6: Tool loop
	recent, err := e.history.Recent(ctx, tenant.ID, turn.Customer.ID, e.cfg.HistoryWindow)
	if err != nil {
		slog.Warn("Failed to load chat history", "error", err, "customer_id", turn.Customer.ID)
	}
	messages := append(HistoryMessages(recent), Message{Role: RoleUser, Content: turn.Text})

	return e.runToolLoop(ctx, turn, plan, shop, products, messages)
}

func (e *Engine) runToolLoop(
	ctx context.Context,
	turn domain.Turn,
	plan domain.Plan,
	shop ShopContext,
	products []domain.Product,
	messages []Message,
) (*domain.Reply, error) {
	tc := &ToolContext{Tenant: turn.Tenant, Customer: turn.Customer, Products: products}
	req := ChatRequest{
		Model:           plan.ChatModel,
		System:          shop.SystemPrompt(),
		Tools:           ToolDefinitions(),
		MaxOutputTokens: plan.MaxOutputTokens,
		Temperature:     shop.Temperature(),
	}

	var (
		toolsUsed   []string
		imageAction *domain.ImageAction
	)

	for round := 0; ; round++ {
		// Out of rounds: one last call without tools forces a text answer
		if round == e.cfg.MaxToolRounds {
			req.Tools = nil
		}
		req.Messages = messages

		resp, err := e.provider.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("chat round %d: %w", round, err)
		}

		if len(resp.ToolCalls) == 0 || req.Tools == nil {
			text := strings.TrimSpace(resp.Content)
			if text == "" && imageAction != nil {
				text = imageCaption(imageAction)
			}
			if text == "" {
				return nil, domain.ErrEmptyReply
			}
			return &domain.Reply{
				Text:         text,
				ImageAction:  imageAction,
				QuickReplies: SuggestQuickReplies(toolsUsed),
				ToolsUsed:    toolsUsed,
			}, nil
		}

		messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			result := e.executor.ExecuteCall(ctx, call.Name, call.Arguments, tc)
			toolsUsed = append(toolsUsed, call.Name)
			if result.ImageAction != nil {
				imageAction = result.ImageAction
			}
			messages = append(messages, Message{
				Role:       RoleTool,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Result:     result.Payload(),
			})
		}
	}
}

// MatchQuickReply returns the canned answer of the first trigger whose
// keyword appears in the text
func MatchQuickReply(triggers []domain.QuickReplyTrigger, text string) (string, bool) {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return "", false
	}
	for _, t := range triggers {
		if strings.TrimSpace(t.Response) == "" {
			continue
		}
		for _, kw := range t.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				return t.Response, true
			}
		}
	}
	return "", false
}

var (
	replyViewCart = domain.QuickReply{Title: "Сагс харах", Payload: "VIEW_CART"}
	replyCheckout = domain.QuickReply{Title: "Захиалах", Payload: "CHECKOUT"}
	replyAddCart  = domain.QuickReply{Title: "Сагсанд нэмэх", Payload: "ADD_TO_CART"}
	replyProducts = domain.QuickReply{Title: "Бүтээгдэхүүн харах", Payload: "BROWSE_PRODUCTS"}
)

// SuggestQuickReplies picks follow-up chips from the last tool that ran
func SuggestQuickReplies(toolsUsed []string) []domain.QuickReply {
	if len(toolsUsed) == 0 {
		return nil
	}
	switch toolsUsed[len(toolsUsed)-1] {
	case ToolAddToCart:
		return []domain.QuickReply{replyViewCart, replyCheckout}
	case ToolRemoveFromCart, ToolViewCart:
		return []domain.QuickReply{replyCheckout, replyProducts}
	case ToolShowProductImage:
		return []domain.QuickReply{replyAddCart, replyProducts}
	}
	return nil
}

func imageCaption(action *domain.ImageAction) string {
	names := make([]string, 0, len(action.Products))
	for _, p := range action.Products {
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}
