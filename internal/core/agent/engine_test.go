package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront-chat/internal/core/domain"
)

var testPlan = domain.Plan{
	Code:            "starter",
	ChatModel:       "gemini-2.5-flash",
	VisionModel:     "gemini-2.5-flash",
	MaxOutputTokens: 800,
	MonthlyMessages: 1000,
	ImageMatching:   true,
}

type engineFixture struct {
	engine   *Engine
	provider *scriptedProvider
	carts    *MockCartRepository
}

func newEngineFixture(provider *scriptedProvider, kb domain.KnowledgeBase, used int64, cfg EngineConfig) *engineFixture {
	carts := new(MockCartRepository)
	executor := NewExecutor(carts, new(MockOrderRepository), &recordingCustomers{}, stubProducts{products: testCatalog()}, &recordingStaff{}, nil, time.Minute)
	engine := NewEngine(
		provider,
		executor,
		stubTenants{kb: kb},
		stubProducts{products: testCatalog()},
		stubHistory{recent: []domain.ChatHistoryEntry{
			{UserMessage: "сүүлийн асуулт", AIResponse: "сүүлийн хариу"},
			{UserMessage: "эхний асуулт", AIResponse: "эхний хариу"},
		}},
		stubUsage{used: used},
		stubPlans{plan: testPlan},
		stubImages{},
		cfg,
	)
	return &engineFixture{engine: engine, provider: provider, carts: carts}
}

func testTurn(text string) domain.Turn {
	return domain.Turn{
		Tenant:   &domain.Tenant{ID: 1, Name: "Номин Стор", AIEmotion: domain.EmotionProfessional},
		Customer: &domain.Customer{ID: 10, TenantID: 1},
		Platform: domain.PlatformFacebook,
		Text:     text,
		Intent:   domain.IntentOther,
	}
}

func TestRoute_PlainTextReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{{Content: "  Сайн байна уу!  "}}}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})

	reply, err := f.engine.Route(context.Background(), testTurn("Сайн байна уу"))

	require.NoError(t, err)
	assert.Equal(t, "Сайн байна уу!", reply.Text)
	assert.Empty(t, reply.ToolsUsed)

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.Equal(t, "gemini-2.5-flash", req.Model)
	assert.Equal(t, 800, req.MaxOutputTokens)
	assert.NotEmpty(t, req.Tools)
	assert.Contains(t, req.System, "Номин Стор")
	require.Len(t, req.Messages, 5, "two history turns plus the new message")
	assert.Equal(t, "эхний асуулт", req.Messages[0].Content)
	assert.Equal(t, "Сайн байна уу", req.Messages[4].Content)
}

func TestRoute_QuotaExceeded(t *testing.T) {
	provider := &scriptedProvider{}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 1000, EngineConfig{})

	_, err := f.engine.Route(context.Background(), testTurn("hi"))

	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Empty(t, provider.requests)
}

func TestRoute_QuickReplyTriggerSkipsModel(t *testing.T) {
	provider := &scriptedProvider{}
	kb := domain.KnowledgeBase{QuickReplies: []domain.QuickReplyTrigger{
		{Keywords: []string{"хаяг", "байршил"}, Response: "Манай дэлгүүр Их дэлгүүрийн 3 давхарт байрладаг."},
	}}
	f := newEngineFixture(provider, kb, 0, EngineConfig{})

	reply, err := f.engine.Route(context.Background(), testTurn("Танай ХАЯГ хаана вэ?"))

	require.NoError(t, err)
	assert.Equal(t, "Манай дэлгүүр Их дэлгүүрийн 3 давхарт байрладаг.", reply.Text)
	assert.Empty(t, provider.requests)
}

func TestRoute_ToolRoundThenText(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{
		{ToolCalls: []ToolCall{{ID: "call-1", Name: ToolAddToCart, Arguments: map[string]any{"product_id": float64(1), "variant": "L"}}}},
		{Content: "Хар цамц (L) сагсанд нэмэгдлээ."},
	}}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})
	f.carts.On("AddItem", mock.Anything, int64(1), int64(10), int64(1), mock.Anything, 1).
		Return(&domain.Cart{Items: []domain.CartItem{{ProductID: 1, Quantity: 1, UnitPrice: 35000}}}, nil)

	reply, err := f.engine.Route(context.Background(), testTurn("Хар цамц L авъя"))

	require.NoError(t, err)
	assert.Equal(t, "Хар цамц (L) сагсанд нэмэгдлээ.", reply.Text)
	assert.Equal(t, []string{ToolAddToCart}, reply.ToolsUsed)
	assert.Equal(t, []domain.QuickReply{replyViewCart, replyCheckout}, reply.QuickReplies)

	require.Len(t, provider.requests, 2)
	second := provider.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Equal(t, true, last.Result["success"])
}

func TestRoute_UnknownToolIsReportedToModel(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{
		{ToolCalls: []ToolCall{{ID: "x", Name: "launch_rockets"}}},
		{Content: "Уучлаарай, би тэгж чадахгүй."},
	}}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})

	reply, err := f.engine.Route(context.Background(), testTurn("something"))

	require.NoError(t, err)
	assert.Equal(t, "Уучлаарай, би тэгж чадахгүй.", reply.Text)
	msgs := provider.requests[1].Messages
	assert.Equal(t, false, msgs[len(msgs)-1].Result["success"])
}

func TestRoute_MaxToolRoundsForcesTextAnswer(t *testing.T) {
	loop := &ChatResponse{ToolCalls: []ToolCall{{ID: "v", Name: ToolViewCart}}}
	provider := &scriptedProvider{responses: []*ChatResponse{
		loop, loop,
		{Content: "Таны сагс хоосон байна.", ToolCalls: []ToolCall{{ID: "ignored", Name: ToolViewCart}}},
	}}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{MaxToolRounds: 2})
	f.carts.On("GetActive", mock.Anything, int64(1), int64(10)).Return(&domain.Cart{}, nil)

	reply, err := f.engine.Route(context.Background(), testTurn("сагс"))

	require.NoError(t, err)
	assert.Equal(t, "Таны сагс хоосон байна.", reply.Text)
	require.Len(t, provider.requests, 3)
	assert.NotEmpty(t, provider.requests[1].Tools)
	assert.Nil(t, provider.requests[2].Tools, "the final round runs without tools")
	f.carts.AssertNumberOfCalls(t, "GetActive", 2)
}

func TestRoute_EmptyModelReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{{Content: "   "}}}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})

	_, err := f.engine.Route(context.Background(), testTurn("hi"))

	assert.ErrorIs(t, err, domain.ErrEmptyReply)
}

func TestRoute_ProviderError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("503 Service Unavailable")}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})

	_, err := f.engine.Route(context.Background(), testTurn("hi"))

	assert.Error(t, err)
}

// ============================================================================
// Image path
// ============================================================================

func imageTurn() domain.Turn {
	turn := testTurn("энэ байгаа юу?")
	turn.ImageURLs = []string{"https://cdn.example.com/in.jpg", "https://cdn.example.com/in2.jpg"}
	return turn
}

func TestRoute_ImageSingleMatch(t *testing.T) {
	provider := &scriptedProvider{analysis: &ImageAnalysis{MatchedProductIDs: []int64{2}}}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})

	reply, err := f.engine.Route(context.Background(), imageTurn())

	require.NoError(t, err)
	require.NotNil(t, reply.ImageAction)
	assert.Equal(t, domain.ImageActionSingle, reply.ImageAction.Type)
	assert.Equal(t, int64(2), reply.ImageAction.Products[0].ProductID)
	assert.Equal(t, 24000.0, reply.ImageAction.Products[0].Price, "discounted price")
	assert.Contains(t, reply.Text, "Цагаан цамц")
	assert.Contains(t, reply.Text, "Үлдэгдэл: 3")
	assert.Empty(t, provider.requests, "the image path never enters the tool loop")

	require.NotNil(t, provider.imageReq)
	assert.Equal(t, "image/jpeg", provider.imageReq.MimeType)
	assert.Equal(t, "энэ байгаа юу?", provider.imageReq.Caption)
	assert.Len(t, provider.imageReq.Catalog, 3)
}

func TestRoute_ImageSeveralMatchesAsksToConfirm(t *testing.T) {
	provider := &scriptedProvider{analysis: &ImageAnalysis{MatchedProductIDs: []int64{1, 99, 2, 1}}}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})

	reply, err := f.engine.Route(context.Background(), imageTurn())

	require.NoError(t, err)
	require.NotNil(t, reply.ImageAction)
	assert.Equal(t, domain.ImageActionConfirm, reply.ImageAction.Type)
	require.Len(t, reply.ImageAction.Products, 2, "unknown and repeated ids are dropped")
	assert.Equal(t, int64(1), reply.ImageAction.Products[0].ProductID)
	assert.Equal(t, imageConfirmText, reply.Text)
}

func TestRoute_ImageNoMatch(t *testing.T) {
	t.Run("with description", func(t *testing.T) {
		provider := &scriptedProvider{analysis: &ImageAnalysis{Description: "Улаан өнгийн пальто"}}
		f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})

		reply, err := f.engine.Route(context.Background(), imageTurn())

		require.NoError(t, err)
		assert.Equal(t, "Улаан өнгийн пальто", reply.Text)
		assert.Nil(t, reply.ImageAction)
	})

	t.Run("unrecognized", func(t *testing.T) {
		provider := &scriptedProvider{analysis: &ImageAnalysis{}}
		f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})

		reply, err := f.engine.Route(context.Background(), imageTurn())

		require.NoError(t, err)
		assert.Equal(t, imageUnrecognizedText, reply.Text)
	})
}

func TestRoute_ImageDownloadFailure(t *testing.T) {
	provider := &scriptedProvider{analysis: &ImageAnalysis{}}
	f := newEngineFixture(provider, domain.KnowledgeBase{}, 0, EngineConfig{})
	f.engine.images = stubImages{err: errors.New("404")}

	_, err := f.engine.Route(context.Background(), imageTurn())

	assert.Error(t, err)
}

// ============================================================================
// Helpers
// ============================================================================

func TestMatchQuickReply(t *testing.T) {
	triggers := []domain.QuickReplyTrigger{
		{Keywords: []string{"  "}, Response: "never"},
		{Keywords: []string{"хүргэлт"}, Response: ""},
		{Keywords: []string{"Хүргэлт"}, Response: "Хүргэлт 24 цагийн дотор."},
	}

	answer, ok := MatchQuickReply(triggers, "хүргэлт хэд хоног вэ")
	assert.True(t, ok)
	assert.Equal(t, "Хүргэлт 24 цагийн дотор.", answer)

	_, ok = MatchQuickReply(triggers, "   ")
	assert.False(t, ok)

	_, ok = MatchQuickReply(triggers, "үнэ")
	assert.False(t, ok)
}

func TestSuggestQuickReplies(t *testing.T) {
	assert.Nil(t, SuggestQuickReplies(nil))
	assert.Equal(t, []domain.QuickReply{replyAddCart, replyProducts}, SuggestQuickReplies([]string{ToolAddToCart, ToolShowProductImage}))
	assert.Nil(t, SuggestQuickReplies([]string{ToolRememberPreference}))
}

func TestHistoryMessages_Chronological(t *testing.T) {
	msgs := HistoryMessages([]domain.ChatHistoryEntry{
		{UserMessage: "2", AIResponse: "b"},
		{UserMessage: "1", AIResponse: ""},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, Message{Role: RoleUser, Content: "1"}, msgs[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "2"}, msgs[1])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "b"}, msgs[2])
}

func TestSystemPrompt_RendersCatalogAndCustomer(t *testing.T) {
	tenant := &domain.Tenant{
		Name:            "Номин Стор",
		AIInstructions:  "Үргэлж эелдэг бай.",
		Policies:        domain.Policies{Shipping: "УБ дотор үнэгүй"},
		CustomKnowledge: map[string]string{"b": "2", "a": "1"},
	}
	customer := &domain.Customer{Name: strPtr("Бат"), Memory: map[string]string{"size": "L"}, OrderCount: 2}

	sc := BuildShopContext(tenant, customer, testCatalog(), nil)
	prompt := sc.SystemPrompt()

	assert.Equal(t, domain.EmotionFriendly, sc.Emotion)
	assert.Contains(t, prompt, "Үргэлж эелдэг бай.")
	assert.Contains(t, prompt, "[2] Цагаан цамц")
	assert.Contains(t, prompt, "-20%")
	assert.Contains(t, prompt, "variants: M(4), L(6)")
	assert.Contains(t, prompt, "Shipping: УБ дотор үнэгүй")
	assert.Contains(t, prompt, "Name: Бат")
	assert.Contains(t, prompt, "- size: L")
	assert.Less(t, strings.Index(prompt, "- a: 1"), strings.Index(prompt, "- b: 2"), "map keys are sorted")
}
