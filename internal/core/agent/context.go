package agent

import (
	"fmt"
	"sort"
	"strings"

	"storefront-chat/internal/core/domain"
)

// ProductInfo is a catalog entry with every optional field coerced to a
// concrete value so prompt rendering never sees a nil
type ProductInfo struct {
	ID          int64
	Name        string
	Description string
	Category    string
	Price       float64
	FinalPrice  float64
	Discount    float64
	Available   int
	ImageURL    string
	Variants    []domain.ProductVariant
}

// ShopContext is everything the model needs to answer for one tenant
type ShopContext struct {
	ShopName     string
	Emotion      domain.Emotion
	Instructions string
	Products     []ProductInfo
	Knowledge    domain.KnowledgeBase
	Policies     domain.Policies
	Custom       map[string]string

	CustomerName   string
	CustomerPhone  string
	OrderCount     int
	CustomerMemory map[string]string
}

// BuildShopContext normalizes tenant, catalog and customer data
func BuildShopContext(tenant *domain.Tenant, customer *domain.Customer, products []domain.Product, kb *domain.KnowledgeBase) ShopContext {
	sc := ShopContext{
		ShopName:     tenant.Name,
		Emotion:      tenant.AIEmotion,
		Instructions: strings.TrimSpace(tenant.AIInstructions),
		Policies:     tenant.Policies,
		Custom:       tenant.CustomKnowledge,
		Products:     make([]ProductInfo, 0, len(products)),
	}
	if sc.Emotion == "" {
		sc.Emotion = domain.EmotionFriendly
	}
	if kb != nil {
		sc.Knowledge = *kb
	}
	if customer != nil {
		sc.CustomerName = customer.DisplayName()
		if customer.Phone != nil {
			sc.CustomerPhone = *customer.Phone
		}
		sc.OrderCount = customer.OrderCount
		sc.CustomerMemory = customer.Memory
	}

	for i := range products {
		p := &products[i]
		info := ProductInfo{
			ID:         p.ID,
			Name:       p.Name,
			Price:      p.Price,
			FinalPrice: p.EffectivePrice(),
			Available:  p.Available(),
			Variants:   p.Variants,
		}
		if p.Description != nil {
			info.Description = *p.Description
		}
		if p.Category != nil {
			info.Category = *p.Category
		}
		if p.ImageURL != nil {
			info.ImageURL = *p.ImageURL
		}
		if p.DiscountPercent != nil && *p.DiscountPercent > 0 {
			info.Discount = *p.DiscountPercent
		}
		if info.Variants == nil {
			info.Variants = []domain.ProductVariant{}
		}
		sc.Products = append(sc.Products, info)
	}
	return sc
}

var emotionStyles = map[domain.Emotion]string{
	domain.EmotionFriendly:     "Be warm and friendly, use light emoji.",
	domain.EmotionProfessional: "Be polite, concise and professional. No emoji.",
	domain.EmotionEnthusiastic: "Be energetic and enthusiastic about the products.",
	domain.EmotionCalm:         "Be calm, patient and reassuring.",
	domain.EmotionPlayful:      "Be playful and witty while staying helpful.",
}

var emotionTemperatures = map[domain.Emotion]float32{
	domain.EmotionFriendly:     0.7,
	domain.EmotionProfessional: 0.3,
	domain.EmotionEnthusiastic: 0.9,
	domain.EmotionCalm:         0.4,
	domain.EmotionPlayful:      1.0,
}

// Temperature maps the configured personality to a sampling temperature
func (sc ShopContext) Temperature() float32 {
	if t, ok := emotionTemperatures[sc.Emotion]; ok {
		return t
	}
	return 0.7
}

// SystemPrompt renders the shop context as the model's system instruction
func (sc ShopContext) SystemPrompt() string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the sales assistant of the online shop %q. Reply in the customer's language (usually Mongolian).\n", sc.ShopName)
	if style, ok := emotionStyles[sc.Emotion]; ok {
		b.WriteString(style + "\n")
	}
	b.WriteString("Only sell products from the catalog below. Never invent prices or stock. Use the tools to change the cart, create orders, show photos or hand over to staff.\n")
	if sc.Instructions != "" {
		b.WriteString("\n## Shop instructions\n" + sc.Instructions + "\n")
	}

	b.WriteString("\n## Catalog\n")
	if len(sc.Products) == 0 {
		b.WriteString("(no products available)\n")
	}
	for _, p := range sc.Products {
		fmt.Fprintf(&b, "- [%d] %s: %s", p.ID, p.Name, domain.FormatPrice(p.FinalPrice))
		if p.Discount > 0 {
			fmt.Fprintf(&b, " (-%.0f%%, was %s)", p.Discount, domain.FormatPrice(p.Price))
		}
		fmt.Fprintf(&b, ", in stock: %d", p.Available)
		if p.Category != "" {
			fmt.Fprintf(&b, ", category: %s", p.Category)
		}
		if len(p.Variants) > 0 {
			names := make([]string, 0, len(p.Variants))
			for _, v := range p.Variants {
				names = append(names, fmt.Sprintf("%s(%d)", v.Name, v.Stock))
			}
			fmt.Fprintf(&b, ", variants: %s", strings.Join(names, ", "))
		}
		if p.ImageURL != "" {
			b.WriteString(", has photo")
		}
		if p.Description != "" {
			fmt.Fprintf(&b, "\n  %s", p.Description)
		}
		b.WriteString("\n")
	}

	if pol := sc.Policies; pol != (domain.Policies{}) {
		b.WriteString("\n## Policies\n")
		writeField(&b, "Shipping", pol.Shipping)
		writeField(&b, "Returns", pol.Return)
		writeField(&b, "Payment", pol.Payment)
		writeField(&b, "Warranty", pol.Warranty)
	}

	if len(sc.Knowledge.FAQs) > 0 {
		b.WriteString("\n## FAQ\n")
		for _, f := range sc.Knowledge.FAQs {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", f.Question, f.Answer)
		}
	}
	if len(sc.Knowledge.Slogans) > 0 {
		b.WriteString("\n## Slogans\n" + strings.Join(sc.Knowledge.Slogans, "\n") + "\n")
	}
	if len(sc.Custom) > 0 {
		b.WriteString("\n## Additional shop knowledge\n")
		writeMap(&b, sc.Custom)
	}

	b.WriteString("\n## Customer\n")
	writeField(&b, "Name", sc.CustomerName)
	writeField(&b, "Phone", sc.CustomerPhone)
	fmt.Fprintf(&b, "Previous orders: %d\n", sc.OrderCount)
	if len(sc.CustomerMemory) > 0 {
		b.WriteString("Remembered preferences:\n")
		writeMap(&b, sc.CustomerMemory)
	}
	return b.String()
}

// Catalog returns the entries the vision model matches photos against
func (sc ShopContext) Catalog() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(sc.Products))
	for _, p := range sc.Products {
		out = append(out, CatalogEntry{ID: p.ID, Name: p.Name, Description: p.Description, Category: p.Category})
	}
	return out
}

// HistoryMessages converts newest-first history rows into chronological
// user/assistant messages
func HistoryMessages(newestFirst []domain.ChatHistoryEntry) []Message {
	msgs := make([]Message, 0, len(newestFirst)*2)
	for i := len(newestFirst) - 1; i >= 0; i-- {
		h := newestFirst[i]
		if h.UserMessage != "" {
			msgs = append(msgs, Message{Role: RoleUser, Content: h.UserMessage})
		}
		if h.AIResponse != "" {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: h.AIResponse})
		}
	}
	return msgs
}

func writeField(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

// writeMap renders keys sorted so the prompt is stable across requests
func writeMap(b *strings.Builder, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, m[k])
	}
}
