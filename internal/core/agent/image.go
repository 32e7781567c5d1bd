package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"storefront-chat/internal/core/domain"
)

const (
	imageConfirmText      = "Та аль барааг хайж байгаа вэ? Доороос сонгоно уу 👇"
	imageUnrecognizedText = "Уучлаарай, зурагнаас бүтээгдэхүүнийг таньж чадсангүй. Барааны нэр эсвэл өөр зураг илгээнэ үү."
)

// routeImage matches the first inbound photo against the catalog.
// Every outcome is terminal; only download or provider failures return an error.
func (e *Engine) routeImage(
	ctx context.Context,
	turn domain.Turn,
	plan domain.Plan,
	shop ShopContext,
	products []domain.Product,
) (*domain.Reply, error) {
	url := turn.ImageURLs[0]
	if len(turn.ImageURLs) > 1 {
		slog.Info("Multiple images in turn, analyzing the first", "count", len(turn.ImageURLs), "customer_id", turn.Customer.ID)
	}

	data, mimeType, err := e.images.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}

	req := ImageRequest{
		Model:    plan.VisionModel,
		Image:    data,
		MimeType: mimeType,
		Caption:  turn.Text,
	}
	if plan.ImageMatching {
		req.Catalog = shop.Catalog()
	}

	analysis, err := e.provider.AnalyzeImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("image analysis failed: %w", err)
	}

	matched := matchedProducts(analysis.MatchedProductIDs, products)
	slog.Info("Image analyzed",
		"tenant_id", turn.Tenant.ID,
		"matches", len(matched),
		"has_description", analysis.Description != "",
	)

	switch {
	case len(matched) == 1:
		card := ToCard(&matched[0])
		return &domain.Reply{
			Text:         productCardText(card),
			ImageAction:  &domain.ImageAction{Type: domain.ImageActionSingle, Products: []domain.ProductCard{card}},
			QuickReplies: []domain.QuickReply{replyAddCart, replyProducts},
			ToolsUsed:    []string{ToolShowProductImage},
		}, nil
	case len(matched) > 1:
		cards := make([]domain.ProductCard, 0, len(matched))
		for i := range matched {
			cards = append(cards, ToCard(&matched[i]))
		}
		return &domain.Reply{
			Text:        imageConfirmText,
			ImageAction: &domain.ImageAction{Type: domain.ImageActionConfirm, Products: cards},
			ToolsUsed:   []string{ToolShowProductImage},
		}, nil
	case strings.TrimSpace(analysis.Description) != "":
		return &domain.Reply{Text: strings.TrimSpace(analysis.Description)}, nil
	default:
		return &domain.Reply{Text: imageUnrecognizedText}, nil
	}
}

// matchedProducts keeps the model's ranking and drops ids outside the
// tenant's active catalog
func matchedProducts(ids []int64, products []domain.Product) []domain.Product {
	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	var out []domain.Product
	seen := make(map[int64]bool)
	for _, id := range ids {
		p, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, p)
	}
	return out
}

func productCardText(card domain.ProductCard) string {
	var b strings.Builder
	b.WriteString(card.Name + "\n")
	b.WriteString("Үнэ: " + domain.FormatPrice(card.Price) + "\n")
	if card.Stock > 0 {
		fmt.Fprintf(&b, "Үлдэгдэл: %d ширхэг", card.Stock)
	} else {
		b.WriteString("Үлдэгдэл: дууссан")
	}
	return b.String()
}
