package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"storefront-chat/internal/core/domain"
)

func TestGenerateFallbackResponse_Deterministic(t *testing.T) {
	intents := []domain.Intent{
		domain.IntentGreeting, domain.IntentPriceCheck, domain.IntentStockCheck,
		domain.IntentOrderCreate, domain.IntentOrderStatus, domain.IntentComplaint,
		domain.IntentThankYou, domain.IntentOther, domain.IntentProductInquiry,
	}
	for _, intent := range intents {
		t.Run(string(intent), func(t *testing.T) {
			a := GenerateFallbackResponse(intent, "Номин Стор", nil)
			b := GenerateFallbackResponse(intent, "Номин Стор", nil)
			assert.Equal(t, a, b)
			assert.Contains(t, a, "Номин Стор")
		})
	}
}

func TestGenerateFallbackResponse_BlankShopName(t *testing.T) {
	got := GenerateFallbackResponse(domain.IntentGreeting, "   ", nil)
	assert.Contains(t, got, "Манай дэлгүүр")
}

func TestGenerateFallbackResponse_UnknownIntentUsesOther(t *testing.T) {
	assert.Equal(t,
		GenerateFallbackResponse(domain.IntentOther, "Shop", nil),
		GenerateFallbackResponse(domain.Intent("SOMETHING_NEW"), "Shop", nil),
	)
}

func TestGenerateFallbackResponse_ProductInquiryListsTopThree(t *testing.T) {
	discount := 10.0
	products := []domain.Product{
		{Name: "Цамц", Price: 35000},
		{Name: "Өмд", Price: 50000, DiscountPercent: &discount},
		{Name: "Малгай", Price: 15000},
		{Name: "Ороолт", Price: 20000},
	}

	got := GenerateFallbackResponse(domain.IntentProductInquiry, "Shop", products)

	assert.Contains(t, got, "Цамц")
	assert.Contains(t, got, "Малгай")
	assert.NotContains(t, got, "Ороолт")
	assert.Contains(t, got, domain.FormatPrice(45000))
	assert.Equal(t, 3, strings.Count(got, "•"))
}
