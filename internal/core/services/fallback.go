package services

import (
	"fmt"
	"strings"

	"storefront-chat/internal/core/domain"
)

// maxFallbackProducts caps the catalog listing in PRODUCT_INQUIRY fallbacks
const maxFallbackProducts = 3

var fallbackTemplates = map[domain.Intent]string{
	domain.IntentGreeting:    "Сайн байна уу! %s-д тавтай морил 😊 Танд юугаар туслах вэ?",
	domain.IntentPriceCheck:  "%s: Үнийн мэдээллийг шалгаж байна. Та сонирхож буй бүтээгдэхүүнийхээ нэрийг бичнэ үү.",
	domain.IntentStockCheck:  "%s: Үлдэгдлийг шалгаад удахгүй хариу өгөх болно. Бүтээгдэхүүний нэр, размераа бичнэ үү.",
	domain.IntentOrderCreate: "%s: Захиалга өгөхөд баярлалаа! Утасны дугаар, хүргэлтийн хаягаа үлдээнэ үү, бид удахгүй холбогдоно.",
	domain.IntentOrderStatus: "%s: Таны захиалгын мэдээллийг шалгаж байна. Ажилтан удахгүй холбогдох болно.",
	domain.IntentComplaint:   "%s: Уучлаарай, танд тохиолдсон асуудлыг ажилтанд дамжууллаа. Бид аль болох хурдан холбогдоно.",
	domain.IntentThankYou:    "Баярлалаа! %s-г сонгосонд талархаж байна 🙏",
	domain.IntentOther:       "%s: Таны мессежийг хүлээн авлаа. Удахгүй хариу өгөх болно.",
}

// GenerateFallbackResponse returns the canned, tenant-branded reply for an intent
// Pure and deterministic for the same inputs
func GenerateFallbackResponse(intent domain.Intent, tenantName string, products []domain.Product) string {
	name := strings.TrimSpace(tenantName)
	if name == "" {
		name = "Манай дэлгүүр"
	}

	if intent == domain.IntentProductInquiry {
		return productInquiryFallback(name, products)
	}

	tmpl, ok := fallbackTemplates[intent]
	if !ok {
		tmpl = fallbackTemplates[domain.IntentOther]
	}
	return fmt.Sprintf(tmpl, name)
}

func productInquiryFallback(shop string, products []domain.Product) string {
	if len(products) == 0 {
		return fmt.Sprintf("%s: Бүтээгдэхүүний мэдээллийг удахгүй илгээх болно. Та сонирхож буй барааныхаа нэрийг бичнэ үү.", shop)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s-ийн бүтээгдэхүүнүүдээс:\n", shop)
	for i, p := range products {
		if i == maxFallbackProducts {
			break
		}
		fmt.Fprintf(&b, "• %s - %s\n", p.Name, domain.FormatPrice(p.EffectivePrice()))
	}
	b.WriteString("Дэлгэрэнгүй мэдээлэл авах бол барааны нэрийг бичээрэй.")
	return b.String()
}
