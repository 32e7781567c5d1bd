package services

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"storefront-chat/internal/core/domain"
)

// intentRule maps keywords to an intent; rules are evaluated in order
type intentRule struct {
	intent   domain.Intent
	keywords []string
}

// Order matters: a complaint that mentions an order is still a complaint
var intentRules = []intentRule{
	{domain.IntentComplaint, []string{
		"гомдол", "асуудал", "муу байна", "эвдэрсэн", "гэмтэлтэй", "луйвар", "буцаан олго", "мөнгөө буцаа",
		"gomdol", "asuudal", "complaint", "broken", "refund", "scam", "terrible",
	}},
	{domain.IntentOrderStatus, []string{
		"захиалга хаана", "захиалгын төлөв", "захиалга маань", "хүргэлт хэзээ", "хэзээ ирэх", "хэзээ хүргэ",
		"zahialga haana", "hezee ireh", "order status", "where is my order", "tracking",
	}},
	{domain.IntentOrderCreate, []string{
		"захиал", "авъя", "авья", "худалдаж ав", "сагсанд", "төлбөр төл",
		"zahial", "avya", "checkout", "buy", "purchase", "order",
	}},
	{domain.IntentPriceCheck, []string{
		"үнэ", "үний", "хэд вэ", "хэдээр", "хямдрал",
		"une", "hed ve", "hedeer", "price", "how much", "cost", "discount",
	}},
	{domain.IntentStockCheck, []string{
		"байгаа юу", "байна уу тэр", "үлдэгдэл", "бэлэн байгаа", "дууссан", "размер", "хэмжээ",
		"baigaa yu", "uldegdel", "in stock", "available", "size",
	}},
	{domain.IntentThankYou, []string{
		"баярлалаа", "баярлаа", "гоё байна", "рахмат",
		"bayarlalaa", "bayrlalaa", "thanks", "thank you", "thx",
	}},
	{domain.IntentGreeting, []string{
		"сайн байна уу", "сайн уу", "сайн байцгаана уу", "мэнд", "өглөөний мэнд", "оройн мэнд",
		"sain baina uu", "sain uu", "hello", "hi", "hey", "good morning",
	}},
	{domain.IntentProductInquiry, []string{
		"бараа", "бүтээгдэхүүн", "юу байна", "зураг", "харуул", "үзүүл", "шинэ ирсэн", "каталог",
		"baraa", "buteegdehuun", "product", "catalog", "picture", "photo", "show me",
	}},
}

// DetectIntent classifies message text into a coarse intent
// Pure and side-effect-free: safe to run before gating
func DetectIntent(text string) domain.Intent {
	normalized := normalizeForIntent(text)
	if normalized == "" {
		return domain.IntentOther
	}
	tokens := strings.Fields(normalized)
	padded := " " + normalized + " "

	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if matchKeyword(padded, tokens, kw) {
				return rule.intent
			}
		}
	}
	return domain.IntentOther
}

// matchKeyword: phrases match on word boundaries, short words must match a
// whole token, longer words match token prefixes (agglutinative suffixes)
func matchKeyword(padded string, tokens []string, kw string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(padded, " "+kw)
	}
	short := utf8.RuneCountInString(kw) <= 3
	for _, tok := range tokens {
		if short && tok == kw {
			return true
		}
		if !short && strings.HasPrefix(tok, kw) {
			return true
		}
	}
	return false
}

func normalizeForIntent(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
