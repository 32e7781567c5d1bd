package domain

import (
	"math"
	"strconv"
	"strings"
)

// FormatPrice renders a tugrik amount with thousands separators: 25,000₮
func FormatPrice(amount float64) string {
	n := int64(math.Round(amount))
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteString("₮")
	return b.String()
}
