package extractor

import (
	"strconv"
	"strings"
)

// symbolCurrencies maps currency symbols found in price text to ISO codes.
var symbolCurrencies = []struct {
	symbol string
	code   string
}{
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
}

// ParsePrice normalizes raw price text to a decimal value. All characters
// other than digits and the decimal separator are stripped, so "$1,299.00"
// parses to 1299.00. When no digits are present (or the remainder is not a
// valid decimal) the value defaults to 0.0 and unparsed is true: a genuine
// zero price and an unparseable one are deliberately kept distinguishable
// by the flag, not by the value.
func ParsePrice(text string) (value float64, unparsed bool) {
	var b strings.Builder
	hasDigit := false

	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
		}
	}

	if !hasDigit {
		return 0, true
	}

	v, err := strconv.ParseFloat(strings.Trim(b.String(), "."), 64)
	if err != nil || v < 0 {
		return 0, true
	}

	return v, false
}

// InferCurrency resolves the ISO currency code for a product. An explicit
// resolved value wins (symbol or ISO code); otherwise the price text is
// scanned for a known symbol; otherwise USD.
func InferCurrency(resolved, priceText string) string {
	resolved = strings.TrimSpace(resolved)

	if resolved != "" {
		for _, sc := range symbolCurrencies {
			if strings.Contains(resolved, sc.symbol) {
				return sc.code
			}
		}
		if len(resolved) == 3 {
			return strings.ToUpper(resolved)
		}
	}

	for _, sc := range symbolCurrencies {
		if strings.Contains(priceText, sc.symbol) {
			return sc.code
		}
	}

	return "USD"
}
