package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantValue    float64
		wantUnparsed bool
	}{
		{
			name:      "dollar with thousands separator",
			text:      "$1,299.00",
			wantValue: 1299.00,
		},
		{
			name:      "plain number",
			text:      "49.99",
			wantValue: 49.99,
		},
		{
			name:      "currency suffix",
			text:      "19,99 €",
			wantValue: 1999,
		},
		{
			name:      "surrounding text",
			text:      "Now only $5.49 while stocks last",
			wantValue: 5.49,
		},
		{
			name:      "genuine zero",
			text:      "0.00",
			wantValue: 0,
		},
		{
			name:         "no digits",
			text:         "Currently unavailable",
			wantValue:    0,
			wantUnparsed: true,
		},
		{
			name:         "empty string",
			text:         "",
			wantValue:    0,
			wantUnparsed: true,
		},
		{
			name:         "digits with multiple dots",
			text:         "1.2.3.4",
			wantValue:    0,
			wantUnparsed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, unparsed := ParsePrice(tt.text)
			assert.Equal(t, tt.wantValue, value)
			assert.Equal(t, tt.wantUnparsed, unparsed, "a zero price and an unparseable one must stay distinguishable")
		})
	}
}

func TestInferCurrency(t *testing.T) {
	tests := []struct {
		name      string
		resolved  string
		priceText string
		want      string
	}{
		{name: "resolved ISO code", resolved: "eur", want: "EUR"},
		{name: "resolved symbol", resolved: "£", want: "GBP"},
		{name: "symbol in price text", priceText: "¥1200", want: "JPY"},
		{name: "euro in price text", priceText: "19,99 €", want: "EUR"},
		{name: "resolved wins over price text", resolved: "GBP", priceText: "$10", want: "GBP"},
		{name: "default", priceText: "1299.00", want: "USD"},
		{name: "nothing at all", want: "USD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferCurrency(tt.resolved, tt.priceText))
		})
	}
}
