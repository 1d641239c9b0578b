package upc

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const suggestionURL = "https://catalog.test.example.com/suggestion"

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(Options{BaseURL: suggestionURL, RatePerMinute: -1}, slog.Default())
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestLookupFound(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", suggestionURL,
		httpmock.NewStringResponder(200, `{
			"products": [{
				"id": 12345,
				"name": "Vitamin C 1000mg",
				"partNumber": "ABC-00123",
				"price": 14.25,
				"listPrice": 18.99,
				"inStock": true,
				"image": "https://img.example.com/abc.jpg",
				"brand": "Acme"
			}]
		}`))

	result := c.Lookup(context.Background(), "012345678905")

	assert.True(t, result.Found)
	assert.Equal(t, "012345678905", result.UPC)
	assert.Equal(t, "12345", result.ProductID)
	assert.Equal(t, "Vitamin C 1000mg", result.Name)
	assert.Equal(t, "https://www.iherb.com/pr/ABC-00123", result.URL)
	assert.Equal(t, 14.25, result.Price)
	assert.Equal(t, 18.99, result.ListPrice)
	assert.True(t, result.InStock)
	assert.Equal(t, "Acme", result.Brand)
	assert.Empty(t, result.Error)

	// The lookup keyword is the raw UPC.
	info := httpmock.GetCallCountInfo()
	require.Len(t, info, 1)
}

func TestLookupNoMatch(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", suggestionURL,
		httpmock.NewStringResponder(200, `{"products": []}`))

	result := c.Lookup(context.Background(), "000000000000")

	assert.False(t, result.Found)
	assert.Equal(t, "no products found", result.Error)
}

func TestLookupTransportFailuresAreReportedNotReturned(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		wantError string
	}{
		{
			name:      "server error",
			responder: httpmock.NewStringResponder(503, "unavailable"),
			wantError: "unexpected status 503",
		},
		{
			name:      "malformed payload",
			responder: httpmock.NewStringResponder(200, "<html>not json</html>"),
			wantError: "invalid API response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMockedClient(t)
			httpmock.RegisterResponder("GET", suggestionURL, tt.responder)

			result := c.Lookup(context.Background(), "012345678905")
			assert.False(t, result.Found)
			assert.Contains(t, result.Error, tt.wantError)
		})
	}
}

func TestLookupBatchKeepsGoing(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", suggestionURL,
		httpmock.NewStringResponder(200, `{"products": []}`))

	results := c.LookupBatch(context.Background(), []string{"1", "2", "3"})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Found)
	}
}

func TestLookupBatchStopsOnContextCancel(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", suggestionURL,
		httpmock.NewStringResponder(200, `{"products": []}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := c.LookupBatch(ctx, []string{"1", "2", "3"})
	assert.Empty(t, results)
}
