package resolver

import (
	"github.com/maltedev/price-tracker/internal/profile"
)

// commonPatterns is the fixed middle tier of the cascade: schema.org
// semantic attributes and the id/class conventions of the major storefront
// platforms, per field, in priority order.
var commonPatterns = map[profile.Field][]profile.Pattern{
	profile.FieldName: {
		{Selector: `h1[itemprop="name"]`},
		{Selector: `h1.product-title`},
		{Selector: `h1#productTitle`},
		{Selector: `h1.product-name`},
		{Selector: `[data-testid="product-title"]`},
		{Selector: `.product-title`},
		{Selector: `#product-title`},
		{Selector: `meta[property="og:title"]`, Attr: "content"},
	},
	profile.FieldPrice: {
		{Selector: `[itemprop="price"]`},
		{Selector: `meta[property="product:price:amount"]`, Attr: "content"},
		{Selector: `#priceblock_ourprice`},
		{Selector: `#priceblock_dealprice`},
		{Selector: `.product-price`},
		{Selector: `[data-testid="product-price"]`},
		{Selector: `.a-price-whole`},
		{Selector: `span.price`},
		{Selector: `.price`},
	},
	profile.FieldDescription: {
		{Selector: `[itemprop="description"]`},
		{Selector: `#productDescription`},
		{Selector: `.product-description`},
		{Selector: `[data-testid="product-description"]`},
		{Selector: `.description`},
		{Selector: `meta[name="description"]`, Attr: "content"},
	},
	profile.FieldImage: {
		{Selector: `img[itemprop="image"]`, Attr: "src"},
		{Selector: `.product-image img`, Attr: "src"},
		{Selector: `#landingImage`, Attr: "src"},
		{Selector: `#imgTagWrapperId img`, Attr: "src"},
		{Selector: `[data-testid="product-image"]`, Attr: "src"},
		{Selector: `.gallery-image img`, Attr: "src"},
		{Selector: `.product-image img`, Attr: "data-src"},
		{Selector: `.gallery-image img`, Attr: "data-src"},
	},
	profile.FieldCurrency: {
		{Selector: `meta[property="product:price:currency"]`, Attr: "content"},
		{Selector: `meta[itemprop="priceCurrency"]`, Attr: "content"},
		{Selector: `[itemprop="priceCurrency"]`, Attr: "content"},
	},
	profile.FieldIdentifier: {
		{Selector: `[itemprop="sku"]`},
		{Selector: `[itemprop="gtin13"]`},
		{Selector: `meta[itemprop="gtin13"]`, Attr: "content"},
	},
}
