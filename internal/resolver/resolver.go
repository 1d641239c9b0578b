// Package resolver extracts individual product fields from a parsed page
// using a three-tier rule cascade: site-specific profile patterns, common
// storefront patterns, and a coarse generic fallback. Site markup is
// untrusted and heterogeneous, so a tier that cannot be evaluated is a miss
// for that tier, never an error: failing one field must not abort the others.
package resolver

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/price-tracker/internal/profile"
)

// UnknownProductName is the sentinel returned when every tier misses for
// the name field. Name resolution is guaranteed to return a non-empty value.
const UnknownProductName = "Unknown Product"

// Resolve returns the first value produced by the cascade for the given
// field, or ("", false) when the field is legitimately absent. Tiers are
// evaluated in order and no tier is retried after a hit.
func Resolve(doc *goquery.Document, prof *profile.SiteProfile, field profile.Field) (string, bool) {
	if rule, ok := prof.Rule(field); ok {
		if v, ok := tryPatterns(doc, rule.Patterns); ok {
			return v, true
		}
	}

	if v, ok := tryPatterns(doc, commonPatterns[field]); ok {
		return v, true
	}

	return fallback(doc, field)
}

// ResolveAll returns every distinct value the cascade produces for a
// list-valued field (images). The winning tier contributes all of its
// matches, preserving document order.
func ResolveAll(doc *goquery.Document, prof *profile.SiteProfile, field profile.Field) []string {
	if rule, ok := prof.Rule(field); ok {
		if vs := collectPatterns(doc, rule.Patterns); len(vs) > 0 {
			return vs
		}
	}

	if vs := collectPatterns(doc, commonPatterns[field]); len(vs) > 0 {
		return vs
	}

	return fallbackList(doc, field)
}

// tryPatterns evaluates patterns in order and returns the first non-empty
// normalized value.
func tryPatterns(doc *goquery.Document, patterns []profile.Pattern) (string, bool) {
	for _, p := range patterns {
		if v, ok := evalPattern(doc, p); ok {
			return v, true
		}
	}
	return "", false
}

func collectPatterns(doc *goquery.Document, patterns []profile.Pattern) []string {
	var out []string
	seen := make(map[string]bool)

	for _, p := range patterns {
		for _, v := range evalPatternAll(doc, p) {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
		if len(out) > 0 {
			// First matching pattern wins; later patterns are alternatives,
			// not additions.
			break
		}
	}

	return out
}

// evalPattern extracts one value for a pattern. Selector compilation
// failures panic inside goquery; profiles are external input, so that is
// treated as a structural miss.
func evalPattern(doc *goquery.Document, p profile.Pattern) (v string, ok bool) {
	defer func() {
		if recover() != nil {
			v, ok = "", false
		}
	}()

	sel := doc.Find(p.Selector).First()
	if sel.Length() == 0 {
		return "", false
	}

	v = extract(sel, p.Attr)
	return v, v != ""
}

func evalPatternAll(doc *goquery.Document, p profile.Pattern) (vs []string) {
	defer func() {
		if recover() != nil {
			vs = nil
		}
	}()

	doc.Find(p.Selector).Each(func(_ int, sel *goquery.Selection) {
		if v := extract(sel, p.Attr); v != "" {
			vs = append(vs, v)
		}
	})

	return vs
}

func extract(sel *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := sel.Attr(attr)
		return normalize(v)
	}

	// Meta tags carry their value in the content attribute even when the
	// pattern asks for text.
	if goquery.NodeName(sel) == "meta" {
		v, _ := sel.Attr("content")
		return normalize(v)
	}

	return normalize(sel.Text())
}

// normalize trims and collapses whitespace; a pattern only hits when the
// result is non-empty.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// priceTextRe matches currency-prefixed or -suffixed numeric text, the
// generic last-resort heuristic for the price field.
var priceTextRe = regexp.MustCompile(`(?:[$€£¥]\s*\d[\d,. ]*|\d[\d,.]*\s*[$€£¥])`)

func fallback(doc *goquery.Document, field profile.Field) (string, bool) {
	switch field {
	case profile.FieldName:
		if v := normalize(doc.Find("h1").First().Text()); v != "" {
			return v, true
		}
		if v := normalize(doc.Find("title").First().Text()); v != "" {
			return v, true
		}
		return UnknownProductName, true

	case profile.FieldPrice:
		var found string
		doc.Find("span, div, p, td, b, strong").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := normalize(sel.Text())
			if len(text) > 40 {
				return true
			}
			if m := priceTextRe.FindString(text); m != "" {
				found = m
				return false
			}
			return true
		})
		return found, found != ""

	default:
		// Description, images, currency and identifier may legitimately be
		// absent.
		return "", false
	}
}

func fallbackList(doc *goquery.Document, field profile.Field) []string {
	if field != profile.FieldImage {
		return nil
	}

	var out []string
	seen := make(map[string]bool)

	doc.Find(".product img, #product img, [id*=product] img").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
			if v, ok := sel.Attr(attr); ok {
				if v = normalize(v); v != "" && !seen[v] {
					seen[v] = true
					out = append(out, v)
				}
				break
			}
		}
	})

	return out
}
