// Package profile defines per-site extraction rules and the stores that
// serve them. Profiles are edited out of band and read-only during scraping;
// a missing profile for a site is valid and means the resolver relies on its
// common and fallback tiers alone.
package profile

import (
	"context"
	"strings"
)

// Field names a product attribute the resolver can extract.
type Field string

const (
	FieldName        Field = "name"
	FieldPrice       Field = "price"
	FieldDescription Field = "description"
	FieldImage       Field = "image"
	FieldCurrency    Field = "currency"
	FieldIdentifier  Field = "identifier"
)

// Pattern is one structural selector plus its extraction mode. An empty
// Attr means the element's text content; otherwise the named attribute
// value is extracted (e.g. "src" for images).
type Pattern struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr,omitempty"`
}

// FieldRule is an ordered sequence of patterns for one field. Patterns are
// tried in order; the first structural match with non-empty normalized
// output wins.
type FieldRule struct {
	Patterns []Pattern `json:"patterns"`
}

// SiteProfile maps a site (registrable domain) to at most one rule per field.
type SiteProfile struct {
	Site  string              `json:"site"`
	Rules map[Field]FieldRule `json:"rules"`
}

// Rule returns the rule for a field, if the profile defines one.
func (p *SiteProfile) Rule(field Field) (FieldRule, bool) {
	if p == nil || p.Rules == nil {
		return FieldRule{}, false
	}
	rule, ok := p.Rules[field]
	return rule, ok && len(rule.Patterns) > 0
}

// Store provides read access to site profiles by site identifier. Writes
// happen out of band, never from the scraping engine.
type Store interface {
	// Get returns the profile for a site, or (nil, false) when none exists.
	Get(ctx context.Context, site string) (*SiteProfile, bool, error)
}

// normalizeSite lowercases and strips a leading www prefix so lookups match
// regardless of how the URL was written.
func normalizeSite(site string) string {
	site = strings.ToLower(strings.TrimSpace(site))
	return strings.TrimPrefix(site, "www.")
}
