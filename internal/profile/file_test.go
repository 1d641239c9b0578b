package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileStoreLoadsProfiles(t *testing.T) {
	path := writeProfiles(t, `{
		"Example.com": {
			"name":  {"patterns": [{"selector": "h1.title"}]},
			"image": {"patterns": [{"selector": ".gallery img", "attr": "src"}]}
		},
		"www.shop.net": {
			"price": {"patterns": [{"selector": ".price-now"}]}
		}
	}`)

	store, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	prof, ok, err := store.Get(context.Background(), "example.com")
	require.NoError(t, err)
	require.True(t, ok)

	rule, ok := prof.Rule(FieldName)
	require.True(t, ok)
	require.Len(t, rule.Patterns, 1)
	assert.Equal(t, "h1.title", rule.Patterns[0].Selector)

	rule, ok = prof.Rule(FieldImage)
	require.True(t, ok)
	assert.Equal(t, "src", rule.Patterns[0].Attr)
}

func TestFileStoreNormalizesSiteKeys(t *testing.T) {
	path := writeProfiles(t, `{"www.shop.net": {"price": {"patterns": [{"selector": ".p"}]}}}`)

	store, err := NewFileStore(path)
	require.NoError(t, err)

	for _, lookup := range []string{"shop.net", "www.shop.net", "SHOP.NET"} {
		_, ok, err := store.Get(context.Background(), lookup)
		require.NoError(t, err)
		assert.True(t, ok, "lookup %q should hit", lookup)
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Zero(t, store.Len())

	_, ok, err := store.Get(context.Background(), "example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreMalformedFile(t *testing.T) {
	path := writeProfiles(t, `{not json`)

	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestRuleNilSafety(t *testing.T) {
	var p *SiteProfile
	_, ok := p.Rule(FieldName)
	assert.False(t, ok)

	empty := &SiteProfile{Site: "x"}
	_, ok = empty.Rule(FieldPrice)
	assert.False(t, ok)

	// A rule with no patterns is the same as no rule.
	noPatterns := &SiteProfile{Site: "x", Rules: map[Field]FieldRule{FieldPrice: {}}}
	_, ok = noPatterns.Rule(FieldPrice)
	assert.False(t, ok)
}
