package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileStore serves profiles from a JSON file loaded once at construction.
// The file maps site identifiers to field rules:
//
//	{
//	  "example.com": {
//	    "name":  {"patterns": [{"selector": "h1.product-title"}]},
//	    "image": {"patterns": [{"selector": ".gallery img", "attr": "src"}]}
//	  }
//	}
type FileStore struct {
	profiles map[string]*SiteProfile
}

// NewFileStore loads profiles from path. A missing file yields an empty
// store rather than an error, so a deployment without site overrides works
// out of the box.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{profiles: make(map[string]*SiteProfile)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var raw map[string]map[Field]FieldRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for site, rules := range raw {
		site = normalizeSite(site)
		fs.profiles[site] = &SiteProfile{Site: site, Rules: rules}
	}

	return fs, nil
}

func (fs *FileStore) Get(_ context.Context, site string) (*SiteProfile, bool, error) {
	p, ok := fs.profiles[normalizeSite(site)]
	return p, ok, nil
}

// Len reports how many site profiles are loaded.
func (fs *FileStore) Len() int {
	return len(fs.profiles)
}
