package proxy

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/mapgrid/tileproxy/internal/secrets"
)

// AuthInjector rewrites an upstream URL to carry a provider credential.
// Credentials stay server-side: injection happens after cache key
// construction, so keys never contain secrets.
type AuthInjector func(rawURL string, cred secrets.Credential) (string, error)

// authInjectors maps provider names to their injection strategy. Every
// currently known provider authenticates via query parameters, so they all
// share the default injector; the registry exists so a header-based
// provider can be added without touching the dispatch path.
var authInjectors = map[string]AuthInjector{
	"maptiler":    injectQueryParams,
	"mapbox":      injectQueryParams,
	"tracestrack": injectQueryParams,
}

// injectorFor returns the injection strategy for a provider.
func injectorFor(provider string) AuthInjector {
	if inj, ok := authInjectors[provider]; ok {
		return inj
	}
	return injectQueryParams
}

// injectQueryParams merges every credential entry into the URL's query
// string. The credential overrides parameters already present in the URL:
// scraped tile templates embed the key captured at scrape time, and the
// configured credential must replace it for key rotation to take effect.
func injectQueryParams(rawURL string, cred secrets.Credential) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream URL %q: %w", rawURL, err)
	}
	query := u.Query()

	names := make([]string, 0, len(cred))
	for name := range cred {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		query.Set(name, cred[name])
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
