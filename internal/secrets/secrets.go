// Package secrets loads provider credentials used to authenticate proxied
// tile requests. Credentials live in a single local JSON file mapping a
// provider name to its auth parameters, e.g.
//
//	{"maptiler": {"key": "abc"}, "mapbox": {"access_token": "pk.xyz"}}
//
// The file is read once at startup; changing it requires a restart.
package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credential is a named bundle of auth query parameters for one provider.
type Credential map[string]string

// ParseError indicates the secrets file exists but could not be decoded.
// It is fatal at startup: a malformed file is a configuration mistake, not
// a condition to silently paper over.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed secrets file %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Store holds provider credentials loaded at process start. It is immutable
// after Load, so concurrent lookups need no locking.
type Store struct {
	creds map[string]Credential
}

// Load reads credentials from path. A missing file is not an error: providers
// without auth remain usable, so Load returns an empty store. A present but
// malformed file returns a *ParseError.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{creds: map[string]Credential{}}, nil
		}
		return nil, &ParseError{Path: path, Err: err}
	}

	var creds map[string]Credential
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if creds == nil {
		creds = map[string]Credential{}
	}
	return &Store{creds: creds}, nil
}

// Lookup returns the credential for a provider name. The boolean reports
// whether the provider is known.
func (s *Store) Lookup(provider string) (Credential, bool) {
	c, ok := s.creds[provider]
	if !ok || len(c) == 0 {
		return nil, false
	}
	return c, true
}

// Providers returns the names of all providers with a loaded credential.
func (s *Store) Providers() []string {
	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	return names
}

// Save writes or replaces one provider's credential in the secrets file,
// preserving other entries. Used by the setup command. The file is created
// with 0600 permissions since it holds API keys.
func Save(path, provider string, cred Credential) error {
	creds := map[string]Credential{}
	if data, err := os.ReadFile(path); err == nil {
		// Best effort: a corrupt existing file is replaced wholesale.
		_ = json.Unmarshal(data, &creds)
		if creds == nil {
			creds = map[string]Credential{}
		}
	}
	creds[provider] = cred

	out, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create secrets directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(out, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}
