package proxy

import "fmt"

// AuthError indicates a style source requires credentials for a provider
// that has none configured. Requests fail with this before any upstream
// call is made.
type AuthError struct {
	Style    string
	Provider string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("style %q requires credentials for provider %q and none are configured", e.Style, e.Provider)
}

// SourceNotFoundError indicates the style exists but has no proxied source
// with the requested name.
type SourceNotFoundError struct {
	Style  string
	Source string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("style %q has no proxied source %q", e.Style, e.Source)
}
