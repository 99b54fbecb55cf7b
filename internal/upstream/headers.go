package upstream

import "strings"

// RequestHeaders returns the outbound headers for a provider URL. Commercial
// providers often restrict API keys by referrer/origin, so requests carry a
// browser-like User-Agent and, for known hosts, a pinned Referer/Origin pair.
func RequestHeaders(targetURL string) map[string]string {
	headers := map[string]string{
		"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
	}
	switch {
	case strings.Contains(targetURL, "maptiler.com"):
		headers["Referer"] = "https://www.maptiler.com/"
		headers["Origin"] = "https://www.maptiler.com"
	case strings.Contains(targetURL, "mapbox.com"):
		headers["Referer"] = "https://www.mapbox.com/"
		headers["Origin"] = "https://www.mapbox.com"
	case strings.Contains(targetURL, "tracestrack.com"):
		headers["Referer"] = "https://console.tracestrack.com/"
		headers["Origin"] = "https://console.tracestrack.com"
	}
	return headers
}
