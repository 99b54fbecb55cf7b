// Package proxy dispatches tile, sprite, and glyph requests: cache lookup
// first, then an authenticated upstream fetch on miss, with concurrent
// misses for the same resource collapsed into a single fetch.
package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mapgrid/tileproxy/internal/cache"
	"github.com/mapgrid/tileproxy/internal/secrets"
	"github.com/mapgrid/tileproxy/internal/styles"
	"github.com/mapgrid/tileproxy/internal/upstream"
)

// CacheStatus reports whether a response came from the cache.
type CacheStatus string

const (
	CacheHit  CacheStatus = "HIT"
	CacheMiss CacheStatus = "MISS"
)

// glyphTTL keeps font glyph ranges effectively forever. Glyph PBFs for a
// given fontstack and range never change upstream.
const glyphTTL = 10 * 365 * 24 * time.Hour

// Result is a proxied payload ready to serve.
type Result struct {
	Payload     []byte
	ContentType string
	CacheStatus CacheStatus
}

// Metrics tracks dispatcher usage statistics.
type Metrics struct {
	RequestCount    int64
	ErrorCount      int64
	CacheHits       int64
	CacheMisses     int64
	UpstreamFetches int64
	mu              sync.Mutex
}

// Dispatcher serves proxied map resources. Safe for concurrent use.
type Dispatcher struct {
	resolver   *styles.Resolver
	secrets    *secrets.Store
	cache      cache.Store
	fetcher    upstream.Fetcher
	logger     *zap.Logger
	defaultTTL time.Duration
	group      singleflight.Group
	metrics    *Metrics
}

// NewDispatcher wires the dispatcher's collaborators together.
func NewDispatcher(resolver *styles.Resolver, secretStore *secrets.Store, cacheStore cache.Store, fetcher upstream.Fetcher, defaultTTL time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = cache.DefaultTTL
	}
	return &Dispatcher{
		resolver:   resolver,
		secrets:    secretStore,
		cache:      cacheStore,
		fetcher:    fetcher,
		logger:     logger,
		defaultTTL: defaultTTL,
		metrics:    &Metrics{},
	}
}

// Metrics returns a copy of the current dispatcher metrics.
func (d *Dispatcher) Metrics() Metrics {
	d.metrics.mu.Lock()
	defer d.metrics.mu.Unlock()
	return Metrics{
		RequestCount:    d.metrics.RequestCount,
		ErrorCount:      d.metrics.ErrorCount,
		CacheHits:       d.metrics.CacheHits,
		CacheMisses:     d.metrics.CacheMisses,
		UpstreamFetches: d.metrics.UpstreamFetches,
	}
}

func (d *Dispatcher) count(f func(m *Metrics)) {
	d.metrics.mu.Lock()
	defer d.metrics.mu.Unlock()
	f(d.metrics)
}

// HandleTile serves one tile of a style source.
func (d *Dispatcher) HandleTile(ctx context.Context, style, source string, z, x, y int, ext string) (*Result, error) {
	if err := validTile(z, x, y); err != nil {
		return nil, fmt.Errorf("%w: %v", styles.ErrNotFound, err)
	}
	doc, err := d.resolver.Resolve(ctx, style)
	if err != nil {
		d.count(func(m *Metrics) { m.RequestCount++; m.ErrorCount++ })
		return nil, err
	}
	src, ok := doc.Source(source)
	if !ok {
		d.count(func(m *Metrics) { m.RequestCount++; m.ErrorCount++ })
		return nil, &SourceNotFoundError{Style: style, Source: source}
	}

	key := cache.TileKey(style, source, z, x, y, ext)
	return d.serve(ctx, key, style, src.AuthProvider, ttlForDoc(doc), tileURL(src, z, x, y), contentTypeForExt(ext))
}

// HandleSprite serves a sprite sheet or index. Suffix is the part MapLibre
// appends to the style's sprite base URL, e.g. ".json" or "@2x.png".
func (d *Dispatcher) HandleSprite(ctx context.Context, style, suffix string) (*Result, error) {
	doc, err := d.resolver.Resolve(ctx, style)
	if err != nil {
		d.count(func(m *Metrics) { m.RequestCount++; m.ErrorCount++ })
		return nil, err
	}
	if doc.Meta == nil || doc.Meta.Sprite == nil {
		d.count(func(m *Metrics) { m.RequestCount++; m.ErrorCount++ })
		return nil, &SourceNotFoundError{Style: style, Source: cache.SourceSprites}
	}
	sprite := doc.Meta.Sprite

	key := cache.SpriteKey(style, "sprite"+suffix)
	fallbackCT := contentTypeForExt("json")
	if strings.HasSuffix(suffix, ".png") {
		fallbackCT = contentTypeForExt("png")
	}
	return d.serve(ctx, key, style, sprite.AuthProvider, ttlForDoc(doc), sprite.URLTemplate+suffix, fallbackCT)
}

// HandleGlyph serves one glyph range of a fontstack.
func (d *Dispatcher) HandleGlyph(ctx context.Context, style, fontstack, rangeFile string) (*Result, error) {
	doc, err := d.resolver.Resolve(ctx, style)
	if err != nil {
		d.count(func(m *Metrics) { m.RequestCount++; m.ErrorCount++ })
		return nil, err
	}
	if doc.Meta == nil || doc.Meta.Glyphs == nil {
		d.count(func(m *Metrics) { m.RequestCount++; m.ErrorCount++ })
		return nil, &SourceNotFoundError{Style: style, Source: cache.SourceGlyphs}
	}
	glyphs := doc.Meta.Glyphs

	key := cache.GlyphKey(style, fontstack, rangeFile)
	return d.serve(ctx, key, style, glyphs.AuthProvider, glyphTTL, glyphURL(glyphs.URLTemplate, fontstack, rangeFile), contentTypeForExt("pbf"))
}

// ttlForDoc picks the style's cache TTL override, or zero to let the cache
// store apply its default.
func ttlForDoc(doc *styles.Document) time.Duration {
	if doc.Meta != nil && doc.Meta.CacheTTL > 0 {
		return doc.Meta.CacheTTL
	}
	return 0
}

// serve is the common cache-then-fetch path. Concurrent misses for the same
// key share one upstream fetch via singleflight; the shared fetch runs with
// a detached context so one caller hanging up does not cancel it for the
// rest.
func (d *Dispatcher) serve(ctx context.Context, key cache.Key, style, provider string, ttl time.Duration, upstreamURL, fallbackCT string) (*Result, error) {
	if entry, ok := d.cache.Get(key); ok {
		d.count(func(m *Metrics) { m.RequestCount++; m.CacheHits++ })
		return &Result{Payload: entry.Payload, ContentType: entry.ContentType, CacheStatus: CacheHit}, nil
	}

	v, err, _ := d.group.Do(key.String(), func() (any, error) {
		// A concurrent flight may have filled the cache while this caller
		// waited for the flight slot.
		if entry, ok := d.cache.Get(key); ok {
			return &Result{Payload: entry.Payload, ContentType: entry.ContentType, CacheStatus: CacheHit}, nil
		}

		finalURL := upstreamURL
		if provider != "" {
			cred, ok := d.secrets.Lookup(provider)
			if !ok {
				return nil, &AuthError{Style: style, Provider: provider}
			}
			injected, err := injectorFor(provider)(upstreamURL, cred)
			if err != nil {
				return nil, err
			}
			finalURL = injected
		}

		d.count(func(m *Metrics) { m.UpstreamFetches++ })
		res, err := d.fetcher.Fetch(context.WithoutCancel(ctx), finalURL)
		if err != nil {
			return nil, err
		}

		contentType := res.ContentType
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = fallbackCT
		}
		if err := d.cache.Put(key, res.Body, contentType, ttl); err != nil {
			// Serve the fetched payload anyway; caching is best effort.
			d.logger.Warn("Failed to cache upstream response",
				zap.String("key", key.String()),
				zap.Error(err))
		}
		return &Result{Payload: res.Body, ContentType: contentType, CacheStatus: CacheMiss}, nil
	})
	if err != nil {
		d.count(func(m *Metrics) { m.RequestCount++; m.ErrorCount++ })
		return nil, err
	}

	result := v.(*Result)
	d.count(func(m *Metrics) {
		m.RequestCount++
		if result.CacheStatus == CacheHit {
			m.CacheHits++
		} else {
			m.CacheMisses++
		}
	})
	return result, nil
}
