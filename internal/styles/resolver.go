package styles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mapgrid/tileproxy/internal/upstream"
)

// ErrNotFound is returned when no style matches the requested identifier.
var ErrNotFound = errors.New("style not found")

// Info is one entry in the style listing.
type Info struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// Resolver maps style identifiers to documents. Lookup precedence is
// builtin, then custom, then scraped, then raster. Builtin, scraped, and
// raster documents are memoized for the process lifetime; the custom style
// is re-read on every call so edits show up without a restart.
type Resolver struct {
	stylesDir string
	registry  *BuiltinRegistry
	fetcher   upstream.Fetcher
	logger    *zap.Logger

	mu   sync.RWMutex
	memo map[string]*Document
}

// NewResolver creates a style resolver backed by the given builtin registry
// and styles directory.
func NewResolver(stylesDir string, registry *BuiltinRegistry, fetcher upstream.Fetcher, logger *zap.Logger) *Resolver {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		stylesDir: stylesDir,
		registry:  registry,
		fetcher:   fetcher,
		logger:    logger,
		memo:      make(map[string]*Document),
	}
}

// CustomStyleName is the reserved identifier of the live-editable style.
const CustomStyleName = "custom"

// Resolve returns the document for the named style. Returns ErrNotFound
// when no source kind knows the name, a *ConfigError for malformed local
// style files, and upstream errors when a builtin style cannot be fetched.
func (r *Resolver) Resolve(ctx context.Context, name string) (*Document, error) {
	if !validStyleName(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if builtin, ok := r.registry.Lookup(name); ok {
		return r.resolveBuiltin(ctx, builtin)
	}
	if name == CustomStyleName {
		return r.loadCustom()
	}
	if doc, err := r.loadLocal(name, StyleScraped); err == nil || !errors.Is(err, ErrNotFound) {
		return doc, err
	}
	return r.loadLocal(name, StyleRaster)
}

// validStyleName rejects identifiers that could escape the styles directory.
func validStyleName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

func (r *Resolver) cached(name string) (*Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.memo[name]
	return doc, ok
}

func (r *Resolver) store(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo[doc.Name] = doc
}

func (r *Resolver) resolveBuiltin(ctx context.Context, builtin *BuiltinStyle) (*Document, error) {
	if doc, ok := r.cached(builtin.Name); ok {
		return doc, nil
	}

	result, err := r.fetcher.Fetch(ctx, builtin.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching builtin style %q: %w", builtin.Name, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(result.Body, &raw); err != nil {
		return nil, &ConfigError{Style: builtin.Name, Reason: fmt.Sprintf("upstream returned invalid style JSON: %v", err)}
	}

	if builtin.AddBackground {
		ensureBackgroundLayer(raw, builtin.BackgroundColor)
	}

	doc := &Document{
		Name: builtin.Name,
		Kind: StyleBuiltin,
		Raw:  raw,
		Meta: builtin.meta(),
	}
	doc.rewriteToProxy()

	r.store(doc)
	r.logger.Info("Loaded builtin style",
		zap.String("style", builtin.Name),
		zap.String("url", builtin.URL))
	return doc, nil
}

// loadCustom reads the editable style file. Never memoized.
func (r *Resolver) loadCustom() (*Document, error) {
	path := filepath.Join(r.stylesDir, CustomStyleName+".json")
	raw, err := readStyleFile(CustomStyleName, path)
	if err != nil {
		return nil, err
	}
	meta, err := parseMeta(CustomStyleName, raw)
	if err != nil {
		return nil, err
	}
	doc := &Document{Name: CustomStyleName, Kind: StyleCustom, Raw: raw, Meta: meta}
	doc.rewriteToProxy()
	return doc, nil
}

func (r *Resolver) loadLocal(name string, kind StyleKind) (*Document, error) {
	if doc, ok := r.cached(name); ok {
		if doc.Kind != kind {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return doc, nil
	}

	path := filepath.Join(r.stylesDir, string(kind), name+".json")
	raw, err := readStyleFile(name, path)
	if err != nil {
		return nil, err
	}
	meta, err := parseMeta(name, raw)
	if err != nil {
		return nil, err
	}

	doc := &Document{Name: name, Kind: kind, Raw: raw, Meta: meta}
	if kind == StyleScraped {
		doc.rewriteToProxy()
	}

	r.store(doc)
	r.logger.Debug("Loaded style from disk",
		zap.String("style", name),
		zap.String("kind", string(kind)))
	return doc, nil
}

func readStyleFile(name, path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("reading style %q: %w", name, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Style: name, Reason: fmt.Sprintf("invalid style JSON: %v", err)}
	}
	return raw, nil
}

// Source returns the named tile source of a resolved style. The second
// return is false when the style has no proxy metadata or no such source.
func (d *Document) Source(name string) (Source, bool) {
	if d.Meta == nil {
		return Source{}, false
	}
	src, ok := d.Meta.TileSources[name]
	return src, ok
}

// List enumerates every style the resolver can serve. Local directories are
// re-scanned on each call so newly dropped files show up without a restart.
func (r *Resolver) List() []Info {
	var infos []Info
	for _, b := range r.registry.Styles {
		infos = append(infos, Info{Name: b.Name, Source: b.Provider, Type: "native"})
	}
	if _, err := os.Stat(filepath.Join(r.stylesDir, CustomStyleName+".json")); err == nil {
		infos = append(infos, Info{Name: CustomStyleName, Source: "local", Type: "editable"})
	}
	infos = append(infos, r.listDir(StyleScraped, "transformed")...)
	infos = append(infos, r.listDir(StyleRaster, "raster")...)
	return infos
}

func (r *Resolver) listDir(kind StyleKind, typ string) []Info {
	entries, err := os.ReadDir(filepath.Join(r.stylesDir, string(kind)))
	if err != nil {
		return nil
	}
	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		infos = append(infos, Info{
			Name:   strings.TrimSuffix(entry.Name(), ".json"),
			Source: string(kind),
			Type:   typ,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
