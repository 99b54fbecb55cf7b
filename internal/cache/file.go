package cache

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// entryMeta is the sidecar metadata persisted next to each payload file.
type entryMeta struct {
	ContentType string `json:"content_type"`
	FetchedAt   int64  `json:"fetched_at"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

// FileStore is a file-based cache with layout
// <root>/{style}_{source}/{rel} plus a "<payload>.meta" sidecar per entry.
type FileStore struct {
	root       string
	defaultTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewFileStore creates the cache root if needed and returns the store.
func NewFileStore(root string, defaultTTL time.Duration, logger *zap.Logger) (*FileStore, error) {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, &StorageError{Op: "init", Key: root, Err: err}
	}
	return &FileStore{
		root:       root,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *FileStore) payloadPath(key Key) string {
	return filepath.Join(s.root, key.Dir(), filepath.FromSlash(key.Rel))
}

func metaPath(payloadPath string) string {
	return payloadPath + ".meta"
}

// Get returns the cached entry, or ok=false when absent or expired. An
// expired entry is reaped best-effort; a failure to reap never fails the
// read. A corrupt sidecar degrades to defaults (default TTL, file mtime as
// fetch time) rather than erroring.
func (s *FileStore) Get(key Key) (*Entry, bool) {
	if !key.Valid() {
		return nil, false
	}
	path := s.payloadPath(key)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false
	}

	meta := entryMeta{
		ContentType: "application/octet-stream",
		FetchedAt:   info.ModTime().Unix(),
		TTLSeconds:  int64(s.defaultTTL / time.Second),
	}
	if data, err := os.ReadFile(metaPath(path)); err == nil {
		var parsed entryMeta
		if err := json.Unmarshal(data, &parsed); err == nil {
			if parsed.ContentType != "" {
				meta.ContentType = parsed.ContentType
			}
			if parsed.FetchedAt > 0 {
				meta.FetchedAt = parsed.FetchedAt
			}
			if parsed.TTLSeconds > 0 {
				meta.TTLSeconds = parsed.TTLSeconds
			}
		}
	}

	entry := &Entry{
		ContentType: meta.ContentType,
		FetchedAt:   time.Unix(meta.FetchedAt, 0),
		TTL:         time.Duration(meta.TTLSeconds) * time.Second,
	}
	if entry.Expired(s.now()) {
		s.reap(key, path)
		return nil, false
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	entry.Payload = payload
	return entry, true
}

func (s *FileStore) reap(key Key, path string) {
	if err := os.Remove(path); err != nil {
		s.logger.Debug("failed to reap expired cache entry",
			zap.String("key", key.String()), zap.Error(err))
	}
	_ = os.Remove(metaPath(path))
}

// Put writes the payload and its sidecar atomically (temp file + rename in
// the same directory), so concurrent readers never observe partial writes.
func (s *FileStore) Put(key Key, payload []byte, contentType string, ttl time.Duration) error {
	if !key.Valid() {
		return &StorageError{Op: "put", Key: key.String(), Err: fs.ErrInvalid}
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	path := s.payloadPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return &StorageError{Op: "put", Key: key.String(), Err: err}
	}
	if err := writeFileAtomic(path, payload); err != nil {
		return &StorageError{Op: "put", Key: key.String(), Err: err}
	}

	meta := entryMeta{
		ContentType: contentType,
		FetchedAt:   s.now().Unix(),
		TTLSeconds:  int64(ttl / time.Second),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return &StorageError{Op: "put", Key: key.String(), Err: err}
	}
	if err := writeFileAtomic(metaPath(path), data); err != nil {
		return &StorageError{Op: "put", Key: key.String(), Err: err}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Invalidate removes one entry and its sidecar. Returns true when a payload
// was actually removed.
func (s *FileStore) Invalidate(key Key) bool {
	if !key.Valid() {
		return false
	}
	path := s.payloadPath(key)
	removed := os.Remove(path) == nil
	_ = os.Remove(metaPath(path))
	return removed
}

// InvalidateRaw removes entries addressed by a flattened key string. A raw
// value equal to a {style}_{source} directory name removes that whole group;
// otherwise the raw value is resolved to a single entry by matching it
// against existing group directories (longest directory name first, so
// sources containing underscores resolve deterministically).
func (s *FileStore) InvalidateRaw(raw string) int {
	if raw == "" {
		return 0
	}
	if !fs.ValidPath(raw) || strings.ContainsAny(raw, "/\\") {
		return 0
	}

	groupDir := filepath.Join(s.root, raw)
	if info, err := os.Stat(groupDir); err == nil && info.IsDir() {
		count := countPayloadFiles(groupDir)
		if err := os.RemoveAll(groupDir); err != nil {
			s.logger.Warn("failed to invalidate cache group",
				zap.String("group", raw), zap.Error(err))
			return 0
		}
		return count
	}

	for _, dir := range s.groupDirsLongestFirst() {
		prefix := dir + "_"
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		// The residual after the group prefix is a flattened rel. Relative
		// paths can contain literal underscores (glyph fontstacks do), so the
		// residual cannot simply be un-flattened. Walk the group and match
		// each entry's flattened rel instead.
		if path := s.findFlattenedRel(filepath.Join(s.root, dir), strings.TrimPrefix(raw, prefix)); path != "" {
			if os.Remove(path) == nil {
				_ = os.Remove(metaPath(path))
				return 1
			}
		}
	}
	return 0
}

// findFlattenedRel returns the payload file in groupDir whose path relative
// to groupDir, flattened with underscores, equals want. Empty when no entry
// matches.
func (s *FileStore) findFlattenedRel(groupDir, want string) string {
	var found string
	_ = filepath.WalkDir(groupDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" || d.IsDir() || !isPayloadFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(groupDir, path)
		if err != nil {
			return nil
		}
		if strings.ReplaceAll(filepath.ToSlash(rel), "/", "_") == want {
			found = path
		}
		return nil
	})
	return found
}

func (s *FileStore) groupDirsLongestFirst() []string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	return dirs
}

// InvalidateAll removes every cached entry, returning the payload count.
func (s *FileStore) InvalidateAll() int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0
	}
	total := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		total += countPayloadFiles(dir)
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove cache group",
				zap.String("group", e.Name()), zap.Error(err))
		}
	}
	return total
}

// Stats walks the cache tree counting payload files and sizes. Payloads are
// never loaded; only directory entries and stat calls are used.
func (s *FileStore) Stats() (Stats, error) {
	var stats Stats
	var oldest time.Time

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if d.IsDir() || !isPayloadFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.EntryCount++
		stats.TotalBytes += info.Size()
		if oldest.IsZero() || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return Stats{}, &StorageError{Op: "stats", Key: s.root, Err: err}
	}
	if !oldest.IsZero() {
		stats.OldestEntryAge = int64(s.now().Sub(oldest) / time.Second)
	}
	return stats, nil
}

func countPayloadFiles(dir string) int {
	count := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && isPayloadFile(d.Name()) {
			count++
		}
		return nil
	})
	return count
}

func isPayloadFile(name string) bool {
	return !strings.HasSuffix(name, ".meta") && !strings.HasSuffix(name, ".tmp")
}
