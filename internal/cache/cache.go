// Package cache provides the content-addressed, process-external cache for
// generated markup and its execution record. Entries are keyed by a
// deterministic fingerprint of the full generation identity so that sampled
// generations for the same (test, model) pair can coexist.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"a11yeval/internal/schema"
)

// Key identifies one generation. Every field participates in the fingerprint;
// changing any of them produces a distinct cache entry.
type Key struct {
	Test        string             `json:"test"`
	Model       string             `json:"model"`
	SampleIndex int                `json:"sample_index"`
	Seed        *int64             `json:"seed"`
	Params      map[string]any     `json:"params,omitempty"`
}

// Fingerprint derives the cache key: SHA-256 over the RFC 8785 canonical JSON
// form of the Key, so map-valued generation parameters hash deterministically
// regardless of encoder ordering.
func Fingerprint(key Key) (string, error) {
	raw, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("marshal cache key: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Entry is a cached generation: the markup itself and, when the sample has
// already been executed, its ExecutionRecord.
type Entry struct {
	Content string
	Record  *schema.ExecutionRecord
}

// Cache is a directory-backed store shared across worker processes. Writes are
// naturally partitioned by fingerprint; a per-entry file lock covers the one
// legitimate contention case (cache disabled, concurrent re-executions of the
// same key), where last-write-wins is acceptable.
type Cache struct {
	root     string
	disabled bool
	logger   *zap.Logger
}

const (
	contentFile = "content.html"
	recordFile  = "record.json"
	lockFile    = ".lock"
)

// New opens (creating if needed) a cache rooted at dir. When disabled is true
// reads always miss but writes still land, overwriting any existing entry.
func New(dir string, disabled bool, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Cache{root: dir, disabled: disabled, logger: logger}, nil
}

// Disabled reports whether cache reads are bypassed.
func (c *Cache) Disabled() bool { return c.disabled }

func (c *Cache) entryDir(fingerprint string) string {
	// Two-level fan-out keeps directory listings manageable for large runs.
	return filepath.Join(c.root, fingerprint[:2], fingerprint)
}

// Get returns the cached entry for fingerprint. In disabled mode it always
// reports a miss without touching the filesystem; existing entries are left
// intact for later re-enabled runs.
func (c *Cache) Get(fingerprint string) (*Entry, bool, error) {
	if c.disabled {
		return nil, false, nil
	}
	dir := c.entryDir(fingerprint)

	content, err := os.ReadFile(filepath.Join(dir, contentFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached content: %w", err)
	}

	entry := &Entry{Content: string(content)}
	recordRaw, err := os.ReadFile(filepath.Join(dir, recordFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Content cached, execution not yet recorded.
	case err != nil:
		return nil, false, fmt.Errorf("read cached record: %w", err)
	default:
		var rec schema.ExecutionRecord
		if err := json.Unmarshal(recordRaw, &rec); err != nil {
			// A torn or stale record must not poison the content hit.
			c.logger.Warn("discarding unreadable cached record",
				zap.String("fingerprint", fingerprint), zap.Error(err))
		} else {
			entry.Record = &rec
		}
	}
	return entry, true, nil
}

// Put stores an entry under fingerprint, replacing whatever is there. Safe
// under concurrent writers of the same key.
func (c *Cache) Put(fingerprint string, entry *Entry) error {
	dir := c.entryDir(fingerprint)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache entry dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock cache entry: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			c.logger.Warn("unlock cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, contentFile), []byte(entry.Content), 0o644); err != nil {
		return fmt.Errorf("write cached content: %w", err)
	}
	if entry.Record != nil {
		raw, err := json.MarshalIndent(entry.Record, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal execution record: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, recordFile), raw, 0o644); err != nil {
			return fmt.Errorf("write cached record: %w", err)
		}
	}
	return nil
}
