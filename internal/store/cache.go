package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Entry is one cached upstream payload with its provider change hash.
type Entry struct {
	Key       string
	Hash      string
	Payload   []byte
	UpdatedAt time.Time
}

// Cache is the shared hash-aware snapshot cache in front of the upstream
// provider. Storage failures are logged and treated as misses / no-op
// writes; stale-or-absent cache must never block serving fresh data.
type Cache struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewCache(db *sql.DB, logger *zap.Logger) *Cache {
	return &Cache{db: db, logger: logger, now: time.Now}
}

// Key builds the canonical cache key for a query. Parameters are sorted by
// name so the same logical query always maps to the same key regardless of
// insertion order.
func Key(method string, params map[string]string) string {
	if len(params) == 0 {
		return method
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(method)
	for _, name := range names {
		sb.WriteByte('_')
		sb.WriteString(name)
		sb.WriteByte('_')
		sb.WriteString(params[name])
	}
	return sb.String()
}

// Get returns the entry for key if one exists and its age does not exceed
// maxAge. Different callers may ask for different maxAge on the same key.
func (c *Cache) Get(ctx context.Context, key string, maxAge time.Duration) (*Entry, bool) {
	row := c.db.QueryRowContext(ctx,
		`SELECT hash, payload, updated_at FROM cache WHERE key = ?`, key)

	var entry Entry
	var updatedAt int64
	if err := row.Scan(&entry.Hash, &entry.Payload, &updatedAt); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn("cache read failed, treating as miss",
				zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	entry.Key = key
	entry.UpdatedAt = time.Unix(0, updatedAt)
	if c.now().Sub(entry.UpdatedAt) > maxAge {
		return nil, false
	}
	return &entry, true
}

// Set unconditionally overwrites the entry for key. The write timestamp is
// the call time.
func (c *Cache) Set(ctx context.Context, key, hash string, payload []byte) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cache(key, hash, payload, updated_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET hash=excluded.hash, payload=excluded.payload, updated_at=excluded.updated_at`,
		key, hash, payload, c.now().UnixNano())
	if err != nil {
		c.logger.Warn("cache write failed, continuing without",
			zap.String("key", key), zap.Error(err))
	}
}

// Touch refreshes the write timestamp of an existing entry without
// rewriting its payload; used when the provider reports NOT MODIFIED for a
// stale entry.
func (c *Cache) Touch(ctx context.Context, key string) {
	_, err := c.db.ExecContext(ctx,
		`UPDATE cache SET updated_at = ? WHERE key = ?`, c.now().UnixNano(), key)
	if err != nil {
		c.logger.Warn("cache touch failed", zap.String("key", key), zap.Error(err))
	}
}

// EvictOlderThan bulk-deletes entries older than the retention horizon and
// returns the number removed. Missing eviction degrades to storage growth,
// not wrong answers, so failures only log.
func (c *Cache) EvictOlderThan(ctx context.Context, retention time.Duration) int {
	cutoff := c.now().Add(-retention).UnixNano()
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache WHERE updated_at < ?`, cutoff)
	if err != nil {
		c.logger.Warn("cache eviction failed", zap.Error(err))
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}
