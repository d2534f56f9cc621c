package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// CacheRepo stores cache entries in the cache_entries table. It implements
// cache.Storage; a positive ttl sets expires_at and expired rows read as absent.
type CacheRepo struct {
	db *sqlx.DB
}

// NewCacheRepo creates a new PostgreSQL cache repository.
func NewCacheRepo(db *sqlx.DB) *CacheRepo {
	return &CacheRepo{db: db}
}

const (
	getEntrySQL = `SELECT value FROM cache_entries
WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`

	upsertEntrySQL = `INSERT INTO cache_entries (key, value, expires_at, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`

	deleteEntrySQL = `DELETE FROM cache_entries WHERE key = $1`

	listKeysSQL = `SELECT key FROM cache_entries
WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > now())
ORDER BY key`

	purgeExpiredSQL = `DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`
)

// Get returns the value stored under key.
func (r *CacheRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.GetContext(ctx, &value, getEntrySQL, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return value, true, nil
}

// Set upserts value under key.
func (r *CacheRepo) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl).UTC()
		expiresAt = &t
	}
	if _, err := r.db.ExecContext(ctx, upsertEntrySQL, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

// Remove deletes key.
func (r *CacheRepo) Remove(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, deleteEntrySQL, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Keys returns every live key starting with prefix.
func (r *CacheRepo) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	if err := r.db.SelectContext(ctx, &keys, listKeysSQL, likePrefix(prefix)); err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

// PurgeExpired deletes rows past their expires_at.
func (r *CacheRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, purgeExpiredSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache entries: %w", err)
	}
	return res.RowsAffected()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
