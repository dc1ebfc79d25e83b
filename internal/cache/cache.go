// Package cache is the translation memory cache: a SHA-256 keyed lookup
// table of previously translated text, grounded on the original's
// translation_cache_service.py and backed by the same SQLite discipline as
// internal/store.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one cached translation. HitCount is restored from the original
// schema per SPEC_FULL.md's supplemented-features section.
type Entry struct {
	Key           string
	SourceText    string
	SourceLang    string
	TargetLang    string
	Model         string
	TranslatedText string
	HitCount      int64
	CreatedAt     time.Time
}

// Key computes the composite cache key for a (text, source lang, target
// lang, model) tuple.
func Key(sourceText, sourceLang, targetLang, modelName string) string {
	h := sha256.New()
	h.Write([]byte(sourceText))
	h.Write([]byte{0})
	h.Write([]byte(sourceLang))
	h.Write([]byte{0})
	h.Write([]byte(targetLang))
	h.Write([]byte{0})
	h.Write([]byte(modelName))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is the translation memory store.
type Cache struct {
	db *sql.DB
}

// Open creates (or opens) a translation cache at path.
func Open(path string) (*Cache, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open translation cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate translation cache: %w", err)
	}
	return c, nil
}

func (c *Cache) migrate() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS translation_cache (
		cache_key TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		model TEXT NOT NULL,
		translated_text TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`)
	return err
}

func (c *Cache) Close() error { return c.db.Close() }

// Lookup returns the cached translation for (sourceText, sourceLang,
// targetLang, modelName) if present, incrementing its hit counter.
func (c *Cache) Lookup(ctx context.Context, sourceText, sourceLang, targetLang, modelName string) (string, bool, error) {
	key := Key(sourceText, sourceLang, targetLang, modelName)
	row := c.db.QueryRowContext(ctx, `SELECT translated_text FROM translation_cache WHERE cache_key=?`, key)
	var text string
	if err := row.Scan(&text); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE translation_cache SET hit_count = hit_count + 1 WHERE cache_key=?`, key); err != nil {
		return text, true, fmt.Errorf("cache hit count update: %w", err)
	}
	return text, true, nil
}

// Store inserts or overwrites a translation, leaving any existing hit
// counter untouched.
func (c *Cache) Store(ctx context.Context, sourceText, sourceLang, targetLang, modelName, translatedText string) error {
	key := Key(sourceText, sourceLang, targetLang, modelName)
	_, err := c.db.ExecContext(ctx, `INSERT INTO translation_cache
		(cache_key, source_text, source_lang, target_lang, model, translated_text, hit_count, created_at)
		VALUES (?,?,?,?,?,?,0,?)
		ON CONFLICT(cache_key) DO UPDATE SET translated_text=excluded.translated_text`,
		key, sourceText, sourceLang, targetLang, modelName, translatedText, time.Now())
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// HitCount returns the recorded hit count for a cache entry, for tests and
// operational inspection.
func (c *Cache) HitCount(ctx context.Context, sourceText, sourceLang, targetLang, modelName string) (int64, error) {
	key := Key(sourceText, sourceLang, targetLang, modelName)
	row := c.db.QueryRowContext(ctx, `SELECT hit_count FROM translation_cache WHERE cache_key=?`, key)
	var n int64
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
