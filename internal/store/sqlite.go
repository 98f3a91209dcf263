// Package store provides the persistence backends: a bleve keyword
// index, an HNSW vector index, and the SQLite database holding the
// synonym dictionary and the search log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	searcherrors "github.com/zhailiang23/deep-search-sub000/internal/errors"
	"github.com/zhailiang23/deep-search-sub000/internal/search"
	"github.com/zhailiang23/deep-search-sub000/internal/synonym"
)

const schema = `
CREATE TABLE IF NOT EXISTS synonyms (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	term          TEXT    NOT NULL,
	synonym       TEXT    NOT NULL,
	category      TEXT    NOT NULL DEFAULT '',
	confidence    REAL    NOT NULL DEFAULT 1.0,
	bidirectional INTEGER NOT NULL DEFAULT 1,
	enabled       INTEGER NOT NULL DEFAULT 1,
	usage_count   INTEGER NOT NULL DEFAULT 0,
	updated_at    TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_synonyms_term ON synonyms(term);
CREATE INDEX IF NOT EXISTS idx_synonyms_synonym ON synonyms(synonym);

CREATE TABLE IF NOT EXISTS search_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	query            TEXT    NOT NULL,
	result_count     INTEGER NOT NULL,
	response_time_ms INTEGER NOT NULL,
	strategy         TEXT    NOT NULL,
	created_at       TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_search_logs_id ON search_logs(id DESC);
`

// DB wraps the SQLite database shared by the synonym dictionary and
// the search log.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenDB opens (or creates) the database at path and applies the
// schema. An empty path opens an in-memory database for testing.
func OpenDB(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer prevents lock contention with modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params
	// are ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("database opened", slog.String("path", dsn))
	return &DB{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SynonymStore is the SQLite-backed synonym dictionary.
type SynonymStore struct {
	db *DB
}

var _ synonym.Store = (*SynonymStore)(nil)

// NewSynonymStore creates a synonym store over db.
func NewSynonymStore(db *DB) *SynonymStore {
	return &SynonymStore{db: db}
}

const synonymColumns = "id, term, synonym, category, confidence, bidirectional, enabled, usage_count, updated_at"

func scanSynonym(row interface{ Scan(...any) error }) (synonym.Record, error) {
	var rec synonym.Record
	var updatedAt string
	err := row.Scan(&rec.ID, &rec.Term, &rec.Synonym, &rec.Category,
		&rec.Confidence, &rec.Bidirectional, &rec.Enabled, &rec.UsageCount, &updatedAt)
	if err != nil {
		return synonym.Record{}, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

// FindByTerm returns entries whose term matches, plus bidirectional
// entries whose synonym matches. Matching is case-insensitive.
func (s *SynonymStore) FindByTerm(ctx context.Context, term string) ([]synonym.Record, error) {
	key := strings.ToLower(strings.TrimSpace(term))
	rows, err := s.db.db.QueryContext(ctx,
		"SELECT "+synonymColumns+" FROM synonyms WHERE lower(term) = ? OR (bidirectional = 1 AND lower(synonym) = ?)",
		key, key)
	if err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym query failed")
	}
	defer rows.Close()

	var out []synonym.Record
	for rows.Next() {
		rec, err := scanSynonym(rows)
		if err != nil {
			return nil, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym scan failed")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym iteration failed")
	}
	return out, nil
}

// FindByWord returns every entry where word appears on either side,
// regardless of the bidirectional flag. Matching is case-insensitive.
func (s *SynonymStore) FindByWord(ctx context.Context, word string) ([]synonym.Record, error) {
	key := strings.ToLower(strings.TrimSpace(word))
	rows, err := s.db.db.QueryContext(ctx,
		"SELECT "+synonymColumns+" FROM synonyms WHERE lower(term) = ? OR lower(synonym) = ?",
		key, key)
	if err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym query failed")
	}
	defer rows.Close()

	var out []synonym.Record
	for rows.Next() {
		rec, err := scanSynonym(rows)
		if err != nil {
			return nil, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym scan failed")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym iteration failed")
	}
	return out, nil
}

// Insert adds one dictionary entry and returns its id.
func (s *SynonymStore) Insert(ctx context.Context, rec synonym.Record) (int64, error) {
	res, err := s.db.db.ExecContext(ctx,
		"INSERT INTO synonyms (term, synonym, category, confidence, bidirectional, enabled) VALUES (?, ?, ?, ?, ?, ?)",
		rec.Term, rec.Synonym, rec.Category, rec.Confidence, rec.Bidirectional, rec.Enabled)
	if err != nil {
		return 0, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym insert failed")
	}
	return res.LastInsertId()
}

// InsertBatch adds entries in one transaction.
func (s *SynonymStore) InsertBatch(ctx context.Context, recs []synonym.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "transaction begin failed")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO synonyms (term, synonym, category, confidence, bidirectional, enabled) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "prepare failed")
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.Term, rec.Synonym, rec.Category, rec.Confidence, rec.Bidirectional, rec.Enabled); err != nil {
			return searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "batch insert failed")
		}
	}
	if err := tx.Commit(); err != nil {
		return searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "transaction commit failed")
	}
	return nil
}

// UpdateConfidence sets one entry's confidence and returns the updated
// record.
func (s *SynonymStore) UpdateConfidence(ctx context.Context, id int64, confidence float64) (synonym.Record, error) {
	_, err := s.db.db.ExecContext(ctx,
		"UPDATE synonyms SET confidence = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?",
		confidence, id)
	if err != nil {
		return synonym.Record{}, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "confidence update failed")
	}
	return s.byID(ctx, id)
}

// SetEnabled toggles one entry and returns the updated record.
func (s *SynonymStore) SetEnabled(ctx context.Context, id int64, enabled bool) (synonym.Record, error) {
	_, err := s.db.db.ExecContext(ctx,
		"UPDATE synonyms SET enabled = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?",
		enabled, id)
	if err != nil {
		return synonym.Record{}, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "enable update failed")
	}
	return s.byID(ctx, id)
}

func (s *SynonymStore) byID(ctx context.Context, id int64) (synonym.Record, error) {
	row := s.db.db.QueryRowContext(ctx,
		"SELECT "+synonymColumns+" FROM synonyms WHERE id = ?", id)
	rec, err := scanSynonym(row)
	if err == sql.ErrNoRows {
		return synonym.Record{}, searcherrors.Newf(searcherrors.ErrCodeSynonymStore,
			"synonym entry %d not found", id)
	}
	if err != nil {
		return synonym.Record{}, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym lookup failed")
	}
	return rec, nil
}

// ScaleAllConfidence multiplies every entry's confidence by factor,
// clamped to [0, 1], and returns the number of affected rows.
func (s *SynonymStore) ScaleAllConfidence(ctx context.Context, factor float64) (int64, error) {
	res, err := s.db.db.ExecContext(ctx,
		"UPDATE synonyms SET confidence = max(0.0, min(1.0, confidence * ?)), updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')",
		factor)
	if err != nil {
		return 0, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "confidence scaling failed")
	}
	return res.RowsAffected()
}

// IncrementUsage bumps the usage counters of the given entries.
func (s *SynonymStore) IncrementUsage(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.db.ExecContext(ctx,
		"UPDATE synonyms SET usage_count = usage_count + 1 WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "usage update failed")
	}
	return nil
}

// ListLowConfidence returns entries below the confidence bound,
// lowest first.
func (s *SynonymStore) ListLowConfidence(ctx context.Context, below float64, limit int) ([]synonym.Record, error) {
	return s.list(ctx,
		"SELECT "+synonymColumns+" FROM synonyms WHERE confidence < ? ORDER BY confidence ASC LIMIT ?",
		below, limit)
}

// ListPopular returns the most-used entries.
func (s *SynonymStore) ListPopular(ctx context.Context, limit int) ([]synonym.Record, error) {
	return s.list(ctx,
		"SELECT "+synonymColumns+" FROM synonyms ORDER BY usage_count DESC, id ASC LIMIT ?",
		limit)
}

func (s *SynonymStore) list(ctx context.Context, query string, args ...any) ([]synonym.Record, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym list failed")
	}
	defer rows.Close()

	var out []synonym.Record
	for rows.Next() {
		rec, err := scanSynonym(rows)
		if err != nil {
			return nil, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym scan failed")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of dictionary entries.
func (s *SynonymStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM synonyms").Scan(&n)
	if err != nil {
		return 0, searcherrors.Wrap(err, searcherrors.ErrCodeSynonymStore, "synonym count failed")
	}
	return n, nil
}

// SearchLogStore persists search log rows. It feeds the autocomplete
// rebuilds with recent-term frequencies.
type SearchLogStore struct {
	db *DB
}

var _ search.LogStore = (*SearchLogStore)(nil)

// NewSearchLogStore creates a search log store over db.
func NewSearchLogStore(db *DB) *SearchLogStore {
	return &SearchLogStore{db: db}
}

// Record appends one search log row.
func (s *SearchLogStore) Record(ctx context.Context, entry search.LogEntry) error {
	_, err := s.db.db.ExecContext(ctx,
		"INSERT INTO search_logs (query, result_count, response_time_ms, strategy) VALUES (?, ?, ?, ?)",
		entry.Query, entry.ResultCount, entry.ResponseTimeMs, entry.Strategy)
	if err != nil {
		return searcherrors.Wrap(err, searcherrors.ErrCodeQueryLogStore, "search log insert failed")
	}
	return nil
}

// RecentTerms aggregates query frequencies over the most recent limit
// rows. The result seeds autocomplete index rebuilds.
func (s *SearchLogStore) RecentTerms(ctx context.Context, limit int) (map[string]int64, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT query, COUNT(*) FROM (
			SELECT query FROM search_logs ORDER BY id DESC LIMIT ?
		) GROUP BY query`, limit)
	if err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeQueryLogStore, "recent terms query failed")
	}
	defer rows.Close()

	terms := make(map[string]int64)
	for rows.Next() {
		var query string
		var count int64
		if err := rows.Scan(&query, &count); err != nil {
			return nil, searcherrors.Wrap(err, searcherrors.ErrCodeQueryLogStore, "recent terms scan failed")
		}
		if q := strings.TrimSpace(query); q != "" {
			terms[q] += count
		}
	}
	return terms, rows.Err()
}

// PopularTerms returns the overall most frequent queries.
func (s *SearchLogStore) PopularTerms(ctx context.Context, limit int) (map[string]int64, error) {
	rows, err := s.db.db.QueryContext(ctx,
		"SELECT query, COUNT(*) AS c FROM search_logs GROUP BY query ORDER BY c DESC LIMIT ?", limit)
	if err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeQueryLogStore, "popular terms query failed")
	}
	defer rows.Close()

	terms := make(map[string]int64)
	for rows.Next() {
		var query string
		var count int64
		if err := rows.Scan(&query, &count); err != nil {
			return nil, searcherrors.Wrap(err, searcherrors.ErrCodeQueryLogStore, "popular terms scan failed")
		}
		terms[query] = count
	}
	return terms, rows.Err()
}

// Count returns the number of log rows.
func (s *SearchLogStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM search_logs").Scan(&n)
	if err != nil {
		return 0, searcherrors.Wrap(err, searcherrors.ErrCodeQueryLogStore, "search log count failed")
	}
	return n, nil
}
