package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/recipe"
	"github.com/cognicore/larder/pkg/larder/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db     *sql.DB
	closed atomic.Bool

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, errors.Join(internalerr.ErrStoreUnavailable, err))
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, errors.Join(internalerr.ErrStoreUnavailable, err))
	}

	// One connection serializes writers from concurrent stages and keeps
	// ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS recipes (
	id TEXT PRIMARY KEY,
	key TEXT UNIQUE NOT NULL,
	lang TEXT,
	name TEXT,
	source_url TEXT,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recipes_source_url ON recipes(source_url);

CREATE TABLE IF NOT EXISTS ingredients (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT UNIQUE NOT NULL,
	names TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_documents (
	ref TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	archived_at TEXT NOT NULL
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *sqliteStore) newID(now time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// classify marks connectivity failures as ErrStoreUnavailable so the
// pipeline can tell an outage from a bad record.
func (s *sqliteStore) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() || errors.Is(err, sql.ErrConnDone) || isUnavailable(err) {
		return fmt.Errorf("%s: %w", op, errors.Join(internalerr.ErrStoreUnavailable, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	msg := err.Error()
	for _, s := range []string{"database is closed", "unable to open", "disk I/O error", "database is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (s *sqliteStore) guard(op string) error {
	if s.closed.Load() {
		return fmt.Errorf("%s: %w", op, internalerr.ErrStoreUnavailable)
	}
	return nil
}

// UpsertRecipe inserts or replaces a recipe keyed by key. The stored ID and
// creation time of an existing row are kept.
func (s *sqliteStore) UpsertRecipe(ctx context.Context, key string, r recipe.Recipe) (recipe.Recipe, error) {
	if err := s.guard("upsert recipe"); err != nil {
		return recipe.Recipe{}, err
	}
	if key == "" {
		return recipe.Recipe{}, fmt.Errorf("upsert recipe: empty key: %w", internalerr.ErrInvalidInput)
	}

	now := time.Now().UTC()
	id := r.ID
	if id == "" {
		id = s.newID(now)
	}

	payload, err := encodeRecipe(r)
	if err != nil {
		return recipe.Recipe{}, fmt.Errorf("encode recipe %s: %w", key, err)
	}

	var sourceURL string
	if r.Source != nil {
		sourceURL = r.Source.URL
	}

	const stmt = `
INSERT INTO recipes (id, key, lang, name, source_url, payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	lang=excluded.lang,
	name=excluded.name,
	source_url=excluded.source_url,
	payload=excluded.payload,
	updated_at=excluded.updated_at
RETURNING id, created_at;
`

	var storedID, createdAt string
	err = s.db.QueryRowContext(
		ctx,
		stmt,
		id,
		key,
		r.Lang,
		r.Name.Get(r.Lang),
		sourceURL,
		payload,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	).Scan(&storedID, &createdAt)
	if err != nil {
		return recipe.Recipe{}, s.classify("upsert recipe", err)
	}

	r.ID = storedID
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt = now
	return r, nil
}

// GetRecipe retrieves a recipe by key
func (s *sqliteStore) GetRecipe(ctx context.Context, key string) (recipe.Recipe, bool, error) {
	if err := s.guard("get recipe"); err != nil {
		return recipe.Recipe{}, false, err
	}

	var id, payload, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, payload, created_at, updated_at FROM recipes WHERE key = ?`, key,
	).Scan(&id, &payload, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return recipe.Recipe{}, false, nil
	}
	if err != nil {
		return recipe.Recipe{}, false, s.classify("get recipe", err)
	}

	var r recipe.Recipe
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return recipe.Recipe{}, false, fmt.Errorf("decode recipe %s: %w", key, err)
	}
	r.ID = id
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return r, true, nil
}

// CountRecipes returns the number of stored recipes
func (s *sqliteStore) CountRecipes(ctx context.Context) (int64, error) {
	if err := s.guard("count recipes"); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes`).Scan(&n); err != nil {
		return 0, s.classify("count recipes", err)
	}
	return n, nil
}

// InsertIngredient stores a new entity and returns its assigned ID
func (s *sqliteStore) InsertIngredient(ctx context.Context, ing recipe.Ingredient) (string, error) {
	if err := s.guard("insert ingredient"); err != nil {
		return "", err
	}
	if len(ing.Name) == 0 {
		return "", fmt.Errorf("insert ingredient: no name: %w", internalerr.ErrInvalidInput)
	}

	names, err := json.Marshal(ing.Name)
	if err != nil {
		return "", fmt.Errorf("encode ingredient name: %w", err)
	}

	id := s.newID(time.Now())
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO ingredients (id, names) VALUES (?, ?)`, id, string(names),
	); err != nil {
		return "", s.classify("insert ingredient", err)
	}
	return id, nil
}

// FindAllIngredients returns every entity in insertion order
func (s *sqliteStore) FindAllIngredients(ctx context.Context) ([]recipe.Ingredient, error) {
	if err := s.guard("find ingredients"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, names FROM ingredients ORDER BY seq`)
	if err != nil {
		return nil, s.classify("find ingredients", err)
	}
	defer rows.Close()

	var out []recipe.Ingredient
	for rows.Next() {
		var id, names string
		if err := rows.Scan(&id, &names); err != nil {
			return nil, s.classify("find ingredients", err)
		}
		ing := recipe.Ingredient{ID: id}
		if err := json.Unmarshal([]byte(names), &ing.Name); err != nil {
			return nil, fmt.Errorf("decode ingredient %s: %w", id, err)
		}
		out = append(out, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify("find ingredients", err)
	}
	return out, nil
}

// AddTranslation adds or replaces one language variant of an entity's name
func (s *sqliteStore) AddTranslation(ctx context.Context, id, lang, name string) error {
	if err := s.guard("add translation"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify("add translation", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT names FROM ingredients WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("ingredient %s: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return s.classify("add translation", err)
	}

	names := recipe.LocalizedText{}
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return fmt.Errorf("decode ingredient %s: %w", id, err)
	}
	names[lang] = name

	updated, err := json.Marshal(names)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE ingredients SET names = ? WHERE id = ?`, string(updated), id); err != nil {
		return s.classify("add translation", err)
	}
	return tx.Commit()
}

// ArchiveRaw stores raw document bytes. An existing entry for ref is kept.
func (s *sqliteStore) ArchiveRaw(ctx context.Context, ref string, data []byte) error {
	if err := s.guard("archive raw"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_documents (ref, data, archived_at) VALUES (?, ?, ?) ON CONFLICT(ref) DO NOTHING`,
		ref, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return s.classify("archive raw", err)
}

// HasRaw reports whether ref is archived
func (s *sqliteStore) HasRaw(ctx context.Context, ref string) (bool, error) {
	if err := s.guard("has raw"); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM raw_documents WHERE ref = ?`, ref).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, s.classify("has raw", err)
	}
	return true, nil
}

// GetRaw returns the archived entry for ref
func (s *sqliteStore) GetRaw(ctx context.Context, ref string) (store.RawEntry, error) {
	if err := s.guard("get raw"); err != nil {
		return store.RawEntry{}, err
	}
	e := store.RawEntry{Ref: ref}
	var archivedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, archived_at FROM raw_documents WHERE ref = ?`, ref,
	).Scan(&e.Data, &archivedAt)
	if err == sql.ErrNoRows {
		return store.RawEntry{}, fmt.Errorf("raw %s: %w", ref, internalerr.ErrNotFound)
	}
	if err != nil {
		return store.RawEntry{}, s.classify("get raw", err)
	}
	e.ArchivedAt, _ = time.Parse(time.RFC3339Nano, archivedAt)
	return e, nil
}

// ListRaw returns all archived refs in sorted order
func (s *sqliteStore) ListRaw(ctx context.Context) ([]string, error) {
	if err := s.guard("list raw"); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ref FROM raw_documents ORDER BY ref`)
	if err != nil {
		return nil, s.classify("list raw", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, s.classify("list raw", err)
		}
		refs = append(refs, ref)
	}
	return refs, s.classify("list raw", rows.Err())
}

// encodeRecipe serializes the record without the columns stored separately.
func encodeRecipe(r recipe.Recipe) (string, error) {
	r.ID = ""
	r.CreatedAt = time.Time{}
	r.UpdatedAt = time.Time{}
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
