// Package cache persists embedding vectors in a local SQLite database, keyed
// by a stable lead identity. It is used to keep evaluation-set embeddings
// across optimization runs so the fixed set is never re-embedded.
package cache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/spigell/leadrank/internal/embedding"
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	key        TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	dimension  INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// Store is a key-addressable embedding cache backed by SQLite.
type Store struct {
	db    *sql.DB
	model string

	schemaOnce sync.Once
	schemaErr  error
}

// Open opens (or creates) the cache database at path. Entries are scoped to
// the given embedding model: a model change invalidates every lookup.
func Open(path, model string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache path is required")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	return &Store{db: db, model: strings.TrimSpace(model)}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the embeddings table when missing. It is idempotent
// and runs the DDL at most once per Store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, schema)
	})
	if s.schemaErr != nil {
		return fmt.Errorf("ensuring cache schema: %w", s.schemaErr)
	}
	return nil
}

// Get returns the cached vector for key. A missing key, a different model, or
// a stored dimension that disagrees with the blob all read as a miss.
func (s *Store) Get(ctx context.Context, key string) (embedding.Vector, bool, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, false, err
	}

	var (
		model     string
		dimension int
		blob      []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT model, dimension, vector FROM embeddings WHERE key = ?", key,
	).Scan(&model, &dimension, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached embedding: %w", err)
	}

	if model != s.model || dimension <= 0 || len(blob) != dimension*4 {
		return nil, false, nil
	}

	return decode(blob), true, nil
}

// Put stores or replaces the vector under key.
func (s *Store) Put(ctx context.Context, key string, vector embedding.Vector) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	if len(vector) == 0 {
		return errors.New("refusing to cache empty vector")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (key, model, dimension, vector, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			model = excluded.model,
			dimension = excluded.dimension,
			vector = excluded.vector,
			updated_at = excluded.updated_at`,
		key, s.model, len(vector), encode(vector),
	)
	if err != nil {
		return fmt.Errorf("writing cached embedding: %w", err)
	}
	return nil
}

func encode(v embedding.Vector) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decode(blob []byte) embedding.Vector {
	v := make(embedding.Vector, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}
