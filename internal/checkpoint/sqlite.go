package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dgallion1/novelgen/internal/doctree"
)

// SQLiteStore keeps records in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "novelgen.db"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		genre TEXT,
		provider TEXT,
		settings TEXT,
		document JSON,
		failed_leaf TEXT,
		error TEXT,
		updated_at INTEGER
	);`)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	if err := checkRunID(r.RunID); err != nil {
		return err
	}
	doc, err := json.Marshal(r.Document)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, genre, provider, settings, document, failed_leaf, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			genre=excluded.genre,
			provider=excluded.provider,
			settings=excluded.settings,
			document=excluded.document,
			failed_leaf=excluded.failed_leaf,
			error=excluded.error,
			updated_at=excluded.updated_at
	`, r.RunID, string(r.Genre), r.Provider, r.Settings, string(doc), r.FailedLeaf, r.Error, r.UpdatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (Record, error) {
	var (
		r       Record
		genre   string
		doc     string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, genre, provider, settings, document, failed_leaf, error, updated_at
		FROM runs WHERE run_id = ?`, id).
		Scan(&r.RunID, &genre, &r.Provider, &r.Settings, &doc, &r.FailedLeaf, &r.Error, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(doc), &r.Document); err != nil {
		return Record{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	r.Genre = doctree.Genre(genre)
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return r, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
