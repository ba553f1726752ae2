// Package checkpoint persists snapshots of generation runs so that a failed
// or interrupted run can be resumed from the leaf where it stopped.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dgallion1/novelgen/internal/doctree"
)

var (
	ErrNotFound     = errors.New("checkpoint not found")
	ErrInvalidRunID = errors.New("invalid run id")
)

// Record is the state of one run after its latest completed or failed leaf.
type Record struct {
	RunID      string           `json:"runId"`
	Genre      doctree.Genre    `json:"genre"`
	Provider   string           `json:"provider"`
	Settings   string           `json:"basicSettings"`
	Document   doctree.Document `json:"document"`
	FailedLeaf string           `json:"failedLeaf,omitempty"`
	Error      string           `json:"error,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Store saves and loads records by run ID.
type Store interface {
	Save(ctx context.Context, r Record) error
	Load(ctx context.Context, runID string) (Record, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, runID string) error
	Close() error
}

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

func checkRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	return nil
}

// Open returns the store selected by backend: "file", "sqlite", "pathstore"
// or "none". path is a directory for file, a database file for sqlite and a
// key prefix for pathstore.
func Open(backend, path string, remote PathstoreConfig) (Store, error) {
	switch backend {
	case "", "none":
		return Nop{}, nil
	case "file":
		return NewFileStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	case "pathstore":
		return NewPathstoreStore(remote, path)
	}
	return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
}

// Nop discards every record.
type Nop struct{}

func (Nop) Save(context.Context, Record) error { return nil }
func (Nop) Load(_ context.Context, id string) (Record, error) {
	return Record{}, fmt.Errorf("load %s: %w", id, ErrNotFound)
}
func (Nop) List(context.Context) ([]string, error) { return nil, nil }
func (Nop) Delete(context.Context, string) error   { return nil }
func (Nop) Close() error                           { return nil }
