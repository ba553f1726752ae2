package checkpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/novelgen/internal/doctree"
)

func record(id string) Record {
	return Record{
		RunID:    id,
		Genre:    doctree.GenreNovel,
		Provider: "claude",
		Settings: "a keeper",
		Document: doctree.FromTree(doctree.Tree{Title: "T", Children: []doctree.Node{
			{ID: "a", Title: "A", Pages: 1, Content: "written"},
			{ID: "b", Title: "B", Pages: 1},
		}}),
		FailedLeaf: "b",
		Error:      "status 503",
		UpdatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// exerciseStore runs the behavior every backend shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	want := record("run-1")
	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.FailedLeaf, got.FailedLeaf)
	assert.Equal(t, want.Genre, got.Genre)
	assert.Equal(t, "written", got.Document.Tree.Leaves()[0].Content)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	want.FailedLeaf = ""
	require.NoError(t, s.Save(ctx, want))
	got, err = s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, got.FailedLeaf, "save overwrites")

	require.NoError(t, s.Save(ctx, record("run-2")))
	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1", "run-2"}, ids)

	require.NoError(t, s.Delete(ctx, "run-1"))
	_, err = s.Load(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Close())
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "cp"))
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	err = s.Save(context.Background(), record("../escape"))
	assert.ErrorIs(t, err, ErrInvalidRunID)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestPathstoreStore(t *testing.T) {
	var mu sync.Mutex
	stored := map[string]json.RawMessage{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		key := strings.TrimPrefix(r.URL.Path, "/kv/")
		switch {
		case r.Method == http.MethodPut:
			var body struct {
				Value json.RawMessage `json:"value"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			stored[key] = body.Value
		case r.Method == http.MethodGet && strings.HasSuffix(key, "/*"):
			prefix := strings.TrimSuffix(key, "*")
			var nodes []map[string]any
			for k, v := range stored {
				if strings.HasPrefix(k, prefix) {
					nodes = append(nodes, map[string]any{"key_path": k, "value": v})
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
		case r.Method == http.MethodGet:
			v, ok := stored[key]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"key_path": key, "value": v})
		case r.Method == http.MethodDelete:
			delete(stored, key)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	s, err := NewPathstoreStore(PathstoreConfig{URL: srv.URL, APIKey: "k"}, "")
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	s, err := Open("none", "", PathstoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	_, err = Open("pathstore", "", PathstoreConfig{})
	assert.Error(t, err)

	_, err = Open("redis", "", PathstoreConfig{})
	assert.Error(t, err)
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, WriteFile(path, []byte("one"), 0o644))
	require.NoError(t, WriteFile(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
