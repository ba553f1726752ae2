package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/dgallion1/novelgen/internal/pathstore"
)

// PathstoreConfig locates the remote path store.
type PathstoreConfig struct {
	URL    string
	APIKey string
}

// PathstoreStore keeps records as values under a key prefix of a remote
// path store.
type PathstoreStore struct {
	client *pathstore.Client
	prefix string
}

func NewPathstoreStore(cfg PathstoreConfig, prefix string) (*PathstoreStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("pathstore checkpoints need PATHSTORE_URL")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "novelgen/runs"
	}
	return &PathstoreStore{client: pathstore.NewClient(cfg.URL, cfg.APIKey), prefix: prefix}, nil
}

func (s *PathstoreStore) key(id string) string { return s.prefix + "/" + id }

func (s *PathstoreStore) Save(ctx context.Context, r Record) error {
	if err := checkRunID(r.RunID); err != nil {
		return err
	}
	return s.client.PutNode(ctx, s.key(r.RunID), pathstore.NodeRequest{
		Value:     r,
		MergeMode: "replace",
		Source:    "novelgen",
	})
}

func (s *PathstoreStore) Load(ctx context.Context, id string) (Record, error) {
	if err := checkRunID(id); err != nil {
		return Record{}, err
	}
	node, err := s.client.GetNode(ctx, s.key(id))
	if errors.Is(err, pathstore.ErrNotFound) {
		return Record{}, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(node.Value, &r); err != nil {
		return Record{}, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return r, nil
}

func (s *PathstoreStore) List(ctx context.Context) ([]string, error) {
	nodes, err := s.client.ListChildren(ctx, s.prefix, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, path.Base(n.Key))
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *PathstoreStore) Delete(ctx context.Context, id string) error {
	if err := checkRunID(id); err != nil {
		return err
	}
	err := s.client.DeleteNode(ctx, s.key(id), false)
	if errors.Is(err, pathstore.ErrNotFound) {
		return nil
	}
	return err
}

func (s *PathstoreStore) Close() error {
	s.client.Close()
	return nil
}
