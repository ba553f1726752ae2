package pathstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRoundTrip(t *testing.T) {
	stored := map[string]json.RawMessage{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		key := r.URL.Path[len("/kv/"):]
		switch r.Method {
		case http.MethodPut:
			var req struct {
				Value json.RawMessage `json:"value"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			stored[key] = req.Value
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			if key == "runs/*" {
				var nodes []Node
				for k, v := range stored {
					nodes = append(nodes, Node{Key: k, Value: v})
				}
				_ = json.NewEncoder(w).Encode(map[string]any{"nodes": nodes})
				return
			}
			v, ok := stored[key]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(Node{Key: key, Value: v})
		case http.MethodDelete:
			delete(stored, key)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret")
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.PutNode(ctx, "runs/a", NodeRequest{Value: map[string]int{"n": 1}}))
	node, err := c.GetNode(ctx, "runs/a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(node.Value))

	nodes, err := c.ListChildren(ctx, "runs", 10)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	require.NoError(t, c.DeleteNode(ctx, "runs/a", false))
	_, err = c.GetNode(ctx, "runs/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "k").PutNode(context.Background(), "x", NodeRequest{Value: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
