package trellis

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshforge/internal/adapters/scene"
	"meshforge/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSubmit(t *testing.T) {
	var got submitPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(testLogger(), srv.URL)
	err := c.Submit(context.Background(), "corr-1", "a red dragon")
	require.NoError(t, err)
	assert.Equal(t, "corr-1", got.ID)
	assert.Equal(t, "a red dragon", got.Prompt)
}

func TestSubmit_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testLogger(), srv.URL)
	err := c.Submit(context.Background(), "corr-1", "dragon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}

func TestCompletion_States(t *testing.T) {
	responses := map[string]statusPayload{
		"queued":  {Status: "queued"},
		"running": {Status: "running"},
		"done":    {Status: "succeeded", RemoteID: "r-9", AssetPath: "Generated/dragon.glb"},
		"failed":  {Status: "failed", Error: "nsfw prompt rejected"},
		"odd":     {Status: "exploded"},
		"empty":   {Status: "succeeded"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/api/generate/"):]
		payload, ok := responses[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	c := NewClient(testLogger(), srv.URL)
	ctx := context.Background()

	for _, id := range []string{"queued", "running"} {
		res, err := c.Completion(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, res, "status %q must read as still-pending", id)
	}

	res, err := c.Completion(ctx, "done")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "r-9", res.RemoteID)
	assert.Equal(t, "Generated/dragon.glb", res.AssetPath)

	_, err = c.Completion(ctx, "failed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nsfw prompt rejected")

	_, err = c.Completion(ctx, "odd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")

	_, err = c.Completion(ctx, "empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no asset path")

	_, err = c.Completion(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job for correlation id")
}

func TestAdoptOrphan(t *testing.T) {
	g := scene.NewGraph()
	adopt := AdoptOrphan(testLogger(), g)
	ctx := context.Background()

	// No candidate entity at all.
	_, ok := adopt(ctx, "Generated/dragon.fbx")
	assert.False(t, ok)

	// Entity exists but was deliberately placed: not a service side effect.
	g.AddEntity(domain.Entity{Name: "castle", Enabled: true, Position: domain.V3(3, 0, 3)})
	_, ok = adopt(ctx, "Generated/castle.fbx")
	assert.False(t, ok)

	// Entity at the origin with no parentage: adopt it.
	g.AddEntity(domain.Entity{Name: "dragon", Enabled: true})
	ref, ok := adopt(ctx, "Generated/dragon.fbx")
	require.True(t, ok)
	assert.Equal(t, "dragon", ref)
}
