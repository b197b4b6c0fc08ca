package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshforge/internal/adapters/assetdir"
	"meshforge/internal/adapters/gltf"
	"meshforge/internal/adapters/scene"
	"meshforge/internal/core/domain"
	"meshforge/internal/core/services"
)

// stubGenerator fails every submission; the library-backed tests never
// reach it.
type stubGenerator struct{}

func (stubGenerator) Submit(context.Context, string, string) error {
	return errors.New("generation service not configured")
}

func (stubGenerator) Completion(context.Context, string) (*domain.GenerationResult, error) {
	return nil, errors.New("generation service not configured")
}

func newTestServer(t *testing.T) (http.Handler, *scene.Graph) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "oak_tree.fbx"), []byte("model"), 0o644))
	index, err := assetdir.New(logger, root, "Generated")
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	graph := scene.NewGraph()
	resolver := services.NewResolver(logger, index)
	events := services.NewEventBus(logger)
	history := services.NewHistoryService(logger, graph)
	loader := gltf.New(logger, graph, root)
	store := newMemSlots()

	factory := func(slot string) *services.Orchestrator {
		return services.NewOrchestrator(logger, slot, store, graph, resolver, stubGenerator{}, loader, events)
	}

	srv, err := New(logger, factory, history, events)
	require.NoError(t, err)
	handler, err := srv.Handler()
	require.NoError(t, err)
	return handler, graph
}

// newMemSlots is a tiny in-package slot store so the HTTP tests carry no
// database dependency.
type memSlots struct {
	slots map[string]domain.SlotState
}

func newMemSlots() *memSlots { return &memSlots{slots: map[string]domain.SlotState{}} }

func (m *memSlots) Load(_ context.Context, slot string) (*domain.SlotState, error) {
	s, ok := m.slots[slot]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (m *memSlots) Save(_ context.Context, state *domain.SlotState) error {
	m.slots[state.Slot] = *state
	return nil
}

func (m *memSlots) Clear(_ context.Context, slot string) error {
	delete(m.slots, slot)
	return nil
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if ct := rec.Header().Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestGenerate_RejectsMissingTargetName(t *testing.T) {
	h, _ := newTestServer(t)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/slots/editor-1/generate", `{"position":[0,0,0]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestGenerate_LibraryHitRoundTrip(t *testing.T) {
	h, graph := newTestServer(t)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/slots/editor-1/generate",
		`{"target_name":"Oak Tree","position":{"x":1,"y":0,"z":2}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(3), body["retry_after_seconds"])

	rec, body = doJSON(t, h, http.MethodGet, "/v1/slots/editor-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["terminal"])
	assert.Equal(t, "success", body["outcome"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "oak_tree.fbx", data["asset_path"])

	ent, err := graph.Find(context.Background(), data["entity"].(string))
	require.NoError(t, err)
	assert.Equal(t, domain.V3(1, 0, 2), ent.Position)

	// Terminal result is consumed; the slot is free again.
	rec, body = doJSON(t, h, http.MethodGet, "/v1/slots/editor-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["no_active_job"])
}

func TestGenerate_VectorEncodings(t *testing.T) {
	h, graph := newTestServer(t)

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/slots/editor-2/generate",
		`{"target_name":"oak tree","position":"3, 4, 5"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	_, body := doJSON(t, h, http.MethodGet, "/v1/slots/editor-2/status", "")
	data := body["data"].(map[string]any)
	ent, err := graph.Find(context.Background(), data["entity"].(string))
	require.NoError(t, err)
	assert.Equal(t, domain.V3(3, 4, 5), ent.Position)
}

func TestTransform_UnknownSource(t *testing.T) {
	h, _ := newTestServer(t)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/slots/editor-1/transform",
		`{"source_object":"Ghost","target_name":"oak tree"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestTransform_RoundTrip(t *testing.T) {
	h, graph := newTestServer(t)
	graph.AddEntity(domain.Entity{
		Name:       "OldCrate",
		Enabled:    true,
		Position:   domain.V3(7, 0, 7),
		Scale:      domain.One(),
		BoundsSize: domain.One(),
	})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/slots/editor-1/transform",
		`{"source_object":"OldCrate","target_name":"oak tree"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/slots/editor-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", body["outcome"])

	src, err := graph.Find(context.Background(), "OldCrate")
	require.NoError(t, err)
	assert.False(t, src.Enabled)

	// The replacement owns a one-entry history chain, visible via the API.
	rec, body = doJSON(t, h, http.MethodGet, "/v1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := body["history"].([]any)
	require.Len(t, entries, 1)
	first := entries[0].(map[string]any)
	assert.Equal(t, "OldCrate", first["last_from"])
}

func TestRevert_RoundTrip(t *testing.T) {
	h, graph := newTestServer(t)
	graph.AddEntity(domain.Entity{
		Name:       "OldCrate",
		Enabled:    true,
		Position:   domain.V3(7, 0, 7),
		Scale:      domain.One(),
		BoundsSize: domain.One(),
	})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/slots/editor-1/transform",
		`{"source_object":"OldCrate","target_name":"oak tree"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec, _ = doJSON(t, h, http.MethodGet, "/v1/slots/editor-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/revert", `{"target":"oak_tree"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	src, err := graph.Find(context.Background(), "OldCrate")
	require.NoError(t, err)
	assert.True(t, src.Enabled)
	assert.Equal(t, domain.V3(7, 0, 7), src.Position)
}

func TestRevert_Errors(t *testing.T) {
	h, graph := newTestServer(t)
	graph.AddEntity(domain.Entity{Name: "Plain", Enabled: true})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/revert", `{"target":"Ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Entity exists but owns no history chain.
	rec, _ = doJSON(t, h, http.MethodPost, "/v1/revert", `{"target":"Plain"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDocumentEndpoint(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.yaml", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "meshforge API")
}
