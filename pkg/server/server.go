// Package server exposes the orchestration engine over HTTP. Requests are
// validated against the embedded OpenAPI document before reaching the
// handlers; slot events stream over SSE outside the validated surface.
package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"

	"meshforge/internal/core/domain"
	"meshforge/internal/core/services"
)

//go:embed openapi.yaml
var openapiDocument []byte

// OrchestratorFactory builds (or returns) the orchestrator bound to a slot.
type OrchestratorFactory func(slot string) *services.Orchestrator

type Server struct {
	logger  *slog.Logger
	history *services.HistoryService
	events  *services.EventBus
	factory OrchestratorFactory

	mu    sync.Mutex
	slots map[string]*services.Orchestrator

	doc *openapi3.T
}

func New(logger *slog.Logger, factory OrchestratorFactory, history *services.HistoryService, events *services.EventBus) (*Server, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiDocument)
	if err != nil {
		return nil, fmt.Errorf("loading embedded api document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("embedded api document is invalid: %w", err)
	}

	return &Server{
		logger:  logger,
		history: history,
		events:  events,
		factory: factory,
		slots:   make(map[string]*services.Orchestrator),
		doc:     doc,
	}, nil
}

func (s *Server) orchestrator(slot string) *services.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.slots[slot]; ok {
		return o
	}
	o := s.factory(slot)
	s.slots[slot] = o
	return o
}

// Handler returns the routed, request-validated http.Handler.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/slots/{slot}/generate", s.handleGenerate)
	mux.HandleFunc("POST /v1/slots/{slot}/transform", s.handleTransform)
	mux.HandleFunc("GET /v1/slots/{slot}/status", s.handleStatus)
	mux.HandleFunc("GET /v1/slots/{slot}/events", s.handleEvents)
	mux.HandleFunc("POST /v1/revert", s.handleRevert)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /v1/openapi.yaml", s.handleDocument)

	router, err := legacyrouter.NewRouter(s.doc)
	if err != nil {
		return nil, fmt.Errorf("building api router: %w", err)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// SSE and the document itself bypass body validation.
		if strings.HasSuffix(r.URL.Path, "/events") || strings.HasSuffix(r.URL.Path, "/openapi.yaml") {
			mux.ServeHTTP(w, r)
			return
		}

		route, pathParams, err := router.FindRoute(r)
		if err == nil {
			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
				return
			}
		}
		mux.ServeHTTP(w, r)
	}), nil
}

type generateBody struct {
	TargetName        string `json:"target_name"`
	Position          any    `json:"position"`
	Rotation          any    `json:"rotation"`
	Scale             any    `json:"scale"`
	Parent            string `json:"parent"`
	SearchExisting    *bool  `json:"search_existing"`
	GenerateIfMissing *bool  `json:"generate_if_missing"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	slot := r.PathValue("slot")
	var body generateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req := services.GenerateRequest{
		Prompt:            body.TargetName,
		Parent:            body.Parent,
		SearchExisting:    boolOr(body.SearchExisting, true),
		GenerateIfMissing: boolOr(body.GenerateIfMissing, true),
	}
	req.Position = s.coerceVec(body.Position, "position", domain.Vec3{})
	req.Rotation = s.coerceVec(body.Rotation, "rotation", domain.Vec3{})
	req.Scale = s.coerceVec(body.Scale, "scale", domain.One())

	ack, err := s.orchestrator(slot).StartGenerate(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, startResponse(ack))
}

type transformBody struct {
	SourceObject      string `json:"source_object"`
	TargetName        string `json:"target_name"`
	SearchExisting    *bool  `json:"search_existing"`
	GenerateIfMissing *bool  `json:"generate_if_missing"`
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	slot := r.PathValue("slot")
	var body transformBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	ack, err := s.orchestrator(slot).StartTransform(r.Context(), services.TransformRequest{
		SourceRef:         body.SourceObject,
		Prompt:            body.TargetName,
		SearchExisting:    boolOr(body.SearchExisting, true),
		GenerateIfMissing: boolOr(body.GenerateIfMissing, true),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, startResponse(ack))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	slot := r.PathValue("slot")
	result, err := s.orchestrator(slot).PollStatus(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type revertBody struct {
	Target     string `json:"target"`
	ToOriginal bool   `json:"to_original"`
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	var body revertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Target) == "" {
		s.writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	result, err := s.history.Revert(r.Context(), body.Target, body.ToOriginal)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.history.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": summaries})
}

func (s *Server) handleDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiDocument)
}

// handleEvents streams slot status transitions as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	slot := r.PathValue("slot")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := s.events.Subscribe(slot)
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) coerceVec(value any, field string, fallback domain.Vec3) *domain.Vec3 {
	if value == nil {
		return nil
	}
	v, ok := domain.CoerceVec3(value, fallback)
	if !ok {
		s.logger.Warn("unparseable vector, using default", "field", field, "value", value)
	}
	return &v
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func startResponse(ack *services.StartAck) map[string]any {
	return map[string]any{
		"success":             true,
		"slot":                ack.Slot,
		"status":              ack.Status,
		"message":             ack.Message,
		"retry_after_seconds": ack.RetryAfterSeconds,
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEntityNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoAssetFound), errors.Is(err, domain.ErrEmptyHistory):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
