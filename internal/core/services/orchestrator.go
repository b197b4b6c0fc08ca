package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"meshforge/internal/core/domain"
	"meshforge/internal/core/ports"
)

const defaultRetryAfterSeconds = 3

// AdoptFunc is an injected compatibility shim: before instantiating a
// generated asset, ask the generation adapter whether its own side effects
// already placed an entity for it, and reuse that entity instead of
// creating a duplicate. The heuristic lives at the adapter boundary; the
// state machine only sees an opaque hook.
type AdoptFunc func(ctx context.Context, assetPath string) (ref string, ok bool)

// Orchestrator drives the request → resolve → instantiate → finalize saga
// for one slot. Nothing here blocks: external waits surface as pending
// poll responses, and the slot state is persisted at every transition so
// the saga survives process restarts.
type Orchestrator struct {
	logger   *slog.Logger
	slot     string
	store    ports.SlotStore
	scene    ports.SceneGraph
	resolver *Resolver
	gen      ports.Generator
	loader   ports.ModelLoader
	events   *EventBus
	adopt    AdoptFunc

	retryAfter int
	now        func() time.Time
}

type OrchestratorOption func(*Orchestrator)

// WithAdoptHook installs the generated-entity adoption shim.
func WithAdoptHook(fn AdoptFunc) OrchestratorOption {
	return func(o *Orchestrator) { o.adopt = fn }
}

// WithRetryAfter overrides the suggested poll interval in seconds.
func WithRetryAfter(seconds int) OrchestratorOption {
	return func(o *Orchestrator) { o.retryAfter = seconds }
}

// WithOrchestratorClock overrides the time source.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	logger *slog.Logger,
	slot string,
	store ports.SlotStore,
	scene ports.SceneGraph,
	resolver *Resolver,
	gen ports.Generator,
	loader ports.ModelLoader,
	events *EventBus,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		logger:     logger,
		slot:       slot,
		store:      store,
		scene:      scene,
		resolver:   resolver,
		gen:        gen,
		loader:     loader,
		events:     events,
		retryAfter: defaultRetryAfterSeconds,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GenerateRequest asks for a brand-new entity built from a prompt.
type GenerateRequest struct {
	Prompt            string
	Position          *domain.Vec3
	Rotation          *domain.Vec3
	Scale             *domain.Vec3
	Parent            string
	SearchExisting    bool
	GenerateIfMissing bool
}

// TransformRequest asks for an existing entity to be replaced by one
// matching the prompt.
type TransformRequest struct {
	SourceRef         string
	Prompt            string
	SearchExisting    bool
	GenerateIfMissing bool
}

// StartAck is the immediate, never-blocking acknowledgment of a Start call.
type StartAck struct {
	Slot              string            `json:"slot"`
	Status            domain.SlotStatus `json:"status"`
	Message           string            `json:"message"`
	RetryAfterSeconds int               `json:"retry_after_seconds"`
}

// PollResult is the status response: pending with a retry hint, terminal
// with an outcome, or "no active job" when the slot is empty.
type PollResult struct {
	Pending           bool              `json:"pending"`
	Terminal          bool              `json:"terminal"`
	NoActiveJob       bool              `json:"no_active_job"`
	Outcome           string            `json:"outcome,omitempty"` // success | error
	Message           string            `json:"message"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
	Snapshot          *domain.SlotState `json:"snapshot,omitempty"`
	Data              map[string]any    `json:"data,omitempty"`
}

// StartGenerate validates the request, resolves the prompt against the
// library when asked, and otherwise submits it to the generation service.
// It returns immediately; completion is observed through PollStatus.
func (o *Orchestrator) StartGenerate(ctx context.Context, req GenerateRequest) (*StartAck, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: target_name is required for generate", domain.ErrValidation)
	}

	job := o.newJob(domain.ActionGenerate, prompt)
	job.OriginalPosition = valueOr(req.Position, domain.Vec3{})
	job.OriginalRotation = valueOr(req.Rotation, domain.Vec3{})
	job.OriginalScale = valueOr(req.Scale, domain.One())
	job.OriginalParentPath = req.Parent

	return o.resolveOrGenerate(ctx, job, req.SearchExisting, req.GenerateIfMissing)
}

// StartTransform captures the source entity's placement and bounds before
// any mutation, then follows the same resolve-or-generate flow.
func (o *Orchestrator) StartTransform(ctx context.Context, req TransformRequest) (*StartAck, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: target_name is required for transform", domain.ErrValidation)
	}
	if strings.TrimSpace(req.SourceRef) == "" {
		return nil, fmt.Errorf("%w: source_object is required for transform", domain.ErrValidation)
	}

	src, err := o.scene.Find(ctx, req.SourceRef)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", req.SourceRef, domain.ErrEntityNotFound)
	}

	job := o.newJob(domain.ActionTransform, prompt)
	job.SourceEntityRef = src.Path
	job.SourceAssetPath = src.AssetPath
	job.OriginalPosition = src.Position
	job.OriginalRotation = src.Rotation
	job.OriginalScale = src.Scale
	job.OriginalBoundsSize = src.BoundsSize
	job.OriginalParentPath = src.ParentPath
	job.OriginalSiblingIndex = src.SiblingIndex

	return o.resolveOrGenerate(ctx, job, req.SearchExisting, req.GenerateIfMissing)
}

func (o *Orchestrator) newJob(action domain.ActionType, prompt string) *domain.SlotState {
	now := o.now()
	return &domain.SlotState{
		Slot:          o.slot,
		Status:        domain.SlotStatusSearching,
		Action:        action,
		CorrelationID: uuid.NewString(),
		Prompt:        prompt,
		PromptKey:     NormalizePrompt(prompt),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (o *Orchestrator) resolveOrGenerate(ctx context.Context, job *domain.SlotState, searchExisting, generateIfMissing bool) (*StartAck, error) {
	if searchExisting {
		assetPath, found, err := o.resolver.Search(ctx, job.Prompt)
		if err != nil {
			o.logger.Warn("asset search failed, falling through to generation", "slot", o.slot, "error", err)
		}
		if found {
			job.ResolvedAssetPath = assetPath
			o.setStatus(job, domain.SlotStatusInstantiating, "library hit: "+assetPath)
			o.finalize(ctx, job)
			if err := o.store.Save(ctx, job); err != nil {
				return nil, fmt.Errorf("persisting slot state: %w", err)
			}
			return o.ack(job, "asset resolved from library; poll status to collect the result"), nil
		}
	}

	if !generateIfMissing {
		return nil, fmt.Errorf("%w for %q and generation is disabled", domain.ErrNoAssetFound, job.Prompt)
	}

	if err := o.gen.Submit(ctx, job.CorrelationID, job.Prompt); err != nil {
		// Adapter errors become the job's terminal state and surface on
		// the next poll rather than vanishing.
		o.fail(job, fmt.Sprintf("generation submission failed: %v", err))
		if saveErr := o.store.Save(ctx, job); saveErr != nil {
			return nil, fmt.Errorf("persisting slot state: %w", saveErr)
		}
		return o.ack(job, "generation submission failed; poll status for details"), nil
	}

	o.setStatus(job, domain.SlotStatusGenerating, "generation submitted")
	if err := o.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting slot state: %w", err)
	}
	return o.ack(job, "generation submitted; poll status until completed"), nil
}

// PollStatus inspects the slot and advances the state machine. A poll that
// observes a terminal status reports it once and deletes the slot state; a
// subsequent poll sees no active job.
func (o *Orchestrator) PollStatus(ctx context.Context) (*PollResult, error) {
	job, err := o.store.Load(ctx, o.slot)
	if err != nil {
		return nil, fmt.Errorf("loading slot state: %w", err)
	}
	if job == nil {
		return &PollResult{NoActiveJob: true, Message: "no active job"}, nil
	}

	switch job.Status {
	case domain.SlotStatusCompleted, domain.SlotStatusError:
		return o.consume(ctx, job)

	case domain.SlotStatusGenerating:
		return o.pollGenerating(ctx, job)

	case domain.SlotStatusLoadingGLB:
		return o.pollLoading(ctx, job)

	case domain.SlotStatusInstantiating:
		o.finalize(ctx, job)
		return o.consume(ctx, job)

	case domain.SlotStatusSearching:
		// Only reachable after a crash between request intake and the
		// first transition; the resolution itself was lost.
		o.fail(job, "job interrupted before resolution completed")
		return o.consume(ctx, job)

	default:
		o.fail(job, fmt.Sprintf("unknown slot status %q", job.Status))
		return o.consume(ctx, job)
	}
}

func (o *Orchestrator) pollGenerating(ctx context.Context, job *domain.SlotState) (*PollResult, error) {
	res, err := o.gen.Completion(ctx, job.CorrelationID)
	if err != nil {
		o.fail(job, fmt.Sprintf("generation failed: %v", err))
		return o.consume(ctx, job)
	}
	if res == nil {
		return o.pending(job, "generation still running"), nil
	}

	job.GeneratedAssetPath = res.AssetPath
	job.WasGenerated = true
	o.logger.Info("generation completed", "slot", o.slot, "remote_id", res.RemoteID, "asset", res.AssetPath)

	if needsRuntimeLoader(res.AssetPath) {
		return o.beginRuntimeLoad(ctx, job)
	}

	o.setStatus(job, domain.SlotStatusInstantiating, "generated asset ready")
	if job.Action == domain.ActionGenerate {
		// Generate actions finalize inline: this poll itself may complete
		// the job.
		o.finalize(ctx, job)
		return o.consume(ctx, job)
	}
	if err := o.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting slot state: %w", err)
	}
	return o.pending(job, "generated asset ready; instantiating"), nil
}

func (o *Orchestrator) beginRuntimeLoad(ctx context.Context, job *domain.SlotState) (*PollResult, error) {
	containerName := assetStem(job.GeneratedAssetPath)
	container, err := o.scene.CreateContainer(ctx, containerName)
	if err != nil {
		o.fail(job, fmt.Sprintf("creating loader container: %v", err))
		return o.consume(ctx, job)
	}

	handle, err := o.loader.Begin(ctx, job.GeneratedAssetPath, container.Path)
	if err != nil {
		if destroyErr := o.scene.Destroy(ctx, container.Path); destroyErr != nil {
			o.logger.Warn("failed to destroy loader container after rejected load", "slot", o.slot, "error", destroyErr)
		}
		o.fail(job, fmt.Sprintf("runtime loader rejected asset: %v", err))
		return o.consume(ctx, job)
	}

	job.PendingLoaderHandle = handle
	job.LoaderContainerRef = container.Path
	o.setStatus(job, domain.SlotStatusLoadingGLB, "runtime load started")
	if err := o.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting slot state: %w", err)
	}
	return o.pending(job, "runtime load in progress"), nil
}

func (o *Orchestrator) pollLoading(ctx context.Context, job *domain.SlotState) (*PollResult, error) {
	children, err := o.scene.ChildCount(ctx, job.LoaderContainerRef)
	if err != nil {
		o.fail(job, "loader container no longer exists")
		return o.consume(ctx, job)
	}

	if children > 0 {
		job.ResultEntityRef = job.LoaderContainerRef
		o.finalize(ctx, job)
		return o.consume(ctx, job)
	}

	if !o.loader.Running(job.PendingLoaderHandle) {
		if destroyErr := o.scene.Destroy(ctx, job.LoaderContainerRef); destroyErr != nil {
			o.logger.Warn("failed to destroy orphaned loader container", "slot", o.slot, "error", destroyErr)
		}
		o.fail(job, "runtime load finished without producing any children")
		return o.consume(ctx, job)
	}

	return o.pending(job, "runtime load in progress"), nil
}

// finalize places the resolved entity into the scene and closes the job.
// Shared by generate and transform; transforms additionally preserve the
// original footprint, disable the source entity, and link history.
func (o *Orchestrator) finalize(ctx context.Context, job *domain.SlotState) {
	assetPath := job.AssetPath()
	if assetPath == "" {
		o.fail(job, "no asset path available to instantiate")
		return
	}

	ent, err := o.resultEntity(ctx, job, assetPath)
	if err != nil {
		o.fail(job, err.Error())
		return
	}

	switch job.Action {
	case domain.ActionTransform:
		if err := o.finalizeTransform(ctx, job, ent, assetPath); err != nil {
			o.fail(job, err.Error())
			return
		}
	default:
		if err := o.finalizeGenerate(ctx, job, ent); err != nil {
			o.fail(job, err.Error())
			return
		}
	}

	o.resolver.Record(job.Prompt, assetPath)
	job.ResultEntityRef = ent.Path
	o.setStatus(job, domain.SlotStatusCompleted, "placed "+ent.Path)
}

// resultEntity returns the entity the job should finalize: the loader
// container when the runtime loader was involved, an adopted side-effect
// entity when the generation service already instantiated one, or a fresh
// instantiation.
func (o *Orchestrator) resultEntity(ctx context.Context, job *domain.SlotState, assetPath string) (*domain.Entity, error) {
	if job.ResultEntityRef != "" {
		ent, err := o.scene.Find(ctx, job.ResultEntityRef)
		if err != nil {
			return nil, fmt.Errorf("result entity vanished: %w", err)
		}
		return ent, nil
	}

	if job.WasGenerated && o.adopt != nil {
		if ref, ok := o.adopt(ctx, assetPath); ok {
			ent, err := o.scene.Find(ctx, ref)
			if err == nil {
				o.logger.Info("adopted entity instantiated by generation service", "slot", o.slot, "entity", ref)
				return ent, nil
			}
			o.logger.Warn("adoption hint did not resolve, instantiating fresh", "slot", o.slot, "ref", ref)
		}
	}

	ent, err := o.scene.Instantiate(ctx, assetPath, assetStem(assetPath))
	if err != nil {
		return nil, fmt.Errorf("instantiating %q: %v", assetPath, err)
	}
	if ent == nil {
		return nil, fmt.Errorf("instantiation of %q returned nothing", assetPath)
	}
	return ent, nil
}

func (o *Orchestrator) finalizeGenerate(ctx context.Context, job *domain.SlotState, ent *domain.Entity) error {
	if err := o.scene.SetTransform(ctx, ent.Path, job.OriginalPosition, job.OriginalRotation, job.OriginalScale); err != nil {
		return fmt.Errorf("applying placement: %v", err)
	}
	if job.OriginalParentPath != "" {
		if err := o.scene.SetParent(ctx, ent.Path, job.OriginalParentPath, -1); err != nil {
			return fmt.Errorf("reparenting under %q: %v", job.OriginalParentPath, err)
		}
	}
	return nil
}

func (o *Orchestrator) finalizeTransform(ctx context.Context, job *domain.SlotState, ent *domain.Entity, assetPath string) error {
	src, err := o.scene.Find(ctx, job.SourceEntityRef)
	if err != nil {
		return fmt.Errorf("source entity %q was destroyed mid-flight", job.SourceEntityRef)
	}

	scale := ComputeReplacementScale(ent.Scale, ent.BoundsSize, job.OriginalBoundsSize, job.OriginalScale)
	if err := o.scene.SetTransform(ctx, ent.Path, job.OriginalPosition, job.OriginalRotation, scale); err != nil {
		return fmt.Errorf("applying replacement transform: %v", err)
	}
	if err := o.scene.SetParent(ctx, ent.Path, job.OriginalParentPath, job.OriginalSiblingIndex); err != nil {
		return fmt.Errorf("restoring hierarchy position: %v", err)
	}
	if err := o.scene.SetEnabled(ctx, src.Path, false); err != nil {
		return fmt.Errorf("disabling source entity: %v", err)
	}

	// Chained transform: seed the new entity's chain from a value copy of
	// the predecessor's, then append.
	predecessor, err := o.scene.History(ctx, src.Path)
	if err != nil {
		return fmt.Errorf("reading predecessor history: %v", err)
	}
	chain := predecessor.Clone()
	chain.Record(domain.HistoryEntry{
		SourceName:           src.Name,
		TargetPrompt:         job.Prompt,
		ReplacementAssetPath: assetPath,
		WasGenerated:         job.WasGenerated,
		OriginalPosition:     job.OriginalPosition,
		OriginalRotation:     job.OriginalRotation,
		OriginalScale:        job.OriginalScale,
		OriginalBoundsSize:   job.OriginalBoundsSize,
		SourceAssetPath:      job.SourceAssetPath,
		Timestamp:            o.now(),
	})
	if err := o.scene.SetHistory(ctx, ent.Path, chain); err != nil {
		return fmt.Errorf("linking history: %v", err)
	}
	return nil
}

// consume reports a terminal job exactly once and removes the slot state.
func (o *Orchestrator) consume(ctx context.Context, job *domain.SlotState) (*PollResult, error) {
	if err := o.store.Clear(ctx, o.slot); err != nil {
		return nil, fmt.Errorf("clearing slot state: %w", err)
	}

	if job.Status == domain.SlotStatusError {
		o.logger.Info("job consumed", "slot", o.slot, "outcome", "error", "error", job.ErrorMessage)
		return &PollResult{
			Terminal: true,
			Outcome:  "error",
			Message:  job.ErrorMessage,
		}, nil
	}

	o.logger.Info("job consumed", "slot", o.slot, "outcome", "success", "entity", job.ResultEntityRef)
	return &PollResult{
		Terminal: true,
		Outcome:  "success",
		Message:  fmt.Sprintf("%s completed", job.Action),
		Data: map[string]any{
			"entity":        job.ResultEntityRef,
			"asset_path":    job.AssetPath(),
			"prompt":        job.Prompt,
			"was_generated": job.WasGenerated,
		},
	}, nil
}

func (o *Orchestrator) pending(job *domain.SlotState, message string) *PollResult {
	snapshot := *job
	return &PollResult{
		Pending:           true,
		Message:           message,
		RetryAfterSeconds: o.retryAfter,
		Snapshot:          &snapshot,
	}
}

func (o *Orchestrator) ack(job *domain.SlotState, message string) *StartAck {
	return &StartAck{
		Slot:              o.slot,
		Status:            job.Status,
		Message:           message,
		RetryAfterSeconds: o.retryAfter,
	}
}

func (o *Orchestrator) setStatus(job *domain.SlotState, status domain.SlotStatus, message string) {
	job.Status = status
	job.UpdatedAt = o.now()
	o.logger.Info("slot transition", "slot", o.slot, "status", status, "message", message)
	if o.events != nil {
		o.events.Publish(Event{Slot: o.slot, Status: status, Message: message})
	}
}

func (o *Orchestrator) fail(job *domain.SlotState, message string) {
	job.ErrorMessage = message
	o.setStatus(job, domain.SlotStatusError, message)
	o.logger.Error("job failed", "slot", o.slot, "error", message)
}

func needsRuntimeLoader(assetPath string) bool {
	switch strings.ToLower(path.Ext(assetPath)) {
	case ".glb", ".gltf":
		return true
	}
	return false
}

func assetStem(assetPath string) string {
	base := path.Base(assetPath)
	return strings.TrimSuffix(base, path.Ext(base))
}

func valueOr(v *domain.Vec3, fallback domain.Vec3) domain.Vec3 {
	if v == nil {
		return fallback
	}
	return *v
}
