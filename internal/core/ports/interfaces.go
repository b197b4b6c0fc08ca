package ports

import (
	"context"

	"meshforge/internal/core/domain"
)

// SlotStore abstracts durable slot-state persistence. State must survive
// process restarts; orchestration logic never touches the storage mechanism
// directly so it stays testable against an in-memory implementation.
type SlotStore interface {
	// Load returns the live state for a slot, or (nil, nil) when the slot
	// is unoccupied.
	Load(ctx context.Context, slot string) (*domain.SlotState, error)

	// Save writes the state, overwriting any previous occupant of the slot.
	Save(ctx context.Context, state *domain.SlotState) error

	// Clear removes the slot's state. Clearing an empty slot is a no-op.
	Clear(ctx context.Context, slot string) error
}

// SceneGraph is the host scene's entity/component surface as consumed here.
// Refs are entity names or hierarchy paths ("Root/Props/Lamp").
type SceneGraph interface {
	Find(ctx context.Context, ref string) (*domain.Entity, error)

	// Instantiate synchronously places the asset in the scene and returns
	// the created entity.
	Instantiate(ctx context.Context, assetPath, name string) (*domain.Entity, error)

	// CreateContainer creates an empty entity for the runtime loader to
	// populate.
	CreateContainer(ctx context.Context, name string) (*domain.Entity, error)

	// AddChild creates a child entity under an existing container.
	AddChild(ctx context.Context, containerRef, name string) (*domain.Entity, error)

	Destroy(ctx context.Context, ref string) error
	SetEnabled(ctx context.Context, ref string, enabled bool) error
	SetTransform(ctx context.Context, ref string, position, rotation, scale domain.Vec3) error
	SetParent(ctx context.Context, ref, parentPath string, siblingIndex int) error
	ChildCount(ctx context.Context, ref string) (int, error)

	// History returns the chain owned by the entity (empty when none).
	History(ctx context.Context, ref string) (domain.HistoryChain, error)
	SetHistory(ctx context.Context, ref string, chain domain.HistoryChain) error
	ListHistoryOwners(ctx context.Context) ([]domain.Entity, error)
}

// AssetIndex is the local content library: a scanned listing of importable
// assets under a fixed content root, with paths normalized relative to it.
type AssetIndex interface {
	List(ctx context.Context) ([]domain.AssetInfo, error)
	Stat(path string) (domain.AssetInfo, bool)
	Exists(path string) bool

	// Normalize rewrites a path to content-root-relative, slash-separated
	// form. Absolute paths under the root are made relative on ingestion.
	Normalize(path string) string

	// GeneratedDir is the designated folder where generation results land,
	// relative to the content root.
	GeneratedDir() string
}

// Generator is the external asynchronous generation service. Completions
// are matched by the correlation ID carried in the slot state, so
// overlapping jobs cannot cross-contaminate each other's results.
type Generator interface {
	Submit(ctx context.Context, correlationID, prompt string) error

	// Completion returns (nil, nil) while the request is still running,
	// the result once ready, or an error when generation failed.
	Completion(ctx context.Context, correlationID string) (*domain.GenerationResult, error)
}

// ModelLoader is the out-of-band runtime loader for formats the synchronous
// import path cannot handle. Begin validates the file (size, format header)
// before starting the async phase; invalid files fail immediately.
type ModelLoader interface {
	Begin(ctx context.Context, assetPath, containerRef string) (handle string, err error)

	// Running is the loader's first-class liveness signal. Completion is
	// judged by the orchestrator: container children present means success,
	// not running with zero children means failure.
	Running(handle string) bool
}
