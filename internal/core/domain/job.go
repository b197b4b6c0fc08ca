package domain

import (
	"errors"
	"time"
)

// SlotStatus is the state of the single orchestration job occupying a slot.
type SlotStatus string

const (
	SlotStatusSearching     SlotStatus = "searching"
	SlotStatusGenerating    SlotStatus = "generating"
	SlotStatusLoadingGLB    SlotStatus = "loading_glb"
	SlotStatusInstantiating SlotStatus = "instantiating"
	SlotStatusCompleted     SlotStatus = "completed"
	SlotStatusError         SlotStatus = "error"
)

// Terminal reports whether the status is consumed by the next poll.
func (s SlotStatus) Terminal() bool {
	return s == SlotStatusCompleted || s == SlotStatusError
}

type ActionType string

const (
	ActionGenerate  ActionType = "generate"
	ActionTransform ActionType = "transform"
)

// SlotState is the durable record of one in-flight orchestration job.
// At most one SlotState is live per slot; starting a new operation on an
// occupied slot overwrites it. The record is created at request start,
// mutated at every transition, and deleted by the poll that observes a
// terminal status.
type SlotState struct {
	Slot          string     `json:"slot"`
	Status        SlotStatus `json:"status"`
	Action        ActionType `json:"action"`
	CorrelationID string     `json:"correlation_id"`

	SourceEntityRef string `json:"source_entity_ref,omitempty"`
	SourceAssetPath string `json:"source_asset_path,omitempty"`
	Prompt          string `json:"prompt"`
	PromptKey       string `json:"prompt_key"`

	ResolvedAssetPath  string `json:"resolved_asset_path,omitempty"`
	GeneratedAssetPath string `json:"generated_asset_path,omitempty"`
	WasGenerated       bool   `json:"was_generated"`
	ErrorMessage       string `json:"error_message,omitempty"`

	// For transforms these capture the source entity before any mutation.
	// For generates they carry the requested placement.
	OriginalPosition     Vec3   `json:"original_position"`
	OriginalRotation     Vec3   `json:"original_rotation"`
	OriginalScale        Vec3   `json:"original_scale"`
	OriginalBoundsSize   Vec3   `json:"original_bounds_size"`
	OriginalParentPath   string `json:"original_parent_path,omitempty"`
	OriginalSiblingIndex int    `json:"original_sibling_index"`

	PendingLoaderHandle string `json:"pending_loader_handle,omitempty"`
	LoaderContainerRef  string `json:"loader_container_ref,omitempty"`
	ResultEntityRef     string `json:"result_entity_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssetPath returns the asset the job should instantiate: a library
// resolution wins over a generated result.
func (s *SlotState) AssetPath() string {
	if s.ResolvedAssetPath != "" {
		return s.ResolvedAssetPath
	}
	return s.GeneratedAssetPath
}

var (
	ErrValidation     = errors.New("validation failed")
	ErrEntityNotFound = errors.New("entity not found")
	ErrNoAssetFound   = errors.New("no matching asset found")
	ErrNoActiveJob    = errors.New("no active job")
	ErrEmptyHistory   = errors.New("entity has no transform history")
)
