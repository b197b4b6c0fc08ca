package domain

import "time"

// AssetInfo describes one indexed asset, with its path relative to the
// content root.
type AssetInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// AssetCandidate is an ephemeral scoring result, scoped to one resolution
// call. Candidates with a non-positive score are not eligible.
type AssetCandidate struct {
	Path    string
	Score   float64
	ModTime time.Time
}

// PromptCacheEntry remembers a past resolution for a normalized prompt key.
type PromptCacheEntry struct {
	AssetPath string    `json:"asset_path"`
	LastUsed  time.Time `json:"last_used"`
	FileSize  int64     `json:"file_size"`
}

// GenerationResult is the completion notification of the generation
// service: a remote reference plus the local content path it produced.
type GenerationResult struct {
	RemoteID  string `json:"remote_id"`
	AssetPath string `json:"asset_path"`
}

// Entity is a read snapshot of a scene-graph node at the orchestration
// boundary. Mutations go through the SceneGraph port, keyed by Path.
type Entity struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	ParentPath   string `json:"parent_path,omitempty"`
	SiblingIndex int    `json:"sibling_index"`
	Enabled      bool   `json:"enabled"`
	AssetPath    string `json:"asset_path,omitempty"`
	Position     Vec3   `json:"position"`
	Rotation     Vec3   `json:"rotation"`
	Scale        Vec3   `json:"scale"`
	BoundsSize   Vec3   `json:"bounds_size"`
}
