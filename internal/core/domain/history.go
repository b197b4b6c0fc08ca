package domain

import "time"

// HistoryEntry is one immutable record of a replacement: it remembers what
// the source entity looked like before it was swapped out, so a revert can
// restore placement exactly.
type HistoryEntry struct {
	SourceName           string    `json:"source_name"`
	TargetPrompt         string    `json:"target_prompt"`
	ReplacementAssetPath string    `json:"replacement_asset_path"`
	WasGenerated         bool      `json:"was_generated"`
	OriginalPosition     Vec3      `json:"original_position"`
	OriginalRotation     Vec3      `json:"original_rotation"`
	OriginalScale        Vec3      `json:"original_scale"`
	OriginalBoundsSize   Vec3      `json:"original_bounds_size"`
	SourceAssetPath      string    `json:"source_asset_path,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// HistoryChain is the append-only replacement log owned by the current
// (most recent) entity of a lineage. Reverting reads entries but never
// removes them; the chain is a full audit trail.
type HistoryChain struct {
	Entries []HistoryEntry `json:"entries"`
}

// Clone returns a value copy. Chains are never shared by reference across
// lineages: a chained transform seeds the new entity's chain from a clone
// of its predecessor's.
func (c HistoryChain) Clone() HistoryChain {
	out := HistoryChain{Entries: make([]HistoryEntry, len(c.Entries))}
	copy(out.Entries, c.Entries)
	return out
}

// Record appends one entry.
func (c *HistoryChain) Record(e HistoryEntry) {
	c.Entries = append(c.Entries, e)
}

func (c HistoryChain) Len() int { return len(c.Entries) }

// First returns the oldest entry (the lineage's original source).
func (c HistoryChain) First() (HistoryEntry, bool) {
	if len(c.Entries) == 0 {
		return HistoryEntry{}, false
	}
	return c.Entries[0], true
}

// Last returns the most recent entry.
func (c HistoryChain) Last() (HistoryEntry, bool) {
	if len(c.Entries) == 0 {
		return HistoryEntry{}, false
	}
	return c.Entries[len(c.Entries)-1], true
}
