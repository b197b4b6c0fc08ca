package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meshforge/internal/core/domain"
)

// historyScene is the slice of the scene graph the history service needs.
type historyScene interface {
	Find(ctx context.Context, ref string) (*domain.Entity, error)
	SetEnabled(ctx context.Context, ref string, enabled bool) error
	SetTransform(ctx context.Context, ref string, position, rotation, scale domain.Vec3) error
	History(ctx context.Context, ref string) (domain.HistoryChain, error)
	ListHistoryOwners(ctx context.Context) ([]domain.Entity, error)
}

// HistoryService answers revert and audit requests by walking the history
// chains owned by replacement entities. It is independent of the job state
// machine: reverting needs no slot and no poll.
type HistoryService struct {
	logger *slog.Logger
	scene  historyScene
}

func NewHistoryService(logger *slog.Logger, scene historyScene) *HistoryService {
	return &HistoryService{logger: logger, scene: scene}
}

// RevertResult reports which entity was restored.
type RevertResult struct {
	Restored   string `json:"restored"`
	Disabled   string `json:"disabled"`
	ToOriginal bool   `json:"to_original"`
	Entries    int    `json:"entries"`
}

// Revert restores the transform recorded in the target's history chain:
// the first entry when toOriginal is set, otherwise the immediately
// preceding one. The stored vectors are applied as recorded, and the
// original source entity is re-enabled. Entries are never removed; the
// chain stays a full audit trail.
func (s *HistoryService) Revert(ctx context.Context, targetRef string, toOriginal bool) (*RevertResult, error) {
	target, err := s.scene.Find(ctx, targetRef)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", targetRef, domain.ErrEntityNotFound)
	}

	chain, err := s.scene.History(ctx, target.Path)
	if err != nil {
		return nil, fmt.Errorf("reading history of %q: %w", targetRef, err)
	}
	if chain.Len() == 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrEmptyHistory, targetRef)
	}

	var entry domain.HistoryEntry
	if toOriginal {
		entry, _ = chain.First()
	} else {
		entry, _ = chain.Last()
	}

	source, err := s.scene.Find(ctx, entry.SourceName)
	if err != nil {
		return nil, fmt.Errorf("original entity %q no longer exists: %w", entry.SourceName, domain.ErrEntityNotFound)
	}

	if err := s.scene.SetEnabled(ctx, source.Path, true); err != nil {
		return nil, fmt.Errorf("re-enabling %q: %w", source.Path, err)
	}
	if err := s.scene.SetTransform(ctx, source.Path, entry.OriginalPosition, entry.OriginalRotation, entry.OriginalScale); err != nil {
		return nil, fmt.Errorf("restoring transform of %q: %w", source.Path, err)
	}
	if err := s.scene.SetEnabled(ctx, target.Path, false); err != nil {
		return nil, fmt.Errorf("disabling %q: %w", target.Path, err)
	}

	s.logger.Info("reverted transform", "target", target.Path, "restored", source.Path, "to_original", toOriginal)
	return &RevertResult{
		Restored:   source.Name,
		Disabled:   target.Name,
		ToOriginal: toOriginal,
		Entries:    chain.Len(),
	}, nil
}

// LineageSummary is one history export row: the lineage head plus a digest
// of its most recent replacement.
type LineageSummary struct {
	Entity        string    `json:"entity"`
	Active        bool      `json:"active"`
	Entries       int       `json:"entries"`
	LastFrom      string    `json:"last_from"`
	LastPrompt    string    `json:"last_prompt"`
	LastGenerated bool      `json:"last_generated"`
	LastTimestamp time.Time `json:"last_timestamp"`
}

// List returns one summary per lineage head (entity owning a chain).
func (s *HistoryService) List(ctx context.Context) ([]LineageSummary, error) {
	owners, err := s.scene.ListHistoryOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing history owners: %w", err)
	}

	summaries := make([]LineageSummary, 0, len(owners))
	for _, owner := range owners {
		chain, err := s.scene.History(ctx, owner.Path)
		if err != nil {
			s.logger.Warn("skipping unreadable history chain", "entity", owner.Path, "error", err)
			continue
		}
		last, ok := chain.Last()
		if !ok {
			continue
		}
		summaries = append(summaries, LineageSummary{
			Entity:        owner.Name,
			Active:        owner.Enabled,
			Entries:       chain.Len(),
			LastFrom:      last.SourceName,
			LastPrompt:    last.TargetPrompt,
			LastGenerated: last.WasGenerated,
			LastTimestamp: last.Timestamp,
		})
	}
	return summaries, nil
}
