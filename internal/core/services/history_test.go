package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshforge/internal/adapters/scene"
	"meshforge/internal/core/domain"
)

func chainedScene(t *testing.T) *scene.Graph {
	t.Helper()
	g := scene.NewGraph()
	g.AddEntity(domain.Entity{Name: "Lamp", Enabled: false, Position: domain.V3(1, 2, 3), Scale: domain.One()})
	g.AddEntity(domain.Entity{Name: "Mid", Enabled: false, Position: domain.V3(4, 5, 6), Scale: domain.One()})
	g.AddEntity(domain.Entity{Name: "Fancy_Lamp", Enabled: true, Scale: domain.V3(2, 2, 2)})

	chain := domain.HistoryChain{}
	chain.Record(domain.HistoryEntry{
		SourceName:       "Lamp",
		TargetPrompt:     "mid lamp",
		OriginalPosition: domain.V3(1, 2, 3),
		OriginalRotation: domain.V3(0, 90, 0),
		OriginalScale:    domain.One(),
		Timestamp:        time.Unix(100, 0),
	})
	chain.Record(domain.HistoryEntry{
		SourceName:       "Mid",
		TargetPrompt:     "fancy lamp",
		OriginalPosition: domain.V3(4, 5, 6),
		OriginalRotation: domain.V3(0, 180, 0),
		OriginalScale:    domain.V3(1.5, 1.5, 1.5),
		WasGenerated:     true,
		Timestamp:        time.Unix(200, 0),
	})
	require.NoError(t, g.SetHistory(context.Background(), "Fancy_Lamp", chain))
	return g
}

func TestHistoryRevert_PreviousStep(t *testing.T) {
	g := chainedScene(t)
	svc := NewHistoryService(testLogger(), g)
	ctx := context.Background()

	res, err := svc.Revert(ctx, "Fancy_Lamp", false)
	require.NoError(t, err)
	assert.Equal(t, "Mid", res.Restored)
	assert.Equal(t, "Fancy_Lamp", res.Disabled)
	assert.Equal(t, 2, res.Entries)

	mid, err := g.Find(ctx, "Mid")
	require.NoError(t, err)
	assert.True(t, mid.Enabled)
	assert.Equal(t, domain.V3(4, 5, 6), mid.Position)
	assert.Equal(t, domain.V3(0, 180, 0), mid.Rotation)
	assert.Equal(t, domain.V3(1.5, 1.5, 1.5), mid.Scale)

	target, err := g.Find(ctx, "Fancy_Lamp")
	require.NoError(t, err)
	assert.False(t, target.Enabled)
}

func TestHistoryRevert_ToOriginal(t *testing.T) {
	g := chainedScene(t)
	svc := NewHistoryService(testLogger(), g)
	ctx := context.Background()

	res, err := svc.Revert(ctx, "Fancy_Lamp", true)
	require.NoError(t, err)
	assert.Equal(t, "Lamp", res.Restored)
	assert.True(t, res.ToOriginal)

	lamp, err := g.Find(ctx, "Lamp")
	require.NoError(t, err)
	assert.True(t, lamp.Enabled)
	assert.Equal(t, domain.V3(1, 2, 3), lamp.Position)
	assert.Equal(t, domain.V3(0, 90, 0), lamp.Rotation)
}

func TestHistoryRevert_ChainIsNeverTruncated(t *testing.T) {
	g := chainedScene(t)
	svc := NewHistoryService(testLogger(), g)
	ctx := context.Background()

	_, err := svc.Revert(ctx, "Fancy_Lamp", false)
	require.NoError(t, err)

	chain, err := g.History(ctx, "Fancy_Lamp")
	require.NoError(t, err)
	assert.Equal(t, 2, chain.Len())
}

func TestHistoryRevert_EmptyChain(t *testing.T) {
	g := scene.NewGraph()
	g.AddEntity(domain.Entity{Name: "Plain", Enabled: true, Scale: domain.One()})
	svc := NewHistoryService(testLogger(), g)

	_, err := svc.Revert(context.Background(), "Plain", false)
	assert.ErrorIs(t, err, domain.ErrEmptyHistory)
}

func TestHistoryRevert_MissingTargetAndSource(t *testing.T) {
	g := chainedScene(t)
	svc := NewHistoryService(testLogger(), g)
	ctx := context.Background()

	_, err := svc.Revert(ctx, "Nope", false)
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)

	// Destroying the recorded source makes the revert impossible.
	require.NoError(t, g.Destroy(ctx, "Mid"))
	_, err = svc.Revert(ctx, "Fancy_Lamp", false)
	assert.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestHistoryList(t *testing.T) {
	g := chainedScene(t)
	svc := NewHistoryService(testLogger(), g)

	summaries, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "Fancy_Lamp", s.Entity)
	assert.True(t, s.Active)
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, "Mid", s.LastFrom)
	assert.Equal(t, "fancy lamp", s.LastPrompt)
	assert.True(t, s.LastGenerated)
	assert.Equal(t, time.Unix(200, 0), s.LastTimestamp)
}

func TestHistoryChainCloneDoesNotAlias(t *testing.T) {
	orig := domain.HistoryChain{}
	orig.Record(domain.HistoryEntry{SourceName: "A"})

	clone := orig.Clone()
	clone.Record(domain.HistoryEntry{SourceName: "B"})

	assert.Equal(t, 1, orig.Len())
	assert.Equal(t, 2, clone.Len())
}
