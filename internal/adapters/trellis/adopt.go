package trellis

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"meshforge/internal/core/ports"
)

// AdoptOrphan is a compatibility shim around a known side effect of the
// generation service: some deployments instantiate the finished model into
// the scene themselves, at the origin, named after the file. Without this
// check the orchestrator's own instantiation would duplicate that entity,
// and the two cases are indistinguishable after the fact.
//
// The heuristic stays here at the adapter boundary; the orchestrator only
// receives it as an opaque adoption hook.
func AdoptOrphan(logger *slog.Logger, scene ports.SceneGraph) func(ctx context.Context, assetPath string) (string, bool) {
	return func(ctx context.Context, assetPath string) (string, bool) {
		base := path.Base(assetPath)
		stem := strings.TrimSuffix(base, path.Ext(base))
		if stem == "" {
			return "", false
		}

		ent, err := scene.Find(ctx, stem)
		if err != nil {
			return "", false
		}
		// Only adopt entities that look like the service's own side
		// effect: default placement, no recorded parentage.
		if !ent.Position.IsZero() || ent.ParentPath != "" {
			return "", false
		}
		logger.Info("adopting entity already instantiated by generation service", "entity", ent.Path, "asset", assetPath)
		return ent.Path, true
	}
}
