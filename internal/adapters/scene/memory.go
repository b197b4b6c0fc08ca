// Package scene provides an in-process SceneGraph: the reference
// implementation used by tests and by deployments that mirror the host
// scene over the API rather than embedding the engine.
package scene

import (
	"context"
	"fmt"
	"sync"

	"meshforge/internal/core/domain"
	"meshforge/internal/core/ports"
)

type node struct {
	name         string
	path         string
	parentPath   string
	siblingIndex int
	enabled      bool
	assetPath    string
	position     domain.Vec3
	rotation     domain.Vec3
	scale        domain.Vec3
	boundsSize   domain.Vec3
	children     []string
	history      domain.HistoryChain
}

type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node // keyed by path

	// native bounds/scale per asset path, consulted on Instantiate
	assetBounds map[string]domain.Vec3
	assetScale  map[string]domain.Vec3
}

var _ ports.SceneGraph = (*Graph)(nil)

func NewGraph() *Graph {
	return &Graph{
		nodes:       make(map[string]*node),
		assetBounds: make(map[string]domain.Vec3),
		assetScale:  make(map[string]domain.Vec3),
	}
}

// RegisterAsset declares the native bounds and scale instances of an asset
// get when instantiated.
func (g *Graph) RegisterAsset(assetPath string, bounds, scale domain.Vec3) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.assetBounds[assetPath] = bounds
	g.assetScale[assetPath] = scale
}

// AddEntity places a pre-built entity into the graph (test/dev seeding).
func (g *Graph) AddEntity(e domain.Entity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	path := e.Path
	if path == "" {
		path = e.Name
	}
	g.nodes[path] = &node{
		name:         e.Name,
		path:         path,
		parentPath:   e.ParentPath,
		siblingIndex: e.SiblingIndex,
		enabled:      e.Enabled,
		assetPath:    e.AssetPath,
		position:     e.Position,
		rotation:     e.Rotation,
		scale:        e.Scale,
		boundsSize:   e.BoundsSize,
	}
}

func (g *Graph) Find(_ context.Context, ref string) (*domain.Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.lookup(ref)
	if n == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrEntityNotFound, ref)
	}
	return snapshot(n), nil
}

// lookup resolves a ref as a full path first, then as a bare name.
// Callers must hold the lock.
func (g *Graph) lookup(ref string) *node {
	if n, ok := g.nodes[ref]; ok {
		return n
	}
	for _, n := range g.nodes {
		if n.name == ref {
			return n
		}
	}
	return nil
}

func (g *Graph) Instantiate(_ context.Context, assetPath, name string) (*domain.Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("instantiate: empty entity name")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	path := g.uniquePath(name)
	n := &node{
		name:       name,
		path:       path,
		enabled:    true,
		assetPath:  assetPath,
		scale:      domain.One(),
		boundsSize: domain.One(),
	}
	if b, ok := g.assetBounds[assetPath]; ok {
		n.boundsSize = b
	}
	if s, ok := g.assetScale[assetPath]; ok {
		n.scale = s
	}
	g.nodes[path] = n
	return snapshot(n), nil
}

func (g *Graph) CreateContainer(_ context.Context, name string) (*domain.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	path := g.uniquePath(name)
	n := &node{name: name, path: path, enabled: true, scale: domain.One()}
	g.nodes[path] = n
	return snapshot(n), nil
}

func (g *Graph) AddChild(_ context.Context, containerRef, name string) (*domain.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	parent := g.lookup(containerRef)
	if parent == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrEntityNotFound, containerRef)
	}
	path := parent.path + "/" + name
	if _, exists := g.nodes[path]; exists {
		path = fmt.Sprintf("%s/%s_%d", parent.path, name, len(parent.children))
	}
	n := &node{
		name:         name,
		path:         path,
		parentPath:   parent.path,
		siblingIndex: len(parent.children),
		enabled:      true,
		scale:        domain.One(),
	}
	parent.children = append(parent.children, path)
	g.nodes[path] = n
	return snapshot(n), nil
}

func (g *Graph) Destroy(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.lookup(ref)
	if n == nil {
		return fmt.Errorf("%w: %q", domain.ErrEntityNotFound, ref)
	}
	for _, child := range n.children {
		delete(g.nodes, child)
	}
	if parent := g.nodes[n.parentPath]; parent != nil {
		for i, c := range parent.children {
			if c == n.path {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
	}
	delete(g.nodes, n.path)
	return nil
}

func (g *Graph) SetEnabled(_ context.Context, ref string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.lookup(ref)
	if n == nil {
		return fmt.Errorf("%w: %q", domain.ErrEntityNotFound, ref)
	}
	n.enabled = enabled
	return nil
}

func (g *Graph) SetTransform(_ context.Context, ref string, position, rotation, scale domain.Vec3) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.lookup(ref)
	if n == nil {
		return fmt.Errorf("%w: %q", domain.ErrEntityNotFound, ref)
	}
	n.position = position
	n.rotation = rotation
	n.scale = scale
	return nil
}

func (g *Graph) SetParent(_ context.Context, ref, parentPath string, siblingIndex int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.lookup(ref)
	if n == nil {
		return fmt.Errorf("%w: %q", domain.ErrEntityNotFound, ref)
	}
	if parentPath != "" && g.nodes[parentPath] == nil {
		// The recorded parent may have been destroyed since capture; keep
		// the entity at the root rather than failing the finalization.
		parentPath = ""
	}
	n.parentPath = parentPath
	if siblingIndex >= 0 {
		n.siblingIndex = siblingIndex
	}
	if parent := g.nodes[parentPath]; parent != nil {
		parent.children = append(parent.children, n.path)
	}
	return nil
}

func (g *Graph) ChildCount(_ context.Context, ref string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.lookup(ref)
	if n == nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrEntityNotFound, ref)
	}
	return len(n.children), nil
}

func (g *Graph) History(_ context.Context, ref string) (domain.HistoryChain, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.lookup(ref)
	if n == nil {
		return domain.HistoryChain{}, fmt.Errorf("%w: %q", domain.ErrEntityNotFound, ref)
	}
	return n.history.Clone(), nil
}

func (g *Graph) SetHistory(_ context.Context, ref string, chain domain.HistoryChain) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.lookup(ref)
	if n == nil {
		return fmt.Errorf("%w: %q", domain.ErrEntityNotFound, ref)
	}
	n.history = chain.Clone()
	return nil
}

func (g *Graph) ListHistoryOwners(_ context.Context) ([]domain.Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var owners []domain.Entity
	for _, n := range g.nodes {
		if n.history.Len() > 0 {
			owners = append(owners, *snapshot(n))
		}
	}
	return owners, nil
}

func (g *Graph) uniquePath(name string) string {
	path := name
	for i := 1; ; i++ {
		if _, exists := g.nodes[path]; !exists {
			return path
		}
		path = fmt.Sprintf("%s (%d)", name, i)
	}
}

func snapshot(n *node) *domain.Entity {
	return &domain.Entity{
		Name:         n.name,
		Path:         n.path,
		ParentPath:   n.parentPath,
		SiblingIndex: n.siblingIndex,
		Enabled:      n.enabled,
		AssetPath:    n.assetPath,
		Position:     n.position,
		Rotation:     n.rotation,
		Scale:        n.scale,
		BoundsSize:   n.boundsSize,
	}
}

// Names returns all entity paths, sorted order not guaranteed (test aid).
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.nodes))
	for p := range g.nodes {
		out = append(out, p)
	}
	return out
}

// PathOf resolves a bare name to its full path (test aid).
func (g *Graph) PathOf(name string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.lookup(name)
	if n == nil {
		return "", false
	}
	return n.path, true
}
