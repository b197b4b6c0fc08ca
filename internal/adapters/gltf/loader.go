// Package gltf is the runtime model loader for formats the synchronous
// import path cannot handle. Loads run out of band: Begin validates the
// file and returns immediately, a background load populates the supplied
// container entity, and callers poll Running plus the container's child
// count to observe the outcome.
package gltf

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"meshforge/internal/core/ports"
)

const (
	// Files smaller than this cannot be a meaningful model; reject before
	// starting the async phase.
	minFileSize = 512

	glbMagic            = 0x46546C67 // "glTF"
	glbSupportedVersion = 2
	glbChunkJSON        = 0x4E4F534A // "JSON"
)

type Loader struct {
	logger *slog.Logger
	scene  ports.SceneGraph
	root   string

	mu    sync.Mutex
	loads map[string]*load
}

type load struct {
	container string
	running   bool
}

var _ ports.ModelLoader = (*Loader)(nil)

// New builds a loader resolving asset paths against the content root.
func New(logger *slog.Logger, scene ports.SceneGraph, contentRoot string) *Loader {
	return &Loader{
		logger: logger,
		scene:  scene,
		root:   contentRoot,
		loads:  make(map[string]*load),
	}
}

// Begin validates the file and starts populating the container. Invalid
// files fail synchronously; the async phase never starts for them.
func (l *Loader) Begin(ctx context.Context, assetPath, containerRef string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(assetPath))
	doc, err := l.validate(full)
	if err != nil {
		return "", err
	}

	handle := uuid.NewString()
	l.mu.Lock()
	l.loads[handle] = &load{container: containerRef, running: true}
	l.mu.Unlock()

	go l.populate(handle, containerRef, assetPath, doc)
	return handle, nil
}

// Running reports whether the load behind the handle is still in flight.
// Unknown handles (process restarted since Begin) count as not running:
// the caller then judges the outcome from the container's children.
func (l *Loader) Running(handle string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ld, ok := l.loads[handle]
	return ok && ld.running
}

type document struct {
	Nodes []struct {
		Name string `json:"name"`
	} `json:"nodes"`
	Scenes []struct {
		Nodes []int `json:"nodes"`
	} `json:"scenes"`
}

// validate checks size and format header and returns the decoded scene
// description for the population phase.
func (l *Loader) validate(fullPath string) (*document, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if info.Size() < minFileSize {
		return nil, fmt.Errorf("model file %q is too small to be valid (%d bytes)", filepath.Base(fullPath), info.Size())
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(fullPath)) {
	case ".glb":
		return parseGLB(data, info.Size())
	case ".gltf":
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("model file is not valid glTF JSON: %w", err)
		}
		return &doc, nil
	default:
		return nil, fmt.Errorf("unsupported runtime-load format %q", filepath.Ext(fullPath))
	}
}

func parseGLB(data []byte, fileSize int64) (*document, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("malformed glb: truncated header")
	}
	if binary.LittleEndian.Uint32(data[0:4]) != glbMagic {
		return nil, fmt.Errorf("malformed glb: bad magic")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != glbSupportedVersion {
		return nil, fmt.Errorf("unsupported glb container version %d", v)
	}
	if declared := binary.LittleEndian.Uint32(data[8:12]); int64(declared) != fileSize {
		return nil, fmt.Errorf("malformed glb: declared length %d does not match file size %d", declared, fileSize)
	}

	chunkLen := binary.LittleEndian.Uint32(data[12:16])
	if binary.LittleEndian.Uint32(data[16:20]) != glbChunkJSON {
		return nil, fmt.Errorf("malformed glb: first chunk is not JSON")
	}
	if int(20+chunkLen) > len(data) {
		return nil, fmt.Errorf("malformed glb: JSON chunk overruns file")
	}

	var doc document
	if err := json.Unmarshal(data[20:20+chunkLen], &doc); err != nil {
		return nil, fmt.Errorf("malformed glb: invalid JSON chunk: %w", err)
	}
	return &doc, nil
}

// populate creates one child per scene root node (or a single unnamed
// child when the document names none), then marks the load finished.
func (l *Loader) populate(handle, containerRef, assetPath string, doc *document) {
	defer func() {
		l.mu.Lock()
		if ld, ok := l.loads[handle]; ok {
			ld.running = false
		}
		l.mu.Unlock()
	}()

	ctx := context.Background()
	names := nodeNames(doc)
	if len(names) == 0 {
		l.logger.Warn("model document declares no nodes", "asset", assetPath)
		return
	}
	for _, name := range names {
		if _, err := l.scene.AddChild(ctx, containerRef, name); err != nil {
			l.logger.Error("failed to attach loaded node", "container", containerRef, "node", name, "error", err)
			return
		}
	}
	l.logger.Info("runtime load finished", "asset", assetPath, "container", containerRef, "nodes", len(names))
}

func nodeNames(doc *document) []string {
	roots := map[int]bool{}
	for _, s := range doc.Scenes {
		for _, n := range s.Nodes {
			roots[n] = true
		}
	}
	var names []string
	for idx, n := range doc.Nodes {
		if len(roots) > 0 && !roots[idx] {
			continue
		}
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("node_%d", idx)
		}
		names = append(names, name)
	}
	return names
}
