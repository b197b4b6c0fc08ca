// Package assetdir indexes importable assets under a fixed content root.
// The listing is cached and refreshed lazily; an fsnotify watcher marks it
// dirty when the root changes. When watching is unavailable the index
// simply rescans on every listing.
package assetdir

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"meshforge/internal/core/domain"
	"meshforge/internal/core/ports"
)

// modelExtensions covers the formats the synchronous import path accepts
// plus the runtime-loaded ones.
var modelExtensions = map[string]bool{
	".fbx":    true,
	".obj":    true,
	".prefab": true,
	".glb":    true,
	".gltf":   true,
}

type Index struct {
	logger       *slog.Logger
	root         string
	generatedDir string

	mu      sync.RWMutex
	files   []domain.AssetInfo
	scanned bool
	dirty   atomic.Bool

	watcher *fsnotify.Watcher
}

var _ ports.AssetIndex = (*Index)(nil)

// New builds an index over root. generatedDir is the folder (relative to
// root) where generation results land; it earns a higher match boost.
func New(logger *slog.Logger, root, generatedDir string) (*Index, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving content root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("content root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content root %q is not a directory", root)
	}

	idx := &Index{
		logger:       logger,
		root:         abs,
		generatedDir: filepath.ToSlash(strings.Trim(generatedDir, "/")),
	}
	idx.dirty.Store(true)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, falling back to rescan on every listing", "error", err)
		return idx, nil
	}
	if err := watcher.Add(abs); err != nil {
		logger.Warn("cannot watch content root, falling back to rescan on every listing", "error", err)
		watcher.Close()
		return idx, nil
	}
	idx.watcher = watcher
	return idx, nil
}

// Watch consumes filesystem events until ctx is done, marking the cached
// listing dirty on every change. New subdirectories are added to the watch.
func (i *Index) Watch(ctx context.Context) {
	if i.watcher == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			i.dirty.Store(true)
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := i.watcher.Add(ev.Name); err != nil {
						i.logger.Warn("cannot watch new directory", "dir", ev.Name, "error", err)
					}
				}
			}
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			i.logger.Warn("content watcher error", "error", err)
			i.dirty.Store(true)
		}
	}
}

func (i *Index) Close() error {
	if i.watcher == nil {
		return nil
	}
	return i.watcher.Close()
}

func (i *Index) List(ctx context.Context) ([]domain.AssetInfo, error) {
	if i.needsScan() {
		if err := i.rescan(ctx); err != nil {
			return nil, err
		}
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]domain.AssetInfo, len(i.files))
	copy(out, i.files)
	return out, nil
}

func (i *Index) needsScan() bool {
	if i.watcher == nil {
		return true
	}
	i.mu.RLock()
	scanned := i.scanned
	i.mu.RUnlock()
	return !scanned || i.dirty.Load()
}

func (i *Index) rescan(ctx context.Context) error {
	var files []domain.AssetInfo
	err := filepath.WalkDir(i.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if i.watcher != nil && p != i.root {
				_ = i.watcher.Add(p)
			}
			return nil
		}
		if !modelExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil // raced with a delete; skip
		}
		files = append(files, domain.AssetInfo{
			Path:    i.Normalize(p),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning content root: %w", err)
	}

	i.mu.Lock()
	i.files = files
	i.scanned = true
	i.mu.Unlock()
	i.dirty.Store(false)
	i.logger.Debug("content index rescanned", "assets", len(files))
	return nil
}

func (i *Index) Stat(path string) (domain.AssetInfo, bool) {
	rel := i.Normalize(path)
	info, err := os.Stat(filepath.Join(i.root, filepath.FromSlash(rel)))
	if err != nil {
		return domain.AssetInfo{}, false
	}
	return domain.AssetInfo{Path: rel, Size: info.Size(), ModTime: info.ModTime()}, true
}

func (i *Index) Exists(path string) bool {
	_, ok := i.Stat(path)
	return ok
}

// Normalize rewrites a path to content-root-relative slash form. Absolute
// paths under the root are made relative; everything else is cleaned and
// slash-normalized as-is.
func (i *Index) Normalize(path string) string {
	p := filepath.ToSlash(filepath.Clean(strings.TrimSpace(path)))
	root := filepath.ToSlash(i.root)
	if strings.HasPrefix(p, root+"/") {
		p = strings.TrimPrefix(p, root+"/")
	} else if p == root {
		p = "."
	}
	return strings.TrimPrefix(p, "./")
}

func (i *Index) GeneratedDir() string { return i.generatedDir }

// Root exposes the absolute content root for adapters that need to touch
// the files themselves (the runtime loader's validation).
func (i *Index) Root() string { return i.root }
