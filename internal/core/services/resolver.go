package services

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"meshforge/internal/core/domain"
	"meshforge/internal/core/ports"
)

const (
	promptCacheCapacity = 32

	scoreExactRawName    = 80
	scoreExactNormName   = 60
	scoreNormPrefix      = 25
	scoreRawPrefix       = 25
	scoreRawContains     = 10
	scoreTokenInRaw      = 6
	scoreTokenInNorm     = 2
	scoreGeneratedFolder = 30
	scoreGenericFolder   = 10
	scoreRecencyMax      = 18

	defaultRecencyWindow = 60 * time.Second
)

// Resolver scores and ranks indexed assets against free-text prompts and
// remembers past resolutions in a bounded, least-recently-used cache.
type Resolver struct {
	logger        *slog.Logger
	index         ports.AssetIndex
	cache         *lru.Cache[string, domain.PromptCacheEntry]
	scans         singleflight.Group
	recencyWindow time.Duration
	now           func() time.Time
}

type ResolverOption func(*Resolver)

// WithRecencyWindow overrides the window over which the recency bonus
// decays to zero.
func WithRecencyWindow(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.recencyWindow = d }
}

// WithClock overrides the resolver's time source.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(logger *slog.Logger, index ports.AssetIndex, opts ...ResolverOption) *Resolver {
	cache, _ := lru.New[string, domain.PromptCacheEntry](promptCacheCapacity)
	r := &Resolver{
		logger:        logger,
		index:         index,
		cache:         cache,
		recencyWindow: defaultRecencyWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizePrompt lowercases the prompt and collapses every run of
// non-alphanumeric characters into a single separator. The result is
// stable under re-normalization.
func NormalizePrompt(prompt string) string {
	var b strings.Builder
	b.Grow(len(prompt))
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(prompt)) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PromptTokens splits a normalized prompt key into its tokens.
func PromptTokens(key string) []string {
	if key == "" {
		return nil
	}
	parts := strings.Split(key, "_")
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// Search resolves a prompt to an asset path. The cache answers first;
// entries whose asset has vanished are evicted lazily here rather than
// proactively. On a miss the content index is scanned and scored, and any
// hit is recorded back into the cache under the same prompt key.
func (r *Resolver) Search(ctx context.Context, prompt string) (string, bool, error) {
	key := NormalizePrompt(prompt)
	if key == "" {
		return "", false, nil
	}

	if entry, ok := r.cache.Get(key); ok {
		if r.index.Exists(entry.AssetPath) {
			entry.LastUsed = r.now()
			r.cache.Add(key, entry)
			r.logger.Debug("prompt cache hit", "prompt_key", key, "asset", entry.AssetPath)
			return entry.AssetPath, true, nil
		}
		r.cache.Remove(key)
		r.logger.Info("evicted stale prompt cache entry", "prompt_key", key, "asset", entry.AssetPath)
	}

	v, err, _ := r.scans.Do(key, func() (any, error) {
		return r.scan(ctx, prompt, key)
	})
	if err != nil {
		return "", false, err
	}
	best := v.(string)
	if best == "" {
		return "", false, nil
	}
	r.Record(prompt, best)
	return best, true, nil
}

// Record remembers a successful resolution, from whichever source
// (cache refresh, library scan or post-generation), under the prompt key.
func (r *Resolver) Record(prompt, assetPath string) {
	key := NormalizePrompt(prompt)
	if key == "" || assetPath == "" {
		return
	}
	entry := domain.PromptCacheEntry{AssetPath: assetPath, LastUsed: r.now()}
	if info, ok := r.index.Stat(assetPath); ok {
		entry.FileSize = info.Size
	}
	r.cache.Add(key, entry)
}

// CacheLen exposes the current cache occupancy.
func (r *Resolver) CacheLen() int { return r.cache.Len() }

func (r *Resolver) scan(ctx context.Context, prompt, key string) (string, error) {
	assets, err := r.index.List(ctx)
	if err != nil {
		return "", err
	}

	raw := strings.ToLower(strings.TrimSpace(prompt))
	tokens := PromptTokens(key)
	generatedDir := strings.ToLower(r.index.GeneratedDir())
	now := r.now()

	var best *domain.AssetCandidate
	for _, a := range assets {
		score := r.scoreAsset(a, raw, key, tokens, generatedDir, now)
		if score <= 0 {
			continue
		}
		cand := domain.AssetCandidate{Path: a.Path, Score: score, ModTime: a.ModTime}
		if best == nil || better(cand, *best) {
			c := cand
			best = &c
		}
	}
	if best == nil {
		return "", nil
	}
	r.logger.Info("asset resolved", "prompt_key", key, "asset", best.Path, "score", best.Score)
	return best.Path, nil
}

func (r *Resolver) scoreAsset(a domain.AssetInfo, raw, key string, tokens []string, generatedDir string, now time.Time) float64 {
	base := path.Base(a.Path)
	rawName := strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
	normName := NormalizePrompt(rawName)

	var nameScore float64
	if rawName == raw {
		nameScore += scoreExactRawName
	}
	if normName == key {
		nameScore += scoreExactNormName
	}
	if strings.HasPrefix(normName, key) {
		nameScore += scoreNormPrefix
	}
	if strings.HasPrefix(rawName, raw) {
		nameScore += scoreRawPrefix
	}
	if strings.Contains(rawName, raw) {
		nameScore += scoreRawContains
	}
	for _, tok := range tokens {
		if strings.Contains(rawName, tok) {
			nameScore += scoreTokenInRaw
		}
		if strings.Contains(normName, tok) {
			nameScore += scoreTokenInNorm
		}
	}

	// Folder and recency bonuses apply only when the name itself matched;
	// otherwise every file under the root would be eligible for any prompt.
	if nameScore <= 0 {
		return 0
	}
	score := nameScore
	if generatedDir != "" && strings.HasPrefix(strings.ToLower(a.Path), generatedDir+"/") {
		score += scoreGeneratedFolder
	} else {
		score += scoreGenericFolder
	}

	if age := now.Sub(a.ModTime); age >= 0 && age < r.recencyWindow {
		score += scoreRecencyMax * (1 - float64(age)/float64(r.recencyWindow))
	}
	return score
}

// better orders candidates by score, then most-recent timestamp, then
// shortest path; the final lexical tiebreak keeps selection deterministic.
func better(a, b domain.AssetCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.ModTime.Equal(b.ModTime) {
		return a.ModTime.After(b.ModTime)
	}
	if len(a.Path) != len(b.Path) {
		return len(a.Path) < len(b.Path)
	}
	return a.Path < b.Path
}
