// Package resolver maps logical asset names to the URL that should be served.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"

	"convoy/internal/manifest"
	blobrepo "convoy/internal/repository/blob"
)

const defaultCacheSize = 1024

type Options struct {
	Debug       bool
	DuringDebug bool
	// GzipInTemplate allows gzip terminals to be chosen at render time.
	GzipInTemplate       bool
	ConservativeMSIEGzip bool
	StaticURL            string
	ManifestName         string
	CacheSize            int
}

// Hints carry request-time capabilities.
type Hints struct {
	GzipAcceptable bool
}

// Resolver only reads the index. Lookups are memoized until the index changes.
type Resolver struct {
	store  blobrepo.Store
	index  *manifest.Index
	opts   Options
	logger *zap.Logger

	cache *lru.Cache[string, string]
	mu    sync.Mutex
	gen   uint64
}

func New(store blobrepo.Store, idx *manifest.Index, opts Options, logger *zap.Logger) (*Resolver, error) {
	if idx == nil {
		idx = manifest.NewIndex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ManifestName == "" {
		opts.ManifestName = manifest.DefaultName
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("resolver cache: %w", err)
	}
	return &Resolver{
		store:  store,
		index:  idx,
		opts:   opts,
		logger: logger,
		cache:  cache,
		gen:    idx.Generation(),
	}, nil
}

func (r *Resolver) Index() *manifest.Index { return r.index }

// DryMode reports whether names are served unprocessed, as when debugging
// without a pipeline run.
func (r *Resolver) DryMode() bool {
	return r.opts.Debug && !r.opts.DuringDebug
}

// Terminus returns the name to serve for name: name itself in dry mode or when
// it was never processed, otherwise the end of its chain.
func (r *Resolver) Terminus(name string, dry, gzip bool) string {
	if dry {
		return name
	}
	gen := r.purgeIfStale()
	key := cacheKey(name, gzip)
	if v, ok := r.cache.Get(key); ok {
		return v
	}
	term, ok := r.index.Terminal(name, gzip)
	if !ok {
		term = name
	}
	r.remember(gen, key, term)
	return term
}

// Resolve returns the URL to serve for name under the given hints.
func (r *Resolver) Resolve(name string, hints Hints) string {
	gzip := hints.GzipAcceptable && r.opts.GzipInTemplate
	return r.URL(r.Terminus(name, r.DryMode(), gzip))
}

// TerminalURL is the URL of the pre-gzip terminal of name, ignoring debug mode.
func (r *Resolver) TerminalURL(name string) string {
	return r.URL(r.Terminus(name, false, false))
}

// Chain exposes the full chain of name, starting with name.
func (r *Resolver) Chain(name string, gzip bool) []string {
	return r.index.Chain(name, gzip)
}

// URL joins name onto the static base URL.
func (r *Resolver) URL(name string) string {
	base := r.opts.StaticURL
	if base == "" {
		base = "/"
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(name, "/")
}

// HintsFromHeader derives hints from request headers.
func (r *Resolver) HintsFromHeader(h http.Header) Hints {
	if !r.opts.GzipInTemplate || h == nil {
		return Hints{}
	}
	if r.opts.ConservativeMSIEGzip && strings.Contains(strings.ToLower(h.Get("User-Agent")), "msie") {
		return Hints{}
	}
	return Hints{GzipAcceptable: AcceptsGzip(h.Values("Accept-Encoding"))}
}

// AcceptsGzip reports whether Accept-Encoding values list gzip with a non-zero
// quality.
func AcceptsGzip(values []string) bool {
	var accepted []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
			if refused(params) {
				continue
			}
			accepted = append(accepted, strings.TrimSpace(coding))
		}
	}
	return httpguts.HeaderValuesContainsToken(accepted, "gzip")
}

func refused(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "q") {
			continue
		}
		v = strings.TrimRight(strings.TrimSpace(v), "0")
		return v == "" || v == "." || v == "0."
	}
	return false
}

// Reload replaces the index contents with the stored manifest.
func (r *Resolver) Reload(ctx context.Context) (string, error) {
	loaded, version, err := manifest.Load(ctx, r.store, r.opts.ManifestName)
	if err != nil {
		return "", err
	}
	r.index.Replace(loaded.Snapshot())
	r.logger.Info("manifest loaded",
		zap.String("manifest", r.opts.ManifestName),
		zap.String("version", version),
		zap.Int("entries", loaded.Len()))
	return version, nil
}

// purgeIfStale drops memoized lookups from an older index generation and
// returns the current one.
func (r *Resolver) purgeIfStale() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen := r.index.Generation(); gen > r.gen {
		r.cache.Purge()
		r.gen = gen
	}
	return r.gen
}

// remember memoizes term only if the index is still at the generation it was
// read from. Purges take the same lock, so a change after the check is always
// followed by a purge of this entry.
func (r *Resolver) remember(gen uint64, key, term string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen && r.index.Generation() == gen {
		r.cache.Add(key, term)
	}
}

func cacheKey(name string, gzip bool) string {
	if gzip {
		return "gz:" + name
	}
	return "id:" + name
}
