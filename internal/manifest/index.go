// Package manifest records the rename chains produced by the pipeline and
// persists them as a single JSON blob.
package manifest

import (
	"encoding/hex"
	"path"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	blobrepo "convoy/internal/repository/blob"
)

// MaxChainLength bounds a chain walk. Well formed chains have one link per
// enabled stage.
const MaxChainLength = 16

// Key returns the index key for name.
func Key(name string) string {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name != "" {
		name = path.Clean(name)
	}
	digest := blake3.Sum256([]byte(name))
	return hex.EncodeToString(digest[:16])
}

// Index maps Key(source) to the name produced from source. It is safe for
// concurrent use; the last write for a key wins.
type Index struct {
	mu         sync.RWMutex
	paths      map[string]string
	generation uint64
}

func NewIndex() *Index {
	return &Index{paths: make(map[string]string)}
}

// Link records that produced was derived from source.
func (x *Index) Link(source, produced string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.paths[Key(source)] = produced
	x.generation++
}

// Next returns the name directly derived from name.
func (x *Index) Next(name string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	next, ok := x.paths[Key(name)]
	return next, ok
}

// Chain walks from name to its terminal derivative. The result starts with
// name itself. Gzip variants are dropped unless includeGzip is set.
func (x *Index) Chain(name string, includeGzip bool) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	chain := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	link := name
	for steps := 0; steps <= MaxChainLength; steps++ {
		if _, dup := seen[link]; dup {
			break
		}
		seen[link] = struct{}{}
		if includeGzip || !blobrepo.IsGzipName(link) {
			chain = append(chain, link)
		}
		next, ok := x.paths[Key(link)]
		if !ok {
			break
		}
		link = next
	}
	return chain
}

// Terminal returns the last element of Chain. ok is false when name was never
// processed; callers fall back to name itself.
func (x *Index) Terminal(name string, includeGzip bool) (string, bool) {
	if !x.Processed(name) {
		return "", false
	}
	chain := x.Chain(name, includeGzip)
	if len(chain) == 0 {
		return "", false
	}
	return chain[len(chain)-1], true
}

// Processed reports whether the pipeline produced anything from name.
func (x *Index) Processed(name string) bool {
	_, ok := x.Next(name)
	return ok
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.paths)
}

// Snapshot copies the key to produced-name mapping.
func (x *Index) Snapshot() map[string]string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]string, len(x.paths))
	for k, v := range x.paths {
		out[k] = v
	}
	return out
}

// Replace swaps the whole mapping, as when a manifest is loaded.
func (x *Index) Replace(paths map[string]string) {
	copied := make(map[string]string, len(paths))
	for k, v := range paths {
		copied[k] = v
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.paths = copied
	x.generation++
}

func (x *Index) Reset() {
	x.Replace(nil)
}

// Generation changes whenever the mapping changes.
func (x *Index) Generation() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.generation
}
