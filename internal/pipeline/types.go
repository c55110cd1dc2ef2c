// Package pipeline runs the ordered chain of asset transformation stages.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"path"
	"sync"

	"convoy/internal/manifest"
	blobrepo "convoy/internal/repository/blob"
)

// Stage names, in pipeline order.
const (
	StageFingerprint = "fingerprint"
	StageMinify      = "minify"
	StageGzip        = "gzip"
	StageManifest    = "manifest"
)

// Result describes what one stage did with one input. A stage that declines an
// input reports Name == Original and Produced == false.
type Result struct {
	Stage    string
	Original string
	Name     string
	Produced bool
	Err      error
}

// Stage is one step of the pipeline. Run yields one Result per input it
// considered; the Runner applies renames between stages.
type Stage interface {
	Name() string
	Run(ctx context.Context, b *Batch) iter.Seq[Result]
}

// StageError is a failure of one stage on one input. The input passes through
// to the next stage unchanged.
type StageError struct {
	Stage string
	Name  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Name, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Batch is the evolving set of names flowing through one run.
type Batch struct {
	Store   blobrepo.Store
	Index   *manifest.Index
	workers int
	// inputs are the names the run started with; never mutated.
	inputs map[string]struct{}

	mu    sync.Mutex
	names []string
}

func newBatch(store blobrepo.Store, idx *manifest.Index, names []string, workers int) *Batch {
	seen := make(map[string]struct{}, len(names))
	unique := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup || n == "" {
			continue
		}
		seen[n] = struct{}{}
		unique = append(unique, n)
	}
	return &Batch{Store: store, Index: idx, workers: workers, inputs: seen, names: unique}
}

func (b *Batch) hasInput(name string) bool {
	_, ok := b.inputs[name]
	return ok
}

// Names returns the current name set in input order.
func (b *Batch) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.names...)
}

func (b *Batch) rename(from, to string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, n := range b.names {
		if n == from {
			b.names[i] = to
			return
		}
	}
}

func matchesPatterns(name string, patterns []string) bool {
	base := path.Base(name)
	for _, p := range patterns {
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}
