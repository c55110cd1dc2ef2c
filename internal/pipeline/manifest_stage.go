package pipeline

import (
	"context"
	"iter"
	"sync"

	"convoy/internal/manifest"
)

// ManifestStage persists the accumulated index. It renames nothing.
type ManifestStage struct {
	BlobName string
	Version  string

	// mu keeps manifest flushes single-writer.
	mu sync.Mutex
}

func (s *ManifestStage) Name() string { return StageManifest }

func (s *ManifestStage) Run(ctx context.Context, b *Batch) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		name := s.BlobName
		if name == "" {
			name = manifest.DefaultName
		}
		s.mu.Lock()
		err := manifest.Write(ctx, b.Store, name, b.Index, s.Version)
		s.mu.Unlock()
		yield(Result{Stage: StageManifest, Original: name, Name: name, Produced: err == nil, Err: err})
	}
}
