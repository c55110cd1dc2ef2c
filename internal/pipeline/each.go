package pipeline

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

// assetFunc transforms one asset. It returns the produced name, or name itself
// with produced=false when the asset is declined.
type assetFunc func(ctx context.Context, name string) (string, bool, error)

// eachAsset applies fn to every name in the batch, at most b.workers at a time,
// and yields results in input order. A failing asset does not stop the others.
func eachAsset(ctx context.Context, b *Batch, stage string, fn assetFunc) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		names := b.Names()
		results := make([]Result, len(names))

		var g errgroup.Group
		if b.workers > 0 {
			g.SetLimit(b.workers)
		}
		for i, name := range names {
			g.Go(func() error {
				results[i] = applyOne(ctx, stage, name, fn)
				return nil
			})
		}
		_ = g.Wait()

		for _, res := range results {
			if !yield(res) {
				return
			}
		}
	}
}

func applyOne(ctx context.Context, stage, name string, fn assetFunc) Result {
	res := Result{Stage: stage, Original: name, Name: name}
	if err := ctx.Err(); err != nil {
		res.Err = &StageError{Stage: stage, Name: name, Err: err}
		return res
	}
	produced, ok, err := fn(ctx, name)
	if err != nil {
		res.Err = &StageError{Stage: stage, Name: name, Err: err}
		return res
	}
	if ok && produced != "" {
		res.Name = produced
		res.Produced = true
	}
	return res
}
