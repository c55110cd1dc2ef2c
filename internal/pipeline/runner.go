package pipeline

import (
	"context"
	"errors"
	"iter"

	"go.uber.org/zap"

	"convoy/internal/manifest"
	blobrepo "convoy/internal/repository/blob"
)

// Runner executes stages in order over a batch of names, threading renames
// from one stage to the next and recording each one in the index. It is the
// only writer of the index during a run.
type Runner struct {
	store    blobrepo.Store
	index    *manifest.Index
	stages   []Stage
	disabled map[string]bool
	workers  int
	logger   *zap.Logger
}

type RunnerOptions struct {
	// Disabled stages pass their input through untouched.
	Disabled []string
	// Workers bounds per-stage concurrency; <= 0 means unbounded.
	Workers int
	Logger  *zap.Logger
}

func NewRunner(store blobrepo.Store, idx *manifest.Index, stages []Stage, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	disabled := make(map[string]bool, len(opts.Disabled))
	for _, name := range opts.Disabled {
		disabled[name] = true
	}
	return &Runner{
		store:    store,
		index:    idx,
		stages:   append([]Stage(nil), stages...),
		disabled: disabled,
		workers:  opts.Workers,
		logger:   logger,
	}
}

// StageNames lists the stages in execution order, disabled ones included.
func (r *Runner) StageNames() []string {
	out := make([]string, 0, len(r.stages))
	for _, st := range r.stages {
		out = append(out, st.Name())
	}
	return out
}

func (r *Runner) Index() *manifest.Index { return r.index }

type runOptions struct {
	skip map[string]bool
}

type RunOption func(*runOptions)

// Skip leaves the named stages out of a single run.
func Skip(stages ...string) RunOption {
	return func(o *runOptions) {
		for _, s := range stages {
			o.skip[s] = true
		}
	}
}

// Process lazily runs every enabled stage over names. Results of one stage are
// yielded before the next stage starts.
func (r *Runner) Process(ctx context.Context, names []string, opts ...RunOption) iter.Seq[Result] {
	o := runOptions{skip: map[string]bool{}}
	for _, opt := range opts {
		opt(&o)
	}
	return func(yield func(Result) bool) {
		b := newBatch(r.store, r.index, names, r.workers)
		for _, st := range r.stages {
			if r.disabled[st.Name()] || o.skip[st.Name()] {
				r.logger.Debug("stage skipped", zap.String("stage", st.Name()))
				continue
			}
			for res := range st.Run(ctx, b) {
				r.apply(b, res)
				if !yield(res) {
					return
				}
			}
		}
	}
}

func (r *Runner) apply(b *Batch, res Result) {
	switch {
	case res.Err != nil:
		r.logger.Warn("post-processing failed",
			zap.String("stage", res.Stage),
			zap.String("name", res.Original),
			zap.Error(res.Err))
	case res.Produced && res.Name != res.Original:
		b.rename(res.Original, res.Name)
		r.index.Link(res.Original, res.Name)
		r.logger.Info("post-processed",
			zap.String("stage", res.Stage),
			zap.String("name", res.Original),
			zap.String("as", res.Name))
	case !res.Produced:
		r.logger.Debug("skipped post-processing",
			zap.String("stage", res.Stage),
			zap.String("name", res.Original))
	}
}

// Report summarizes a drained run.
type Report struct {
	Produced []Result
	Failed   []Result
	Skipped  int
}

// Run drains Process. Per-input failures are collected in the report; only a
// manifest write failure is returned as an error.
func (r *Runner) Run(ctx context.Context, names []string, opts ...RunOption) (*Report, error) {
	rep := &Report{}
	var fatal error
	for res := range r.Process(ctx, names, opts...) {
		switch {
		case res.Err != nil:
			var werr *manifest.WriteError
			if errors.As(res.Err, &werr) {
				fatal = werr
				continue
			}
			rep.Failed = append(rep.Failed, res)
		case res.Produced:
			rep.Produced = append(rep.Produced, res)
		default:
			rep.Skipped++
		}
	}
	if fatal != nil {
		return rep, fatal
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

// Flush runs only the manifest stage, persisting links recorded outside a
// run. It does nothing when that stage is disabled.
func (r *Runner) Flush(ctx context.Context) error {
	others := make([]string, 0, len(r.stages))
	for _, st := range r.stages {
		if st.Name() != StageManifest {
			others = append(others, st.Name())
		}
	}
	_, err := r.Run(ctx, nil, Skip(others...))
	return err
}

// Terminals maps every input that was renamed in this run to the last name it
// reached. Stages run in order, so each step is seen after the one it follows.
func (rep *Report) Terminals() map[string]string {
	origin := make(map[string]string, len(rep.Produced))
	terms := make(map[string]string)
	for _, res := range rep.Produced {
		if res.Name == res.Original {
			continue
		}
		src, ok := origin[res.Original]
		if !ok {
			src = res.Original
		}
		origin[res.Name] = src
		terms[src] = res.Name
	}
	return terms
}
