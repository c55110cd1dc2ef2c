// Package app wires configuration, storage and the asset components together.
package app

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"convoy/internal/carpool"
	"convoy/internal/collect"
	"convoy/internal/config"
	"convoy/internal/manifest"
	"convoy/internal/pipeline"
	blobrepo "convoy/internal/repository/blob"
	"convoy/internal/resolver"
	"convoy/internal/safeio"
)

type App struct {
	Config    *config.Config
	Store     blobrepo.Store
	Index     *manifest.Index
	Runner    *pipeline.Runner
	Resolver  *resolver.Resolver
	Combiner  *carpool.Combiner
	Directive *carpool.Directive

	logger *zap.Logger
	closer io.Closer
}

// New opens the configured store and loads its manifest.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, closer, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a, err := NewWithStore(ctx, cfg, store, logger)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	a.closer = closer
	return a, nil
}

// NewWithStore wires every component around an already opened store.
func NewWithStore(ctx context.Context, cfg *config.Config, store blobrepo.Store, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	idx := manifest.NewIndex()

	stages := pipeline.StandardStages(pipeline.StandardOptions{
		UseExistingMin:  cfg.UseExistingMin,
		ManifestName:    cfg.ManifestName,
		ManifestVersion: cfg.ManifestVersion,
		Logger:          logger.Named("minify"),
	})
	runner := pipeline.NewRunner(store, idx, stages, pipeline.RunnerOptions{
		Disabled: cfg.Stages.Disabled(),
		Workers:  cfg.Workers,
		Logger:   logger.Named("pipeline"),
	})

	res, err := resolver.New(store, idx, resolver.Options{
		Debug:                cfg.Debug,
		DuringDebug:          cfg.DuringDebug,
		GzipInTemplate:       cfg.GzipInTemplate,
		ConservativeMSIEGzip: cfg.ConservativeMSIEGzip,
		StaticURL:            cfg.StaticURL,
		ManifestName:         cfg.ManifestName,
	}, logger.Named("resolver"))
	if err != nil {
		return nil, err
	}
	if _, err := res.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	combiner := carpool.NewCombiner(store, runner, carpool.CombinerOptions{
		PathFragment: cfg.PathFragment,
		Strict:       cfg.Strict(),
		TerminalURL:  res.TerminalURL,
		Logger:       logger.Named("carpool"),
	})
	directive := carpool.NewDirective(idx, combiner, res, carpool.DirectiveOptions{
		Debug:                cfg.Debug,
		CombineDuringDebug:   cfg.CombineDuringDebug,
		CombineDuringRequest: cfg.CombineDuringRequest,
		CombineOriginals:     cfg.CombineOriginals,
		CSSTemplate:          cfg.Templates.CSS,
		JSTemplate:           cfg.Templates.JS,
		CommentTemplate:      cfg.Templates.Comment,
	})

	return &App{
		Config:    cfg,
		Store:     store,
		Index:     idx,
		Runner:    runner,
		Resolver:  res,
		Combiner:  combiner,
		Directive: directive,
		logger:    logger,
	}, nil
}

// Build collects srcRoot into the store and runs the pipeline over it with a
// fresh index.
func (a *App) Build(ctx context.Context, srcRoot string) (*pipeline.Report, error) {
	fsys, err := safeio.NewSafeFS(srcRoot)
	if err != nil {
		return nil, fmt.Errorf("open source root: %w", err)
	}
	names, err := collect.Collect(ctx, fsys, a.Store, collect.Options{
		Ignore:  []string{a.Config.ManifestName},
		Workers: a.Config.Workers,
		Logger:  a.logger.Named("collect"),
	})
	if err != nil {
		return nil, err
	}
	a.Index.Reset()
	rep, err := a.Runner.Run(ctx, names)
	if err != nil {
		return rep, err
	}
	a.logger.Info("build finished",
		zap.Int("inputs", len(names)),
		zap.Int("produced", len(rep.Produced)),
		zap.Int("failed", len(rep.Failed)))
	return rep, nil
}

func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
