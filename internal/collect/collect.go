// Package collect copies a source tree into a blob store ahead of a build.
package collect

import (
	"context"
	"fmt"
	"io/fs"
	"path"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	blobrepo "convoy/internal/repository/blob"
	"convoy/internal/safeio"
)

// skipDirs are never collected.
var skipDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true, "node_modules": true, ".cache": true,
}

type Options struct {
	// Patterns filter files by base name; empty collects everything.
	Patterns []string
	// Ignore lists base-name patterns that are never collected.
	Ignore  []string
	Workers int
	Logger  *zap.Logger
}

// Collect saves every matching file under fsys to store and returns the
// collected names in walk order.
func Collect(ctx context.Context, fsys *safeio.SafeFS, store blobrepo.Store, opts Options) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var names []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if matchAny(d.Name(), opts.Ignore) {
			return nil
		}
		if len(opts.Patterns) > 0 && !matchAny(d.Name(), opts.Patterns) {
			return nil
		}
		names = append(names, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", fsys.Root(), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for _, name := range names {
		g.Go(func() error {
			raw, err := fs.ReadFile(fsys, name)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			if _, err := store.Save(gctx, name, raw); err != nil {
				return fmt.Errorf("save %s: %w", name, err)
			}
			logger.Debug("collected", zap.String("name", name), zap.Int("bytes", len(raw)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Info("collection finished", zap.String("root", fsys.Root()), zap.Int("files", len(names)))
	return names, nil
}

func matchAny(base string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}
