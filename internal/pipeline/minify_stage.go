package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
	"go.uber.org/zap"

	"convoy/internal/fingerprint"
	blobrepo "convoy/internal/repository/blob"
)

// Minifier compresses source text of the format named by ext ("css", "js").
type Minifier interface {
	Minify(ext string, src []byte) ([]byte, error)
}

// MediaType maps an asset extension to the media type of its minifier.
func MediaType(ext string) (string, bool) {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "css":
		return "text/css", true
	case "js":
		return "application/javascript", true
	}
	return "", false
}

// WebMinifier minifies css and js with tdewolff/minify.
type WebMinifier struct {
	m *minify.M
}

func NewWebMinifier() *WebMinifier {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	return &WebMinifier{m: m}
}

func (w *WebMinifier) Minify(ext string, src []byte) ([]byte, error) {
	mediaType, ok := MediaType(ext)
	if !ok {
		return nil, fmt.Errorf("no minifier for %q", ext)
	}
	return w.m.Bytes(mediaType, src)
}

const (
	minMarker  = "min"
	cminMarker = "cmin"
)

// MinifyStage writes a minified copy of each css/js asset under a .cmin.
// infix. With UseExisting, a distributed .min. sibling of the unhashed name is
// copied instead of minifying, so shipped bugs match upstream ones.
type MinifyStage struct {
	Patterns    []string
	Minifier    Minifier
	UseExisting bool
	Logger      *zap.Logger
}

func (s *MinifyStage) Name() string { return StageMinify }

func (s *MinifyStage) Run(ctx context.Context, b *Batch) iter.Seq[Result] {
	return eachAsset(ctx, b, StageMinify, func(ctx context.Context, name string) (string, bool, error) {
		if !matchesPatterns(name, s.Patterns) || isMinified(name) {
			return name, false, nil
		}
		ext := strings.TrimPrefix(path.Ext(name), ".")
		target := insertMarker(name, cminMarker)

		var out []byte
		if s.UseExisting {
			existing, err := s.existingMin(ctx, b.Store, name)
			if err != nil {
				return "", false, err
			}
			out = existing
		}
		if out == nil {
			raw, err := blobrepo.ReadAll(ctx, b.Store, name)
			if err != nil {
				return "", false, err
			}
			if s.Minifier == nil {
				return "", false, errors.New("minifier is nil")
			}
			out, err = s.Minifier.Minify(ext, raw)
			if err != nil {
				return "", false, err
			}
		}
		stored, err := b.Store.Save(ctx, target, out)
		if err != nil {
			return "", false, err
		}
		return stored, true, nil
	})
}

// existingMin returns the content of the distributed minified sibling, or nil
// when there is none.
func (s *MinifyStage) existingMin(ctx context.Context, store blobrepo.Store, name string) ([]byte, error) {
	candidate := ExistingMinName(name)
	ok, err := store.Exists(ctx, candidate)
	if err != nil || !ok {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("using existing minified file", zap.String("name", name), zap.String("existing", candidate))
	}
	return blobrepo.ReadAll(ctx, store, candidate)
}

// ExistingMinName derives the conventional distributed minified name for an
// asset: the fingerprint is stripped and a .min. infix inserted.
func ExistingMinName(name string) string {
	unhashed, _ := fingerprint.StripHash(name)
	return insertMarker(unhashed, minMarker)
}

func isMinified(name string) bool {
	base := path.Base(name)
	return strings.Contains(base, "."+minMarker+".") || strings.Contains(base, "."+cminMarker+".")
}

func insertMarker(name, marker string) string {
	dir, file := path.Split(name)
	ext := path.Ext(file)
	if ext == "" || ext == file {
		return dir + file + "." + marker
	}
	return dir + strings.TrimSuffix(file, ext) + "." + marker + ext
}
