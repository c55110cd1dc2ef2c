package pipeline

import (
	"bytes"
	"context"
	"iter"

	"github.com/klauspost/compress/gzip"

	blobrepo "convoy/internal/repository/blob"
)

// GzipStage writes a gzip variant of each matching asset next to it.
type GzipStage struct {
	Patterns []string
}

func (s *GzipStage) Name() string { return StageGzip }

func (s *GzipStage) Run(ctx context.Context, b *Batch) iter.Seq[Result] {
	return eachAsset(ctx, b, StageGzip, func(ctx context.Context, name string) (string, bool, error) {
		if blobrepo.IsGzipName(name) || !matchesPatterns(name, s.Patterns) {
			return name, false, nil
		}
		raw, err := blobrepo.ReadAll(ctx, b.Store, name)
		if err != nil {
			return "", false, err
		}
		compressed, err := Gzip(raw)
		if err != nil {
			return "", false, err
		}
		stored, err := b.Store.Save(ctx, name+".gz", compressed)
		if err != nil {
			return "", false, err
		}
		return stored, true, nil
	})
}

// Gzip compresses raw with a zero header mtime and no file name, so identical
// input always yields identical bytes.
func Gzip(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
