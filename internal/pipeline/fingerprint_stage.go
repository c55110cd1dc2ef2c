package pipeline

import (
	"context"
	"iter"
	"path"

	"convoy/internal/cssurl"
	"convoy/internal/fingerprint"
	blobrepo "convoy/internal/repository/blob"
)

var DefaultRewritePatterns = []string{"*.css"}

// FingerprintStage copies each asset to a content-hashed name. Assets matching
// RewritePatterns have their relative url() references pointed at the hashed
// names first, and are hashed over the rewritten content.
type FingerprintStage struct {
	Patterns []string
	// Exclude lists exact names that are never fingerprinted.
	Exclude         []string
	RewritePatterns []string
}

func (s *FingerprintStage) Name() string { return StageFingerprint }

func (s *FingerprintStage) Run(ctx context.Context, b *Batch) iter.Seq[Result] {
	return eachAsset(ctx, b, StageFingerprint, func(ctx context.Context, name string) (string, bool, error) {
		if !s.hashes(name) {
			return name, false, nil
		}
		raw, err := blobrepo.ReadAll(ctx, b.Store, name)
		if err != nil {
			return "", false, err
		}
		if s.rewrites(name) {
			raw = []byte(cssurl.Rewrite(name, string(raw), func(ref cssurl.Ref) (string, bool) {
				return s.hashedRef(ctx, b, ref)
			}))
		}
		hashed := fingerprint.HashedName(name, raw)
		stored, err := b.Store.Save(ctx, hashed, raw)
		if err != nil {
			return "", false, err
		}
		return stored, true, nil
	})
}

func (s *FingerprintStage) hashes(name string) bool {
	if s.excluded(name) || fingerprint.HasHash(name) {
		return false
	}
	return len(s.Patterns) == 0 || matchesPatterns(name, s.Patterns)
}

func (s *FingerprintStage) rewrites(name string) bool {
	return len(s.RewritePatterns) > 0 && matchesPatterns(name, s.RewritePatterns)
}

// hashedRef keeps the reference relative and swaps in the hashed file name.
// Targets in this batch are hashed from their content, which is the name this
// stage gives them; others resolve through the index. Stylesheets referenced
// from stylesheets are left alone since their hash depends on their own
// rewrite.
func (s *FingerprintStage) hashedRef(ctx context.Context, b *Batch, ref cssurl.Ref) (string, bool) {
	if ref.Kind != cssurl.Relative || !s.hashes(ref.Name) || s.rewrites(ref.Name) {
		return "", false
	}
	var hashed string
	if b.hasInput(ref.Name) {
		raw, err := blobrepo.ReadAll(ctx, b.Store, ref.Name)
		if err != nil {
			return "", false
		}
		hashed = fingerprint.HashedName(ref.Name, raw)
	} else if next, ok := b.Index.Next(ref.Name); ok && fingerprint.HasHash(next) {
		hashed = next
	} else {
		return "", false
	}
	return path.Join(path.Dir(ref.Path), path.Base(hashed)) + ref.Suffix, true
}

func (s *FingerprintStage) excluded(name string) bool {
	for _, e := range s.Exclude {
		if e == name {
			return true
		}
	}
	return false
}
