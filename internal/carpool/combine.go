// Package carpool concatenates ordered sets of css or js assets into a single
// derived asset and renders the markup that references it.
package carpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"convoy/internal/cssurl"
	"convoy/internal/fingerprint"
	"convoy/internal/pipeline"
	blobrepo "convoy/internal/repository/blob"
)

const (
	FormatCSS = "css"
	FormatJS  = "js"

	DefaultPathFragment = "CARPOOL"
	// KeySeparator joins member names into a comment key.
	KeySeparator = "+++"

	linkPrefix = "carpool:"
)

var ErrUnknownFormat = errors.New("carpool format must be css or js")

// UnsafeConcatenationError reports a member that cannot be inlined, such as a
// stylesheet using @import.
type UnsafeConcatenationError struct {
	Member string
	Reason string
}

func (e *UnsafeConcatenationError) Error() string {
	return fmt.Sprintf("%s: cannot safely concatenate: %s", e.Member, e.Reason)
}

type CombinerOptions struct {
	PathFragment string
	// Strict propagates combine failures instead of falling back.
	Strict bool
	// TerminalURL resolves references found inside css members.
	TerminalURL func(name string) string
	Logger      *zap.Logger
	Now         func() time.Time
}

// Combiner writes concatenated assets and feeds them back into the runner.
type Combiner struct {
	store    blobrepo.Store
	runner   *pipeline.Runner
	fragment string
	strict   bool
	rewriter *cssurl.Absolutizer
	logger   *zap.Logger
}

func NewCombiner(store blobrepo.Store, runner *pipeline.Runner, opts CombinerOptions) *Combiner {
	if opts.PathFragment == "" {
		opts.PathFragment = DefaultPathFragment
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Combiner{
		store:    store,
		runner:   runner,
		fragment: strings.Trim(opts.PathFragment, "/"),
		strict:   opts.Strict,
		rewriter: &cssurl.Absolutizer{TerminalURL: opts.TerminalURL, BuildTime: opts.Now().Unix()},
		logger:   opts.Logger,
	}
}

// Combine concatenates paths in order, stores the result under a content
// hashed name and post-processes it. The key is linked and the manifest
// flushed only after post-processing succeeds. Identical inputs always
// converge on the same stored name, so concurrent combines of one key are
// harmless.
func (c *Combiner) Combine(ctx context.Context, paths []string, commentKey, format string) (string, error) {
	if format != FormatCSS && format != FormatJS {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	var b strings.Builder
	b.WriteString("/*!" + commentKey + "*/")
	for _, p := range paths {
		b.WriteString("\n /*!" + p + "*/ \n")
		raw, err := blobrepo.ReadAll(ctx, c.store, p)
		if err != nil {
			return "", fmt.Errorf("read member %s: %w", p, err)
		}
		content := string(raw)
		if format == FormatCSS {
			content = c.rewriter.Rewrite(p, content)
			if strings.Contains(content, "@import") {
				return "", &UnsafeConcatenationError{Member: p, Reason: "css uses the @import statement"}
			}
		}
		b.WriteString(content)
	}

	combined := b.String()
	name := c.fragment + "/" + fingerprint.SumString(combined) + "." + format
	stored, err := c.store.Save(ctx, name, []byte(combined))
	if err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	rep, err := c.runner.Run(ctx, []string{stored},
		pipeline.Skip(pipeline.StageFingerprint, pipeline.StageManifest))
	if err != nil {
		return "", err
	}
	if len(rep.Failed) > 0 {
		return "", rep.Failed[0].Err
	}
	// The key becomes visible only once its whole chain exists.
	c.runner.Index().Link(LinkKey(commentKey), stored)
	if err := c.runner.Flush(ctx); err != nil {
		return "", err
	}
	c.logger.Info("combined",
		zap.String("key", commentKey),
		zap.String("format", format),
		zap.Int("members", len(paths)),
		zap.String("as", stored))
	return stored, nil
}

// TryCombine is Combine with the fallback policy applied: outside strict mode
// a failure is logged and reported as ok=false so callers emit members
// individually.
func (c *Combiner) TryCombine(ctx context.Context, paths []string, commentKey, format string) (string, bool, error) {
	stored, err := c.Combine(ctx, paths, commentKey, format)
	if err == nil {
		return stored, true, nil
	}
	if c.strict {
		return "", false, err
	}
	c.logger.Warn("combine failed, falling back to individual files",
		zap.String("key", commentKey),
		zap.Error(err))
	return "", false, nil
}

// CommentKey joins member names into the key of their combination.
func CommentKey(members []string) string {
	return strings.Join(members, KeySeparator)
}

// LinkKey is the index entry for a comment key. The prefix keeps a single
// member combination from colliding with that member's own chain.
func LinkKey(commentKey string) string {
	return linkPrefix + commentKey
}
