package carpool

import (
	"context"
	"fmt"
	"strings"

	"convoy/internal/manifest"
	"convoy/internal/resolver"
)

const (
	DefaultCSSTemplate     = "<link rel=\"stylesheet\" href=\"%s\" >\n"
	DefaultJSTemplate      = "<script type=\"text/javascript\" src=\"%s\" ></script>\n"
	DefaultCommentTemplate = "\n<!-- %s -->\n"
)

// URLResolver is the read side a directive needs.
type URLResolver interface {
	Resolve(name string, hints resolver.Hints) string
}

type DirectiveOptions struct {
	Debug                bool
	CombineDuringDebug   bool
	CombineDuringRequest bool
	// CombineOriginals keys and combines the unprocessed members instead of
	// their terminal names.
	CombineOriginals bool
	CSSTemplate      string
	JSTemplate       string
	CommentTemplate  string
}

// Directive renders the markup for one ordered member list.
type Directive struct {
	index    *manifest.Index
	combiner *Combiner
	urls     URLResolver
	opts     DirectiveOptions
}

func NewDirective(idx *manifest.Index, combiner *Combiner, urls URLResolver, opts DirectiveOptions) *Directive {
	if opts.CSSTemplate == "" {
		opts.CSSTemplate = DefaultCSSTemplate
	}
	if opts.JSTemplate == "" {
		opts.JSTemplate = DefaultJSTemplate
	}
	if opts.CommentTemplate == "" {
		opts.CommentTemplate = DefaultCommentTemplate
	}
	return &Directive{index: idx, combiner: combiner, urls: urls, opts: opts}
}

// Members maps directive paths to the names that get combined. Paths without
// a pre-gzip chain cannot be combined and are returned separately.
func (d *Directive) Members(paths []string) (members, loose []string) {
	for _, p := range paths {
		chain := d.index.Chain(p, false)
		if len(chain) == 0 {
			loose = append(loose, p)
			continue
		}
		if d.opts.CombineOriginals {
			members = append(members, chain[0])
		} else {
			members = append(members, chain[len(chain)-1])
		}
	}
	return members, loose
}

// Render returns the tags for paths: one tag for their combination when it is
// cached or can be built now, otherwise one tag per path. The output is
// bracketed by comments holding the comment key.
func (d *Directive) Render(ctx context.Context, format string, paths []string, hints resolver.Hints) (string, error) {
	tag, err := d.tagTemplate(format)
	if err != nil {
		return "", err
	}
	members, loose := d.Members(paths)
	key := CommentKey(members)

	var out strings.Builder
	out.WriteString(fmt.Sprintf(d.opts.CommentTemplate, key))

	if d.opts.Debug && !d.opts.CombineDuringDebug {
		loose = paths
	} else {
		stored, ok := d.index.Next(LinkKey(key))
		if !ok && d.opts.CombineDuringRequest && d.combiner != nil && len(members) > 0 {
			stored, ok, err = d.combiner.TryCombine(ctx, members, key, format)
			if err != nil {
				return "", err
			}
		}
		if ok {
			out.WriteString(fmt.Sprintf(tag, d.urls.Resolve(stored, hints)))
		} else {
			loose = paths
		}
	}
	for _, p := range loose {
		out.WriteString(fmt.Sprintf(tag, d.urls.Resolve(p, hints)))
	}
	out.WriteString(fmt.Sprintf(d.opts.CommentTemplate, key))
	return out.String(), nil
}

func (d *Directive) tagTemplate(format string) (string, error) {
	switch format {
	case FormatCSS:
		return d.opts.CSSTemplate, nil
	case FormatJS:
		return d.opts.JSTemplate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// ParseMembers splits a directive body into member paths. Entries are
// separated by newlines or commas and may be quoted.
func ParseMembers(body string) []string {
	fields := strings.FieldsFunc(body, func(r rune) bool { return r == '\n' || r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, " \t\r'\"")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
