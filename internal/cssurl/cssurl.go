// Package cssurl finds the url(...) and src= references of a stylesheet and
// rewrites them.
package cssurl

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`url\(([^\)]+)\)`)
	srcPattern = regexp.MustCompile(`src=(?:'([^']+?)'|"([^"]+?)")`)
)

const (
	urlTemplate = "url('%s')"
	srcTemplate = "src='%s'"
)

var offsitePrefixes = []string{"http://", "https://", "//", "/"}

type Kind int

const (
	// Fragment references point into the document itself, as in url(#id).
	Fragment Kind = iota
	Data
	// Offsite references are absolute URLs or root relative paths.
	Offsite
	// Relative references resolve against the stylesheet's directory.
	Relative
)

// Ref is one reference found in a stylesheet.
type Ref struct {
	Kind Kind
	// Raw is the reference with its quotes trimmed.
	Raw string
	// Path is Raw without its ?query#fragment suffix.
	Path   string
	Suffix string
	// Name is Path resolved to a store name. Only set for Relative refs.
	Name string
}

// ReplaceFunc returns the replacement for ref. ok=false leaves the original
// text untouched.
type ReplaceFunc func(ref Ref) (string, bool)

// Rewrite applies fn to every reference in content, which was read from the
// store name member.
func Rewrite(member, content string, fn ReplaceFunc) string {
	dir := path.Dir(member)
	content = urlPattern.ReplaceAllStringFunc(content, func(m string) string {
		sub := urlPattern.FindStringSubmatch(m)
		return replace(m, dir, sub[1], urlTemplate, fn)
	})
	return srcPattern.ReplaceAllStringFunc(content, func(m string) string {
		sub := srcPattern.FindStringSubmatch(m)
		ref := sub[1]
		if ref == "" {
			ref = sub[2]
		}
		return replace(m, dir, ref, srcTemplate, fn)
	})
}

func replace(match, dir, raw, template string, fn ReplaceFunc) string {
	out, ok := fn(Parse(dir, raw))
	if !ok {
		return match
	}
	return fmt.Sprintf(template, out)
}

// Parse classifies raw as found in a stylesheet stored under dir.
func Parse(dir, raw string) Ref {
	raw = strings.Trim(raw, ` '"`)
	ref := Ref{Raw: raw}
	switch {
	case strings.HasPrefix(raw, "#"):
		ref.Kind = Fragment
		return ref
	case strings.HasPrefix(raw, "data:"):
		ref.Kind = Data
		return ref
	}
	ref.Path, ref.Suffix = splitSuffix(raw)
	if hasAnyPrefix(raw, offsitePrefixes) {
		ref.Kind = Offsite
		return ref
	}
	ref.Kind = Relative
	ref.Name = strings.TrimPrefix(path.Join("/", dir, ref.Path), "/")
	return ref
}

// Absolutizer makes the references inside a stylesheet valid from any
// location, for inlining it into another file.
type Absolutizer struct {
	// TerminalURL maps a store name to the URL of its terminal derivative.
	TerminalURL func(name string) string
	// BuildTime is appended to offsite references as a cache buster.
	BuildTime int64
}

func (a *Absolutizer) Rewrite(member, content string) string {
	return Rewrite(member, content, a.replace)
}

func (a *Absolutizer) replace(ref Ref) (string, bool) {
	switch ref.Kind {
	case Offsite:
		return a.cacheBust(ref.Raw), true
	case Relative:
		u := ref.Name
		if a.TerminalURL != nil {
			u = a.TerminalURL(ref.Name)
		}
		return u + ref.Suffix, true
	}
	return ref.Raw, true
}

func (a *Absolutizer) cacheBust(ref string) string {
	fragment, hasFragment := "", false
	if i := strings.LastIndex(ref, "#"); i >= 0 {
		ref, fragment, hasFragment = ref[:i], ref[i+1:], true
	}
	sep := "?"
	if strings.Contains(ref, "?") {
		sep = "&"
	}
	ref += sep + strconv.FormatInt(a.BuildTime, 10)
	if hasFragment {
		ref += "#" + fragment
	}
	return ref
}

func splitSuffix(ref string) (string, string) {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i], ref[i:]
	}
	return ref, ""
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
