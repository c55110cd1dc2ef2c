package cssurl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbsolutizer(t *testing.T) {
	a := &Absolutizer{
		TerminalURL: func(name string) string { return "/static/T/" + name },
		BuildTime:   1700000000,
	}
	cases := []struct {
		in, out string
	}{
		{"url(images/x.png)", "url('/static/T/a/b/images/x.png')"},
		{"url('../x.png')", "url('/static/T/a/x.png')"},
		{`url("img/x.png?v=2#top")`, "url('/static/T/a/b/img/x.png?v=2#top')"},
		{"url(//cdn.example.com/x.png)", "url('//cdn.example.com/x.png?1700000000')"},
		{"url(https://cdn.example.com/x.png?a=1#f)", "url('https://cdn.example.com/x.png?a=1&1700000000#f')"},
		{"url(/root.png)", "url('/root.png?1700000000')"},
		{"url(#gradient)", "url('#gradient')"},
		{"url(data:image/png;base64,AAAA)", "url('data:image/png;base64,AAAA')"},
		{`filter: progid:DXImageTransform.Microsoft.AlphaImageLoader(src="ie.png")`, `filter: progid:DXImageTransform.Microsoft.AlphaImageLoader(src='/static/T/a/b/ie.png')`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.out, a.Rewrite("a/b/style.css", tc.in), tc.in)
	}
}

func TestParse(t *testing.T) {
	ref := Parse("css/site", ` "../img/x.png?v=1" `)
	assert.Equal(t, Relative, ref.Kind)
	assert.Equal(t, "../img/x.png", ref.Path)
	assert.Equal(t, "?v=1", ref.Suffix)
	assert.Equal(t, "css/img/x.png", ref.Name)

	assert.Equal(t, Offsite, Parse("css", "https://x.test/a.png").Kind)
	assert.Equal(t, Offsite, Parse("css", "/a.png").Kind)
	assert.Equal(t, Fragment, Parse("css", "#f").Kind)
	assert.Equal(t, Data, Parse("css", "data:,x").Kind)
	assert.Equal(t, "x.png", Parse(".", "x.png").Name)
}

func TestRewriteLeavesDeclinedMatches(t *testing.T) {
	in := `a { background: url( "x.png" ) } b { background: url(y.png) }`
	out := Rewrite("style.css", in, func(ref Ref) (string, bool) {
		if ref.Name != "y.png" {
			return "", false
		}
		return strings.ToUpper(ref.Raw), true
	})
	assert.Equal(t, `a { background: url( "x.png" ) } b { background: url('Y.PNG') }`, out)
}
