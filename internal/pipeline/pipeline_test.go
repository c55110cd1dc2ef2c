package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"convoy/internal/fingerprint"
	"convoy/internal/manifest"
	blobrepo "convoy/internal/repository/blob"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// squeeze drops whitespace so minified output is predictable in tests.
type squeeze struct {
	failOn string
}

func (s squeeze) Minify(ext string, src []byte) ([]byte, error) {
	if s.failOn != "" && bytes.Contains(src, []byte(s.failOn)) {
		return nil, errors.New("syntax error")
	}
	return []byte(strings.Join(strings.Fields(string(src)), "")), nil
}

func newTestRunner(t *testing.T, store blobrepo.Store, opts StandardOptions, ro RunnerOptions) *Runner {
	t.Helper()
	if opts.Minifier == nil {
		opts.Minifier = squeeze{}
	}
	return NewRunner(store, manifest.NewIndex(), StandardStages(opts), ro)
}

func put(t *testing.T, store blobrepo.Store, name, content string) {
	t.Helper()
	_, err := store.Save(context.Background(), name, []byte(content))
	require.NoError(t, err)
}

func read(t *testing.T, store blobrepo.Store, name string) string {
	t.Helper()
	raw, err := blobrepo.ReadAll(context.Background(), store, name)
	require.NoError(t, err)
	return string(raw)
}

func TestRunnerFullChain(t *testing.T) {
	ctx := context.Background()
	store := blobrepo.NewMemoryStore()
	put(t, store, "css/base.css", "body { color: red; }")
	put(t, store, "img/logo.png", "PNG")

	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{Workers: 2})
	rep, err := r.Run(ctx, []string{"css/base.css", "img/logo.png"})
	require.NoError(t, err)
	assert.Empty(t, rep.Failed)

	h := fingerprint.SumString("body { color: red; }")
	hashed := "css/base." + h + ".css"
	minified := "css/base." + h + ".cmin.css"
	gz := minified + ".gz"

	assert.Equal(t, []string{"css/base.css", hashed, minified, gz}, r.Index().Chain("css/base.css", true))
	assert.Equal(t, "body{color:red;}", read(t, store, minified))

	logo, ok := r.Index().Terminal("img/logo.png", true)
	require.True(t, ok)
	assert.Equal(t, "img/logo."+fingerprint.SumString("PNG")+".png", logo)

	assert.Equal(t, map[string]string{"css/base.css": gz, "img/logo.png": logo}, rep.Terminals())

	loaded, _, err := manifest.Load(ctx, store, manifest.DefaultName)
	require.NoError(t, err)
	term, ok := loaded.Terminal("css/base.css", false)
	require.True(t, ok)
	assert.Equal(t, minified, term)
}

func TestRunnerDisabledStagePassesThrough(t *testing.T) {
	ctx := context.Background()
	store := blobrepo.NewMemoryStore()
	put(t, store, "js/app.js", "var a = 1;")

	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{Disabled: []string{StageMinify}})
	_, err := r.Run(ctx, []string{"js/app.js"})
	require.NoError(t, err)

	hashed := "js/app." + fingerprint.SumString("var a = 1;") + ".js"
	assert.Equal(t, []string{"js/app.js", hashed, hashed + ".gz"}, r.Index().Chain("js/app.js", true))
	assert.Equal(t, []string{StageFingerprint, StageMinify, StageGzip, StageManifest}, r.StageNames())
}

func TestRunnerSkipOption(t *testing.T) {
	ctx := context.Background()
	store := blobrepo.NewMemoryStore()
	put(t, store, "CARPOOL/abc.css", "a { }")

	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{})
	_, err := r.Run(ctx, []string{"CARPOOL/abc.css"}, Skip(StageFingerprint))
	require.NoError(t, err)
	assert.Equal(t, []string{"CARPOOL/abc.css", "CARPOOL/abc.cmin.css", "CARPOOL/abc.cmin.css.gz"},
		r.Index().Chain("CARPOOL/abc.css", true))
}

func TestFlushWritesOnlyTheManifest(t *testing.T) {
	ctx := context.Background()
	store := blobrepo.NewMemoryStore()
	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{})
	r.Index().Link("carpool:a.css", "CARPOOL/abc.css")

	require.NoError(t, r.Flush(ctx))
	loaded, _, err := manifest.Load(ctx, store, manifest.DefaultName)
	require.NoError(t, err)
	next, ok := loaded.Next("carpool:a.css")
	require.True(t, ok)
	assert.Equal(t, "CARPOOL/abc.css", next)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{manifest.DefaultName}, names)

	off := blobrepo.NewMemoryStore()
	r = newTestRunner(t, off, StandardOptions{}, RunnerOptions{Disabled: []string{StageManifest}})
	require.NoError(t, r.Flush(ctx))
	exists, err := off.Exists(ctx, manifest.DefaultName)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFingerprintRewritesStylesheetReferences(t *testing.T) {
	ctx := context.Background()
	store := blobrepo.NewMemoryStore()
	css := `.a { background: url("../img/logo.png?v=1#x") }
.b { background: url(https://cdn.test/y.png) }
.c { background: url(../img/missing.png) }
.d { background: url(data:image/png;base64,AAAA) }
`
	put(t, store, "css/site.css", css)
	put(t, store, "img/logo.png", "PNG")

	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{})
	rep, err := r.Run(ctx, []string{"css/site.css", "img/logo.png"}, Skip(StageMinify, StageGzip))
	require.NoError(t, err)
	require.Empty(t, rep.Failed)

	logo := "img/logo." + fingerprint.SumString("PNG") + ".png"
	term, ok := r.Index().Terminal("img/logo.png", false)
	require.True(t, ok)
	assert.Equal(t, logo, term)

	want := strings.Replace(css, `url("../img/logo.png?v=1#x")`, `url('../`+logo+`?v=1#x')`, 1)
	hashed, ok := r.Index().Terminal("css/site.css", false)
	require.True(t, ok)
	assert.Equal(t, fingerprint.HashedName("css/site.css", []byte(want)), hashed)
	assert.Equal(t, want, read(t, store, hashed))
	assert.Equal(t, css, read(t, store, "css/site.css"), "the source is left alone")
}

func TestFingerprintRewriteUsesIndexOutsideBatch(t *testing.T) {
	ctx := context.Background()
	store := blobrepo.NewMemoryStore()
	put(t, store, "img/logo.png", "PNG")
	put(t, store, "css/site.css", ".a { background: url(../img/logo.png) }")

	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{})
	_, err := r.Run(ctx, []string{"img/logo.png"})
	require.NoError(t, err)
	_, err = r.Run(ctx, []string{"css/site.css"}, Skip(StageMinify, StageGzip))
	require.NoError(t, err)

	hashed, ok := r.Index().Terminal("css/site.css", false)
	require.True(t, ok)
	logo := "img/logo." + fingerprint.SumString("PNG") + ".png"
	assert.Equal(t, ".a { background: url('../"+logo+"') }", read(t, store, hashed))
}

func TestRunnerStageFailureIsLocal(t *testing.T) {
	ctx := context.Background()
	store := blobrepo.NewMemoryStore()
	put(t, store, "js/bad.js", "BROKEN(")
	put(t, store, "js/good.js", "ok ( )")

	r := newTestRunner(t, store, StandardOptions{Minifier: squeeze{failOn: "BROKEN"}}, RunnerOptions{Workers: 1})
	rep, err := r.Run(ctx, []string{"js/bad.js", "js/good.js"})
	require.NoError(t, err)
	require.Len(t, rep.Failed, 1)

	var serr *StageError
	require.ErrorAs(t, rep.Failed[0].Err, &serr)
	assert.Equal(t, StageMinify, serr.Stage)

	badHashed := "js/bad." + fingerprint.SumString("BROKEN(") + ".js"
	assert.Equal(t, []string{"js/bad.js", badHashed, badHashed + ".gz"}, r.Index().Chain("js/bad.js", true),
		"failed input passes through to gzip unminified")

	goodTerm, ok := r.Index().Terminal("js/good.js", false)
	require.True(t, ok)
	assert.Contains(t, goodTerm, ".cmin.js")
}

type brokenManifestStore struct {
	*blobrepo.MemoryStore
}

func (s brokenManifestStore) Save(ctx context.Context, name string, content []byte) (string, error) {
	if name == manifest.DefaultName {
		return "", errors.New("read-only")
	}
	return s.MemoryStore.Save(ctx, name, content)
}

func TestRunnerManifestFailureIsFatal(t *testing.T) {
	store := brokenManifestStore{blobrepo.NewMemoryStore()}
	put(t, store, "a.css", "a{}")

	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{})
	rep, err := r.Run(context.Background(), []string{"a.css"})
	var werr *manifest.WriteError
	require.ErrorAs(t, err, &werr)
	assert.NotEmpty(t, rep.Produced)
}

func TestRunnerMissingInputIsReported(t *testing.T) {
	store := blobrepo.NewMemoryStore()
	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{})
	rep, err := r.Run(context.Background(), []string{"missing.css"})
	require.NoError(t, err)
	require.NotEmpty(t, rep.Failed)
	assert.True(t, errors.Is(rep.Failed[0].Err, blobrepo.ErrNotFound))
}

func TestProcessStopsWhenConsumerStops(t *testing.T) {
	store := blobrepo.NewMemoryStore()
	put(t, store, "a.css", "a{}")
	put(t, store, "b.css", "b{}")
	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{})

	seen := 0
	for range r.Process(context.Background(), []string{"a.css", "b.css"}) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
	ok, err := store.Exists(context.Background(), manifest.DefaultName)
	require.NoError(t, err)
	assert.False(t, ok, "abandoned runs never flush the manifest")
}

func TestGzipIsReproducible(t *testing.T) {
	in := []byte(strings.Repeat("body{color:red}", 50))
	a, err := Gzip(in)
	require.NoError(t, err)
	b, err := Gzip(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	zr, err := gzip.NewReader(bytes.NewReader(a))
	require.NoError(t, err)
	assert.True(t, zr.Header.ModTime.IsZero() || zr.Header.ModTime.Unix() == 0)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMinifyUsesExistingSibling(t *testing.T) {
	ctx := context.Background()
	store := blobrepo.NewMemoryStore()
	put(t, store, "js/lib.js", "function lib () { return 1 }")
	put(t, store, "js/lib.min.js", "SHIPPED-MINIFIED")

	r := newTestRunner(t, store, StandardOptions{UseExistingMin: true}, RunnerOptions{})
	_, err := r.Run(ctx, []string{"js/lib.js", "js/lib.min.js"})
	require.NoError(t, err)

	term, ok := r.Index().Terminal("js/lib.js", false)
	require.True(t, ok)
	assert.Contains(t, term, ".cmin.js")
	assert.Equal(t, "SHIPPED-MINIFIED", read(t, store, term))

	// the distributed file is fingerprinted but never re-minified
	minTerm, ok := r.Index().Terminal("js/lib.min.js", false)
	require.True(t, ok)
	assert.NotContains(t, minTerm, ".cmin.")
}

func TestMinifyWithoutExistingPolicyMinifies(t *testing.T) {
	ctx := context.Background()
	store := blobrepo.NewMemoryStore()
	put(t, store, "js/lib.js", "function lib () { return 1 }")
	put(t, store, "js/lib.min.js", "SHIPPED-MINIFIED")

	r := newTestRunner(t, store, StandardOptions{}, RunnerOptions{})
	_, err := r.Run(ctx, []string{"js/lib.js"})
	require.NoError(t, err)
	term, _ := r.Index().Terminal("js/lib.js", false)
	assert.Equal(t, "functionlib(){return1}", read(t, store, term))
}

func TestExistingMinName(t *testing.T) {
	assert.Equal(t, "js/lib.min.js", ExistingMinName("js/lib.js"))
	assert.Equal(t, "js/lib.min.js", ExistingMinName("js/lib.0123456789ab.js"))
	assert.Equal(t, "js/lib.v2.min.js", ExistingMinName("js/lib.v2.js"))
}

func TestMediaTypeIsPureOnExtension(t *testing.T) {
	mt, ok := MediaType("css")
	assert.True(t, ok)
	assert.Equal(t, "text/css", mt)
	mt, ok = MediaType(".JS")
	assert.True(t, ok)
	assert.Equal(t, "application/javascript", mt)
	_, ok = MediaType("png")
	assert.False(t, ok)
}

func TestWebMinifierShrinksCSS(t *testing.T) {
	src := []byte("body {\n  color : red ;\n}\n")
	out, err := NewWebMinifier().Minify("css", src)
	require.NoError(t, err)
	assert.Less(t, len(out), len(src))
	assert.Contains(t, string(out), "color:red")
}
