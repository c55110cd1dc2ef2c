package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convoy/internal/carpool"
	"convoy/internal/config"
	"convoy/internal/manifest"
	"convoy/internal/resolver"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = "disk"
	cfg.Storage.Root = t.TempDir()
	return cfg
}

func writeSource(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	files := map[string]string{
		"css/base.css":   "body {\n  margin: 0;\n}\n",
		"css/second.css": ".logo {\n  background: url(../img/logo.png);\n}\n",
		"img/logo.png":   "PNG",
		"js/app.js":      "function app () {\n  return 1;\n}\n",
	}
	for name, content := range files {
		p := filepath.Join(src, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return src
}

func TestBuildThenResolve(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	rep, err := a.Build(ctx, writeSource(t))
	require.NoError(t, err)
	assert.Empty(t, rep.Failed)

	_, err = os.Stat(filepath.Join(cfg.Storage.Root, manifest.DefaultName))
	require.NoError(t, err)

	url := a.Resolver.Resolve("css/base.css", resolver.Hints{})
	assert.True(t, strings.HasPrefix(url, "/static/css/base."))
	assert.True(t, strings.HasSuffix(url, ".cmin.css"))
	assert.True(t, strings.HasSuffix(a.Resolver.Resolve("css/base.css", resolver.Hints{GzipAcceptable: true}), ".cmin.css.gz"))

	// a second process sees the same terminals through the stored manifest
	b, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, url, b.Resolver.Resolve("css/base.css", resolver.Hints{}))
}

func TestCarpoolThroughApp(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = a.Build(ctx, writeSource(t))
	require.NoError(t, err)

	out, err := a.Directive.Render(ctx, carpool.FormatCSS, []string{"css/base.css", "css/second.css"}, resolver.Hints{})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "<link "))
	assert.Contains(t, out, "/static/CARPOOL/")

	// the combination is flushed to the manifest for the next process
	members, _ := a.Directive.Members([]string{"css/base.css", "css/second.css"})
	b, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer b.Close()
	_, ok := b.Index.Next(carpool.LinkKey(carpool.CommentKey(members)))
	assert.True(t, ok)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debug = true
	cfg.CombineDuringDebug = true
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, config.ErrImproperlyConfigured)
}
