package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobrepo "convoy/internal/repository/blob"
)

type fakeOriginStore struct {
	*blobrepo.MemoryStore

	mu        sync.Mutex
	openCalls int
	saveCalls int
	failSave  bool
}

func newFakeOriginStore() *fakeOriginStore {
	return &fakeOriginStore{MemoryStore: blobrepo.NewMemoryStore()}
}

func (s *fakeOriginStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.openCalls++
	s.mu.Unlock()
	return s.MemoryStore.Open(ctx, name)
}

func (s *fakeOriginStore) Save(ctx context.Context, name string, content []byte) (string, error) {
	s.mu.Lock()
	s.saveCalls++
	fail := s.failSave
	s.mu.Unlock()
	if fail {
		return "", fmt.Errorf("save failed")
	}
	return s.MemoryStore.Save(ctx, name, content)
}

func (s *fakeOriginStore) opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCalls
}

func seed(t *testing.T, s blobrepo.Store, name, content string) {
	t.Helper()
	_, err := s.Save(context.Background(), name, []byte(content))
	require.NoError(t, err)
}

func TestCachedStoreReadThroughFillsMirror(t *testing.T) {
	ctx := context.Background()
	origin := newFakeOriginStore()
	seed(t, origin.MemoryStore, "css/a.css", "a{}")
	local := blobrepo.NewDiskStore(t.TempDir())
	store := NewCachedStore(origin, local, DefaultCacheConfig(), nil)

	got, err := blobrepo.ReadAll(ctx, store, "css/a.css")
	require.NoError(t, err)
	assert.Equal(t, "a{}", string(got))

	got, err = blobrepo.ReadAll(ctx, store, "css/a.css")
	require.NoError(t, err)
	assert.Equal(t, "a{}", string(got))
	assert.Equal(t, 1, origin.opens())

	mirrored, err := blobrepo.ReadAll(ctx, local, "css/a.css")
	require.NoError(t, err)
	assert.Equal(t, "a{}", string(mirrored))

	m := store.Metrics()
	assert.Equal(t, uint64(1), m.Misses)
	assert.Equal(t, uint64(1), m.MemoryHits)
}

func TestCachedStoreServesFromMirrorAfterRestart(t *testing.T) {
	ctx := context.Background()
	origin := newFakeOriginStore()
	seed(t, origin.MemoryStore, "js/app.js", "x()")
	local := blobrepo.NewDiskStore(t.TempDir())
	seed(t, local, "js/app.js", "x()")

	store := NewCachedStore(origin, local, DefaultCacheConfig(), nil)
	got, err := blobrepo.ReadAll(ctx, store, "js/app.js")
	require.NoError(t, err)
	assert.Equal(t, "x()", string(got))
	assert.Equal(t, 0, origin.opens())
	assert.Equal(t, uint64(1), store.Metrics().LocalHits)
}

func TestCachedStoreWriteThrough(t *testing.T) {
	ctx := context.Background()
	origin := newFakeOriginStore()
	local := blobrepo.NewDiskStore(t.TempDir())
	store := NewCachedStore(origin, local, CacheConfig{BlobTTL: time.Minute, BlobMaxEntries: 4, BlobMaxBytes: 1024}, nil)

	_, err := store.Save(ctx, "a.css", []byte("new"))
	require.NoError(t, err)
	got, err := blobrepo.ReadAll(ctx, store, "a.css")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
	assert.Equal(t, 0, origin.opens())

	origin.failSave = true
	_, err = store.Save(ctx, "b.css", []byte("bad"))
	require.Error(t, err)
	ok, err := store.Exists(ctx, "b.css")
	require.NoError(t, err)
	assert.False(t, ok, "failed writes must not reach the caches")
}

func TestCachedStoreDeleteAndPath(t *testing.T) {
	ctx := context.Background()
	origin := newFakeOriginStore()
	seed(t, origin.MemoryStore, "img/x.png", "png")
	local := blobrepo.NewDiskStore(t.TempDir())
	store := NewCachedStore(origin, local, DefaultCacheConfig(), nil)

	p, err := store.Path("img/x.png")
	require.NoError(t, err)
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "png", string(raw))

	require.NoError(t, store.Delete(ctx, "img/x.png"))
	ok, err := store.Exists(ctx, "img/x.png")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}
