package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	memcache "convoy/internal/cache/memory"
	blobrepo "convoy/internal/repository/blob"
)

type Store = blobrepo.Store

type CacheConfig struct {
	BlobTTL        time.Duration
	BlobMaxEntries int
	BlobMaxBytes   int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlobTTL:        5 * time.Minute,
		BlobMaxEntries: 1024,
		BlobMaxBytes:   64 * 1024 * 1024, // 64MiB
	}
}

type MetricsSnapshot struct {
	MemoryHits     uint64
	LocalHits      uint64
	Misses         uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
	LocalErr       uint64
}

type Metrics struct {
	memoryHits     atomic.Uint64
	localHits      atomic.Uint64
	misses         atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
	localErr       atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		MemoryHits:     m.memoryHits.Load(),
		LocalHits:      m.localHits.Load(),
		Misses:         m.misses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
		LocalErr:       m.localErr.Load(),
	}
}

// CachedStore fronts a remote origin with a local disk mirror and an
// in-memory LRU. Reads are served from memory, then the mirror, then the
// origin; origin reads fill both layers. Writes go to the origin first and are
// mirrored afterwards.
type CachedStore struct {
	origin Store
	local  *blobrepo.DiskStore
	logger *zap.Logger

	blobCache *memcache.LRUTTL[string, []byte]
	metrics   Metrics
}

func NewCachedStore(origin Store, local *blobrepo.DiskStore, cfg CacheConfig, logger *zap.Logger) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.BlobTTL <= 0 {
		cfg.BlobTTL = def.BlobTTL
	}
	if cfg.BlobMaxEntries <= 0 {
		cfg.BlobMaxEntries = def.BlobMaxEntries
	}
	if cfg.BlobMaxBytes < 0 {
		cfg.BlobMaxBytes = def.BlobMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		origin:    origin,
		local:     local,
		logger:    logger,
		blobCache: memcache.NewLRUTTL[string, []byte](cfg.BlobMaxEntries, cfg.BlobMaxBytes, cfg.BlobTTL),
	}
}

func (s *CachedStore) Exists(ctx context.Context, name string) (bool, error) {
	key, err := blobrepo.CleanName(name)
	if err != nil {
		return false, err
	}
	if _, ok := s.blobCache.Get(key); ok {
		return true, nil
	}
	if s.local != nil {
		if ok, err := s.local.Exists(ctx, key); err == nil && ok {
			return true, nil
		}
	}
	return s.origin.Exists(ctx, key)
}

func (s *CachedStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	raw, err := s.read(ctx, name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *CachedStore) read(ctx context.Context, name string) ([]byte, error) {
	key, err := blobrepo.CleanName(name)
	if err != nil {
		return nil, err
	}
	if raw, ok := s.blobCache.Get(key); ok {
		s.metrics.memoryHits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	if s.local != nil {
		raw, err := blobrepo.ReadAll(ctx, s.local, key)
		if err == nil {
			s.metrics.localHits.Add(1)
			s.remember(key, raw)
			return raw, nil
		}
		if !errors.Is(err, blobrepo.ErrNotFound) {
			s.metrics.localErr.Add(1)
			s.logger.Warn("local cache read failed", zap.String("name", key), zap.Error(err))
		}
	}
	s.metrics.misses.Add(1)
	s.metrics.originReads.Add(1)

	raw, err := blobrepo.ReadAll(ctx, s.origin, key)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.mirror(ctx, key, raw)
	s.remember(key, raw)
	return raw, nil
}

// Save keeps an unmodified copy in the mirror; some origins transform the
// payload on upload.
func (s *CachedStore) Save(ctx context.Context, name string, content []byte) (string, error) {
	s.metrics.originWrites.Add(1)
	copied := append([]byte(nil), content...)
	stored, err := s.origin.Save(ctx, name, content)
	if err != nil {
		s.metrics.originWriteErr.Add(1)
		return "", err
	}
	s.mirror(ctx, stored, copied)
	s.remember(stored, copied)
	return stored, nil
}

func (s *CachedStore) Delete(ctx context.Context, name string) error {
	key, err := blobrepo.CleanName(name)
	if err != nil {
		return err
	}
	s.blobCache.Delete(key)
	if s.local != nil {
		if err := s.local.Delete(ctx, key); err != nil {
			s.metrics.localErr.Add(1)
			s.logger.Warn("local cache delete failed", zap.String("name", key), zap.Error(err))
		}
	}
	return s.origin.Delete(ctx, key)
}

func (s *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.origin.List(ctx, prefix)
}

// Path exposes the local mirror location, filling the mirror on demand.
func (s *CachedStore) Path(name string) (string, error) {
	if s.local == nil {
		return "", fmt.Errorf("cached store has no local mirror")
	}
	key, err := blobrepo.CleanName(name)
	if err != nil {
		return "", err
	}
	ctx := context.Background()
	if ok, _ := s.local.Exists(ctx, key); !ok {
		raw, err := s.read(ctx, key)
		if err != nil {
			return "", err
		}
		s.mirror(ctx, key, raw)
	}
	return s.local.Path(key)
}

func (s *CachedStore) mirror(ctx context.Context, key string, raw []byte) {
	if s.local == nil {
		return
	}
	if _, err := s.local.Save(ctx, key, raw); err != nil {
		s.metrics.localErr.Add(1)
		s.logger.Warn("local cache write failed", zap.String("name", key), zap.Error(err))
	}
}

func (s *CachedStore) remember(key string, raw []byte) {
	copied := append([]byte(nil), raw...)
	s.blobCache.Set(strings.TrimSpace(key), copied, len(copied))
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}
