package app

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	blobcache "convoy/internal/cache/blob"
	"convoy/internal/config"
	blobrepo "convoy/internal/repository/blob"
)

func openStore(cfg *config.Config, logger *zap.Logger) (blobrepo.Store, io.Closer, error) {
	st := cfg.Storage
	switch st.Backend {
	case "memory":
		logger.Info("blob store: in-memory")
		return blobrepo.NewMemoryStore(), nil, nil
	case "disk", "":
		logger.Info("blob store: disk", zap.String("root", st.Root))
		return blobrepo.NewDiskStore(st.Root), nil, nil
	case "s3":
		s3Store, err := blobrepo.NewS3Store(blobrepo.S3Config{
			Endpoint:     st.S3.Endpoint,
			Region:       st.S3.Region,
			AccessKey:    st.S3.AccessKey,
			SecretKey:    st.S3.SecretKey,
			Bucket:       st.S3.Bucket,
			Prefix:       st.S3.Prefix,
			UseSSL:       st.S3.UseSSL,
			CacheControl: st.S3.CacheControl,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize s3 store: %w", err)
		}
		logger.Info("blob store: s3", zap.String("bucket", st.S3.Bucket), zap.String("endpoint", st.S3.Endpoint))
		return chooseCachedStore(cfg, s3Store, logger), nil, nil
	case "postgres":
		pg, err := blobrepo.OpenPostgresStore(st.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		logger.Info("blob store: postgres")
		return chooseCachedStore(cfg, pg, logger), pg, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrImproperlyConfigured, st.Backend)
}

// chooseCachedStore fronts a remote origin with the read-through cache. The
// local mirror is only attached when a cache root is configured.
func chooseCachedStore(cfg *config.Config, origin blobrepo.Store, logger *zap.Logger) blobrepo.Store {
	var local *blobrepo.DiskStore
	if root := strings.TrimSpace(cfg.Storage.LocalCacheRoot); root != "" {
		local = blobrepo.NewDiskStore(root)
	}
	return blobcache.NewCachedStore(origin, local, blobcache.DefaultCacheConfig(), logger.Named("cache"))
}
