package cli

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lariat/pkg/cache"
)

// redisAddrEnv selects a shared Redis backend for the index cache. When
// unset, index pages are cached in files under the lariat cache root.
const redisAddrEnv = "LARIAT_REDIS_ADDR"

// newIndexCache returns the cache backing remote repository index pages.
// Caching is best-effort: if neither backend is available the sources
// run uncached.
func newIndexCache(logger *log.Logger) cache.Cache {
	if addr := os.Getenv(redisAddrEnv); addr != "" {
		logger.Debug("using redis index cache", "addr", addr)
		return cache.NewRedisCache(addr, "lariat:index:")
	}

	root, err := cache.DefaultRoot()
	if err == nil {
		fc, ferr := cache.NewFileCache(filepath.Join(root, "index"))
		if ferr == nil {
			return fc
		}
		err = ferr
	}
	logger.Debug("index cache disabled", "err", err)
	return cache.NewNullCache()
}
