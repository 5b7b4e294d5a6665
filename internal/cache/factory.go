package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// NewFileStore creates a disk store based on the cache type.
func NewFileStore(kind, path, source string, limit int64, log *slog.Logger) (FileStore, error) {
	if log == nil {
		log = slog.Default()
	}

	switch kind {
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite file cache requires a path")
		}
		log.Info("using sqlite file cache", "path", path, "source", source, "limit_bytes", limit)
		return OpenFileCache(path, source, limit)
	case "disabled", "":
		log.Info("file cache disabled")
		return NoopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: sqlite, disabled)", kind)
	}
}

// NoopStore is a FileStore that stores nothing.
type NoopStore struct{}

func (NoopStore) Get(ctx context.Context, addr tile.Address) (Entry, error) {
	return Entry{}, fmt.Errorf("%w: %s", ErrCacheMiss, addr)
}

func (NoopStore) Store(ctx context.Context, addr tile.Address, data []byte, etag string) error {
	return nil
}

func (NoopStore) Touch(ctx context.Context, addr tile.Address) error {
	return nil
}

func (NoopStore) Purge(ctx context.Context) (int, error) {
	return 0, nil
}

func (NoopStore) Size(ctx context.Context) (int64, error) {
	return 0, nil
}

func (NoopStore) Close() error {
	return nil
}
