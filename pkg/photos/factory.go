package photos

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/api/option"

	"github.com/mscno/staffsync/pkg/config"
)

// Open returns the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.PhotosConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "", "dir":
		return NewDirStore(cfg.Dir)
	case "bolt":
		return NewBoltStore(cfg.BoltPath)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	case "datastore":
		var opts []option.ClientOption
		if host := os.Getenv("DATASTORE_EMULATOR_HOST"); host != "" {
			opts = append(opts, option.WithEndpoint(host), option.WithoutAuthentication())
		}
		return NewDatastoreStore(ctx, cfg.ProjectID, cfg.Kind, opts...)
	default:
		return nil, fmt.Errorf("unknown photo backend %q", cfg.Backend)
	}
}
