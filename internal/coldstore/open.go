package coldstore

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/config"
)

// Open builds the cold store selected by the cold_storage section. The S3
// backend is guarded by a circuit breaker unless breaker_failures is zero.
func Open(ctx context.Context, c config.ColdStorageConfig, logger *logrus.Entry) (Store, error) {
	switch c.Backend {
	case "", "memory":
		return NewMemStore(), nil
	case "s3":
		cfg, err := S3ConfigFrom(c)
		if err != nil {
			return nil, err
		}
		var opts []S3Option
		if logger != nil {
			opts = append(opts, WithS3Logger(logger))
		}
		s3, err := NewS3Store(ctx, cfg, opts...)
		if err != nil {
			return nil, err
		}
		if c.BreakerFailures == 0 {
			return s3, nil
		}
		return NewGuardedStore(s3, c.BreakerFailures, c.BreakerTimeout, logger), nil
	default:
		return nil, fmt.Errorf("unsupported cold storage backend: %s", c.Backend)
	}
}
