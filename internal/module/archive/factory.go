package archive

import (
	"context"
	"fmt"

	"github.com/cosplaymagic/server/internal/shared/config"
)

// New builds the archiver selected by cfg.Driver.
func New(ctx context.Context, cfg *config.ArchiveConfig) (Archiver, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return Noop{}, nil
	case DriverS3:
		return NewS3(ctx, &S3Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Bucket:          cfg.Bucket,
		})
	case DriverMinio:
		m, err := NewMinio(&MinioConfig{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKeyID,
			SecretKey: cfg.SecretAccessKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}
