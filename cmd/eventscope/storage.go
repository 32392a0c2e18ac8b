package main

import (
	"context"
	"fmt"

	"eventscope/internal/config"
	"eventscope/internal/kv"
	"eventscope/internal/kv/postgres"
	appLog "eventscope/internal/log"
)

// openStore builds the durable key-value backend selected by
// storage.backend. The returned close function may be nil.
func openStore(ctx context.Context, cfg *config.Config, cfgPath string) (kv.Store, func() error, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		appLog.Debug("using in-memory storage; cache and preferences last for this process only")
		return kv.NewMemory(), nil, nil

	case config.BackendFile, "":
		dir := cfg.ResolveStateDir(cfgPath)
		appLog.Debug("using file storage", "dir", dir)
		return kv.NewFile(dir), nil, nil

	case config.BackendPostgres:
		store, err := postgres.New(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres storage: %w", err)
		}
		appLog.Debug("using postgres storage")
		return store, store.Close, nil

	case config.BackendS3:
		store, err := kv.NewS3(ctx, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix, cfg.Storage.S3Region, cfg.Storage.S3Endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("open s3 storage: %w", err)
		}
		appLog.Debug("using s3 storage", "bucket", cfg.Storage.S3Bucket, "prefix", cfg.Storage.S3Prefix)
		return store, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
