package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/lazypower/foresight/internal/archive"
	"github.com/lazypower/foresight/internal/cachestore"
	"github.com/lazypower/foresight/internal/config"
	"github.com/lazypower/foresight/internal/engine"
	"github.com/lazypower/foresight/internal/logging"
	"github.com/lazypower/foresight/internal/store"
	"github.com/lazypower/foresight/internal/tier"
)

var configPath string

// runtime is everything a command needs, plus what it must close.
type runtime struct {
	cfg     *config.Config
	engine  *engine.Engine
	dbPath  string
	closers []io.Closer
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			logging.Warn().Err(err).Msg("close")
		}
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// openRuntime loads config, configures logging, and opens every tier the
// config selects. A fast or archival backend that cannot be opened is logged
// and left out; the durable database is required.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Timestamp: true,
	})

	rt := &runtime{cfg: cfg}

	rt.dbPath = cfg.Database.Path
	if rt.dbPath == "" {
		rt.dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(rt.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.closers = append(rt.closers, db)

	fast, err := openFast(ctx, cfg, rt)
	if err != nil {
		logging.Warn().Err(err).Str("driver", cfg.Fast.Driver).Msg("fast tier disabled")
	}
	blobs, err := openArchive(ctx, cfg, rt.dbPath)
	if err != nil {
		logging.Warn().Err(err).Str("driver", cfg.Archive.Driver).Msg("archival tier disabled")
	}

	rt.engine, err = engine.New(db, fast, blobs, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// openFast returns a nil interface, never a typed nil, when the tier is off.
func openFast(ctx context.Context, cfg *config.Config, rt *runtime) (tier.FastStore, error) {
	switch cfg.Fast.Driver {
	case "redis":
		r, err := cachestore.NewRedis(ctx, cachestore.RedisOptions{
			Addr:     cfg.Fast.RedisAddr,
			Password: cfg.Fast.RedisPassword,
			DB:       cfg.Fast.RedisDB,
			Prefix:   cfg.Fast.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, r)
		return r, nil
	default:
		b, err := cachestore.OpenBadger(cfg.Fast.BadgerDir)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, b)
		return b, nil
	}
}

func openArchive(ctx context.Context, cfg *config.Config, dbPath string) (tier.ArchivalStore, error) {
	switch cfg.Archive.Driver {
	case "s3":
		s, err := archive.NewS3FromEnv(ctx, cfg.Archive.Region, cfg.Archive.Bucket, cfg.Archive.Prefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		dir := cfg.Archive.LocalDir
		if dir == "" {
			dir = filepath.Join(filepath.Dir(dbPath), "archive")
		}
		l, err := archive.NewLocal(dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}
