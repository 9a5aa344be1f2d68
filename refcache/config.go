package refcache

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jonwraymond/refcache/observe"
	"github.com/jonwraymond/refcache/preview"
	"github.com/jonwraymond/refcache/store"
	"github.com/jonwraymond/refcache/task"
)

// Config is the environment-driven deployment configuration. Cache
// code takes options; this exists so a host process can stand up a
// fully wired cache from REFCACHE_* variables alone.
type Config struct {
	// DefaultTTL applies to entries stored without one. Zero means
	// entries never expire.
	DefaultTTL time.Duration `env:"REFCACHE_DEFAULT_TTL"`

	// SQLitePath switches storage from memory to a SQLite file.
	SQLitePath     string `env:"REFCACHE_SQLITE_PATH"`
	SQLitePoolSize int    `env:"REFCACHE_SQLITE_POOL_SIZE" envDefault:"4"`

	PreviewMaxSize  int    `env:"REFCACHE_PREVIEW_MAX_SIZE" envDefault:"1000"`
	PreviewStrategy string `env:"REFCACHE_PREVIEW_STRATEGY" envDefault:"sample"`
	PreviewPageSize int    `env:"REFCACHE_PREVIEW_PAGE_SIZE" envDefault:"50"`

	// SizeMode is "characters" or "tokens".
	SizeMode string `env:"REFCACHE_SIZE_MODE" envDefault:"characters"`

	TaskMaxConcurrent int           `env:"REFCACHE_TASK_MAX_CONCURRENT" envDefault:"8"`
	TaskMaxAttempts   int           `env:"REFCACHE_TASK_MAX_ATTEMPTS" envDefault:"1"`
	TaskResultTTL     time.Duration `env:"REFCACHE_TASK_RESULT_TTL" envDefault:"5m"`

	LogEnabled bool   `env:"REFCACHE_LOG_ENABLED" envDefault:"true"`
	LogLevel   string `env:"REFCACHE_LOG_LEVEL" envDefault:"info"`
}

// DefaultConfig returns the configuration used when no REFCACHE_*
// variables are set.
func DefaultConfig() Config {
	return Config{
		SQLitePoolSize:    4,
		PreviewMaxSize:    1000,
		PreviewStrategy:   "sample",
		PreviewPageSize:   50,
		SizeMode:          "characters",
		TaskMaxConcurrent: 8,
		TaskMaxAttempts:   1,
		TaskResultTTL:     5 * time.Minute,
		LogEnabled:        true,
		LogLevel:          "info",
	}
}

// ConfigFromEnv reads configuration from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("refcache: parsing environment: %w", err)
	}
	return cfg, nil
}

// NewFromConfig stands up a cache with its storage and task backends
// built from the configuration. The returned close function releases
// both.
func NewFromConfig(name string, cfg Config, opts ...Option) (*RefCache, func() error, error) {
	var backend store.Backend
	var closeStore func() error

	if cfg.SQLitePath != "" {
		sq, err := store.OpenSQLite(store.SQLiteConfig{
			Path:     cfg.SQLitePath,
			PoolSize: cfg.SQLitePoolSize,
		})
		if err != nil {
			return nil, nil, err
		}
		backend = sq
		closeStore = sq.Close
	} else {
		backend = store.NewMemory()
		closeStore = func() error { return nil }
	}

	pool := task.NewPool(task.Config{
		MaxConcurrent: cfg.TaskMaxConcurrent,
		MaxAttempts:   cfg.TaskMaxAttempts,
		ResultTTL:     cfg.TaskResultTTL,
	})

	logger := observe.NoopLogger()
	if cfg.LogEnabled {
		logger = observe.NewLogger(cfg.LogLevel)
	}

	base := []Option{
		WithBackend(backend),
		WithDefaultTTL(cfg.DefaultTTL),
		WithSizeMode(preview.SizeMode(cfg.SizeMode)),
		WithPreviewDefaults(preview.Config{
			MaxSize:  cfg.PreviewMaxSize,
			Strategy: preview.Strategy(cfg.PreviewStrategy),
			PageSize: cfg.PreviewPageSize,
		}),
		WithTasks(pool),
		WithLogger(logger),
	}

	c, err := New(name, append(base, opts...)...)
	if err != nil {
		pool.Close()
		closeStore()
		return nil, nil, err
	}

	closer := func() error {
		pool.Close()
		return closeStore()
	}
	return c, closer, nil
}
