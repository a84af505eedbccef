// Package config builds a prefstore.Store from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"code.byted.org/khicago/prefstore"
	"code.byted.org/khicago/prefstore/drivers/file"
	gormdriver "code.byted.org/khicago/prefstore/drivers/gorm"
	redisdriver "code.byted.org/khicago/prefstore/drivers/redis"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQL    = "sql"

	dbTypePostgresql = "psql"
	dbTypeMysql      = "mysql"
	dbTypeSqlite     = "sqlite"
)

// Config for a prefstore Store.
type Config struct {
	RootNamespace string   `env:"PREFSTORE_ROOT_NAMESPACE" envDefault:"prefstore"`
	Suites        []string `env:"PREFSTORE_SUITES" envSeparator:"," envDefault:"Common"`
	Codec         string   `env:"PREFSTORE_CODEC" envDefault:"json"`
	LogLevel      string   `env:"PREFSTORE_LOG_LEVEL" envDefault:"info"`
	LogTag        string   `env:"PREFSTORE_LOG_TAG"`

	Backend      string `env:"PREFSTORE_BACKEND" envDefault:"memory"`
	FilePath     string `env:"PREFSTORE_FILE_PATH" envDefault:"settings.toml"`
	RedisURL     string `env:"PREFSTORE_REDIS_URL"`
	DatabaseType string `env:"PREFSTORE_DATABASE_TYPE" envDefault:"sqlite"`
	DatabaseDSN  string `env:"PREFSTORE_DATABASE_DSN" envDefault:"settings.db"`
}

// ParseConfig parses environment variables to a Config.
func ParseConfig() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Open builds a Store for cfg. The returned close function releases the
// backend and must be called once the store is no longer used.
func Open(cfg Config) (*prefstore.Store, func() error, error) {
	codec, err := newCodec(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log).WithField("backend", cfg.Backend)

	driver, closeFn, err := newDriver(cfg)
	if err != nil {
		return nil, nil, err
	}

	store := prefstore.New(
		prefstore.WithDriver(driver),
		prefstore.WithCodec(codec),
		prefstore.WithLogger(prefstore.NewLogrusLogger(entry)),
		prefstore.WithLogTag(cfg.LogTag),
		prefstore.WithRootNamespace(cfg.RootNamespace),
		prefstore.WithSuites(cfg.Suites...),
	)
	entry.WithField("suites", store.Suites()).Debug("settings store opened")
	return store, closeFn, nil
}

func newCodec(name string) (prefstore.Codec, error) {
	switch name {
	case "", "json":
		return prefstore.JSONCodec{}, nil
	case "cbor":
		return prefstore.NewCBORCodec()
	case "proto":
		return prefstore.ProtoCodec{}, nil
	}
	return nil, fmt.Errorf("config: codec '%s' not supported", name)
}

func newDriver(cfg Config) (prefstore.Driver, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendMemory:
		return prefstore.NewMemory(), noop, nil

	case BackendFile:
		d, err := file.Open(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return d, noop, nil

	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, nil, fmt.Errorf("config: backend set to redis but PREFSTORE_REDIS_URL is empty")
		}
		pool := redisdriver.NewPool(cfg.RedisURL)
		return redisdriver.New(pool), pool.Close, nil

	case BackendSQL:
		db, err := openDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		d, err := gormdriver.New(db)
		if err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return d, sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("config: backend '%s' not supported", cfg.Backend)
}

func openDB(cfg Config) (*gorm.DB, error) {
	var d gorm.Dialector
	switch cfg.DatabaseType {
	case dbTypePostgresql:
		d = postgres.Open(cfg.DatabaseDSN)
	case dbTypeMysql:
		d = mysql.Open(cfg.DatabaseDSN)
	case dbTypeSqlite:
		d = sqlite.Open(cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("config: database type '%s' not supported", cfg.DatabaseType)
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("config: failed to open database: %w", err)
	}
	return db, nil
}
