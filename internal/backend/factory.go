package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dailybudget/internal/ledger/memory"
	"dailybudget/internal/ledger/postgres"
	applog "dailybudget/internal/log"
	"dailybudget/internal/pointer"
	"dailybudget/internal/storage"
)

const redisPingTimeout = 5 * time.Second

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger   *applog.Logger
	newRedis func(*redis.Options) redis.UniversalClient
}

// FactoryOption customizes a DefaultFactory.
type FactoryOption func(*DefaultFactory)

// WithRedisClient replaces how the redis client is built.
func WithRedisClient(fn func(*redis.Options) redis.UniversalClient) FactoryOption {
	return func(f *DefaultFactory) { f.newRedis = fn }
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger, opts ...FactoryOption) Factory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	f := &DefaultFactory{
		logger: logger.WithComponent(applog.ComponentBackend),
		newRedis: func(o *redis.Options) redis.UniversalClient {
			return redis.NewClient(o)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res := &BackendResult{Pings: map[string]PingFunc{}}
	var closers []func() error

	var sqliteRepo *storage.SQLiteRepository
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		sqliteRepo = repo
		res.Store = repo
		closers = append(closers, repo.Close)
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath, "schema_version", repo.SchemaVersion())

	case PostgresBackend:
		store, err := postgres.Open(ctx, config.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		res.Store = store
		closers = append(closers, store.Close)
		f.logger.Info("Initialized postgres backend",
			"max_open_conns", config.Postgres.MaxOpenConns,
			"query_timeout", config.Postgres.QueryTimeout)

	case MemoryBackend:
		res.Store = memory.New()
		f.logger.Info("Initialized memory backend")

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	res.Pings["store"] = res.Store.Ping

	ptrType := config.Pointer.resolve(config.Type)
	switch ptrType {
	case SQLitePointer:
		res.Pointer = sqliteRepo.Pointer()

	case RedisPointer:
		client := f.newRedis(&redis.Options{
			Addr:         config.RedisAddr,
			Password:     config.RedisPassword,
			DB:           config.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			client.Close()
			closeAll(closers)
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
		}
		res.Pointer = pointer.NewRedis(client, config.RedisPrefix)
		res.Pings["pointer"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		closers = append(closers, client.Close)

	default:
		res.Pointer = pointer.NewMemory()
	}
	f.logger.Info("Initialized active account pointer", "pointer", ptrType.String())

	res.Cleanup = func() error { return closeAll(closers) }
	return res, nil
}

// closeAll releases resources in reverse order of acquisition.
func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
