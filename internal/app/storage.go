package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/userdir/internal/config"
	"github.com/hitoshi/userdir/internal/database"
	"github.com/hitoshi/userdir/internal/handler"
	"github.com/hitoshi/userdir/internal/repository"
)

// Storage はSTORAGE_DRIVERに応じて構築したリポジトリと疎通確認、後始末をまとめたもの。
type Storage struct {
	Repo    repository.UserRepository
	Checker handler.HealthChecker

	close func() error
}

// Close は下位の接続を閉じる。
func (s *Storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStorage は設定に従ってユーザーリポジトリを構築する。
// 接続の確立は遅延されるため、疎通確認はCheckerで行うこと。
func OpenStorage(cfg *config.Config) (*Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return &Storage{
			Repo:    repository.NewPostgresUserRepo(db),
			Checker: handler.HealthCheckerFunc(func(ctx context.Context) error {
				return database.Ping(ctx, db, cfg.StoragePingTimeout)
			}),
			close:   db.Close,
		}, nil

	case config.StorageDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		repo := repository.NewRedisUserRepo(client, cfg.RedisKeyPrefix)
		return &Storage{
			Repo:    repo,
			Checker: repo,
			close:   client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}
}

// pingStorage はタイムアウト付きでストレージへの疎通を確認する。
func pingStorage(s *Storage, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoragePingTimeout)
	defer cancel()

	if err := s.Checker.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.StorageDriver, err)
	}

	slog.Info("storage connection established", slog.String("driver", cfg.StorageDriver))
	return nil
}
