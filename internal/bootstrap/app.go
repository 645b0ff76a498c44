package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"nexora-chat/internal/app"
	"nexora-chat/internal/cache"
	"nexora-chat/internal/config"
	mysqlClient "nexora-chat/internal/platform/mysql"
	rabbitmqClient "nexora-chat/internal/platform/rabbitmq"
	redisClient "nexora-chat/internal/platform/redis"
	"nexora-chat/internal/repository"
	"nexora-chat/internal/worker"
)

// App holds every long-lived dependency of the serving process. Redis and
// RabbitMQ are only connected when asynchronous ingestion is enabled.
type App struct {
	*Core

	MySQL        *gorm.DB
	Redis        *redis.Client
	MQConn       *amqp.Connection
	IngestWorker *worker.IngestWorker

	Auth      *app.AuthService
	Users     *app.UserService
	Knowledge *app.KnowledgeService

	StartedAt time.Time
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *App, err error) {
	core, err := NewCore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a = &App{Core: core, StartedAt: time.Now()}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN(), core.Logger.Named("gorm"))
	if err != nil {
		return nil, err
	}
	if err = mysqlClient.Migrate(a.MySQL); err != nil {
		return nil, err
	}

	userRepo := repository.NewUserRepository(a.MySQL)
	docRepo := repository.NewKnowledgeDocumentRepository(a.MySQL)

	a.Auth = app.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.JWTExpiration())
	a.Users = app.NewUserService(userRepo, core.Logger.Named("users"))
	a.Knowledge = app.NewKnowledgeService(app.KnowledgeConfig{
		UploadDir:    cfg.Upload.Dir,
		DefaultStore: cfg.RAG.DefaultStore,
		MaxBytes:     cfg.Upload.MaxBytes,
	}, core.Pipeline, docRepo, userRepo, core.Logger)

	seeded, err := a.Users.EnsureAdmin(cfg.Auth.SeedAdminName, cfg.Auth.SeedAdminEmail, cfg.Auth.SeedAdminPassword)
	if err != nil {
		return nil, err
	}
	if seeded {
		core.Logger.Info("seed admin created", zap.String("email", cfg.Auth.SeedAdminEmail))
	}

	if cfg.RAG.AsyncIngest {
		if err = a.startQueue(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) startQueue(ctx context.Context) error {
	cfg := a.Config
	var err error

	a.Redis, err = redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}

	a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
	if err != nil {
		return err
	}

	a.Knowledge.WithQueue(
		rabbitmqClient.NewIngestPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue),
		cache.NewJobTracker(a.Redis, cfg.JobTTL()),
	)

	a.IngestWorker = worker.NewIngestWorker(a.MQConn, a.Knowledge, cfg.RabbitMQ.IngestQueue, a.Logger)
	if err := a.IngestWorker.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start ingest worker failed: %w", err)
	}
	return nil
}

// Close stops the worker before closing the connections it depends on.
func (a *App) Close() error {
	var errs []error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close mysql: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
