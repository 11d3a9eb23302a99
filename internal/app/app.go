// Package app 按配置组装流水线的各个组件，供各个命令共用。
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"mailingest/backend/internal/attachment"
	"mailingest/backend/internal/config"
	"mailingest/backend/internal/credential"
	"mailingest/backend/internal/cursor"
	"mailingest/backend/internal/health"
	"mailingest/backend/internal/ingest"
	"mailingest/backend/internal/mailbox"
	"mailingest/backend/internal/monitoring"
	"mailingest/backend/internal/record"
	"mailingest/backend/internal/sink"
	"mailingest/backend/internal/storage/blob"
	"mailingest/backend/internal/storage/postgres"
	"mailingest/backend/internal/storage/redis"
)

// statsTimeout 限制健康详情中对象统计的耗时，GCS 需要分页列出对象
const statsTimeout = 10 * time.Second

// App 持有一次进程生命周期内的全部组件
type App struct {
	Config       *config.Config
	Log          *zap.Logger
	Metrics      *monitoring.Metrics
	Health       *health.HealthChecker
	Credentials  *credential.Manager
	Mailbox      *mailbox.GmailClient
	Cursor       cursor.Store
	Tracker      *cursor.Tracker
	Blobs        blob.Store
	Writer       sink.Writer
	Orchestrator *ingest.Orchestrator

	closers []func() error
}

// New 按配置创建全部组件。任一组件创建失败时，已创建的组件会被关闭。
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: monitoring.NewMetrics(),
		Health:  health.NewHealthChecker(0, log.Named("health")),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, closeStore, err := NewTokenStore(ctx, &cfg.Credential)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	a.onClose(closeStore)

	if a.Credentials, err = NewCredentials(cfg, store, log); err != nil {
		return nil, err
	}
	if a.Mailbox, err = NewMailbox(ctx, cfg, a.Credentials, log); err != nil {
		return nil, err
	}

	if a.Cursor, err = NewCursorStore(ctx, cfg, log); err != nil {
		return nil, fmt.Errorf("cursor store: %w", err)
	}
	a.onClose(a.Cursor.Close)
	a.Tracker = cursor.NewTracker(a.Cursor, a.Mailbox, cfg.Ingest.Retry, log.Named("cursor"))

	if a.Blobs, err = NewBlobStore(ctx, &cfg.Blob); err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	a.onClose(a.Blobs.Close)

	if a.Writer, err = NewWriter(ctx, &cfg.Sink, log); err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	a.onClose(a.Writer.Close)

	persister := attachment.NewPersister(a.Blobs, attachment.Config{
		KeyPrefix:   cfg.Blob.KeyPrefix,
		Concurrency: cfg.Ingest.AttachmentWorkers,
		Retry:       cfg.Ingest.Retry,
	}, log.Named("attachment"))

	a.Orchestrator = ingest.New(ingest.Deps{
		Mailbox:   a.Mailbox,
		Tracker:   a.Tracker,
		Persister: persister,
		Builder:   record.NewBuilder(cfg.Sink.MaxBodyLength),
		Writer:    a.Writer,
		Refresher: a.Credentials,
		Metrics:   a.Metrics,
	}, ingest.Config{
		Workers:            cfg.Ingest.Workers,
		Deadline:           cfg.Ingest.Deadline,
		DeadlineMargin:     cfg.Ingest.DeadlineMargin,
		AckLabel:           cfg.Gmail.AckLabel,
		FallbackMaxResults: cfg.Gmail.FallbackMaxResults,
		BatchSize:          cfg.Sink.BatchSize,
		LockTTL:            cfg.Cursor.LockTTL,
		Retry:              cfg.Ingest.Retry,
	}, log.Named("ingest"))

	a.registerChecks()
	return a, nil
}

// NewTokenStore 创建 OAuth 令牌存储，返回的关闭函数总是非 nil
func NewTokenStore(ctx context.Context, cfg *config.CredentialConfig) (credential.TokenStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "secretmanager":
		s, err := credential.NewSecretManagerStore(ctx, cfg.Project, cfg.SecretID)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case "keyring":
		s, err := credential.NewKeyringStore(credential.KeyringConfig{
			Key:          cfg.SecretID,
			FileDir:      cfg.KeyringDir,
			FilePassword: cfg.KeyringPassword,
			FileOnly:     cfg.KeyringFileOnly,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown credential backend %q", cfg.Backend)
	}
}

// NewCredentials 从客户端凭据文件和令牌存储创建令牌管理器
func NewCredentials(cfg *config.Config, store credential.TokenStore, log *zap.Logger) (*credential.Manager, error) {
	oauth, err := credential.LoadOAuthConfig(cfg.Gmail.ClientSecretFile, cfg.Gmail.Scopes...)
	if err != nil {
		return nil, err
	}
	return credential.NewManager(oauth, store, log.Named("credential")), nil
}

// NewMailbox 创建使用令牌管理器鉴权的 Gmail 客户端
func NewMailbox(ctx context.Context, cfg *config.Config, tokens *credential.Manager, log *zap.Logger) (*mailbox.GmailClient, error) {
	return mailbox.NewGmailClient(ctx, mailbox.Config{
		User:              cfg.Gmail.User,
		Label:             cfg.Gmail.Label,
		RequestsPerSecond: cfg.Gmail.RequestsPerSecond,
		Burst:             cfg.Gmail.Burst,
		BreakerTimeout:    cfg.Gmail.BreakerTimeout,
		BreakerFailures:   cfg.Gmail.BreakerFailures,
	}, log.Named("gmail"), option.WithTokenSource(tokens))
}

// NewCursorStore 按配置创建检查点存储
func NewCursorStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (cursor.Store, error) {
	switch cfg.Cursor.Backend {
	case "redis":
		client, err := redis.New(ctx, &cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		return cursor.NewRedisStore(client, cfg.Cursor.Key), nil
	case "postgres":
		client, err := postgres.New(ctx, &cfg.Database, log)
		if err != nil {
			return nil, err
		}
		s, err := cursor.NewPostgresStore(ctx, client, cfg.Cursor.Key)
		if err != nil {
			client.Close()
			return nil, err
		}
		return s, nil
	case "sqlite":
		return cursor.NewSQLiteStore(cfg.Cursor.Path, cfg.Cursor.Key)
	case "memory":
		log.Warn("using in-memory cursor store, position is lost on restart")
		return cursor.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cursor backend %q", cfg.Cursor.Backend)
	}
}

// NewBlobStore 按配置创建附件存储
func NewBlobStore(ctx context.Context, cfg *config.BlobConfig) (blob.Store, error) {
	switch cfg.Backend {
	case "gcs":
		return blob.NewGCSStore(ctx, cfg.Bucket, cfg.PublicURLBase)
	case "filesystem":
		return blob.NewFileStore(cfg.BasePath)
	case "memory":
		return blob.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// NewWriter 按配置创建记录写入端
func NewWriter(ctx context.Context, cfg *config.SinkConfig, log *zap.Logger) (sink.Writer, error) {
	log = log.Named("sink")
	switch cfg.Backend {
	case "bigquery":
		return sink.NewBigQueryWriter(ctx, cfg.Project, cfg.Dataset, cfg.Table, log)
	case "postgres":
		return sink.NewPostgresWriter(cfg.DSN, cfg.Table, log)
	case "mysql":
		return sink.NewMySQLWriter(cfg.DSN, cfg.Table, log)
	case "memory":
		log.Warn("using in-memory sink, records are not persisted")
		return sink.NewMemoryWriter(), nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}

// registerChecks 注册就绪检查
func (a *App) registerChecks() {
	a.Health.AddReadinessCheck("blob", a.Blobs.Ping)
	a.Health.AddReadinessCheck("sink", a.Writer.Ping)
	a.Health.AddReadinessCheck("cursor", func(ctx context.Context) error {
		_, err := a.Cursor.Load(ctx)
		return err
	})
	a.Health.AddDetail("cursor", func() (interface{}, error) {
		return a.Cursor.Load(context.Background())
	})
	if sr, ok := a.Blobs.(blob.StatsReporter); ok {
		prefix := a.Config.Blob.KeyPrefix
		a.Health.AddDetail("blob_storage", func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
			defer cancel()
			return sr.Stats(ctx, prefix)
		})
	}
}

// SeedCursor 在没有游标时用监听返回的历史位置初始化游标
func (a *App) SeedCursor(ctx context.Context, position uint64) (bool, error) {
	cur, err := a.Tracker.Current(ctx)
	if err != nil {
		return false, err
	}
	if !cur.IsZero() || position == 0 {
		return false, nil
	}
	return a.Tracker.Commit(ctx, position)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close 按创建的相反顺序关闭组件
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
