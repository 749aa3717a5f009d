package app

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/agentstation/zenginsync"
	"github.com/agentstation/zenginsync/internal/blob"
	"github.com/agentstation/zenginsync/internal/blob/s3"
	"github.com/agentstation/zenginsync/internal/config"
	"github.com/agentstation/zenginsync/internal/dispatch"
	"github.com/agentstation/zenginsync/internal/lock"
	"github.com/agentstation/zenginsync/internal/mirror"
	"github.com/agentstation/zenginsync/internal/notify"
	"github.com/agentstation/zenginsync/internal/runstore"
	"github.com/agentstation/zenginsync/internal/runstore/dynamo"
	"github.com/agentstation/zenginsync/internal/scheduler"
	"github.com/agentstation/zenginsync/internal/secrets"
	"github.com/agentstation/zenginsync/internal/sources/zengincode"
	"github.com/agentstation/zenginsync/internal/transport"
	"github.com/agentstation/zenginsync/pkg/errors"
)

type builtClient struct {
	client  zenginsync.Client
	closers []io.Closer
}

// buildClient wires every collaborator selected by cfg.
func buildClient(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*builtClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.DatabaseConfigured() {
		return nil, errors.NewConfigError("database", "database_url or database_secret_arn required", nil)
	}

	resolver, err := newResolver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	db := mirror.NewLazy(func(ctx context.Context) (*mirror.DB, error) {
		dsn, err := databaseDSN(ctx, cfg, resolver)
		if err != nil {
			return nil, err
		}
		return mirror.Open(ctx, dsn)
	})
	out := &builtClient{closers: []io.Closer{db}}

	cutover, loc, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}

	opts := []zenginsync.Option{
		zenginsync.WithSource(newSource(cfg)),
		zenginsync.WithMirror(db),
		zenginsync.WithEnvironment(cfg.Environment),
		zenginsync.WithCutover(cutover),
		zenginsync.WithLocation(loc),
		zenginsync.WithDuplicateWindow(cfg.DuplicateWindow),
		zenginsync.WithRetry(cfg.RetryPolicy()),
	}

	runs, err := newRunStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg, resolver, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		zenginsync.WithRunStore(runs),
		zenginsync.WithBlobStore(blobs),
		zenginsync.WithNotifier(notifier),
	)

	if cfg.SchedulerRoleARN != "" && cfg.ExecuteTargetARN != "" {
		s, err := scheduler.NewEventBridge(ctx, scheduler.EventBridgeConfig{
			Region:    cfg.AWSRegion,
			Group:     cfg.SchedulerGroup,
			TargetARN: cfg.ExecuteTargetARN,
			RoleARN:   cfg.SchedulerRoleARN,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, zenginsync.WithScheduler(s))
	} else {
		logger.Warn().Msg("Scheduler role or execute target not configured, scheduled executions run in process")
	}

	if cfg.DispatchMode == config.DispatchLambda {
		d, err := dispatch.NewLambda(ctx, cfg.AWSRegion, cfg.ExecuteTargetARN)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zenginsync.WithDispatcher(d))
	}

	if cfg.RedisURL != "" {
		r, err := lock.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			// the lock is optional; detection proceeds without it
			logger.Warn().Err(err).Msg("Detection lock unavailable")
		} else {
			out.closers = append(out.closers, r)
			opts = append(opts, zenginsync.WithLocker(r))
		}
	}

	c, err := zenginsync.New(opts...)
	if err != nil {
		return nil, err
	}
	out.client = c

	logger.Debug().
		Str("environment", cfg.Environment).
		Str("run_store", cfg.RunStore).
		Str("blob_driver", cfg.BlobDriver).
		Str("dispatch_mode", cfg.DispatchMode).
		Bool("slack", cfg.SlackEnabled()).
		Msg("Client created")
	return out, nil
}

// newResolver reads secrets from Secrets Manager when any secret ARN is
// configured and from the environment otherwise. Values are cached.
func newResolver(ctx context.Context, cfg *config.Config) (secrets.Resolver, error) {
	if cfg.DatabaseSecretARN == "" && cfg.SlackTokenSecretARN == "" {
		return secrets.NewCache(secrets.Env{}), nil
	}
	m, err := secrets.NewManager(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return secrets.NewCache(m), nil
}

func databaseDSN(ctx context.Context, cfg *config.Config, resolver secrets.Resolver) (string, error) {
	if cfg.DatabaseURL != "" {
		return cfg.DatabaseURL, nil
	}
	raw, err := resolver.Resolve(ctx, cfg.DatabaseSecretARN)
	if err != nil {
		return "", err
	}
	creds, err := mirror.ParseCredentials(raw)
	if err != nil {
		return "", err
	}
	return creds.DSN(cfg.ConnectTimeout), nil
}

func newSource(cfg *config.Config) *zengincode.Source {
	if cfg.SourceDir != "" {
		return zengincode.NewDir(cfg.SourceDir)
	}
	return zengincode.NewHTTP(cfg.SourceURL, nil)
}

func newRunStore(ctx context.Context, cfg *config.Config) (runstore.Store, error) {
	if cfg.RunStore == config.RunStoreMemory {
		return runstore.NewMemory(), nil
	}
	return dynamo.New(ctx, dynamo.Config{
		Region:       cfg.AWSRegion,
		Table:        cfg.DiffTable,
		MessageIndex: cfg.MessageIndex,
		Endpoint:     cfg.DynamoURL,
	})
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.BlobDriver == config.BlobMemory {
		return blob.NewMemory(), nil
	}
	return s3.New(ctx, s3.Config{
		Region:    cfg.AWSRegion,
		Bucket:    cfg.Bucket,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
	})
}

// newNotifier posts to Slack when a bot token is configured. Without one the
// messages are only logged.
func newNotifier(cfg *config.Config, resolver secrets.Resolver, logger *zerolog.Logger) (notify.Notifier, error) {
	if !cfg.SlackEnabled() {
		logger.Warn().Msg("Slack bot token not configured, notifications are logged only")
		return notify.NewMemory(), nil
	}
	if cfg.SlackChannel == "" {
		return nil, errors.NewConfigError("slack", "slack_channel_id required", nil)
	}
	token := transport.StaticToken(cfg.SlackBotToken)
	if cfg.SlackBotToken == "" {
		arn := cfg.SlackTokenSecretARN
		token = func(ctx context.Context) (string, error) {
			return resolver.Resolve(ctx, arn)
		}
	}
	return notify.NewSlack(cfg.SlackChannel, token), nil
}
