package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mauri870/aofkv/internal/aof"
	"github.com/mauri870/aofkv/internal/auth"
	"github.com/mauri870/aofkv/internal/backup"
	"github.com/mauri870/aofkv/internal/httpserver"
	"github.com/mauri870/aofkv/internal/kvstore"
	"github.com/mauri870/aofkv/internal/metrics"
	"github.com/mauri870/aofkv/internal/respserver"
	"github.com/mauri870/aofkv/internal/shutdown"
	"github.com/mauri870/aofkv/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// boltLockTimeout bounds the wait for another process holding the bolt file.
const boltLockTimeout = 10 * time.Second

// Run parses rawArgs and serves until ctx is done. ctx is expected to be
// canceled by a termination signal.
func Run(ctx context.Context, rawArgs []string) error {
	var cfg Config

	root := &cobra.Command{
		Use:   "aofkv",
		Short: "An in-memory key-value store backed by an append-only log",
		Long: `aofkv keeps its data in memory, appends every mutation to a local log
that is replayed on startup, and optionally mirrors the log to S3 or a bbolt
file so it survives the loss of the host.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.Dev)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return serve(cmd.Context(), &cfg, logger)
		},
	}
	cfg.bindFlags(root.Flags())
	root.SetArgs(rawArgs)

	return root.ExecuteContext(ctx)
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	return zc.Build()
}

// app is the wired process, ready to serve.
type app struct {
	cfg     *Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	log     *aof.Writer
	backup  backup.Client
	store   *store.Store
	auth    *auth.Authenticator
	closers []func() error
}

// newApp restores the remote snapshot if configured and replays the local log.
// A failed download is logged and startup continues from the local log. A
// failed replay aborts startup.
func newApp(ctx context.Context, cfg *Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		log:     aof.NewWriter(cfg.LogPath(), cfg.Fsync),
	}
	a.closers = append(a.closers, a.log.Close)

	authn, err := auth.New(cfg.AuthTokens)
	if err != nil {
		return nil, err
	}
	a.auth = authn

	if err := a.initBackup(ctx); err != nil {
		a.close()
		return nil, err
	}

	if cfg.Restore {
		if err := a.backup.Download(ctx); err != nil {
			logger.Warn("failed to download log snapshot, continuing with local log", zap.Error(err))
		} else if cfg.Backup != backendNone {
			logger.Info("downloaded log snapshot")
		}
	}

	kv := kvstore.NewMemory()
	stats, err := aof.Load(cfg.LogPath(), kv)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load log: %w", err)
	}
	a.metrics.Replayed(stats.Applied, stats.Skipped, kv.Len())
	logger.Info("log replayed",
		zap.String("path", cfg.LogPath()),
		zap.Int("applied", stats.Applied),
		zap.Int("skipped", stats.Skipped),
		zap.Int("keys", kv.Len()),
	)

	a.store = store.New(kv, a.log, a.metrics, logger)
	return a, nil
}

func (a *app) initBackup(ctx context.Context) error {
	var objects backup.ObjectStore

	switch a.cfg.Backup {
	case backendNone:
		a.logger.Info("remote backup disabled")
		a.backup = backup.Disabled{}
		return nil
	case backendS3:
		s3store, err := backup.NewS3Store(ctx, backup.S3Config{
			Region:       a.cfg.Region,
			Endpoint:     a.cfg.S3Endpoint,
			UsePathStyle: a.cfg.S3PathStyle,
		})
		if err != nil {
			return err
		}
		objects = s3store
	case backendBolt:
		bs, err := backup.OpenBoltStore(a.cfg.BoltPath, boltLockTimeout)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, bs.Close)
		objects = bs
	default:
		return fmt.Errorf("unknown backup backend %q", a.cfg.Backup)
	}

	a.logger.Info("remote backup enabled",
		zap.String("backend", a.cfg.Backup),
		zap.String("bucket", a.cfg.Bucket),
		zap.String("key", a.cfg.ObjectKey),
	)
	a.backup = backup.NewRemote(objects, a.cfg.Bucket, a.cfg.ObjectKey, a.log, a.metrics, a.logger)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}

func serve(sigCtx context.Context, cfg *Config, logger *zap.Logger) error {
	a, err := newApp(sigCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// The servers run on their own context so that the final upload can
	// finish before they are told to stop.
	serveCtx, stop := context.WithCancel(context.Background())
	defer stop()

	go backup.NewScheduler(a.backup, cfg.BackupInterval, logger).Run(serveCtx)
	coordinated := make(chan struct{})
	go func() {
		defer close(coordinated)
		shutdown.New(a.backup.Upload, cfg.ShutdownGrace, logger).Run(sigCtx, serveCtx, stop)
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	runServer := func(name string, run func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// any server exiting ends serving for all of them.
			defer stop()
			if err := run(); err != nil {
				errs <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	if cfg.HTTPAddr != "" {
		srv := httpserver.New(a.store, a.auth, a.metrics, logger)
		logger.Info("Starting HTTP server", zap.String("addr", cfg.HTTPAddr))
		runServer("http", func() error { return srv.Run(serveCtx, cfg.HTTPAddr) })
	}
	if cfg.RESPAddr != "" {
		srv := respserver.New(a.store, a.auth, a.metrics, logger)
		logger.Info("Starting RESP server", zap.String("addr", cfg.RESPAddr))
		runServer("resp", func() error { return srv.Run(serveCtx, cfg.RESPAddr, cfg.IdleTimeout) })
	}

	wg.Wait()
	<-coordinated
	close(errs)
	return <-errs
}
