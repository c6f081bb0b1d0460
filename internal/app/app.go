package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/bookmirror/internal/config"
	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/folders"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	"github.com/MrSnakeDoc/bookmirror/internal/media"
	"github.com/MrSnakeDoc/bookmirror/internal/oauth"
	"github.com/MrSnakeDoc/bookmirror/internal/redis"
	"github.com/MrSnakeDoc/bookmirror/internal/remote"
	redisstore "github.com/MrSnakeDoc/bookmirror/internal/store/redis"
	"github.com/MrSnakeDoc/bookmirror/internal/store/sqlite"
	"github.com/MrSnakeDoc/bookmirror/internal/syncer"
	"github.com/MrSnakeDoc/bookmirror/internal/version"
)

// App owns every long-lived component. Build it with New, then either Serve
// or Sync, and Close it when done.
type App struct {
	cfg    *config.Config
	logger logger.Logger

	redisClient *goredis.Client
	db          *sqlite.Store
	media       *media.Cache
	sweeper     *media.Sweeper

	auth         *oauth.Authenticator
	mapper       *folders.Mapper
	orchestrator *syncer.Orchestrator
}

// New connects the stores and wires the sync pipeline. Redis and SQLite
// are required; an error here means the process cannot start.
func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: loggerClient}

	loggerClient.Info("connecting to redis", logger.String("addr", cfg.RedisAddr))
	rc, err := redis.Connect(ctx, redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		DB:             cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redisClient = rc

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DatabasePath, err)
	}
	a.db = db
	loggerClient.Info("database ready", logger.String("path", cfg.DatabasePath))

	cache, err := media.New(media.Options{
		Dir:        cfg.MediaDir,
		PublicPath: cfg.MediaPublicPath,
		Workers:    cfg.MediaWorkers,
		MaxBytes:   cfg.MediaMaxBytes,
		HTTPClient: &http.Client{Timeout: cfg.MediaTimeout},
	}, db, loggerClient)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to init media cache: %w", err)
	}
	a.media = cache
	a.sweeper = media.NewSweeper(cache.Dir(), loggerClient, cfg.MediaSweepInterval, cfg.MediaTmpMaxAge)

	apiClient := &http.Client{Timeout: cfg.APITimeout}
	client := remote.NewClient(cfg.APIBaseURL, apiClient, cfg.PageSize, loggerClient)
	tokens := redisstore.NewStore(rc, cfg.Platform)

	a.auth = oauth.New(oauth.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURL:    cfg.RedirectURL,
		AuthURL:        cfg.AuthURL,
		TokenURL:       cfg.TokenURL,
		Scopes:         cfg.Scopes,
		TokenSkew:      cfg.TokenSkew,
		PendingTTL:     cfg.PendingAuthTTL,
		RefreshLockTTL: cfg.RefreshLockTTL,
		HTTPClient:     apiClient,
	}, tokens, client, loggerClient)

	a.mapper = folders.NewMapper(db, cfg.Platform, loggerClient)
	engine := syncer.NewEngine(db, cfg.Platform, loggerClient)
	a.orchestrator = syncer.NewOrchestrator(a.auth, client, engine, cache, a.mapper, tokens, syncer.Options{
		MaxPages:         cfg.MaxPages,
		RateLimitMaxWait: cfg.RateLimitMaxWait,
	}, loggerClient)

	return a, nil
}

// Serve runs the HTTP API and the media sweeper until ctx is cancelled,
// then shuts the server down gracefully.
func (a *App) Serve(ctx context.Context) error {
	a.logger.Infof("🚀 Starting bookmirror %s on %s", version.String(), a.cfg.ListenAddr)

	d := deps.Deps{
		Logger:          a.logger,
		StartTime:       time.Now(),
		Version:         version.Version,
		Commit:          version.Commit,
		BuildDate:       version.BuildDate,
		GoVersion:       version.GoVersion,
		TimeNow:         time.Now,
		AllowedHosts:    a.cfg.AllowedHosts,
		AllowedCIDRS:    a.cfg.AllowedCIDRS,
		TrustProxy:      a.cfg.TrustProxy,
		DefaultUserID:   a.cfg.DefaultUserID,
		Accounts:        a.auth,
		Syncer:          a.orchestrator,
		FolderMapper:    a.mapper,
		RedisClient:     a.redisClient,
		Database:        a.db,
		MediaDir:        a.media.Dir(),
		MediaPublicPath: a.cfg.MediaPublicPath,
		SyncBurst:       a.cfg.SyncBurst,
		SyncRefillPerM:  a.cfg.SyncRefillPerM,
		SecureCookies:   strings.HasPrefix(a.cfg.RedirectURL, "https://"),
	}
	server := httpserver.New(a.cfg, a.logger, d)

	a.sweeper.Start(ctx)
	defer a.sweeper.Stop()
	a.logger.Info("media sweeper started", logger.Duration("interval", a.cfg.MediaSweepInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	return nil
}

// Sync runs one sync for userID (one folder when folderID is set) without
// the HTTP layer.
func (a *App) Sync(ctx context.Context, userID, folderID string) (domain.SyncResult, error) {
	return a.orchestrator.RunSync(ctx, userID, folderID)
}

// Close releases the stores. It is safe on a partially built App.
func (a *App) Close() error {
	var err error
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	if a.redisClient != nil {
		err = multierr.Append(err, a.redisClient.Close())
	}
	return err
}
