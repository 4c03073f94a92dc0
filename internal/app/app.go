package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marksync/internal/bookmarks"
	"github.com/MrSnakeDoc/marksync/internal/config"
	"github.com/MrSnakeDoc/marksync/internal/crypto"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/httpserver"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/index"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/nostr"
	"github.com/MrSnakeDoc/marksync/internal/redis"
	"github.com/MrSnakeDoc/marksync/internal/relay"
	"github.com/MrSnakeDoc/marksync/internal/repository"
	"github.com/MrSnakeDoc/marksync/internal/scheduler"
	"github.com/MrSnakeDoc/marksync/internal/sources/relays"
	redisstore "github.com/MrSnakeDoc/marksync/internal/store/redis"
	"github.com/MrSnakeDoc/marksync/internal/version"
	"github.com/MrSnakeDoc/marksync/internal/viewcache"
)

// localStore is the Local Cache Store as the app sees it: Redis or memory.
type localStore interface {
	scheduler.SetStore
	Ping(ctx context.Context) error
}

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	owner       string
	server      *httpserver.Server
	redisClient *goredis.Client
	views       *viewcache.Cache
	toggles     *bookmarks.Coordinator
	sets        *scheduler.SetSync
	watcher     *scheduler.ConnectivityWatcher
	retryLoop   *scheduler.RetryLoop
	sweeper     *scheduler.StaleSweeper
	viewsOn     bool

	// bounds background publishes; cancelled last on shutdown
	base   context.Context
	cancel context.CancelFunc
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Identity: a secret key signs and encrypts, an owner alone is read-only
	var (
		signer nostr.Signer
		p      crypto.Provider = crypto.Unavailable{}
		owner                  = cfg.Owner
	)
	if cfg.SecretKey != "" {
		ks, err := nostr.NewKeySigner(cfg.SecretKey)
		if err != nil {
			loggerClient.Errorf("Invalid MARKSYNC_SECRET_KEY: %v", err)
			os.Exit(1)
		}
		signer = ks
		owner = ks.PublicKey()
		if !cfg.DisableEncryption {
			p = crypto.NewNIP44(ks.PrivateKey())
		}
	} else {
		loggerClient.Warn("no secret key configured, running read-only",
			logger.String("owner", owner))
	}

	endpoints, err := loadRelays(cfg)
	if err != nil {
		loggerClient.Errorf("Failed to load relays: %v", err)
		os.Exit(1)
	}
	pool := relay.NewPool(endpoints, loggerClient.With(logger.String("component", "relay")))
	loggerClient.Info("relay pool initialized",
		logger.Int("relays", pool.Size()))

	// Local Cache Store: Redis when enabled, memory otherwise
	var (
		store       localStore
		storeMode   = "memory"
		redisClient *goredis.Client
	)
	if cfg.RedisEnabled {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		redisClient, err = redis.New(context.Background(), redis.OptionsFromConfig(cfg), loggerClient)
		if err != nil {
			loggerClient.Errorf("Failed to connect to Redis: %v", err)
			os.Exit(1)
		}
		loggerClient.Info("Redis initialized successfully")
		store = redisstore.NewStore(redisClient)
		storeMode = "redis"
	} else {
		loggerClient.Warn("redis disabled, local sets are lost on restart")
		store = index.NewMemoryStore()
	}

	repo := repository.New(pool, signer, p, loggerClient.With(logger.String("component", "repository")), repository.Options{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	views := viewcache.New(cfg.ViewTTL)
	base, cancel := context.WithCancel(context.Background())

	identity := ""
	if signer != nil {
		identity = owner
	}
	toggles := bookmarks.NewCoordinator(base, identity, repo, p, views, loggerClient.With(logger.String("component", "bookmarks")))
	syncLogger := loggerClient.With(logger.String("component", "sets"))
	sets := scheduler.NewSetSync(base, identity, repo, store, p, views, syncLogger, cfg.RetryDelay)

	watcher := scheduler.NewConnectivityWatcher(pool, loggerClient, cfg.ConnectivityInterval, cfg.ReadTimeout)

	// Create manual retry trigger channel
	retryTrigger := make(chan struct{}, 1)
	retryLoop := scheduler.NewRetryLoop(sets, owner, syncLogger, retryTrigger, watcher.Reconnects())

	// Pending records no publish will settle go back to the retry pass
	sweeper := scheduler.NewStaleSweeper(sets, syncLogger, cfg.SweepInterval, cfg.StaleAfter)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AllowedHosts: cfg.AllowedHosts,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
		RateLimit:    cfg.RateLimit,
		Owner:        owner,
		CanEncrypt:   p.CanEncrypt(),
		Bookmarks:    toggles,
		Sets:         sets,
		Watcher:      watcher,
		Store:        store,
		StoreMode:    storeMode,
		Relays:       pool,
		RelayCount:   pool.Size(),
		RetryTrigger: retryTrigger,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		owner:       owner,
		server:      server,
		redisClient: redisClient,
		views:       views,
		toggles:     toggles,
		sets:        sets,
		watcher:     watcher,
		retryLoop:   retryLoop,
		sweeper:     sweeper,
		base:        base,
		cancel:      cancel,
	}
}

// loadRelays reads the relay file when configured, the MARKSYNC_RELAYS list
// otherwise.
func loadRelays(cfg *config.Config) ([]relay.Endpoint, error) {
	mapper := relays.NewMapper()
	if cfg.RelaysFile == "" {
		return mapper.FromList(cfg.Relays)
	}
	list, err := relays.NewLoader(cfg.RelaysFile).Load()
	if err != nil {
		return nil, err
	}
	return mapper.MapEndpoints(list)
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting marksync v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("marksync %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.views.Start()
	a.viewsOn = true

	// Start connectivity watcher (reconnects trigger a retry pass)
	a.watcher.Start(ctx)
	a.logger.Info("connectivity watcher started",
		logger.Duration("interval", a.cfg.ConnectivityInterval))

	// Start retry loop (recovers interrupted publishes, then the startup pass)
	if err := a.retryLoop.Start(ctx); err != nil {
		return fmt.Errorf("failed to start retry loop: %w", err)
	}
	a.logger.Info("retry loop started", logger.String("owner", a.owner))

	// Start stale pending sweeper
	if err := a.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stale sweeper: %w", err)
	}
	a.logger.Info("stale sweeper started",
		logger.Duration("interval", a.cfg.SweepInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		a.Close()
		return err
	}

	a.retryLoop.Stop()
	a.watcher.Stop()
	a.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	a.drain(shutdownCtx)
	a.Close()

	a.logger.Info("✅ marksync stopped cleanly")
	return nil
}

// drain waits for in-flight publishes until ctx ends. Sets still pending
// afterwards are recovered as Failed on the next start.
func (a *App) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.toggles.Wait()
		a.sets.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout reached with publishes in flight",
			logger.Int("sets", a.sets.InFlight()),
			logger.Int("lists", a.toggles.InFlight()))
	}
}

// RetryOnce recovers interrupted publishes and runs a single retry pass,
// waiting for it to finish.
func (a *App) RetryOnce(ctx context.Context) (scheduler.RetryReport, error) {
	if a.sets.Identity() == "" {
		return scheduler.RetryReport{}, domain.ErrNotAuthenticated
	}
	if _, err := a.sets.RecoverInterrupted(ctx, a.owner); err != nil {
		return scheduler.RetryReport{}, err
	}
	report := a.sets.RunRetryPass(ctx, a.owner)
	a.sets.Wait()
	return report, nil
}

// Sets returns the merged view of the configured owner's sets.
func (a *App) Sets(ctx context.Context) ([]*domain.BookmarkSet, error) {
	return a.sets.Sets(ctx, a.owner)
}

// Close releases the background context, caches and Redis.
func (a *App) Close() {
	a.cancel()
	if a.viewsOn {
		a.views.Stop()
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}
}
