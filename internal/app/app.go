package app

import (
	"context"

	"github.com/johnrirwin/feedwatch/internal/config"
	"github.com/johnrirwin/feedwatch/internal/engine"
	"github.com/johnrirwin/feedwatch/internal/eventlog"
	"github.com/johnrirwin/feedwatch/internal/feeds"
	"github.com/johnrirwin/feedwatch/internal/httpapi"
	"github.com/johnrirwin/feedwatch/internal/ledger"
	"github.com/johnrirwin/feedwatch/internal/logging"
	"github.com/johnrirwin/feedwatch/internal/models"
	"github.com/johnrirwin/feedwatch/internal/notifier"
	"github.com/johnrirwin/feedwatch/internal/ratelimit"
	"github.com/johnrirwin/feedwatch/internal/scheduler"
	"github.com/johnrirwin/feedwatch/internal/storage"
)

// App holds all application dependencies
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	Store      storage.Store
	Engine     *engine.Engine
	Scheduler  *scheduler.Scheduler
	HTTPServer *httpapi.Server

	redisStore    *storage.RedisStore
	notify        notifier.Notifier
	push          *notifier.WebPushNotifier
	updateLimiter ratelimit.RateLimiter
}

// New creates and initializes a new App instance
func New(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	app.Logger = app.initLogger()
	app.Store = app.initStore()

	// One limiter spaces requests per upstream host across all adapters
	limiter := ratelimit.New(cfg.Feeds.RateLimitDur)

	feedsConfig := feeds.Config{
		Timeout:        cfg.Feeds.RequestTimeout,
		UserAgent:      cfg.Feeds.UserAgent,
		RedditBaseURL:  cfg.Feeds.RedditBaseURL,
		CreatorBaseURL: cfg.Feeds.CreatorBaseURL,
	}

	reddit := feeds.NewRedditManager("", limiter, feedsConfig)
	rss := feeds.NewRSSManager(limiter, feedsConfig)
	creator := feeds.NewCreatorManager("", limiter, feedsConfig)

	unread := ledger.New(app.Store)
	events := eventlog.New(app.Store)

	app.initNotifier()

	app.Engine = engine.New(reddit, rss, creator, app.Store, unread, events, app.Logger, func(periodMinutes int) {
		if err := app.Scheduler.Reschedule(periodMinutes); err != nil {
			app.Logger.Error("Failed to reschedule updates", logging.WithField("error", err.Error()))
		}
	})

	app.Scheduler = scheduler.New(app.runUpdate, app.Logger)

	app.HTTPServer = httpapi.New(app.Engine, app.notify, app.push, app.updateLimiter, app.Logger)

	return app, nil
}

// Run starts the update timer and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	settings, err := a.Engine.Settings(ctx)
	if err != nil {
		a.Logger.Warn("Failed to load settings, using defaults", logging.WithField("error", err.Error()))
		settings = models.DefaultSettings()
	}
	if settings.UpdatePeriodMinutes < 1 {
		settings.UpdatePeriodMinutes = a.Config.Feeds.UpdatePeriodMinutes
	}

	if err := a.Scheduler.Start(settings.UpdatePeriodMinutes); err != nil {
		return err
	}
	a.Logger.Info("Update timer started", logging.WithField("periodMinutes", settings.UpdatePeriodMinutes))

	return a.HTTPServer.Start(a.Config.Server.HTTPAddr)
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTP server shutdown error", logging.WithField("error", err.Error()))
		}
	}

	if a.redisStore != nil {
		if err := a.redisStore.Close(); err != nil {
			a.Logger.Error("Redis close error", logging.WithField("error", err.Error()))
		}
	}

	return nil
}

// runUpdate is the timer job: one synchronization cycle plus a push
// notification per new post.
func (a *App) runUpdate() {
	ctx := context.Background()

	posts, unread, err := a.Engine.Update(ctx)
	if err != nil {
		a.Logger.Error("Scheduled update failed", logging.WithField("error", err.Error()))
		return
	}

	for _, post := range posts {
		a.notify.Notify(ctx, post)
	}

	a.Logger.Info("Scheduled update complete", logging.WithFields(map[string]interface{}{
		"new":    len(posts),
		"unread": unread,
	}))
}

func (a *App) initLogger() *logging.Logger {
	level := logging.LevelInfo
	switch a.Config.Logging.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.New(level)
}

func (a *App) initStore() storage.Store {
	switch a.Config.Storage.Backend {
	case "redis":
		a.Logger.Info("Using Redis storage backend", logging.WithField("addr", a.Config.Storage.RedisAddr))
		redisStore, err := storage.NewRedis(storage.RedisConfig{
			Addr:     a.Config.Storage.RedisAddr,
			Password: a.Config.Storage.RedisPassword,
			DB:       a.Config.Storage.RedisDB,
			Prefix:   a.Config.Storage.RedisPrefix,
		})
		if err != nil {
			a.Logger.Error("Failed to connect to Redis, falling back to memory storage", logging.WithField("error", err.Error()))
			a.updateLimiter = ratelimit.New(a.Config.Server.UpdateCooldown)
			return storage.NewMemory()
		}
		// Use Redis for distributed rate limiting when available
		a.redisStore = redisStore
		a.updateLimiter = ratelimit.NewRedis(redisStore.Client(), "ratelimit:update:", a.Config.Server.UpdateCooldown)
		a.Logger.Info("Using Redis for distributed rate limiting")
		return redisStore
	default:
		a.Logger.Info("Using in-memory storage backend")
		a.updateLimiter = ratelimit.New(a.Config.Server.UpdateCooldown)
		return storage.NewMemory()
	}
}

func (a *App) initNotifier() {
	vapid := notifier.VAPIDConfig{
		PublicKey:    a.Config.Push.VAPIDPublicKey,
		PrivateKey:   a.Config.Push.VAPIDPrivateKey,
		ContactEmail: a.Config.Push.ContactEmail,
	}

	if vapid.Configured() {
		push, err := notifier.NewWebPush(a.Store, vapid, a.Logger)
		if err != nil {
			a.Logger.Warn("Failed to initialize web push, notifications go to the log", logging.WithField("error", err.Error()))
			a.notify = notifier.NewLog(a.Logger)
			return
		}
		a.Logger.Info("Web push notifications enabled")
		a.push = push
		a.notify = push
		return
	}

	a.Logger.Info("VAPID keys not set, notifications go to the log")
	a.notify = notifier.NewLog(a.Logger)
}
