package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	mindchat "github.com/set-night/mindchat"
	"github.com/set-night/mindchat/internal/config"
	"github.com/set-night/mindchat/internal/generation"
	"github.com/set-night/mindchat/internal/handler"
	"github.com/set-night/mindchat/internal/metrics"
	"github.com/set-night/mindchat/internal/middleware"
	"github.com/set-night/mindchat/internal/repository"
	"github.com/set-night/mindchat/internal/service"
	"github.com/set-night/mindchat/internal/telegram"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Turn archive
	var (
		archive *repository.TurnArchive
		stats   handler.StatsSource
	)
	if cfg.ArchiveEnabled() {
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		migrationsFS, err := fs.Sub(mindchat.MigrationsFS, "migrations")
		if err != nil {
			slog.Error("failed to load embedded migrations", "error", err)
			os.Exit(1)
		}
		if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		archive = repository.NewTurnArchive(pool)
		stats = archive
	} else {
		slog.Info("turn archive disabled, DATABASE_URL is not set")
	}

	// Generation backend
	gemini, err := generation.NewGemini(ctx, cfg.GeminiAPIKey, cfg.SystemPrompt)
	if err != nil {
		slog.Error("failed to create gemini client", "error", err)
		os.Exit(1)
	}

	workspaces := service.NewWorkspaces(service.WorkspacesOpts{
		Generator:   gemini,
		Recorder:    recorders(m, archive),
		Timeout:     cfg.TurnTimeout,
		MaxSessions: cfg.MaxSessions,
	})

	// Set once the bot exists; both are nil-safe until then
	var (
		h        *handler.Handler
		tgLogger *telegram.TelegramLogger
	)

	// Create bot
	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.Recover(middleware.ErrorReporterFunc(func(err error, where string) {
				tgLogger.LogError(err, where)
			})),
			middleware.Logging(m),
			middleware.RateLimit(cfg.RateLimitPerMinute),
			middleware.WorkspaceLoader(workspaces),
		),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if h == nil {
				return
			}
			h.HandleDefault(ctx, b, update)
		}),
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	// Get bot info
	me, err := b.GetMe(ctx)
	if err != nil {
		slog.Error("failed to get bot info", "error", err)
		os.Exit(1)
	}

	slog.Info("bot info retrieved", "id", me.ID, "username", me.Username)

	if cfg.DropPendingUpdates {
		if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
			slog.Warn("failed to drop pending updates", "error", err)
		}
	}

	// Initialize telegram logger
	tgLogger = telegram.NewTelegramLogger(b, cfg)

	// Initialize handler
	h = handler.New(handler.Deps{
		Bot:        b,
		Cfg:        cfg,
		Workspaces: workspaces,
		Stats:      stats,
		TgLogger:   tgLogger,
	})

	// Register all handlers
	h.Register()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			slog.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	// Start bot
	g.Go(func() error {
		slog.Info("starting bot", "username", me.Username, "id", me.ID, "admins", cfg.AdminIDsString())
		b.Start(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("bot stopped with error", "error", err)
	}

	// Graceful shutdown: turns see the cancelled context and finish as failed
	workspaces.Wait()
	h.Wait()
	slog.Info("bot stopped gracefully")
}

// recorders skips the archive when it is disabled; a nil *TurnArchive must
// not become a non-nil TurnRecorder.
func recorders(m *metrics.Metrics, archive *repository.TurnArchive) service.TurnRecorder {
	if archive == nil {
		return service.Recorders(m)
	}
	return service.Recorders(m, archive)
}
