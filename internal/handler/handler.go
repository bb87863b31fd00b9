package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/set-night/mindchat/internal/config"
	"github.com/set-night/mindchat/internal/domain"
	"github.com/set-night/mindchat/internal/service"
	"github.com/set-night/mindchat/internal/telegram"
)

// StatsSource reports archived usage of a chat.
type StatsSource interface {
	Stats(ctx context.Context, chatKey string) (domain.TurnStats, error)
}

// Handler holds all dependencies needed by command and callback handlers.
type Handler struct {
	bot        *bot.Bot
	cfg        *config.Config
	workspaces *service.Workspaces
	stats      StatsSource
	tgLogger   *telegram.TelegramLogger
	httpClient *http.Client

	wg sync.WaitGroup
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot        *bot.Bot
	Cfg        *config.Config
	Workspaces *service.Workspaces
	Stats      StatsSource // nil when the turn archive is disabled
	TgLogger   *telegram.TelegramLogger
	HTTPClient *http.Client
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}
	return &Handler{
		bot:        deps.Bot,
		cfg:        deps.Cfg,
		workspaces: deps.Workspaces,
		stats:      deps.Stats,
		tgLogger:   deps.TgLogger,
		httpClient: client,
	}
}

// Wait blocks until every response being rendered has been delivered.
func (h *Handler) Wait() {
	h.wg.Wait()
}
