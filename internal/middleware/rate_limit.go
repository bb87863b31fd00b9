package middleware

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

// pruneThreshold is the limiter count above which idle limiters are dropped.
const pruneThreshold = 10_000

// Limiter is a token bucket per chat.
type Limiter struct {
	limit rate.Limit
	burst int

	mu     sync.Mutex
	byChat map[int64]*rate.Limiter
}

// NewLimiter allows perMinute messages per chat per minute, with bursts of
// the same size.
func NewLimiter(perMinute int) *Limiter {
	return &Limiter{
		limit:  rate.Every(time.Minute / time.Duration(perMinute)),
		burst:  perMinute,
		byChat: make(map[int64]*rate.Limiter),
	}
}

// Allow reports whether a chat may send one more message at now.
func (l *Limiter) Allow(chatID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.byChat[chatID]
	if !ok {
		if len(l.byChat) >= pruneThreshold {
			l.pruneLocked(now)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byChat[chatID] = lim
	}
	return lim.AllowN(now, 1)
}

// pruneLocked drops limiters whose bucket has refilled.
func (l *Limiter) pruneLocked(now time.Time) {
	for id, lim := range l.byChat {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.byChat, id)
		}
	}
}

// RateLimit returns middleware that limits non-command messages per chat.
// A non-positive perMinute disables it.
func RateLimit(perMinute int) bot.Middleware {
	if perMinute <= 0 {
		return func(next bot.HandlerFunc) bot.HandlerFunc { return next }
	}
	limiter := NewLimiter(perMinute)
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if update.Message == nil || strings.HasPrefix(update.Message.Text, "/") {
				next(ctx, b, update)
				return
			}

			chatID := update.Message.Chat.ID
			if !limiter.Allow(chatID, time.Now()) {
				slog.Debug("rate limited", "chat_id", chatID, "limit", perMinute)
				b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: chatID,
					Text:   "⏳ Too many messages. Please wait a moment.",
				})
				return
			}

			next(ctx, b, update)
		}
	}
}
