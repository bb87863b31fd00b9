package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/set-night/mindchat/internal/domain"
)

const namespace = "mindchat"

// Metrics holds the Prometheus collectors of the bot.
type Metrics struct {
	reg prometheus.Gatherer

	turns      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	deltas     prometheus.Counter
	superseded prometheus.Counter
	tokens     *prometheus.CounterVec
	cost       prometheus.Counter
	updates    *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by outcome.",
		}, []string{"model", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from send to the terminal event.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180},
		}, []string{"outcome"}),
		deltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_total",
			Help:      "Text deltas applied to placeholders.",
		}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "superseded_deltas_total",
			Help:      "Deltas dropped because the placeholder was no longer the last message.",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by the generation backend.",
		}, []string{"model", "kind"}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Estimated generation cost in USD.",
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Telegram updates received by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.turns, m.duration, m.deltas, m.superseded, m.tokens, m.cost, m.updates)
	return m
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(_ context.Context, rec domain.TurnRecord) error {
	outcome := string(rec.Outcome)
	m.turns.WithLabelValues(string(rec.Model), outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(rec.FinishedAt.Sub(rec.StartedAt).Seconds())
	m.deltas.Add(float64(rec.DeltaCount))
	m.superseded.Add(float64(rec.SupersededCnt))
	m.tokens.WithLabelValues(string(rec.Model), "prompt").Add(float64(rec.Usage.PromptTokens))
	m.tokens.WithLabelValues(string(rec.Model), "completion").Add(float64(rec.Usage.CompletionTokens))
	m.cost.Add(rec.Cost.InexactFloat64())
	return nil
}

// ObserveUpdate counts one incoming update.
func (m *Metrics) ObserveUpdate(kind string) {
	m.updates.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
