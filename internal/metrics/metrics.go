package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service's Prometheus collectors. A nil *Registry is valid
// and records nothing.
type Registry struct {
	reg *prometheus.Registry

	LeaderboardDuration *prometheus.HistogramVec
	ParticipantsRanked  prometheus.Counter
	PriceLookups        *prometheus.CounterVec
	PrizeCacheHits      prometheus.Counter
	PrizeCacheMisses    prometheus.Counter
	RosterEvents        *prometheus.CounterVec
	Snapshots           *prometheus.CounterVec
	BreakerTransitions  *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		LeaderboardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "champs_leaderboard_duration_seconds",
				Help:    "Time spent computing a championship leaderboard",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),
		ParticipantsRanked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "champs_participants_ranked_total",
			Help: "Leaderboard entries produced",
		}),
		PriceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "champs_price_lookups_total",
				Help: "Live price lookups by outcome",
			},
			[]string{"outcome"},
		),
		PrizeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "champs_prize_cache_hits_total",
			Help: "Prize pool cache hits",
		}),
		PrizeCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "champs_prize_cache_misses_total",
			Help: "Prize pool cache misses",
		}),
		RosterEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "champs_roster_events_total",
				Help: "Roster change events by type and direction",
			},
			[]string{"type", "direction"},
		),
		Snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "champs_leaderboard_snapshots_total",
				Help: "Leaderboard snapshots written by the worker",
			},
			[]string{"result"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "champs_breaker_transitions_total",
				Help: "Circuit breaker state changes by breaker and target state",
			},
			[]string{"breaker", "to"},
		),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.LeaderboardDuration,
		r.ParticipantsRanked,
		r.PriceLookups,
		r.PrizeCacheHits,
		r.PrizeCacheMisses,
		r.RosterEvents,
		r.Snapshots,
		r.BreakerTransitions,
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) ObserveLeaderboard(start time.Time, entries int, err error) {
	if r == nil {
		return
	}
	r.LeaderboardDuration.WithLabelValues(result(err)).Observe(time.Since(start).Seconds())
	if err == nil {
		r.ParticipantsRanked.Add(float64(entries))
	}
}

func (r *Registry) PriceLookup(found bool, err error) {
	if r == nil {
		return
	}
	switch {
	case err != nil:
		r.PriceLookups.WithLabelValues("error").Inc()
	case found:
		r.PriceLookups.WithLabelValues("found").Inc()
	default:
		r.PriceLookups.WithLabelValues("missing").Inc()
	}
}

func (r *Registry) PrizeCache(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.PrizeCacheHits.Inc()
		return
	}
	r.PrizeCacheMisses.Inc()
}

func (r *Registry) RosterEvent(eventType, direction string) {
	if r == nil {
		return
	}
	r.RosterEvents.WithLabelValues(eventType, direction).Inc()
}

func (r *Registry) Snapshot(err error) {
	if r == nil {
		return
	}
	r.Snapshots.WithLabelValues(result(err)).Inc()
}

func (r *Registry) BreakerTransition(name, to string) {
	if r == nil {
		return
	}
	r.BreakerTransitions.WithLabelValues(name, to).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
