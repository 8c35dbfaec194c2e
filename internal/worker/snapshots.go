package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"champs/internal/game"
	"champs/internal/metrics"

	"github.com/go-co-op/gocron/v2"
)

// Games is what a snapshot pass needs from game.Service.
type Games interface {
	RefreshStatuses(ctx context.Context) (int64, error)
	ListChampionships(ctx context.Context, status string) ([]game.Championship, error)
	Leaderboard(ctx context.Context, championshipID string) ([]game.LeaderboardEntry, error)
	SaveSnapshot(ctx context.Context, championshipID string, entries []game.LeaderboardEntry) error
	RefreshPrizePool(ctx context.Context, championshipID string) (game.PrizePoolInfo, bool, error)
}

type Snapshotter struct {
	games   Games
	log     *slog.Logger
	metrics *metrics.Registry
}

func NewSnapshotter(games Games, logger *slog.Logger, m *metrics.Registry) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{games: games, log: logger, metrics: m}
}

// RunOnce advances championship statuses, then stores a leaderboard snapshot
// and refreshes the cached prize pool for every active championship. One
// championship failing does not stop the others.
func (s *Snapshotter) RunOnce(ctx context.Context) error {
	changed, err := s.games.RefreshStatuses(ctx)
	if err != nil {
		return fmt.Errorf("refresh statuses: %w", err)
	}
	if changed > 0 {
		s.log.Info("championship statuses advanced", "count", changed)
	}

	active, err := s.games.ListChampionships(ctx, string(game.StatusActive))
	if err != nil {
		return fmt.Errorf("list active championships: %w", err)
	}
	var errs []error
	for _, c := range active {
		if err := s.snapshot(ctx, c); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("snapshot failed", "championship_id", c.ID, "err", err)
			errs = append(errs, fmt.Errorf("championship %s: %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Snapshotter) snapshot(ctx context.Context, c game.Championship) error {
	entries, err := s.games.Leaderboard(ctx, c.ID)
	var partial *game.PartialError
	if err != nil && !errors.As(err, &partial) {
		s.metrics.Snapshot(err)
		return err
	}
	if err := s.games.SaveSnapshot(ctx, c.ID, entries); err != nil {
		s.metrics.Snapshot(err)
		return err
	}
	s.metrics.Snapshot(nil)

	pool, ok, err := s.games.RefreshPrizePool(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("prize pool: %w", err)
	}
	attrs := []any{"championship_id", c.ID, "entries", len(entries)}
	if ok {
		attrs = append(attrs, "prize_pool", pool.PrizePool.String())
	}
	if partial != nil {
		attrs = append(attrs, "failed", len(partial.Failures))
	}
	s.log.Info("leaderboard snapshot stored", attrs...)
	return nil
}

// Schedule runs RunOnce immediately and then every interval until ctx ends.
// Overlapping runs are skipped rather than queued.
func (s *Snapshotter) Schedule(ctx context.Context, every time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			start := time.Now()
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("snapshot pass failed", "err", err)
				return
			}
			s.log.Info("snapshot pass complete", "took", time.Since(start).String())
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}
	sched.Start()
	<-ctx.Done()
	return sched.Shutdown()
}
