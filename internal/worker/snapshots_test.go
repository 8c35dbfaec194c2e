package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"champs/internal/game"
	"champs/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGames struct {
	active    []game.Championship
	boards    map[string][]game.LeaderboardEntry
	boardErrs map[string]error
	saved     map[string][]game.LeaderboardEntry
	refreshed []string
}

func (f *fakeGames) RefreshStatuses(context.Context) (int64, error) { return 1, nil }

func (f *fakeGames) ListChampionships(_ context.Context, status string) ([]game.Championship, error) {
	if status != string(game.StatusActive) {
		return nil, errors.New("unexpected status filter " + status)
	}
	return f.active, nil
}

func (f *fakeGames) Leaderboard(_ context.Context, id string) ([]game.LeaderboardEntry, error) {
	return f.boards[id], f.boardErrs[id]
}

func (f *fakeGames) SaveSnapshot(_ context.Context, id string, entries []game.LeaderboardEntry) error {
	f.saved[id] = entries
	return nil
}

func (f *fakeGames) RefreshPrizePool(_ context.Context, id string) (game.PrizePoolInfo, bool, error) {
	f.refreshed = append(f.refreshed, id)
	info, ok := game.ComputePrizePool(len(f.boards[id]), decimal.NewFromInt(10))
	return info, ok, nil
}

func TestRunOnceSnapshotsEveryActiveChampionship(t *testing.T) {
	g := &fakeGames{
		active: []game.Championship{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		boards: map[string][]game.LeaderboardEntry{
			"a": {{Rank: 1, UserID: "u1"}},
			"c": {{Rank: 1, UserID: "u3"}},
		},
		boardErrs: map[string]error{
			"b": errors.New("db down"),
			"c": &game.PartialError{Failures: []*game.ParticipantError{{UserID: "u4", Err: errors.New("x")}}},
		},
		saved: map[string][]game.LeaderboardEntry{},
	}
	m := metrics.New()
	s := NewSnapshotter(g, slog.New(slog.NewTextHandler(io.Discard, nil)), m)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "championship b")

	assert.Contains(t, g.saved, "a")
	assert.Contains(t, g.saved, "c")
	assert.NotContains(t, g.saved, "b")
	assert.Equal(t, []string{"a", "c"}, g.refreshed)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Snapshots.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Snapshots.WithLabelValues("error")))
}

func TestRunOnceNoActiveChampionships(t *testing.T) {
	g := &fakeGames{saved: map[string][]game.LeaderboardEntry{}}
	require.NoError(t, NewSnapshotter(g, nil, nil).RunOnce(context.Background()))
	assert.Empty(t, g.saved)
}
