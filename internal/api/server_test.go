package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"champs/internal/auth"
	"champs/internal/config"
	"champs/internal/game"
	"champs/internal/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct{}

func (fakeAuth) SignUp(_ context.Context, email, _, displayName string) (auth.Session, error) {
	return auth.Session{AccessToken: "tok", User: auth.User{ID: "u1", Email: email}}, nil
}

func (fakeAuth) Login(_ context.Context, email, password string) (auth.Session, error) {
	if password != "pw" {
		return auth.Session{}, auth.ErrInvalidCredentials
	}
	return auth.Session{AccessToken: "tok", User: auth.User{ID: "u1", Email: email}}, nil
}

func (fakeAuth) VerifyAccessToken(_ context.Context, token string) (auth.User, error) {
	if token != "tok" {
		return auth.User{}, auth.ErrInvalidToken
	}
	return auth.User{ID: "u1", Email: "u1@example.com"}, nil
}

type fakeGames struct {
	Games // unimplemented methods panic

	profiles    []string
	entries     []game.LeaderboardEntry
	lbErr       error
	pool        game.PrizePoolInfo
	poolOK      bool
	enrollErr   error
	lastOrder   game.OrderInput
	leaderboard func(ctx context.Context) ([]game.LeaderboardEntry, error)
}

func (f *fakeGames) EnsureProfile(_ context.Context, userID, _, _ string) error {
	f.profiles = append(f.profiles, userID)
	return nil
}

func (f *fakeGames) Leaderboard(ctx context.Context, _ string) ([]game.LeaderboardEntry, error) {
	if f.leaderboard != nil {
		return f.leaderboard(ctx)
	}
	return f.entries, f.lbErr
}

func (f *fakeGames) PrizePool(context.Context, string) (game.PrizePoolInfo, bool, error) {
	return f.pool, f.poolOK, nil
}

func (f *fakeGames) Enroll(_ context.Context, in game.EnrollInput) (game.Enrollment, error) {
	if f.enrollErr != nil {
		return game.Enrollment{}, f.enrollErr
	}
	return game.Enrollment{ChampionshipID: in.ChampionshipID, UserID: in.UserID}, nil
}

func (f *fakeGames) PlaceOrder(_ context.Context, in game.OrderInput) (game.OrderResult, error) {
	f.lastOrder = in
	return game.OrderResult{TransactionID: 7, Symbol: in.Symbol, Side: in.Side, Quantity: in.Quantity}, nil
}

func newTestServer(g *fakeGames) (*Server, *strings.Builder) {
	logs := &strings.Builder{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	return New(config.APIConfig{}, logger, fakeAuth{}, g, metrics.New()), logs
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	s, _ := newTestServer(&fakeGames{})
	req := httptest.NewRequest(http.MethodGet, "/v1/championships", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginEnsuresProfile(t *testing.T) {
	g := &fakeGames{}
	s, _ := newTestServer(g)
	rec := do(t, s, http.MethodPost, "/v1/auth/login", `{"email":"a@b.c","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u1"}, g.profiles)

	rec = do(t, s, http.MethodPost, "/v1/auth/login", `{"email":"a@b.c","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLeaderboardAttachesPrizes(t *testing.T) {
	pool, ok := game.ComputePrizePool(5, decimal.NewFromInt(20))
	require.True(t, ok)
	g := &fakeGames{
		entries: []game.LeaderboardEntry{
			{Rank: 1, UserID: "a", NetWorth: decimal.NewFromInt(300)},
			{Rank: 2, UserID: "b", NetWorth: decimal.NewFromInt(200)},
			{Rank: 3, UserID: "c", NetWorth: decimal.NewFromInt(100)},
		},
		pool:   pool,
		poolOK: true,
	}
	s, _ := newTestServer(g)

	rec := do(t, s, http.MethodGet, "/v1/championships/c1/leaderboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Entries []struct {
			Rank   int     `json:"rank"`
			UserID string  `json:"user_id"`
			Prize  *string `json:"prize"`
		} `json:"entries"`
		PrizePool *struct {
			PrizePool string `json:"prize_pool"`
		} `json:"prize_pool"`
		Awards []struct {
			Rank   int    `json:"rank"`
			UserID string `json:"user_id"`
			Amount string `json:"amount"`
		} `json:"awards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Entries, 3)
	require.NotNil(t, out.Entries[0].Prize)
	assert.Equal(t, "57", *out.Entries[0].Prize)
	assert.Equal(t, "38", *out.Entries[1].Prize)
	assert.Nil(t, out.Entries[2].Prize)
	require.NotNil(t, out.PrizePool)
	assert.Equal(t, "95", out.PrizePool.PrizePool)
	require.Len(t, out.Awards, 2)
	assert.Equal(t, "a", out.Awards[0].UserID)
	assert.Equal(t, "57", out.Awards[0].Amount)
	assert.Equal(t, 2, out.Awards[1].Rank)
	assert.Equal(t, "b", out.Awards[1].UserID)
}

func TestLeaderboardFailureIsReported(t *testing.T) {
	g := &fakeGames{lbErr: errors.New("participant u2: transactions: db down")}
	s, logs := newTestServer(g)
	rec := do(t, s, http.MethodGet, "/v1/championships/c1/leaderboard", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), "leaderboard failed")
}

func TestLeaderboardPartialListsFailures(t *testing.T) {
	g := &fakeGames{
		entries: []game.LeaderboardEntry{{Rank: 1, UserID: "a"}},
		lbErr: &game.PartialError{Failures: []*game.ParticipantError{
			{UserID: "b", Err: errors.New("boom")},
		}},
	}
	s, _ := newTestServer(g)
	rec := do(t, s, http.MethodGet, "/v1/championships/c1/leaderboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failed":["b"]`)
}

func TestLeaderboardCancelledWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := &fakeGames{leaderboard: func(ctx context.Context) ([]game.LeaderboardEntry, error) {
		cancel()
		return nil, ctx.Err()
	}}
	s, logs := newTestServer(g)

	req := httptest.NewRequest(http.MethodGet, "/v1/championships/c1/leaderboard", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Empty(t, rec.Body.String())
	assert.NotContains(t, logs.String(), "leaderboard failed")
}

func TestPrizePoolUnavailable(t *testing.T) {
	s, _ := newTestServer(&fakeGames{})
	rec := do(t, s, http.MethodGet, "/v1/championships/c1/prize-pool", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"available":false}`, rec.Body.String())
}

func TestPrizePoolAvailable(t *testing.T) {
	pool, _ := game.ComputePrizePool(3, decimal.NewFromInt(10))
	s, _ := newTestServer(&fakeGames{pool: pool, poolOK: true})
	rec := do(t, s, http.MethodGet, "/v1/championships/c1/prize-pool", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, true, out["available"])
	assert.Equal(t, "0.05", out["rake_percentage"])
	assert.Len(t, out["prize_distribution"], 1)
}

func TestEnrollMapsDomainErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, http.StatusCreated},
		{game.ErrAlreadyEnrolled, http.StatusConflict},
		{game.ErrChampionshipNotFound, http.StatusNotFound},
		{game.ErrChampionshipClosed, http.StatusConflict},
	}
	for _, tc := range tests {
		s, _ := newTestServer(&fakeGames{enrollErr: tc.err})
		rec := do(t, s, http.MethodPost, "/v1/championships/c1/enroll", "")
		assert.Equal(t, tc.code, rec.Code, "err=%v", tc.err)
	}
}

func TestOrderValidatesSide(t *testing.T) {
	g := &fakeGames{}
	s, _ := newTestServer(g)

	rec := do(t, s, http.MethodPost, "/v1/championships/c1/orders", `{"symbol":"AAPL","side":"deposit","quantity":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/championships/c1/orders", `{"symbol":"aapl","side":"BUY","quantity":2.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, game.KindBuy, g.lastOrder.Side)
	assert.Equal(t, "c1", g.lastOrder.ChampionshipID)
	assert.Equal(t, "u1", g.lastOrder.UserID)
	assert.True(t, g.lastOrder.Quantity.Equal(decimal.RequireFromString("2.5")))
	assert.NotEmpty(t, g.lastOrder.IdempotencyKey)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeGames{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
