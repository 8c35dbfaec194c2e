package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"champs/internal/auth"
	"champs/internal/config"
	"champs/internal/game"
	"champs/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

// Games is the slice of game.Service the HTTP layer drives.
type Games interface {
	EnsureProfile(ctx context.Context, userID, email, displayName string) error
	ListChampionships(ctx context.Context, status string) ([]game.Championship, error)
	Championship(ctx context.Context, championshipID string) (game.Championship, error)
	CreateChampionship(ctx context.Context, in game.CreateChampionshipInput) (game.Championship, error)
	Enroll(ctx context.Context, in game.EnrollInput) (game.Enrollment, error)
	Leave(ctx context.Context, userID, championshipID string) error
	Leaderboard(ctx context.Context, championshipID string) ([]game.LeaderboardEntry, error)
	LatestSnapshot(ctx context.Context, championshipID string) (game.Snapshot, bool, error)
	PrizePool(ctx context.Context, championshipID string) (game.PrizePoolInfo, bool, error)
	PlaceOrder(ctx context.Context, in game.OrderInput) (game.OrderResult, error)
	Portfolio(ctx context.Context, userID, championshipID string) (game.Portfolio, error)
}

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	auth    auth.Provider
	game    Games
	metrics *metrics.Registry
	mux     *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, authClient auth.Provider, games Games, m *metrics.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		auth:    authClient,
		game:    games,
		metrics: m,
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/championships", s.handleChampionshipsList)
			r.Post("/championships", s.handleChampionshipCreate)
			r.Route("/championships/{id}", func(r chi.Router) {
				r.Get("/", s.handleChampionship)
				r.Post("/enroll", s.handleEnroll)
				r.Delete("/enroll", s.handleLeave)
				r.Get("/leaderboard", s.handleLeaderboard)
				r.Get("/prize-pool", s.handlePrizePool)
				r.Post("/orders", s.handleOrder)
				r.Get("/holdings", s.handleHoldings)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, game.ErrUnauthorized
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password), in.DisplayName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session.User.ID != "" {
		if err := s.game.EnsureProfile(r.Context(), session.User.ID, session.User.Email, in.DisplayName); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.game.EnsureProfile(r.Context(), session.User.ID, session.User.Email, session.User.Metadata.DisplayName); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleChampionshipsList(w http.ResponseWriter, r *http.Request) {
	list, err := s.game.ListChampionships(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"championships": list})
}

func (s *Server) handleChampionshipCreate(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Name          string          `json:"name"`
		StartingCash  decimal.Decimal `json:"starting_cash"`
		EnrollmentFee decimal.Decimal `json:"enrollment_fee"`
		StartsAt      time.Time       `json:"starts_at"`
		EndsAt        time.Time       `json:"ends_at"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.StartingCash.IsZero() {
		in.StartingCash = decimal.NewFromInt(game.DefaultStartingCash)
	}
	if in.StartsAt.IsZero() {
		in.StartsAt = time.Now().UTC()
	}
	out, err := s.game.CreateChampionship(r.Context(), game.CreateChampionshipInput{
		Name:          in.Name,
		StartingCash:  in.StartingCash,
		EnrollmentFee: in.EnrollmentFee,
		StartsAt:      in.StartsAt,
		EndsAt:        in.EndsAt,
		CreatedBy:     user.UserID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleChampionship(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Championship(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Enroll(r.Context(), game.EnrollInput{
		UserID:         user.UserID,
		ChampionshipID: chi.URLParam(r, "id"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.game.Leave(r.Context(), user.UserID, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type leaderboardRow struct {
	game.LeaderboardEntry
	Prize *decimal.Decimal `json:"prize,omitempty"`
}

type leaderboardResponse struct {
	ChampionshipID string              `json:"championship_id"`
	ComputedAt     time.Time           `json:"computed_at"`
	Snapshot       bool                `json:"snapshot"`
	Entries        []leaderboardRow    `json:"entries"`
	PrizePool      *game.PrizePoolInfo `json:"prize_pool,omitempty"`
	Awards         []game.Award        `json:"awards,omitempty"`
	Failed         []string            `json:"failed,omitempty"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	championshipID := chi.URLParam(r, "id")
	out := leaderboardResponse{ChampionshipID: championshipID}

	var entries []game.LeaderboardEntry
	if r.URL.Query().Get("source") == "snapshot" {
		snap, ok, err := s.game.LatestSnapshot(ctx, championshipID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "no leaderboard snapshot yet")
			return
		}
		entries, out.ComputedAt, out.Snapshot = snap.Entries, snap.ComputedAt, true
	} else {
		var err error
		entries, err = s.game.Leaderboard(ctx, championshipID)
		var partial *game.PartialError
		switch {
		case err == nil:
		case errors.As(err, &partial):
			for _, f := range partial.Failures {
				out.Failed = append(out.Failed, f.UserID)
			}
		case ctx.Err() != nil:
			// Client went away or the request timed out; nobody is listening.
			return
		default:
			s.log.Error("leaderboard failed", "championship_id", championshipID, "err", err)
			writeDomainError(w, err)
			return
		}
		out.ComputedAt = time.Now().UTC()
	}

	pool, ok, err := s.game.PrizePool(ctx, championshipID)
	if err != nil {
		s.log.Warn("prize pool unavailable for leaderboard", "championship_id", championshipID, "err", err)
	} else if ok {
		out.PrizePool = &pool
	}
	prizes := map[string]decimal.Decimal{}
	if out.PrizePool != nil {
		out.Awards = game.AwardPrizes(entries, *out.PrizePool)
		for _, a := range out.Awards {
			prizes[a.UserID] = a.Amount
		}
	}
	out.Entries = make([]leaderboardRow, 0, len(entries))
	for _, e := range entries {
		row := leaderboardRow{LeaderboardEntry: e}
		if amount, paid := prizes[e.UserID]; paid {
			row.Prize = &amount
		}
		out.Entries = append(out.Entries, row)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePrizePool(w http.ResponseWriter, r *http.Request) {
	info, ok, err := s.game.PrizePool(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Available bool `json:"available"`
		game.PrizePoolInfo
	}{Available: true, PrizePoolInfo: info})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Symbol   string          `json:"symbol"`
		Side     string          `json:"side"`
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := game.ParseTransactionKind(in.Side)
	if err != nil || !side.IsTrade() {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	result, err := s.game.PlaceOrder(r.Context(), game.OrderInput{
		UserID:         user.UserID,
		ChampionshipID: chi.URLParam(r, "id"),
		Symbol:         in.Symbol,
		Side:           side,
		Quantity:       in.Quantity,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Portfolio(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrChampionshipNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrDuplicateIdempotency), errors.Is(err, game.ErrAlreadyEnrolled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrChampionshipClosed), errors.Is(err, game.ErrChampionshipNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInsufficientShares):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInvalidSymbol), errors.Is(err, game.ErrInvalidChampionship), errors.Is(err, game.ErrInvalidTransaction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrNotEnrolled), errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrPriceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
