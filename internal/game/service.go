package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"champs/internal/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

var blockedNameFragments = []string{
	"admin",
	"moderator",
	"support",
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

// PrizePoolCache memoises prize pools per championship. Entries must be
// invalidated whenever the roster size changes.
type PrizePoolCache interface {
	Get(ctx context.Context, championshipID string) (CachedPrizePool, bool, error)
	Set(ctx context.Context, championshipID string, v CachedPrizePool) error
	Invalidate(ctx context.Context, championshipID string) error
}

type RosterPublisher interface {
	PublishRosterChange(ctx context.Context, championshipID, userID string, change RosterChange) error
}

// DB is the part of *pgxpool.Pool the service uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type ServiceOptions struct {
	Prices      PriceFetcher
	Cache       PrizePoolCache
	Events      RosterPublisher
	Metrics     *metrics.Registry
	Leaderboard LeaderboardOptions
}

type Service struct {
	db      DB
	log     *slog.Logger
	prices  PriceFetcher
	cache   PrizePoolCache
	events  RosterPublisher
	metrics *metrics.Registry
	opts    LeaderboardOptions
	now     func() time.Time

	// championship id -> *atomic.Uint64, bumped on every roster change so a
	// prize pool computed before the change is never written to the cache.
	poolGen sync.Map
}

func NewService(db DB, logger *slog.Logger, opts ServiceOptions) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		db:      db,
		log:     logger,
		prices:  opts.Prices,
		cache:   opts.Cache,
		events:  opts.Events,
		metrics: opts.Metrics,
		opts:    opts.Leaderboard,
		now:     time.Now,
	}
	if s.prices == nil {
		s.prices = PriceFetcherFunc(func(context.Context, string) (decimal.Decimal, bool, error) {
			return decimal.Zero, false, nil
		})
	}
	if s.cache == nil {
		s.cache = nopCache{}
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	return s
}

func (s *Service) EnsureProfile(ctx context.Context, userID, email, displayName string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || validateEntityName(displayName) != nil {
		displayName = displayNameFromEmail(email)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO users.profiles (user_id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email
	`, userID, strings.TrimSpace(email), displayName)
	return err
}

func (s *Service) CreateChampionship(ctx context.Context, in CreateChampionshipInput) (Championship, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return Championship{}, err
	}
	if err := validateEntityName(in.Name); err != nil {
		return Championship{}, fmt.Errorf("%w: %v", ErrInvalidChampionship, err)
	}
	out := Championship{
		ID:            uuid.NewString(),
		Name:          in.Name,
		StartingCash:  roundAmount(in.StartingCash),
		EnrollmentFee: roundAmount(in.EnrollmentFee),
		Status:        StatusUpcoming,
		StartsAt:      in.StartsAt.UTC(),
		EndsAt:        in.EndsAt.UTC(),
	}
	if !s.now().Before(out.StartsAt) {
		out.Status = StatusActive
	}
	var createdBy *string
	if by := strings.TrimSpace(in.CreatedBy); by != "" {
		createdBy = &by
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO game.championships (id, name, starting_cash, enrollment_fee, status, starts_at, ends_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, out.ID, out.Name, toNumeric(out.StartingCash), toNumeric(out.EnrollmentFee), string(out.Status),
		out.StartsAt, out.EndsAt, createdBy).Scan(&out.CreatedAt)
	if err != nil {
		return Championship{}, err
	}
	s.log.Info("championship created", "championship_id", out.ID, "name", out.Name, "fee", out.EnrollmentFee.String())
	return out, nil
}

const championshipColumns = `
	c.id::text, c.name, c.starting_cash, c.enrollment_fee, c.status, c.starts_at, c.ends_at, c.created_at,
	(SELECT COUNT(1) FROM game.participations p WHERE p.championship_id = c.id) AS participants_count`

func scanChampionship(row pgx.Row) (Championship, error) {
	var (
		c      Championship
		cash   pgtype.Numeric
		fee    pgtype.Numeric
		status string
		count  int64
	)
	if err := row.Scan(&c.ID, &c.Name, &cash, &fee, &status, &c.StartsAt, &c.EndsAt, &c.CreatedAt, &count); err != nil {
		return c, err
	}
	c.StartingCash = fromNumeric(cash)
	c.EnrollmentFee = fromNumeric(fee)
	c.Status = ChampionshipStatus(status)
	c.ParticipantsCount = int(count)
	return c, nil
}

func (s *Service) ListChampionships(ctx context.Context, status string) ([]Championship, error) {
	query := `SELECT ` + championshipColumns + ` FROM game.championships c`
	var args []any
	if status = strings.ToLower(strings.TrimSpace(status)); status != "" {
		query += ` WHERE c.status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY c.starts_at DESC, c.id`
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Championship{}
	for rows.Next() {
		c, err := scanChampionship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Service) Championship(ctx context.Context, championshipID string) (Championship, error) {
	if _, err := uuid.Parse(championshipID); err != nil {
		return Championship{}, ErrChampionshipNotFound
	}
	c, err := scanChampionship(s.db.QueryRow(ctx, `SELECT `+championshipColumns+` FROM game.championships c WHERE c.id = $1`, championshipID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Championship{}, ErrChampionshipNotFound
	}
	return c, err
}

// RefreshStatuses moves championships through upcoming -> active -> finished
// according to the clock and returns how many rows changed.
func (s *Service) RefreshStatuses(ctx context.Context) (int64, error) {
	now := s.now()
	tag, err := s.db.Exec(ctx, `
		UPDATE game.championships
		SET status = CASE
			WHEN ends_at <= $1 THEN 'finished'
			WHEN starts_at <= $1 THEN 'active'
			ELSE status
		END
		WHERE status <> 'finished'
		  AND (ends_at <= $1 OR (status = 'upcoming' AND starts_at <= $1))
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Service) Enroll(ctx context.Context, in EnrollInput) (Enrollment, error) {
	var out Enrollment
	if _, err := uuid.Parse(in.ChampionshipID); err != nil {
		return out, ErrChampionshipNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return out, err
	}
	defer tx.Rollback(ctx)

	var (
		status    string
		cash, fee pgtype.Numeric
		startsAt  time.Time
		endsAt    time.Time
		joinedAt  time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT status, starting_cash, enrollment_fee, starts_at, ends_at
		FROM game.championships
		WHERE id = $1
		FOR SHARE
	`, in.ChampionshipID).Scan(&status, &cash, &fee, &startsAt, &endsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrChampionshipNotFound
	}
	if err != nil {
		return out, err
	}
	champ := Championship{Status: ChampionshipStatus(status), StartsAt: startsAt, EndsAt: endsAt}
	if !champ.AcceptsEnrollment(s.now()) {
		return out, ErrChampionshipClosed
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO game.participations (championship_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (championship_id, user_id) DO NOTHING
		RETURNING joined_at
	`, in.ChampionshipID, in.UserID).Scan(&joinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrAlreadyEnrolled
	}
	if err != nil {
		return out, err
	}

	// The seeding deposit is the participant's starting cash; it is the only
	// place starting cash enters buying power.
	if _, err := tx.Exec(ctx, `
		INSERT INTO game.transactions (championship_id, user_id, kind, amount)
		VALUES ($1, $2, 'deposit', $3)
	`, in.ChampionshipID, in.UserID, cash); err != nil {
		return out, err
	}
	if err := tx.Commit(ctx); err != nil {
		return out, err
	}

	out = Enrollment{
		ChampionshipID: in.ChampionshipID,
		UserID:         in.UserID,
		StartingCash:   fromNumeric(cash),
		FeeDue:         fromNumeric(fee),
		JoinedAt:       joinedAt,
	}
	s.rosterChanged(ctx, in.ChampionshipID, in.UserID, RosterEnrolled)
	return out, nil
}

func (s *Service) Leave(ctx context.Context, userID, championshipID string) error {
	if _, err := uuid.Parse(championshipID); err != nil {
		return ErrChampionshipNotFound
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM game.participations
		WHERE championship_id = $1 AND user_id = $2
	`, championshipID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEnrolled
	}
	for _, q := range []string{
		`DELETE FROM game.holdings WHERE championship_id = $1 AND user_id = $2`,
		`DELETE FROM game.transactions WHERE championship_id = $1 AND user_id = $2`,
	} {
		if _, err := tx.Exec(ctx, q, championshipID, userID); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.rosterChanged(ctx, championshipID, userID, RosterLeft)
	return nil
}

// rosterChanged drops the cached prize pool and tells other instances to do
// the same. Both are best effort; the enrollment itself already committed.
func (s *Service) rosterChanged(ctx context.Context, championshipID, userID string, change RosterChange) {
	s.bumpPoolGeneration(championshipID)
	if err := s.cache.Invalidate(ctx, championshipID); err != nil {
		s.log.Warn("prize pool cache invalidate failed", "championship_id", championshipID, "err", err)
	}
	if err := s.events.PublishRosterChange(ctx, championshipID, userID, change); err != nil {
		s.log.Warn("roster event publish failed", "championship_id", championshipID, "change", change, "err", err)
	}
	s.log.Info("roster changed", "championship_id", championshipID, "user_id", userID, "change", change)
}

func (s *Service) Roster(ctx context.Context, championshipID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id
		FROM game.participations
		WHERE championship_id = $1
		ORDER BY joined_at, user_id
	`, championshipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Service) Profile(ctx context.Context, userID string) (Participant, bool, error) {
	p := Participant{UserID: userID}
	err := s.db.QueryRow(ctx, `
		SELECT display_name
		FROM users.profiles
		WHERE user_id = $1
	`, userID).Scan(&p.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	return p, true, nil
}

func (s *Service) Holdings(ctx context.Context, userID, championshipID string) ([]Holding, error) {
	rows, err := s.db.Query(ctx, `
		SELECT symbol, quantity, avg_price
		FROM game.holdings
		WHERE user_id = $1 AND championship_id = $2 AND quantity > 0
		ORDER BY symbol
	`, userID, championshipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Holding
	for rows.Next() {
		var (
			h        Holding
			qty, avg pgtype.Numeric
		)
		if err := rows.Scan(&h.Symbol, &qty, &avg); err != nil {
			return nil, err
		}
		h.Quantity = fromNumeric(qty)
		h.AvgPrice = fromNumeric(avg)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Service) Transactions(ctx context.Context, userID, championshipID string) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT kind, amount
		FROM game.transactions
		WHERE user_id = $1 AND championship_id = $2
		ORDER BY id
	`, userID, championshipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var (
			kind   string
			amount pgtype.Numeric
		)
		if err := rows.Scan(&kind, &amount); err != nil {
			return nil, err
		}
		k, err := ParseTransactionKind(kind)
		if err != nil {
			return nil, err
		}
		out = append(out, Transaction{Kind: k, Amount: fromNumeric(amount)})
	}
	return out, rows.Err()
}

func (s *Service) Leaderboard(ctx context.Context, championshipID string) ([]LeaderboardEntry, error) {
	start := time.Now()
	entries, err := s.leaderboard(ctx, championshipID)
	s.metrics.ObserveLeaderboard(start, len(entries), err)
	return entries, err
}

func (s *Service) leaderboard(ctx context.Context, championshipID string) ([]LeaderboardEntry, error) {
	champ, err := s.Championship(ctx, championshipID)
	if err != nil {
		return nil, err
	}
	roster, err := s.Roster(ctx, championshipID)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	entries, err := ComputeLeaderboard(ctx, LeaderboardInput{
		ChampionshipID: championshipID,
		Participants:   roster,
		StartingCash:   champ.StartingCash,
		Profiles:       s,
		Holdings:       s,
		Transactions:   s,
		Prices:         PriceFetcherFunc(s.livePrice),
		Options:        s.opts,
	})
	var partial *PartialError
	if errors.As(err, &partial) {
		s.log.Warn("leaderboard computed with failures", "championship_id", championshipID, "failed", len(partial.Failures), "err", err)
	}
	return entries, err
}

// PrizePool returns the championship's pool, or ok == false when it has none.
func (s *Service) PrizePool(ctx context.Context, championshipID string) (PrizePoolInfo, bool, error) {
	gen := s.poolGeneration(championshipID)
	cached, hit, err := s.cache.Get(ctx, championshipID)
	if err != nil {
		s.log.Warn("prize pool cache read failed", "championship_id", championshipID, "err", err)
		hit = false
	}
	s.metrics.PrizeCache(hit)
	if hit {
		return cached.Info, cached.Available, nil
	}

	champ, err := s.Championship(ctx, championshipID)
	if err != nil {
		return PrizePoolInfo{}, false, err
	}
	info, ok := ComputePrizePool(champ.ParticipantsCount, champ.EnrollmentFee)
	if s.poolGeneration(championshipID) != gen {
		s.log.Debug("roster changed during prize pool read, not caching", "championship_id", championshipID)
		return info, ok, nil
	}
	if err := s.cache.Set(ctx, championshipID, CachedPrizePool{Available: ok, Info: info}); err != nil {
		s.log.Warn("prize pool cache write failed", "championship_id", championshipID, "err", err)
	}
	return info, ok, nil
}

// InvalidatePrizePool handles a roster change made elsewhere, e.g. on another
// replica.
func (s *Service) InvalidatePrizePool(ctx context.Context, championshipID string) error {
	s.bumpPoolGeneration(championshipID)
	return s.cache.Invalidate(ctx, championshipID)
}

func (s *Service) poolGeneration(championshipID string) uint64 {
	if v, ok := s.poolGen.Load(championshipID); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

func (s *Service) bumpPoolGeneration(championshipID string) {
	v, _ := s.poolGen.LoadOrStore(championshipID, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

// RefreshPrizePool drops any cached pool and recomputes it from the roster.
func (s *Service) RefreshPrizePool(ctx context.Context, championshipID string) (PrizePoolInfo, bool, error) {
	if err := s.cache.Invalidate(ctx, championshipID); err != nil {
		s.log.Warn("prize pool cache invalidate failed", "championship_id", championshipID, "err", err)
	}
	return s.PrizePool(ctx, championshipID)
}

func (s *Service) isEnrolled(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, userID, championshipID string) (bool, error) {
	var one int
	err := q.QueryRow(ctx, `
		SELECT 1 FROM game.participations
		WHERE championship_id = $1 AND user_id = $2
	`, championshipID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) Portfolio(ctx context.Context, userID, championshipID string) (Portfolio, error) {
	out := Portfolio{ChampionshipID: championshipID, Holdings: []HoldingView{}}
	if _, err := uuid.Parse(championshipID); err != nil {
		return out, ErrChampionshipNotFound
	}
	enrolled, err := s.isEnrolled(ctx, s.db, userID, championshipID)
	if err != nil {
		return out, err
	}
	if !enrolled {
		return out, ErrNotEnrolled
	}
	txs, err := s.Transactions(ctx, userID, championshipID)
	if err != nil {
		return out, err
	}
	if out.BuyingPower, _, err = BuyingPower(txs); err != nil {
		return out, err
	}
	holdings, err := s.Holdings(ctx, userID, championshipID)
	if err != nil {
		return out, err
	}
	out.NetWorth = out.BuyingPower
	for _, h := range holdings {
		view, err := s.valueHolding(ctx, h)
		if err != nil {
			return out, err
		}
		out.NetWorth = out.NetWorth.Add(view.MarketValue)
		out.Holdings = append(out.Holdings, view)
	}
	return out, nil
}

func (s *Service) livePrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	price, ok, err := s.prices.LivePrice(ctx, symbol)
	s.metrics.PriceLookup(ok, err)
	return price, ok, err
}

func (s *Service) valueHolding(ctx context.Context, h Holding) (HoldingView, error) {
	price, live, err := s.livePrice(ctx, h.Symbol)
	if err != nil {
		return HoldingView{}, fmt.Errorf("price %s: %w", h.Symbol, err)
	}
	if !live || !price.IsPositive() {
		price, live = h.AvgPrice, false
	}
	value := price.Mul(h.Quantity)
	return HoldingView{
		Symbol:       h.Symbol,
		Quantity:     h.Quantity,
		AvgPrice:     h.AvgPrice,
		CurrentPrice: price,
		LivePrice:    live,
		MarketValue:  value,
		Unrealized:   value.Sub(h.AvgPrice.Mul(h.Quantity)),
	}, nil
}

func (s *Service) SaveSnapshot(ctx context.Context, championshipID string, entries []LeaderboardEntry) error {
	if entries == nil {
		entries = []LeaderboardEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO game.leaderboard_snapshots (championship_id, computed_at, entries)
		VALUES ($1, $2, $3::jsonb)
	`, championshipID, s.now().UTC(), string(raw))
	return err
}

func (s *Service) LatestSnapshot(ctx context.Context, championshipID string) (Snapshot, bool, error) {
	out := Snapshot{ChampionshipID: championshipID}
	if _, err := uuid.Parse(championshipID); err != nil {
		return out, false, ErrChampionshipNotFound
	}
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT computed_at, entries
		FROM game.leaderboard_snapshots
		WHERE championship_id = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`, championshipID).Scan(&out.ComputedAt, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out.Entries); err != nil {
		return out, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, true, nil
}

// PlaceOrder fills a market order at the live quote. The quote is fetched
// before the transaction so a slow market never holds row locks.
func (s *Service) PlaceOrder(ctx context.Context, in OrderInput) (OrderResult, error) {
	var out OrderResult
	in.Symbol = NormalizeSymbol(in.Symbol)
	if err := ValidateSymbol(in.Symbol); err != nil {
		return out, err
	}
	if in.Side != KindBuy && in.Side != KindSell {
		return out, fmt.Errorf("side must be buy or sell")
	}
	in.Quantity = roundQuantity(in.Quantity)
	if !in.Quantity.IsPositive() {
		return out, fmt.Errorf("quantity must be > 0")
	}
	champ, err := s.Championship(ctx, in.ChampionshipID)
	if err != nil {
		return out, err
	}
	if !champ.Running(s.now()) {
		return out, ErrChampionshipNotRunning
	}

	price, ok, err := s.livePrice(ctx, in.Symbol)
	if err != nil {
		return out, fmt.Errorf("price %s: %w", in.Symbol, err)
	}
	if !ok || !price.IsPositive() {
		return out, ErrPriceUnavailable
	}
	out.Symbol = in.Symbol
	out.Side = in.Side
	out.Quantity = in.Quantity
	out.Price = roundAmount(price)
	out.Notional = roundAmount(out.Price.Mul(in.Quantity))

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return out, err
		}
		err = func() error {
			defer tx.Rollback(ctx)

			enrolled, err := s.isEnrolled(ctx, tx, in.UserID, in.ChampionshipID)
			if err != nil {
				return err
			}
			if !enrolled {
				return ErrNotEnrolled
			}
			if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "order"); err != nil {
				return err
			}

			power, err := buyingPowerTx(ctx, tx, in.UserID, in.ChampionshipID)
			if err != nil {
				return err
			}
			switch in.Side {
			case KindBuy:
				if power.LessThan(out.Notional) {
					maxQty := decimal.Zero
					if power.IsPositive() {
						maxQty = power.Div(out.Price).RoundDown(quantityScale)
					}
					return fmt.Errorf("%w: max buy %s shares at %s", ErrInsufficientFunds, maxQty, out.Price)
				}
				if err := upsertBuyPosition(ctx, tx, in.UserID, in.ChampionshipID, in.Symbol, in.Quantity, out.Price); err != nil {
					return err
				}
			case KindSell:
				if err := applySellPosition(ctx, tx, in.UserID, in.ChampionshipID, in.Symbol, in.Quantity); err != nil {
					return err
				}
			}

			err = tx.QueryRow(ctx, `
				INSERT INTO game.transactions (championship_id, user_id, kind, amount, symbol, quantity, price)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id
			`, in.ChampionshipID, in.UserID, string(in.Side), toNumeric(out.Notional), in.Symbol,
				toNumeric(in.Quantity), toNumeric(out.Price)).Scan(&out.TransactionID)
			if err != nil {
				return err
			}
			out.BuyingPower = power.Add(in.Side.Signed(out.Notional))
			return tx.Commit(ctx)
		}()
		if err == nil {
			s.log.Info("order filled",
				"championship_id", in.ChampionshipID,
				"user_id", in.UserID,
				"side", in.Side,
				"symbol", in.Symbol,
				"quantity", in.Quantity.String(),
				"price", out.Price.String(),
			)
			return out, nil
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			return out, ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}

	return out, ErrTxConflict
}

func buyingPowerTx(ctx context.Context, tx pgx.Tx, userID, championshipID string) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind IN ('deposit', 'sell') THEN amount ELSE -amount END), 0)
		FROM game.transactions
		WHERE user_id = $1 AND championship_id = $2
	`, userID, championshipID).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return fromNumeric(sum), nil
}

func upsertBuyPosition(ctx context.Context, tx pgx.Tx, userID, championshipID, symbol string, qty, price decimal.Decimal) error {
	var oldQty, oldAvg pgtype.Numeric
	err := tx.QueryRow(ctx, `
		SELECT quantity, avg_price
		FROM game.holdings
		WHERE user_id = $1 AND championship_id = $2 AND symbol = $3
		FOR UPDATE
	`, userID, championshipID, symbol).Scan(&oldQty, &oldAvg)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		_, err = tx.Exec(ctx, `
			INSERT INTO game.holdings (championship_id, user_id, symbol, quantity, avg_price)
			VALUES ($1, $2, $3, $4, $5)
		`, championshipID, userID, symbol, toNumeric(qty), toNumeric(price))
		return err
	}

	prevQty, prevAvg := fromNumeric(oldQty), fromNumeric(oldAvg)
	newQty := prevQty.Add(qty)
	if !newQty.IsPositive() {
		return fmt.Errorf("invalid resulting quantity")
	}
	weightedCost := prevAvg.Mul(prevQty).Add(price.Mul(qty))
	newAvg := roundAmount(weightedCost.Div(newQty))

	_, err = tx.Exec(ctx, `
		UPDATE game.holdings
		SET quantity = $1, avg_price = $2, updated_at = now()
		WHERE user_id = $3 AND championship_id = $4 AND symbol = $5
	`, toNumeric(newQty), toNumeric(newAvg), userID, championshipID, symbol)
	return err
}

func applySellPosition(ctx context.Context, tx pgx.Tx, userID, championshipID, symbol string, qty decimal.Decimal) error {
	var held pgtype.Numeric
	if err := tx.QueryRow(ctx, `
		SELECT quantity
		FROM game.holdings
		WHERE user_id = $1 AND championship_id = $2 AND symbol = $3
		FOR UPDATE
	`, userID, championshipID, symbol).Scan(&held); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientShares
		}
		return err
	}
	oldQty := fromNumeric(held)
	if oldQty.LessThan(qty) {
		return ErrInsufficientShares
	}
	next := oldQty.Sub(qty)
	if next.IsZero() {
		_, err := tx.Exec(ctx, `
			DELETE FROM game.holdings
			WHERE user_id = $1 AND championship_id = $2 AND symbol = $3
		`, userID, championshipID, symbol)
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE game.holdings
		SET quantity = $1, updated_at = now()
		WHERE user_id = $2 AND championship_id = $3 AND symbol = $4
	`, toNumeric(next), userID, championshipID, symbol)
	return err
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, userID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO game.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

func displayNameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	local, _, _ := strings.Cut(email, "@")
	return sanitizeDisplayName(local)
}

func sanitizeDisplayName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "trader"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_.-")
	if len(res) < 3 {
		res = "trader_" + res
	}
	if len(res) > 32 {
		res = res[:32]
	}
	return res
}

func validateEntityName(name string) error {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return fmt.Errorf("name is required")
	}
	if len(clean) > 80 {
		return fmt.Errorf("name too long (max 80 chars)")
	}
	lower := strings.ToLower(clean)
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("name contains blocked content")
		}
	}
	return nil
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (CachedPrizePool, bool, error) {
	return CachedPrizePool{}, false, nil
}
func (nopCache) Set(context.Context, string, CachedPrizePool) error { return nil }
func (nopCache) Invalidate(context.Context, string) error           { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishRosterChange(context.Context, string, string, RosterChange) error {
	return nil
}
