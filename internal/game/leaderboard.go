package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type ProfileFetcher interface {
	Profile(ctx context.Context, userID string) (Participant, bool, error)
}

type HoldingsFetcher interface {
	Holdings(ctx context.Context, userID, championshipID string) ([]Holding, error)
}

type TransactionsFetcher interface {
	Transactions(ctx context.Context, userID, championshipID string) ([]Transaction, error)
}

// PriceFetcher resolves the latest trade price for a symbol. found is false
// when the source has no price for it.
type PriceFetcher interface {
	LivePrice(ctx context.Context, symbol string) (price decimal.Decimal, found bool, err error)
}

type ProfileFetcherFunc func(ctx context.Context, userID string) (Participant, bool, error)

func (f ProfileFetcherFunc) Profile(ctx context.Context, userID string) (Participant, bool, error) {
	return f(ctx, userID)
}

type HoldingsFetcherFunc func(ctx context.Context, userID, championshipID string) ([]Holding, error)

func (f HoldingsFetcherFunc) Holdings(ctx context.Context, userID, championshipID string) ([]Holding, error) {
	return f(ctx, userID, championshipID)
}

type TransactionsFetcherFunc func(ctx context.Context, userID, championshipID string) ([]Transaction, error)

func (f TransactionsFetcherFunc) Transactions(ctx context.Context, userID, championshipID string) ([]Transaction, error) {
	return f(ctx, userID, championshipID)
}

type PriceFetcherFunc func(ctx context.Context, symbol string) (decimal.Decimal, bool, error)

func (f PriceFetcherFunc) LivePrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	return f(ctx, symbol)
}

type LeaderboardEntry struct {
	Rank             int             `json:"rank"`
	UserID           string          `json:"user_id"`
	DisplayName      string          `json:"display_name"`
	BuyingPower      decimal.Decimal `json:"buying_power"`
	AssetValue       decimal.Decimal `json:"asset_value"`
	NetWorth         decimal.Decimal `json:"net_worth"`
	TotalReturn      decimal.Decimal `json:"total_return"`
	ReturnPercentage decimal.Decimal `json:"return_percentage"`
	TotalTrades      int             `json:"total_trades"`
}

type LeaderboardOptions struct {
	// Concurrency caps in-flight participants. Zero means MaxLeaderboardConcurrency.
	Concurrency int
	// StrictProfiles fails a participant whose profile cannot be resolved
	// instead of leaving it off the board.
	StrictProfiles bool
	// SkipFailed drops participants whose lookups fail and reports them in a
	// *PartialError alongside the remaining entries.
	SkipFailed bool
}

type LeaderboardInput struct {
	ChampionshipID string
	Participants   []string
	StartingCash   decimal.Decimal

	Profiles     ProfileFetcher
	Holdings     HoldingsFetcher
	Transactions TransactionsFetcher
	Prices       PriceFetcher

	Options LeaderboardOptions
}

type ParticipantError struct {
	UserID string
	Err    error
}

func (e *ParticipantError) Error() string {
	return fmt.Sprintf("participant %s: %v", e.UserID, e.Err)
}

func (e *ParticipantError) Unwrap() error { return e.Err }

// PartialError is returned with a non-empty leaderboard when SkipFailed is set
// and at least one participant could not be computed.
type PartialError struct {
	Failures []*ParticipantError
}

func (e *PartialError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.UserID)
	}
	return fmt.Sprintf("leaderboard incomplete: %d participant(s) failed (%s)", len(e.Failures), strings.Join(ids, ", "))
}

func (e *PartialError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// ComputeLeaderboard values every participant's ledger and holdings and returns
// the board ordered by net worth, highest first. Ties keep roster order and
// still receive distinct ranks. Any lookup failure fails the whole board unless
// Options.SkipFailed is set.
func ComputeLeaderboard(ctx context.Context, in LeaderboardInput) ([]LeaderboardEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	limit := in.Options.Concurrency
	if limit <= 0 {
		limit = MaxLeaderboardConcurrency
	}

	prices := newPriceMemo(in.Prices)
	slots := make([]*LeaderboardEntry, len(in.Participants))
	failures := make([]*ParticipantError, len(in.Participants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, userID := range in.Participants {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry, ok, err := computeEntry(gctx, in, userID, prices)
			if err != nil {
				perr := &ParticipantError{UserID: userID, Err: err}
				if in.Options.SkipFailed {
					failures[i] = perr
					return nil
				}
				return perr
			}
			if ok {
				slots[i] = &entry
			}
			return nil
		})
	}
	waitErr := g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if waitErr != nil {
		return nil, waitErr
	}

	entries := make([]LeaderboardEntry, 0, len(slots))
	for _, e := range slots {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	RankEntries(entries)

	var partial *PartialError
	for _, f := range failures {
		if f != nil {
			if partial == nil {
				partial = &PartialError{}
			}
			partial.Failures = append(partial.Failures, f)
		}
	}
	if partial != nil {
		return entries, partial
	}
	return entries, nil
}

// RankEntries sorts by net worth descending, keeping input order for equal
// net worths, and assigns 1-based positional ranks.
func RankEntries(entries []LeaderboardEntry) {
	slices.SortStableFunc(entries, func(a, b LeaderboardEntry) int {
		return b.NetWorth.Cmp(a.NetWorth)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

func (in LeaderboardInput) validate() error {
	if in.Profiles == nil || in.Holdings == nil || in.Transactions == nil || in.Prices == nil {
		return errors.New("leaderboard: all fetchers are required")
	}
	seen := make(map[string]struct{}, len(in.Participants))
	for _, id := range in.Participants {
		if strings.TrimSpace(id) == "" {
			return errors.New("leaderboard: empty participant id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func computeEntry(ctx context.Context, in LeaderboardInput, userID string, prices *priceMemo) (LeaderboardEntry, bool, error) {
	profile, found, err := in.Profiles.Profile(ctx, userID)
	if err != nil {
		return LeaderboardEntry{}, false, fmt.Errorf("profile: %w", err)
	}
	if !found {
		if in.Options.StrictProfiles {
			return LeaderboardEntry{}, false, ErrProfileNotFound
		}
		return LeaderboardEntry{}, false, nil
	}

	txs, err := in.Transactions.Transactions(ctx, userID, in.ChampionshipID)
	if err != nil {
		return LeaderboardEntry{}, false, fmt.Errorf("transactions: %w", err)
	}
	power, trades, err := BuyingPower(txs)
	if err != nil {
		return LeaderboardEntry{}, false, err
	}

	holdings, err := in.Holdings.Holdings(ctx, userID, in.ChampionshipID)
	if err != nil {
		return LeaderboardEntry{}, false, fmt.Errorf("holdings: %w", err)
	}
	assets, err := valueHoldings(ctx, holdings, prices)
	if err != nil {
		return LeaderboardEntry{}, false, err
	}

	netWorth := power.Add(assets)
	totalReturn := netWorth.Sub(in.StartingCash)
	name := profile.DisplayName
	if strings.TrimSpace(name) == "" {
		name = userID
	}
	return LeaderboardEntry{
		UserID:           userID,
		DisplayName:      name,
		BuyingPower:      power,
		AssetValue:       assets,
		NetWorth:         netWorth,
		TotalReturn:      totalReturn,
		ReturnPercentage: ReturnPercentage(totalReturn, in.StartingCash),
		TotalTrades:      trades,
	}, true, nil
}

// valueHoldings marks each holding to its live price, falling back to the
// average acquisition price when no live price exists.
func valueHoldings(ctx context.Context, holdings []Holding, prices *priceMemo) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, h := range holdings {
		if err := h.Validate(); err != nil {
			return decimal.Zero, err
		}
		price, found, err := prices.lookup(ctx, h.Symbol)
		if err != nil {
			return decimal.Zero, err
		}
		if !found {
			price = h.AvgPrice
		}
		total = total.Add(price.Mul(h.Quantity))
	}
	return total, nil
}

type priceQuote struct {
	price decimal.Decimal
	found bool
}

// priceMemo resolves each symbol at most once per leaderboard computation.
// Failures are not remembered.
type priceMemo struct {
	src    PriceFetcher
	group  singleflight.Group
	mu     sync.Mutex
	quotes map[string]priceQuote
}

func newPriceMemo(src PriceFetcher) *priceMemo {
	return &priceMemo{src: src, quotes: make(map[string]priceQuote)}
}

func (m *priceMemo) lookup(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	symbol = NormalizeSymbol(symbol)
	m.mu.Lock()
	q, ok := m.quotes[symbol]
	m.mu.Unlock()
	if ok {
		return q.price, q.found, nil
	}

	v, err, _ := m.group.Do(symbol, func() (any, error) {
		price, found, err := m.src.LivePrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		q := priceQuote{price: price, found: found && price.IsPositive()}
		m.mu.Lock()
		m.quotes[symbol] = q
		m.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("price %s: %w", symbol, err)
	}
	q = v.(priceQuote)
	return q.price, q.found, nil
}
