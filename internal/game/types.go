package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ChampionshipStatus string

const (
	StatusUpcoming ChampionshipStatus = "upcoming"
	StatusActive   ChampionshipStatus = "active"
	StatusFinished ChampionshipStatus = "finished"
)

type Championship struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	StartingCash      decimal.Decimal    `json:"starting_cash"`
	EnrollmentFee     decimal.Decimal    `json:"enrollment_fee"`
	Status            ChampionshipStatus `json:"status"`
	StartsAt          time.Time          `json:"starts_at"`
	EndsAt            time.Time          `json:"ends_at"`
	ParticipantsCount int                `json:"participants_count"`
	CreatedAt         time.Time          `json:"created_at"`
}

func (c Championship) AcceptsEnrollment(now time.Time) bool {
	if c.Status != StatusUpcoming && c.Status != StatusActive {
		return false
	}
	return now.Before(c.EndsAt)
}

// Running reports whether trading is allowed. Status lags the clock until the
// worker refreshes it, so the window is checked directly.
func (c Championship) Running(now time.Time) bool {
	if c.Status == StatusFinished {
		return false
	}
	return !now.Before(c.StartsAt) && now.Before(c.EndsAt)
}

func (c Championship) Paid() bool {
	return c.EnrollmentFee.IsPositive()
}

type CreateChampionshipInput struct {
	Name          string
	StartingCash  decimal.Decimal
	EnrollmentFee decimal.Decimal
	StartsAt      time.Time
	EndsAt        time.Time
	CreatedBy     string
}

func (in CreateChampionshipInput) Validate() error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidChampionship)
	}
	if len(name) > 80 {
		return fmt.Errorf("%w: name too long (max 80 chars)", ErrInvalidChampionship)
	}
	if !in.StartingCash.IsPositive() {
		return fmt.Errorf("%w: starting cash must be > 0", ErrInvalidChampionship)
	}
	if in.EnrollmentFee.IsNegative() {
		return fmt.Errorf("%w: enrollment fee must be >= 0", ErrInvalidChampionship)
	}
	if !in.EndsAt.After(in.StartsAt) {
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidChampionship)
	}
	return nil
}

type EnrollInput struct {
	UserID         string
	ChampionshipID string
}

type Enrollment struct {
	ChampionshipID string          `json:"championship_id"`
	UserID         string          `json:"user_id"`
	StartingCash   decimal.Decimal `json:"starting_cash"`
	FeeDue         decimal.Decimal `json:"fee_due"`
	JoinedAt       time.Time       `json:"joined_at"`
}

type OrderInput struct {
	UserID         string
	ChampionshipID string
	Symbol         string
	Side           TransactionKind
	Quantity       decimal.Decimal
	IdempotencyKey string
}

type OrderResult struct {
	TransactionID int64           `json:"transaction_id"`
	Symbol        string          `json:"symbol"`
	Side          TransactionKind `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Notional      decimal.Decimal `json:"notional"`
	BuyingPower   decimal.Decimal `json:"buying_power"`
}

type HoldingView struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	LivePrice    bool            `json:"live_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	Unrealized   decimal.Decimal `json:"unrealized"`
}

type Portfolio struct {
	ChampionshipID string          `json:"championship_id"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	NetWorth       decimal.Decimal `json:"net_worth"`
	Holdings       []HoldingView   `json:"holdings"`
}

type Snapshot struct {
	ChampionshipID string             `json:"championship_id"`
	ComputedAt     time.Time          `json:"computed_at"`
	Entries        []LeaderboardEntry `json:"entries"`
}

// RosterChange identifies a roster-size-affecting event.
type RosterChange string

const (
	RosterEnrolled RosterChange = "enrolled"
	RosterLeft     RosterChange = "left"
)

// CachedPrizePool is what the prize pool cache stores. Available is false when
// the championship has no pool (free, or nobody enrolled).
type CachedPrizePool struct {
	Available bool          `json:"available"`
	Info      PrizePoolInfo `json:"info"`
}
