package game

import "github.com/shopspring/decimal"

type PrizeShare struct {
	Rank       int             `json:"rank"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

type PrizePoolInfo struct {
	ParticipantsCount  int             `json:"participants_count"`
	EnrollmentFee      decimal.Decimal `json:"enrollment_fee"`
	TotalEntry         decimal.Decimal `json:"total_entry"`
	RakePercentage     decimal.Decimal `json:"rake_percentage"`
	PlatformCommission decimal.Decimal `json:"platform_commission"`
	PrizePool          decimal.Decimal `json:"prize_pool"`
	Distribution       []PrizeShare    `json:"prize_distribution"`
}

// PrizeFor returns the payout for a finishing rank, if that rank is paid.
func (p PrizePoolInfo) PrizeFor(rank int) (decimal.Decimal, bool) {
	for _, s := range p.Distribution {
		if s.Rank == rank {
			return s.Amount, true
		}
	}
	return decimal.Zero, false
}

type rakeTier struct {
	MinParticipants int
	Rate            decimal.Decimal
}

// Evaluated top down; the last row catches every count >= 1.
var rakeTiers = []rakeTier{
	{MinParticipants: 100, Rate: decimal.RequireFromString("0.20")},
	{MinParticipants: 50, Rate: decimal.RequireFromString("0.15")},
	{MinParticipants: 20, Rate: decimal.RequireFromString("0.10")},
	{MinParticipants: 1, Rate: decimal.RequireFromString("0.05")},
}

type distributionTier struct {
	MinParticipants int
	Shares          []decimal.Decimal // index 0 = 1st place, sums to 1
}

var distributionTiers = []distributionTier{
	{MinParticipants: 10, Shares: []decimal.Decimal{
		decimal.RequireFromString("0.50"),
		decimal.RequireFromString("0.30"),
		decimal.RequireFromString("0.20"),
	}},
	{MinParticipants: 5, Shares: []decimal.Decimal{
		decimal.RequireFromString("0.60"),
		decimal.RequireFromString("0.40"),
	}},
	{MinParticipants: 3, Shares: []decimal.Decimal{
		decimal.RequireFromString("1.00"),
	}},
}

// RakePercentage is the platform's share of total entry fees for a roster size.
func RakePercentage(participants int) decimal.Decimal {
	for _, t := range rakeTiers {
		if participants >= t.MinParticipants {
			return t.Rate
		}
	}
	return decimal.Zero
}

// PrizeDistribution splits pool among the paid ranks for a roster size. Rosters
// under three players pay nothing.
func PrizeDistribution(participants int, pool decimal.Decimal) []PrizeShare {
	out := []PrizeShare{}
	for _, t := range distributionTiers {
		if participants < t.MinParticipants {
			continue
		}
		for i, pct := range t.Shares {
			out = append(out, PrizeShare{
				Rank:       i + 1,
				Percentage: pct,
				Amount:     pool.Mul(pct),
			})
		}
		break
	}
	return out
}

// ComputePrizePool derives rake and payouts from roster size and entry fee.
// ok is false for free championships and empty rosters.
func ComputePrizePool(participants int, fee decimal.Decimal) (PrizePoolInfo, bool) {
	if !fee.IsPositive() || participants < 1 {
		return PrizePoolInfo{}, false
	}
	total := fee.Mul(decimal.NewFromInt(int64(participants)))
	rake := RakePercentage(participants)
	commission := total.Mul(rake)
	pool := total.Sub(commission)
	return PrizePoolInfo{
		ParticipantsCount:  participants,
		EnrollmentFee:      fee,
		TotalEntry:         total,
		RakePercentage:     rake,
		PlatformCommission: commission,
		PrizePool:          pool,
		Distribution:       PrizeDistribution(participants, pool),
	}, true
}

type Award struct {
	Rank        int             `json:"rank"`
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Amount      decimal.Decimal `json:"amount"`
}

// AwardPrizes matches ranked entries to the paid positions of a prize pool.
// Entries must already carry their ranks.
func AwardPrizes(entries []LeaderboardEntry, pool PrizePoolInfo) []Award {
	var out []Award
	for _, e := range entries {
		amount, ok := pool.PrizeFor(e.Rank)
		if !ok {
			continue
		}
		out = append(out, Award{
			Rank:        e.Rank,
			UserID:      e.UserID,
			DisplayName: e.DisplayName,
			Amount:      amount,
		})
	}
	return out
}
