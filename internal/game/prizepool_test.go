package game

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePrizePoolRakeBoundaries(t *testing.T) {
	tests := []struct {
		participants int
		rake         string
	}{
		{1, "0.05"},
		{19, "0.05"},
		{20, "0.10"},
		{49, "0.10"},
		{50, "0.15"},
		{99, "0.15"},
		{100, "0.20"},
		{5000, "0.20"},
	}
	for _, tc := range tests {
		info, ok := ComputePrizePool(tc.participants, decimal.NewFromInt(100))
		require.True(t, ok, "participants=%d", tc.participants)
		assert.True(t, info.RakePercentage.Equal(d(tc.rake)), "participants=%d rake=%s", tc.participants, info.RakePercentage)
	}
}

func TestComputePrizePoolAmounts(t *testing.T) {
	info, ok := ComputePrizePool(20, decimal.NewFromInt(100))
	require.True(t, ok)
	assert.Equal(t, 20, info.ParticipantsCount)
	assert.True(t, info.TotalEntry.Equal(d("2000")))
	assert.True(t, info.PlatformCommission.Equal(d("200")))
	assert.True(t, info.PrizePool.Equal(d("1800")))
	require.Len(t, info.Distribution, 3)
	assert.True(t, info.Distribution[0].Amount.Equal(d("900")))
	assert.True(t, info.Distribution[1].Amount.Equal(d("540")))
	assert.True(t, info.Distribution[2].Amount.Equal(d("360")))
}

func TestComputePrizePoolDistributionBoundaries(t *testing.T) {
	tests := []struct {
		participants int
		shares       []string
	}{
		{1, nil},
		{2, nil},
		{3, []string{"1.00"}},
		{4, []string{"1.00"}},
		{5, []string{"0.60", "0.40"}},
		{9, []string{"0.60", "0.40"}},
		{10, []string{"0.50", "0.30", "0.20"}},
		{250, []string{"0.50", "0.30", "0.20"}},
	}
	for _, tc := range tests {
		info, ok := ComputePrizePool(tc.participants, decimal.NewFromInt(10))
		require.True(t, ok, "participants=%d", tc.participants)
		require.NotNil(t, info.Distribution)
		require.Len(t, info.Distribution, len(tc.shares), "participants=%d", tc.participants)
		for i, want := range tc.shares {
			assert.Equal(t, i+1, info.Distribution[i].Rank)
			assert.True(t, info.Distribution[i].Percentage.Equal(d(want)))
		}
	}
}

func TestComputePrizePoolDistributionSumsToPool(t *testing.T) {
	for _, n := range []int{3, 4, 5, 7, 10, 19, 20, 33, 50, 99, 100, 101} {
		for _, fee := range []string{"10", "0.01", "13.37", "99.99"} {
			info, ok := ComputePrizePool(n, d(fee))
			require.True(t, ok)
			sum := decimal.Zero
			for _, s := range info.Distribution {
				sum = sum.Add(s.Amount)
			}
			assert.True(t, sum.Equal(info.PrizePool), "n=%d fee=%s sum=%s pool=%s", n, fee, sum, info.PrizePool)
		}
	}
}

func TestComputePrizePoolPreconditions(t *testing.T) {
	_, ok := ComputePrizePool(0, decimal.NewFromInt(100))
	assert.False(t, ok)
	_, ok = ComputePrizePool(50, decimal.Zero)
	assert.False(t, ok)
	_, ok = ComputePrizePool(50, decimal.NewFromInt(-5))
	assert.False(t, ok)
	_, ok = ComputePrizePool(-3, decimal.NewFromInt(5))
	assert.False(t, ok)
}

func TestAwardPrizes(t *testing.T) {
	info, ok := ComputePrizePool(5, decimal.NewFromInt(20))
	require.True(t, ok)
	entries := []LeaderboardEntry{
		{Rank: 1, UserID: "a", DisplayName: "A"},
		{Rank: 2, UserID: "b", DisplayName: "B"},
		{Rank: 3, UserID: "c", DisplayName: "C"},
	}

	awards := AwardPrizes(entries, info)
	require.Len(t, awards, 2)
	assert.Equal(t, "a", awards[0].UserID)
	assert.True(t, awards[0].Amount.Equal(d("57")))
	assert.True(t, awards[1].Amount.Equal(d("38")))

	_, paid := info.PrizeFor(3)
	assert.False(t, paid)
}
