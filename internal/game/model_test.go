package game

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValidateSymbol(t *testing.T) {
	valid := []string{"AAPL", "BRK.B", "X", "RDS-A", "T1"}
	for _, s := range valid {
		if err := ValidateSymbol(s); err != nil {
			t.Fatalf("expected symbol %q to be valid: %v", s, err)
		}
	}

	invalid := []string{"aapl", "", "1ABC", "TOOLONGSYMB", "A_B"}
	for _, s := range invalid {
		if err := ValidateSymbol(s); err == nil {
			t.Fatalf("expected symbol %q to fail", s)
		}
	}
}

func TestParseTransactionKind(t *testing.T) {
	k, err := ParseTransactionKind(" Sell ")
	if err != nil || k != KindSell {
		t.Fatalf("got %q, %v", k, err)
	}
	if _, err := ParseTransactionKind("dividend"); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestBuyingPower(t *testing.T) {
	txs := []Transaction{
		{Kind: KindDeposit, Amount: decimal.NewFromInt(10_000)},
		{Kind: KindBuy, Amount: decimal.NewFromInt(2_500)},
		{Kind: KindSell, Amount: decimal.NewFromInt(1_000)},
		{Kind: KindWithdrawal, Amount: decimal.NewFromInt(500)},
		{Kind: KindBuy, Amount: decimal.RequireFromString("0.25")},
	}
	power, trades, err := BuyingPower(txs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := decimal.RequireFromString("7999.75"); !power.Equal(want) {
		t.Fatalf("power=%s want=%s", power, want)
	}
	if trades != 3 {
		t.Fatalf("trades=%d want=3", trades)
	}
}

func TestBuyingPowerRejectsNegativeAmount(t *testing.T) {
	_, _, err := BuyingPower([]Transaction{{Kind: KindDeposit, Amount: decimal.NewFromInt(-1)}})
	if !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestReturnPercentage(t *testing.T) {
	tests := []struct {
		ret, cash string
		want      string
	}{
		{"2000", "10000", "20"},
		{"-500", "10000", "-5"},
		{"100", "0", "0"},
	}
	for _, tc := range tests {
		got := ReturnPercentage(decimal.RequireFromString(tc.ret), decimal.RequireFromString(tc.cash))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("ret=%s cash=%s got=%s want=%s", tc.ret, tc.cash, got, tc.want)
		}
	}
}

func TestValidateEntityName(t *testing.T) {
	if err := validateEntityName("Spring Invitational"); err != nil {
		t.Fatalf("expected valid name: %v", err)
	}
	if err := validateEntityName("admin cup"); err == nil {
		t.Fatalf("expected blocked name to fail")
	}
}

func TestDisplayNameFromEmail(t *testing.T) {
	tests := map[string]string{
		"Jane.Doe@example.com": "jane.doe",
		"ab@example.com":       "trader_ab",
		"@example.com":         "trader",
		"we ird!@x.io":         "we_ird",
	}
	for email, want := range tests {
		if got := displayNameFromEmail(email); got != want {
			t.Fatalf("email=%q got=%q want=%q", email, got, want)
		}
	}
}

func TestChampionshipWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := Championship{Status: StatusUpcoming, StartsAt: start, EndsAt: start.Add(72 * time.Hour)}

	if !c.AcceptsEnrollment(start.Add(-time.Hour)) {
		t.Fatalf("upcoming championship should accept enrollment")
	}
	if c.Running(start.Add(-time.Hour)) {
		t.Fatalf("championship should not run before start")
	}
	if !c.Running(start.Add(time.Hour)) {
		t.Fatalf("championship should run inside its window")
	}
	if c.AcceptsEnrollment(start.Add(72 * time.Hour)) {
		t.Fatalf("ended championship should not accept enrollment")
	}
	c.Status = StatusFinished
	if c.Running(start.Add(time.Hour)) || c.AcceptsEnrollment(start) {
		t.Fatalf("finished championship is closed")
	}
}

func TestCreateChampionshipInputValidate(t *testing.T) {
	start := time.Now()
	ok := CreateChampionshipInput{
		Name:          "Weekly",
		StartingCash:  decimal.NewFromInt(DefaultStartingCash),
		EnrollmentFee: decimal.NewFromInt(10),
		StartsAt:      start,
		EndsAt:        start.Add(time.Hour),
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := ok
	bad.EndsAt = start
	if err := bad.Validate(); !errors.Is(err, ErrInvalidChampionship) {
		t.Fatalf("expected ErrInvalidChampionship, got %v", err)
	}
	bad = ok
	bad.EnrollmentFee = decimal.NewFromInt(-1)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidChampionship) {
		t.Fatalf("expected ErrInvalidChampionship, got %v", err)
	}
}

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "123.456789", "-42.5", "100000"} {
		d := decimal.RequireFromString(s)
		if got := fromNumeric(toNumeric(d)); !got.Equal(d) {
			t.Fatalf("%s round-tripped to %s", s, got)
		}
	}
}
