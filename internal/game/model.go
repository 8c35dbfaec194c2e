package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultStartingCash = 100_000

	// MaxLeaderboardConcurrency bounds the number of participants whose ledgers
	// are fetched at the same time.
	MaxLeaderboardConcurrency = 16
)

var (
	ErrInvalidSymbol          = errors.New("symbol must be 1-10 uppercase letters, digits, '.' or '-'")
	ErrChampionshipNotFound   = errors.New("championship not found")
	ErrChampionshipClosed     = errors.New("championship is not open for enrollment")
	ErrChampionshipNotRunning = errors.New("championship is not running")
	ErrAlreadyEnrolled        = errors.New("already enrolled in championship")
	ErrNotEnrolled            = errors.New("not enrolled in championship")
	ErrDuplicateParticipant   = errors.New("duplicate participant in roster")
	ErrProfileNotFound        = errors.New("participant profile not found")
	ErrPriceUnavailable       = errors.New("live price unavailable")
	ErrDuplicateIdempotency   = errors.New("duplicate idempotency key")
	ErrInsufficientFunds      = errors.New("insufficient buying power")
	ErrInsufficientShares     = errors.New("insufficient shares")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrInvalidHolding         = errors.New("invalid holding")
	ErrTxConflict             = errors.New("transaction conflict, retry")
	ErrInvalidChampionship    = errors.New("invalid championship")
	ErrUnauthorized           = errors.New("unauthorized")
)

var symbolRE = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// TransactionKind is the ledger entry type. Deposits and sells credit buying
// power, withdrawals and buys debit it.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindBuy        TransactionKind = "buy"
	KindSell       TransactionKind = "sell"
)

func ParseTransactionKind(s string) (TransactionKind, error) {
	k := TransactionKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, s)
	}
	return k, nil
}

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindBuy, KindSell:
		return true
	}
	return false
}

func (k TransactionKind) IsTrade() bool {
	return k == KindBuy || k == KindSell
}

// Signed returns amount with the sign this kind applies to buying power.
func (k TransactionKind) Signed(amount decimal.Decimal) decimal.Decimal {
	switch k {
	case KindDeposit, KindSell:
		return amount
	case KindWithdrawal, KindBuy:
		return amount.Neg()
	}
	return decimal.Zero
}

type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type Transaction struct {
	Kind   TransactionKind `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, t.Kind)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: negative %s amount %s", ErrInvalidTransaction, t.Kind, t.Amount)
	}
	return nil
}

type Holding struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

func (h Holding) Validate() error {
	if h.Quantity.IsNegative() {
		return fmt.Errorf("%w: negative quantity for %s", ErrInvalidHolding, h.Symbol)
	}
	if h.AvgPrice.IsNegative() {
		return fmt.Errorf("%w: negative average price for %s", ErrInvalidHolding, h.Symbol)
	}
	return nil
}

// BuyingPower folds a ledger into cash available and the number of trades.
func BuyingPower(txs []Transaction) (decimal.Decimal, int, error) {
	power := decimal.Zero
	trades := 0
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return decimal.Zero, 0, err
		}
		power = power.Add(t.Kind.Signed(t.Amount))
		if t.Kind.IsTrade() {
			trades++
		}
	}
	return power, trades, nil
}

// ReturnPercentage is totalReturn / startingCash * 100, or zero when there is
// no starting cash to compare against.
func ReturnPercentage(totalReturn, startingCash decimal.Decimal) decimal.Decimal {
	if !startingCash.IsPositive() {
		return decimal.Zero
	}
	return totalReturn.Div(startingCash).Mul(decimal.NewFromInt(100))
}
