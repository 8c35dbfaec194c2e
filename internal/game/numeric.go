package game

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Postgres NUMERIC columns travel as pgtype.Numeric; the domain uses decimal.

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// Amounts are stored with six fractional digits, quantities with eight.
const (
	amountScale   = 6
	quantityScale = 8
)

func roundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(amountScale)
}

func roundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(quantityScale)
}
