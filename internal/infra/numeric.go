package infra

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// MinorUnitScale is the number of decimal places between major and minor currency units.
const MinorUnitScale = 2

// NumericToInt64 converts a pgtype.Numeric (from PostgreSQL numeric(15,0)) to int64.
// Fractional digits are rejected: every amount column holds whole minor units.
func NumericToInt64(n pgtype.Numeric) (int64, error) {
	if !n.Valid {
		return 0, fmt.Errorf("numeric value is NULL")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("numeric value is not finite")
	}

	d := decimal.NewFromBigInt(n.Int, n.Exp)
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("numeric value %s has a fractional part", d.String())
	}

	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("numeric value %s overflows int64", bi.String())
	}
	return bi.Int64(), nil
}

// Int64ToNumeric converts an int64 to pgtype.Numeric for writing to PostgreSQL numeric(15,0).
func Int64ToNumeric(v int64) pgtype.Numeric {
	return pgtype.Numeric{
		Int:              big.NewInt(v),
		Exp:              0,
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}

// MajorToMinorUnits converts a major-unit decimal ("1250.50") to minor units (125050).
// Values with more precision than the currency supports are rejected, not rounded.
func MajorToMinorUnits(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(MinorUnitScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), MinorUnitScale)
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("amount %s overflows", d.String())
	}
	return bi.Int64(), nil
}

// FormatMinorUnits renders minor units as a fixed two-place major-unit string.
func FormatMinorUnits(v int64) string {
	return decimal.New(v, -MinorUnitScale).StringFixed(MinorUnitScale)
}
