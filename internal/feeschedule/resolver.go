// Package feeschedule turns the fee schedule of a service configuration into
// assessable line items for one authority.
package feeschedule

import (
	"fmt"
	"strings"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/infra"
	"github.com/shopspring/decimal"
)

// Lines returns the raw schedule lines that apply to authorityID.
// Authority-specific lines replace the default list entirely.
func Lines(def domain.FeeScheduleDef, authorityID string) []domain.FeeScheduleLine {
	if lines, ok := def.Authorities[authorityID]; ok && len(lines) > 0 {
		return lines
	}
	return def.Default
}

// Resolve converts the lines for authorityID into fee inputs in minor units.
// The first malformed line fails the whole schedule with FEE_SCHEDULE_INVALID_LINE_<n>.
func Resolve(def domain.FeeScheduleDef, authorityID string) ([]domain.FeeLineInput, error) {
	lines := Lines(def, authorityID)
	out := make([]domain.FeeLineInput, 0, len(lines))
	for i, line := range lines {
		in, err := convertLine(line)
		if err != nil {
			return nil, domain.ErrFeeScheduleInvalidLine(i+1, err.Error())
		}
		out = append(out, in)
	}
	return out, nil
}

// Validate resolves the default list and every authority list.
func Validate(def domain.FeeScheduleDef) error {
	if _, err := Resolve(def, ""); err != nil {
		return err
	}
	for authority, lines := range def.Authorities {
		for i, line := range lines {
			if _, err := convertLine(line); err != nil {
				return domain.ErrFeeScheduleInvalidLine(i+1, fmt.Sprintf("authority %s: %v", authority, err))
			}
		}
	}
	return nil
}

func convertLine(line domain.FeeScheduleLine) (domain.FeeLineInput, error) {
	headCode := domain.NormalizeHeadCode(line.FeeType)
	if headCode == "" {
		return domain.FeeLineInput{}, fmt.Errorf("feeType is required")
	}
	if err := domain.ValidateHeadCode(headCode); err != nil {
		return domain.FeeLineInput{}, err
	}

	major, err := parseAmount(line.Amount)
	if err != nil {
		return domain.FeeLineInput{}, err
	}
	if !major.IsPositive() {
		return domain.FeeLineInput{}, fmt.Errorf("amount must be positive")
	}
	minor, err := infra.MajorToMinorUnits(major)
	if err != nil {
		return domain.FeeLineInput{}, err
	}

	desc := strings.TrimSpace(line.Description)
	if desc == "" {
		desc = headCode
	}
	return domain.FeeLineInput{HeadCode: headCode, Description: desc, Amount: minor}, nil
}

// parseAmount accepts the number and string forms JSON and YAML decoding produce.
func parseAmount(v interface{}) (decimal.Decimal, error) {
	switch a := v.(type) {
	case nil:
		return decimal.Zero, fmt.Errorf("amount is required")
	case float64:
		return decimal.NewFromFloat(a), nil
	case int:
		return decimal.NewFromInt(int64(a)), nil
	case int64:
		return decimal.NewFromInt(a), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(a))
		if err != nil {
			return decimal.Zero, fmt.Errorf("amount %q is not a number", a)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("amount has unsupported type %T", v)
	}
}
