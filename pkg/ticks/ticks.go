// Package ticks converts decimal prices at the API boundary to the
// integer ticks the book works in.
package ticks

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrPrecision = errors.New("ticks: finer than one tick")
	ErrRange     = errors.New("ticks: out of range")
)

// Scale is the number of decimal places one tick represents: with
// Scale 2 the price "101.25" is 10125 ticks.
type Scale int32

func (s Scale) unit() decimal.Decimal {
	return decimal.New(1, int32(s))
}

// Parse converts a decimal string to ticks.
func (s Scale) Parse(v string) (int64, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("ticks: %q: %w", v, err)
	}
	return s.FromDecimal(d)
}

func (s Scale) FromDecimal(d decimal.Decimal) (int64, error) {
	scaled := d.Mul(s.unit())
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s at scale %d", ErrPrecision, d, s)
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%w: %s", ErrRange, d)
	}
	return scaled.IntPart(), nil
}

func (s Scale) ToDecimal(t int64) decimal.Decimal {
	return decimal.New(t, -int32(s))
}

// Format renders ticks with exactly Scale decimal places.
func (s Scale) Format(t int64) string {
	return s.ToDecimal(t).StringFixed(int32(s))
}
