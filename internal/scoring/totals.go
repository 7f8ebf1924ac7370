package scoring

import (
	"math"

	"github.com/shopspring/decimal"
)

// proportion returns points*num/den rounded half-up, floored at zero.
func proportion(points, num, den int) int {
	if den <= 0 || num <= 0 {
		return 0
	}
	if num >= den {
		return points
	}
	v := decimal.NewFromInt(int64(points) * int64(num)).Div(decimal.NewFromInt(int64(den)))
	return int(v.Round(0).IntPart())
}

// Percentage is earned*100/possible rounded half-up to two decimals, 0 when nothing was possible.
func Percentage(earned, possible int) float64 {
	if possible <= 0 || earned <= 0 {
		return 0
	}
	if earned >= possible {
		return 100
	}
	v := decimal.NewFromInt(int64(earned) * 100).Div(decimal.NewFromInt(int64(possible)))
	return v.Round(2).InexactFloat64()
}

// Passed compares the integer part of percentage with the threshold. No threshold always passes.
func Passed(percentage float64, passingScore *int) bool {
	if passingScore == nil {
		return true
	}
	return int(math.Floor(percentage)) >= *passingScore
}
