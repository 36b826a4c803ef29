package strategy

import (
	"fmt"
	"math"

	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
)

// CallStrike maps a reference-window high to the call strike: the high
// rounded down to the instrument's strike increment.
func CallStrike(windowHigh float64, increment int) int {
	return int(math.Floor(windowHigh/float64(increment))) * increment
}

// PutStrike maps a reference-window low to the put strike: the low
// rounded up to the instrument's strike increment.
func PutStrike(windowLow float64, increment int) int {
	return int(math.Ceil(windowLow/float64(increment))) * increment
}

// ResolveContract finds the nearest-expiry contract for a strike and
// option type in the day's contract set. A miss is a data-availability
// failure for that leg only; the other leg is unaffected.
func ResolveContract(contracts []models.OptionContract, strike int, typ models.OptionType) (models.OptionContract, error) {
	for _, c := range contracts {
		if c.Strike == strike && c.Type == typ {
			return c, nil
		}
	}
	return models.OptionContract{}, fmt.Errorf("%w: %d%s", apperrors.ErrNoContract, strike, typ)
}
