package strategy

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"breakout-trader/internal/models"
)

// Property: folding any sequence of bars through one window never
// produces more than one entry, and the leg is always in exactly one
// well-formed state.
func TestProperty_AtMostOneEntryPerWindow(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	barGen := gen.SliceOfN(60, gen.Float64Range(50, 200))

	properties.Property("at most one entry per window", prop.ForAll(
		func(closes []float64) bool {
			p := testParams()
			leg := models.FlatLeg()
			entries := 0

			minute := models.MustMinute("09:16")
			for i, c := range closes {
				in := LegInput{
					Minute:         minute + models.MinuteOfDay(i),
					ScheduledEntry: models.MustMinute("09:16"),
					Ticker:         "X",
					RefHigh:        models.Px(100),
					RefLow:         models.Px(80),
					Quote:          quote(c*1.02, c*0.98, c),
				}
				next := Next(leg, in, p)
				if leg.State != models.LegEntered && leg.State != models.LegPartiallyExited &&
					next.State == models.LegEntered {
					entries++
				}
				leg = next
			}
			return entries <= 1
		},
		barGen,
	))

	properties.Property("state is always well formed", prop.ForAll(
		func(closes []float64) bool {
			p := testParams()
			leg := models.FlatLeg()

			for i, c := range closes {
				in := LegInput{
					Minute:         models.MustMinute("09:16") + models.MinuteOfDay(i),
					ScheduledEntry: models.MustMinute("09:16"),
					Ticker:         "X",
					RefHigh:        models.Px(100),
					RefLow:         models.Px(80),
					Quote:          quote(c*1.02, c*0.98, c),
				}
				leg = Next(leg, in, p)

				switch leg.State {
				case models.LegFlat:
				case models.LegEntered, models.LegPartiallyExited:
					if !leg.EntryPrice.Valid || !leg.TP.Valid || !leg.SL.Valid {
						return false
					}
				case models.LegExited:
					if !leg.ExitPrice.Valid {
						return false
					}
				default:
					return false
				}
			}
			return true
		},
		barGen,
	))

	properties.TestingRun(t)
}

// Property: a held position always exits by the forced-close minute, and
// the realized P&L is exactly (exit - entry) * lots * lot size.
func TestProperty_ForcedCloseAlwaysExits(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("forced close exits any held position", prop.ForAll(
		func(entry, ratio float64) bool {
			p := testParams()
			leg := enteredLeg(entry, p)

			// A bar strictly inside (sl, tp) so only the forced close
			// can fire.
			close := entry * ratio
			in := LegInput{
				Minute:  p.ForcedClose,
				Ticker:  "X",
				RefHigh: models.Px(entry),
				RefLow:  models.Px(entry * 0.8),
				Quote:   quote(close, close, close),
			}
			next := Next(leg, in, p)

			if next.State != models.LegExited {
				return false
			}
			if !next.PnL.Valid {
				return false
			}
			want := (close - entry) * 2 * float64(p.LotSize)
			return approxEq(next.PnL.Value, want)
		},
		gen.Float64Range(50, 150),
		gen.Float64Range(0.75, 1.05),
	))

	properties.TestingRun(t)
}

func approxEq(a, b float64) bool {
	d := a - b
	return d < 1e-6 && d > -1e-6
}
