package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionContract identifies a single option contract parsed from a raw
// data-feed ticker such as "BANKNIFTY27FEB2030000CE.NFO".
type OptionContract struct {
	Ticker     string // raw feed ticker
	Underlying string
	Expiry     time.Time
	Strike     int
	Type       OptionType
}

// knownUnderlyings is checked longest-first so BANKNIFTY is not
// misparsed as NIFTY.
var knownUnderlyings = []string{"BANKNIFTY", "NIFTY"}

// ParseContract parses a raw option ticker. Futures and tickers of other
// underlyings return an error.
func ParseContract(ticker string) (OptionContract, error) {
	body := strings.TrimSuffix(ticker, ".NFO")

	var underlying string
	for _, u := range knownUnderlyings {
		if strings.HasPrefix(body, u) {
			underlying = u
			break
		}
	}
	if underlying == "" {
		return OptionContract{}, fmt.Errorf("ticker %q: unknown underlying", ticker)
	}

	rest := strings.TrimPrefix(body, underlying)
	if len(rest) < 10 {
		return OptionContract{}, fmt.Errorf("ticker %q: too short", ticker)
	}

	expiry, err := time.Parse("02Jan06", titleCase(rest[:7]))
	if err != nil {
		return OptionContract{}, fmt.Errorf("ticker %q: bad expiry: %w", ticker, err)
	}

	rest = rest[7:]
	var typ OptionType
	switch {
	case strings.HasSuffix(rest, string(OptionCall)):
		typ = OptionCall
	case strings.HasSuffix(rest, string(OptionPut)):
		typ = OptionPut
	default:
		return OptionContract{}, fmt.Errorf("ticker %q: no option type suffix", ticker)
	}

	strike, err := strconv.Atoi(rest[:len(rest)-2])
	if err != nil {
		return OptionContract{}, fmt.Errorf("ticker %q: bad strike: %w", ticker, err)
	}

	return OptionContract{
		Ticker:     ticker,
		Underlying: underlying,
		Expiry:     expiry,
		Strike:     strike,
		Type:       typ,
	}, nil
}

// titleCase converts "27FEB20" to "27Feb20" for time.Parse.
func titleCase(s string) string {
	if len(s) != 7 {
		return s
	}
	return s[:2] + strings.ToUpper(s[2:3]) + strings.ToLower(s[3:5]) + s[5:]
}

// ParseContracts parses all option tickers in the day's traded set,
// silently dropping non-option tickers (futures carry an "I.NFO" style
// suffix in the feed files).
func ParseContracts(tickers []string) []OptionContract {
	out := make([]OptionContract, 0, len(tickers))
	for _, t := range tickers {
		c, err := ParseContract(t)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// NearestExpiry filters contracts down to the earliest expiry present.
func NearestExpiry(contracts []OptionContract) []OptionContract {
	if len(contracts) == 0 {
		return nil
	}
	expiries := make([]time.Time, 0, len(contracts))
	for _, c := range contracts {
		expiries = append(expiries, c.Expiry)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })
	near := expiries[0]

	out := make([]OptionContract, 0, len(contracts))
	for _, c := range contracts {
		if c.Expiry.Equal(near) {
			out = append(out, c)
		}
	}
	return out
}
