// Package symbol builds OpenAlgo trading symbols for equities, futures and options.
package symbol

import (
	"fmt"
	"strconv"
	"strings"
)

var months = [...]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

// Equity returns the equity symbol (the upper-cased base symbol).
func Equity(base string) string {
	return strings.ToUpper(strings.TrimSpace(base))
}

// Month normalizes a month given as 1-12 or as a name/abbreviation.
func Month(month string) (string, error) {
	month = strings.TrimSpace(month)
	if n, err := strconv.Atoi(month); err == nil {
		if n < 1 || n > 12 {
			return "", fmt.Errorf("month out of range: %d", n)
		}
		return months[n-1], nil
	}
	m := strings.ToUpper(month)
	if len(m) < 3 {
		return "", fmt.Errorf("invalid month: %q", month)
	}
	for _, name := range months {
		if strings.HasPrefix(m, name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("invalid month: %q", month)
}

// Year renders a year in two digits (2024 and 24 both become "24").
func Year(year int) string {
	if year > 2000 {
		year -= 2000
	}
	return fmt.Sprintf("%02d", year)
}

// Future formats a futures symbol, e.g. BANKNIFTY24APR24FUT.
// day may be empty for monthly contracts.
func Future(base string, year int, month, day string) (string, error) {
	m, err := Month(month)
	if err != nil {
		return "", err
	}
	return Equity(base) + Year(year) + m + strings.TrimSpace(day) + "FUT", nil
}

// Option formats an options symbol, e.g. NIFTY28MAR2420800CE.
// Whole strikes drop their decimals (20800.0 -> 20800); fractional strikes keep them (292.5).
func Option(base, day, month string, year int, strike float64, optionType string) (string, error) {
	m, err := Month(month)
	if err != nil {
		return "", err
	}
	kind, err := OptionType(optionType)
	if err != nil {
		return "", err
	}
	return Equity(base) + strings.TrimSpace(day) + m + Year(year) + Strike(strike) + kind, nil
}

// OptionType maps C/CALL/CE to CE and P/PUT/PE to PE.
func OptionType(t string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "C", "CALL", "CE":
		return "CE", nil
	case "P", "PUT", "PE":
		return "PE", nil
	}
	return "", fmt.Errorf("invalid option type: %q", t)
}

// Strike renders a strike price without a trailing ".0".
func Strike(strike float64) string {
	return strconv.FormatFloat(strike, 'f', -1, 64)
}

// CommonIndices lists the frequently used index symbols of an index exchange.
func CommonIndices(exchange string) []string {
	switch strings.ToUpper(exchange) {
	case "NSE_INDEX":
		return []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "NIFTYNXT50", "MIDCPNIFTY", "INDIAVIX"}
	case "BSE_INDEX":
		return []string{"SENSEX", "BANKEX", "SENSEX50"}
	}
	return nil
}
