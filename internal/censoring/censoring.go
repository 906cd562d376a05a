// Package censoring flags demand-history days that should be excluded
// from forecast fitting and uncertainty estimation because the observed
// zero (or low) sale understates true demand, per spec.md §4.6.
package censoring

import "github.com/pinggolf/stockledger/internal/storage"

// DayObservation is one day's sales-and-stock facts needed to decide censoring.
type DayObservation struct {
	Date    string
	QtySold int
	OnHand  int // end-of-day on_hand
}

// Flag is the censoring verdict for one day.
type Flag struct {
	Date      string
	Censored  bool
	Reason    string
}

// Evaluate flags each day in days as censored if it stocked out with no
// sale, or an UNFULFILLED event exists for that sku within the lookback
// window ending on that day (spec.md §4.6).
func Evaluate(days []DayObservation, unfulfilledDates []string, lookbackDays int) []Flag {
	unfulfilled := make(map[string]bool, len(unfulfilledDates))
	for _, d := range unfulfilledDates {
		unfulfilled[d] = true
	}
	sortedDates := sortedDateKeys(days)

	out := make([]Flag, 0, len(days))
	for _, d := range days {
		if d.OnHand == 0 && d.QtySold == 0 {
			out = append(out, Flag{Date: d.Date, Censored: true, Reason: "stocked out with zero recorded sale"})
			continue
		}
		if withinLookbackOfUnfulfilled(d.Date, sortedDates, unfulfilled, lookbackDays) {
			out = append(out, Flag{Date: d.Date, Censored: true, Reason: "unfulfilled demand recorded within lookback window"})
			continue
		}
		out = append(out, Flag{Date: d.Date})
	}
	return out
}

func sortedDateKeys(days []DayObservation) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.Date
	}
	return out
}

// withinLookbackOfUnfulfilled reports whether any date in
// [d-lookbackDays, d] (inclusive, by string comparison against the
// known date set) has an UNFULFILLED event. Dates are "YYYY-MM-DD", so
// lexical ordering matches chronological ordering; lookback is applied
// by index position within the caller's date list since it is assumed
// contiguous daily data.
func withinLookbackOfUnfulfilled(date string, allDates []string, unfulfilled map[string]bool, lookbackDays int) bool {
	idx := indexOf(allDates, date)
	if idx < 0 {
		return unfulfilled[date]
	}
	start := idx - lookbackDays
	if start < 0 {
		start = 0
	}
	for i := start; i <= idx; i++ {
		if unfulfilled[allDates[i]] {
			return true
		}
	}
	return false
}

func indexOf(dates []string, target string) int {
	for i, d := range dates {
		if d == target {
			return i
		}
	}
	return -1
}

// UnfulfilledDatesFromLedger extracts the distinct dates an UNFULFILLED
// transaction occurred on, for use as Evaluate's unfulfilledDates input.
func UnfulfilledDatesFromLedger(txs []storage.Transaction) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range txs {
		if t.Event != storage.EventUnfulfilled {
			continue
		}
		if !seen[t.Date] {
			seen[t.Date] = true
			out = append(out, t.Date)
		}
	}
	return out
}
