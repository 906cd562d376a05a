package censoring

import (
	"testing"

	"github.com/pinggolf/stockledger/internal/storage"
)

func TestEvaluateFlagsStockoutWithZeroSale(t *testing.T) {
	days := []DayObservation{
		{Date: "2026-02-01", QtySold: 3, OnHand: 2},
		{Date: "2026-02-02", QtySold: 0, OnHand: 0},
	}
	flags := Evaluate(days, nil, 3)
	if flags[0].Censored {
		t.Fatalf("day 1 should not be censored: %+v", flags[0])
	}
	if !flags[1].Censored {
		t.Fatalf("day 2 should be censored (stockout, zero sale): %+v", flags[1])
	}
}

func TestEvaluateFlagsLookbackWindowAroundUnfulfilled(t *testing.T) {
	days := []DayObservation{
		{Date: "2026-02-01", QtySold: 5, OnHand: 1},
		{Date: "2026-02-02", QtySold: 4, OnHand: 1},
		{Date: "2026-02-03", QtySold: 6, OnHand: 1},
		{Date: "2026-02-04", QtySold: 5, OnHand: 1},
	}
	// UNFULFILLED on 02-03 with lookback=1 should mark 02-03 and 02-04 censored
	// (each day's window [d-1, d] contains 02-03), but not 02-01 or 02-02.
	flags := Evaluate(days, []string{"2026-02-03"}, 1)
	want := map[string]bool{
		"2026-02-01": false,
		"2026-02-02": false,
		"2026-02-03": true,
		"2026-02-04": true,
	}
	for _, f := range flags {
		if f.Censored != want[f.Date] {
			t.Fatalf("date %s: Censored = %v, want %v", f.Date, f.Censored, want[f.Date])
		}
	}
}

func TestUnfulfilledDatesFromLedgerDeduplicates(t *testing.T) {
	txs := []storage.Transaction{
		{Date: "2026-02-01", Event: storage.EventUnfulfilled, Qty: 2},
		{Date: "2026-02-01", Event: storage.EventUnfulfilled, Qty: 1},
		{Date: "2026-02-02", Event: storage.EventSale, Qty: 1},
	}
	dates := UnfulfilledDatesFromLedger(txs)
	if len(dates) != 1 || dates[0] != "2026-02-01" {
		t.Fatalf("expected one deduplicated date, got %v", dates)
	}
}
