// Package shelflife scores a SKU's lot position for waste risk and
// applies the resulting penalty to a proposed order quantity, per
// spec.md §4.5.
package shelflife

import (
	"math"
	"time"

	"github.com/pinggolf/stockledger/internal/lots"
	"github.com/pinggolf/stockledger/internal/storage"
)

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// Analysis is the non-demand-adjusted shelf-life scoring of one SKU's
// lot position as of a check date.
type Analysis struct {
	TotalOnHand     int
	UsableQty       int
	UnusableQty     int
	ExpiringSoonQty int
	WasteRiskPct    float64
	FellBack        bool
	Warning         string
}

// daysUntil returns (expiry - checkDate).days for two "YYYY-MM-DD" dates.
func daysUntil(checkDate, expiryDate string) int {
	c, err1 := parseDate(checkDate)
	e, err2 := parseDate(expiryDate)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(e.Sub(c).Hours() / 24)
}

// Analyze classifies each lot by days-until-expiry against
// minShelfLifeDays/wasteHorizonDays and aggregates the result (spec.md
// §4.5). If the lot book fails reconciliation against ledgerOnHand, it
// falls back to a conservative on_hand-only view with zero waste risk.
func Analyze(lotList []storage.Lot, checkDate string, minShelfLifeDays, wasteHorizonDays, ledgerOnHand, toleranceUnits int) Analysis {
	recon := lots.Reconcile(lotList, ledgerOnHand, toleranceUnits)
	if !recon.Trustworthy {
		return Analysis{
			TotalOnHand: ledgerOnHand,
			UsableQty:   ledgerOnHand,
			FellBack:    true,
			Warning:     recon.Warning,
		}
	}

	var a Analysis
	for _, l := range lotList {
		a.TotalOnHand += l.QtyOnHand
		d := daysUntil(checkDate, l.ExpiryDate)
		switch {
		case d < 0:
			a.UnusableQty += l.QtyOnHand
		case d < minShelfLifeDays:
			a.UnusableQty += l.QtyOnHand
		case d <= wasteHorizonDays:
			a.UsableQty += l.QtyOnHand
			a.ExpiringSoonQty += l.QtyOnHand
		default:
			a.UsableQty += l.QtyOnHand
		}
	}
	a.WasteRiskPct = 100 * float64(a.ExpiringSoonQty) / math.Max(1, float64(a.TotalOnHand))
	return a
}

// DemandAdjusted computes the demand-adjusted waste risk (spec.md §4.5's
// demand-adjusted variant): simulating forward FEFO consumption against
// a daily demand rate lambda, including a virtual incoming lot of size
// qtyIncoming arriving at receiptDate. If lambda <= 0, it falls back to
// the non-adjusted Analyze result's WasteRiskPct.
func DemandAdjusted(lotList []storage.Lot, checkDate string, minShelfLifeDays, wasteHorizonDays int, lambda float64, qtyIncoming int, receiptDate string) float64 {
	if lambda <= 0 {
		a := Analyze(lotList, checkDate, minShelfLifeDays, wasteHorizonDays, sumQty(lotList), 0)
		return a.WasteRiskPct
	}

	combined := make([]storage.Lot, len(lotList))
	copy(combined, lotList)
	if qtyIncoming > 0 {
		combined = append(combined, storage.Lot{LotID: "~incoming~", ExpiryDate: receiptDate, QtyOnHand: qtyIncoming})
	}
	sorted := lots.SortedFEFO(combined)

	total := 0.0
	expectedWaste := 0.0
	cumulativeDays := 0.0
	for _, l := range sorted {
		total += float64(l.QtyOnHand)
		d := daysUntil(checkDate, l.ExpiryDate)
		if d < 0 || d < minShelfLifeDays || d > wasteHorizonDays {
			// Not in the expiring-soon band: consumed or discarded
			// without affecting the demand-adjusted accumulator, matching
			// the non-adjusted classification bands.
			continue
		}
		w := float64(d) - cumulativeDays
		if w < 0 {
			w = 0
		}
		expectedConsumption := math.Min(float64(l.QtyOnHand), lambda*w)
		expectedWasteFromLot := math.Max(0, float64(l.QtyOnHand)-lambda*w)
		expectedWaste += expectedWasteFromLot
		cumulativeDays += expectedConsumption / lambda
	}
	if total <= 0 {
		return 0
	}
	return 100 * expectedWaste / total
}

func sumQty(lotList []storage.Lot) int {
	total := 0
	for _, l := range lotList {
		total += l.QtyOnHand
	}
	return total
}

// PenaltyOutcome records a shelf-life penalty decision (spec.md §4.5's
// penalty application).
type PenaltyOutcome struct {
	WasteRiskPct   float64
	Mode           string // "none" | "soft" | "hard"
	QtyBefore      int
	QtyAfter       int
	Applied        bool
}

// ApplyPenalty reduces or zeroes a proposed quantity when waste risk
// meets or exceeds threshold, per the configured penalty mode.
func ApplyPenalty(qtyBefore int, wasteRiskPct, wasteRiskThreshold float64, mode string, wastePenaltyFactor float64) PenaltyOutcome {
	out := PenaltyOutcome{WasteRiskPct: wasteRiskPct, Mode: mode, QtyBefore: qtyBefore, QtyAfter: qtyBefore}
	if wasteRiskPct < wasteRiskThreshold || mode == "none" {
		return out
	}
	out.Applied = true
	switch mode {
	case "soft":
		out.QtyAfter = int(math.Round(float64(qtyBefore) * (1 - wastePenaltyFactor)))
	case "hard":
		out.QtyAfter = 0
	}
	if out.QtyAfter < 0 {
		out.QtyAfter = 0
	}
	return out
}
