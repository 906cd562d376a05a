// Package lots implements the FEFO consumption and reconciliation rules
// of spec.md §4.4 on top of internal/storage's lot repository.
package lots

import (
	"sort"

	"github.com/pinggolf/stockledger/internal/storage"
)

// DefaultReconciliationToleranceUnits is used when a caller does not
// have a configured Settings.ShelfLifePolicy.ReconciliationToleranceUnits
// available (spec.md §4.4).
const DefaultReconciliationToleranceUnits = 1

// Reconciliation reports whether the lot book agrees with the ledger's
// on_hand figure closely enough to trust lot-level shelf-life detail.
type Reconciliation struct {
	LotTotal      int
	LedgerOnHand  int
	Divergence    int
	Trustworthy   bool
	Warning       string
}

// Reconcile compares the sum of lot quantities against the ledger's
// on_hand figure. When the divergence exceeds tolerance, the caller
// (internal/shelflife) must fall back to a conservative, lot-blind mode.
func Reconcile(lotList []storage.Lot, ledgerOnHand, toleranceUnits int) Reconciliation {
	total := 0
	for _, l := range lotList {
		total += l.QtyOnHand
	}
	divergence := total - ledgerOnHand
	if divergence < 0 {
		divergence = -divergence
	}
	r := Reconciliation{LotTotal: total, LedgerOnHand: ledgerOnHand, Divergence: divergence}
	r.Trustworthy = divergence <= toleranceUnits
	if !r.Trustworthy {
		r.Warning = "lot totals diverge from ledger on_hand beyond tolerance; shelf-life analysis falling back to conservative mode"
	}
	return r
}

// SortedFEFO returns lots ordered first-expiry-first, then ascending lot
// id for ties — the same order storage.LotsRepo.ConsumeFEFO applies, but
// reusable for simulation (internal/shelflife's demand-adjusted variant)
// without touching the database.
func SortedFEFO(lotList []storage.Lot) []storage.Lot {
	out := make([]storage.Lot, len(lotList))
	copy(out, lotList)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExpiryDate != out[j].ExpiryDate {
			return out[i].ExpiryDate < out[j].ExpiryDate
		}
		return out[i].LotID < out[j].LotID
	})
	return out
}

// SimulateConsume drains qty from a copy of lotList in FEFO order without
// mutating storage, returning the per-lot consumption the draw would
// produce. Used by EOD reconciliation previews and tests; the
// authoritative consumption path is storage.LotsRepo.ConsumeFEFO, which
// runs inside the writer transaction.
func SimulateConsume(lotList []storage.Lot, qty int) []storage.Consumption {
	sorted := SortedFEFO(lotList)
	var consumed []storage.Consumption
	remaining := qty
	for _, l := range sorted {
		if remaining <= 0 {
			break
		}
		take := l.QtyOnHand
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		consumed = append(consumed, storage.Consumption{LotID: l.LotID, ExpiryDate: l.ExpiryDate, QtyTaken: take})
		remaining -= take
	}
	return consumed
}

// LotID builds the natural composite key spec.md §4.10 step 5 upserts
// lots by: receipt-document reference, sku, expiry date.
func LotID(receiptRef, sku, expiryDate string) string {
	return receiptRef + "|" + sku + "|" + expiryDate
}
