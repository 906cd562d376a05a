// Package ledger folds a SKU's append-only transaction history into a
// Stock value as of a given date (spec.md §4.3). Fold is a pure
// function of its inputs: no I/O, no clock access, deterministic
// regardless of the order transactions were originally inserted in.
package ledger

import (
	"sort"

	"github.com/pinggolf/stockledger/internal/storage"
)

// Stock is the folded position for one SKU as of one date.
type Stock struct {
	OnHand         int
	OnOrder        int
	UnfulfilledQty int
}

// Pipeline is one still-open order contributing to projected inventory
// position (spec.md §4.3, §4.9 step 4).
type Pipeline struct {
	OrderID     string
	Qty         int
	ReceiptDate string
}

// Fold replays txs (already filtered to one sku and date <= asof) into a
// Stock value, applying the fixed intra-day event priority and
// tie-breaking by ascending TransactionID. txs need not arrive
// pre-sorted; Fold sorts a local copy.
func Fold(txs []storage.Transaction) Stock {
	sorted := sortedForFold(txs)

	var s Stock
	for _, t := range sorted {
		switch t.Event {
		case storage.EventSnapshot:
			s.OnHand = t.Qty
		case storage.EventOrder:
			s.OnOrder += t.Qty
		case storage.EventReceipt:
			s.OnOrder -= t.Qty
			s.OnHand += t.Qty
		case storage.EventSale, storage.EventWaste:
			take := t.Qty
			if take > s.OnHand {
				take = s.OnHand
			}
			s.OnHand -= take
		case storage.EventAdjust:
			s.OnHand = t.Qty
		case storage.EventUnfulfilled:
			s.UnfulfilledQty += t.Qty
		default:
			// SKU_EDIT, ASSORTMENT_IN/OUT, EXPORT_LOG: audit markers, no stock impact.
		}
	}
	return s
}

// sortedForFold returns a copy of txs ordered date, event priority,
// transaction_id ascending — the exact order spec.md §4.3 requires.
func sortedForFold(txs []storage.Transaction) []storage.Transaction {
	out := make([]storage.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		pi, pj := storage.EventPriority(out[i].Event), storage.EventPriority(out[j].Event)
		if pi != pj {
			return pi < pj
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out
}

// ProjectedPosition computes IP_target (spec.md §4.3): on_hand as of the
// fold, plus pipeline quantities receiving on or before target, minus
// already-applied receipts (tracked by the caller excluding received
// pipeline entries) and unfulfilled demand.
func ProjectedPosition(stock Stock, pipeline []Pipeline, target string) int {
	ip := stock.OnHand
	for _, p := range pipeline {
		if p.ReceiptDate <= target {
			ip += p.Qty
		}
	}
	ip -= stock.UnfulfilledQty
	return ip
}
