package ledger

import (
	"testing"

	"github.com/pinggolf/stockledger/internal/storage"
)

func TestFoldAppliesEventPriorityWithinADay(t *testing.T) {
	// Insertion order deliberately scrambled; Fold must still apply
	// RECEIPT before SALE before ADJUST regardless of transaction_id.
	txs := []storage.Transaction{
		{TransactionID: 3, Date: "2026-02-06", Event: storage.EventAdjust, Qty: 4},
		{TransactionID: 1, Date: "2026-02-06", Event: storage.EventSale, Qty: 3},
		{TransactionID: 2, Date: "2026-02-06", Event: storage.EventReceipt, Qty: 10},
	}
	s := Fold(txs)
	if s.OnHand != 4 {
		t.Fatalf("OnHand = %d, want 4 (ADJUST wins as the last-priority event)", s.OnHand)
	}
}

func TestFoldSaleNeverGoesNegative(t *testing.T) {
	txs := []storage.Transaction{
		{TransactionID: 1, Date: "2026-02-06", Event: storage.EventSnapshot, Qty: 2},
		{TransactionID: 2, Date: "2026-02-06", Event: storage.EventSale, Qty: 5},
	}
	s := Fold(txs)
	if s.OnHand != 0 {
		t.Fatalf("OnHand = %d, want 0 (sale capped at available stock)", s.OnHand)
	}
}

func TestFoldOrderAndReceiptTrackOnOrder(t *testing.T) {
	txs := []storage.Transaction{
		{TransactionID: 1, Date: "2026-02-01", Event: storage.EventOrder, Qty: 20, ReceiptDate: "2026-02-06"},
		{TransactionID: 2, Date: "2026-02-06", Event: storage.EventReceipt, Qty: 15},
	}
	s := Fold(txs)
	if s.OnOrder != 5 {
		t.Fatalf("OnOrder = %d, want 5", s.OnOrder)
	}
	if s.OnHand != 15 {
		t.Fatalf("OnHand = %d, want 15", s.OnHand)
	}
}

func TestFoldIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	a := []storage.Transaction{
		{TransactionID: 1, Date: "2026-02-06", Event: storage.EventSnapshot, Qty: 10},
		{TransactionID: 2, Date: "2026-02-06", Event: storage.EventSale, Qty: 4},
		{TransactionID: 3, Date: "2026-02-07", Event: storage.EventSale, Qty: 1},
	}
	b := []storage.Transaction{a[2], a[0], a[1]}

	sa, sb := Fold(a), Fold(b)
	if sa != sb {
		t.Fatalf("Fold not order-independent: %+v vs %+v", sa, sb)
	}
}

func TestFoldUnfulfilledTracksSeparatelyFromOnHand(t *testing.T) {
	txs := []storage.Transaction{
		{TransactionID: 1, Date: "2026-02-06", Event: storage.EventSnapshot, Qty: 5},
		{TransactionID: 2, Date: "2026-02-06", Event: storage.EventUnfulfilled, Qty: 3},
	}
	s := Fold(txs)
	if s.OnHand != 5 {
		t.Fatalf("OnHand = %d, want 5 (UNFULFILLED must not touch on_hand)", s.OnHand)
	}
	if s.UnfulfilledQty != 3 {
		t.Fatalf("UnfulfilledQty = %d, want 3", s.UnfulfilledQty)
	}
}

func TestProjectedPositionIncludesPipelineUpToTargetOnly(t *testing.T) {
	stock := Stock{OnHand: 10, UnfulfilledQty: 2}
	pipeline := []Pipeline{
		{OrderID: "A", Qty: 5, ReceiptDate: "2026-02-08"},
		{OrderID: "B", Qty: 7, ReceiptDate: "2026-02-20"},
	}
	ip := ProjectedPosition(stock, pipeline, "2026-02-10")
	if ip != 13 {
		t.Fatalf("ProjectedPosition = %d, want 13 (10 + 5 - 2)", ip)
	}
}
