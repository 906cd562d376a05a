package lots

import (
	"testing"

	"github.com/pinggolf/stockledger/internal/storage"
)

func TestReconcileWithinToleranceIsTrustworthy(t *testing.T) {
	lotList := []storage.Lot{{LotID: "A", QtyOnHand: 10}, {LotID: "B", QtyOnHand: 5}}
	r := Reconcile(lotList, 14, DefaultReconciliationToleranceUnits)
	if !r.Trustworthy {
		t.Fatalf("expected trustworthy for divergence 1 within tolerance 1, got %+v", r)
	}
}

func TestReconcileBeyondToleranceWarns(t *testing.T) {
	lotList := []storage.Lot{{LotID: "A", QtyOnHand: 10}}
	r := Reconcile(lotList, 5, DefaultReconciliationToleranceUnits)
	if r.Trustworthy {
		t.Fatalf("expected untrustworthy for divergence 5, got %+v", r)
	}
	if r.Warning == "" {
		t.Fatal("expected a warning message when untrustworthy")
	}
}

func TestSimulateConsumeFEFOOrder(t *testing.T) {
	lotList := []storage.Lot{
		{LotID: "L2", ExpiryDate: "2026-03-10", QtyOnHand: 10},
		{LotID: "L1", ExpiryDate: "2026-03-01", QtyOnHand: 4},
	}
	consumed := SimulateConsume(lotList, 6)
	if len(consumed) != 2 {
		t.Fatalf("expected 2 lots touched, got %+v", consumed)
	}
	if consumed[0].LotID != "L1" || consumed[0].QtyTaken != 4 {
		t.Fatalf("expected L1 fully consumed first, got %+v", consumed[0])
	}
	if consumed[1].LotID != "L2" || consumed[1].QtyTaken != 2 {
		t.Fatalf("expected L2 consumed for remainder, got %+v", consumed[1])
	}
}

func TestLotIDIsComposite(t *testing.T) {
	id := LotID("DOC-1", "SKU-1", "2026-03-01")
	if id != "DOC-1|SKU-1|2026-03-01" {
		t.Fatalf("unexpected lot id: %s", id)
	}
}
