package replenish

import (
	"testing"
	"time"

	"github.com/pinggolf/stockledger/internal/settings"
	"github.com/pinggolf/stockledger/internal/storage"
)

func promoHistory() []storage.SaleDay {
	var sales []storage.SaleDay
	for i := 0; i < 10; i++ {
		sales = append(sales, storage.SaleDay{Date: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), Sku: "SKU-1", QtySold: 5})
	}
	// Three historical promo days with much higher demand than baseline.
	sales = append(sales,
		storage.SaleDay{Date: "2026-01-20", Sku: "SKU-1", QtySold: 20, Promo: true},
		storage.SaleDay{Date: "2026-01-21", Sku: "SKU-1", QtySold: 22, Promo: true},
		storage.SaleDay{Date: "2026-01-22", Sku: "SKU-1", QtySold: 18, Promo: true},
	)
	return sales
}

func TestComputeUpliftScalesPromoWindowOverlap(t *testing.T) {
	doc := settings.Default()
	doc.PromoPrebuild.Enabled = true
	sales := promoHistory()
	// Append a future promo day inside [r1, r2+lead_days_max].
	sales = append(sales, storage.SaleDay{Date: "2026-02-10", Sku: "SKU-1", QtySold: 25, Promo: true})

	r1, _ := time.Parse("2006-01-02", "2026-02-06")
	r2, _ := time.Parse("2006-01-02", "2026-02-09")
	up := computeUplift(sales, doc, "2026-02-01", r1, r2)

	if up.PromoFactor <= 1 {
		t.Fatalf("expected promo window overlap to scale mu_P above 1, got %v", up.PromoFactor)
	}
	if up.PromoFactor > doc.EventUplift.MaxUpliftFactor {
		t.Fatalf("expected capped factor <= %v, got %v", doc.EventUplift.MaxUpliftFactor, up.PromoFactor)
	}
}

func TestComputeUpliftAppliesEventFactorOnlyToR1(t *testing.T) {
	doc := settings.Default()
	doc.EventUplift.Enabled = true
	sales := promoHistory()
	sales = append(sales, storage.SaleDay{Date: "2026-02-06", Sku: "SKU-1", QtySold: 25, Promo: true})

	r1, _ := time.Parse("2006-01-02", "2026-02-06")
	r2, _ := time.Parse("2006-01-02", "2026-02-09")
	up := computeUplift(sales, doc, "2026-02-01", r1, r2)
	if up.EventFactor <= 1 {
		t.Fatalf("expected event-uplift factor above 1 when r1 itself is a promo date, got %v", up.EventFactor)
	}

	nonEventR1, _ := time.Parse("2006-01-02", "2026-02-07")
	upNoEvent := computeUplift(sales, doc, "2026-02-01", nonEventR1, r2)
	if upNoEvent.EventFactor != 1 {
		t.Fatalf("expected no event-uplift factor when r1 is not a promo date, got %v", upNoEvent.EventFactor)
	}
}

func TestComputeUpliftGuardedByMinimumEventCount(t *testing.T) {
	doc := settings.Default()
	doc.PromoPrebuild.Enabled = true
	doc.EventUplift.MinEventCount = 100 // unreachable: guards off
	sales := promoHistory()
	sales = append(sales, storage.SaleDay{Date: "2026-02-10", Sku: "SKU-1", QtySold: 25, Promo: true})

	r1, _ := time.Parse("2006-01-02", "2026-02-06")
	r2, _ := time.Parse("2006-01-02", "2026-02-09")
	up := computeUplift(sales, doc, "2026-02-01", r1, r2)
	if up.PromoFactor != 1 {
		t.Fatalf("expected factor suppressed by min-event-count guard, got %v", up.PromoFactor)
	}
}

func TestComputeUpliftPostPromoGuardrailDampensNearPromo(t *testing.T) {
	doc := settings.Default()
	doc.PostPromoGuardrail.Enabled = true
	sales := promoHistory() // last historical promo day is 2026-01-22

	r1, _ := time.Parse("2006-01-02", "2026-01-25") // 3 days after, within SuppressionDays=7
	r2, _ := time.Parse("2006-01-02", "2026-01-30")
	up := computeUplift(sales, doc, "2026-01-23", r1, r2)
	if up.GuardFactor >= 1 {
		t.Fatalf("expected guard factor below 1 shortly after a promo, got %v", up.GuardFactor)
	}

	farR1, _ := time.Parse("2006-01-02", "2026-03-01")
	farR2, _ := time.Parse("2006-01-02", "2026-03-05")
	upFar := computeUplift(sales, doc, "2026-01-23", farR1, farR2)
	if upFar.GuardFactor != 1 {
		t.Fatalf("expected no guard dampening long after the last promo, got %v", upFar.GuardFactor)
	}
}
