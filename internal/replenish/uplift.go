package replenish

import (
	"math"
	"sort"
	"time"

	"github.com/pinggolf/stockledger/internal/policy"
	"github.com/pinggolf/stockledger/internal/settings"
	"github.com/pinggolf/stockledger/internal/storage"
)

// winsorTrim is the fraction clipped from each tail of the historical
// promo/non-promo day sets before averaging, mirroring the trim style
// of internal/uncertainty's winsorizedStdDev.
const winsorTrim = 0.1

// computeUplift implements spec.md §4.9 step 6: promo window overlap
// and r1 event-uplift both scale mu_P by a capped factor derived from
// historical promo/non-promo means, winsorized and guarded by a
// minimum historical event count; a separate post-promo guardrail
// dampens mu_P for orders placed shortly after a promo ends. All three
// settings sections (post_promo_guardrail, event_uplift, promo_prebuild)
// gate one mechanism each so every persisted section is load-bearing.
func computeUplift(sales []storage.SaleDay, doc *settings.Document, orderDate string, r1, r2 time.Time) policy.UpliftInput {
	r1Str, r2Str := r1.Format("2006-01-02"), r2.Format("2006-01-02")

	var promoQty, nonPromoQty []float64
	var lastPromoDate string
	for _, s := range sales {
		if s.Date >= orderDate {
			continue // only history strictly before the order is "known" at decision time
		}
		if s.Promo {
			promoQty = append(promoQty, float64(s.QtySold))
			if s.Date > lastPromoDate {
				lastPromoDate = s.Date
			}
		} else {
			nonPromoQty = append(nonPromoQty, float64(s.QtySold))
		}
	}

	ratio := 1.0
	guarded := len(promoQty) >= doc.EventUplift.MinEventCount && len(promoQty) > 0
	if guarded {
		promoMean := winsorizedMean(promoQty, winsorTrim)
		nonPromoMean := winsorizedMean(nonPromoQty, winsorTrim)
		if nonPromoMean > 0 {
			ratio = promoMean / nonPromoMean
		}
	}
	if ratio < 1 {
		ratio = 1
	}
	cappedRatio := ratio
	if doc.EventUplift.MaxUpliftFactor > 0 && cappedRatio > doc.EventUplift.MaxUpliftFactor {
		cappedRatio = doc.EventUplift.MaxUpliftFactor
	}

	promoFactor := 1.0
	if doc.PromoPrebuild.Enabled && guarded {
		windowEnd := r2Str
		if doc.PromoPrebuild.LeadDaysMax > 0 {
			windowEnd = r2.AddDate(0, 0, doc.PromoPrebuild.LeadDaysMax).Format("2006-01-02")
		}
		if anyPromoDateInRange(sales, r1Str, windowEnd) {
			promoFactor = cappedRatio
		}
	}

	eventFactor := 1.0
	if doc.EventUplift.Enabled && guarded && isPromoDate(sales, r1Str) {
		eventFactor = cappedRatio
	}

	guardFactor := 1.0
	if doc.PostPromoGuardrail.Enabled && lastPromoDate != "" {
		if daysBetween(lastPromoDate, r1Str) <= doc.PostPromoGuardrail.SuppressionDays {
			guardFactor = 1 - doc.PostPromoGuardrail.MaxDownwardFactor
			const guardFloor = 0.01 // never exactly 0: Propose treats 0 as "no uplift data"
			if guardFactor < guardFloor {
				guardFactor = guardFloor
			}
		}
	}

	return policy.UpliftInput{PromoFactor: promoFactor, EventFactor: eventFactor, GuardFactor: guardFactor}
}

func anyPromoDateInRange(sales []storage.SaleDay, from, to string) bool {
	for _, s := range sales {
		if s.Promo && s.Date >= from && s.Date <= to {
			return true
		}
	}
	return false
}

func isPromoDate(sales []storage.SaleDay, date string) bool {
	for _, s := range sales {
		if s.Date == date {
			return s.Promo
		}
	}
	return false
}

// daysBetween returns b-a in whole days; a malformed date yields a
// value that never satisfies a SuppressionDays comparison.
func daysBetween(a, b string) int {
	ta, errA := time.Parse("2006-01-02", a)
	tb, errB := time.Parse("2006-01-02", b)
	if errA != nil || errB != nil {
		return math.MaxInt32
	}
	return int(tb.Sub(ta).Hours() / 24)
}

// winsorizedMean clips the top and bottom p fraction of xs to the
// boundary values, then averages, per spec.md §4.9 step 6's
// "winsorized" requirement. Mirrors internal/uncertainty's
// winsorizedStdDev trim shape.
func winsorizedMean(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	trim := int(math.Floor(float64(n) * p))
	if trim > 0 && 2*trim < n {
		lo, hi := sorted[trim], sorted[n-1-trim]
		for i := range sorted {
			if sorted[i] < lo {
				sorted[i] = lo
			}
			if sorted[i] > hi {
				sorted[i] = hi
			}
		}
	}
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(n)
}
