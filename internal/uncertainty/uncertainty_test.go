package uncertainty

import "testing"

func TestSigmaDayMADIsRobustToOutliers(t *testing.T) {
	residuals := []float64{1, -1, 1, -1, 1, 100}
	sigma := SigmaDay(residuals, EstimatorMAD, 0)
	if sigma > 5 {
		t.Fatalf("expected MAD to resist the single outlier, got sigma=%v", sigma)
	}
}

func TestSigmaDayWinsorizedTrimsExtremes(t *testing.T) {
	residuals := []float64{1, -1, 1, -1, 1, -1, 100, -100}
	trimmed := SigmaDay(residuals, EstimatorWinsorized, 0.2)
	untrimmed := SigmaDay(residuals, EstimatorWinsorized, 0)
	if trimmed >= untrimmed {
		t.Fatalf("expected winsorizing to reduce sigma: trimmed=%v untrimmed=%v", trimmed, untrimmed)
	}
}

func TestHorizonSigmaScalesBySqrtP(t *testing.T) {
	got := HorizonSigma(2, 9)
	if got != 6 {
		t.Fatalf("HorizonSigma = %v, want 6 (2 * sqrt(9))", got)
	}
}

func TestZAlphaMatchesKnownQuantiles(t *testing.T) {
	cases := []struct {
		csl  float64
		want float64
		tol  float64
	}{
		{0.5, 0.0, 0.01},
		{0.95, 1.645, 0.01},
		{0.975, 1.96, 0.01},
		{0.99, 2.326, 0.01},
	}
	for _, c := range cases {
		got := ZAlpha(c.csl)
		if diff := got - c.want; diff > c.tol || diff < -c.tol {
			t.Fatalf("ZAlpha(%v) = %v, want ~%v", c.csl, got, c.want)
		}
	}
}

func TestSafetyStockFallsBackThroughChain(t *testing.T) {
	withResiduals := SafetyStock(SafetyStockInput{HasResiduals: true, SigmaP: 5}, 0.95)
	if withResiduals <= 0 {
		t.Fatalf("expected positive safety stock with residuals, got %v", withResiduals)
	}

	withIntermittent := SafetyStock(SafetyStockInput{HasIntermittentEst: true, IntermittentSizeEst: 2, HorizonDays: 4}, 0.95)
	if withIntermittent <= 0 {
		t.Fatalf("expected positive safety stock from intermittent fallback, got %v", withIntermittent)
	}

	configured := SafetyStock(SafetyStockInput{ConfiguredSafetyStock: 7}, 0.95)
	if configured != 7 {
		t.Fatalf("expected configured safety stock fallback, got %v", configured)
	}
}
