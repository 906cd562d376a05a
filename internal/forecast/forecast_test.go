package forecast

import "testing"

func obsFrom(dates []string, qty []float64) []Observation {
	out := make([]Observation, len(dates))
	for i := range dates {
		out[i] = Observation{Date: dates[i], QtySold: qty[i]}
	}
	return out
}

func TestFitSimpleWithFewObservationsUsesUnitFactors(t *testing.T) {
	obs := obsFrom([]string{"2026-02-01", "2026-02-02"}, []float64{4, 6})
	m := FitSimple(obs, 0.3, 0.2, 0)
	for i, f := range m.Simple.DOWFactors {
		if f != 1 {
			t.Fatalf("factor[%d] = %v, want 1 with <7 observations", i, f)
		}
	}
}

func TestFitSimpleNeverPredictsNegative(t *testing.T) {
	obs := obsFrom([]string{"2026-02-01", "2026-02-02", "2026-02-03"}, []float64{0, 0, 0})
	m := FitSimple(obs, 0.3, 0.2, 0)
	if v := PredictSingleDay(m, "2026-02-04"); v < 0 {
		t.Fatalf("predicted negative demand: %v", v)
	}
}

func TestClassifyIntermittentThresholds(t *testing.T) {
	// Long gaps between small, spiky sales -> high ADI, high CV2.
	dates := []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "d9", "d10"}
	qty := []float64{0, 0, 0, 10, 0, 0, 0, 1, 0, 0}
	c := Classify(obsFrom(dates, qty), 1.32, 0.49)
	if !c.IsIntermittent {
		t.Fatalf("expected intermittent classification, got %+v", c)
	}
}

func TestClassifySteadyDemandIsNotIntermittent(t *testing.T) {
	dates := []string{"d1", "d2", "d3", "d4", "d5"}
	qty := []float64{5, 5, 5, 5, 5}
	c := Classify(obsFrom(dates, qty), 1.32, 0.49)
	if c.IsIntermittent {
		t.Fatalf("expected non-intermittent for steady demand, got %+v", c)
	}
}

func TestFitCrostonSBAIsLowerThanPlainCroston(t *testing.T) {
	dates := []string{"d1", "d2", "d3", "d4", "d5", "d6"}
	qty := []float64{0, 5, 0, 0, 4, 0}
	obs := obsFrom(dates, qty)

	plain := FitCroston(obs, 0.2, false)
	sba := FitCroston(obs, 0.2, true)

	plainPred := PredictSingleDay(plain, "d7")
	sbaPred := PredictSingleDay(sba, "d7")
	if sbaPred >= plainPred {
		t.Fatalf("expected SBA prediction below plain Croston: sba=%v plain=%v", sbaPred, plainPred)
	}
}

func TestFitTSBRespondsToLongZeroRunByDecayingProbability(t *testing.T) {
	dates := []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8"}
	qty := []float64{5, 0, 0, 0, 0, 0, 0, 0}
	m := FitTSB(obsFrom(dates, qty), 0.3)
	if m.TSB.Prob >= 1 {
		t.Fatalf("expected demand probability to decay after zero run, got %v", m.TSB.Prob)
	}
}

func TestPredictNeverNegativeAcrossAllMethods(t *testing.T) {
	dates := []string{"d1", "d2", "d3"}
	qty := []float64{0, 0, 0}
	obs := obsFrom(dates, qty)
	models := []*Model{
		FitSimple(obs, 0.3, 0.2, 0),
		FitCroston(obs, 0.2, false),
		FitCroston(obs, 0.2, true),
		FitTSB(obs, 0.3),
	}
	for _, m := range models {
		for _, v := range Predict(m, "2026-02-01", 5) {
			if v < 0 {
				t.Fatalf("method %s predicted negative: %v", m.Method, v)
			}
		}
	}
}

func TestSelectMethodFallsBackToSimpleWhenNotIntermittent(t *testing.T) {
	dates := []string{"d1", "d2", "d3", "d4", "d5"}
	qty := []float64{5, 5, 5, 5, 5}
	cfg := Config{Alpha: 0.1, ADIThreshold: 1.32, CV2Threshold: 0.49, FallbackToSimple: true, DefaultMethod: MethodSBA}
	m := SelectMethod(obsFrom(dates, qty), cfg)
	if m != MethodSimple {
		t.Fatalf("SelectMethod = %v, want simple", m)
	}
}
