package forecast

import "math"

// Config bundles the tunables spec.md §4.7/§6's intermittent_forecast
// settings section exposes.
type Config struct {
	Alpha                  float64
	ADIThreshold           float64
	CV2Threshold           float64
	BacktestMinHistory     int
	BacktestFolds          int
	DefaultMethod          Method
	FallbackToSimple       bool
	ObsolescenceWindowDays int
}

// candidateFitter pairs a fit function with the method it represents,
// for backtest scoring.
type candidateFitter struct {
	method Method
	fit    func(train []Observation) *Model
}

// SelectMethod chooses a forecasting method for obs (chronologically
// ordered, non-censored observations), applying classification, the
// obsolescence heuristic, and backtesting in that order (spec.md §4.7).
func SelectMethod(obs []Observation, cfg Config) Method {
	class := Classify(obs, cfg.ADIThreshold, cfg.CV2Threshold)
	if !class.IsIntermittent {
		if cfg.FallbackToSimple {
			return MethodSimple
		}
		return cfg.DefaultMethod
	}

	if decliningTrend(obs, cfg.ObsolescenceWindowDays) {
		return MethodTSB
	}

	if len(obs) < cfg.BacktestMinHistory {
		return cfg.DefaultMethod
	}

	candidates := []candidateFitter{
		{MethodCroston, func(train []Observation) *Model { return FitCroston(train, cfg.Alpha, false) }},
		{MethodSBA, func(train []Observation) *Model { return FitCroston(train, cfg.Alpha, true) }},
		{MethodTSB, func(train []Observation) *Model { return FitTSB(train, cfg.Alpha) }},
	}

	best := cfg.DefaultMethod
	bestScore := math.Inf(1)
	for _, c := range candidates {
		score := backtestWMAPE(obs, cfg.BacktestFolds, c.fit)
		if score < bestScore {
			bestScore = score
			best = c.method
		}
	}
	return best
}

// backtestWMAPE runs a rolling-origin backtest with folds evenly spaced
// across obs, predicting the single next day after each fold's training
// cut, and returns the pooled weighted MAPE: total absolute error over
// total actual demand across all folds.
func backtestWMAPE(obs []Observation, folds int, fit func(train []Observation) *Model) float64 {
	if folds <= 0 {
		folds = 1
	}
	minTrain := len(obs) / 2
	if minTrain < 1 {
		minTrain = 1
	}
	testable := len(obs) - minTrain
	if testable <= 0 {
		return math.Inf(1)
	}
	step := testable / folds
	if step < 1 {
		step = 1
	}

	var totalAbsErr, totalActual float64
	count := 0
	for cut := minTrain; cut < len(obs); cut += step {
		train := obs[:cut]
		actual := obs[cut].QtySold
		model := fit(train)
		predicted := PredictSingleDay(model, obs[cut].Date)
		totalAbsErr += math.Abs(actual - predicted)
		totalActual += actual
		count++
		if count >= folds {
			break
		}
	}
	if totalActual == 0 {
		if totalAbsErr == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return totalAbsErr / totalActual
}

// decliningTrend reports whether the most recent window days show a
// declining demand-size trend, comparing the mean of the first half of
// the window to the mean of the second half.
func decliningTrend(obs []Observation, window int) bool {
	if window <= 0 || len(obs) < window {
		return false
	}
	recent := obs[len(obs)-window:]
	half := window / 2
	if half == 0 {
		return false
	}
	firstMean := meanQty(recent[:half])
	secondMean := meanQty(recent[half:])
	return secondMean < firstMean*0.8
}

func meanQty(obs []Observation) float64 {
	if len(obs) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range obs {
		sum += o.QtySold
	}
	return sum / float64(len(obs))
}
