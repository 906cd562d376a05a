// Package forecast fits and predicts daily demand for a SKU using
// either the simple level-plus-day-of-week model or one of the
// intermittent-demand family (Croston, SBA, TSB), per spec.md §4.7.
package forecast

import (
	"math"
	"time"
)

// Observation is one non-censored demand data point the fitters consume.
type Observation struct {
	Date    string
	QtySold float64
}

// Method names the fitted model family.
type Method string

const (
	MethodSimple   Method = "simple"
	MethodCroston  Method = "croston"
	MethodSBA      Method = "sba"
	MethodTSB      Method = "tsb"
)

// Model is the fitted state needed to produce predictions. Exactly one
// of the Simple/Croston/TSB sub-states is populated, selected by Method.
type Model struct {
	Method  Method
	Simple  *simpleState
	Croston *crostonState
	TSB     *tsbState
}

// simpleState holds a level and normalized per-day-of-week factors.
type simpleState struct {
	Level       float64
	DOWFactors  [7]float64 // indexed by time.Weekday
	FactorsKnown [7]bool
}

// crostonState covers Croston and its SBA bias-corrected variant: both
// share size/interval smoothing, differing only at prediction time.
type crostonState struct {
	Alpha        float64
	Size         float64 // z_t
	Interval     float64 // p_t
	BiasCorrect  bool // true => SBA
}

// tsbState smooths size and demand probability independently, updated
// every period regardless of whether demand occurred.
type tsbState struct {
	Alpha float64
	Size  float64 // z_t
	Prob  float64 // b_t
}

// FitSimple implements the level x day-of-week model (spec.md §4.7).
// obs must be chronologically ordered and pre-filtered to non-censored
// days. alpha is the smoothing constant; alphaBoost is added to alpha
// when censoredCount > 0 to restore responsiveness, capped at 0.99.
func FitSimple(obs []Observation, alpha, alphaBoost float64, censoredCount int) *Model {
	effAlpha := alpha
	if censoredCount > 0 {
		effAlpha = math.Min(0.99, alpha+alphaBoost)
	}

	s := &simpleState{}
	if len(obs) == 0 {
		s.Level = 0
		for i := range s.DOWFactors {
			s.DOWFactors[i] = 1
		}
		return &Model{Method: MethodSimple, Simple: s}
	}

	var dowSums [7]float64
	var dowCounts [7]int
	level := obs[0].QtySold
	for _, o := range obs {
		level = effAlpha*o.QtySold + (1-effAlpha)*level
		wd := weekdayOf(o.Date)
		if level > 0 {
			dowSums[wd] += o.QtySold / level
			dowCounts[wd]++
		}
	}
	s.Level = level

	switch {
	case len(obs) < 7:
		for i := range s.DOWFactors {
			s.DOWFactors[i] = 1
		}
	case len(obs) < 14:
		for i := 0; i < 7; i++ {
			if dowCounts[i] > 0 {
				s.DOWFactors[i] = dowSums[i] / float64(dowCounts[i])
				s.FactorsKnown[i] = true
			} else {
				s.DOWFactors[i] = 1
			}
		}
		normalizeFactors(&s.DOWFactors)
	default:
		for i := 0; i < 7; i++ {
			if dowCounts[i] > 0 {
				s.DOWFactors[i] = dowSums[i] / float64(dowCounts[i])
			} else {
				s.DOWFactors[i] = 1
			}
			s.FactorsKnown[i] = true
		}
		normalizeFactors(&s.DOWFactors)
	}
	return &Model{Method: MethodSimple, Simple: s}
}

func normalizeFactors(f *[7]float64) {
	sum := 0.0
	for _, v := range f {
		sum += v
	}
	mean := sum / 7
	if mean == 0 {
		return
	}
	for i := range f {
		f[i] /= mean
	}
}

func weekdayOf(dateStr string) time.Weekday {
	d, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Sunday
	}
	return d.Weekday()
}

// Classification is the ADI/CV2 intermittency classification (spec.md §4.7).
type Classification struct {
	ADI            float64
	CV2            float64
	IsIntermittent bool
}

// Classify computes ADI and CV² over obs (which may include zero-demand
// days; ADI is defined over the full calendar span).
func Classify(obs []Observation, adiThreshold, cv2Threshold float64) Classification {
	nDays := len(obs)
	var nonZero []float64
	for _, o := range obs {
		if o.QtySold > 0 {
			nonZero = append(nonZero, o.QtySold)
		}
	}
	if len(nonZero) == 0 || nDays == 0 {
		return Classification{}
	}
	adi := float64(nDays) / float64(len(nonZero))

	mean := meanOf(nonZero)
	std := stdDevOf(nonZero, mean)
	var cv2 float64
	if mean > 0 {
		cv2 = (std / mean) * (std / mean)
	}
	return Classification{
		ADI:            adi,
		CV2:            cv2,
		IsIntermittent: adi > adiThreshold && cv2 > cv2Threshold,
	}
}

func meanOf(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDevOf(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// FitCroston fits Croston's method (biasCorrect=false) or its SBA
// bias-corrected variant (biasCorrect=true) over obs, which may include
// zero-demand days.
func FitCroston(obs []Observation, alpha float64, biasCorrect bool) *Model {
	st := &crostonState{Alpha: alpha, BiasCorrect: biasCorrect}
	sinceLastDemand := 0
	initialized := false
	for _, o := range obs {
		sinceLastDemand++
		if o.QtySold <= 0 {
			continue
		}
		if !initialized {
			st.Size = o.QtySold
			st.Interval = float64(sinceLastDemand)
			initialized = true
		} else {
			st.Size = alpha*o.QtySold + (1-alpha)*st.Size
			st.Interval = alpha*float64(sinceLastDemand) + (1-alpha)*st.Interval
		}
		sinceLastDemand = 0
	}
	if !initialized {
		st.Size, st.Interval = 0, 1
	}
	method := MethodCroston
	if biasCorrect {
		method = MethodSBA
	}
	return &Model{Method: method, Croston: st}
}

// FitTSB fits the TSB model: size and demand-probability are both
// smoothed every period, so the model responds to long zero-runs
// (spec.md §4.7), unlike Croston which only updates on demand days.
func FitTSB(obs []Observation, alpha float64) *Model {
	st := &tsbState{Alpha: alpha}
	initialized := false
	for _, o := range obs {
		occurred := 0.0
		if o.QtySold > 0 {
			occurred = 1
		}
		if !initialized {
			st.Prob = occurred
			if o.QtySold > 0 {
				st.Size = o.QtySold
			}
			initialized = true
			continue
		}
		st.Prob = alpha*occurred + (1-alpha)*st.Prob
		if o.QtySold > 0 {
			st.Size = alpha*o.QtySold + (1-alpha)*st.Size
		}
	}
	return &Model{Method: MethodTSB, TSB: st}
}

// PredictSingleDay returns one day's forecast, always non-negative.
func PredictSingleDay(m *Model, date string) float64 {
	switch m.Method {
	case MethodSimple:
		wd := weekdayOf(date)
		v := m.Simple.Level * m.Simple.DOWFactors[wd]
		return math.Max(0, v)
	case MethodCroston:
		if m.Croston.Interval <= 0 {
			return 0
		}
		return math.Max(0, m.Croston.Size/m.Croston.Interval)
	case MethodSBA:
		if m.Croston.Interval <= 0 {
			return 0
		}
		v := (m.Croston.Size / m.Croston.Interval) * (1 - m.Croston.Alpha/2)
		return math.Max(0, v)
	case MethodTSB:
		return math.Max(0, m.TSB.Prob*m.TSB.Size)
	default:
		return 0
	}
}

// Predict returns horizon daily forecasts starting the day after
// startDate (a lazy sequence in spec terms; materialized here since
// horizons are short in practice).
func Predict(m *Model, startDate string, horizon int) []float64 {
	out := make([]float64, 0, horizon)
	d, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		for i := 0; i < horizon; i++ {
			out = append(out, PredictSingleDay(m, startDate))
		}
		return out
	}
	for i := 1; i <= horizon; i++ {
		day := d.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, PredictSingleDay(m, day))
	}
	return out
}

// SumPredict is Σ predict(model, horizon) (spec.md §4.9 step 2's μ_P).
func SumPredict(m *Model, startDate string, horizon int) float64 {
	sum := 0.0
	for _, v := range Predict(m, startDate, horizon) {
		sum += v
	}
	return sum
}
