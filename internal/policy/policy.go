// Package policy composes the calendar, forecast, uncertainty, and
// shelf-life packages into the replenishment proposal algorithm of
// spec.md §4.9, including the Friday dual-lane composition.
package policy

import (
	"math"
	"time"

	"github.com/pinggolf/stockledger/internal/calendar"
	"github.com/pinggolf/stockledger/internal/forecast"
	"github.com/pinggolf/stockledger/internal/shelflife"
	"github.com/pinggolf/stockledger/internal/storage"
	"github.com/pinggolf/stockledger/internal/uncertainty"
)

// SkuParams is the subset of sku master data the policy needs.
type SkuParams struct {
	MOQ                int
	PackSize           int
	MaxStock           int
	TargetCSL          float64
	MinShelfLifeDays   int
	ShelfLifeDays      int
	WasteHorizonDays   int
	WastePenaltyMode   string
	WastePenaltyFactor float64
	WasteRiskThreshold float64
}

// PipelineEntry mirrors ledger.Pipeline to keep this package decoupled
// from internal/storage's transaction shape.
type PipelineEntry struct {
	Qty         int
	ReceiptDate string
}

// ConstraintStep records one constraint transformation applied in order
// (spec.md §4.9 step 8), for the explainability breakdown.
type ConstraintStep struct {
	Name     string
	QtyAfter int
	Reason   string
}

// Breakdown is the full explainability structure spec.md §4.9 requires.
type Breakdown struct {
	MuP              float64
	MuPBeforeUplift  float64
	PromoFactor      float64
	EventFactor      float64
	GuardFactor      float64
	SigmaDay         float64
	SigmaP           float64
	ZAlpha           float64
	S                float64
	IP               int
	QRaw             int
	ConstraintSteps  []ConstraintStep
	PenaltyApplied   bool
	PenaltyMode      string
	WasteRiskPct     float64
	CensoredDayCount int
	CensoredReasons  []string
	Method           forecast.Method
	FinalQty         int
}

// UpliftInput carries the already-computed, already-capped promo/event
// uplift and post-promo guardrail multipliers for this lane's
// protection window (spec.md §4.9 step 6). internal/replenish derives
// these from the sku's Sale.Promo history before calling Propose;
// policy itself only multiplies. A zero-value UpliftInput (the case
// for every caller that predates this feature) is treated as "no
// uplift data available" and leaves mu_P unchanged, since a real
// computed factor is never exactly zero.
type UpliftInput struct {
	PromoFactor float64
	EventFactor float64
	GuardFactor float64
}

func (u UpliftInput) multiplier() float64 {
	m := 1.0
	if u.PromoFactor != 0 {
		m *= u.PromoFactor
	}
	if u.EventFactor != 0 {
		m *= u.EventFactor
	}
	if u.GuardFactor != 0 {
		m *= u.GuardFactor
	}
	return m
}

// Input bundles everything one lane's Propose call needs.
type Input struct {
	Sku                SkuParams
	OnHand             int
	Pipeline           []PipelineEntry
	Model              *forecast.Model
	SigmaDayEstimate   uncertainty.SafetyStockInput
	OrderDate          string
	Lane               calendar.Lane
	Cal                *calendar.Calendar
	CensoredCount      int
	CensoredReasons    []string
	LotList            []storage.Lot
	LedgerOnHand       int
	ReconcileTolerance int
	Uplift             UpliftInput
}

// Propose runs the full algorithm for one lane and returns the
// confirmed quantity plus its breakdown (spec.md §4.9 steps 1-8).
func Propose(in Input) (int, Breakdown, error) {
	orderDate, err := time.Parse("2006-01-02", in.OrderDate)
	if err != nil {
		return 0, Breakdown{}, err
	}
	r1, _, p, err := in.Cal.ProtectionWindow(orderDate, in.Lane)
	if err != nil {
		return 0, Breakdown{}, err
	}

	muPBeforeUplift := forecast.SumPredict(in.Model, in.OrderDate, p)
	upliftMultiplier := in.Uplift.multiplier()
	muP := muPBeforeUplift * upliftMultiplier

	// SigmaDayEstimate.SigmaP carries the estimated *daily* residual
	// sigma (the field name is shared with internal/uncertainty's
	// SafetyStockInput, whose own horizon scaling we apply here with
	// this lane's protection period).
	sigmaDay := in.SigmaDayEstimate.SigmaP
	var sigmaP float64
	switch {
	case in.SigmaDayEstimate.HasResiduals:
		sigmaP = uncertainty.HorizonSigma(sigmaDay, p)
	case in.SigmaDayEstimate.HasIntermittentEst:
		sigmaDay = in.SigmaDayEstimate.IntermittentSizeEst
		sigmaP = uncertainty.HorizonSigma(sigmaDay, p)
	default:
		sigmaDay = 0
		sigmaP = float64(in.SigmaDayEstimate.ConfiguredSafetyStock)
	}
	zAlpha := uncertainty.ZAlpha(in.Sku.TargetCSL)
	safetyStock := zAlpha * sigmaP
	if !in.SigmaDayEstimate.HasResiduals && !in.SigmaDayEstimate.HasIntermittentEst {
		// Final fallback per spec.md §4.8: use the SKU's own configured
		// safety stock as-is, not z_alpha-scaled.
		safetyStock = sigmaP
	}
	s := muP + safetyStock

	ip := in.OnHand
	r1Str := r1.Format("2006-01-02")
	for _, pe := range in.Pipeline {
		if pe.ReceiptDate <= r1Str {
			ip += pe.Qty
		}
	}

	qRaw := int(math.Max(0, math.Round(s-float64(ip))))

	bd := Breakdown{
		MuP: muP, MuPBeforeUplift: muPBeforeUplift, SigmaDay: sigmaDay, SigmaP: sigmaP, ZAlpha: zAlpha, S: s, IP: ip, QRaw: qRaw,
		CensoredDayCount: in.CensoredCount, CensoredReasons: in.CensoredReasons, Method: in.Model.Method,
	}
	if upliftMultiplier != 1 {
		bd.PromoFactor, bd.EventFactor, bd.GuardFactor = in.Uplift.PromoFactor, in.Uplift.EventFactor, in.Uplift.GuardFactor
		bd.ConstraintSteps = append(bd.ConstraintSteps, ConstraintStep{Name: "promo_event_uplift", QtyAfter: qRaw, Reason: "mu_p scaled by promo/event/guardrail factors"})
	}

	qty := qRaw

	// Shelf-life penalty (spec.md §4.5) only applies to perishable SKUs.
	if in.Sku.ShelfLifeDays > 0 {
		analysis := shelflife.Analyze(in.LotList, in.OrderDate, in.Sku.MinShelfLifeDays, in.Sku.WasteHorizonDays, in.LedgerOnHand, in.ReconcileTolerance)
		bd.WasteRiskPct = analysis.WasteRiskPct
		if !analysis.FellBack {
			outcome := shelflife.ApplyPenalty(qty, analysis.WasteRiskPct, in.Sku.WasteRiskThreshold, in.Sku.WastePenaltyMode, in.Sku.WastePenaltyFactor)
			if outcome.Applied {
				bd.PenaltyApplied = true
				bd.PenaltyMode = in.Sku.WastePenaltyMode
				qty = outcome.QtyAfter
				bd.ConstraintSteps = append(bd.ConstraintSteps, ConstraintStep{Name: "shelf_life_penalty", QtyAfter: qty, Reason: in.Sku.WastePenaltyMode})
			}
		}
	}

	qty = applyConstraints(qty, in.Sku, ip, &bd.ConstraintSteps)
	bd.FinalQty = qty
	return qty, bd, nil
}

// applyConstraints performs spec.md §4.9 step 8 in order: round to pack
// size, enforce MOQ, cap at max_stock.
func applyConstraints(qty int, sku SkuParams, ip int, steps *[]ConstraintStep) int {
	if sku.PackSize > 1 {
		qty = roundUpToMultiple(qty, sku.PackSize)
		*steps = append(*steps, ConstraintStep{Name: "pack_size_round_up", QtyAfter: qty})
	}

	if qty > 0 && qty < sku.MOQ {
		qty = 0
		*steps = append(*steps, ConstraintStep{Name: "below_moq", QtyAfter: qty, Reason: "moq"})
	}

	if sku.MaxStock > 0 {
		projected := ip + qty
		if projected > sku.MaxStock {
			allowed := sku.MaxStock - ip
			if allowed < 0 {
				allowed = 0
			}
			if sku.PackSize > 1 {
				allowed = roundDownToMultiple(allowed, sku.PackSize)
			}
			if allowed < sku.MOQ {
				allowed = 0
				*steps = append(*steps, ConstraintStep{Name: "max_stock_cap", QtyAfter: 0, Reason: "max_stock_cap"})
			} else {
				*steps = append(*steps, ConstraintStep{Name: "max_stock_cap", QtyAfter: allowed, Reason: "max_stock_cap"})
			}
			qty = allowed
		}
	}
	return qty
}

func roundUpToMultiple(qty, pack int) int {
	if pack <= 1 {
		return qty
	}
	if qty%pack == 0 {
		return qty
	}
	return (qty/pack + 1) * pack
}

func roundDownToMultiple(qty, pack int) int {
	if pack <= 1 {
		return qty
	}
	return (qty / pack) * pack
}

// FridayPairResult holds both lanes' proposals from the dual-lane
// composition.
type FridayPairResult struct {
	Saturday     int
	SaturdayBD   Breakdown
	Monday       int
	MondayBD     Breakdown
}

// ProposeFridayPair implements spec.md §4.9's Friday dual-lane
// composition: SATURDAY is computed first, then its confirmed quantity
// is injected into MONDAY's virtual pipeline as an order arriving on
// the Saturday receipt date, so the two lanes never double-order
// against the same protection window.
func ProposeFridayPair(saturdayIn, mondayIn Input) (FridayPairResult, error) {
	saturdayIn.Lane = calendar.LaneSaturday
	satQty, satBD, err := Propose(saturdayIn)
	if err != nil {
		return FridayPairResult{}, err
	}

	satReceiptDate, _, _, err := saturdayIn.Cal.ProtectionWindow(parseOrFallback(saturdayIn.OrderDate), calendar.LaneSaturday)
	if err != nil {
		return FridayPairResult{}, err
	}

	mondayIn.Lane = calendar.LaneMonday
	if satQty > 0 {
		mondayIn.Pipeline = append(append([]PipelineEntry{}, mondayIn.Pipeline...), PipelineEntry{
			Qty:         satQty,
			ReceiptDate: satReceiptDate.Format("2006-01-02"),
		})
	}
	monQty, monBD, err := Propose(mondayIn)
	if err != nil {
		return FridayPairResult{}, err
	}

	return FridayPairResult{Saturday: satQty, SaturdayBD: satBD, Monday: monQty, MondayBD: monBD}, nil
}

func parseOrFallback(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
