// Package replenish wires together the storage, ledger, censoring,
// forecast, uncertainty, and policy packages into the single-SKU
// proposal operation cmd/replenish and internal/batch both call. It is
// the one place in the module that knows about all of them at once;
// every package it composes stays independently testable and ignorant
// of the others, mirroring the teacher's internal/engine acting as the
// compute/glue layer on top of internal/db's plain repositories.
package replenish

import (
	"context"
	"sort"
	"time"

	"github.com/pinggolf/stockledger/internal/calendar"
	"github.com/pinggolf/stockledger/internal/censoring"
	"github.com/pinggolf/stockledger/internal/forecast"
	"github.com/pinggolf/stockledger/internal/ledger"
	"github.com/pinggolf/stockledger/internal/lots"
	"github.com/pinggolf/stockledger/internal/policy"
	"github.com/pinggolf/stockledger/internal/settings"
	"github.com/pinggolf/stockledger/internal/storage"
	"github.com/pinggolf/stockledger/internal/uncertainty"
)

// Engine holds the repositories and calendar needed to propose a
// replenishment quantity for any sku in the assortment.
type Engine struct {
	Sales    *storage.SalesRepo
	LedgerDB *storage.LedgerRepo
	Lots     *storage.LotsRepo
	Orders   *storage.OrdersRepo
	Skus     *storage.SkuRepo
	Cal      *calendar.Calendar
}

// NewEngine builds an Engine from opened repositories and a calendar
// derived from the current settings document.
func NewEngine(sales *storage.SalesRepo, ledgerRepo *storage.LedgerRepo, lotsRepo *storage.LotsRepo, orders *storage.OrdersRepo, skus *storage.SkuRepo, cal *calendar.Calendar) *Engine {
	return &Engine{Sales: sales, LedgerDB: ledgerRepo, Lots: lotsRepo, Orders: orders, Skus: skus, Cal: cal}
}

// CalendarFromSettings builds a calendar.Calendar from the Calendar
// section of a settings.Document plus any persisted holidays.
func CalendarFromSettings(doc *settings.Document, holidays []storage.Holiday) *calendar.Calendar {
	dates := make([]string, len(holidays))
	for i, h := range holidays {
		dates[i] = h.Date
	}
	return calendar.New(doc.Calendar.ValidOrderDays, doc.Calendar.ValidDeliveryDays, doc.Calendar.BaseLeadTimeDays, dates)
}

// Proposal is one sku's full replenishment proposal: the confirmed
// quantity plus the explainability breakdown from internal/policy.
type Proposal struct {
	Sku       string
	Qty       int
	Breakdown policy.Breakdown
}

// Propose runs spec.md §4.6-4.9's full pipeline for one sku on
// orderDate: load sales history and censor it, classify and fit a
// forecast model, estimate uncertainty from residuals, fold the ledger
// for the current position, and run the replenishment policy.
func (e *Engine) Propose(ctx context.Context, doc *settings.Document, sku string, orderDate string, lane calendar.Lane) (Proposal, error) {
	in, method, err := e.buildInput(ctx, doc, sku, orderDate, lane)
	if err != nil {
		return Proposal{}, err
	}

	qty, bd, err := policy.Propose(in)
	if err != nil {
		return Proposal{}, err
	}
	bd.Method = method
	return Proposal{Sku: sku, Qty: qty, Breakdown: bd}, nil
}

// ProposeFriday runs spec.md §4.9's Friday dual-lane composition for
// sku, requiring orderDate to be a Friday: the SATURDAY lane's
// confirmed quantity feeds into the MONDAY lane's virtual pipeline
// before MONDAY is computed.
func (e *Engine) ProposeFriday(ctx context.Context, doc *settings.Document, sku string, orderDate string) (policy.FridayPairResult, error) {
	satIn, _, err := e.buildInput(ctx, doc, sku, orderDate, calendar.LaneSaturday)
	if err != nil {
		return policy.FridayPairResult{}, err
	}
	monIn, _, err := e.buildInput(ctx, doc, sku, orderDate, calendar.LaneMonday)
	if err != nil {
		return policy.FridayPairResult{}, err
	}
	return policy.ProposeFridayPair(satIn, monIn)
}

// buildInput assembles a policy.Input for sku from its current sales
// history, ledger position, open orders, and lots, per spec.md
// §4.6-§4.9. It is shared by Propose (a single lane) and ProposeFriday
// (both lanes, composed by internal/policy itself).
func (e *Engine) buildInput(ctx context.Context, doc *settings.Document, sku string, orderDate string, lane calendar.Lane) (policy.Input, forecast.Method, error) {
	skuRow, err := e.Skus.Get(ctx, sku)
	if err != nil {
		return policy.Input{}, "", err
	}

	sales, err := e.Sales.List(ctx, sku, storage.DateRange{})
	if err != nil {
		return policy.Input{}, "", err
	}
	txs, err := e.LedgerDB.List(ctx, sku, storage.DateRange{}, nil)
	if err != nil {
		return policy.Input{}, "", err
	}

	unfulfilledDates := censoring.UnfulfilledDatesFromLedger(txs)
	saleDates := make([]string, len(sales))
	for i, s := range sales {
		saleDates[i] = s.Date
	}
	onHandByDate := endOfDayOnHand(txs, saleDates)

	days := make([]censoring.DayObservation, len(sales))
	for i, s := range sales {
		days[i] = censoring.DayObservation{Date: s.Date, QtySold: s.QtySold, OnHand: onHandByDate[s.Date]}
	}
	flags := censoring.Evaluate(days, unfulfilledDates, doc.IntermittentForecast.CensorLookbackDays)
	censoredSet := make(map[string]bool, len(flags))
	for _, f := range flags {
		if f.Censored {
			censoredSet[f.Date] = true
		}
	}

	obs := make([]forecast.Observation, 0, len(sales))
	for _, s := range sales {
		if censoredSet[s.Date] {
			continue
		}
		obs = append(obs, forecast.Observation{Date: s.Date, QtySold: float64(s.QtySold)})
	}

	method := policyMethod(doc, obs)
	model := fitModel(obs, doc, method, len(censoredSet))

	safetyInput := estimateSafetyStock(obs, model, censoredSet, doc)
	safetyInput.ConfiguredSafetyStock = skuRow.SafetyStock

	stock := ledger.Fold(txs)
	lotList, err := e.Lots.ListBySku(ctx, sku)
	if err != nil {
		return policy.Input{}, "", err
	}

	openOrders, err := e.Orders.ListOpen(ctx, sku)
	if err != nil {
		return policy.Input{}, "", err
	}
	pipeline := make([]policy.PipelineEntry, len(openOrders))
	for i, o := range openOrders {
		pipeline[i] = policy.PipelineEntry{Qty: o.QtyOrdered - o.QtyReceived, ReceiptDate: o.ReceiptDate}
	}

	tolerance := doc.ShelfLifePolicy.ReconciliationToleranceUnits
	if tolerance <= 0 {
		tolerance = lots.DefaultReconciliationToleranceUnits
	}

	var uplift policy.UpliftInput
	if parsedOrderDate, parseErr := time.Parse("2006-01-02", orderDate); parseErr == nil {
		if r1, r2, _, windowErr := e.Cal.ProtectionWindow(parsedOrderDate, lane); windowErr == nil {
			uplift = computeUplift(sales, doc, orderDate, r1, r2)
		}
	}

	reasons := make([]string, 0, len(flags))
	for _, f := range flags {
		if f.Censored {
			reasons = append(reasons, f.Reason)
		}
	}

	in := policy.Input{
		Sku: policy.SkuParams{
			MOQ: skuRow.MOQ, PackSize: skuRow.PackSize, MaxStock: skuRow.MaxStock,
			TargetCSL: skuRow.TargetCSL, MinShelfLifeDays: skuRow.MinShelfLifeDays,
			ShelfLifeDays: skuRow.ShelfLifeDays, WasteHorizonDays: doc.ShelfLifePolicy.WasteHorizonDays,
			WastePenaltyMode: skuRow.WastePenaltyMode, WastePenaltyFactor: skuRow.WastePenaltyFactor,
			WasteRiskThreshold: skuRow.WasteRiskThreshold,
		},
		OnHand:             stock.OnHand,
		Pipeline:           pipeline,
		Model:              model,
		SigmaDayEstimate:   safetyInput,
		OrderDate:          orderDate,
		Lane:               lane,
		Cal:                e.Cal,
		CensoredCount:      len(censoredSet),
		CensoredReasons:    reasons,
		LotList:            lotList,
		LedgerOnHand:       stock.OnHand,
		ReconcileTolerance: tolerance,
		Uplift:             uplift,
	}
	return in, method, nil
}

func policyMethod(doc *settings.Document, obs []forecast.Observation) forecast.Method {
	if !doc.IntermittentForecast.Enabled {
		return forecast.MethodSimple
	}
	cfg := forecast.Config{
		Alpha: doc.IntermittentForecast.Alpha, ADIThreshold: doc.IntermittentForecast.ADIThreshold,
		CV2Threshold: doc.IntermittentForecast.CV2Threshold, BacktestMinHistory: doc.IntermittentForecast.BacktestMinHistory,
		BacktestFolds: doc.IntermittentForecast.BacktestFolds, DefaultMethod: forecast.Method(doc.IntermittentForecast.DefaultMethod),
		FallbackToSimple: doc.IntermittentForecast.FallbackToSimple, ObsolescenceWindowDays: doc.IntermittentForecast.ObsolescenceWindowDays,
	}
	return forecast.SelectMethod(obs, cfg)
}

func fitModel(obs []forecast.Observation, doc *settings.Document, method forecast.Method, censoredCount int) *forecast.Model {
	alpha := doc.IntermittentForecast.Alpha
	switch method {
	case forecast.MethodCroston:
		return forecast.FitCroston(obs, alpha, false)
	case forecast.MethodSBA:
		return forecast.FitCroston(obs, alpha, true)
	case forecast.MethodTSB:
		return forecast.FitTSB(obs, alpha)
	default:
		return forecast.FitSimple(obs, 0.3, 0.2, censoredCount)
	}
}

// estimateSafetyStock builds the uncertainty fallback chain: residual
// sigma from non-censored observations when there are enough of them,
// else the intermittent model's own size estimate, else the
// caller-supplied configured safety stock (filled in by the caller).
func estimateSafetyStock(obs []forecast.Observation, model *forecast.Model, censoredSet map[string]bool, doc *settings.Document) uncertainty.SafetyStockInput {
	var residuals []float64
	for _, o := range obs {
		if censoredSet[o.Date] {
			continue
		}
		predicted := forecast.PredictSingleDay(model, o.Date)
		residuals = append(residuals, o.QtySold-predicted)
	}

	const minResidualsForSigma = 7
	if len(residuals) >= minResidualsForSigma {
		sigmaDay := uncertainty.SigmaDay(residuals, uncertainty.EstimatorMAD, 0)
		return uncertainty.SafetyStockInput{SigmaP: sigmaDay, HasResiduals: true}
	}
	if model.TSB != nil {
		return uncertainty.SafetyStockInput{IntermittentSizeEst: model.TSB.Size, HasIntermittentEst: true}
	}
	if model.Croston != nil {
		return uncertainty.SafetyStockInput{IntermittentSizeEst: model.Croston.Size, HasIntermittentEst: true}
	}
	return uncertainty.SafetyStockInput{}
}

// endOfDayOnHand replays the ledger fold incrementally per day so
// censoring.Evaluate can see each day's end-of-day on_hand, not just
// the current snapshot (spec.md §4.6's "on_hand=0 at end of day" test
// is a per-day historical fact, not a property of AsOf(now)).
func endOfDayOnHand(txs []storage.Transaction, days []string) map[string]int {
	byDate := make(map[string][]storage.Transaction)
	for _, tx := range txs {
		byDate[tx.Date] = append(byDate[tx.Date], tx)
	}
	for _, d := range days {
		if _, ok := byDate[d]; !ok {
			byDate[d] = nil
		}
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	result := make(map[string]int, len(dates))
	var cumulative []storage.Transaction
	for _, d := range dates {
		cumulative = append(cumulative, byDate[d]...)
		result[d] = ledger.Fold(cumulative).OnHand
	}
	return result
}
