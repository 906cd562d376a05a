// Package settings models the single JSON-shaped configuration document
// described in spec.md §6: a fixed set of named sections the core reads
// through typed accessors, plus preservation of any unknown top-level
// section on write (merge-on-read, matching the teacher's monolithic
// settings-blob texture without exposing the raw blob to policy logic).
package settings

import "encoding/json"

// ReorderEngine carries the default SKU order-parameter values applied
// when a SKU does not set its own.
type ReorderEngine struct {
	DefaultMOQ          int `json:"default_moq"`
	DefaultPackSize     int `json:"default_pack_size"`
	DefaultLeadTimeDays int `json:"default_lead_time_days"`
	DefaultReviewPeriod int `json:"default_review_period"`
}

// MonteCarlo is present for compatibility with the settings document's
// historical shape; not consumed by this core (spec.md §6).
type MonteCarlo struct {
	Enabled     bool `json:"enabled"`
	Simulations int  `json:"simulations"`
}

// CategoryShelfLifeOverride overrides shelf-life policy for one category.
type CategoryShelfLifeOverride struct {
	Category          string  `json:"category"`
	MinShelfLifeDays  int     `json:"min_shelf_life_days"`
	WasteHorizonDays  int     `json:"waste_horizon_days"`
	WastePenaltyMode  string  `json:"waste_penalty_mode"`
	WastePenaltyFactor float64 `json:"waste_penalty_factor"`
}

// ShelfLifePolicy is §6's shelf_life_policy section.
type ShelfLifePolicy struct {
	Enabled                        bool                        `json:"enabled"`
	GlobalMinShelfLifeDays         int                         `json:"global_min_shelf_life_days"`
	WasteHorizonDays               int                         `json:"waste_horizon_days"`
	WastePenaltyMode               string                      `json:"waste_penalty_mode"`
	WastePenaltyFactor             float64                     `json:"waste_penalty_factor"`
	WasteRiskThreshold             float64                     `json:"waste_risk_threshold"`
	CategoryOverrides              []CategoryShelfLifeOverride `json:"category_overrides"`
	RealizationFactor              float64                     `json:"realization_factor"`
	ReconciliationToleranceUnits   int                         `json:"reconciliation_tolerance_units"`
}

// ServiceLevel is §6's service_level section.
type ServiceLevel struct {
	Metric       string             `json:"metric"` // "csl" | "fill_rate"
	DefaultCSL   float64            `json:"default_csl"`
	ClusterCSLs  map[string]float64 `json:"cluster_csls"`
}

// IntermittentForecast is §6's intermittent_forecast section.
type IntermittentForecast struct {
	Enabled               bool    `json:"enabled"`
	ADIThreshold          float64 `json:"adi_threshold"`
	CV2Threshold          float64 `json:"cv2_threshold"`
	Alpha                 float64 `json:"alpha"`
	CensorLookbackDays    int     `json:"censor_lookback_days"`
	BacktestMinHistory    int     `json:"backtest_min_history"`
	BacktestFolds         int     `json:"backtest_folds"`
	DefaultMethod         string  `json:"default_method"`
	FallbackToSimple      bool    `json:"fallback_to_simple"`
	ObsolescenceWindowDays int    `json:"obsolescence_window_days"`
}

// Calendar is §6's calendar section.
type Calendar struct {
	ValidOrderDays    []int `json:"valid_order_days"`    // 0=Sunday..6=Saturday
	ValidDeliveryDays []int `json:"valid_delivery_days"`
	BaseLeadTimeDays  int   `json:"base_lead_time_days"`
}

// PostPromoGuardrail is §6's post_promo_guardrail section.
type PostPromoGuardrail struct {
	Enabled           bool    `json:"enabled"`
	SuppressionDays   int     `json:"suppression_days"`
	MaxDownwardFactor float64 `json:"max_downward_factor"`
}

// EventUplift is §6's event_uplift section.
type EventUplift struct {
	Enabled        bool    `json:"enabled"`
	MaxUpliftFactor float64 `json:"max_uplift_factor"`
	MinEventCount  int     `json:"min_event_count"`
}

// PromoPrebuild is §6's promo_prebuild section.
type PromoPrebuild struct {
	Enabled      bool `json:"enabled"`
	LeadDaysMax  int  `json:"lead_days_max"`
}

// ClosedLoop is §6's closed_loop section.
type ClosedLoop struct {
	Enabled bool `json:"enabled"`
}

// Document is the full settings document. Unknown top-level keys are
// preserved in Extra and re-emitted verbatim on MarshalJSON.
type Document struct {
	ReorderEngine        ReorderEngine        `json:"reorder_engine"`
	MonteCarlo           MonteCarlo           `json:"monte_carlo"`
	ShelfLifePolicy      ShelfLifePolicy      `json:"shelf_life_policy"`
	ServiceLevel         ServiceLevel         `json:"service_level"`
	IntermittentForecast IntermittentForecast `json:"intermittent_forecast"`
	Calendar             Calendar             `json:"calendar"`
	PostPromoGuardrail   PostPromoGuardrail   `json:"post_promo_guardrail"`
	EventUplift          EventUplift          `json:"event_uplift"`
	PromoPrebuild        PromoPrebuild        `json:"promo_prebuild"`
	ClosedLoop           ClosedLoop           `json:"closed_loop"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownSections = []string{
	"reorder_engine", "monte_carlo", "shelf_life_policy", "service_level",
	"intermittent_forecast", "calendar", "post_promo_guardrail",
	"event_uplift", "promo_prebuild", "closed_loop",
}

// Default returns a Document with the defaults this core assumes absent
// explicit operator configuration.
func Default() *Document {
	return &Document{
		ReorderEngine: ReorderEngine{
			DefaultMOQ: 1, DefaultPackSize: 1, DefaultLeadTimeDays: 3, DefaultReviewPeriod: 7,
		},
		ShelfLifePolicy: ShelfLifePolicy{
			Enabled:                      true,
			WasteHorizonDays:             21,
			WastePenaltyMode:             "soft",
			WastePenaltyFactor:           0.3,
			WasteRiskThreshold:           20,
			RealizationFactor:            1.0,
			ReconciliationToleranceUnits: 1,
		},
		ServiceLevel: ServiceLevel{
			Metric:     "csl",
			DefaultCSL: 0.95,
		},
		IntermittentForecast: IntermittentForecast{
			Enabled:                true,
			ADIThreshold:           1.32,
			CV2Threshold:           0.49,
			Alpha:                  0.1,
			CensorLookbackDays:     3,
			BacktestMinHistory:     28,
			BacktestFolds:          4,
			DefaultMethod:          "sba",
			FallbackToSimple:       true,
			ObsolescenceWindowDays: 14,
		},
		Calendar: Calendar{
			ValidOrderDays:    []int{1, 2, 3, 4, 5},
			ValidDeliveryDays: []int{1, 2, 3, 4, 5, 6},
			BaseLeadTimeDays:  2,
		},
		PostPromoGuardrail: PostPromoGuardrail{SuppressionDays: 7, MaxDownwardFactor: 0.5},
		EventUplift:        EventUplift{MaxUpliftFactor: 2.0, MinEventCount: 3},
		PromoPrebuild:      PromoPrebuild{LeadDaysMax: 14},
		Extra:              map[string]json.RawMessage{},
	}
}

// MarshalJSON re-emits known sections plus any preserved unknown ones.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range d.Extra {
		out[k] = v
	}
	type known Document // avoid recursion
	kb, err := json.Marshal((*known)(d))
	if err != nil {
		return nil, err
	}
	var known2 map[string]json.RawMessage
	if err := json.Unmarshal(kb, &known2); err != nil {
		return nil, err
	}
	for k, v := range known2 {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes known sections and stashes everything else in Extra.
func (d *Document) UnmarshalJSON(data []byte) error {
	*d = *Default()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type alias Document
	tmp := alias(*d)
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*d = Document(tmp)

	d.Extra = map[string]json.RawMessage{}
	known := map[string]bool{}
	for _, k := range knownSections {
		known[k] = true
	}
	for k, v := range raw {
		if !known[k] {
			d.Extra[k] = v
		}
	}
	return nil
}
