package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
	"github.com/pinggolf/stockledger/internal/logger"
)

// Sku is the master-data row for one item (spec.md §3).
type Sku struct {
	Sku                string
	Description        string
	Barcode            string
	MOQ                int
	PackSize           int
	LeadTimeDays       int
	ReviewPeriodDays   int
	SafetyStock        int
	MaxStock           int
	ReorderPoint       int
	ShelfLifeDays      int
	MinShelfLifeDays   int
	WastePenaltyMode   string
	WastePenaltyFactor float64
	WasteRiskThreshold float64
	DemandClass        string
	Category           string
	Department         string
	OosParams          string
	ForecastMethod     string
	TargetCSL          float64
	InAssortment       bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SkuFilter narrows SkuRepo.List; zero values mean "no filter".
type SkuFilter struct {
	Category     string
	Department   string
	InAssortment *bool
}

// SkuRepo is the repository for sku master data (spec.md §4.2). It never
// exposes a delete operation: a SKU is retired via SetAssortment(false),
// never removed, so every history row's FK to skus stays valid forever.
type SkuRepo struct{ db *DB }

func NewSkuRepo(db *DB) *SkuRepo { return &SkuRepo{db: db} }

// Upsert inserts or fully replaces a sku row.
func (r *SkuRepo) Upsert(ctx context.Context, s Sku) error {
	return r.db.WithWriter(ctx, func(tx *sql.Tx) error {
		return upsertSkuTx(tx, s)
	})
}

func upsertSkuTx(tx *sql.Tx, s Sku) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if !validBarcode(s.Barcode) {
		logger.Warn("SKU", fmt.Sprintf("sku %s: barcode %q is not 12-13 digits, storing as-is", s.Sku, s.Barcode))
	}
	_, err := tx.Exec(`
		INSERT INTO skus (
			sku, description, barcode, moq, pack_size, lead_time_days, review_period_days,
			safety_stock, max_stock, reorder_point, shelf_life_days, min_shelf_life_days,
			waste_penalty_mode, waste_penalty_factor, waste_risk_threshold, demand_class,
			category, department, oos_params, forecast_method, target_csl, in_assortment,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(sku) DO UPDATE SET
			description=excluded.description, barcode=excluded.barcode, moq=excluded.moq,
			pack_size=excluded.pack_size, lead_time_days=excluded.lead_time_days,
			review_period_days=excluded.review_period_days, safety_stock=excluded.safety_stock,
			max_stock=excluded.max_stock, reorder_point=excluded.reorder_point,
			shelf_life_days=excluded.shelf_life_days, min_shelf_life_days=excluded.min_shelf_life_days,
			waste_penalty_mode=excluded.waste_penalty_mode, waste_penalty_factor=excluded.waste_penalty_factor,
			waste_risk_threshold=excluded.waste_risk_threshold, demand_class=excluded.demand_class,
			category=excluded.category, department=excluded.department, oos_params=excluded.oos_params,
			forecast_method=excluded.forecast_method, target_csl=excluded.target_csl,
			in_assortment=excluded.in_assortment, updated_at=excluded.updated_at
	`,
		s.Sku, s.Description, s.Barcode, s.MOQ, s.PackSize, s.LeadTimeDays, s.ReviewPeriodDays,
		s.SafetyStock, s.MaxStock, s.ReorderPoint, s.ShelfLifeDays, s.MinShelfLifeDays,
		s.WastePenaltyMode, s.WastePenaltyFactor, s.WasteRiskThreshold, s.DemandClass,
		s.Category, s.Department, s.OosParams, s.ForecastMethod, s.TargetCSL, boolToInt(s.InAssortment),
		s.CreatedAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return apperr.Wrap(apperr.ConstraintViolation, err, "upsert sku %s", s.Sku)
	}
	return nil
}

// Get fetches one sku by id.
func (r *SkuRepo) Get(ctx context.Context, sku string) (Sku, error) {
	row := r.db.sql.QueryRowContext(ctx, skuSelectColumns+` FROM skus WHERE sku = ?`, sku)
	s, err := scanSku(row)
	if err == sql.ErrNoRows {
		return Sku{}, apperr.New(apperr.NotFound, "sku %s not found", sku)
	}
	if err != nil {
		return Sku{}, apperr.Wrap(apperr.IntegrityError, err, "get sku %s", sku)
	}
	return s, nil
}

// List returns skus matching filter, ordered by sku.
func (r *SkuRepo) List(ctx context.Context, filter SkuFilter) ([]Sku, error) {
	query := skuSelectColumns + ` FROM skus WHERE 1=1`
	var args []any
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.Department != "" {
		query += ` AND department = ?`
		args = append(args, filter.Department)
	}
	if filter.InAssortment != nil {
		query += ` AND in_assortment = ?`
		args = append(args, boolToInt(*filter.InAssortment))
	}
	query += ` ORDER BY sku`

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "list skus")
	}
	defer rows.Close()

	var out []Sku
	for rows.Next() {
		s, err := scanSku(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.IntegrityError, err, "scan sku row")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetAssortment toggles in_assortment without touching other fields; the
// sole soft-retire path (spec.md §4.2 never exposes a hard delete).
func (r *SkuRepo) SetAssortment(ctx context.Context, sku string, inAssortment bool) error {
	return r.db.WithWriter(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE skus SET in_assortment = ?, updated_at = ? WHERE sku = ?`,
			boolToInt(inAssortment), time.Now().UTC().Format(time.RFC3339), sku)
		if err != nil {
			return apperr.Wrap(apperr.IntegrityError, err, "set assortment for %s", sku)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apperr.New(apperr.NotFound, "sku %s not found", sku)
		}
		event := "ASSORTMENT_OUT"
		if inAssortment {
			event = "ASSORTMENT_IN"
		}
		_, err = tx.Exec(`INSERT INTO transactions (date, sku, event, qty, note, created_at) VALUES (?,?,?,0,'',?)`,
			time.Now().UTC().Format("2006-01-02"), sku, event, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return apperr.Wrap(apperr.IntegrityError, err, "log assortment change for %s", sku)
		}
		return nil
	})
}

const skuSelectColumns = `SELECT sku, description, barcode, moq, pack_size, lead_time_days, review_period_days,
	safety_stock, max_stock, reorder_point, shelf_life_days, min_shelf_life_days,
	waste_penalty_mode, waste_penalty_factor, waste_risk_threshold, demand_class,
	category, department, oos_params, forecast_method, target_csl, in_assortment,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSku(row scanner) (Sku, error) {
	var s Sku
	var inAssortment int
	var createdAt, updatedAt string
	err := row.Scan(
		&s.Sku, &s.Description, &s.Barcode, &s.MOQ, &s.PackSize, &s.LeadTimeDays, &s.ReviewPeriodDays,
		&s.SafetyStock, &s.MaxStock, &s.ReorderPoint, &s.ShelfLifeDays, &s.MinShelfLifeDays,
		&s.WastePenaltyMode, &s.WastePenaltyFactor, &s.WasteRiskThreshold, &s.DemandClass,
		&s.Category, &s.Department, &s.OosParams, &s.ForecastMethod, &s.TargetCSL, &inAssortment,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return Sku{}, err
	}
	s.InAssortment = inAssortment != 0
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return s, nil
}

// validBarcode reports whether barcode is empty or 12-13 decimal digits,
// per spec.md §3/§8: an invalid barcode warns but never blocks the write.
func validBarcode(barcode string) bool {
	if barcode == "" {
		return true
	}
	if len(barcode) < 12 || len(barcode) > 13 {
		return false
	}
	for _, r := range barcode {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
