package storage

import (
	"context"
	"database/sql"

	"github.com/pinggolf/stockledger/internal/apperr"
)

// SaleDay is one sku's observed demand on one date (spec.md §3).
type SaleDay struct {
	Date    string
	Sku     string
	QtySold int
	Promo   bool
}

// SalesRepo stores the daily sales history the forecasting and
// censoring packages read from (spec.md §4.2).
type SalesRepo struct{ db *DB }

func NewSalesRepo(db *DB) *SalesRepo { return &SalesRepo{db: db} }

// Upsert records (or overwrites) one sku-day's observed sales.
func (r *SalesRepo) Upsert(ctx context.Context, s SaleDay) error {
	return r.db.WithWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO sales (date, sku, qty_sold, promo) VALUES (?,?,?,?)
			ON CONFLICT(date, sku) DO UPDATE SET qty_sold = excluded.qty_sold, promo = excluded.promo
		`, s.Date, s.Sku, s.QtySold, boolToInt(s.Promo))
		if err != nil {
			return apperr.Wrap(apperr.ConstraintViolation, err, "upsert sale %s/%s", s.Sku, s.Date)
		}
		return nil
	})
}

// List returns sales for sku within dateRange, ordered by date.
func (r *SalesRepo) List(ctx context.Context, sku string, dateRange DateRange) ([]SaleDay, error) {
	query := `SELECT date, sku, qty_sold, promo FROM sales WHERE sku = ?`
	args := []any{sku}
	if dateRange.From != "" {
		query += ` AND date >= ?`
		args = append(args, dateRange.From)
	}
	if dateRange.To != "" {
		query += ` AND date <= ?`
		args = append(args, dateRange.To)
	}
	query += ` ORDER BY date`

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "list sales for %s", sku)
	}
	defer rows.Close()

	var out []SaleDay
	for rows.Next() {
		var s SaleDay
		var promo int
		if err := rows.Scan(&s.Date, &s.Sku, &s.QtySold, &promo); err != nil {
			return nil, apperr.Wrap(apperr.IntegrityError, err, "scan sale row")
		}
		s.Promo = promo != 0
		out = append(out, s)
	}
	return out, rows.Err()
}
