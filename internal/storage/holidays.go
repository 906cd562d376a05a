package storage

import (
	"context"
	"database/sql"

	"golang.org/x/sync/singleflight"

	"github.com/pinggolf/stockledger/internal/apperr"
)

// Holiday is one closed-calendar-day row (spec.md §3/§6).
type Holiday struct {
	Date     string
	Name     string
	Scope    string
	RuleType string
	Effect   string
}

// HolidaysRepo stores the holiday set internal/calendar is built from.
type HolidaysRepo struct {
	db    *DB
	group singleflight.Group
}

func NewHolidaysRepo(db *DB) *HolidaysRepo { return &HolidaysRepo{db: db} }

// List returns every configured holiday, regardless of date.
func (r *HolidaysRepo) List(ctx context.Context) ([]Holiday, error) {
	v, err, _ := r.group.Do("list", func() (any, error) {
		rows, err := r.db.sql.QueryContext(ctx, `SELECT date, name, scope, rule_type, effect FROM holidays ORDER BY date`)
		if err != nil {
			return nil, apperr.Wrap(apperr.IntegrityError, err, "list holidays")
		}
		defer rows.Close()

		var out []Holiday
		for rows.Next() {
			var h Holiday
			if err := rows.Scan(&h.Date, &h.Name, &h.Scope, &h.RuleType, &h.Effect); err != nil {
				return nil, apperr.Wrap(apperr.IntegrityError, err, "scan holiday row")
			}
			out = append(out, h)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]Holiday), nil
}

// Upsert adds or replaces a single holiday.
func (r *HolidaysRepo) Upsert(ctx context.Context, h Holiday) error {
	return r.db.WithWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO holidays (date, name, scope, rule_type, effect) VALUES (?,?,?,?,?)
			ON CONFLICT(date) DO UPDATE SET name=excluded.name, scope=excluded.scope, rule_type=excluded.rule_type, effect=excluded.effect
		`, h.Date, h.Name, h.Scope, h.RuleType, h.Effect)
		if err != nil {
			return apperr.Wrap(apperr.ConstraintViolation, err, "upsert holiday %s", h.Date)
		}
		return nil
	})
}

// Remove deletes a holiday by date.
func (r *HolidaysRepo) Remove(ctx context.Context, date string) error {
	return r.db.WithWriter(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM holidays WHERE date = ?`, date)
		if err != nil {
			return apperr.Wrap(apperr.IntegrityError, err, "remove holiday %s", date)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apperr.New(apperr.NotFound, "holiday %s not found", date)
		}
		return nil
	})
}
