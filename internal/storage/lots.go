package storage

import (
	"context"
	"database/sql"

	"github.com/pinggolf/stockledger/internal/apperr"
)

// Lot is one received batch of stock with a known expiry (spec.md §3,
// §4.4). LotID is the natural key receipt_ref|sku|expiry_date.
type Lot struct {
	LotID       string
	Sku         string
	ExpiryDate  string
	QtyOnHand   int
	ReceiptRef  string
	ReceiptDate string
}

// Consumption is one lot's contribution to a FEFO draw-down.
type Consumption struct {
	LotID      string
	ExpiryDate string
	QtyTaken   int
}

// LotsRepo tracks per-lot on-hand quantity for FEFO consumption and
// shelf-life risk scoring (spec.md §4.2/§4.4).
type LotsRepo struct{ db *DB }

func NewLotsRepo(db *DB) *LotsRepo { return &LotsRepo{db: db} }

// Upsert creates a lot or adds qty to an existing lot with the same
// natural key, inside the caller's writer transaction.
func (r *LotsRepo) Upsert(tx *sql.Tx, lot Lot) error {
	_, err := tx.Exec(`
		INSERT INTO lots (lot_id, sku, expiry_date, qty_on_hand, receipt_ref, receipt_date)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(lot_id) DO UPDATE SET qty_on_hand = qty_on_hand + excluded.qty_on_hand
	`, lot.LotID, lot.Sku, lot.ExpiryDate, lot.QtyOnHand, lot.ReceiptRef, lot.ReceiptDate)
	if err != nil {
		return apperr.Wrap(apperr.ConstraintViolation, err, "upsert lot %s", lot.LotID)
	}
	return nil
}

const lotSelectBySku = `SELECT lot_id, sku, expiry_date, qty_on_hand, receipt_ref, COALESCE(receipt_date,'')
	FROM lots WHERE sku = ? AND qty_on_hand > 0 ORDER BY expiry_date, lot_id`

// ListBySku returns all lots with qty_on_hand > 0 for sku, ordered
// first-expiry-first (spec.md §4.4).
func (r *LotsRepo) ListBySku(ctx context.Context, sku string) ([]Lot, error) {
	rows, err := r.db.sql.QueryContext(ctx, lotSelectBySku, sku)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "list lots for %s", sku)
	}
	defer rows.Close()
	return scanLots(rows)
}

// listBySkuTx is the same read issued inside a writer transaction, for
// ConsumeFEFO.
func (r *LotsRepo) listBySkuTx(tx *sql.Tx, sku string) ([]Lot, error) {
	rows, err := tx.Query(lotSelectBySku, sku)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "list lots for %s", sku)
	}
	defer rows.Close()
	return scanLots(rows)
}

func scanLots(rows *sql.Rows) ([]Lot, error) {
	var out []Lot
	for rows.Next() {
		var l Lot
		if err := rows.Scan(&l.LotID, &l.Sku, &l.ExpiryDate, &l.QtyOnHand, &l.ReceiptRef, &l.ReceiptDate); err != nil {
			return nil, apperr.Wrap(apperr.IntegrityError, err, "scan lot row")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ConsumeFEFO draws down qty from sku's lots in expiry order inside tx,
// returning exactly how much was taken from each lot. If total on-hand
// is less than qty, it drains everything available and returns a short
// consumption list; the caller decides whether that shortfall is an
// error.
func (r *LotsRepo) ConsumeFEFO(tx *sql.Tx, sku string, qty int) ([]Consumption, error) {
	lots, err := r.listBySkuTx(tx, sku)
	if err != nil {
		return nil, err
	}

	var consumed []Consumption
	remaining := qty
	for _, l := range lots {
		if remaining <= 0 {
			break
		}
		take := l.QtyOnHand
		if take > remaining {
			take = remaining
		}
		if _, err := tx.Exec(`UPDATE lots SET qty_on_hand = qty_on_hand - ? WHERE lot_id = ?`, take, l.LotID); err != nil {
			return nil, apperr.Wrap(apperr.ConstraintViolation, err, "consume lot %s", l.LotID)
		}
		consumed = append(consumed, Consumption{LotID: l.LotID, ExpiryDate: l.ExpiryDate, QtyTaken: take})
		remaining -= take
	}
	return consumed, nil
}
