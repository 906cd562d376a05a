package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
)

// ReceivingItem is one sku line on a receiving document.
type ReceivingItem struct {
	Sku         string
	QtyReceived int
}

// ReceivingOutcome reports whether CloseReceiptIdempotent did work or
// found the document already processed (spec.md §4.10).
type ReceivingOutcome string

const (
	ReceivingInserted        ReceivingOutcome = "inserted"
	ReceivingAlreadyProcessed ReceivingOutcome = "already_processed"
)

// ReceivingRepo closes receiving documents idempotently, keyed on
// document_id (spec.md §4.2/§4.10): replaying the same document_id is a
// no-op, never a double-application of stock.
type ReceivingRepo struct{ db *DB }

func NewReceivingRepo(db *DB) *ReceivingRepo { return &ReceivingRepo{db: db} }

// CloseReceiptIdempotent records a receiving document and its per-sku
// items. apply runs inside the same writer transaction once the document
// is known-new, so the caller can update order status, append RECEIPT
// ledger rows, and create lots atomically with the document insert.
func (r *ReceivingRepo) CloseReceiptIdempotent(
	ctx context.Context,
	documentID, date, receiptDate string,
	items []ReceivingItem,
	apply func(tx *sql.Tx, items []ReceivingItem) error,
) (ReceivingOutcome, error) {
	var outcome ReceivingOutcome
	err := r.db.WithWriter(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRow(`SELECT COUNT(*) FROM receiving_logs WHERE document_id = ?`, documentID).Scan(&exists)
		if err != nil {
			return apperr.Wrap(apperr.IntegrityError, err, "check receiving document %s", documentID)
		}
		if exists > 0 {
			outcome = ReceivingAlreadyProcessed
			return nil
		}

		now := time.Now().UTC().Format(time.RFC3339)
		if _, err := tx.Exec(`INSERT INTO receiving_logs (document_id, date, receipt_date, created_at) VALUES (?,?,?,?)`,
			documentID, date, receiptDate, now); err != nil {
			return apperr.Wrap(apperr.ConstraintViolation, err, "insert receiving document %s", documentID)
		}
		for _, item := range items {
			if _, err := tx.Exec(`INSERT INTO receiving_items (document_id, sku, qty_received) VALUES (?,?,?)`,
				documentID, item.Sku, item.QtyReceived); err != nil {
				return apperr.Wrap(apperr.ConstraintViolation, err, "insert receiving item %s/%s", documentID, item.Sku)
			}
		}
		if err := apply(tx, items); err != nil {
			return err
		}
		outcome = ReceivingInserted
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// LinkOrderReceipt records how much of a document was applied against a
// given order, inside the caller's writer transaction.
func (r *ReceivingRepo) LinkOrderReceipt(tx *sql.Tx, orderID, documentID string, qtyApplied int) error {
	_, err := tx.Exec(`INSERT INTO order_receipts (order_id, document_id, qty_applied) VALUES (?,?,?)`,
		orderID, documentID, qtyApplied)
	if err != nil {
		return apperr.Wrap(apperr.ConstraintViolation, err, "link order %s to document %s", orderID, documentID)
	}
	return nil
}

// WasProcessed reports whether a document_id has already been closed,
// for callers that want to short-circuit before building the full item
// list (e.g. a CLI re-run).
func (r *ReceivingRepo) WasProcessed(ctx context.Context, documentID string) (bool, error) {
	var count int
	err := r.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM receiving_logs WHERE document_id = ?`, documentID).Scan(&count)
	if err != nil {
		return false, apperr.Wrap(apperr.IntegrityError, err, "check receiving document %s", documentID)
	}
	return count > 0, nil
}
