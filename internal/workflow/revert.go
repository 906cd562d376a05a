package workflow

import (
	"context"
	"database/sql"

	"github.com/pinggolf/stockledger/internal/apperr"
	"github.com/pinggolf/stockledger/internal/storage"
)

// RevertCriteria narrows which ledger rows an exception revert targets.
// Sku, Date, and Event are required; TransactionID, when non-zero,
// targets a single row directly and ignores the rest.
type RevertCriteria struct {
	TransactionID int64
	Sku           string
	Date          string
	Event         storage.EventKind
}

// RevertResult reports what a revert actually deleted, plus any
// known-limitation warnings the operator must see.
type RevertResult struct {
	DeletedTransactionIDs []int64
	Warnings              []string
}

// Exceptions implements spec.md §4.10's exception revert: locate ledger
// rows matching criteria and delete them inside a transaction. Reverting
// a RECEIPT does not reverse the lot mutation it caused — a documented
// limitation surfaced back to the caller as a warning, never silently
// auto-repaired.
type Exceptions struct {
	db     *storage.DB
	ledger *storage.LedgerRepo
}

func NewExceptions(db *storage.DB, ledger *storage.LedgerRepo) *Exceptions {
	return &Exceptions{db: db, ledger: ledger}
}

// Revert deletes the ledger rows matching criteria.
func (e *Exceptions) Revert(ctx context.Context, criteria RevertCriteria) (RevertResult, error) {
	var result RevertResult
	var receiptSku string
	err := e.db.WithWriter(ctx, func(tx *sql.Tx) error {
		ids, err := e.matchingIDs(tx, criteria)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return apperr.New(apperr.NotFound, "no matching ledger transaction for revert criteria")
		}
		for _, id := range ids {
			var event, sku string
			if err := tx.QueryRow(`SELECT event, sku FROM transactions WHERE transaction_id = ?`, id).Scan(&event, &sku); err == nil && storage.EventKind(event) == storage.EventReceipt {
				receiptSku = sku
			}
			if err := e.ledger.DeleteByID(tx, id); err != nil {
				return err
			}
			result.DeletedTransactionIDs = append(result.DeletedTransactionIDs, id)
		}
		return nil
	})
	if err != nil {
		return RevertResult{}, err
	}
	if receiptSku != "" {
		result.Warnings = append(result.Warnings,
			"reverting a RECEIPT does not reverse the lot created at the time of receipt; review lots for "+receiptSku+" manually")
	}
	return result, nil
}

func (e *Exceptions) matchingIDs(tx *sql.Tx, criteria RevertCriteria) ([]int64, error) {
	if criteria.TransactionID != 0 {
		return []int64{criteria.TransactionID}, nil
	}
	rows, err := tx.Query(
		`SELECT transaction_id FROM transactions WHERE sku = ? AND date = ? AND event = ?`,
		criteria.Sku, criteria.Date, string(criteria.Event),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "find ledger rows for revert")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.IntegrityError, err, "scan transaction id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
