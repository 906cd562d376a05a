package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
)

// EventKind enumerates the ledger's transaction types (spec.md §4.3).
type EventKind string

const (
	EventSnapshot      EventKind = "SNAPSHOT"
	EventOrder         EventKind = "ORDER"
	EventReceipt       EventKind = "RECEIPT"
	EventSale          EventKind = "SALE"
	EventWaste         EventKind = "WASTE"
	EventAdjust        EventKind = "ADJUST"
	EventUnfulfilled   EventKind = "UNFULFILLED"
	EventSkuEdit       EventKind = "SKU_EDIT"
	EventAssortmentIn  EventKind = "ASSORTMENT_IN"
	EventAssortmentOut EventKind = "ASSORTMENT_OUT"
	EventExportLog     EventKind = "EXPORT_LOG"
)

// eventPriority fixes intra-day ordering for the AsOf fold (spec.md §4.3):
// snapshots replay first, then supply-side events, then demand-side,
// then corrections, then the unfulfilled-demand marker.
var eventPriority = map[EventKind]int{
	EventSnapshot:      0,
	EventOrder:         1,
	EventReceipt:       1,
	EventSale:          2,
	EventWaste:         2,
	EventAdjust:        3,
	EventUnfulfilled:   4,
	EventSkuEdit:       1,
	EventAssortmentIn:  1,
	EventAssortmentOut: 1,
	EventExportLog:     4,
}

// EventPriority exposes the fixed intra-day ordering used when folding
// a day's transactions, tie-broken by ascending TransactionID.
func EventPriority(e EventKind) int { return eventPriority[e] }

// Transaction is one append-only ledger row.
type Transaction struct {
	TransactionID int64
	Date          string // "YYYY-MM-DD"
	Sku           string
	Event         EventKind
	Qty           int
	ReceiptDate   string // optional, only meaningful for ORDER
	Note          string
	CreatedAt     time.Time
}

// DateRange bounds a ledger query; zero values mean unbounded.
type DateRange struct {
	From string
	To   string
}

// LedgerRepo is the append-only transaction log (spec.md §4.3). There is
// no update operation: corrections are new ADJUST rows, and the only
// deletion path is the exception revert in internal/workflow.
type LedgerRepo struct{ db *DB }

func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

// Append inserts one transaction inside tx, for callers composing a
// ledger write alongside other writes in the same writer transaction
// (e.g. order confirmation, receipt closure).
func (r *LedgerRepo) Append(tx *sql.Tx, t Transaction) (int64, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	var receiptDate any
	if t.ReceiptDate != "" {
		receiptDate = t.ReceiptDate
	}
	res, err := tx.Exec(
		`INSERT INTO transactions (date, sku, event, qty, receipt_date, note, created_at) VALUES (?,?,?,?,?,?,?)`,
		t.Date, t.Sku, string(t.Event), t.Qty, receiptDate, t.Note, t.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.ConstraintViolation, err, "append %s transaction for %s", t.Event, t.Sku)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Wrap(apperr.IntegrityError, err, "read inserted transaction id")
	}
	return id, nil
}

// AppendStandalone wraps Append in its own writer transaction, for
// callers with no other writes to compose (e.g. bulk WASTE logging).
func (r *LedgerRepo) AppendStandalone(ctx context.Context, t Transaction) (int64, error) {
	var id int64
	err := r.db.WithWriter(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = r.Append(tx, t)
		return err
	})
	return id, err
}

// AppendBatch inserts multiple transactions atomically in one writer
// transaction (spec.md §4.3's append_batch).
func (r *LedgerRepo) AppendBatch(ctx context.Context, ts []Transaction) ([]int64, error) {
	ids := make([]int64, 0, len(ts))
	err := r.db.WithWriter(ctx, func(tx *sql.Tx) error {
		for _, t := range ts {
			id, err := r.Append(tx, t)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// List returns transactions for sku within dateRange, optionally
// filtered to a subset of events, ordered by date then the fixed
// intra-day event priority then ascending transaction_id — the exact
// order the AsOf fold requires.
func (r *LedgerRepo) List(ctx context.Context, sku string, dateRange DateRange, events []EventKind) ([]Transaction, error) {
	query := `SELECT transaction_id, date, sku, event, qty, COALESCE(receipt_date,''), note, created_at
		FROM transactions WHERE sku = ?`
	args := []any{sku}
	if dateRange.From != "" {
		query += ` AND date >= ?`
		args = append(args, dateRange.From)
	}
	if dateRange.To != "" {
		query += ` AND date <= ?`
		args = append(args, dateRange.To)
	}
	if len(events) > 0 {
		query += ` AND event IN (` + placeholders(len(events)) + `)`
		for _, e := range events {
			args = append(args, string(e))
		}
	}
	query += ` ORDER BY date, CASE event
		WHEN 'SNAPSHOT' THEN 0
		WHEN 'ORDER' THEN 1 WHEN 'RECEIPT' THEN 1 WHEN 'SKU_EDIT' THEN 1
		WHEN 'ASSORTMENT_IN' THEN 1 WHEN 'ASSORTMENT_OUT' THEN 1
		WHEN 'SALE' THEN 2 WHEN 'WASTE' THEN 2
		WHEN 'ADJUST' THEN 3
		WHEN 'UNFULFILLED' THEN 4 WHEN 'EXPORT_LOG' THEN 4
		ELSE 0 END, transaction_id`

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "list transactions for %s", sku)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var event, createdAt string
		if err := rows.Scan(&t.TransactionID, &t.Date, &t.Sku, &event, &t.Qty, &t.ReceiptDate, &t.Note, &createdAt); err != nil {
			return nil, apperr.Wrap(apperr.IntegrityError, err, "scan transaction row")
		}
		t.Event = EventKind(event)
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteByID removes a single transaction. It exists solely for the
// exception-revert path in internal/workflow; the ledger is otherwise
// append-only. No compensating row is written for the deleted
// transaction.
func (r *LedgerRepo) DeleteByID(tx *sql.Tx, transactionID int64) error {
	res, err := tx.Exec(`DELETE FROM transactions WHERE transaction_id = ?`, transactionID)
	if err != nil {
		return apperr.Wrap(apperr.IntegrityError, err, "delete transaction %d", transactionID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "transaction %d not found", transactionID)
	}
	return nil
}

func placeholders(n int) string {
	s := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			s = append(s, ',')
		}
		s = append(s, '?')
	}
	return string(s)
}
