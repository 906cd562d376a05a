// Package workflow implements the order-confirmation, receipt-closure,
// and exception-revert operations of spec.md §4.10 on top of
// internal/storage's repositories, composing them inside single atomic
// writer transactions.
package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
	"github.com/pinggolf/stockledger/internal/storage"
)

// ProposedOrder is one (sku, lane, qty) triple a confirmed proposal produces.
type ProposedOrder struct {
	Sku         string
	Lane        string
	Qty         int
	ReceiptDate string
}

// Orders confirms proposals into order_logs rows plus ORDER ledger
// events, all under the single writer lock (spec.md §4.10).
type Orders struct {
	db      *storage.DB
	ledger  *storage.LedgerRepo
	orders  *storage.OrdersRepo
}

func NewOrders(db *storage.DB, ledger *storage.LedgerRepo, orders *storage.OrdersRepo) *Orders {
	return &Orders{db: db, ledger: ledger, orders: orders}
}

// Confirm writes one ORDER transaction and one order_logs row per
// proposal, all inside one atomic transaction. order_id is generated as
// "{order_date:YYYYMMDD}_{next_seq:03}", where next_seq is the current
// maximum same-day suffix plus one, read under the writer lock so two
// concurrent confirmations never collide.
func (o *Orders) Confirm(ctx context.Context, orderDate string, proposals []ProposedOrder) ([]string, error) {
	if len(proposals) == 0 {
		return nil, nil
	}

	var orderIDs []string
	err := o.db.WithWriter(ctx, func(tx *sql.Tx) error {
		datePrefix := compactDate(orderDate)
		nextSeq, err := nextSequenceForDate(tx, datePrefix)
		if err != nil {
			return err
		}

		for _, p := range proposals {
			if p.Qty <= 0 {
				continue
			}
			orderID := fmt.Sprintf("%s_%03d", datePrefix, nextSeq)
			nextSeq++

			if err := o.orders.InsertOrder(tx, storage.Order{
				OrderID: orderID, Sku: p.Sku, OrderDate: orderDate, Lane: p.Lane,
				QtyOrdered: p.Qty, Status: storage.OrderPending, ReceiptDate: p.ReceiptDate,
			}); err != nil {
				return err
			}
			if _, err := o.ledger.Append(tx, storage.Transaction{
				Date: orderDate, Sku: p.Sku, Event: storage.EventOrder, Qty: p.Qty, ReceiptDate: p.ReceiptDate,
			}); err != nil {
				return err
			}
			orderIDs = append(orderIDs, orderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orderIDs, nil
}

func compactDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("20060102")
}

func nextSequenceForDate(tx *sql.Tx, datePrefix string) (int, error) {
	var maxSeq sql.NullInt64
	err := tx.QueryRow(
		`SELECT MAX(CAST(substr(order_id, instr(order_id, '_') + 1) AS INTEGER))
		 FROM order_logs WHERE order_id LIKE ? ESCAPE '\'`,
		datePrefix+`\_%`,
	).Scan(&maxSeq)
	if err != nil {
		return 0, apperr.Wrap(apperr.IntegrityError, err, "read next order sequence for %s", datePrefix)
	}
	if !maxSeq.Valid {
		return 1, nil
	}
	return int(maxSeq.Int64) + 1, nil
}
