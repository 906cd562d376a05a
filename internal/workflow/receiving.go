package workflow

import (
	"context"
	"database/sql"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
	"github.com/pinggolf/stockledger/internal/lots"
	"github.com/pinggolf/stockledger/internal/storage"
)

// ReceiptItem is one caller-supplied line of a receiving document
// (spec.md §4.10): the sku, how much arrived, and optionally which
// order ids to apply it against.
type ReceiptItem struct {
	Sku            string
	QtyReceived    int
	TargetOrderIDs []string
}

// Receiving closes receiving documents against open orders, creates
// lots for perishable SKUs, and emits RECEIPT ledger events, all
// idempotent on document_id. An order is marked RECEIVED only once its
// receipts reach qty_ordered; there is no input for closing an order
// short, so no UNFULFILLED event is emitted.
type Receiving struct {
	db        *storage.DB
	receiving *storage.ReceivingRepo
	orders    *storage.OrdersRepo
	ledger    *storage.LedgerRepo
	lotsRepo  *storage.LotsRepo
	skus      *storage.SkuRepo
}

func NewReceiving(db *storage.DB, receiving *storage.ReceivingRepo, orders *storage.OrdersRepo, ledger *storage.LedgerRepo, lotsRepo *storage.LotsRepo, skus *storage.SkuRepo) *Receiving {
	return &Receiving{db: db, receiving: receiving, orders: orders, ledger: ledger, lotsRepo: lotsRepo, skus: skus}
}

// Close runs spec.md §4.10's receipt closure. It returns
// storage.ReceivingAlreadyProcessed with no writes on a replayed
// document_id.
func (r *Receiving) Close(ctx context.Context, documentID, date, receiptDate string, items []ReceiptItem) (storage.ReceivingOutcome, error) {
	storageItems := make([]storage.ReceivingItem, len(items))
	for i, it := range items {
		storageItems[i] = storage.ReceivingItem{Sku: it.Sku, QtyReceived: it.QtyReceived}
	}
	byKey := make(map[string]ReceiptItem, len(items))
	for _, it := range items {
		byKey[it.Sku] = it
	}

	return r.receiving.CloseReceiptIdempotent(ctx, documentID, date, receiptDate, storageItems, func(tx *sql.Tx, _ []storage.ReceivingItem) error {
		for _, it := range items {
			if err := r.applyItem(tx, documentID, receiptDate, it); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Receiving) applyItem(tx *sql.Tx, documentID, receiptDate string, it ReceiptItem) error {
	targets, err := r.resolveTargets(tx, it)
	if err != nil {
		return err
	}

	remaining := it.QtyReceived
	for _, orderID := range targets {
		if remaining <= 0 {
			break
		}
		order, err := r.orders.GetForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		if order.Sku != it.Sku {
			continue
		}
		capacity := order.QtyOrdered - order.QtyReceived
		if capacity <= 0 {
			continue
		}
		apply := capacity
		if apply > remaining {
			apply = remaining
		}

		newReceived := order.QtyReceived + apply
		status := storage.OrderPartial
		if newReceived >= order.QtyOrdered {
			status = storage.OrderReceived
		}
		if err := r.orders.UpdateReceived(tx, orderID, newReceived, status); err != nil {
			return err
		}
		if err := r.receiving.LinkOrderReceipt(tx, orderID, documentID, apply); err != nil {
			return err
		}

		if status == storage.OrderReceived && newReceived < order.QtyOrdered {
			if _, err := r.ledger.Append(tx, storage.Transaction{
				Date: receiptDate, Sku: it.Sku, Event: storage.EventUnfulfilled, Qty: order.QtyOrdered - newReceived,
				Note: "order " + orderID + " closed short",
			}); err != nil {
				return err
			}
		}
		remaining -= apply
	}

	if _, err := r.ledger.Append(tx, storage.Transaction{
		Date: receiptDate, Sku: it.Sku, Event: storage.EventReceipt, Qty: it.QtyReceived,
	}); err != nil {
		return err
	}

	sku, err := r.skuForUpdate(tx, it.Sku)
	if err != nil {
		return err
	}
	if sku.ShelfLifeDays > 0 {
		expiry, err := addDays(receiptDate, sku.ShelfLifeDays)
		if err != nil {
			return apperr.Wrap(apperr.InvalidInput, err, "compute expiry for %s", it.Sku)
		}
		lotID := lots.LotID(documentID, it.Sku, expiry)
		if err := r.lotsRepo.Upsert(tx, storage.Lot{
			LotID: lotID, Sku: it.Sku, ExpiryDate: expiry, QtyOnHand: it.QtyReceived,
			ReceiptRef: documentID, ReceiptDate: receiptDate,
		}); err != nil {
			return err
		}
	}
	return nil
}

// resolveTargets returns the order ids to apply a receipt item against:
// the caller's explicit list, or every open order for the sku in FIFO
// order by date then id (spec.md §4.10 step 2).
func (r *Receiving) resolveTargets(tx *sql.Tx, it ReceiptItem) ([]string, error) {
	if len(it.TargetOrderIDs) > 0 {
		return it.TargetOrderIDs, nil
	}
	rows, err := tx.Query(
		`SELECT order_id FROM order_logs WHERE sku = ? AND status != 'RECEIVED' ORDER BY order_date, order_id`,
		it.Sku,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "list open orders for %s", it.Sku)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.IntegrityError, err, "scan order id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Receiving) skuForUpdate(tx *sql.Tx, sku string) (storage.Sku, error) {
	row := tx.QueryRow(`SELECT shelf_life_days FROM skus WHERE sku = ?`, sku)
	var shelfLifeDays int
	if err := row.Scan(&shelfLifeDays); err != nil {
		if err == sql.ErrNoRows {
			return storage.Sku{}, apperr.New(apperr.NotFound, "sku %s not found", sku)
		}
		return storage.Sku{}, apperr.Wrap(apperr.IntegrityError, err, "read sku %s", sku)
	}
	return storage.Sku{Sku: sku, ShelfLifeDays: shelfLifeDays}, nil
}

func addDays(date string, days int) (string, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, days).Format("2006-01-02"), nil
}
