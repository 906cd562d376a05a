package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
)

// OrderStatus tracks an order_logs row through receiving.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderPartial  OrderStatus = "PARTIAL"
	OrderReceived OrderStatus = "RECEIVED"
)

// Order is one order_logs row (spec.md §3, §4.10).
type Order struct {
	OrderID     string
	Sku         string
	OrderDate   string
	Lane        string
	QtyOrdered  int
	QtyReceived int
	Status      OrderStatus
	ReceiptDate string
	UpliftMeta  string
	CreatedAt   time.Time
}

// OrdersRepo is the repository for confirmed orders (spec.md §4.2).
type OrdersRepo struct{ db *DB }

func NewOrdersRepo(db *DB) *OrdersRepo { return &OrdersRepo{db: db} }

// InsertOrder records a newly confirmed order inside tx, alongside the
// ORDER ledger event the caller appends in the same transaction.
func (r *OrdersRepo) InsertOrder(tx *sql.Tx, o Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.Status == "" {
		o.Status = OrderPending
	}
	if o.UpliftMeta == "" {
		o.UpliftMeta = "{}"
	}
	_, err := tx.Exec(`
		INSERT INTO order_logs (order_id, sku, order_date, lane, qty_ordered, qty_received, status, receipt_date, uplift_meta, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, o.OrderID, o.Sku, o.OrderDate, o.Lane, o.QtyOrdered, o.QtyReceived, string(o.Status), o.ReceiptDate, o.UpliftMeta, o.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return apperr.Wrap(apperr.ConstraintViolation, err, "insert order %s", o.OrderID)
	}
	return nil
}

// Get fetches one order by id.
func (r *OrdersRepo) Get(ctx context.Context, orderID string) (Order, error) {
	row := r.db.sql.QueryRowContext(ctx, orderSelectColumns+` FROM order_logs WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return Order{}, apperr.New(apperr.NotFound, "order %s not found", orderID)
	}
	if err != nil {
		return Order{}, apperr.Wrap(apperr.IntegrityError, err, "get order %s", orderID)
	}
	return o, nil
}

// GetForUpdate fetches an order row inside a writer transaction, for
// callers about to apply a receipt against it.
func (r *OrdersRepo) GetForUpdate(tx *sql.Tx, orderID string) (Order, error) {
	row := tx.QueryRow(orderSelectColumns+` FROM order_logs WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return Order{}, apperr.New(apperr.NotFound, "order %s not found", orderID)
	}
	if err != nil {
		return Order{}, apperr.Wrap(apperr.IntegrityError, err, "get order %s", orderID)
	}
	return o, nil
}

// UpdateReceived applies a partial or final receipt to an order inside tx.
func (r *OrdersRepo) UpdateReceived(tx *sql.Tx, orderID string, qtyReceived int, status OrderStatus) error {
	res, err := tx.Exec(`UPDATE order_logs SET qty_received = ?, status = ? WHERE order_id = ?`,
		qtyReceived, string(status), orderID)
	if err != nil {
		return apperr.Wrap(apperr.ConstraintViolation, err, "update order %s", orderID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "order %s not found", orderID)
	}
	return nil
}

// ListOpen returns orders for sku not yet fully received, oldest first.
func (r *OrdersRepo) ListOpen(ctx context.Context, sku string) ([]Order, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		orderSelectColumns+` FROM order_logs WHERE sku = ? AND status != 'RECEIVED' ORDER BY order_date, order_id`, sku)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "list open orders for %s", sku)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.IntegrityError, err, "scan order row")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const orderSelectColumns = `SELECT order_id, sku, order_date, lane, qty_ordered, qty_received, status, receipt_date, uplift_meta, created_at`

func scanOrder(row scanner) (Order, error) {
	var o Order
	var status, createdAt string
	err := row.Scan(&o.OrderID, &o.Sku, &o.OrderDate, &o.Lane, &o.QtyOrdered, &o.QtyReceived, &status, &o.ReceiptDate, &o.UpliftMeta, &createdAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = OrderStatus(status)
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return o, nil
}
