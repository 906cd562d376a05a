package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stockledger.db")
	db, err := Open(path, 2*time.Second)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSku(t *testing.T, db *DB, sku string) {
	t.Helper()
	repo := NewSkuRepo(db)
	if err := repo.Upsert(context.Background(), Sku{
		Sku: sku, MOQ: 1, PackSize: 1, TargetCSL: 0.95, InAssortment: true,
		WastePenaltyMode: "soft", DemandClass: "stable", ForecastMethod: "simple",
	}); err != nil {
		t.Fatalf("seed sku: %v", err)
	}
}

func TestMigrateIsIdempotentAndRecordsVersion(t *testing.T) {
	db := openTestDB(t)
	status, err := db.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CurrentVersion != status.NewestKnown || status.PendingCount != 0 {
		t.Fatalf("expected fully migrated, got %+v", status)
	}
}

func TestPreMigrationBackupSkippedOnFreshDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockledger.db")
	calls := 0
	db, err := Open(path, 2*time.Second, WithPreMigrationBackup(func(ctx context.Context, d *DB) error {
		calls++
		return nil
	}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if calls != 0 {
		t.Fatalf("expected no backup on first-ever creation, got %d calls", calls)
	}
}

func TestPreMigrationBackupSkippedWhenNoPendingMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockledger.db")
	db := mustOpen(t, path)
	db.Close()

	calls := 0
	reopened, err := Open(path, 2*time.Second, WithPreMigrationBackup(func(ctx context.Context, d *DB) error {
		calls++
		return nil
	}))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if calls != 0 {
		t.Fatalf("expected no backup when already fully migrated, got %d calls", calls)
	}
}

func TestPreMigrationBackupRunsAheadOfAPendingMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockledger.db")
	db := mustOpen(t, path)
	db.Close()

	original := migrations
	migrations = append(append([]migrationStep{}, original...), migrationStep{
		version:     original[len(original)-1].version + 1,
		description: "test-only synthetic migration",
		sql:         `CREATE TABLE IF NOT EXISTS test_only_marker (id INTEGER PRIMARY KEY);`,
	})
	defer func() { migrations = original }()

	calls := 0
	reopened, err := Open(path, 2*time.Second, WithPreMigrationBackup(func(ctx context.Context, d *DB) error {
		calls++
		return nil
	}))
	if err != nil {
		t.Fatalf("reopen with pending migration: %v", err)
	}
	defer reopened.Close()
	if calls != 1 {
		t.Fatalf("expected exactly one backup ahead of the pending migration, got %d calls", calls)
	}
}

func mustOpen(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(path, 2*time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func TestSkuRepoUpsertGetSetAssortment(t *testing.T) {
	db := openTestDB(t)
	repo := NewSkuRepo(db)
	ctx := context.Background()
	seedSku(t, db, "SKU-1")

	got, err := repo.Get(ctx, "SKU-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.InAssortment {
		t.Fatalf("expected in_assortment true")
	}

	if err := repo.SetAssortment(ctx, "SKU-1", false); err != nil {
		t.Fatalf("set assortment: %v", err)
	}
	got, err = repo.Get(ctx, "SKU-1")
	if err != nil {
		t.Fatalf("get after retire: %v", err)
	}
	if got.InAssortment {
		t.Fatalf("expected in_assortment false after retire")
	}

	if _, err := repo.Get(ctx, "NOPE"); err == nil {
		t.Fatal("expected NotFound for missing sku")
	} else if kind, ok := apperr.KindOf(err); !ok || kind != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", kind)
	}
}

func TestLedgerAppendAndListOrdering(t *testing.T) {
	db := openTestDB(t)
	seedSku(t, db, "SKU-1")
	ledger := NewLedgerRepo(db)
	ctx := context.Background()

	if _, err := ledger.AppendBatch(ctx, []Transaction{
		{Date: "2026-02-06", Sku: "SKU-1", Event: EventSale, Qty: -3},
		{Date: "2026-02-06", Sku: "SKU-1", Event: EventReceipt, Qty: 10},
		{Date: "2026-02-06", Sku: "SKU-1", Event: EventAdjust, Qty: -1},
	}); err != nil {
		t.Fatalf("append batch: %v", err)
	}

	txs, err := ledger.List(ctx, "SKU-1", DateRange{}, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	if txs[0].Event != EventReceipt || txs[1].Event != EventSale || txs[2].Event != EventAdjust {
		t.Fatalf("expected RECEIPT, SALE, ADJUST order by priority, got %v %v %v", txs[0].Event, txs[1].Event, txs[2].Event)
	}
}

func TestReceivingCloseIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	seedSku(t, db, "SKU-1")
	receiving := NewReceivingRepo(db)
	lots := NewLotsRepo(db)
	ledger := NewLedgerRepo(db)
	ctx := context.Background()

	items := []ReceivingItem{{Sku: "SKU-1", QtyReceived: 20}}
	apply := func(tx *sql.Tx, items []ReceivingItem) error {
		for _, it := range items {
			if err := lots.Upsert(tx, Lot{LotID: "DOC-1|" + it.Sku + "|2026-03-01", Sku: it.Sku, ExpiryDate: "2026-03-01", QtyOnHand: it.QtyReceived, ReceiptRef: "DOC-1"}); err != nil {
				return err
			}
			if _, err := ledger.Append(tx, Transaction{Date: "2026-02-06", Sku: it.Sku, Event: EventReceipt, Qty: it.QtyReceived}); err != nil {
				return err
			}
		}
		return nil
	}

	outcome, err := receiving.CloseReceiptIdempotent(ctx, "DOC-1", "2026-02-06", "2026-02-06", items, apply)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if outcome != ReceivingInserted {
		t.Fatalf("expected inserted, got %s", outcome)
	}

	outcome, err = receiving.CloseReceiptIdempotent(ctx, "DOC-1", "2026-02-06", "2026-02-06", items, apply)
	if err != nil {
		t.Fatalf("replay close: %v", err)
	}
	if outcome != ReceivingAlreadyProcessed {
		t.Fatalf("expected already_processed on replay, got %s", outcome)
	}

	lotList, err := lots.ListBySku(ctx, "SKU-1")
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(lotList) != 1 || lotList[0].QtyOnHand != 20 {
		t.Fatalf("expected exactly one lot with qty 20 (no double-apply), got %+v", lotList)
	}
}

func TestLotsConsumeFEFOOrdersByExpiry(t *testing.T) {
	db := openTestDB(t)
	seedSku(t, db, "SKU-1")
	lots := NewLotsRepo(db)
	ctx := context.Background()

	err := db.WithWriter(ctx, func(tx *sql.Tx) error {
		if err := lots.Upsert(tx, Lot{LotID: "L2", Sku: "SKU-1", ExpiryDate: "2026-03-10", QtyOnHand: 10}); err != nil {
			return err
		}
		return lots.Upsert(tx, Lot{LotID: "L1", Sku: "SKU-1", ExpiryDate: "2026-03-01", QtyOnHand: 5})
	})
	if err != nil {
		t.Fatalf("seed lots: %v", err)
	}

	var consumed []Consumption
	err = db.WithWriter(ctx, func(tx *sql.Tx) error {
		var err error
		consumed, err = lots.ConsumeFEFO(tx, "SKU-1", 8)
		return err
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(consumed) != 2 {
		t.Fatalf("expected draw from both lots, got %+v", consumed)
	}
	if consumed[0].LotID != "L1" || consumed[0].QtyTaken != 5 {
		t.Fatalf("expected L1 (earlier expiry) consumed first and fully, got %+v", consumed[0])
	}
	if consumed[1].LotID != "L2" || consumed[1].QtyTaken != 3 {
		t.Fatalf("expected L2 consumed for remainder, got %+v", consumed[1])
	}

	remaining, err := lots.ListBySku(ctx, "SKU-1")
	if err != nil {
		t.Fatalf("list remaining: %v", err)
	}
	if len(remaining) != 1 || remaining[0].LotID != "L2" || remaining[0].QtyOnHand != 7 {
		t.Fatalf("expected L2 with 7 remaining, got %+v", remaining)
	}
}

func TestSettingsRepoDefaultsAndPersist(t *testing.T) {
	db := openTestDB(t)
	repo := NewSettingsRepo(db)
	ctx := context.Background()

	doc, err := repo.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ServiceLevel.DefaultCSL != 0.95 {
		t.Fatalf("expected default CSL 0.95, got %v", doc.ServiceLevel.DefaultCSL)
	}

	doc.ServiceLevel.DefaultCSL = 0.98
	if err := repo.Put(ctx, doc); err != nil {
		t.Fatalf("put: %v", err)
	}

	repo.Invalidate()
	reloaded, err := repo.Get(ctx)
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if reloaded.ServiceLevel.DefaultCSL != 0.98 {
		t.Fatalf("expected persisted CSL 0.98, got %v", reloaded.ServiceLevel.DefaultCSL)
	}
}

func TestWriterLockSerializesConcurrentWriters(t *testing.T) {
	db := openTestDB(t)
	seedSku(t, db, "SKU-1")
	ctx := context.Background()

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- db.WithWriter(ctx, func(tx *sql.Tx) error {
				_, err := tx.Exec(`INSERT INTO transactions (date, sku, event, qty, note, created_at) VALUES (?,?,?,?,?,?)`,
					"2026-02-06", "SKU-1", string(EventAdjust), 1, "", time.Now().UTC().Format(time.RFC3339))
				return err
			})
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent writer %d failed: %v", i, err)
		}
	}

	ledger := NewLedgerRepo(db)
	txs, err := ledger.List(ctx, "SKU-1", DateRange{}, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != n {
		t.Fatalf("expected %d transactions, got %d", n, len(txs))
	}
}
