package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
	"github.com/pinggolf/stockledger/internal/logger"
)

// migrationStep is one schema revision. Each step runs in its own
// transaction (spec.md §4.2); a failing step halts the whole runner.
type migrationStep struct {
	version     int
	description string
	sql         string
}

// migrations is the version-ordered schema history. The teacher
// discovers `NNN_*.sql` files on disk and orders them numerically; this
// module ships as a single static binary with no migrations directory,
// so the same "if version < N, apply, record" idiom is expressed as an
// ordered Go slice instead (see SPEC_FULL.md §4.2a).
var migrations = []migrationStep{
	{
		version:     1,
		description: "core schema: skus, transactions, sales, orders, receiving, lots, settings, holidays, kpi",
		sql: `
			CREATE TABLE IF NOT EXISTS skus (
				sku                   TEXT PRIMARY KEY,
				description           TEXT NOT NULL DEFAULT '',
				barcode               TEXT NOT NULL DEFAULT '',
				moq                   INTEGER NOT NULL DEFAULT 1 CHECK (moq >= 1),
				pack_size             INTEGER NOT NULL DEFAULT 1 CHECK (pack_size >= 1),
				lead_time_days        INTEGER NOT NULL DEFAULT 0 CHECK (lead_time_days BETWEEN 0 AND 365),
				review_period_days    INTEGER NOT NULL DEFAULT 0 CHECK (review_period_days >= 0),
				safety_stock          INTEGER NOT NULL DEFAULT 0 CHECK (safety_stock >= 0),
				max_stock             INTEGER NOT NULL DEFAULT 0 CHECK (max_stock >= 0),
				reorder_point         INTEGER NOT NULL DEFAULT 0 CHECK (reorder_point >= 0),
				shelf_life_days       INTEGER NOT NULL DEFAULT 0 CHECK (shelf_life_days >= 0),
				min_shelf_life_days   INTEGER NOT NULL DEFAULT 0 CHECK (min_shelf_life_days >= 0),
				waste_penalty_mode    TEXT NOT NULL DEFAULT 'none' CHECK (waste_penalty_mode IN ('none','soft','hard')),
				waste_penalty_factor  REAL NOT NULL DEFAULT 0 CHECK (waste_penalty_factor BETWEEN 0 AND 1),
				waste_risk_threshold  REAL NOT NULL DEFAULT 20 CHECK (waste_risk_threshold BETWEEN 0 AND 100),
				demand_class          TEXT NOT NULL DEFAULT 'stable' CHECK (demand_class IN ('stable','low','high','seasonal')),
				category              TEXT NOT NULL DEFAULT '',
				department            TEXT NOT NULL DEFAULT '',
				oos_params            TEXT NOT NULL DEFAULT '{}',
				forecast_method       TEXT NOT NULL DEFAULT 'unset' CHECK (forecast_method IN ('unset','simple','monte_carlo','croston','sba','tsb','intermittent_auto')),
				target_csl            REAL NOT NULL DEFAULT 0.95 CHECK (target_csl BETWEEN 0 AND 0.9999),
				in_assortment         INTEGER NOT NULL DEFAULT 1 CHECK (in_assortment IN (0,1)),
				created_at            TEXT NOT NULL,
				updated_at            TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS transactions (
				transaction_id INTEGER PRIMARY KEY AUTOINCREMENT,
				date           TEXT NOT NULL,
				sku            TEXT NOT NULL REFERENCES skus(sku) ON DELETE RESTRICT,
				event          TEXT NOT NULL CHECK (event IN (
					'SNAPSHOT','ORDER','RECEIPT','SALE','WASTE','ADJUST','UNFULFILLED',
					'SKU_EDIT','ASSORTMENT_IN','ASSORTMENT_OUT','EXPORT_LOG'
				)),
				qty            INTEGER NOT NULL DEFAULT 0,
				receipt_date   TEXT,
				note           TEXT NOT NULL DEFAULT '',
				created_at     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_transactions_sku_date ON transactions(sku, date, transaction_id);

			CREATE TABLE IF NOT EXISTS sales (
				date     TEXT NOT NULL,
				sku      TEXT NOT NULL REFERENCES skus(sku) ON DELETE CASCADE,
				qty_sold INTEGER NOT NULL DEFAULT 0 CHECK (qty_sold >= 0),
				promo    INTEGER NOT NULL DEFAULT 0 CHECK (promo IN (0,1)),
				PRIMARY KEY (date, sku)
			);
			CREATE INDEX IF NOT EXISTS idx_sales_sku_date ON sales(sku, date);

			CREATE TABLE IF NOT EXISTS order_logs (
				order_id       TEXT PRIMARY KEY,
				sku            TEXT NOT NULL REFERENCES skus(sku) ON DELETE RESTRICT,
				order_date     TEXT NOT NULL,
				lane           TEXT NOT NULL DEFAULT 'STANDARD',
				qty_ordered    INTEGER NOT NULL CHECK (qty_ordered > 0),
				qty_received   INTEGER NOT NULL DEFAULT 0 CHECK (qty_received >= 0),
				status         TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING','PARTIAL','RECEIVED')),
				receipt_date   TEXT NOT NULL,
				uplift_meta    TEXT NOT NULL DEFAULT '{}',
				created_at     TEXT NOT NULL,
				CHECK (qty_received <= qty_ordered)
			);
			CREATE INDEX IF NOT EXISTS idx_order_logs_sku_status ON order_logs(sku, status);
			CREATE INDEX IF NOT EXISTS idx_order_logs_date ON order_logs(order_date);

			CREATE TABLE IF NOT EXISTS receiving_logs (
				document_id  TEXT PRIMARY KEY,
				date         TEXT NOT NULL,
				receipt_date TEXT NOT NULL,
				created_at   TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS receiving_items (
				document_id  TEXT NOT NULL REFERENCES receiving_logs(document_id) ON DELETE CASCADE,
				sku          TEXT NOT NULL REFERENCES skus(sku) ON DELETE RESTRICT,
				qty_received INTEGER NOT NULL CHECK (qty_received > 0),
				PRIMARY KEY (document_id, sku)
			);

			CREATE TABLE IF NOT EXISTS order_receipts (
				order_id    TEXT NOT NULL REFERENCES order_logs(order_id) ON DELETE RESTRICT,
				document_id TEXT NOT NULL REFERENCES receiving_logs(document_id) ON DELETE RESTRICT,
				qty_applied INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (order_id, document_id)
			);
			CREATE INDEX IF NOT EXISTS idx_order_receipts_doc ON order_receipts(document_id);

			CREATE TABLE IF NOT EXISTS lots (
				lot_id       TEXT PRIMARY KEY,
				sku          TEXT NOT NULL REFERENCES skus(sku) ON DELETE RESTRICT,
				expiry_date  TEXT NOT NULL,
				qty_on_hand  INTEGER NOT NULL DEFAULT 0 CHECK (qty_on_hand >= 0),
				receipt_ref  TEXT NOT NULL DEFAULT '',
				receipt_date TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_lots_sku_expiry ON lots(sku, expiry_date, lot_id);

			CREATE TABLE IF NOT EXISTS kpi_snapshots (
				sku                 TEXT NOT NULL REFERENCES skus(sku) ON DELETE CASCADE,
				date                TEXT NOT NULL,
				mode                TEXT NOT NULL,
				oos_rate            REAL NOT NULL DEFAULT 0,
				fill_rate           REAL NOT NULL DEFAULT 0,
				otif                REAL NOT NULL DEFAULT 0,
				wmape               REAL NOT NULL DEFAULT 0,
				bias                REAL NOT NULL DEFAULT 0,
				lost_sales_estimate REAL NOT NULL DEFAULT 0,
				lookback_days       INTEGER NOT NULL DEFAULT 0,
				computed_at         TEXT NOT NULL,
				PRIMARY KEY (sku, date, mode)
			);

			CREATE TABLE IF NOT EXISTS settings (
				id  INTEGER PRIMARY KEY CHECK (id = 1),
				doc TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS holidays (
				date      TEXT PRIMARY KEY,
				name      TEXT NOT NULL DEFAULT '',
				scope     TEXT NOT NULL DEFAULT 'global',
				rule_type TEXT NOT NULL DEFAULT 'fixed' CHECK (rule_type IN ('fixed','recurring','relative')),
				effect    TEXT NOT NULL DEFAULT 'closed'
			);
		`,
	},
}

// PreMigrationBackup captures a backup of db before any pending
// migration is applied. It is declared here, not in internal/backup, so
// that storage never has to import backup: the caller wires a real
// backup.Manager through WithPreMigrationBackup, keeping the dependency
// pointed storage <- backup as it already is everywhere else.
type PreMigrationBackup func(ctx context.Context, db *DB) error

func (d *DB) migrate(ctx context.Context, preBackup PreMigrationBackup) error {
	if _, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			applied_at  TEXT NOT NULL,
			description TEXT NOT NULL,
			checksum    TEXT NOT NULL
		);
	`); err != nil {
		return apperr.Wrap(apperr.MigrationFailure, err, "create schema_version table")
	}

	current, err := d.currentVersion()
	if err != nil {
		return apperr.Wrap(apperr.MigrationFailure, err, "read current schema version")
	}
	if newest := newestKnownVersion(); current > newest {
		return apperr.New(apperr.IntegrityError, "database schema version %d is newer than this binary knows (%d); refusing to run", current, newest)
	}

	pending := false
	for _, m := range migrations {
		if m.version > current {
			pending = true
			break
		}
	}

	// current == 0 means this database was just created: there is
	// nothing on disk yet worth protecting, so skip the backup on first
	// run and only take one ahead of a migration that touches existing
	// data (spec.md §4.2).
	if pending && current > 0 && preBackup != nil {
		if err := preBackup(ctx, d); err != nil {
			return apperr.Wrap(apperr.MigrationFailure, err, "pre-migration backup")
		}
		logger.Info("DB", "pre-migration backup captured")
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := d.applyMigration(m); err != nil {
			return err
		}
		logger.Info("DB", fmt.Sprintf("applied migration v%d (%s)", m.version, m.description))
	}
	return nil
}

func (d *DB) applyMigration(m migrationStep) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return apperr.Wrap(apperr.MigrationFailure, err, "begin migration v%d", m.version)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return apperr.Wrap(apperr.MigrationFailure, err, "apply migration v%d", m.version)
	}

	checksum := checksumOf(m.sql)
	if _, err := tx.Exec(
		`INSERT INTO schema_version (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)`,
		m.version, time.Now().UTC().Format(time.RFC3339), m.description, checksum,
	); err != nil {
		return apperr.Wrap(apperr.MigrationFailure, err, "record migration v%d", m.version)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.MigrationFailure, err, "commit migration v%d", m.version)
	}
	return nil
}

func (d *DB) currentVersion() (int, error) {
	var version int
	err := d.sql.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	return version, err
}

func newestKnownVersion() int {
	max := 0
	for _, m := range migrations {
		if m.version > max {
			max = m.version
		}
	}
	return max
}

func checksumOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SchemaStatus reports the current schema version and whether pending
// migrations exist (spec.md §6's startup probe).
type SchemaStatus struct {
	CurrentVersion int
	NewestKnown    int
	PendingCount   int
}

// Status returns the startup schema probe.
func (d *DB) Status() (SchemaStatus, error) {
	current, err := d.currentVersion()
	if err != nil {
		return SchemaStatus{}, apperr.Wrap(apperr.IntegrityError, err, "read schema version")
	}
	newest := newestKnownVersion()
	pending := 0
	for _, m := range migrations {
		if m.version > current {
			pending++
		}
	}
	return SchemaStatus{CurrentVersion: current, NewestKnown: newest, PendingCount: pending}, nil
}
