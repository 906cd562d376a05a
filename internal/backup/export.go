package backup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
)

// exportedTables lists every table a full snapshot export covers, in
// spec.md §3's data model order. schema_version is deliberately
// excluded: SchemaVersion is recorded directly on the manifest.
var exportedTables = []string{
	"skus", "transactions", "sales", "order_logs", "receiving_logs",
	"receiving_items", "order_receipts", "lots", "kpi_snapshots",
	"settings", "holidays",
}

// utf8BOM is prefixed to every exported CSV so spreadsheet tools that
// default to a locale-specific codepage still open it as UTF-8.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TableManifestEntry records one table's export outcome.
type TableManifestEntry struct {
	Table    string `json:"table"`
	RowCount int    `json:"row_count"`
	SHA256   string `json:"sha256"`
}

// Manifest accompanies a snapshot export (spec.md §6).
type Manifest struct {
	SchemaVersion int                   `json:"schema_version"`
	ExportedAt    time.Time             `json:"exported_at"`
	Tables        []TableManifestEntry  `json:"tables"`
}

// Export writes one UTF-8 (BOM) CSV per table under dir, plus
// manifest.json recording schema version, per-table row counts and
// checksums, and the export timestamp. It runs over sqlDB directly
// (a read-only snapshot of the current state) rather than under the
// writer lock, matching spec.md §5's "proposal generation reads the
// snapshot observed at the start" read-concurrency model — an export
// is a read, not a write.
func Export(ctx context.Context, sqlDB *sql.DB, schemaVersion int, dir string, now time.Time) (Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, apperr.Wrap(apperr.IntegrityError, err, "create export dir %s", dir)
	}

	manifest := Manifest{SchemaVersion: schemaVersion, ExportedAt: now}
	for _, table := range exportedTables {
		entry, err := exportTable(ctx, sqlDB, dir, table)
		if err != nil {
			return Manifest{}, err
		}
		manifest.Tables = append(manifest.Tables, entry)
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, apperr.Wrap(apperr.IntegrityError, err, "marshal manifest")
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return Manifest{}, apperr.Wrap(apperr.IntegrityError, err, "write manifest")
	}
	return manifest, nil
}

func exportTable(ctx context.Context, sqlDB *sql.DB, dir, table string) (TableManifestEntry, error) {
	rows, err := sqlDB.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return TableManifestEntry{}, apperr.Wrap(apperr.IntegrityError, err, "query %s", table)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return TableManifestEntry{}, apperr.Wrap(apperr.IntegrityError, err, "columns for %s", table)
	}

	path := filepath.Join(dir, table+".csv")
	f, err := os.Create(path)
	if err != nil {
		return TableManifestEntry{}, apperr.Wrap(apperr.IntegrityError, err, "create %s", path)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := f.Write(utf8BOM); err != nil {
		return TableManifestEntry{}, apperr.Wrap(apperr.IntegrityError, err, "write BOM for %s", table)
	}

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return TableManifestEntry{}, apperr.Wrap(apperr.IntegrityError, err, "write header for %s", table)
	}
	hasher.Write([]byte(csvJoin(cols)))

	rowCount := 0
	values := make([]any, len(cols))
	scanTargets := make([]any, len(cols))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return TableManifestEntry{}, apperr.Wrap(apperr.IntegrityError, err, "scan row in %s", table)
		}
		record := make([]string, len(cols))
		for i, v := range values {
			record[i] = stringify(v)
		}
		if err := w.Write(record); err != nil {
			return TableManifestEntry{}, apperr.Wrap(apperr.IntegrityError, err, "write row in %s", table)
		}
		hasher.Write([]byte(csvJoin(record)))
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return TableManifestEntry{}, apperr.Wrap(apperr.IntegrityError, err, "iterate rows in %s", table)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return TableManifestEntry{}, apperr.Wrap(apperr.IntegrityError, err, "flush %s", table)
	}

	return TableManifestEntry{Table: table, RowCount: rowCount, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

func csvJoin(fields []string) string {
	out := ""
	for _, f := range fields {
		out += f + ","
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
