package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pinggolf/stockledger/internal/storage"
)

func TestExportWritesCSVPerTableAndManifest(t *testing.T) {
	db, path := openTestDB(t)
	_ = path

	status, err := db.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	exportDir := filepath.Join(t.TempDir(), "export")
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	manifest, err := Export(context.Background(), db.SqlDB(), status.CurrentVersion, exportDir, now)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if manifest.SchemaVersion != status.CurrentVersion {
		t.Fatalf("expected manifest schema version %d, got %d", status.CurrentVersion, manifest.SchemaVersion)
	}
	if len(manifest.Tables) != len(exportedTables) {
		t.Fatalf("expected %d tables in manifest, got %d", len(exportedTables), len(manifest.Tables))
	}

	for _, table := range exportedTables {
		csvPath := filepath.Join(exportDir, table+".csv")
		data, err := os.ReadFile(csvPath)
		if err != nil {
			t.Fatalf("expected csv for %s: %v", table, err)
		}
		if len(data) < len(utf8BOM) || string(data[:len(utf8BOM)]) != string(utf8BOM) {
			t.Fatalf("expected %s.csv to start with a UTF-8 BOM", table)
		}
	}

	manifestData, err := os.ReadFile(filepath.Join(exportDir, "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest.json: %v", err)
	}
	var decoded Manifest
	if err := json.Unmarshal(manifestData, &decoded); err != nil {
		t.Fatalf("decode manifest.json: %v", err)
	}
	if decoded.SchemaVersion != status.CurrentVersion {
		t.Fatalf("manifest.json schema version mismatch: %d", decoded.SchemaVersion)
	}
}

func TestExportRecordsNonZeroRowCountForSeededTable(t *testing.T) {
	db, _ := openTestDB(t)
	repo := storage.NewSkuRepo(db)
	if err := repo.Upsert(context.Background(), storage.Sku{
		Sku: "SKU-1", MOQ: 1, PackSize: 1, TargetCSL: 0.95, InAssortment: true,
		WastePenaltyMode: "soft", DemandClass: "stable", ForecastMethod: "simple",
	}); err != nil {
		t.Fatalf("seed sku: %v", err)
	}

	status, err := db.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	exportDir := filepath.Join(t.TempDir(), "export")
	manifest, err := Export(context.Background(), db.SqlDB(), status.CurrentVersion, exportDir, time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	for _, entry := range manifest.Tables {
		if entry.Table == "skus" {
			if entry.RowCount != 1 {
				t.Fatalf("expected 1 row in skus export, got %d", entry.RowCount)
			}
			return
		}
	}
	t.Fatal("skus table missing from manifest")
}
