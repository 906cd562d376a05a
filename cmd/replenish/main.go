// Command replenish is the operator CLI harness for stockledger's core
// (spec.md §1: "out of scope: GUI" — this is the thing a GUI would sit
// behind, not the GUI itself). It exercises the same engine a future
// interactive frontend would call: compute proposals, close receipts,
// revert exceptions, run backups, export a snapshot, and print schema
// status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/pinggolf/stockledger/internal/backup"
	"github.com/pinggolf/stockledger/internal/batch"
	"github.com/pinggolf/stockledger/internal/calendar"
	"github.com/pinggolf/stockledger/internal/config"
	"github.com/pinggolf/stockledger/internal/logger"
	"github.com/pinggolf/stockledger/internal/replenish"
	"github.com/pinggolf/stockledger/internal/storage"
	"github.com/pinggolf/stockledger/internal/workflow"
)

var version = "dev"

func main() {
	logger.Banner(version)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "status":
		runStatus(cfg, args)
	case "propose":
		runPropose(cfg, args)
	case "receive":
		runReceive(cfg, args)
	case "revert":
		runRevert(cfg, args)
	case "backup":
		runBackup(cfg, args)
	case "export":
		runExport(cfg, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: replenish <command> [flags]

commands:
  status                 print schema version and pending migration count
  propose  -sku -date    propose a replenishment quantity for one SKU
  receive  -doc -date -receipt-date -sku -qty   close a receiving document
  revert   -sku -date -event [-id]              revert an exception ledger row
  backup   [-reason]     capture a backup triple and prune to retention
  export   -dir          write a full CSV+manifest snapshot under -dir`)
}

func openDB(cfg *config.Config) *storage.DB {
	preMigrationBackup := storage.WithPreMigrationBackup(func(ctx context.Context, db *storage.DB) error {
		mgr := backup.NewManager(db, cfg.DatabasePath, cfg.BackupDir, cfg.BackupRetainCount)
		_, err := mgr.Run(ctx, "pre-migration")
		return err
	})
	db, err := storage.Open(cfg.DatabasePath, cfg.WriterLockTimeout, preMigrationBackup)
	if err != nil {
		logger.Error("DB", "open "+cfg.DatabasePath+": "+err.Error())
		os.Exit(1)
	}
	return db
}

func runStatus(cfg *config.Config, args []string) {
	db := openDB(cfg)
	defer db.Close()

	status, err := db.Status()
	if err != nil {
		logger.Error("STATUS", err.Error())
		os.Exit(1)
	}
	logger.Section("Schema status")
	logger.Stats("current_version", status.CurrentVersion)
	logger.Stats("newest_known", status.NewestKnown)
	logger.Stats("pending", status.PendingCount)
	if status.PendingCount > 0 {
		logger.Warn("STATUS", "database is behind the newest known schema; restart to apply pending migrations")
	}
}

func runPropose(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("propose", flag.ExitOnError)
	sku := fs.String("sku", "", "single sku to propose for (omit to propose for every in-assortment sku)")
	orderDate := fs.String("date", "", "order date, YYYY-MM-DD")
	concurrency := fs.Int("concurrency", 4, "max SKUs proposed concurrently in a batch run")
	fs.Parse(args)

	if *orderDate == "" {
		fmt.Fprintln(os.Stderr, "propose: -date is required")
		os.Exit(2)
	}

	db := openDB(cfg)
	defer db.Close()

	settingsRepo := storage.NewSettingsRepo(db)
	holidaysRepo := storage.NewHolidaysRepo(db)
	skuRepo := storage.NewSkuRepo(db)

	ctx := context.Background()
	doc, err := settingsRepo.Get(ctx)
	if err != nil {
		logger.Error("PROPOSE", "load settings: "+err.Error())
		os.Exit(1)
	}
	holidays, err := holidaysRepo.List(ctx)
	if err != nil {
		logger.Error("PROPOSE", "load holidays: "+err.Error())
		os.Exit(1)
	}
	cal := replenish.CalendarFromSettings(doc, holidays)

	engine := replenish.NewEngine(
		storage.NewSalesRepo(db), storage.NewLedgerRepo(db), storage.NewLotsRepo(db),
		storage.NewOrdersRepo(db), skuRepo, cal,
	)

	lane := calendar.LaneStandard
	if t, err := time.Parse("2006-01-02", *orderDate); err == nil && t.Weekday() == time.Friday {
		lane = calendar.LaneSaturday
	}

	var skus []string
	if *sku != "" {
		skus = []string{*sku}
	} else {
		all, err := skuRepo.List(ctx, storage.SkuFilter{InAssortment: boolPtr(true)})
		if err != nil {
			logger.Error("PROPOSE", "list skus: "+err.Error())
			os.Exit(1)
		}
		for _, s := range all {
			skus = append(skus, s.Sku)
		}
	}

	logger.Section("Propose " + *orderDate)
	runner := batch.NewRunner(func(ctx context.Context, sku string) (batch.Proposal, error) {
		if lane == calendar.LaneSaturday {
			result, err := engine.ProposeFriday(ctx, doc, sku, *orderDate)
			if err != nil {
				return batch.Proposal{}, err
			}
			return batch.Proposal{Sku: sku, Qty: result.Saturday, Extra: result}, nil
		}
		proposal, err := engine.Propose(ctx, doc, sku, *orderDate, lane)
		if err != nil {
			return batch.Proposal{}, err
		}
		return batch.Proposal{Sku: sku, Qty: proposal.Qty, Extra: proposal.Breakdown}, nil
	}, *concurrency)

	results := runner.Run(ctx, skus)
	sort.Slice(results, func(i, j int) bool { return results[i].Sku < results[j].Sku })
	for _, r := range results {
		if r.Err != nil {
			logger.Warn("PROPOSE", r.Sku+": "+r.Err.Error())
			continue
		}
		logger.Stats(r.Sku, r.Proposal.Qty)
	}
	summary := batch.Summarize(results)
	logger.Stats("total", summary.Total)
	logger.Stats("succeeded", summary.Succeeded)
	logger.Stats("failed", summary.Failed)
}

func runReceive(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)
	doc := fs.String("doc", "", "receiving document id (idempotency key)")
	date := fs.String("date", "", "date the document was processed, YYYY-MM-DD")
	receiptDate := fs.String("receipt-date", "", "date the stock is available on shelf, YYYY-MM-DD")
	sku := fs.String("sku", "", "sku received")
	qty := fs.Int("qty", 0, "quantity received")
	fs.Parse(args)

	if *doc == "" || *date == "" || *receiptDate == "" || *sku == "" || *qty <= 0 {
		fmt.Fprintln(os.Stderr, "receive: -doc, -date, -receipt-date, -sku, and a positive -qty are required")
		os.Exit(2)
	}

	db := openDB(cfg)
	defer db.Close()

	receiving := workflow.NewReceiving(
		db, storage.NewReceivingRepo(db), storage.NewOrdersRepo(db),
		storage.NewLedgerRepo(db), storage.NewLotsRepo(db), storage.NewSkuRepo(db),
	)

	outcome, err := receiving.Close(context.Background(), *doc, *date, *receiptDate, []workflow.ReceiptItem{
		{Sku: *sku, QtyReceived: *qty},
	})
	if err != nil {
		logger.Error("RECEIVE", err.Error())
		os.Exit(1)
	}
	if outcome == storage.ReceivingAlreadyProcessed {
		logger.Info("RECEIVE", *doc+" already processed, no writes made")
		return
	}
	logger.Success("RECEIVE", *doc+" closed")
}

func runRevert(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("revert", flag.ExitOnError)
	id := fs.Int64("id", 0, "transaction id to revert directly (takes priority over sku/date/event)")
	sku := fs.String("sku", "", "sku")
	date := fs.String("date", "", "transaction date, YYYY-MM-DD")
	event := fs.String("event", "", "event kind, e.g. ORDER, ADJUST")
	fs.Parse(args)

	if *id == 0 && (*sku == "" || *date == "" || *event == "") {
		fmt.Fprintln(os.Stderr, "revert: either -id, or all of -sku -date -event, are required")
		os.Exit(2)
	}

	db := openDB(cfg)
	defer db.Close()

	exceptions := workflow.NewExceptions(db, storage.NewLedgerRepo(db))
	result, err := exceptions.Revert(context.Background(), workflow.RevertCriteria{
		TransactionID: *id, Sku: *sku, Date: *date, Event: storage.EventKind(strings.ToUpper(*event)),
	})
	if err != nil {
		logger.Error("REVERT", err.Error())
		os.Exit(1)
	}
	logger.Success("REVERT", fmt.Sprintf("deleted %d transaction(s)", len(result.DeletedTransactionIDs)))
	for _, w := range result.Warnings {
		logger.Warn("REVERT", w)
	}
}

func runBackup(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	reason := fs.String("reason", "manual", "short label embedded in the backup filename")
	fs.Parse(args)

	db := openDB(cfg)
	defer db.Close()

	mgr := backup.NewManager(db, cfg.DatabasePath, cfg.BackupDir, cfg.BackupRetainCount)
	result, err := mgr.Run(context.Background(), *reason)
	if err != nil {
		logger.Error("BACKUP", err.Error())
		os.Exit(1)
	}
	logger.Stats("files", len(result.Files))
}

func runExport(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dir := fs.String("dir", "", "directory to write the CSV+manifest snapshot under")
	fs.Parse(args)

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "export: -dir is required")
		os.Exit(2)
	}

	db := openDB(cfg)
	defer db.Close()

	status, err := db.Status()
	if err != nil {
		logger.Error("EXPORT", err.Error())
		os.Exit(1)
	}

	manifest, err := backup.Export(context.Background(), db.SqlDB(), status.CurrentVersion, *dir, time.Now())
	if err != nil {
		logger.Error("EXPORT", err.Error())
		os.Exit(1)
	}
	logger.Success("EXPORT", strftime.Format("%Y-%m-%d %H:%M:%S", manifest.ExportedAt)+" -> "+*dir)
	for _, t := range manifest.Tables {
		logger.Stats(t.Table, t.RowCount)
	}
}

func boolPtr(b bool) *bool { return &b }
