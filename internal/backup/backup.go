// Package backup implements spec.md §6's backup format: a consistent
// (main.db, main.db-wal, main.db-shm) triple captured under the writer
// lock, named app_YYYYMMDD_HHMMSS_{reason}, with retention of the most
// recent N triples. Older triples are pruned a whole triple at a time by
// removing each file in turn; the removal is not atomic, so an error
// part-way through can leave some files of a triple behind.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/pinggolf/stockledger/internal/apperr"
	"github.com/pinggolf/stockledger/internal/logger"
	"github.com/pinggolf/stockledger/internal/storage"
)

// suffixes lists the three files a single backup triple is made of, in
// the order they must be copied: the main file last would risk copying
// a WAL that refers to pages the main file doesn't have yet, so the
// main file is copied first and the WAL/SHM follow while still under
// the writer lock.
var suffixes = []string{"", "-wal", "-shm"}

// Entry describes one backup on disk.
type Entry struct {
	Name      string
	Reason    string
	Timestamp time.Time
	TotalSize int64
}

// Manager creates and prunes backup triples for a single database file.
type Manager struct {
	db      *storage.DB
	dbPath  string
	dir     string
	retain  int
}

// NewManager returns a Manager for the database opened at dbPath,
// writing backups under dir and retaining the most recent retain
// triples (spec.md §6 default: 10).
func NewManager(db *storage.DB, dbPath, dir string, retain int) *Manager {
	if retain <= 0 {
		retain = 10
	}
	return &Manager{db: db, dbPath: dbPath, dir: dir, retain: retain}
}

// Result reports the outcome of a single backup run.
type Result struct {
	CorrelationID string
	Name          string
	Files         []string
	TotalSize     int64
}

// Run captures one backup triple under the writer lock, then prunes
// down to the configured retention count. reason is a short operator
// label (e.g. "startup", "pre-migration", "manual") embedded in the
// filename.
func (m *Manager) Run(ctx context.Context, reason string) (Result, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Result{}, apperr.Wrap(apperr.IntegrityError, err, "create backup dir %s", m.dir)
	}

	correlationID := uuid.NewString()
	name := fmt.Sprintf("app_%s_%s", time.Now().Format("20060102_150405"), sanitizeReason(reason))

	var result Result
	err := m.db.WithWriter(ctx, func(_ *sql.Tx) error {
		var files []string
		var total int64
		for _, suffix := range suffixes {
			src := m.dbPath + suffix
			if _, err := os.Stat(src); err != nil {
				if os.IsNotExist(err) && suffix != "" {
					// main.db-wal / main.db-shm may not exist between checkpoints.
					continue
				}
				return apperr.Wrap(apperr.IntegrityError, err, "stat %s", src)
			}
			dst := filepath.Join(m.dir, name+suffix)
			n, err := copyFile(src, dst)
			if err != nil {
				return err
			}
			files = append(files, dst)
			total += n
		}
		result = Result{CorrelationID: correlationID, Name: name, Files: files, TotalSize: total}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	logger.Success("BACKUP", fmt.Sprintf("%s (%s) correlation=%s", result.Name, humanize.Bytes(uint64(result.TotalSize)), correlationID))

	pruned, err := m.prune()
	if err != nil {
		return result, err
	}
	for _, p := range pruned {
		logger.Info("BACKUP", "pruned "+p)
	}
	return result, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, apperr.Wrap(apperr.IntegrityError, err, "open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, apperr.Wrap(apperr.IntegrityError, err, "create %s", dst)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, apperr.Wrap(apperr.IntegrityError, err, "copy %s to %s", src, dst)
	}
	if err := out.Sync(); err != nil {
		return 0, apperr.Wrap(apperr.IntegrityError, err, "sync %s", dst)
	}
	return n, nil
}

func sanitizeReason(reason string) string {
	if reason == "" {
		return "manual"
	}
	return strings.ReplaceAll(strings.ReplaceAll(reason, " ", "-"), string(filepath.Separator), "-")
}

// List returns every backup triple under dir, newest first.
func (m *Manager) List() ([]Entry, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.IntegrityError, err, "read backup dir %s", m.dir)
	}

	byName := make(map[string]*Entry)
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		base, ts, reason, ok := parseBackupName(name)
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		e, exists := byName[base]
		if !exists {
			e = &Entry{Name: base, Reason: reason, Timestamp: ts}
			byName[base] = e
		}
		e.TotalSize += info.Size()
	}

	var result []Entry
	for _, e := range byName {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	return result, nil
}

// prune deletes every backup triple beyond the retain-most-recent,
// entire triple at a time (main.db + main.db-wal + main.db-shm).
func (m *Manager) prune() ([]string, error) {
	list, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(list) <= m.retain {
		return nil, nil
	}

	var pruned []string
	for _, e := range list[m.retain:] {
		for _, suffix := range suffixes {
			path := filepath.Join(m.dir, e.Name+suffix)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return pruned, apperr.Wrap(apperr.IntegrityError, err, "prune %s", path)
			}
		}
		pruned = append(pruned, e.Name)
	}
	return pruned, nil
}

// parseBackupName extracts the triple's base name, timestamp, and
// reason from one of its three file names (app_YYYYMMDD_HHMMSS_reason[.suffix]).
func parseBackupName(fileName string) (base string, ts time.Time, reason string, ok bool) {
	base = fileName
	base = strings.TrimSuffix(base, "-wal")
	base = strings.TrimSuffix(base, "-shm")

	if !strings.HasPrefix(base, "app_") {
		return "", time.Time{}, "", false
	}
	rest := strings.TrimPrefix(base, "app_")
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) != 3 {
		return "", time.Time{}, "", false
	}
	ts, err := time.Parse("20060102 150405", parts[0]+" "+parts[1])
	if err != nil {
		return "", time.Time{}, "", false
	}
	return base, ts, parts[2], true
}
