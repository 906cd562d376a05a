package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pinggolf/stockledger/internal/apperr"
	"github.com/pinggolf/stockledger/internal/settings"
)

// SettingsRepo persists the single settings document row (spec.md §6).
// Reads are collapsed through a singleflight group so a burst of
// concurrent batch workers (internal/batch) performing the same reload
// share one query instead of stampeding the writer lock.
type SettingsRepo struct {
	db    *DB
	group singleflight.Group

	mu     sync.RWMutex
	cached *settings.Document
}

func NewSettingsRepo(db *DB) *SettingsRepo { return &SettingsRepo{db: db} }

// Get returns the current settings document, loading and caching it on
// first use. Unknown sections round-trip through settings.Document's
// own merge-preserve logic.
func (r *SettingsRepo) Get(ctx context.Context) (*settings.Document, error) {
	r.mu.RLock()
	if r.cached != nil {
		d := *r.cached
		r.mu.RUnlock()
		return &d, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do("load", func() (any, error) {
		return r.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	doc := v.(*settings.Document)
	r.mu.Lock()
	r.cached = doc
	r.mu.Unlock()
	d := *doc
	return &d, nil
}

func (r *SettingsRepo) load(ctx context.Context) (*settings.Document, error) {
	var raw string
	err := r.db.sql.QueryRowContext(ctx, `SELECT doc FROM settings WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		doc := settings.Default()
		if err := r.persist(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "load settings")
	}
	doc := &settings.Document{}
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "decode settings document")
	}
	return doc, nil
}

// Put replaces the settings document, preserving any unknown sections
// already present (settings.Document.UnmarshalJSON handles the merge on
// the caller's side; this just persists whatever document it is given).
func (r *SettingsRepo) Put(ctx context.Context, doc *settings.Document) error {
	if err := r.persist(ctx, doc); err != nil {
		return err
	}
	r.mu.Lock()
	cp := *doc
	r.cached = &cp
	r.mu.Unlock()
	return nil
}

func (r *SettingsRepo) persist(ctx context.Context, doc *settings.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, err, "encode settings document")
	}
	return r.db.WithWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO settings (id, doc) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET doc = excluded.doc
		`, string(raw))
		if err != nil {
			return apperr.Wrap(apperr.ConstraintViolation, err, "persist settings")
		}
		return nil
	})
}

// Invalidate drops the in-process cache, forcing the next Get to reload
// from the database. Used after an external process edits the settings
// row directly (spec.md §6 allows hand-editing the document).
func (r *SettingsRepo) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}
