// Package maintenance persists operator-designated suppression entries and
// answers whether a rack is currently suppressed.
package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rackwatch/rackwatch/internal/models"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	// ErrAlreadyInMaintenance is returned when a rack appears in any
	// existing detail row.
	ErrAlreadyInMaintenance = errors.New("rack already in maintenance")
	// ErrNoRacksFound is returned when a chain start matches no racks.
	ErrNoRacksFound = errors.New("no racks found for chain")
	// ErrNotFound is returned when an end operation targets nothing.
	ErrNotFound = errors.New("maintenance record not found")
)

// suppressedTTL is the backstop TTL on the cached suppressed set.
// Mutations invalidate eagerly.
const suppressedTTL = 60 * time.Second

// ChainResult summarises a chain maintenance start.
type ChainResult struct {
	EntryID int64 `json:"entryId"`
	Added   int   `json:"added"`
	Skipped int   `json:"skipped"`
	Total   int   `json:"total"`
}

// ImportFailure describes one failed row of a bulk import.
type ImportFailure struct {
	RackID string `json:"rackId"`
	Error  string `json:"error"`
}

// ImportSummary is the outcome of a bulk maintenance import.
type ImportSummary struct {
	Total                int             `json:"total"`
	Successful           int             `json:"successful"`
	AlreadyInMaintenance int             `json:"alreadyInMaintenance"`
	Failed               []ImportFailure `json:"failed"`
}

// Registry is the sqlite-backed maintenance registry.
type Registry struct {
	db *sql.DB

	cacheMu     sync.Mutex
	cached      map[string]struct{}
	cacheExpiry time.Time
}

// NewRegistry opens (and if needed creates) the maintenance database under
// dataDir.
func NewRegistry(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "maintenance.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open maintenance database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize maintenance schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Maintenance registry initialized")
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS maintenance_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_type TEXT NOT NULL,
		rack_id TEXT,
		chain TEXT,
		site TEXT,
		dc TEXT,
		reason TEXT,
		started_at INTEGER NOT NULL,
		started_by TEXT
	);

	CREATE TABLE IF NOT EXISTS maintenance_rack_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id INTEGER NOT NULL REFERENCES maintenance_entries(id) ON DELETE CASCADE,
		rack_id TEXT NOT NULL UNIQUE,
		name TEXT,
		country TEXT,
		site TEXT,
		dc TEXT,
		chain TEXT,
		UNIQUE(entry_id, rack_id)
	);

	CREATE INDEX IF NOT EXISTS idx_maintenance_details_entry
	ON maintenance_rack_details(entry_id);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close releases the database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

func rackInMaintenance(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, rackID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM maintenance_rack_details WHERE rack_id = ?`, rackID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check maintenance for rack %q: %w", rackID, err)
	}
	return n > 0, nil
}

// StartIndividual puts a single rack into maintenance. Fails with
// ErrAlreadyInMaintenance when the rack is already covered by any entry.
func (r *Registry) StartIndividual(ctx context.Context, rack models.RackContext, reason, startedBy string) (*models.MaintenanceEntry, error) {
	if rack.RackID == "" {
		return nil, fmt.Errorf("rack id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin maintenance transaction: %w", err)
	}
	defer tx.Rollback()

	covered, err := rackInMaintenance(ctx, tx, rack.RackID)
	if err != nil {
		return nil, err
	}
	if covered {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyInMaintenance, rack.RackID)
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO maintenance_entries (entry_type, rack_id, chain, site, dc, reason, started_at, started_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(models.MaintenanceIndividual), rack.RackID, rack.Chain, rack.Site, rack.DC, reason, now.Unix(), startedBy)
	if err != nil {
		return nil, fmt.Errorf("insert maintenance entry for rack %q: %w", rack.RackID, err)
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read maintenance entry id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO maintenance_rack_details (entry_id, rack_id, name, country, site, dc, chain)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entryID, rack.RackID, rack.Name, rack.Country, rack.Site, rack.DC, rack.Chain); err != nil {
		return nil, fmt.Errorf("insert maintenance detail for rack %q: %w", rack.RackID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit maintenance transaction: %w", err)
	}
	r.invalidate()

	log.Info().
		Str("rackId", rack.RackID).
		Str("startedBy", startedBy).
		Msg("Rack entered maintenance")

	return &models.MaintenanceEntry{
		ID:        entryID,
		EntryType: models.MaintenanceIndividual,
		RackID:    rack.RackID,
		Chain:     rack.Chain,
		Site:      rack.Site,
		DC:        rack.DC,
		Reason:    reason,
		StartedAt: now,
		StartedBy: startedBy,
		Details: []models.MaintenanceRackDetail{{
			EntryID: entryID,
			RackID:  rack.RackID,
			Name:    rack.Name,
			Country: rack.Country,
			Site:    rack.Site,
			DC:      rack.DC,
			Chain:   rack.Chain,
		}},
	}, nil
}

// StartChain creates one chain-scoped entry covering every rack in the
// catalog whose (chain, site, dc) matches. Racks already in maintenance
// are skipped. The detail rows are a snapshot: racks that join the chain
// later are not auto-suppressed.
func (r *Registry) StartChain(ctx context.Context, chain, site, dc, reason, startedBy string, catalog []models.RackContext) (ChainResult, error) {
	matches := make([]models.RackContext, 0)
	seen := make(map[string]struct{})
	for _, rack := range catalog {
		if rack.Chain != chain || rack.Site != site || rack.DC != dc {
			continue
		}
		if _, dup := seen[rack.RackID]; dup {
			continue
		}
		seen[rack.RackID] = struct{}{}
		matches = append(matches, rack)
	}
	if len(matches) == 0 {
		return ChainResult{}, fmt.Errorf("%w: chain %q site %q dc %q", ErrNoRacksFound, chain, site, dc)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ChainResult{}, fmt.Errorf("begin maintenance transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO maintenance_entries (entry_type, chain, site, dc, reason, started_at, started_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(models.MaintenanceChain), chain, site, dc, reason, now.Unix(), startedBy)
	if err != nil {
		return ChainResult{}, fmt.Errorf("insert chain maintenance entry: %w", err)
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return ChainResult{}, fmt.Errorf("read maintenance entry id: %w", err)
	}

	result := ChainResult{EntryID: entryID, Total: len(matches)}
	for _, rack := range matches {
		covered, err := rackInMaintenance(ctx, tx, rack.RackID)
		if err != nil {
			return ChainResult{}, err
		}
		if covered {
			result.Skipped++
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO maintenance_rack_details (entry_id, rack_id, name, country, site, dc, chain)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entryID, rack.RackID, rack.Name, rack.Country, rack.Site, rack.DC, rack.Chain); err != nil {
			return ChainResult{}, fmt.Errorf("insert chain detail for rack %q: %w", rack.RackID, err)
		}
		result.Added++
	}

	// Every matching rack was already covered: creating an empty entry
	// would leave an orphan parent, so nothing is written.
	if result.Added == 0 {
		return ChainResult{}, fmt.Errorf("%w: all %d racks in chain %q", ErrAlreadyInMaintenance, result.Total, chain)
	}

	if err := tx.Commit(); err != nil {
		return ChainResult{}, fmt.Errorf("commit maintenance transaction: %w", err)
	}
	r.invalidate()

	log.Info().
		Str("chain", chain).
		Str("site", site).
		Str("dc", dc).
		Int("added", result.Added).
		Int("skipped", result.Skipped).
		Msg("Chain entered maintenance")

	return result, nil
}

// EndEntry deletes an entry and, via the cascade, all its detail rows.
func (r *Registry) EndEntry(ctx context.Context, entryID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM maintenance_entries WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("delete maintenance entry %d: %w", entryID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete maintenance entry %d: %w", entryID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entry %d", ErrNotFound, entryID)
	}
	r.invalidate()
	log.Info().Int64("entryId", entryID).Msg("Maintenance entry ended")
	return nil
}

// EndRack removes a single rack's detail row. When the parent entry has no
// remaining details it is removed as well.
func (r *Registry) EndRack(ctx context.Context, rackID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin maintenance transaction: %w", err)
	}
	defer tx.Rollback()

	var entryID int64
	err = tx.QueryRowContext(ctx,
		`SELECT entry_id FROM maintenance_rack_details WHERE rack_id = ?`, rackID).Scan(&entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: rack %q", ErrNotFound, rackID)
	}
	if err != nil {
		return fmt.Errorf("find maintenance detail for rack %q: %w", rackID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM maintenance_rack_details WHERE rack_id = ?`, rackID); err != nil {
		return fmt.Errorf("delete maintenance detail for rack %q: %w", rackID, err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM maintenance_rack_details WHERE entry_id = ?`, entryID).Scan(&remaining); err != nil {
		return fmt.Errorf("count remaining details for entry %d: %w", entryID, err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM maintenance_entries WHERE id = ?`, entryID); err != nil {
			return fmt.Errorf("delete empty maintenance entry %d: %w", entryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit maintenance transaction: %w", err)
	}
	r.invalidate()

	log.Info().
		Str("rackId", rackID).
		Int64("entryId", entryID).
		Bool("entryRemoved", remaining == 0).
		Msg("Rack left maintenance")
	return nil
}

// List returns all entries with their detail rows.
func (r *Registry) List(ctx context.Context) ([]models.MaintenanceEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entry_type, rack_id, chain, site, dc, reason, started_at, started_by
		FROM maintenance_entries ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list maintenance entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.MaintenanceEntry, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var (
			e         models.MaintenanceEntry
			entryType string
			rackID    sql.NullString
			chain     sql.NullString
			site      sql.NullString
			dc        sql.NullString
			reason    sql.NullString
			startedBy sql.NullString
			startedAt int64
		)
		if err := rows.Scan(&e.ID, &entryType, &rackID, &chain, &site, &dc, &reason, &startedAt, &startedBy); err != nil {
			return nil, fmt.Errorf("scan maintenance entry: %w", err)
		}
		e.EntryType = models.MaintenanceEntryType(entryType)
		e.RackID = rackID.String
		e.Chain = chain.String
		e.Site = site.String
		e.DC = dc.String
		e.Reason = reason.String
		e.StartedBy = startedBy.String
		e.StartedAt = time.Unix(startedAt, 0)
		e.Details = make([]models.MaintenanceRackDetail, 0)
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	detailRows, err := r.db.QueryContext(ctx, `
		SELECT id, entry_id, rack_id, name, country, site, dc, chain
		FROM maintenance_rack_details ORDER BY entry_id, rack_id`)
	if err != nil {
		return nil, fmt.Errorf("list maintenance details: %w", err)
	}
	defer detailRows.Close()

	for detailRows.Next() {
		var (
			d       models.MaintenanceRackDetail
			name    sql.NullString
			country sql.NullString
			site    sql.NullString
			dc      sql.NullString
			chain   sql.NullString
		)
		if err := detailRows.Scan(&d.ID, &d.EntryID, &d.RackID, &name, &country, &site, &dc, &chain); err != nil {
			return nil, fmt.Errorf("scan maintenance detail: %w", err)
		}
		d.Name = name.String
		d.Country = country.String
		d.Site = site.String
		d.DC = dc.String
		d.Chain = chain.String
		if i, ok := index[d.EntryID]; ok {
			entries[i].Details = append(entries[i].Details, d)
		}
	}
	return entries, detailRows.Err()
}

// SuppressedSet returns the set of rack ids currently covered by any
// detail row. The result is cached; mutations invalidate it so a cycle
// started after a commit observes the change.
func (r *Registry) SuppressedSet(ctx context.Context) (map[string]struct{}, error) {
	r.cacheMu.Lock()
	if r.cached != nil && time.Now().Before(r.cacheExpiry) {
		set := r.cached
		r.cacheMu.Unlock()
		return set, nil
	}
	r.cacheMu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT rack_id FROM maintenance_rack_details`)
	if err != nil {
		return nil, fmt.Errorf("read suppressed set: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var rackID string
		if err := rows.Scan(&rackID); err != nil {
			return nil, fmt.Errorf("scan suppressed rack: %w", err)
		}
		set[rackID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cached = set
	r.cacheExpiry = time.Now().Add(suppressedTTL)
	r.cacheMu.Unlock()
	return set, nil
}

// IsSuppressed reports whether one rack is currently in maintenance.
func (r *Registry) IsSuppressed(ctx context.Context, rackID string) (bool, error) {
	set, err := r.SuppressedSet(ctx)
	if err != nil {
		return false, err
	}
	_, ok := set[rackID]
	return ok, nil
}

// BulkStart processes a batch of individual starts without aborting on
// per-row failure, returning a summary the caller can report row by row.
func (r *Registry) BulkStart(ctx context.Context, racks []models.RackContext, reason, startedBy string) ImportSummary {
	summary := ImportSummary{Total: len(racks), Failed: make([]ImportFailure, 0)}
	for _, rack := range racks {
		_, err := r.StartIndividual(ctx, rack, reason, startedBy)
		switch {
		case err == nil:
			summary.Successful++
		case errors.Is(err, ErrAlreadyInMaintenance):
			summary.AlreadyInMaintenance++
		default:
			summary.Failed = append(summary.Failed, ImportFailure{RackID: rack.RackID, Error: err.Error()})
		}
	}
	log.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("alreadyInMaintenance", summary.AlreadyInMaintenance).
		Int("failed", len(summary.Failed)).
		Msg("Bulk maintenance import processed")
	return summary
}

// OrphanDetailCount reports detail rows whose parent entry is missing.
// With foreign keys enforced this should always be zero; the housekeeping
// sweep logs a warning when it is not.
func (r *Registry) OrphanDetailCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM maintenance_rack_details d
		WHERE NOT EXISTS (SELECT 1 FROM maintenance_entries e WHERE e.id = d.entry_id)`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orphan maintenance details: %w", err)
	}
	return n, nil
}

func (r *Registry) invalidate() {
	r.cacheMu.Lock()
	r.cached = nil
	r.cacheMu.Unlock()
}
