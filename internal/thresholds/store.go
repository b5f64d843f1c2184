// Package thresholds persists global and per-rack threshold values and
// resolves the effective set for a rack.
package thresholds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	// ErrInvalidKey is returned for keys outside the closed vocabulary.
	ErrInvalidKey = errors.New("unknown threshold key")
	// ErrInvalidValue is returned for non-finite or negative values.
	ErrInvalidValue = errors.New("threshold value must be a finite number >= 0")
	// ErrNotFound is returned when a delete targets a rack without overrides.
	ErrNotFound = errors.New("no threshold overrides for rack")
)

// effectiveTTL bounds how long a cached effective set may be served
// without re-reading the tables. Mutations invalidate eagerly; the TTL is
// the backstop.
const effectiveTTL = 60 * time.Second

// Entry is one stored threshold value.
type Entry struct {
	RackID      string    `json:"rackId,omitempty"`
	Key         string    `json:"key"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type cachedEffective struct {
	values  map[string]float64
	expires time.Time
}

// Store is the sqlite-backed threshold store.
type Store struct {
	db *sql.DB

	cacheMu sync.Mutex
	cache   map[string]cachedEffective
}

// NewStore opens (and if needed creates) the threshold database under
// dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "thresholds.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open threshold database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:    db,
		cache: make(map[string]cachedEffective),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize threshold schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Threshold store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threshold_configs (
		key TEXT PRIMARY KEY,
		value REAL NOT NULL,
		unit TEXT,
		description TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rack_threshold_overrides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rack_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT,
		description TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(rack_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_rack_overrides_rack
	ON rack_threshold_overrides(rack_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func validate(key string, value float64) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return fmt.Errorf("%w: key %q value %v", ErrInvalidValue, key, value)
	}
	return nil
}

// PutGlobal upserts one global threshold entry.
func (s *Store) PutGlobal(ctx context.Context, key string, value float64, unit, description string) error {
	if err := validate(key, value); err != nil {
		return err
	}
	if unit == "" {
		unit = DefaultUnit(key)
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threshold_configs (key, value, unit, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			unit = excluded.unit,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE threshold_configs.description END,
			updated_at = excluded.updated_at`,
		key, value, unit, description, now, now)
	if err != nil {
		return fmt.Errorf("upsert global threshold %q: %w", key, err)
	}
	s.invalidate()
	return nil
}

// BulkPutGlobal validates every pair, then upserts them in one
// transaction. Nothing is written when any key or value is invalid.
func (s *Store) BulkPutGlobal(ctx context.Context, values map[string]float64) error {
	for key, value := range values {
		if err := validate(key, value); err != nil {
			return err
		}
	}
	return s.bulkPut(ctx, "", values)
}

// PutRack upserts one per-rack override.
func (s *Store) PutRack(ctx context.Context, rackID, key string, value float64, unit, description string) error {
	if err := validate(key, value); err != nil {
		return err
	}
	if unit == "" {
		unit = DefaultUnit(key)
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rack_threshold_overrides (rack_id, key, value, unit, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rack_id, key) DO UPDATE SET
			value = excluded.value,
			unit = excluded.unit,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE rack_threshold_overrides.description END,
			updated_at = excluded.updated_at`,
		rackID, key, value, unit, description, now, now)
	if err != nil {
		return fmt.Errorf("upsert rack %q threshold %q: %w", rackID, key, err)
	}
	s.invalidate()
	return nil
}

// BulkPutRack validates every pair, then upserts rack overrides in one
// transaction.
func (s *Store) BulkPutRack(ctx context.Context, rackID string, values map[string]float64) error {
	if rackID == "" {
		return fmt.Errorf("rack id is required")
	}
	for key, value := range values {
		if err := validate(key, value); err != nil {
			return err
		}
	}
	return s.bulkPut(ctx, rackID, values)
}

func (s *Store) bulkPut(ctx context.Context, rackID string, values map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin threshold transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for key, value := range values {
		if rackID == "" {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO threshold_configs (key, value, unit, description, created_at, updated_at)
				VALUES (?, ?, ?, '', ?, ?)
				ON CONFLICT(key) DO UPDATE SET
					value = excluded.value,
					updated_at = excluded.updated_at`,
				key, value, DefaultUnit(key), now, now)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO rack_threshold_overrides (rack_id, key, value, unit, description, created_at, updated_at)
				VALUES (?, ?, ?, ?, '', ?, ?)
				ON CONFLICT(rack_id, key) DO UPDATE SET
					value = excluded.value,
					updated_at = excluded.updated_at`,
				rackID, key, value, DefaultUnit(key), now, now)
		}
		if err != nil {
			return fmt.Errorf("upsert threshold %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit threshold transaction: %w", err)
	}
	s.invalidate()
	return nil
}

// ListGlobal returns all global threshold entries.
func (s *Store) ListGlobal(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, unit, description, updated_at
		FROM threshold_configs ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list global thresholds: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows, "")
}

// ListRack returns all overrides for one rack.
func (s *Store) ListRack(ctx context.Context, rackID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, unit, description, updated_at
		FROM rack_threshold_overrides WHERE rack_id = ? ORDER BY key`, rackID)
	if err != nil {
		return nil, fmt.Errorf("list rack %q thresholds: %w", rackID, err)
	}
	defer rows.Close()
	return scanEntries(rows, rackID)
}

func scanEntries(rows *sql.Rows, rackID string) ([]Entry, error) {
	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e         Entry
			unit      sql.NullString
			desc      sql.NullString
			updatedAt int64
		)
		if err := rows.Scan(&e.Key, &e.Value, &unit, &desc, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan threshold row: %w", err)
		}
		e.RackID = rackID
		e.Unit = unit.String
		e.Description = desc.String
		e.UpdatedAt = time.Unix(updatedAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteRack removes every override for a rack, resetting it to the
// global set. Returns ErrNotFound when the rack has no overrides.
func (s *Store) DeleteRack(ctx context.Context, rackID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rack_threshold_overrides WHERE rack_id = ?`, rackID)
	if err != nil {
		return fmt.Errorf("delete rack %q thresholds: %w", rackID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rack %q thresholds: %w", rackID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, rackID)
	}
	s.invalidate()
	log.Info().Str("rackId", rackID).Int64("removed", affected).Msg("Rack threshold overrides reset")
	return nil
}

// EffectiveFor resolves the effective threshold set for a rack: the
// per-key merge of global entries and rack overrides, override wins. Keys
// absent in both scopes are absent in the result.
func (s *Store) EffectiveFor(ctx context.Context, rackID string) (map[string]float64, error) {
	s.cacheMu.Lock()
	if cached, ok := s.cache[rackID]; ok && time.Now().Before(cached.expires) {
		s.cacheMu.Unlock()
		return cached.values, nil
	}
	s.cacheMu.Unlock()

	values := make(map[string]float64)

	global, err := s.ListGlobal(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range global {
		values[e.Key] = e.Value
	}

	overrides, err := s.ListRack(ctx, rackID)
	if err != nil {
		return nil, err
	}
	for _, e := range overrides {
		values[e.Key] = e.Value
	}

	s.cacheMu.Lock()
	s.cache[rackID] = cachedEffective{values: values, expires: time.Now().Add(effectiveTTL)}
	s.cacheMu.Unlock()

	return values, nil
}

// invalidate drops every cached effective set. Called after any mutation
// commits so evaluations started afterwards observe the change.
func (s *Store) invalidate() {
	s.cacheMu.Lock()
	s.cache = make(map[string]cachedEffective)
	s.cacheMu.Unlock()
}
