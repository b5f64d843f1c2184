package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rackwatch/rackwatch/internal/models"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Filter narrows an active-alert listing.
type Filter struct {
	MetricType string
	Site       string
	DC         string
}

// Plan is one cycle's reconciliation outcome, applied open -> refresh ->
// close so an alert that persists never momentarily disappears.
type Plan struct {
	ToOpen    []models.ActiveAlert
	ToRefresh []models.ActiveAlert
	ToClose   []models.AlertKey
	Now       time.Time
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.ToOpen) == 0 && len(p.ToRefresh) == 0 && len(p.ToClose) == 0
}

// Store persists the active critical alerts.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the alert database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "alerts.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open alert database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize alert schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Alert store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS active_critical_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pdu_id TEXT NOT NULL,
		rack_id TEXT NOT NULL,
		name TEXT,
		country TEXT,
		site TEXT,
		dc TEXT,
		phase TEXT,
		chain TEXT,
		node TEXT,
		serial TEXT,
		alert_type TEXT NOT NULL DEFAULT 'critical',
		metric_type TEXT NOT NULL,
		alert_reason TEXT NOT NULL,
		alert_value REAL NOT NULL,
		alert_field TEXT NOT NULL,
		threshold_exceeded REAL NOT NULL,
		alert_started_at INTEGER NOT NULL,
		last_updated_at INTEGER NOT NULL,
		UNIQUE(pdu_id, metric_type, alert_reason)
	);

	CREATE INDEX IF NOT EXISTS idx_active_alerts_rack
	ON active_critical_alerts(rack_id);

	CREATE INDEX IF NOT EXISTS idx_active_alerts_location
	ON active_critical_alerts(site, dc);
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

const alertColumns = `id, pdu_id, rack_id, name, country, site, dc, phase, chain, node, serial,
	alert_type, metric_type, alert_reason, alert_value, alert_field, threshold_exceeded,
	alert_started_at, last_updated_at`

// Active lists the table, optionally filtered by metric type, site, dc.
func (s *Store) Active(ctx context.Context, filter Filter) ([]models.ActiveAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM active_critical_alerts WHERE 1=1`
	args := make([]any, 0, 3)
	if filter.MetricType != "" {
		query += ` AND metric_type = ?`
		args = append(args, filter.MetricType)
	}
	if filter.Site != "" {
		query += ` AND site = ?`
		args = append(args, filter.Site)
	}
	if filter.DC != "" {
		query += ` AND dc = ?`
		args = append(args, filter.DC)
	}
	query += ` ORDER BY alert_started_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ByKey returns the table indexed by natural key, for the reconciler.
func (s *Store) ByKey(ctx context.Context) (map[models.AlertKey]models.ActiveAlert, error) {
	all, err := s.Active(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	out := make(map[models.AlertKey]models.ActiveAlert, len(all))
	for _, a := range all {
		out[a.Key()] = a
	}
	return out, nil
}

// Count returns the number of active alert rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM active_critical_alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active alerts: %w", err)
	}
	return n, nil
}

// StaleCount reports rows whose last_updated_at is older than cutoff.
// Used by housekeeping to flag alerts that have not been confirmed for
// several cycles (upstream outage).
func (s *Store) StaleCount(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM active_critical_alerts WHERE last_updated_at < ?`,
		cutoff.Unix()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stale alerts: %w", err)
	}
	return n, nil
}

// ApplyPlan executes a reconciliation plan in one transaction, in the
// order open -> refresh -> close.
func (s *Store) ApplyPlan(ctx context.Context, plan Plan) error {
	if plan.Empty() {
		return nil
	}
	now := plan.Now
	if now.IsZero() {
		now = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range plan.ToOpen {
		// The unique triple makes the insert idempotent: a row that
		// somehow already exists is refreshed, not duplicated.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO active_critical_alerts
				(pdu_id, rack_id, name, country, site, dc, phase, chain, node, serial,
				 alert_type, metric_type, alert_reason, alert_value, alert_field,
				 threshold_exceeded, alert_started_at, last_updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'critical', ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(pdu_id, metric_type, alert_reason) DO UPDATE SET
				alert_value = excluded.alert_value,
				threshold_exceeded = excluded.threshold_exceeded,
				last_updated_at = excluded.last_updated_at`,
			a.PDUID, a.RackID, a.Name, a.Country, a.Site, a.DC, string(a.Phase),
			a.Chain, a.Node, a.Serial, a.MetricType, a.AlertReason, a.AlertValue,
			a.AlertField, a.ThresholdExceeded, now.Unix(), now.Unix()); err != nil {
			return fmt.Errorf("open alert %s/%s/%s: %w", a.PDUID, a.MetricType, a.AlertReason, err)
		}
	}

	for _, a := range plan.ToRefresh {
		if _, err := tx.ExecContext(ctx, `
			UPDATE active_critical_alerts SET
				rack_id = ?, name = ?, country = ?, site = ?, dc = ?, phase = ?,
				chain = ?, node = ?, serial = ?, alert_value = ?, alert_field = ?,
				threshold_exceeded = ?, last_updated_at = ?
			WHERE pdu_id = ? AND metric_type = ? AND alert_reason = ?`,
			a.RackID, a.Name, a.Country, a.Site, a.DC, string(a.Phase),
			a.Chain, a.Node, a.Serial, a.AlertValue, a.AlertField,
			a.ThresholdExceeded, now.Unix(),
			a.PDUID, a.MetricType, a.AlertReason); err != nil {
			return fmt.Errorf("refresh alert %s/%s/%s: %w", a.PDUID, a.MetricType, a.AlertReason, err)
		}
	}

	for _, k := range plan.ToClose {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM active_critical_alerts
			WHERE pdu_id = ? AND metric_type = ? AND alert_reason = ?`,
			k.PDUID, k.MetricType, k.AlertReason); err != nil {
			return fmt.Errorf("close alert %s/%s/%s: %w", k.PDUID, k.MetricType, k.AlertReason, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alert transaction: %w", err)
	}
	return nil
}

func scanAlerts(rows *sql.Rows) ([]models.ActiveAlert, error) {
	alerts := make([]models.ActiveAlert, 0)
	for rows.Next() {
		var (
			a         models.ActiveAlert
			name      sql.NullString
			country   sql.NullString
			site      sql.NullString
			dc        sql.NullString
			phase     sql.NullString
			chain     sql.NullString
			node      sql.NullString
			serial    sql.NullString
			startedAt int64
			updatedAt int64
		)
		if err := rows.Scan(&a.ID, &a.PDUID, &a.RackID, &name, &country, &site, &dc,
			&phase, &chain, &node, &serial, &a.AlertType, &a.MetricType, &a.AlertReason,
			&a.AlertValue, &a.AlertField, &a.ThresholdExceeded, &startedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		a.Name = name.String
		a.Country = country.String
		a.Site = site.String
		a.DC = dc.String
		a.Phase = models.Phase(phase.String)
		a.Chain = chain.String
		a.Node = node.String
		a.Serial = serial.String
		a.AlertStartedAt = time.Unix(startedAt, 0)
		a.LastUpdatedAt = time.Unix(updatedAt, 0)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
