package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/opengantry/gantry/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements engine.PlanStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded source.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SavePlan persists a computed plan as its JSON document.
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *engine.Plan) error {
	document, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	query := `INSERT INTO plans (id, state_hash, document, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, plan.ID, plan.StateHash, string(document), plan.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// GetPlanByStateHash returns the most recent plan cached for a state hash.
func (s *SQLiteStore) GetPlanByStateHash(ctx context.Context, stateHash string) (*engine.Plan, error) {
	query := `
		SELECT document FROM plans
		WHERE state_hash = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var document string
	err := s.db.QueryRowContext(ctx, query, stateHash).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan for state hash %s: %w", stateHash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	var plan engine.Plan
	if err := json.Unmarshal([]byte(document), &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return &plan, nil
}

// SaveFingerprint records an assembly fingerprint with its per-service
// desired hashes and fragment rationale.
func (s *SQLiteStore) SaveFingerprint(ctx context.Context, fp *engine.Fingerprint) error {
	hashes, err := json.Marshal(fp.ServiceHashes)
	if err != nil {
		return fmt.Errorf("failed to encode service hashes: %w", err)
	}
	fragments, err := json.Marshal(fp.Fragments)
	if err != nil {
		return fmt.Errorf("failed to encode fragments: %w", err)
	}

	query := `
		INSERT INTO fingerprints (id, generated_at, artifact_hash, service_hashes, fragments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		fp.ID, fp.GeneratedAt, fp.ArtifactHash, string(hashes), string(fragments), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save fingerprint: %w", err)
	}
	return nil
}

// LatestFingerprint returns the most recently recorded fingerprint.
func (s *SQLiteStore) LatestFingerprint(ctx context.Context) (*engine.Fingerprint, error) {
	query := `
		SELECT id, generated_at, artifact_hash, service_hashes, fragments
		FROM fingerprints
		ORDER BY created_at DESC
		LIMIT 1
	`

	var fp engine.Fingerprint
	var hashes, fragments string
	err := s.db.QueryRowContext(ctx, query).Scan(&fp.ID, &fp.GeneratedAt, &fp.ArtifactHash, &hashes, &fragments)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fingerprint: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}

	if err := json.Unmarshal([]byte(hashes), &fp.ServiceHashes); err != nil {
		return nil, fmt.Errorf("failed to decode service hashes: %w", err)
	}
	if fragments != "" && fragments != "null" {
		if err := json.Unmarshal([]byte(fragments), &fp.Fragments); err != nil {
			return nil, fmt.Errorf("failed to decode fragments: %w", err)
		}
	}
	return &fp, nil
}

// SaveDriftReport persists a drift report as its JSON document.
func (s *SQLiteStore) SaveDriftReport(ctx context.Context, report *engine.DriftReport) error {
	document, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode drift report: %w", err)
	}

	query := `
		INSERT INTO drift_reports (id, generated_at, query_failed, document, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	queryFailed := 0
	if report.QueryFailed {
		queryFailed = 1
	}
	if _, err := s.db.ExecContext(ctx, query,
		report.ID, report.GeneratedAt.UTC(), queryFailed, string(document), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save drift report: %w", err)
	}
	return nil
}

// ListDriftReports returns recent drift reports, newest first.
func (s *SQLiteStore) ListDriftReports(ctx context.Context, limit int) ([]*engine.DriftReport, error) {
	query := `
		SELECT document FROM drift_reports
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift reports: %w", err)
	}
	defer rows.Close()

	reports := []*engine.DriftReport{}
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan drift report: %w", err)
		}
		var report engine.DriftReport
		if err := json.Unmarshal([]byte(document), &report); err != nil {
			return nil, fmt.Errorf("failed to decode drift report: %w", err)
		}
		reports = append(reports, &report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drift reports: %w", err)
	}
	return reports, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
