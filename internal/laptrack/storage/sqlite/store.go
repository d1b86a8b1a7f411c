// Package sqlite persists tracking runs (detections, links and trajectories)
// in a SQLite database whose schema is managed by embedded golang-migrate
// migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/laptrack/internal/laptrack"
	"github.com/banshee-data/laptrack/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run ID has no stored run.
var ErrRunNotFound = errors.New("tracking run not found")

// Store wraps the run database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

// MigrateUp runs all pending migrations up to the latest version.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Run is a tracked sequence ready to be stored.
type Run struct {
	ID        string // Generated when empty
	CreatedAt time.Time
	Source    string // Input file or other provenance
	Config    laptrack.Config
	Sequence  *laptrack.Sequence
	Segments  int // Track segments retained by frame linking
}

// RunSummary is one row of tracking_runs.
type RunSummary struct {
	ID              string
	CreatedAt       time.Time
	Source          string
	FrameCount      int
	DetectionCount  int
	SegmentCount    int
	LinkCount       int
	TrajectoryCount int
}

// SaveRun stores the run's detections, links and trajectories in a single
// transaction and returns the run ID.
func (s *Store) SaveRun(ctx context.Context, run *Run) (string, error) {
	if run == nil || run.Sequence == nil {
		return "", errors.New("save run: nil run or sequence")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	defer monitoring.Timed("save run " + run.ID)()

	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}

	seq := run.Sequence
	links := seq.Links()
	trajs := laptrack.Trajectories(seq)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tracking_runs (
			run_id, created_unix_nanos, source, config_json, frame_count,
			detection_count, segment_count, link_count, trajectory_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixNano(), nullString(run.Source), string(cfgJSON), seq.FrameCount(),
		seq.Len(), run.Segments, len(links), len(trajs),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	if err := insertDetections(ctx, tx, run.ID, seq); err != nil {
		return "", err
	}

	linkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detection_links (run_id, from_frame, from_idx, to_frame, to_idx)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare link insert: %w", err)
	}
	defer linkStmt.Close()
	for _, l := range links {
		if _, err := linkStmt.ExecContext(ctx, run.ID, l.From.Frame, l.From.Index, l.To.Frame, l.To.Index); err != nil {
			return "", fmt.Errorf("insert link %s -> %s: %w", l.From, l.To, err)
		}
	}

	trajStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trajectories (run_id, trajectory_idx, frame, idx)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare trajectory insert: %w", err)
	}
	defer trajStmt.Close()
	for ti, traj := range trajs {
		for _, r := range traj.Detections {
			if _, err := trajStmt.ExecContext(ctx, run.ID, ti, r.Frame, r.Index); err != nil {
				return "", fmt.Errorf("insert trajectory %d: %w", ti, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	monitoring.Logf("stored run %s: %d detections, %d links, %d trajectories", run.ID, seq.Len(), len(links), len(trajs))
	return run.ID, nil
}

func insertDetections(ctx context.Context, tx *sql.Tx, runID string, seq *laptrack.Sequence) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (run_id, frame, idx, detection_id, x, y, z, coords_json, features_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range seq.Refs() {
		d := seq.At(r)
		coords, err := json.Marshal(d.Coords)
		if err != nil {
			return fmt.Errorf("marshal coords of %s: %w", r, err)
		}
		var feats sql.NullString
		if len(d.Features) > 0 {
			b, err := json.Marshal(d.Features)
			if err != nil {
				return fmt.Errorf("marshal features of %s: %w", r, err)
			}
			feats = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, runID, r.Frame, r.Index, d.ID,
			axis(d.Coords, 0), axis(d.Coords, 1), axis(d.Coords, 2),
			string(coords), feats,
		); err != nil {
			return fmt.Errorf("insert detection %s: %w", r, err)
		}
	}
	return nil
}

// ListRuns returns every stored run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, created_unix_nanos, source, frame_count, detection_count,
		       segment_count, link_count, trajectory_count
		FROM tracking_runs
		ORDER BY created_unix_nanos DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r       RunSummary
			created int64
			source  sql.NullString
		)
		if err := rows.Scan(&r.ID, &created, &source, &r.FrameCount, &r.DetectionCount,
			&r.SegmentCount, &r.LinkCount, &r.TrajectoryCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt = time.Unix(0, created)
		r.Source = source.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadConfig returns the tracker configuration a run was produced with.
func (s *Store) LoadConfig(ctx context.Context, runID string) (laptrack.Config, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT config_json FROM tracking_runs WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return laptrack.Config{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return laptrack.Config{}, fmt.Errorf("query config: %w", err)
	}
	var cfg laptrack.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return laptrack.Config{}, fmt.Errorf("decode config of %s: %w", runID, err)
	}
	return cfg, nil
}

// LoadLinks returns the stored links of a run sorted by source, then target.
func (s *Store) LoadLinks(ctx context.Context, runID string) ([]laptrack.Link, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_frame, from_idx, to_frame, to_idx
		FROM detection_links
		WHERE run_id = ?
		ORDER BY from_frame, from_idx, to_frame, to_idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []laptrack.Link
	for rows.Next() {
		var l laptrack.Link
		if err := rows.Scan(&l.From.Frame, &l.From.Index, &l.To.Frame, &l.To.Index); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LoadTrajectories returns the detections of each stored trajectory, in
// trajectory order.
func (s *Store) LoadTrajectories(ctx context.Context, runID string) ([][]laptrack.Ref, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trajectory_idx, frame, idx
		FROM trajectories
		WHERE run_id = ?
		ORDER BY trajectory_idx, frame, idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trajectories: %w", err)
	}
	defer rows.Close()

	var out [][]laptrack.Ref
	for rows.Next() {
		var (
			ti int
			r  laptrack.Ref
		)
		if err := rows.Scan(&ti, &r.Frame, &r.Index); err != nil {
			return nil, fmt.Errorf("scan trajectory: %w", err)
		}
		for len(out) <= ti {
			out = append(out, nil)
		}
		out[ti] = append(out[ti], r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and everything stored with it.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracking_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func (s *Store) requireRun(ctx context.Context, runID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tracking_runs WHERE run_id = ?`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("query run: %w", err)
	}
	return nil
}

func axis(coords []float64, k int) sql.NullFloat64 {
	if k >= len(coords) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: coords[k], Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
