// Package store keeps the history of extraction runs in SQLite so that
// readings from several reports can be trended together.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"labparse/internal/analysis"
	"labparse/internal/logger"
	"labparse/pkg/models"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// RunRecord summarizes a stored run.
type RunRecord struct {
	ID        string
	Source    string
	CreatedAt time.Time
	Readings  int
	Metadata  models.ReportMetadata
}

// Store persists extraction runs.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
	log  zerolog.Logger
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	const op = "Open"

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%s: failed to create directory: %w", op, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", op, err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %s: %w", op, pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: failed to create schema: %w", op, err)
	}

	return &Store{
		db:   db,
		path: path,
		now:  time.Now,
		log:  logger.WithComponent("store"),
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		created_at TEXT NOT NULL,
		patient_name TEXT NOT NULL DEFAULT '',
		patient_age INTEGER NOT NULL DEFAULT 0,
		patient_gender TEXT NOT NULL DEFAULT '',
		report_date TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS readings (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		biomarker TEXT NOT NULL,
		date TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_readings_biomarker ON readings(biomarker, date);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores result under a new run ID.
func (s *Store) SaveRun(ctx context.Context, source string, result *models.ExtractionResult) (RunRecord, error) {
	const op = "SaveRun"

	rec := RunRecord{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: s.now().UTC(),
		Metadata:  result.Metadata,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RunRecord{}, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer tx.Rollback()

	md := result.Metadata
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, created_at, patient_name, patient_age, patient_gender, report_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Source, rec.CreatedAt.Format(time.RFC3339Nano),
		md.PatientName, md.PatientAge, md.PatientGender, md.ReportDate,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("%s: failed to insert run: %w", op, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings (run_id, position, biomarker, date, value, unit, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return RunRecord{}, fmt.Errorf("%s: failed to prepare insert: %w", op, err)
	}
	defer stmt.Close()

	for i, r := range result.Readings() {
		if _, err := stmt.ExecContext(ctx, rec.ID, i, r.Biomarker, r.Date, r.Value, r.Unit, r.Status); err != nil {
			return RunRecord{}, fmt.Errorf("%s: failed to insert reading: %w", op, err)
		}
		rec.Readings++
	}

	if err := tx.Commit(); err != nil {
		return RunRecord{}, fmt.Errorf("%s: failed to commit: %w", op, err)
	}

	s.log.Info().
		Str("run_id", rec.ID).
		Str("source", source).
		Int("readings", rec.Readings).
		Msg("Run saved")
	return rec, nil
}

// ListRuns returns every stored run, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	const op = "ListRuns"

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.source, r.created_at, r.patient_name, r.patient_age, r.patient_gender, r.report_date,
			(SELECT COUNT(*) FROM readings WHERE run_id = r.id)
		FROM runs r
		ORDER BY r.created_at, r.rowid`)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query runs: %w", op, err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var createdAt string
		md := &rec.Metadata
		if err := rows.Scan(&rec.ID, &rec.Source, &createdAt,
			&md.PatientName, &md.PatientAge, &md.PatientGender, &md.ReportDate, &rec.Readings); err != nil {
			return nil, fmt.Errorf("%s: failed to scan run: %w", op, err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("%s: bad created_at %q: %w", op, createdAt, err)
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// LoadRun returns the result stored for one run.
func (s *Store) LoadRun(ctx context.Context, id string) (*models.ExtractionResult, error) {
	const op = "LoadRun"

	var md models.ReportMetadata
	err := s.db.QueryRowContext(ctx, `
		SELECT patient_name, patient_age, patient_gender, report_date FROM runs WHERE id = ?`, id,
	).Scan(&md.PatientName, &md.PatientAge, &md.PatientGender, &md.ReportDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query run: %w", op, err)
	}

	readings, err := s.queryReadings(ctx, `WHERE run_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return analysis.Aggregate(md, readings), nil
}

// LoadHistory aggregates the readings of every stored run into one result.
// Metadata fields come from the most recent run that has them.
func (s *Store) LoadHistory(ctx context.Context) (*models.ExtractionResult, error) {
	const op = "LoadHistory"

	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	mds := make([]models.ReportMetadata, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		mds = append(mds, runs[i].Metadata)
	}

	readings, err := s.queryReadings(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return analysis.Aggregate(analysis.MergeMetadata(mds...), readings), nil
}

// DeleteRun removes a run and its readings.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	const op = "DeleteRun"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer tx.Rollback()

	// Pooled connections do not all carry the foreign_keys pragma.
	if _, err := tx.ExecContext(ctx, `DELETE FROM readings WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("%s: failed to delete readings: %w", op, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%s: failed to delete run: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w: %s", op, ErrRunNotFound, id)
	}
	return tx.Commit()
}

func (s *Store) queryReadings(ctx context.Context, where string, args ...any) ([]models.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rd.biomarker, rd.date, rd.value, rd.unit, rd.status
		FROM readings rd JOIN runs r ON r.id = rd.run_id `+where+`
		ORDER BY r.created_at, r.rowid, rd.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(&r.Biomarker, &r.Date, &r.Value, &r.Unit, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
