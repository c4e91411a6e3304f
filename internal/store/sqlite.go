package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sweeps (
	id         TEXT PRIMARY KEY,
	dataset    TEXT NOT NULL,
	plan       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY,
	sweep_id    TEXT REFERENCES sweeps(id),
	dataset     TEXT NOT NULL,
	name        TEXT NOT NULL,
	min_x       REAL NOT NULL,
	max_x       REAL NOT NULL,
	realisation TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_snapshots_sweep_id ON snapshots(sweep_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_dataset ON snapshots(dataset);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSweep(ctx context.Context, datasetName string, plan []byte) (*Sweep, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sweeps (id, dataset, plan, created_at) VALUES (?, ?, ?, ?)`,
		id, datasetName, string(plan), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert sweep")
	}
	return &Sweep{ID: id, Dataset: datasetName, Plan: plan, CreatedAt: now}, nil
}

const sqliteInsertSnapshot = `INSERT INTO snapshots (id, sweep_id, dataset, name, min_x, max_x, realisation, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	prepare(rec)
	_, err := s.db.ExecContext(ctx, sqliteInsertSnapshot, snapshotArgs(rec)...)
	return eris.Wrapf(err, "sqlite: insert snapshot %s", rec.ID)
}

// SaveSnapshots inserts recs in one transaction.
func (s *SQLiteStore) SaveSnapshots(ctx context.Context, recs []*SnapshotRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteInsertSnapshot)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert snapshot")
	}
	defer stmt.Close()

	for _, rec := range recs {
		prepare(rec)
		if _, err := stmt.ExecContext(ctx, snapshotArgs(rec)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert snapshot %s", rec.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit snapshots")
	}
	return int64(len(recs)), nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sweep_id, dataset, name, min_x, max_x, realisation, payload, created_at FROM snapshots WHERE id = ?`,
		id,
	)
	rec, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "snapshot %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]SnapshotRecord, error) {
	query := `SELECT id, sweep_id, dataset, name, min_x, max_x, realisation, payload, created_at FROM snapshots WHERE 1=1`
	var args []any

	if filter.SweepID != "" {
		query += ` AND sweep_id = ?`
		args = append(args, filter.SweepID)
	}
	if filter.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, filter.Dataset)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var recs []SnapshotRecord
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

// helpers

func snapshotArgs(rec *SnapshotRecord) []any {
	var sweepID any
	if rec.SweepID != "" {
		sweepID = rec.SweepID
	}
	return []any{rec.ID, sweepID, rec.Dataset, rec.Name, rec.MinX, rec.MaxX, rec.Realisation, string(rec.Payload), rec.CreatedAt}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scannable) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	var sweepID sql.NullString
	var payload string

	err := row.Scan(&rec.ID, &sweepID, &rec.Dataset, &rec.Name, &rec.MinX, &rec.MaxX, &rec.Realisation, &payload, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.SweepID = sweepID.String
	rec.Payload = []byte(payload)
	return &rec, nil
}
