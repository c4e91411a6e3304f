package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/barry-cosmo/barry/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_sweep":    `INSERT INTO sweeps (id, dataset, plan, created_at) VALUES ($1, $2, $3, $4)`,
	"insert_snapshot": `INSERT INTO snapshots (id, sweep_id, dataset, name, min_x, max_x, realisation, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_snapshot":    `SELECT id, sweep_id, dataset, name, min_x, max_x, realisation, payload, created_at FROM snapshots WHERE id = $1`,
}

// snapshotColumns is the COPY column order for SaveSnapshots.
var snapshotColumns = []string{"id", "sweep_id", "dataset", "name", "min_x", "max_x", "realisation", "payload", "created_at"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sweeps (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dataset    TEXT NOT NULL,
	plan       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS snapshots (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	sweep_id    TEXT REFERENCES sweeps(id),
	dataset     TEXT NOT NULL,
	name        TEXT NOT NULL,
	min_x       DOUBLE PRECISION NOT NULL,
	max_x       DOUBLE PRECISION NOT NULL,
	realisation TEXT NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_sweep_id ON snapshots(sweep_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_dataset ON snapshots(dataset);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSweep(ctx context.Context, datasetName string, plan []byte) (*Sweep, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sweeps (id, dataset, plan, created_at) VALUES ($1, $2, $3, $4)`,
		id, datasetName, plan, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert sweep")
	}
	return &Sweep{ID: id, Dataset: datasetName, Plan: plan, CreatedAt: now}, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	prepare(rec)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (id, sweep_id, dataset, name, min_x, max_x, realisation, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pgSnapshotRow(rec)...,
	)
	return eris.Wrapf(err, "postgres: insert snapshot %s", rec.ID)
}

// SaveSnapshots bulk-loads recs with COPY.
func (s *PostgresStore) SaveSnapshots(ctx context.Context, recs []*SnapshotRecord) (int64, error) {
	rows := make([][]any, len(recs))
	for i, rec := range recs {
		prepare(rec)
		rows[i] = pgSnapshotRow(rec)
	}
	n, err := db.CopyFrom(ctx, s.pool, "snapshots", snapshotColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save snapshots")
	}
	return n, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, id string) (*SnapshotRecord, error) {
	rec, err := pgScanSnapshot(s.pool.QueryRow(ctx,
		`SELECT id, sweep_id, dataset, name, min_x, max_x, realisation, payload, created_at FROM snapshots WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "snapshot %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]SnapshotRecord, error) {
	query := `SELECT id, sweep_id, dataset, name, min_x, max_x, realisation, payload, created_at FROM snapshots WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SweepID != "" {
		query += fmt.Sprintf(` AND sweep_id = $%d`, argIdx)
		args = append(args, filter.SweepID)
		argIdx++
	}
	if filter.Dataset != "" {
		query += fmt.Sprintf(` AND dataset = $%d`, argIdx)
		args = append(args, filter.Dataset)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var recs []SnapshotRecord
	for rows.Next() {
		rec, err := pgScanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func pgSnapshotRow(rec *SnapshotRecord) []any {
	var sweepID *string
	if rec.SweepID != "" {
		sweepID = &rec.SweepID
	}
	return []any{rec.ID, sweepID, rec.Dataset, rec.Name, rec.MinX, rec.MaxX, rec.Realisation, []byte(rec.Payload), rec.CreatedAt}
}

func pgScanSnapshot(row scannable) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	var sweepID *string
	var payload []byte

	if err := row.Scan(&rec.ID, &sweepID, &rec.Dataset, &rec.Name, &rec.MinX, &rec.MaxX, &rec.Realisation, &payload, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if sweepID != nil {
		rec.SweepID = *sweepID
	}
	rec.Payload = payload
	return &rec, nil
}
