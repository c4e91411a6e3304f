// Package store persists dataset snapshots and the sweeps that produced them.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/barry-cosmo/barry/internal/config"
	"github.com/barry-cosmo/barry/internal/dataset"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// Sweep is one recorded sweep run.
type Sweep struct {
	ID        string          `json:"id"`
	Dataset   string          `json:"dataset"`
	Plan      json.RawMessage `json:"plan"`
	CreatedAt time.Time       `json:"created_at"`
}

// SnapshotRecord is a stored dataset snapshot. Payload holds the snapshot JSON.
type SnapshotRecord struct {
	ID          string          `json:"id"`
	SweepID     string          `json:"sweep_id,omitempty"`
	Dataset     string          `json:"dataset"`
	Name        string          `json:"name"`
	MinX        float64         `json:"min_x"`
	MaxX        float64         `json:"max_x"`
	Realisation string          `json:"realisation"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SnapshotFilter specifies criteria for listing snapshots.
type SnapshotFilter struct {
	SweepID string `json:"sweep_id,omitempty"`
	Dataset string `json:"dataset,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the snapshot catalogue.
type Store interface {
	// Sweeps
	CreateSweep(ctx context.Context, datasetName string, plan []byte) (*Sweep, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error
	SaveSnapshots(ctx context.Context, recs []*SnapshotRecord) (int64, error)
	GetSnapshot(ctx context.Context, id string) (*SnapshotRecord, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]SnapshotRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "barry.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unsupported driver %q (valid: sqlite, postgres)", cfg.Driver)
	}
}

// NewSnapshotRecord encodes snap for storage under the preset name datasetName.
func NewSnapshotRecord(datasetName string, snap dataset.Snapshot, minX, maxX float64) (*SnapshotRecord, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal snapshot")
	}
	return &SnapshotRecord{
		Dataset:     datasetName,
		Name:        snap.Name,
		MinX:        minX,
		MaxX:        maxX,
		Realisation: snap.Realisation.String(),
		Payload:     payload,
	}, nil
}

// prepare assigns an ID and creation time to rec if it has none.
func prepare(rec *SnapshotRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

func listLimit(filter SnapshotFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
