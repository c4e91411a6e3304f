package sweep

import (
	"context"
	"encoding/json"
	"slices"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barry-cosmo/barry/internal/archive"
	"github.com/barry-cosmo/barry/internal/dataset"
	"github.com/barry-cosmo/barry/internal/store"
)

// DefaultMaxConcurrent bounds the datasets built at once when the runner leaves it unset.
const DefaultMaxConcurrent = 4

// Result is the outcome of one point. Exactly one of Snapshot and Err is set; Error mirrors Err
// for encoding.
type Result struct {
	Point    Point             `json:"point"`
	Snapshot *dataset.Snapshot `json:"snapshot,omitempty"`
	Err      error             `json:"-"`
	Error    string            `json:"error,omitempty"`
	RecordID string            `json:"record_id,omitempty"`
}

// Summary collects the results of a sweep in plan order.
type Summary struct {
	SweepID   string   `json:"sweep_id,omitempty"`
	Results   []Result `json:"results"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
}

// Runner executes sweep plans.
type Runner struct {
	Registry *dataset.Registry
	DataDir  string
	// Defaults seeds the options of every point before the plan's own settings apply.
	Defaults      dataset.Options
	MaxConcurrent int
	// Store receives the snapshots of plans with Save set. Nil disables persistence.
	Store store.Store
}

// Run resolves the plan's preset, loads its archive once and builds one independent dataset per
// point. Points that fail are reported in their Result and do not stop the sweep.
func (r *Runner) Run(ctx context.Context, plan *Plan) (*Summary, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	preset, err := r.Registry.Get(plan.Dataset)
	if err != nil {
		return nil, eris.Wrap(err, "sweep: resolve preset")
	}
	base, err := plan.Options(preset.Kind(), r.Defaults)
	if err != nil {
		return nil, eris.Wrap(err, "sweep: options")
	}
	ar, err := dataset.Resolve(preset, plan.Selector, base, r.DataDir)
	if err != nil {
		return nil, eris.Wrapf(err, "sweep: load archive for %s", plan.Dataset)
	}

	points := plan.Points()
	log := zap.L().With(zap.String("component", "sweep"), zap.String("dataset", plan.Dataset))
	limit := r.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	log.Info("starting sweep",
		zap.String("archive", ar.Name),
		zap.Int("points", len(points)),
		zap.Int("concurrency", limit),
	)

	results := make([]Result, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var succeeded, failed atomic.Int64

	for i, pt := range points {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			opts := base
			opts.MinX, opts.MaxX = pt.MinX, pt.MaxX
			opts.Realisation = pt.Realisation
			opts.FitPoles = slices.Clone(base.FitPoles)

			results[i].Point = pt
			snap, err := buildPoint(preset, plan.Selector, opts, ar)
			if err != nil {
				failed.Add(1)
				results[i].Err = err
				results[i].Error = err.Error()
				log.Warn("sweep point failed",
					zap.Int("point", pt.Index),
					zap.Float64("min_x", pt.MinX),
					zap.Float64("max_x", pt.MaxX),
					zap.Stringer("realisation", pt.Realisation),
					zap.Error(err),
				)
				return nil // don't abort the sweep on an individual failure
			}
			succeeded.Add(1)
			results[i].Snapshot = snap
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "sweep: run")
	}

	summary := &Summary{
		Results:   results,
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	log.Info("sweep complete", zap.Int("succeeded", summary.Succeeded), zap.Int("failed", summary.Failed))

	if plan.Save && r.Store != nil {
		if err := r.persist(ctx, plan, summary); err != nil {
			return summary, err
		}
		log.Info("sweep saved", zap.String("sweep_id", summary.SweepID))
	}
	return summary, nil
}

// buildPoint validates opts against the preset and builds the point's snapshot from the shared
// archive.
func buildPoint(preset dataset.Preset, sel dataset.Selector, opts dataset.Options, ar *archive.Archive) (*dataset.Snapshot, error) {
	if _, err := preset.Resolve(sel, opts); err != nil {
		return nil, err
	}
	d, err := dataset.New(ar, opts)
	if err != nil {
		return nil, err
	}
	snap := d.Snapshots()[0]
	return &snap, nil
}

func (r *Runner) persist(ctx context.Context, plan *Plan, summary *Summary) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "sweep: marshal plan")
	}
	sw, err := r.Store.CreateSweep(ctx, plan.Dataset, planJSON)
	if err != nil {
		return eris.Wrap(err, "sweep: create sweep")
	}
	summary.SweepID = sw.ID

	var recs []*store.SnapshotRecord
	var owners []int
	for i, res := range summary.Results {
		if res.Snapshot == nil {
			continue
		}
		rec, err := store.NewSnapshotRecord(plan.Dataset, *res.Snapshot, res.Point.MinX, res.Point.MaxX)
		if err != nil {
			return err
		}
		rec.SweepID = sw.ID
		recs = append(recs, rec)
		owners = append(owners, i)
	}
	if _, err := r.Store.SaveSnapshots(ctx, recs); err != nil {
		return eris.Wrap(err, "sweep: save snapshots")
	}
	for j, i := range owners {
		summary.Results[i].RecordID = recs[j].ID
	}
	return nil
}
