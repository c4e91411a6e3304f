package main

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/barry-cosmo/barry/internal/dataset"
	"github.com/barry-cosmo/barry/internal/store"
)

// dataDir returns the archive directory from config.
func dataDir() string {
	if cfg == nil || cfg.Data.Dir == "" {
		return "./data"
	}
	return cfg.Data.Dir
}

// datasetDefaults returns the options for kind with the configured dataset defaults applied.
func datasetDefaults(kind dataset.Kind) dataset.Options {
	opts := dataset.DefaultOptions(kind)
	if cfg == nil {
		return opts
	}
	if cfg.Dataset.ReduceCovFactor != 0 {
		opts.ReduceCovFactor = cfg.Dataset.ReduceCovFactor
	}
	if p, err := dataset.ParsePolicy(cfg.Dataset.Policy); err == nil {
		opts.Policy = p
	}
	opts.LogCovariance = cfg.Dataset.LogCovariance
	return opts
}

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// snapshotRequest is a dataset request from the command line or a query string. Nil and empty
// fields keep the configured defaults.
type snapshotRequest struct {
	Selector    dataset.Selector
	Recon       string
	MinX, MaxX  *float64
	Realisation string
	Poles       []int
	Reduce      *int
	Policy      string
	Isotropic   bool
	FakeDiag    bool
	NumMocks    int
}

// options resolves the request into dataset options for kind.
func (r snapshotRequest) options(kind dataset.Kind) (dataset.Options, error) {
	opts := datasetDefaults(kind)
	if r.MinX != nil {
		opts.MinX = *r.MinX
	}
	if r.MaxX != nil {
		opts.MaxX = *r.MaxX
	}
	var err error
	if opts.Recon, err = dataset.ParseRecon(r.Recon); err != nil {
		return opts, err
	}
	if opts.Realisation, err = dataset.ParseRealisation(r.Realisation); err != nil {
		return opts, err
	}
	if r.Policy != "" {
		if opts.Policy, err = dataset.ParsePolicy(r.Policy); err != nil {
			return opts, err
		}
	}
	if r.Reduce != nil {
		opts.ReduceCovFactor = *r.Reduce
	}
	if len(r.Poles) > 0 {
		opts.FitPoles = r.Poles
	}
	opts.Isotropic = r.Isotropic
	opts.FakeDiag = r.FakeDiag
	opts.NumMocks = r.NumMocks
	return opts, nil
}

// openSnapshot builds the named preset's dataset and returns its snapshot.
func openSnapshot(reg *dataset.Registry, name string, req snapshotRequest, dir string) (*dataset.Snapshot, dataset.Options, error) {
	p, err := reg.Get(name)
	if err != nil {
		return nil, dataset.Options{}, err
	}
	opts, err := req.options(p.Kind())
	if err != nil {
		return nil, opts, err
	}
	d, err := dataset.Open(p, req.Selector, opts, dir)
	if err != nil {
		return nil, opts, err
	}
	snap := d.Snapshots()[0]
	return &snap, d.Options(), nil
}

// parseRequest reads a snapshotRequest from query parameters.
func parseRequest(q url.Values) (snapshotRequest, error) {
	var req snapshotRequest
	var err error
	if req.Selector.RedshiftBin, err = queryInt(q, "z"); err != nil {
		return req, err
	}
	if req.Selector.SmoothType, err = queryInt(q, "smooth"); err != nil {
		return req, err
	}
	if req.Reduce, err = queryInt(q, "reduce"); err != nil {
		return req, err
	}
	numMocks, err := queryInt(q, "num_mocks")
	if err != nil {
		return req, err
	}
	if numMocks != nil {
		req.NumMocks = *numMocks
	}
	if req.Isotropic, err = queryBool(q, "isotropic"); err != nil {
		return req, err
	}
	if req.FakeDiag, err = queryBool(q, "fake_diag"); err != nil {
		return req, err
	}
	req.Selector.GalacticCap = q.Get("cap")
	req.Selector.Variant = q.Get("variant")
	req.Selector.CovType = q.Get("cov_type")
	req.Recon = q.Get("recon")
	req.Realisation = q.Get("realisation")
	req.Policy = q.Get("policy")

	if req.MinX, err = queryFloat(q, "min"); err != nil {
		return req, err
	}
	if req.MaxX, err = queryFloat(q, "max"); err != nil {
		return req, err
	}
	if s := q.Get("poles"); s != "" {
		if req.Poles, err = parsePoles(s); err != nil {
			return req, err
		}
	}
	return req, nil
}

// queryInt returns nil when key is absent so that an explicit 0 still reaches validation.
func queryInt(q url.Values, key string) (*int, error) {
	if !q.Has(key) {
		return nil, nil
	}
	s := q.Get(key)
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, eris.Wrapf(dataset.ErrConfig, "%s %q is not an integer", key, s)
	}
	return &v, nil
}

func queryBool(q url.Values, key string) (bool, error) {
	if !q.Has(key) {
		return false, nil
	}
	s := q.Get(key)
	if s == "" {
		return true, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, eris.Wrapf(dataset.ErrConfig, "%s %q is not a boolean", key, s)
	}
	return v, nil
}

func queryFloat(q url.Values, key string) (*float64, error) {
	s := q.Get(key)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(dataset.ErrConfig, "%s %q is not a number", key, s)
	}
	return &v, nil
}

// parsePoles parses a comma-separated multipole list such as "0,2".
func parsePoles(s string) ([]int, error) {
	var poles []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, eris.Wrapf(dataset.ErrConfig, "multipole %q is not an integer", part)
		}
		poles = append(poles, v)
	}
	return poles, nil
}
