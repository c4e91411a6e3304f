// Package dataset turns a loaded measurement archive into the inputs of a BAO fit: it selects a
// realisation, restricts it to a range of the independent variable and assembles the matching
// covariance matrix and its inverse.
package dataset

import (
	"maps"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/barry-cosmo/barry/internal/archive"
)

// Dataset is one fit configuration over an archive. It owns its mask, working data and
// covariance; the archive itself is shared and never modified.
type Dataset struct {
	opts     Options
	name     string
	archive  *archive.Archive
	ensemble *archive.Ensemble
	poles    []int // retained multipoles, archive order
	columns  []int // table columns of poles
	reduce   float64
	log      *zap.Logger

	mask    []bool
	data    *mat.Dense
	cov     *mat.SymDense
	icov    *mat.SymDense
	covMask []bool // mask cov was assembled for
}

// New constructs a Dataset over ar, selecting opts.Realisation and assembling the covariance.
func New(ar *archive.Archive, opts Options) (*Dataset, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ar.Validate(); err != nil {
		return nil, eris.Wrap(ErrShape, err.Error())
	}
	ens, err := ar.Ensemble(opts.Recon.Branch())
	if err != nil {
		return nil, eris.Wrapf(ErrConfig, "recon %q: %v", string(opts.Recon), err)
	}

	poles, columns, err := retainedPoles(ar, opts.fitPoles())
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = ar.Name + " Prerecon"
		if opts.Recon.Post() {
			name = ar.Name + " Recon"
		}
	}

	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	log = log.With(zap.String("component", "dataset"), zap.String("dataset", name))

	reduce := float64(opts.ReduceCovFactor)
	if opts.ReduceCovFactor == UseEnsembleSize {
		if ens.Size() == 0 {
			return nil, eris.Wrap(ErrEmptyEnsemble, "reduce_cov_factor -1 needs at least one realisation")
		}
		reduce = float64(ens.Size())
		log.Info("setting reduce_cov_factor to ensemble size", zap.Int("reduce_cov_factor", ens.Size()))
	}

	d := &Dataset{
		opts:     opts,
		name:     name,
		archive:  ar,
		ensemble: ens,
		poles:    poles,
		columns:  columns,
		reduce:   reduce,
		log:      log,
	}
	if err := d.SetRealisation(opts.Realisation); err != nil {
		return nil, err
	}
	if err := d.RebuildCovariance(); err != nil {
		return nil, err
	}
	log.Debug("dataset ready", zap.String("options", opts.describe()), zap.Int("bins", d.NumBins()))
	return d, nil
}

// retainedPoles resolves the requested multipoles against the archive, in archive order.
func retainedPoles(ar *archive.Archive, fit []int) (poles, columns []int, err error) {
	for _, p := range fit {
		if ar.PoleColumn(p) < 0 {
			return nil, nil, eris.Wrapf(ErrConfig, "multipole %d not in archive %q (available: %v)", p, ar.Name, ar.Poles)
		}
	}
	for i, p := range ar.Poles {
		if fit == nil || slices.Contains(fit, p) {
			poles = append(poles, p)
			columns = append(columns, i+1)
		}
	}
	if len(poles) == 0 {
		return nil, nil, eris.Wrapf(ErrConfig, "no multipoles retained from archive %q", ar.Name)
	}
	return poles, columns, nil
}

// SetRealisation selects r as the working measurement and recomputes the mask. If the mask no
// longer matches the one the covariance was built for, the covariance is rebuilt as well. On
// error the dataset is left unchanged.
func (d *Dataset) SetRealisation(r Realisation) error {
	return d.reselect(r, d.opts.MinX, d.opts.MaxX)
}

// SetBounds changes the inclusive range of the independent variable and reselects the current
// realisation.
func (d *Dataset) SetBounds(lo, hi float64) error {
	opts := d.opts
	opts.MinX, opts.MaxX = lo, hi
	if err := opts.Validate(); err != nil {
		return err
	}
	return d.reselect(d.opts.Realisation, lo, hi)
}

func (d *Dataset) reselect(r Realisation, lo, hi float64) error {
	sel, err := selectRealisation(d.ensemble, r, lo, hi, d.columns)
	if err != nil {
		return err
	}

	var cov, icov *mat.SymDense
	rebuild := d.cov != nil && !slices.Equal(sel.mask, d.covMask)
	if rebuild {
		if cov, icov, err = d.assemble(sel.mask); err != nil {
			return err
		}
	}

	d.opts.Realisation = r
	d.opts.MinX, d.opts.MaxX = lo, hi
	d.mask = sel.mask
	d.data = sel.data
	if rebuild {
		d.setCov(cov, icov, sel.mask)
	}
	d.log.Debug("realisation selected",
		zap.Stringer("realisation", r),
		zap.Int("bins", len(sel.mask)),
		zap.Int("masked_bins", d.NumBins()),
		zap.Bool("covariance_rebuilt", rebuild),
	)
	return nil
}

// RebuildCovariance assembles the covariance and its inverse for the current mask.
func (d *Dataset) RebuildCovariance() error {
	cov, icov, err := d.assemble(d.mask)
	if err != nil {
		return err
	}
	d.setCov(cov, icov, d.mask)
	return nil
}

func (d *Dataset) assemble(mask []bool) (*mat.SymDense, *mat.SymDense, error) {
	if d.ensemble.Cov == nil {
		d.log.Debug("no precomputed covariance, estimating from mocks",
			zap.String("policy", string(d.opts.policy())),
			zap.Int("realisations", d.ensemble.Size()),
		)
	}
	cov, icov, err := AssembleCovariance(CovarianceInput{
		Ensemble:     d.ensemble,
		Columns:      d.columns,
		Mask:         mask,
		ArchivePoles: len(d.archive.Poles),
		ReduceFactor: d.reduce,
		FakeDiag:     d.opts.FakeDiag,
		Policy:       d.opts.policy(),
	})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "dataset %q", d.name)
	}
	return cov, icov, nil
}

func (d *Dataset) setCov(cov, icov *mat.SymDense, mask []bool) {
	d.cov, d.icov = cov, icov
	d.covMask = slices.Clone(mask)
	if d.opts.LogCovariance {
		n := cov.SymmetricDim()
		diag := make([]float64, n)
		for i := range diag {
			diag[i] = cov.At(i, i)
		}
		d.log.Debug("assembled covariance",
			zap.Int("dim", n),
			zap.Float64("reduce_cov_factor", d.reduce),
			zap.Float64s("diag", diag),
		)
	}
}

// Name returns the display name.
func (d *Dataset) Name() string { return d.name }

// Kind returns the clustering statistic.
func (d *Dataset) Kind() Kind { return d.opts.Kind }

// Options returns the options currently in effect.
func (d *Dataset) Options() Options {
	o := d.opts
	o.FitPoles = slices.Clone(d.opts.FitPoles)
	return o
}

// Realisation returns the selected realisation.
func (d *Dataset) Realisation() Realisation { return d.opts.Realisation }

// Poles returns the retained multipoles.
func (d *Dataset) Poles() []int { return slices.Clone(d.poles) }

// Mask returns a copy of the bin mask over the full bin range.
func (d *Dataset) Mask() []bool { return slices.Clone(d.mask) }

// Data returns the working table: masked rows, column 0 then one column per retained multipole.
// The returned matrix must not be modified.
func (d *Dataset) Data() mat.Matrix { return d.data }

// Cov returns the covariance of the masked data vector.
func (d *Dataset) Cov() mat.Symmetric { return d.cov }

// ICov returns the inverse of Cov.
func (d *Dataset) ICov() mat.Symmetric { return d.icov }

// NumBins returns the number of masked bins.
func (d *Dataset) NumBins() int {
	if d.data == nil {
		return 0
	}
	r, _ := d.data.Dims()
	return r
}

// NumMocks returns the ensemble size reported to the fitting layer: the NumMocks override if
// set, otherwise the number of realisations in the active branch.
func (d *Dataset) NumMocks() int {
	if d.opts.NumMocks > 0 {
		return d.opts.NumMocks
	}
	return d.ensemble.Size()
}

// ReduceCovFactor returns the divisor applied to the covariance.
func (d *Dataset) ReduceCovFactor() float64 { return d.reduce }

// Cosmology returns a copy of the archive's cosmological parameters.
func (d *Dataset) Cosmology() map[string]float64 {
	return maps.Clone(d.archive.Cosmology)
}
