package dataset

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/barry-cosmo/barry/internal/archive"
)

// EstimateEnsembleCovariance estimates the covariance of the masked data vector from the mock
// realisations, treating realisations as observations and bins as variables (N-1 normalised).
//
// With PolicySingle exactly one multipole may be retained and the result is nbins x nbins.
// With PolicyJoint every retained multipole is stacked multipole-major into one vector per
// realisation and the full cross covariance is returned.
func EstimateEnsembleCovariance(ens *archive.Ensemble, columns []int, mask []bool, policy EnsemblePolicy) (*mat.SymDense, error) {
	if policy == "" {
		policy = PolicySingle
	}
	switch policy {
	case PolicySingle:
		if len(columns) != 1 {
			return nil, eris.Wrapf(ErrUnsupported,
				"estimating a covariance for %d multipoles from the mocks needs policy %q, have %q",
				len(columns), PolicyJoint, policy)
		}
	case PolicyJoint:
	default:
		return nil, eris.Wrapf(ErrConfig, "covariance policy %q (valid: single, joint)", policy)
	}

	n := ens.Size()
	if n == 0 {
		return nil, eris.Wrap(ErrEmptyEnsemble, "no realisations to estimate a covariance from")
	}
	if n < 2 {
		return nil, eris.Wrapf(ErrEnsembleTooSmall, "%d realisation, need at least 2", n)
	}

	idx := maskedIndices(mask)
	nout := len(idx)
	if nout == 0 {
		return nil, eris.Wrap(ErrConfig, "bounds select no bins")
	}
	rows, cols := ens.Realisations[0].Dims()
	if rows != len(mask) {
		return nil, eris.Wrapf(ErrShape, "mask covers %d bins, realisations have %d", len(mask), rows)
	}
	for _, c := range columns {
		if c < 1 || c >= cols {
			return nil, eris.Wrapf(ErrPoleUnavailable, "column %d requested from realisations with %d columns", c, cols)
		}
	}

	samples := mat.NewDense(n, len(columns)*nout, nil)
	for r, t := range ens.Realisations {
		row := samples.RawRowView(r)
		for p, c := range columns {
			for b, i := range idx {
				row[p*nout+b] = t.At(i, c)
			}
		}
	}

	cov := mat.NewSymDense(len(columns)*nout, nil)
	stat.CovarianceMatrix(cov, samples, nil)
	return cov, nil
}
