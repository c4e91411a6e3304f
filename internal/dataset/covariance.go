package dataset

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/barry-cosmo/barry/internal/archive"
)

// maxCondition is the largest condition number accepted for an assembled covariance.
const maxCondition = 1e14

// symmetryTol is the relative tolerance for treating a gathered covariance as symmetric.
const symmetryTol = 1e-8

// CovarianceInput is everything AssembleCovariance needs. None of it is modified.
type CovarianceInput struct {
	Ensemble *archive.Ensemble
	// Columns are the table columns (1-based, column 0 is the independent variable) of the
	// retained multipoles, in output order.
	Columns []int
	// Mask selects bins over the full bin range.
	Mask []bool
	// ArchivePoles is the number of multipole blocks in the precomputed covariance. Zero takes
	// it from the realisation tables.
	ArchivePoles int
	// ReduceFactor divides every entry of the assembled covariance.
	ReduceFactor float64
	// FakeDiag zeroes every off-diagonal entry before the reduce factor is applied.
	FakeDiag bool
	Policy   EnsemblePolicy
}

// AssembleCovariance builds the covariance of the masked, multipole-major data vector and its
// inverse. Rows and columns are ordered multipole-major, bin-minor. When the ensemble carries a
// precomputed covariance each retained multipole pair (i, j) contributes the block gathered at
// the masked rows and masked columns of full block (Columns[i]-1, Columns[j]-1); otherwise the
// covariance is estimated from the realisations. The result is divided by ReduceFactor once and
// inverted by Cholesky factorisation.
func AssembleCovariance(in CovarianceInput) (cov, icov *mat.SymDense, err error) {
	if in.ReduceFactor <= 0 || math.IsNaN(in.ReduceFactor) || math.IsInf(in.ReduceFactor, 0) {
		return nil, nil, eris.Wrapf(ErrConfig, "reduce factor %g must be positive", in.ReduceFactor)
	}
	if len(in.Columns) == 0 {
		return nil, nil, eris.Wrap(ErrConfig, "no multipoles retained")
	}

	if in.Ensemble.Cov != nil {
		npoles := in.ArchivePoles
		if npoles == 0 && in.Ensemble.Size() > 0 {
			_, cols := in.Ensemble.Realisations[0].Dims()
			npoles = cols - 1
		}
		cov, err = gatherBlocks(in.Ensemble.Cov, npoles, in.Columns, in.Mask)
	} else {
		cov, err = EstimateEnsembleCovariance(in.Ensemble, in.Columns, in.Mask, in.Policy)
	}
	if err != nil {
		return nil, nil, err
	}

	n := cov.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := cov.At(i, j) / in.ReduceFactor
			if in.FakeDiag && i != j {
				v = 0
			}
			cov.SetSym(i, j, v)
		}
	}

	icov, err = invert(cov)
	if err != nil {
		return nil, nil, err
	}
	return cov, icov, nil
}

// gatherBlocks re-slices the full block covariance, npoles blocks of len(mask) bins per side,
// to the retained multipoles and masked bins.
func gatherBlocks(full *mat.Dense, npoles int, columns []int, mask []bool) (*mat.SymDense, error) {
	nin := len(mask)
	rows, cols := full.Dims()
	if rows != cols {
		return nil, eris.Wrapf(ErrShape, "precomputed covariance is %dx%d", rows, cols)
	}
	if npoles < 1 || rows != npoles*nin {
		return nil, eris.Wrapf(ErrShape, "precomputed covariance is %dx%d, want %d multipoles of %d bins", rows, cols, npoles, nin)
	}
	for _, c := range columns {
		if c < 1 || c > npoles {
			return nil, eris.Wrapf(ErrShape, "multipole column %d outside the %d covariance blocks", c, npoles)
		}
	}

	idx := maskedIndices(mask)
	nout := len(idx)
	if nout == 0 {
		return nil, eris.Wrap(ErrConfig, "bounds select no bins")
	}
	npoles := len(columns)
	dense := mat.NewDense(npoles*nout, npoles*nout, nil)
	for i, ci := range columns {
		inRow := (ci - 1) * nin
		for j, cj := range columns {
			inCol := (cj - 1) * nin
			block := dense.Slice(i*nout, (i+1)*nout, j*nout, (j+1)*nout).(*mat.Dense)
			for a, ra := range idx {
				for b, cb := range idx {
					block.Set(a, b, full.At(inRow+ra, inCol+cb))
				}
			}
		}
	}
	return symmetrise(dense)
}

// symmetrise converts m into a SymDense, failing if m is not symmetric to within symmetryTol.
func symmetrise(m *mat.Dense) (*mat.SymDense, error) {
	n, _ := m.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := m.At(i, j), m.At(j, i)
			if math.Abs(a-b) > symmetryTol*(math.Abs(a)+math.Abs(b)) {
				return nil, eris.Wrapf(ErrShape, "covariance is not symmetric at (%d, %d): %g != %g", i, j, a, b)
			}
			sym.SetSym(i, j, 0.5*(a+b))
		}
	}
	return sym, nil
}

// invert returns the inverse of a symmetric positive-definite matrix.
func invert(cov *mat.SymDense) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, eris.Wrapf(ErrSingularCovariance, "%dx%d covariance is not positive definite", cov.SymmetricDim(), cov.SymmetricDim())
	}
	if c := chol.Cond(); c > maxCondition || math.IsInf(c, 0) || math.IsNaN(c) {
		return nil, eris.Wrapf(ErrSingularCovariance, "covariance condition number %g exceeds %g", c, maxCondition)
	}
	icov := mat.NewSymDense(cov.SymmetricDim(), nil)
	if err := chol.InverseTo(icov); err != nil {
		return nil, eris.Wrapf(ErrSingularCovariance, "invert: %v", err)
	}
	return icov, nil
}
