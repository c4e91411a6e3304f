package dataset

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/barry-cosmo/barry/internal/archive"
)

// selection is the outcome of choosing a realisation and applying the bounds. It is computed
// in full before any Dataset field is touched.
type selection struct {
	mask []bool
	data *mat.Dense
}

// selectTable returns the unmasked table for r. Mock tables are returned as stored; callers
// must not write to them.
func selectTable(ens *archive.Ensemble, r Realisation) (*mat.Dense, error) {
	switch r.Kind {
	case RealisationObserved:
		if ens.Observed == nil {
			return nil, eris.Wrap(ErrNoObservedData, "realisation \"data\" requested but the archive has no observed table")
		}
		return ens.Observed, nil
	case RealisationMock:
		n := ens.Size()
		if n == 0 {
			return nil, eris.Wrap(ErrEmptyEnsemble, "no realisations to select from")
		}
		if r.Index < 0 || r.Index >= n {
			return nil, eris.Wrapf(ErrRealisationRange, "realisation %d (valid: 0 to %d)", r.Index, n-1)
		}
		return ens.Realisations[r.Index], nil
	default:
		return meanTable(ens.Realisations)
	}
}

// meanTable computes the element-wise arithmetic mean of tables.
func meanTable(tables []*mat.Dense) (*mat.Dense, error) {
	if len(tables) == 0 {
		return nil, eris.Wrap(ErrEmptyEnsemble, "cannot average an empty ensemble")
	}
	rows, cols := tables[0].Dims()
	mean := mat.NewDense(rows, cols, nil)
	for i, t := range tables {
		if r, c := t.Dims(); r != rows || c != cols {
			return nil, eris.Wrapf(ErrShape, "realisation %d is %dx%d, realisation 0 is %dx%d", i, r, c, rows, cols)
		}
		mean.Add(mean, t)
	}
	n := float64(len(tables))
	mean.Apply(func(_, _ int, v float64) float64 { return v / n }, mean)
	return mean, nil
}

// boundsMask marks the rows of t whose independent variable lies in [lo, hi].
func boundsMask(t *mat.Dense, lo, hi float64) []bool {
	rows, _ := t.Dims()
	mask := make([]bool, rows)
	for i := range mask {
		x := t.At(i, 0)
		mask[i] = x >= lo && x <= hi
	}
	return mask
}

// maskedIndices returns the positions of the true entries of mask, in order.
func maskedIndices(mask []bool) []int {
	idx := make([]int, 0, len(mask))
	for i, ok := range mask {
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// workingTable gathers the masked rows of t, keeping column 0 followed by columns.
func workingTable(t *mat.Dense, mask []bool, columns []int) (*mat.Dense, error) {
	_, cols := t.Dims()
	for _, c := range columns {
		if c >= cols {
			return nil, eris.Wrapf(ErrPoleUnavailable, "column %d requested from a table with %d columns", c, cols)
		}
	}
	idx := maskedIndices(mask)
	if len(idx) == 0 {
		return nil, eris.Wrap(ErrConfig, "bounds select no bins")
	}
	out := mat.NewDense(len(idx), 1+len(columns), nil)
	for r, i := range idx {
		out.Set(r, 0, t.At(i, 0))
		for c, col := range columns {
			out.Set(r, c+1, t.At(i, col))
		}
	}
	return out, nil
}

// selectRealisation chooses r from ens and applies the bounds [lo, hi].
func selectRealisation(ens *archive.Ensemble, r Realisation, lo, hi float64, columns []int) (*selection, error) {
	t, err := selectTable(ens, r)
	if err != nil {
		return nil, err
	}
	mask := boundsMask(t, lo, hi)
	data, err := workingTable(t, mask, columns)
	if err != nil {
		return nil, eris.Wrapf(err, "realisation %s", r)
	}
	return &selection{mask: mask, data: data}, nil
}
