//go:build !integration

package main

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/barry-cosmo/barry/internal/archive"
)

// writeXiArchive saves a small two-multipole correlation-function archive with a precomputed
// covariance as sdss_dr12_xi_ngc_z3.json under dir. Bins sit at x = 20, 25, ..., 215.
func writeXiArchive(t *testing.T, dir string) *archive.Archive {
	t.Helper()
	const nbins, npoles, nreal = 40, 2, 5

	reals := make([]*mat.Dense, nreal)
	for r := range reals {
		tab := mat.NewDense(nbins, 1+npoles, nil)
		for i := 0; i < nbins; i++ {
			x := 20 + 5*float64(i)
			tab.Set(i, 0, x)
			for p := 0; p < npoles; p++ {
				tab.Set(i, p+1, 40/(1+x/50)/float64(p+1)+0.1*float64(r))
			}
		}
		reals[r] = tab
	}

	n := nbins * npoles
	cov := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cov.Set(i, j, math.Pow(0.25, math.Abs(float64(i-j))))
		}
	}

	ar := &archive.Archive{
		Name:      "BOSS DR12 z3 NGC",
		Cosmology: map[string]float64{"om": 0.31, "h0": 0.676},
		Poles:     []int{0, 2},
		Branches: map[archive.Branch]*archive.Ensemble{
			archive.PreRecon: {Realisations: reals, Cov: cov},
		},
	}
	require.NoError(t, archive.Save(filepath.Join(dir, "sdss_dr12_xi_ngc_z3.json"), ar))
	return ar
}
