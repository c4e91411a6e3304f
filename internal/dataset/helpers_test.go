package dataset

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/barry-cosmo/barry/internal/archive"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// scenarioX is a 50-bin grid, 16, 19, ..., 163. The range [30, 150] keeps 40 bins (31..148).
func scenarioX() []float64 {
	x := make([]float64, 50)
	for i := range x {
		x[i] = 16 + 3*float64(i)
	}
	return x
}

// poleCorr couples the multipole blocks of the synthetic covariance.
var poleCorr = [3][3]float64{
	{1.0, 0.3, 0.1},
	{0.3, 1.0, 0.2},
	{0.1, 0.2, 1.0},
}

// blockCov builds an SPD multipole-major covariance: poleCorr ⊗ (s_i s_j 0.5^|i-j|).
func blockCov(nbins, npoles int) *mat.Dense {
	n := nbins * npoles
	cov := mat.NewDense(n, n, nil)
	for p := 0; p < npoles; p++ {
		for q := 0; q < npoles; q++ {
			for i := 0; i < nbins; i++ {
				for j := 0; j < nbins; j++ {
					si, sj := 1+0.1*float64(i), 1+0.1*float64(j)
					v := poleCorr[p][q] * si * sj * math.Pow(0.5, math.Abs(float64(i-j)))
					cov.Set(p*nbins+i, q*nbins+j, v)
				}
			}
		}
	}
	return cov
}

// mockEnsemble draws nreal tables over x with npoles noisy multipole columns.
func mockEnsemble(x []float64, npoles, nreal int, seed int64) []*mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	out := make([]*mat.Dense, nreal)
	for r := range out {
		t := mat.NewDense(len(x), 1+npoles, nil)
		for i, xi := range x {
			t.Set(i, 0, xi)
			for p := 0; p < npoles; p++ {
				t.Set(i, p+1, 100/float64(p+1)/(1+xi/50)+rng.NormFloat64())
			}
		}
		out[r] = t
	}
	return out
}

// testArchive builds a single-branch (pre-recon) archive.
func testArchive(x []float64, npoles, nreal int, withCov bool) *archive.Archive {
	ens := &archive.Ensemble{Realisations: mockEnsemble(x, npoles, nreal, 42)}
	if withCov {
		ens.Cov = blockCov(len(x), npoles)
	}
	poles := []int{0, 2, 4}[:npoles]
	return &archive.Archive{
		Name:      "Synthetic",
		Cosmology: map[string]float64{"om": 0.31, "h0": 0.676},
		Poles:     poles,
		Branches:  map[archive.Branch]*archive.Ensemble{archive.PreRecon: ens},
	}
}

func cfOptions(lo, hi float64) Options {
	o := DefaultOptions(CorrelationFunction)
	o.MinX, o.MaxX = lo, hi
	o.Logger = zap.NewNop()
	return o
}

// assertInverse checks cov * icov ≈ I.
func assertInverse(t *testing.T, cov, icov mat.Symmetric) {
	t.Helper()
	n := cov.SymmetricDim()
	require.Equal(t, n, icov.SymmetricDim())
	var prod mat.Dense
	prod.Mul(cov, icov)
	ident := mat.NewDiagDense(n, nil)
	for i := 0; i < n; i++ {
		ident.SetDiag(i, 1)
	}
	assert.True(t, mat.EqualApprox(&prod, ident, 1e-9), "cov * icov is not the identity")
}

func intp(v int) *int { return &v }
