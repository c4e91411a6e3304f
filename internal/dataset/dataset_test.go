package dataset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/barry-cosmo/barry/internal/archive"
)

func countTrue(mask []bool) int {
	n := 0
	for _, ok := range mask {
		if ok {
			n++
		}
	}
	return n
}

func TestNew_PrecomputedCovariance(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)
	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)

	assert.Len(t, d.Mask(), 50)
	assert.Equal(t, 40, countTrue(d.Mask()))
	assert.Equal(t, 40, d.NumBins())
	assert.Equal(t, 80, d.Cov().SymmetricDim())
	assert.InDelta(t, 1.0, d.ReduceCovFactor(), 0)

	// reduce_cov_factor = 1 leaves the gathered entries untouched.
	full := ar.Branches[archive.PreRecon].Cov
	idx := maskedIndices(d.Mask())
	for p := 0; p < 2; p++ {
		for q := 0; q < 2; q++ {
			for a, ra := range idx {
				for b, cb := range idx {
					assert.Equal(t, full.At(p*50+ra, q*50+cb), d.Cov().At(p*40+a, q*40+b))
				}
			}
		}
	}
	assertInverse(t, d.Cov(), d.ICov())
}

func TestNew_ReduceByEnsembleSize(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 999, true)
	opts := cfOptions(30, 150)
	opts.ReduceCovFactor = UseEnsembleSize

	d, err := New(ar, opts)
	require.NoError(t, err)
	assert.InDelta(t, 999.0, d.ReduceCovFactor(), 0)
	assert.Equal(t, 999, d.NumMocks())

	full := ar.Branches[archive.PreRecon].Cov
	idx := maskedIndices(d.Mask())
	assert.Equal(t, full.At(idx[0], idx[0])/999, d.Cov().At(0, 0))
	assert.Equal(t, full.At(50+idx[3], idx[7])/999, d.Cov().At(40+3, 7))
	assertInverse(t, d.Cov(), d.ICov())
}

func TestSetRealisation_OutOfRangeLeavesStateUnchanged(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 3, true)
	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)

	maskBefore := d.Mask()
	dataBefore := mat.DenseCopyOf(d.Data())

	err = d.SetRealisation(Mock(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRealisationRange))
	assert.Contains(t, err.Error(), "realisation 5 (valid: 0 to 2)")

	assert.Equal(t, maskBefore, d.Mask())
	assert.True(t, mat.Equal(dataBefore, d.Data()))
	assert.Equal(t, Mean(), d.Realisation())
}

func TestNew_EnsembleFallbackSinglePole(t *testing.T) {
	ar := testArchive(scenarioX(), 1, 200, false)
	d, err := New(ar, cfOptions(30, 60))
	require.NoError(t, err)

	nout := d.NumBins()
	assert.Equal(t, 10, nout)
	assert.Equal(t, nout, d.Cov().SymmetricDim())

	// Compare against a direct sample covariance of two masked bins.
	idx := maskedIndices(d.Mask())
	a := make([]float64, 200)
	b := make([]float64, 200)
	for r, tab := range ar.Branches[archive.PreRecon].Realisations {
		a[r] = tab.At(idx[2], 1)
		b[r] = tab.At(idx[5], 1)
	}
	assert.InDelta(t, stat.Covariance(a, b, nil), d.Cov().At(2, 5), 1e-12)
	assertInverse(t, d.Cov(), d.ICov())
}

func TestNew_EnsembleFallbackRejectsMultiplePolesByDefault(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 200, false)
	_, err := New(ar, cfOptions(30, 60))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Contains(t, err.Error(), `needs policy "joint"`)
}

func TestNew_EnsembleFallbackRestrictedToOnePole(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 200, false)
	opts := cfOptions(30, 60)
	opts.FitPoles = []int{2}

	d, err := New(ar, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, d.Poles())
	assert.Equal(t, 10, d.Cov().SymmetricDim())

	_, cols := d.Data().Dims()
	assert.Equal(t, 2, cols)
	idx := maskedIndices(d.Mask())
	mean, err := meanTable(ar.Branches[archive.PreRecon].Realisations)
	require.NoError(t, err)
	assert.InDelta(t, mean.At(idx[0], 2), d.Data().At(0, 1), 1e-12)
}

func TestNew_EnsembleFallbackJoint(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 300, false)
	opts := cfOptions(30, 60)
	opts.Policy = PolicyJoint

	d, err := New(ar, opts)
	require.NoError(t, err)
	assert.Equal(t, 20, d.Cov().SymmetricDim())

	idx := maskedIndices(d.Mask())
	a := make([]float64, 300)
	b := make([]float64, 300)
	for r, tab := range ar.Branches[archive.PreRecon].Realisations {
		a[r] = tab.At(idx[1], 1) // monopole, bin 1
		b[r] = tab.At(idx[4], 2) // quadrupole, bin 4
	}
	assert.InDelta(t, stat.Covariance(a, b, nil), d.Cov().At(1, 10+4), 1e-12)
	assertInverse(t, d.Cov(), d.ICov())
}

func TestNew_EnsembleTooSmall(t *testing.T) {
	ar := testArchive(scenarioX(), 1, 1, false)
	_, err := New(ar, cfOptions(30, 60))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnsembleTooSmall)
}

func TestNew_EmptyEnsemble(t *testing.T) {
	ar := testArchive(scenarioX(), 1, 0, true)
	_, err := New(ar, cfOptions(30, 60))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyEnsemble)
}

func TestNew_SingularCovariance(t *testing.T) {
	ar := testArchive(scenarioX(), 1, 5, false)
	ar.Branches[archive.PreRecon].Cov = mat.NewDense(50, 50, nil)
	_, err := New(ar, cfOptions(30, 60))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSingularCovariance)
}

func TestNew_AsymmetricCovariance(t *testing.T) {
	ar := testArchive(scenarioX(), 1, 5, true)
	cov := ar.Branches[archive.PreRecon].Cov
	cov.Set(10, 11, cov.At(10, 11)+1)
	_, err := New(ar, cfOptions(30, 60))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShape)
}

func TestNew_ConfigErrors(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)

	tests := []struct {
		name   string
		mutate func(o *Options)
		want   string
	}{
		{"inverted bounds", func(o *Options) { o.MinX, o.MaxX = 100, 50 }, "min 100 exceeds max 50"},
		{"zero reduce factor", func(o *Options) { o.ReduceCovFactor = 0 }, "reduce_cov_factor 0"},
		{"bad reduce factor", func(o *Options) { o.ReduceCovFactor = -3 }, "reduce_cov_factor -3"},
		{"unknown pole", func(o *Options) { o.FitPoles = []int{0, 4} }, "multipole 4 not in archive"},
		{"duplicate pole", func(o *Options) { o.FitPoles = []int{0, 0} }, "fit pole 0 listed twice"},
		{"missing branch", func(o *Options) { o.Recon = ReconIso }, `recon "iso"`},
		{"bad recon", func(o *Options) { o.Recon = "rec" }, `recon "rec"`},
		{"bad policy", func(o *Options) { o.Policy = "all" }, `covariance policy "all"`},
		{"empty range", func(o *Options) { o.MinX, o.MaxX = 1000, 2000 }, "bounds select no bins"},
		{"no kind", func(o *Options) { o.Kind = 0 }, "kind 0"},
		{"negative num_mocks", func(o *Options) { o.NumMocks = -1 }, "num_mocks -1"},
		{"isotropic with quadrupole", func(o *Options) { o.Isotropic = true; o.FitPoles = []int{0, 2} }, "isotropic fits the monopole only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := cfOptions(30, 150)
			tt.mutate(&opts)
			_, err := New(ar, opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSetRealisation_MeanAndMock(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 4, true)
	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)

	reals := ar.Branches[archive.PreRecon].Realisations
	idx := maskedIndices(d.Mask())
	want := (reals[0].At(idx[3], 1) + reals[1].At(idx[3], 1) + reals[2].At(idx[3], 1) + reals[3].At(idx[3], 1)) / 4
	assert.InDelta(t, want, d.Data().At(3, 1), 1e-12)

	covBefore := mat.NewSymDense(80, nil)
	covBefore.CopySym(d.Cov())

	require.NoError(t, d.SetRealisation(Mock(2)))
	assert.Equal(t, Mock(2), d.Realisation())
	assert.Equal(t, reals[2].At(idx[3], 1), d.Data().At(3, 1))
	assert.Equal(t, reals[2].At(idx[3], 2), d.Data().At(3, 2))
	// Same mask, so the covariance is untouched.
	assert.True(t, mat.Equal(covBefore, d.Cov()))

	// Selecting a realisation never writes into the archive.
	d.data.Set(0, 1, -1)
	assert.NotEqual(t, -1.0, reals[2].At(idx[0], 1))
}

func TestMask_NonContiguousGather(t *testing.T) {
	x := []float64{0, 0, 5, 0, 0, 5, 0, 5, 0, 0}
	ar := testArchive(x, 2, 5, true)
	d, err := New(ar, cfOptions(4, 6))
	require.NoError(t, err)

	require.Equal(t, []int{2, 5, 7}, maskedIndices(d.Mask()))
	full := ar.Branches[archive.PreRecon].Cov
	sel := []int{2, 5, 7}
	for p := 0; p < 2; p++ {
		for q := 0; q < 2; q++ {
			for a, ra := range sel {
				for b, cb := range sel {
					assert.Equal(t, full.At(p*10+ra, q*10+cb), d.Cov().At(p*3+a, q*3+b),
						"block (%d,%d) entry (%d,%d)", p, q, ra, cb)
				}
			}
		}
	}
}

func TestSetBounds_RebuildsCovariance(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)
	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)

	require.NoError(t, d.SetBounds(50, 100))
	assert.Equal(t, countTrue(d.Mask()), d.NumBins())
	assert.Equal(t, 2*d.NumBins(), d.Cov().SymmetricDim())
	assertInverse(t, d.Cov(), d.ICov())
	assert.InDelta(t, 50.0, d.Options().MinX, 0)

	err = d.SetBounds(100, 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.InDelta(t, 50.0, d.Options().MinX, 0)
}

func TestSetRealisation_Observed(t *testing.T) {
	x := scenarioX()
	ar := testArchive(x, 2, 5, true)
	obs := mat.NewDense(len(x), 2, nil)
	for i, xi := range x {
		obs.Set(i, 0, xi)
		obs.Set(i, 1, float64(i))
	}
	ar.Branches[archive.PreRecon].Observed = obs

	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)

	// The observed table has no quadrupole.
	err = d.SetRealisation(Observed())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoleUnavailable)

	opts := cfOptions(30, 150)
	opts.FitPoles = []int{0}
	opts.Realisation = Observed()
	d, err = New(ar, opts)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d.Data().At(0, 1), 0)
	assert.Equal(t, 40, d.Cov().SymmetricDim())
}

func TestSetRealisation_NoObservedData(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)
	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)

	err = d.SetRealisation(Observed())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoObservedData)
}

func TestSetRealisation_ShiftedGridRebuildsCovariance(t *testing.T) {
	x := scenarioX()
	ar := testArchive(x, 1, 5, true)
	shifted := mat.NewDense(len(x), 2, nil)
	for i, xi := range x {
		shifted.Set(i, 0, xi+30)
		shifted.Set(i, 1, 1)
	}
	ar.Branches[archive.PreRecon].Observed = shifted

	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)
	require.Equal(t, 40, d.Cov().SymmetricDim())

	require.NoError(t, d.SetRealisation(Observed()))
	assert.Equal(t, countTrue(d.Mask()), d.NumBins())
	assert.Equal(t, d.NumBins(), d.Cov().SymmetricDim())
	assert.NotEqual(t, 40, d.NumBins())
}

func TestNew_ObservedGridDiffersFromCovariance(t *testing.T) {
	x := scenarioX()
	ar := testArchive(x, 2, 5, true)
	obs := mat.NewDense(40, 3, nil)
	for i := 0; i < 40; i++ {
		obs.Set(i, 0, x[i])
		obs.Set(i, 1, 1)
		obs.Set(i, 2, 1)
	}
	ar.Branches[archive.PreRecon].Observed = obs

	opts := cfOptions(30, 150)
	opts.Realisation = Observed()
	_, err := New(ar, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShape)
	assert.Contains(t, err.Error(), "observed table has 40 rows")
}

func TestAssembleCovariance_MaskDoesNotMatchBlocks(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)
	ens := ar.Branches[archive.PreRecon]
	mask := make([]bool, 40)
	for i := range mask {
		mask[i] = true
	}

	for _, npoles := range []int{2, 0} {
		_, _, err := AssembleCovariance(CovarianceInput{
			Ensemble:     ens,
			Columns:      []int{1, 2},
			Mask:         mask,
			ArchivePoles: npoles,
			ReduceFactor: 1,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrShape)
		assert.Contains(t, err.Error(), "want 2 multipoles of 40 bins")
	}
}

func TestNew_RaggedRealisations(t *testing.T) {
	ar := testArchive(scenarioX(), 1, 5, false)
	ens := ar.Branches[archive.PreRecon]
	ens.Realisations[3] = mat.DenseCopyOf(ens.Realisations[3].Slice(0, 49, 0, 2))

	var err error
	assert.NotPanics(t, func() {
		_, err = New(ar, cfOptions(30, 150))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShape)
	assert.Contains(t, err.Error(), "realisation 3 is 49x2")

	_, err = meanTable(ens.Realisations)
	assert.ErrorIs(t, err, ErrShape)
}

func TestNew_NumMocksOverride(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)
	opts := cfOptions(30, 150)
	opts.NumMocks = 1000
	opts.ReduceCovFactor = UseEnsembleSize

	d, err := New(ar, opts)
	require.NoError(t, err)
	assert.Equal(t, 1000, d.NumMocks())
	assert.Equal(t, 1000, d.Snapshots()[0].NumMocks)
	// The reduce factor still counts the realisations actually present.
	assert.InDelta(t, 5.0, d.ReduceCovFactor(), 0)
}

func TestNew_FakeDiag(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)
	opts := cfOptions(30, 150)
	opts.FakeDiag = true
	opts.ReduceCovFactor = 4

	d, err := New(ar, opts)
	require.NoError(t, err)
	full := ar.Branches[archive.PreRecon].Cov
	idx := maskedIndices(d.Mask())
	n := d.Cov().SymmetricDim()
	require.Equal(t, 80, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				assert.Zero(t, d.Cov().At(i, j))
			}
		}
	}
	assert.Equal(t, full.At(idx[2], idx[2])/4, d.Cov().At(2, 2))
	assert.Equal(t, full.At(50+idx[5], 50+idx[5])/4, d.Cov().At(40+5, 40+5))
	assert.InDelta(t, 4/full.At(idx[2], idx[2]), d.ICov().At(2, 2), 1e-12)
	assertInverse(t, d.Cov(), d.ICov())
}

func TestNew_Isotropic(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)
	opts := cfOptions(30, 150)
	opts.Isotropic = true

	d, err := New(ar, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, d.Poles())
	assert.Equal(t, 40, d.Cov().SymmetricDim())
	_, c := d.Data().Dims()
	assert.Equal(t, 2, c)

	// Isotropic with the mocks alone falls back to the single-multipole estimate.
	ar = testArchive(scenarioX(), 2, 200, false)
	opts = cfOptions(30, 60)
	opts.Isotropic = true
	d, err = New(ar, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, d.Poles())
	assert.Equal(t, 10, d.Cov().SymmetricDim())
}

func TestName(t *testing.T) {
	ar := testArchive(scenarioX(), 1, 5, true)
	ar.Branches[archive.PostRecon] = ar.Branches[archive.PreRecon]

	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)
	assert.Equal(t, "Synthetic Prerecon", d.Name())

	opts := cfOptions(30, 150)
	opts.Recon = ReconSym
	d, err = New(ar, opts)
	require.NoError(t, err)
	assert.Equal(t, "Synthetic Recon", d.Name())

	opts.Name = "Custom"
	d, err = New(ar, opts)
	require.NoError(t, err)
	assert.Equal(t, "Custom", d.Name())
}
