package dataset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Keys(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)
	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)

	snaps := d.Snapshots()
	require.Len(t, snaps, 1)
	s := snaps[0]

	assert.Equal(t, "Synthetic Prerecon", s.Name)
	assert.Equal(t, []int{0, 2}, s.Poles)
	assert.Len(t, s.X, 40)
	assert.InDelta(t, 31.0, s.X[0], 0)
	assert.InDelta(t, 148.0, s.X[39], 0)
	assert.Len(t, s.Vector(), 80)
	assert.Equal(t, 5, s.NumMocks)

	m := s.Map()
	for _, key := range []string{"dist", "cov", "icov", "name", "cosmology", "num_mocks", "xi0", "xi2"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "xi4")
	assert.NotContains(t, m, "ks")

	quad, ok := s.Multipole(2)
	require.True(t, ok)
	assert.Equal(t, s.Vector()[40:], quad)
	_, ok = s.Multipole(4)
	assert.False(t, ok)
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	ar := testArchive(scenarioX(), 1, 5, true)
	d, err := New(ar, cfOptions(30, 60))
	require.NoError(t, err)

	b, err := json.Marshal(d.Snapshots()[0])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "Synthetic Prerecon", decoded["name"])
	assert.InDelta(t, 5.0, decoded["num_mocks"], 0)
	assert.Equal(t, "mean", decoded["realisation"])
	assert.Len(t, decoded["dist"], 10)
	assert.Len(t, decoded["xi0"], 10)
	assert.Len(t, decoded["cov"], 10)
	assert.Equal(t, map[string]any{"om": 0.31, "h0": 0.676}, decoded["cosmology"])
}

func TestSnapshot_Independent(t *testing.T) {
	ar := testArchive(scenarioX(), 2, 5, true)
	d, err := New(ar, cfOptions(30, 150))
	require.NoError(t, err)

	s := d.Snapshots()[0]
	cov00 := d.Cov().At(0, 0)
	s.Cov.SetSym(0, 0, -1)
	s.Cosmology["om"] = 1
	s.X[0] = -1
	assert.InDelta(t, cov00, d.Cov().At(0, 0), 0)
	assert.InDelta(t, 0.31, d.Cosmology()["om"], 0)
	assert.InDelta(t, 31.0, d.Data().At(0, 0), 0)

	require.NoError(t, d.SetBounds(50, 100))
	assert.Len(t, s.X, 40)
	assert.Equal(t, 80, s.Cov.SymmetricDim())
}

func TestComposite(t *testing.T) {
	ar := testArchive(scenarioX(), 1, 5, true)

	opts := cfOptions(30, 150)
	opts.Name = "NGC"
	ngc, err := New(ar, opts)
	require.NoError(t, err)
	opts.Name = "SGC"
	sgc, err := New(ar, opts)
	require.NoError(t, err)

	c, err := NewComposite("DR12 combined", ngc, sgc)
	require.NoError(t, err)
	assert.Equal(t, "DR12 combined", c.Name())
	assert.Len(t, c.Parts(), 2)

	snaps := c.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "NGC", snaps[0].Name)
	assert.Equal(t, "SGC", snaps[1].Name)

	// Composites nest.
	outer, err := NewComposite("all", c, ngc)
	require.NoError(t, err)
	assert.Len(t, outer.Snapshots(), 3)

	_, err = NewComposite("empty")
	assert.ErrorIs(t, err, ErrConfig)
}
