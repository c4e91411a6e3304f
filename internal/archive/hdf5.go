package archive

import (
	"errors"
	"slices"
	"sort"

	"github.com/robert-malhotra/go-hdf5/hdf5"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// HDF5 layout:
//
//	/poles                      int64 [k], attribute "name"
//	/cosmology                  float64 [p], attribute "keys"
//	/<branch>/realisations      float64, shape [n, bins, 1+k]
//	/<branch>/cov               float64, shape [k*bins, k*bins] (optional)
//	/<branch>/data              float64, shape [bins, 1+j] (optional)
//
// Tables written by this package are stored flat with a "shape" attribute. Files written by
// other tools with a true N-dimensional dataspace are read from the dataspace instead.
const (
	dsPoles        = "poles"
	dsCosmology    = "cosmology"
	dsRealisations = "realisations"
	dsCov          = "cov"
	dsObserved     = "data"
	attrName       = "name"
	attrKeys       = "keys"
	attrShape      = "shape"
)

// ReadHDF5 decodes an HDF5 archive.
func ReadHDF5(path string) (*Archive, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "archive: open %s", path)
	}
	defer f.Close()

	root := f.Root()
	members, err := root.Members()
	if err != nil {
		return nil, eris.Wrapf(err, "archive: list %s", path)
	}

	a := &Archive{
		Cosmology: make(map[string]float64),
		Branches:  make(map[Branch]*Ensemble),
	}

	if slices.Contains(members, dsPoles) {
		ds, err := root.OpenDataset(dsPoles)
		if err != nil {
			return nil, eris.Wrap(err, "archive: open poles")
		}
		poles, err := ds.ReadInt64()
		if err != nil {
			return nil, eris.Wrap(err, "archive: read poles")
		}
		for _, p := range poles {
			a.Poles = append(a.Poles, int(p))
		}
		if attr := ds.Attr(attrName); attr != nil {
			if a.Name, err = attr.ReadScalarString(); err != nil {
				return nil, eris.Wrap(err, "archive: read name")
			}
		}
	}

	if slices.Contains(members, dsCosmology) {
		ds, err := root.OpenDataset(dsCosmology)
		if err != nil {
			return nil, eris.Wrap(err, "archive: open cosmology")
		}
		vals, err := ds.ReadFloat64()
		if err != nil {
			return nil, eris.Wrap(err, "archive: read cosmology")
		}
		attr := ds.Attr(attrKeys)
		if attr == nil {
			return nil, eris.New("archive: cosmology has no keys attribute")
		}
		keys, err := attr.ReadString()
		if err != nil {
			return nil, eris.Wrap(err, "archive: read cosmology keys")
		}
		if len(keys) != len(vals) {
			return nil, eris.Errorf("archive: %d cosmology keys for %d values", len(keys), len(vals))
		}
		for i, k := range keys {
			a.Cosmology[k] = vals[i]
		}
	}

	for _, b := range Branches {
		if !slices.Contains(members, string(b)) {
			continue
		}
		g, err := root.OpenGroup(string(b))
		if err != nil {
			return nil, eris.Wrapf(err, "archive: open group %s", b)
		}
		e, err := readEnsemble(g)
		if err != nil {
			return nil, eris.Wrapf(err, "archive: %s", b)
		}
		a.Branches[b] = e
	}
	return a, nil
}

func readEnsemble(g *hdf5.Group) (*Ensemble, error) {
	e := &Ensemble{}

	vals, shape, err := readTable(g, dsRealisations)
	if err != nil && !errors.Is(err, hdf5.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		if len(shape) != 3 {
			return nil, eris.Errorf("realisations have rank %d, want 3", len(shape))
		}
		n, rows, cols := shape[0], shape[1], shape[2]
		size := rows * cols
		for i := 0; i < n; i++ {
			data := make([]float64, size)
			copy(data, vals[i*size:(i+1)*size])
			e.Realisations = append(e.Realisations, mat.NewDense(rows, cols, data))
		}
	}

	if e.Cov, err = readMatrix(g, dsCov); err != nil {
		return nil, err
	}
	if e.Observed, err = readMatrix(g, dsObserved); err != nil {
		return nil, err
	}
	return e, nil
}

// readMatrix reads an optional rank-2 table, returning nil if it does not exist.
func readMatrix(g *hdf5.Group, name string) (*mat.Dense, error) {
	vals, shape, err := readTable(g, name)
	if errors.Is(err, hdf5.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		return nil, eris.Errorf("%s has rank %d, want 2", name, len(shape))
	}
	return mat.NewDense(shape[0], shape[1], vals), nil
}

// readTable reads a float64 dataset and its logical shape.
func readTable(g *hdf5.Group, name string) ([]float64, []int, error) {
	members, err := g.Members()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "list %s", g.Path())
	}
	if !slices.Contains(members, name) {
		return nil, nil, hdf5.ErrNotFound
	}
	ds, err := g.OpenDataset(name)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "open %s", name)
	}
	vals, err := ds.ReadFloat64()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "read %s", name)
	}

	var shape []int
	if dims := ds.Shape(); len(dims) > 1 {
		for _, d := range dims {
			shape = append(shape, int(d))
		}
	} else if attr := ds.Attr(attrShape); attr != nil {
		dims, err := attr.ReadInt64()
		if err != nil {
			return nil, nil, eris.Wrapf(err, "read %s shape", name)
		}
		for _, d := range dims {
			shape = append(shape, int(d))
		}
	} else {
		return nil, nil, eris.Errorf("%s has no shape", name)
	}

	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != len(vals) {
		return nil, nil, eris.Errorf("%s shape %v does not match %d values", name, shape, len(vals))
	}
	return vals, shape, nil
}

// WriteHDF5 encodes a to path.
func WriteHDF5(path string, a *Archive) (err error) {
	f, err := hdf5.Create(path)
	if err != nil {
		return eris.Wrapf(err, "archive: create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrapf(cerr, "archive: close %s", path)
		}
	}()

	root := f.Root()
	poles := make([]int64, len(a.Poles))
	for i, p := range a.Poles {
		poles[i] = int64(p)
	}
	if len(poles) > 0 {
		if _, err := root.CreateDataset(dsPoles, poles, hdf5.WithAttribute(attrName, a.Name)); err != nil {
			return eris.Wrap(err, "archive: write poles")
		}
	}

	if len(a.Cosmology) > 0 {
		keys := make([]string, 0, len(a.Cosmology))
		for k := range a.Cosmology {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]float64, len(keys))
		for i, k := range keys {
			vals[i] = a.Cosmology[k]
		}
		if _, err := root.CreateDataset(dsCosmology, vals, hdf5.WithAttribute(attrKeys, keys)); err != nil {
			return eris.Wrap(err, "archive: write cosmology")
		}
	}

	for _, b := range Branches {
		e, ok := a.Branches[b]
		if !ok || e == nil {
			continue
		}
		g, err := root.CreateGroup(string(b))
		if err != nil {
			return eris.Wrapf(err, "archive: create group %s", b)
		}
		if len(e.Realisations) > 0 {
			rows, cols := e.Realisations[0].Dims()
			flat := make([]float64, 0, len(e.Realisations)*rows*cols)
			for _, r := range e.Realisations {
				flat = append(flat, flatten(r)...)
			}
			shape := []int64{int64(len(e.Realisations)), int64(rows), int64(cols)}
			if _, err := g.CreateDataset(dsRealisations, flat, hdf5.WithAttribute(attrShape, shape)); err != nil {
				return eris.Wrapf(err, "archive: write %s realisations", b)
			}
		}
		if err := writeMatrix(g, dsCov, e.Cov); err != nil {
			return eris.Wrapf(err, "archive: write %s cov", b)
		}
		if err := writeMatrix(g, dsObserved, e.Observed); err != nil {
			return eris.Wrapf(err, "archive: write %s data", b)
		}
	}
	return nil
}

func writeMatrix(g *hdf5.Group, name string, m *mat.Dense) error {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	_, err := g.CreateDataset(name, flatten(m), hdf5.WithAttribute(attrShape, []int64{int64(r), int64(c)}))
	return err
}

// flatten returns the row-major contents of m.
func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
