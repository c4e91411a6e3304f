// Package archive loads the serialized survey measurement bundles that back every dataset:
// an ensemble of mock realisations per reconstruction branch, optional precomputed block
// covariances and optional observed-data tables.
package archive

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// Branch identifies a reconstruction branch of an archive.
type Branch string

const (
	PreRecon  Branch = "pre-recon"
	PostRecon Branch = "post-recon"
)

// Branches lists the branches in their canonical order.
var Branches = []Branch{PreRecon, PostRecon}

// ErrMissingBranch is returned when an archive has no ensemble for the requested branch.
var ErrMissingBranch = eris.New("archive: branch not present")

// ErrNotFound is returned by Find when no archive file matches.
var ErrNotFound = eris.New("archive: not found")

// Ensemble is one reconstruction branch: the mock realisations, the optional precomputed
// covariance and the optional observed measurement.
type Ensemble struct {
	// Realisations are tables of shape bins x (1 + poles). Column 0 is the independent variable.
	Realisations []*mat.Dense
	// Cov is the multipole-major block covariance of shape (poles*bins) x (poles*bins), or nil.
	Cov *mat.Dense
	// Observed is the survey measurement. It may carry fewer multipole columns than the mocks.
	Observed *mat.Dense
}

// Size returns the number of realisations.
func (e *Ensemble) Size() int {
	if e == nil {
		return 0
	}
	return len(e.Realisations)
}

// Archive is an immutable measurement bundle. Nothing in this module mutates an Archive after
// it has been loaded, so a single Archive may back many datasets concurrently.
type Archive struct {
	Name      string
	Cosmology map[string]float64
	// Poles names the multipole order of table columns 1..k.
	Poles    []int
	Branches map[Branch]*Ensemble
}

// Ensemble returns the ensemble for branch b.
func (a *Archive) Ensemble(b Branch) (*Ensemble, error) {
	e, ok := a.Branches[b]
	if !ok || e == nil {
		return nil, eris.Wrapf(ErrMissingBranch, "archive %q: %s", a.Name, b)
	}
	return e, nil
}

// PoleColumn returns the table column holding multipole pole, or -1.
func (a *Archive) PoleColumn(pole int) int {
	for i, p := range a.Poles {
		if p == pole {
			return i + 1
		}
	}
	return -1
}

// defaultPoles returns the even multipoles 0, 2, 4 truncated to n columns.
func defaultPoles(n int) []int {
	poles := make([]int, n)
	for i := range poles {
		poles[i] = 2 * i
	}
	return poles
}

// Validate checks that every table in the archive is consistently shaped.
func (a *Archive) Validate() error {
	if len(a.Branches) == 0 {
		return eris.Errorf("archive %q: no branches", a.Name)
	}
	npoles := -1
	for _, b := range Branches {
		e, ok := a.Branches[b]
		if !ok {
			continue
		}
		var rows, cols int
		for i, r := range e.Realisations {
			rr, cc := r.Dims()
			if i == 0 {
				rows, cols = rr, cc
				if cols < 2 {
					return eris.Errorf("archive %q: %s realisation 0 has %d columns, need at least 2", a.Name, b, cols)
				}
				continue
			}
			if rr != rows || cc != cols {
				return eris.Errorf("archive %q: %s realisation %d is %dx%d, want %dx%d", a.Name, b, i, rr, cc, rows, cols)
			}
		}
		if len(e.Realisations) > 0 {
			if npoles == -1 {
				npoles = cols - 1
			} else if cols-1 != npoles {
				return eris.Errorf("archive %q: %s has %d multipoles, other branch has %d", a.Name, b, cols-1, npoles)
			}
		}
		if e.Cov != nil && len(e.Realisations) > 0 {
			cr, cc := e.Cov.Dims()
			want := (cols - 1) * rows
			if cr != want || cc != want {
				return eris.Errorf("archive %q: %s cov is %dx%d, want %dx%d", a.Name, b, cr, cc, want, want)
			}
		}
		if e.Observed != nil {
			orows, oc := e.Observed.Dims()
			if oc < 2 {
				return eris.Errorf("archive %q: %s observed table has %d columns, need at least 2", a.Name, b, oc)
			}
			if len(e.Realisations) > 0 && oc > cols {
				return eris.Errorf("archive %q: %s observed table has %d columns, mocks have %d", a.Name, b, oc, cols)
			}
			if e.Cov != nil && len(e.Realisations) > 0 && orows != rows {
				return eris.Errorf("archive %q: %s observed table has %d rows, mocks and cov have %d", a.Name, b, orows, rows)
			}
		}
	}
	if npoles > 0 {
		if len(a.Poles) == 0 {
			a.Poles = defaultPoles(npoles)
		}
		if len(a.Poles) != npoles {
			return eris.Errorf("archive %q: %d pole labels for %d multipole columns", a.Name, len(a.Poles), npoles)
		}
	}
	return nil
}

// Load reads the archive at path. The file is closed before Load returns.
func Load(path string) (*Archive, error) {
	var (
		a   *Archive
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h5", ".hdf5":
		a, err = ReadHDF5(path)
	case ".json":
		a, err = ReadJSON(path)
	default:
		return nil, eris.Errorf("archive: unsupported file extension %q (valid: .h5, .hdf5, .json)", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Save writes the archive to path, choosing the encoding from the extension.
func Save(path string, a *Archive) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h5", ".hdf5":
		return WriteHDF5(path, a)
	case ".json":
		return WriteJSON(path, a)
	default:
		return eris.Errorf("archive: unsupported file extension %q (valid: .h5, .hdf5, .json)", filepath.Ext(path))
	}
}

var extensions = []string{".h5", ".hdf5", ".json"}

// Find returns the first archive file named base under dir.
func Find(dir, base string) (string, error) {
	for _, ext := range extensions {
		p := filepath.Join(dir, base+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", eris.Wrapf(ErrNotFound, "no %s{.h5,.hdf5,.json} in %s", base, dir)
}
