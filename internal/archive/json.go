package archive

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// jsonArchive mirrors the logical archive schema with per-branch keys.
type jsonArchive struct {
	Name      string             `json:"name"`
	Cosmology map[string]float64 `json:"cosmology"`
	Poles     []int              `json:"poles,omitempty"`

	PreRecon      [][][]float64 `json:"pre-recon,omitempty"`
	PostRecon     [][][]float64 `json:"post-recon,omitempty"`
	PreReconCov   [][]float64   `json:"pre-recon cov,omitempty"`
	PostReconCov  [][]float64   `json:"post-recon cov,omitempty"`
	PreReconData  [][]float64   `json:"pre-recon data,omitempty"`
	PostReconData [][]float64   `json:"post-recon data,omitempty"`
}

// ReadJSON decodes a JSON archive.
func ReadJSON(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "archive: open %s", path)
	}
	defer f.Close()

	var ja jsonArchive
	if err := json.NewDecoder(f).Decode(&ja); err != nil {
		return nil, eris.Wrapf(err, "archive: decode %s", path)
	}

	a := &Archive{
		Name:      ja.Name,
		Cosmology: ja.Cosmology,
		Poles:     ja.Poles,
		Branches:  make(map[Branch]*Ensemble),
	}
	for _, b := range []struct {
		branch   Branch
		reals    [][][]float64
		cov      [][]float64
		observed [][]float64
	}{
		{PreRecon, ja.PreRecon, ja.PreReconCov, ja.PreReconData},
		{PostRecon, ja.PostRecon, ja.PostReconCov, ja.PostReconData},
	} {
		if b.reals == nil && b.cov == nil && b.observed == nil {
			continue
		}
		e := &Ensemble{}
		for i, r := range b.reals {
			m, err := denseFromRows(r)
			if err != nil {
				return nil, eris.Wrapf(err, "archive: %s realisation %d", b.branch, i)
			}
			e.Realisations = append(e.Realisations, m)
		}
		if b.cov != nil {
			if e.Cov, err = denseFromRows(b.cov); err != nil {
				return nil, eris.Wrapf(err, "archive: %s cov", b.branch)
			}
		}
		if b.observed != nil {
			if e.Observed, err = denseFromRows(b.observed); err != nil {
				return nil, eris.Wrapf(err, "archive: %s data", b.branch)
			}
		}
		a.Branches[b.branch] = e
	}
	return a, nil
}

// WriteJSON encodes a to path.
func WriteJSON(path string, a *Archive) error {
	ja := jsonArchive{
		Name:      a.Name,
		Cosmology: a.Cosmology,
		Poles:     a.Poles,
	}
	if e, ok := a.Branches[PreRecon]; ok {
		ja.PreRecon, ja.PreReconCov, ja.PreReconData = ensembleRows(e)
	}
	if e, ok := a.Branches[PostRecon]; ok {
		ja.PostRecon, ja.PostReconCov, ja.PostReconData = ensembleRows(e)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "archive: create %s", path)
	}
	if err := json.NewEncoder(f).Encode(&ja); err != nil {
		f.Close()
		return eris.Wrapf(err, "archive: encode %s", path)
	}
	return eris.Wrapf(f.Close(), "archive: close %s", path)
}

func ensembleRows(e *Ensemble) (reals [][][]float64, cov, observed [][]float64) {
	reals = make([][][]float64, 0, len(e.Realisations))
	for _, r := range e.Realisations {
		reals = append(reals, rowsFromDense(r))
	}
	if e.Cov != nil {
		cov = rowsFromDense(e.Cov)
	}
	if e.Observed != nil {
		observed = rowsFromDense(e.Observed)
	}
	return reals, cov, observed
}

// denseFromRows converts a rectangular row slice into a Dense matrix.
func denseFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, eris.New("empty table")
	}
	c := len(rows[0])
	data := make([]float64, 0, len(rows)*c)
	for i, row := range rows {
		if len(row) != c {
			return nil, eris.Errorf("row %d has %d columns, want %d", i, len(row), c)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), c, data), nil
}

func rowsFromDense(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = make([]float64, c)
		mat.Row(rows[i], i, m)
	}
	return rows
}
