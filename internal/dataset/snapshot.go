package dataset

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// Snapshot is a self-contained copy of a dataset's state, handed to the fitting layer. Later
// changes to the dataset do not affect it.
type Snapshot struct {
	Name string
	Kind Kind
	// X holds the masked independent variable (distances or wavenumbers).
	X []float64
	// Poles and Multipoles are aligned: Multipoles[i] holds the masked values of Poles[i].
	Poles       []int
	Multipoles  [][]float64
	Cov         *mat.SymDense
	ICov        *mat.SymDense
	Cosmology   map[string]float64
	NumMocks    int
	Realisation Realisation
	Recon       Recon
}

// Source produces fitting snapshots. A single dataset yields one; composites yield one per
// constituent.
type Source interface {
	Name() string
	Snapshots() []Snapshot
}

// Snapshots returns the dataset's single snapshot.
func (d *Dataset) Snapshots() []Snapshot {
	rows, cols := d.data.Dims()
	x := make([]float64, rows)
	mat.Col(x, 0, d.data)

	// The multipole count follows the working table width.
	npoles := cols - 1
	poles := make([]int, npoles)
	values := make([][]float64, npoles)
	for i := 0; i < npoles; i++ {
		poles[i] = d.poles[i]
		values[i] = make([]float64, rows)
		mat.Col(values[i], i+1, d.data)
	}

	return []Snapshot{{
		Name:        d.name,
		Kind:        d.opts.Kind,
		X:           x,
		Poles:       poles,
		Multipoles:  values,
		Cov:         copySym(d.cov),
		ICov:        copySym(d.icov),
		Cosmology:   d.Cosmology(),
		NumMocks:    d.NumMocks(),
		Realisation: d.opts.Realisation,
		Recon:       d.opts.Recon,
	}}
}

func copySym(s *mat.SymDense) *mat.SymDense {
	if s == nil {
		return nil
	}
	out := mat.NewSymDense(s.SymmetricDim(), nil)
	out.CopySym(s)
	return out
}

// Multipole returns the values of pole, if retained.
func (s Snapshot) Multipole(pole int) ([]float64, bool) {
	i := slices.Index(s.Poles, pole)
	if i < 0 {
		return nil, false
	}
	return s.Multipoles[i], true
}

// Vector returns the multipole-major data vector whose ordering matches Cov.
func (s Snapshot) Vector() []float64 {
	var v []float64
	for _, m := range s.Multipoles {
		v = append(v, m...)
	}
	return v
}

// Map returns the snapshot keyed the way the fitting layer consumes it: the independent
// variable ("dist" or "ks"), "cov", "icov", "name", "cosmology", "num_mocks" and one entry per
// retained multipole ("xi0", "pk2", ...).
func (s Snapshot) Map() map[string]any {
	m := map[string]any{
		s.Kind.XLabel(): slices.Clone(s.X),
		"cov":           symRows(s.Cov),
		"icov":          symRows(s.ICov),
		"name":          s.Name,
		"cosmology":     maps.Clone(s.Cosmology),
		"num_mocks":     s.NumMocks,
		"realisation":   s.Realisation.String(),
		"recon":         string(s.Recon),
	}
	for i, p := range s.Poles {
		m[s.Kind.PoleLabel(p)] = slices.Clone(s.Multipoles[i])
	}
	return m
}

// MarshalJSON encodes Map.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(s.Map())
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: marshal")
	}
	return b, nil
}

func symRows(s *mat.SymDense) [][]float64 {
	if s == nil {
		return nil
	}
	n := s.SymmetricDim()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = s.At(i, j)
		}
	}
	return rows
}

// Composite aggregates several sources, e.g. the two galactic caps of one survey, and returns
// one snapshot per constituent.
type Composite struct {
	name  string
	parts []Source
}

// NewComposite groups parts under name.
func NewComposite(name string, parts ...Source) (*Composite, error) {
	if len(parts) == 0 {
		return nil, eris.Wrapf(ErrConfig, "composite %q has no constituents", name)
	}
	return &Composite{name: name, parts: parts}, nil
}

// Name returns the composite's display name.
func (c *Composite) Name() string { return c.name }

// Parts returns the constituents.
func (c *Composite) Parts() []Source { return slices.Clone(c.parts) }

// Snapshots concatenates the constituents' snapshots in order.
func (c *Composite) Snapshots() []Snapshot {
	var out []Snapshot
	for _, p := range c.parts {
		out = append(out, p.Snapshots()...)
	}
	return out
}
